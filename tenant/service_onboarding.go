package tenant

import (
	"context"
	"sync"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/identity"
	"github.com/influxdata/onboarding/kit/platform"
	ierrors "github.com/influxdata/onboarding/kit/platform/errors"
	"github.com/influxdata/onboarding/kit/tracing"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/retry"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

const defaultPublishErrorBuffer = 64

// ProvisionPublisher notifies downstream applications of a completed tenant.
type ProvisionPublisher interface {
	PublishProvisioned(ctx context.Context, tenantID platform.ID) ([]events.Outcome, error)
}

// OnboardServiceConfig configures an OnboardService.
type OnboardServiceConfig struct {
	Mode                plan.Mode
	RedirectURLTemplate string
	// PublishErrorBuffer is the capacity of the PublishErrors channel.
	PublishErrorBuffer int
}

// OnboardService runs the onboarding saga.
type OnboardService struct {
	store       *Store
	plans       *plan.Resolver
	gate        *Gate
	provisioner *identity.Provisioner
	builder     *Builder
	verifier    *Verifier
	retries     retry.Store
	publisher   ProvisionPublisher
	log         *zap.Logger

	wg          sync.WaitGroup
	publishErrs chan error
}

var _ onboarding.OnboardingService = (*OnboardService)(nil)

// NewOnboardService wires the saga. publisher may be nil, in which case no
// events are sent.
func NewOnboardService(st *Store, plans *plan.Resolver, provisioner *identity.Provisioner, retries retry.Store, publisher ProvisionPublisher, cfg OnboardServiceConfig, log *zap.Logger) *OnboardService {
	if cfg.Mode == "" {
		cfg.Mode = plan.ModeProduction
	}
	if cfg.PublishErrorBuffer <= 0 {
		cfg.PublishErrorBuffer = defaultPublishErrorBuffer
	}
	builder := NewBuilder(st, cfg.Mode, log)
	return &OnboardService{
		store:       st,
		plans:       plans,
		gate:        NewGate(st, plans, cfg.RedirectURLTemplate, log),
		provisioner: provisioner,
		builder:     builder,
		verifier:    NewVerifier(st, NewAutoFixer(st, builder, log), log),
		retries:     retries,
		publisher:   publisher,
		log:         log,
		publishErrs: make(chan error, cfg.PublishErrorBuffer),
	}
}

// RunOnboardingSaga validates req, provisions the external identities, builds
// the tenant in one transaction, verifies it and marks it onboarded. Failures
// after validation are stored as retry state keyed by the caller identity and
// email; success clears it. Provisioning events are published in the
// background once the result is computed.
func (s *OnboardService) RunOnboardingSaga(ctx context.Context, req *onboarding.OnboardingRequest) (*onboarding.OnboardingResult, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	if req == nil {
		return nil, ErrOnboardInvalid
	}

	caller := CallerIdentity(req)
	rec, err := s.retries.Get(ctx, caller, req.NormalizedEmail())
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	if rec != nil && req.Resume {
		req = prefill(req, rec)
	}

	v, err := s.gate.Validate(ctx, req)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}

	log := s.log.With(zap.String("admin_email", v.Request.AdminEmail))
	switch v.Decision {
	case DecisionValid:
	case DecisionResume:
		return s.resume(ctx, v)
	case DecisionAlreadyOnboarded:
		log.Debug("Tenant already onboarded", zap.Stringer("tenant_id", v.Tenant.ID))
		if rec != nil {
			s.clearRetryState(ctx, v.CallerIdentity, v.Request.AdminEmail)
		}
		return v.Result(), nil
	default:
		log.Debug("Onboarding request rejected", zap.String("decision", string(v.Decision)), zap.String("field", v.Field))
		return v.Result(), nil
	}

	var orgCode string
	if rec != nil && !identity.IsFallbackOrganization(rec.OrganizationCode) {
		orgCode = rec.OrganizationCode
	}
	idn := s.provisioner.Provision(ctx, identity.Request{
		CompanyName:      v.Request.CompanyName,
		Subdomain:        v.Subdomain,
		AdminEmail:       v.Request.AdminEmail,
		AdminName:        v.Request.AdminName,
		CallerIdentity:   v.CallerIdentity,
		OrganizationCode: orgCode,
	})
	if len(idn.Degraded) > 0 {
		log.Warn("External identity provisioning degraded",
			zap.String("kind", string(onboarding.KindExternalProvisioningDegraded)),
			zap.Strings("operations", idn.Degraded),
			zap.Bool("used_fallback", idn.UsedFallback))
	}

	res, err := s.builder.Build(ctx, BuildInput{
		Request:   v.Request,
		Plan:      v.Plan,
		Subdomain: v.Subdomain,
		Identity:  idn,
	})
	if err != nil {
		log.Error("Tenant transaction failed", zap.String("step", ierrors.ErrorOp(err)), zap.Error(err))
		return s.fail(ctx, v, idn.OrganizationCode, &onboarding.Failure{
			Kind:    onboarding.KindTransactionFailed,
			Message: err.Error(),
			Step:    ierrors.ErrorOp(err),
		}), nil
	}
	if len(res.Skipped) > 0 {
		log.Warn("Plan applications not in registry", zap.Strings("app_codes", res.Skipped))
	}

	ver, err := s.verifier.VerifyAndComplete(ctx, res.Tenant.ID, v.Plan)
	if err != nil {
		return s.verificationFailed(ctx, v, idn.OrganizationCode, res.Tenant.ID, ver, err), nil
	}

	s.clearRetryState(ctx, v.CallerIdentity, v.Request.AdminEmail)

	result := &onboarding.OnboardingResult{
		Status:           onboarding.StatusCompleted,
		Success:          true,
		TenantID:         res.Tenant.ID,
		OrganizationID:   res.Organization.ID,
		AdminUserID:      res.AdminUser.ID,
		SubscriptionID:   res.Subscription.ID,
		CreditsAllocated: res.CreditsAllocated,
		OrganizationCode: idn.OrganizationCode,
		UsedFallback:     idn.UsedFallback,
		Verification:     ver,
	}
	log.Info("Tenant onboarded",
		zap.Stringer("tenant_id", result.TenantID),
		zap.String("subdomain", v.Subdomain),
		zap.String("plan", v.Plan.ID))

	s.publishAsync(ctx, result.TenantID)
	return result, nil
}

// resume completes a tenant whose earlier attempt committed but failed verification.
func (s *OnboardService) resume(ctx context.Context, v *Validation) (*onboarding.OnboardingResult, error) {
	t := v.Tenant
	p, err := s.plans.Resolve(t.Plan)
	if err != nil {
		p = v.Plan
	}

	ver, err := s.verifier.VerifyAndComplete(ctx, t.ID, p)
	if err != nil {
		return s.verificationFailed(ctx, v, t.ExternalOrgRef, t.ID, ver, err), nil
	}
	s.clearRetryState(ctx, v.CallerIdentity, v.Request.AdminEmail)

	snap, err := s.store.TenantSnapshot(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Resumed onboarding completed", zap.Stringer("tenant_id", t.ID))

	result := &onboarding.OnboardingResult{
		Status:           onboarding.StatusCompleted,
		Success:          true,
		TenantID:         t.ID,
		OrganizationID:   snap.Organization.ID,
		AdminUserID:      snap.AdminUser.ID,
		SubscriptionID:   snap.Subscription.ID,
		CreditsAllocated: snap.CreditBalance,
		OrganizationCode: t.ExternalOrgRef,
		UsedFallback:     t.Settings.UsedFallback,
		Verification:     ver,
	}
	s.publishAsync(ctx, t.ID)
	return result, nil
}

func (s *OnboardService) verificationFailed(ctx context.Context, v *Validation, orgCode string, tenantID platform.ID, ver *onboarding.Verification, err error) *onboarding.OnboardingResult {
	f := &onboarding.Failure{
		Kind:    onboarding.KindVerificationFailed,
		Message: err.Error(),
		Step:    onboarding.OpVerifyTenant,
	}
	if ver != nil {
		f.MissingItems = ver.Problems()
	} else {
		f.Step = onboarding.OpCompleteOnboarding
	}
	s.log.Error("Tenant verification failed",
		zap.Stringer("tenant_id", tenantID),
		zap.Strings("missing_items", f.MissingItems),
		zap.Error(err))
	return s.fail(ctx, v, orgCode, f)
}

// fail stores the retry state of a failed attempt and returns the Failed result.
func (s *OnboardService) fail(ctx context.Context, v *Validation, orgCode string, f *onboarding.Failure) *onboarding.OnboardingResult {
	f.Retryable = f.Kind.Retryable()

	rec := &retry.Record{
		ExternalID: v.CallerIdentity,
		Email:      v.Request.AdminEmail,
		Payload:    *v.Request,
		Kind:       f.Kind,
		Step:       f.Step,
		Reason:     f.Message,
	}
	if !identity.IsFallbackOrganization(orgCode) {
		rec.OrganizationCode = orgCode
	}
	// the failed transaction has already rolled back; Put runs on its own
	if err := s.retries.Put(ctx, rec); err != nil {
		s.log.Error("Failed to store onboarding retry state",
			zap.String("admin_email", rec.Email), zap.Error(err))
	}
	return onboarding.FailedResult(f)
}

// clearRetryState removes the attempts recorded for email under externalID
// and under the anonymous key.
func (s *OnboardService) clearRetryState(ctx context.Context, externalID, email string) {
	keys := []string{externalID}
	if externalID != "" {
		keys = append(keys, "")
	}
	for _, id := range keys {
		if err := s.retries.Delete(ctx, id, email); err != nil {
			s.log.Warn("Failed to delete onboarding retry state",
				zap.String("admin_email", email), zap.Error(err))
		}
	}
}

// prefill returns a copy of req whose blank fields are taken from the stored attempt.
func prefill(req *onboarding.OnboardingRequest, rec *retry.Record) *onboarding.OnboardingRequest {
	out := *req
	stored := rec.Payload
	if out.Type == "" {
		out.Type = stored.Type
	}
	if out.CompanyName == "" {
		out.CompanyName = stored.CompanyName
	}
	if out.Subdomain == "" {
		out.Subdomain = stored.Subdomain
	}
	if out.AdminName == "" {
		out.AdminName = stored.AdminName
	}
	if out.Plan == "" {
		out.Plan = stored.Plan
	}
	if out.ExternalID == "" {
		out.ExternalID = stored.ExternalID
	}
	if len(out.Answers) == 0 {
		out.Answers = stored.Answers
	}
	return &out
}

// GetRetryState returns the stored attempt for (externalID, email), or nil.
func (s *OnboardService) GetRetryState(ctx context.Context, externalID, email string) (*retry.Record, error) {
	return s.retries.Get(ctx, externalID, email)
}

// ListIncompleteTenants returns tenants whose onboarding committed but never completed.
func (s *OnboardService) ListIncompleteTenants(ctx context.Context) ([]*onboarding.Tenant, error) {
	return s.store.ListIncomplete(ctx)
}

// RepairTenant runs the verification and auto-fix pass against an incomplete
// tenant, and publishes its provisioning events once it completes.
func (s *OnboardService) RepairTenant(ctx context.Context, tenantID platform.ID) (*onboarding.Verification, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	var t *onboarding.Tenant
	err := s.store.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		t, err = s.store.GetTenant(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return nil, tracing.LogError(span, err)
	}

	p, err := s.plans.Resolve(t.Plan)
	if err != nil {
		return nil, tracing.LogError(span, &ierrors.Error{
			Code: ierrors.EInvalid,
			Op:   onboarding.OpRepairTenant,
			Msg:  "tenant plan " + t.Plan + " is not configured",
			Err:  err,
		})
	}

	if t.OnboardingCompleted {
		return s.verifier.Verify(ctx, tenantID, p)
	}

	ver, err := s.verifier.VerifyAndComplete(ctx, tenantID, p)
	if err != nil {
		return ver, tracing.LogError(span, err)
	}
	s.clearRetryState(ctx, t.AdminExternalID, t.AdminEmail)
	s.log.Info("Tenant repaired", zap.Stringer("tenant_id", tenantID))

	s.publishAsync(ctx, tenantID)
	return ver, nil
}

// PublishErrors reports failed provisioning publishes. Errors are dropped
// when nobody drains the channel and it is full.
func (s *OnboardService) PublishErrors() <-chan error {
	return s.publishErrs
}

// Wait blocks until every background publish has finished.
func (s *OnboardService) Wait() {
	s.wg.Wait()
}

func (s *OnboardService) publishAsync(ctx context.Context, tenantID platform.ID) {
	if s.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		outcomes, err := s.publisher.PublishProvisioned(ctx, tenantID)
		if err != nil {
			s.reportPublishError(&ierrors.Error{
				Code: ierrors.EUnavailable,
				Op:   onboarding.OpPublishProvisioned,
				Msg:  "failed to read tenant " + tenantID.String() + " for publishing",
				Err:  err,
			})
			return
		}
		for _, o := range outcomes {
			if o.Err == nil {
				continue
			}
			s.reportPublishError(&ierrors.Error{
				Code: ierrors.EUnavailable,
				Op:   onboarding.OpPublishProvisioned,
				Msg:  o.EventType + " to " + o.Target + " failed for tenant " + tenantID.String(),
				Err:  o.Err,
			})
		}
	}()
}

func (s *OnboardService) reportPublishError(err error) {
	s.log.Warn("Provisioning event not delivered",
		zap.String("kind", string(onboarding.KindEventPublishFailed)), zap.Error(err))
	select {
	case s.publishErrs <- err:
	default:
	}
}
