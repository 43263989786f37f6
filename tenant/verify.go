package tenant

import (
	"context"
	"fmt"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/kit/tracing"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Items reported as missing by the verifier.
const (
	ItemRootOrganization  = "rootOrganization"
	ItemAdminUser         = "adminUser"
	ItemSuperAdminRole    = "superAdminRole"
	ItemRoleAssignment    = "roleAssignment"
	ItemMembership        = "organizationMembership"
	ItemResponsiblePerson = "responsiblePerson"
	ItemSubscription      = "subscription"
	ItemCreditLedger      = "creditLedger"
	itemEntitlementPrefix = "entitlement:"
)

// EntitlementItem names the missing entitlement of an application.
func EntitlementItem(appCode string) string {
	return itemEntitlementPrefix + appCode
}

// Verifier re-reads a committed tenant and is the only writer of its
// onboarding completed flag.
type Verifier struct {
	store *Store
	fixer *AutoFixer
	log   *zap.Logger
}

func NewVerifier(store *Store, fixer *AutoFixer, log *zap.Logger) *Verifier {
	return &Verifier{
		store: store,
		fixer: fixer,
		log:   log,
	}
}

// Verify checks that every record a completed tenant needs exists and is consistent.
func (v *Verifier) Verify(ctx context.Context, tenantID platform.ID, p plan.Plan) (*onboarding.Verification, error) {
	ver := &onboarding.Verification{ApplicationAssignments: map[string][]string{}}
	err := v.store.View(ctx, func(tx *sqlite.Tx) error {
		return v.verify(ctx, tx, tenantID, p, ver)
	})
	if err != nil {
		return nil, err
	}
	ver.Verified = ver.Complete()
	return ver, nil
}

func (v *Verifier) verify(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, p plan.Plan, ver *onboarding.Verification) error {
	s := v.store
	missing := func(item string) { ver.MissingItems = append(ver.MissingItems, item) }
	critical := func(format string, args ...interface{}) {
		ver.CriticalIssues = append(ver.CriticalIssues, fmt.Sprintf(format, args...))
	}

	t, err := s.GetTenant(ctx, tx, tenantID)
	if err != nil {
		return err
	}

	var org *onboarding.Organization
	orgs, err := s.ListRootOrganizations(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	switch len(orgs) {
	case 0:
		missing(ItemRootOrganization)
	case 1:
		org = orgs[0]
		if !org.IsRoot() {
			critical("root organization %s has level %d and path %q", org.ID, org.EntityLevel, org.HierarchyPath)
		}
	default:
		critical("tenant has %d root organizations", len(orgs))
	}

	u, err := s.FindUserByExternalID(ctx, tx, tenantID, t.AdminExternalID)
	switch {
	case err == ErrUserNotFound:
		missing(ItemAdminUser)
	case err != nil:
		return err
	case !u.IsTenantAdmin:
		critical("admin user %s is not flagged as tenant admin", u.ID)
	}

	role, err := s.FindRoleByName(ctx, tx, tenantID, onboarding.SuperAdminRoleName)
	switch {
	case err == ErrRoleNotFound:
		missing(ItemSuperAdminRole)
	case err != nil:
		return err
	default:
		n, err := s.CountRoles(ctx, tx, tenantID, onboarding.SuperAdminRoleName)
		if err != nil {
			return err
		}
		if n > 1 {
			critical("tenant has %d super admin roles", n)
		}
	}

	if u != nil && org != nil {
		if role == nil {
			missing(ItemRoleAssignment)
		} else if a, err := s.FindRoleAssignment(ctx, tx, tenantID, u.ID, role.ID, org.ID); err != nil {
			return err
		} else if a == nil {
			missing(ItemRoleAssignment)
		}

		if m, err := s.FindMembership(ctx, tx, tenantID, u.ID, org.ID); err != nil {
			return err
		} else if m == nil {
			missing(ItemMembership)
		}

		if rp, err := s.FindResponsiblePerson(ctx, tx, tenantID, u.ID, org.ID); err != nil {
			return err
		} else if rp == nil {
			missing(ItemResponsiblePerson)
		}
	}

	if _, err := s.FindSubscription(ctx, tx, tenantID); err == ErrSubscriptionNotFound {
		missing(ItemSubscription)
	} else if err != nil {
		return err
	}

	if org != nil {
		if err := v.verifyCredits(ctx, tx, tenantID, org.ID, p, missing, critical); err != nil {
			return err
		}
	}

	return v.verifyEntitlements(ctx, tx, tenantID, p, ver, missing, critical)
}

func (v *Verifier) verifyCredits(ctx context.Context, tx *sqlite.Tx, tenantID, orgID platform.ID, p plan.Plan, missing func(string), critical func(string, ...interface{})) error {
	txns, err := v.store.ListCreditTransactions(ctx, tx, tenantID, orgID)
	if err != nil {
		return err
	}
	var sum int64
	for _, ct := range txns {
		sum += ct.Amount
		if ct.NewBalance != ct.PreviousBalance+ct.Amount {
			critical("credit transaction %s does not add up", ct.ID)
		}
	}

	l, err := v.store.GetCreditLedger(ctx, tx, tenantID, orgID)
	switch {
	case err == ErrCreditLedgerNotFound:
		if p.Credits > 0 || len(txns) > 0 {
			missing(ItemCreditLedger)
		}
	case err != nil:
		return err
	case l.AvailableCredits != sum:
		critical("credit ledger balance %d does not equal transaction total %d", l.AvailableCredits, sum)
	case p.Credits > 0 && l.AvailableCredits < p.Credits:
		critical("credit ledger balance %d is below the %s plan grant %d", l.AvailableCredits, p.ID, p.Credits)
	}
	return nil
}

func (v *Verifier) verifyEntitlements(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, p plan.Plan, ver *onboarding.Verification, missing func(string), critical func(string, ...interface{})) error {
	ents, err := v.store.ListEntitlements(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	byApp := make(map[string][]*onboarding.Entitlement, len(ents))
	for _, e := range ents {
		byApp[e.AppCode] = append(byApp[e.AppCode], e)
	}

	for _, code := range p.Applications {
		app, err := v.store.FindApplicationByCode(ctx, tx, code)
		if err == ErrApplicationNotFound || (err == nil && !app.IsActive) {
			continue
		}
		if err != nil {
			return err
		}

		rows := byApp[code]
		switch {
		case len(rows) == 0:
			missing(EntitlementItem(code))
			continue
		case len(rows) > 1:
			critical("application %s has %d entitlements", code, len(rows))
		}
		for _, m := range rows[0].EnabledModules {
			if m == plan.Wildcard {
				critical("entitlement for %s holds an unexpanded wildcard", code)
				break
			}
		}
		ver.ApplicationAssignments[code] = rows[0].EnabledModules
	}
	return nil
}

// VerifyAndComplete verifies the tenant, runs one auto-fix pass and a second
// verification when something is missing, and marks the tenant onboarded only
// when the final verification passes. The tenant is left incomplete otherwise
// and the returned error lists every problem.
func (v *Verifier) VerifyAndComplete(ctx context.Context, tenantID platform.ID, p plan.Plan) (*onboarding.Verification, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	ver, err := v.Verify(ctx, tenantID, p)
	if err != nil {
		return nil, tracing.LogError(span, err)
	}

	if !ver.Complete() {
		log := v.log.With(zap.Stringer("tenant_id", tenantID))
		log.Warn("Tenant verification incomplete, attempting auto-fix", zap.Strings("problems", ver.Problems()))

		var fixErr error
		if v.fixer != nil {
			fixed, err := v.fixer.Fix(ctx, tenantID, p)
			if err != nil {
				log.Warn("Auto-fix failed", zap.Error(err))
				fixErr = err
			} else {
				log.Info("Auto-fix applied", zap.Strings("fixed", fixed))
			}
		}

		ver, err = v.Verify(ctx, tenantID, p)
		if err != nil {
			return nil, tracing.LogError(span, err)
		}
		if !ver.Complete() {
			errs := []error{fixErr}
			for _, item := range ver.MissingItems {
				errs = append(errs, fmt.Errorf("missing %s", item))
			}
			for _, issue := range ver.CriticalIssues {
				errs = append(errs, fmt.Errorf("critical: %s", issue))
			}
			return ver, tracing.LogError(span, VerificationFailedError(ver, multierr.Combine(errs...)))
		}
	}

	err = v.store.Update(ctx, func(tx *sqlite.Tx) error {
		if err := tx.SetTenantContext(tenantID); err != nil {
			return err
		}
		return v.store.MarkOnboardingCompleted(ctx, tx)
	})
	if err != nil {
		return ver, tracing.LogError(span, err)
	}
	ver.Verified = true
	return ver, nil
}
