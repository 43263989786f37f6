package tenant

import (
	"context"
	"time"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/identity"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/kit/tracing"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

// Builder steps, reported as the Op of a failed build.
const (
	StepCreateTenant       = "createTenant"
	StepCreateOrganization = "createRootOrganization"
	StepCreateAdminUser    = "createAdminUser"
	StepAssignOwner        = "assignOrganizationOwner"
	StepCreateRole         = "createSuperAdminRole"
	StepBindAdmin          = "bindAdmin"
	StepCreateSubscription = "createSubscription"
	StepGrantCredits       = "grantCredits"
	StepCreateEntitlements = "createEntitlements"
)

const defaultBillingPeriodMonths = 1

// BuildInput is everything the builder needs for one tenant.
type BuildInput struct {
	Request   *onboarding.OnboardingRequest
	Plan      plan.Plan
	Subdomain string
	Identity  *identity.Result
}

// BuildResult holds the rows written by a build.
type BuildResult struct {
	Tenant           *onboarding.Tenant
	Organization     *onboarding.Organization
	AdminUser        *onboarding.User
	Role             *onboarding.Role
	Subscription     *onboarding.Subscription
	CreditsAllocated int64
	Entitlements     []*onboarding.Entitlement
	// Skipped lists plan applications missing from the registry.
	Skipped []string
}

// Builder writes a tenant and all of its child records in one transaction.
type Builder struct {
	store *Store
	mode  plan.Mode
	log   *zap.Logger
}

func NewBuilder(store *Store, mode plan.Mode, log *zap.Logger) *Builder {
	return &Builder{
		store: store,
		mode:  mode,
		log:   log,
	}
}

// Build runs every step in a single transaction. Nothing is visible unless
// all of them succeed.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	var res *BuildResult
	err := b.store.Update(ctx, func(tx *sqlite.Tx) error {
		var err error
		res, err = b.build(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, tracing.LogError(span, err)
	}
	return res, nil
}

func (b *Builder) build(ctx context.Context, tx *sqlite.Tx, in BuildInput) (*BuildResult, error) {
	s := b.store
	req, p, idn := in.Request, in.Plan, in.Identity
	res := &BuildResult{}

	// 1. tenant with plan snapshot
	t := &onboarding.Tenant{
		Name:            req.CompanyName,
		Subdomain:       in.Subdomain,
		ExternalOrgRef:  idn.OrganizationCode,
		AdminEmail:      req.NormalizedEmail(),
		AdminExternalID: idn.AdminIdentity.ExternalID,
		Plan:            p.ID,
		Settings: onboarding.TenantSettings{
			Plan:           p.ID,
			PlanName:       p.Name,
			Tier:           p.Tier,
			Applications:   append([]string(nil), p.Applications...),
			Modules:        p.ModuleSnapshot(),
			Credits:        p.Credits,
			TrialDays:      p.TrialDays(b.mode),
			Mode:           string(b.mode),
			OnboardingType: req.Type,
			UsedFallback:   idn.UsedFallback,
		},
	}
	if err := s.CreateTenant(ctx, tx, t); err != nil {
		return nil, stepError(StepCreateTenant, err)
	}
	if err := tx.SetTenantContext(t.ID); err != nil {
		return nil, stepError(StepCreateTenant, err)
	}
	res.Tenant = t

	// 2. root organization; its owner does not exist yet
	adminID := s.newID()
	org := &onboarding.Organization{Name: req.CompanyName}
	if err := s.CreateRootOrganization(ctx, tx, org); err != nil {
		return nil, stepError(StepCreateOrganization, err)
	}
	res.Organization = org

	// 3. admin user
	u := &onboarding.User{
		ID:            adminID,
		ExternalID:    idn.AdminIdentity.ExternalID,
		Email:         req.NormalizedEmail(),
		Name:          req.AdminName,
		IsTenantAdmin: true,
		IsVerified:    true,
		Preferences:   onboardingPreferences(req),
	}
	if err := s.CreateUser(ctx, tx, u); err != nil {
		return nil, stepError(StepCreateAdminUser, err)
	}
	res.AdminUser = u

	// 4. back-fill ownership
	if err := s.SetOrganizationOwner(ctx, tx, org.ID, u.ID); err != nil {
		return nil, stepError(StepAssignOwner, err)
	}
	org.CreatedBy, org.UpdatedBy = &u.ID, &u.ID

	// 5. role
	role, err := b.ensureSuperAdminRole(ctx, tx, t.ID, p)
	if err != nil {
		return nil, stepError(StepCreateRole, err)
	}
	res.Role = role

	// 6. assignment, membership, responsible person
	if _, err := b.ensureAdminBindings(ctx, tx, t.ID, u.ID, org.ID, role.ID); err != nil {
		return nil, stepError(StepBindAdmin, err)
	}

	// 7. subscription
	sub, err := b.ensureSubscription(ctx, tx, t.ID, p)
	if err != nil {
		return nil, stepError(StepCreateSubscription, err)
	}
	res.Subscription = sub

	// 8. credits
	granted, err := b.ensureCreditGrant(ctx, tx, t.ID, org.ID, p)
	if err != nil {
		return nil, stepError(StepGrantCredits, err)
	}
	res.CreditsAllocated = granted

	// 9. entitlements
	ents, skipped, err := b.ensureEntitlements(ctx, tx, t.ID, p, sub.TrialEndsAt)
	if err != nil {
		return nil, stepError(StepCreateEntitlements, err)
	}
	res.Entitlements, res.Skipped = ents, skipped

	return res, nil
}

func onboardingPreferences(req *onboarding.OnboardingRequest) onboarding.JSONMap {
	prefs := onboarding.JSONMap{}
	if len(req.Answers) > 0 {
		prefs["onboardingAnswers"] = req.Answers
	}
	return prefs
}

// The ensure helpers below write a record only when it is missing, so the
// auto-fixer can run them against a partially built tenant.

func (b *Builder) ensureSuperAdminRole(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, p plan.Plan) (*onboarding.Role, error) {
	role, err := b.store.FindRoleByName(ctx, tx, tenantID, onboarding.SuperAdminRoleName)
	if err == nil {
		return role, nil
	}
	if err != ErrRoleNotFound {
		return nil, err
	}
	role = &onboarding.Role{
		Name:        onboarding.SuperAdminRoleName,
		Permissions: p.PermissionSet(),
		IsSystem:    true,
	}
	if err := b.store.CreateRole(ctx, tx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ensureAdminBindings returns the names of the records it had to create.
func (b *Builder) ensureAdminBindings(ctx context.Context, tx *sqlite.Tx, tenantID, userID, orgID, roleID platform.ID) ([]string, error) {
	var created []string

	a, err := b.store.FindRoleAssignment(ctx, tx, tenantID, userID, roleID, orgID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		err := b.store.CreateRoleAssignment(ctx, tx, &onboarding.RoleAssignment{
			UserID:         userID,
			RoleID:         roleID,
			OrganizationID: orgID,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, ItemRoleAssignment)
	}

	m, err := b.store.FindMembership(ctx, tx, tenantID, userID, orgID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		err := b.store.CreateMembership(ctx, tx, &onboarding.OrganizationMembership{
			UserID:         userID,
			OrganizationID: orgID,
			IsPrimary:      true,
			AccessScope:    onboarding.AccessScopeFull,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, ItemMembership)
	}

	rp, err := b.store.FindResponsiblePerson(ctx, tx, tenantID, userID, orgID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		err := b.store.CreateResponsiblePerson(ctx, tx, &onboarding.ResponsiblePerson{
			UserID:         userID,
			OrganizationID: orgID,
			Responsibility: onboarding.ResponsibilityOwner,
			Scope:          onboarding.ResponsibilityScopeAll,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, ItemResponsiblePerson)
	}
	return created, nil
}

func (b *Builder) ensureSubscription(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, p plan.Plan) (*onboarding.Subscription, error) {
	sub, err := b.store.FindSubscription(ctx, tx, tenantID)
	if err == nil {
		return sub, nil
	}
	if err != ErrSubscriptionNotFound {
		return nil, err
	}

	now := b.store.now()
	sub = &onboarding.Subscription{
		Plan:               p.ID,
		Status:             onboarding.SubscriptionActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, defaultBillingPeriodMonths, 0),
		MaxUsers:           p.MaxUsers,
		MaxOrganizations:   p.MaxOrganizations,
		CreditAllowance:    p.Credits,
	}
	if days := p.TrialDays(b.mode); days > 0 {
		end := now.Add(time.Duration(days) * 24 * time.Hour)
		sub.Status = onboarding.SubscriptionTrialing
		sub.TrialEndsAt = &end
		sub.CurrentPeriodEnd = end
	}
	if err := b.store.CreateSubscription(ctx, tx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ensureCreditGrant grants the plan's credits unless a grant was already recorded.
func (b *Builder) ensureCreditGrant(ctx context.Context, tx *sqlite.Tx, tenantID, orgID platform.ID, p plan.Plan) (int64, error) {
	if p.Credits <= 0 {
		return 0, nil
	}
	txns, err := b.store.ListCreditTransactions(ctx, tx, tenantID, orgID)
	if err != nil {
		return 0, err
	}
	for _, ct := range txns {
		if ct.Kind == onboarding.CreditGrantKind {
			return ct.Amount, nil
		}
	}
	ct, err := b.store.GrantCredits(ctx, tx, orgID, p.Credits, "initial "+p.ID+" plan credit grant")
	if err != nil {
		return 0, err
	}
	return ct.Amount, nil
}

// ensureEntitlements makes sure every registered plan application has one
// entitlement. Applications missing from the registry are skipped.
func (b *Builder) ensureEntitlements(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, p plan.Plan, expiresAt *time.Time) ([]*onboarding.Entitlement, []string, error) {
	var (
		ents    []*onboarding.Entitlement
		skipped []string
	)
	tier := p.Tier
	if tier == "" {
		tier = p.ID
	}

	for _, code := range p.Applications {
		app, err := b.store.FindApplicationByCode(ctx, tx, code)
		if err == ErrApplicationNotFound || (err == nil && !app.IsActive) {
			b.log.Warn("Skipping entitlement for unregistered application",
				zap.String("app_code", code), zap.String("plan", p.ID), zap.Stringer("tenant_id", tenantID))
			skipped = append(skipped, code)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		existing, err := b.store.FindEntitlement(ctx, tx, tenantID, app.ID)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			ents = append(ents, existing)
			continue
		}

		registered, err := b.store.ListApplicationModules(ctx, tx, app.ID)
		if err != nil {
			return nil, nil, err
		}
		e := &onboarding.Entitlement{
			ApplicationID:    app.ID,
			AppCode:          app.Code,
			SubscriptionTier: tier,
			EnabledModules:   p.ModulesFor(code).Expand(registered),
			IsEnabled:        true,
			ExpiresAt:        expiresAt,
		}
		if err := b.store.CreateEntitlement(ctx, tx, e); err != nil {
			return nil, nil, err
		}
		ents = append(ents, e)
	}
	return ents, skipped, nil
}
