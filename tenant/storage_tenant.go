package tenant

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/sqlite"
)

// CreateTenant inserts t. The tenant context of tx is not required and not set.
func (s *Store) CreateTenant(ctx context.Context, tx *sqlite.Tx, t *onboarding.Tenant) error {
	if !t.ID.Valid() {
		t.ID = s.newID()
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt

	_, err := exec(ctx, tx, sq.Insert("tenants").
		Columns("id", "name", "subdomain", "external_org_ref", "admin_email", "admin_external_id", "plan", "onboarding_completed", "settings", "created_at", "updated_at").
		Values(t.ID, t.Name, t.Subdomain, t.ExternalOrgRef, t.AdminEmail, t.AdminExternalID, t.Plan, false, t.Settings, t.CreatedAt, t.UpdatedAt))
	if err != nil {
		if sqlite.IsUniqueConstraint(err) {
			return TenantAlreadyExistsError(conflictingTenantField(err), err)
		}
		return err
	}
	t.OnboardingCompleted = false
	return nil
}

func conflictingTenantField(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "tenants.admin_email"):
		return "adminEmail"
	case strings.Contains(msg, "tenants.subdomain"):
		return "subdomain"
	default:
		return "id"
	}
}

// GetTenant returns the tenant with id.
func (s *Store) GetTenant(ctx context.Context, tx *sqlite.Tx, id platform.ID) (*onboarding.Tenant, error) {
	return s.findTenant(ctx, tx, sq.Eq{"id": id})
}

// FindTenantByAdminEmail returns the tenant whose admin email is email.
func (s *Store) FindTenantByAdminEmail(ctx context.Context, tx *sqlite.Tx, email string) (*onboarding.Tenant, error) {
	return s.findTenant(ctx, tx, sq.Eq{"admin_email": strings.ToLower(strings.TrimSpace(email))})
}

// FindTenantBySubdomain returns the tenant using subdomain.
func (s *Store) FindTenantBySubdomain(ctx context.Context, tx *sqlite.Tx, subdomain string) (*onboarding.Tenant, error) {
	return s.findTenant(ctx, tx, sq.Eq{"subdomain": subdomain})
}

func (s *Store) findTenant(ctx context.Context, tx *sqlite.Tx, pred sq.Eq) (*onboarding.Tenant, error) {
	var t onboarding.Tenant
	if err := get(ctx, tx, &t, sq.Select("*").From("tenants").Where(pred)); err != nil {
		if sqlite.IsNotFound(err) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

// SubdomainExists reports whether a tenant uses subdomain.
func (s *Store) SubdomainExists(ctx context.Context, tx *sqlite.Tx, subdomain string) (bool, error) {
	var n int
	if err := get(ctx, tx, &n, sq.Select("COUNT(*)").From("tenants").Where(sq.Eq{"subdomain": subdomain})); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkOnboardingCompleted sets the onboarded flag of the tenant bound to tx.
func (s *Store) MarkOnboardingCompleted(ctx context.Context, tx *sqlite.Tx) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	res, err := exec(ctx, tx, sq.Update("tenants").
		Set("onboarding_completed", true).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": tenantID}))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// ListIncompleteTenants returns the tenants whose onboarding never completed, oldest first.
func (s *Store) ListIncompleteTenants(ctx context.Context, tx *sqlite.Tx) ([]*onboarding.Tenant, error) {
	tenants := []*onboarding.Tenant{}
	err := selectAll(ctx, tx, &tenants, sq.Select("*").
		From("tenants").
		Where(sq.Eq{"onboarding_completed": false}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

// TenantSnapshot reads the committed state of a tenant in one view.
func (s *Store) TenantSnapshot(ctx context.Context, tenantID platform.ID) (*onboarding.TenantSnapshot, error) {
	snap := &onboarding.TenantSnapshot{}
	err := s.View(ctx, func(tx *sqlite.Tx) error {
		t, err := s.GetTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		snap.Tenant = *t

		org, err := s.GetRootOrganization(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		snap.Organization = *org

		u, err := s.FindUserByExternalID(ctx, tx, tenantID, t.AdminExternalID)
		if err != nil {
			return err
		}
		snap.AdminUser = *u

		sub, err := s.FindSubscription(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		snap.Subscription = *sub

		ledger, err := s.GetCreditLedger(ctx, tx, tenantID, org.ID)
		switch {
		case err == nil:
			snap.CreditBalance = ledger.AvailableCredits
		case err != ErrCreditLedgerNotFound:
			return err
		}

		ents, err := s.ListEntitlements(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		for _, e := range ents {
			snap.Entitlements = append(snap.Entitlements, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
