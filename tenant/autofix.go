package tenant

import (
	"context"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

// AutoFixer re-creates the narrow set of records that can be derived from the
// tenant, its admin user and its plan. It never touches the tenant row, the
// root organization or the admin user.
type AutoFixer struct {
	store   *Store
	builder *Builder
	log     *zap.Logger
}

func NewAutoFixer(store *Store, builder *Builder, log *zap.Logger) *AutoFixer {
	return &AutoFixer{
		store:   store,
		builder: builder,
		log:     log,
	}
}

// Fix runs one idempotent repair pass in its own transaction and returns the
// names of the records it created.
func (f *AutoFixer) Fix(ctx context.Context, tenantID platform.ID, p plan.Plan) ([]string, error) {
	var fixed []string
	err := f.store.Update(ctx, func(tx *sqlite.Tx) error {
		fixed = fixed[:0]
		if err := tx.SetTenantContext(tenantID); err != nil {
			return err
		}

		n, err := f.store.CleanupDuplicateEntitlements(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			f.log.Info("Removed duplicate entitlements", zap.Stringer("tenant_id", tenantID), zap.Int64("removed", n))
		}

		t, err := f.store.GetTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		role, created, err := f.fixRole(ctx, tx, tenantID, p)
		if err != nil {
			return err
		}
		if created {
			fixed = append(fixed, ItemSuperAdminRole)
		}

		org, err := f.store.GetRootOrganization(ctx, tx, tenantID)
		if err != nil && err != ErrOrganizationNotFound {
			return err
		}
		u, err := f.store.FindUserByExternalID(ctx, tx, tenantID, t.AdminExternalID)
		if err != nil && err != ErrUserNotFound {
			return err
		}

		if org != nil && u != nil {
			items, err := f.builder.ensureAdminBindings(ctx, tx, tenantID, u.ID, org.ID, role.ID)
			if err != nil {
				return err
			}
			fixed = append(fixed, items...)
		}

		_, subErr := f.store.FindSubscription(ctx, tx, tenantID)
		sub, err := f.builder.ensureSubscription(ctx, tx, tenantID, p)
		if err != nil {
			return err
		}
		if subErr == ErrSubscriptionNotFound {
			fixed = append(fixed, ItemSubscription)
		}

		if org != nil {
			restored, err := f.fixCreditLedger(ctx, tx, tenantID, org.ID, p)
			if err != nil {
				return err
			}
			if restored {
				fixed = append(fixed, ItemCreditLedger)
			}
		}

		before, err := f.store.ListEntitlements(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(before))
		for _, e := range before {
			have[e.AppCode] = true
		}
		ents, _, err := f.builder.ensureEntitlements(ctx, tx, tenantID, p, sub.TrialEndsAt)
		if err != nil {
			return err
		}
		for _, e := range ents {
			if !have[e.AppCode] {
				fixed = append(fixed, EntitlementItem(e.AppCode))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fixed, nil
}

// fixCreditLedger recreates a missing ledger. Recorded transactions are
// summed into it; without any, the plan grant is applied once.
func (f *AutoFixer) fixCreditLedger(ctx context.Context, tx *sqlite.Tx, tenantID, orgID platform.ID, p plan.Plan) (bool, error) {
	_, err := f.store.GetCreditLedger(ctx, tx, tenantID, orgID)
	if err != ErrCreditLedgerNotFound {
		return false, err
	}
	txns, err := f.store.ListCreditTransactions(ctx, tx, tenantID, orgID)
	if err != nil {
		return false, err
	}
	if len(txns) > 0 {
		var sum int64
		for _, ct := range txns {
			sum += ct.Amount
		}
		return true, f.store.RestoreCreditLedger(ctx, tx, orgID, sum)
	}
	if p.Credits <= 0 {
		return false, nil
	}
	if _, err := f.builder.ensureCreditGrant(ctx, tx, tenantID, orgID, p); err != nil {
		return false, err
	}
	return true, nil
}

func (f *AutoFixer) fixRole(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID, p plan.Plan) (*onboarding.Role, bool, error) {
	_, err := f.store.FindRoleByName(ctx, tx, tenantID, onboarding.SuperAdminRoleName)
	created := err == ErrRoleNotFound
	if err != nil && !created {
		return nil, false, err
	}
	role, err := f.builder.ensureSuperAdminRole(ctx, tx, tenantID, p)
	if err != nil {
		return nil, false, err
	}
	return role, created, nil
}

// CleanupDuplicateEntitlements keeps one entitlement per application for the tenant.
func (f *AutoFixer) CleanupDuplicateEntitlements(ctx context.Context, tenantID platform.ID) (int64, error) {
	var n int64
	err := f.store.Update(ctx, func(tx *sqlite.Tx) error {
		if err := tx.SetTenantContext(tenantID); err != nil {
			return err
		}
		var err error
		n, err = f.store.CleanupDuplicateEntitlements(ctx, tx)
		return err
	})
	return n, err
}

// ListIncomplete returns the tenants stuck between commit and completion.
func (s *Store) ListIncomplete(ctx context.Context) ([]*onboarding.Tenant, error) {
	var tenants []*onboarding.Tenant
	err := s.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		tenants, err = s.ListIncompleteTenants(ctx, tx)
		return err
	})
	return tenants, err
}
