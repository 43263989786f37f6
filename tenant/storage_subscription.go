package tenant

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/sqlite"
)

// CreateSubscription inserts sub for the tenant bound to tx.
func (s *Store) CreateSubscription(ctx context.Context, tx *sqlite.Tx, sub *onboarding.Subscription) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	sub.ID = s.newID()
	sub.TenantID = tenantID
	sub.CreatedAt = s.now()

	_, err = exec(ctx, tx, sq.Insert("subscriptions").
		Columns("id", "tenant_id", "plan", "status", "trial_ends_at", "current_period_start", "current_period_end", "max_users", "max_organizations", "credit_allowance", "created_at").
		Values(sub.ID, sub.TenantID, sub.Plan, sub.Status, sub.TrialEndsAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.MaxUsers, sub.MaxOrganizations, sub.CreditAllowance, sub.CreatedAt))
	return err
}

// FindSubscription returns the tenant's most recent subscription.
func (s *Store) FindSubscription(ctx context.Context, tx *sqlite.Tx, tenantID platform.ID) (*onboarding.Subscription, error) {
	var sub onboarding.Subscription
	err := get(ctx, tx, &sub, sq.Select("*").
		From("subscriptions").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("id DESC").
		Limit(1))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// GetCreditLedger returns the ledger of the (tenant, organization) pair.
func (s *Store) GetCreditLedger(ctx context.Context, tx *sqlite.Tx, tenantID, orgID platform.ID) (*onboarding.CreditLedger, error) {
	var l onboarding.CreditLedger
	err := get(ctx, tx, &l, sq.Select("*").
		From("credit_ledgers").
		Where(sq.Eq{"tenant_id": tenantID, "organization_id": orgID}))
	if err != nil {
		if sqlite.IsNotFound(err) {
			return nil, ErrCreditLedgerNotFound
		}
		return nil, err
	}
	return &l, nil
}

// GrantCredits adds amount to the ledger of org inside tx: it reads the current
// balance (zero without a ledger), writes previous+amount to the ledger and
// appends a transaction carrying both balances.
func (s *Store) GrantCredits(ctx context.Context, tx *sqlite.Tx, orgID platform.ID, amount int64, description string) (*onboarding.CreditTransaction, error) {
	tenantID, err := tx.TenantID()
	if err != nil {
		return nil, err
	}

	var previous int64
	l, err := s.GetCreditLedger(ctx, tx, tenantID, orgID)
	switch {
	case err == nil:
		previous = l.AvailableCredits
	case err != ErrCreditLedgerNotFound:
		return nil, err
	}

	now := s.now()
	ct := &onboarding.CreditTransaction{
		ID:              s.newID(),
		TenantID:        tenantID,
		OrganizationID:  orgID,
		Kind:            onboarding.CreditGrantKind,
		Amount:          amount,
		PreviousBalance: previous,
		NewBalance:      previous + amount,
		Description:     description,
		CreatedAt:       now,
	}

	_, err = exec(ctx, tx, sq.Insert("credit_ledgers").
		Columns("id", "tenant_id", "organization_id", "available_credits", "updated_at").
		Values(s.newID(), tenantID, orgID, ct.NewBalance, now).
		Suffix("ON CONFLICT (tenant_id, organization_id) DO UPDATE SET available_credits = excluded.available_credits, updated_at = excluded.updated_at"))
	if err != nil {
		return nil, err
	}

	_, err = exec(ctx, tx, sq.Insert("credit_transactions").
		Columns("id", "tenant_id", "organization_id", "kind", "amount", "previous_balance", "new_balance", "description", "created_at").
		Values(ct.ID, ct.TenantID, ct.OrganizationID, ct.Kind, ct.Amount, ct.PreviousBalance, ct.NewBalance, ct.Description, ct.CreatedAt))
	if err != nil {
		return nil, err
	}
	return ct, nil
}

// RestoreCreditLedger writes a missing ledger row of org with balance. An
// existing ledger is left untouched.
func (s *Store) RestoreCreditLedger(ctx context.Context, tx *sqlite.Tx, orgID platform.ID, balance int64) error {
	tenantID, err := tx.TenantID()
	if err != nil {
		return err
	}
	_, err = exec(ctx, tx, sq.Insert("credit_ledgers").
		Columns("id", "tenant_id", "organization_id", "available_credits", "updated_at").
		Values(s.newID(), tenantID, orgID, balance, s.now()).
		Suffix("ON CONFLICT (tenant_id, organization_id) DO NOTHING"))
	return err
}

// ListCreditTransactions returns the transactions of the (tenant, organization) pair, oldest first.
func (s *Store) ListCreditTransactions(ctx context.Context, tx *sqlite.Tx, tenantID, orgID platform.ID) ([]*onboarding.CreditTransaction, error) {
	txns := []*onboarding.CreditTransaction{}
	err := selectAll(ctx, tx, &txns, sq.Select("*").
		From("credit_transactions").
		Where(sq.Eq{"tenant_id": tenantID, "organization_id": orgID}).
		OrderBy("id"))
	if err != nil {
		return nil, err
	}
	return txns, nil
}
