package onboarding

import (
	"time"

	"github.com/influxdata/onboarding/kit/platform"
)

const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
)

// Subscription is the billing-cycle record of a tenant.
type Subscription struct {
	ID                 platform.ID `db:"id" json:"id"`
	TenantID           platform.ID `db:"tenant_id" json:"tenantId"`
	Plan               string      `db:"plan" json:"plan"`
	Status             string      `db:"status" json:"status"`
	TrialEndsAt        *time.Time  `db:"trial_ends_at" json:"trialEndsAt,omitempty"`
	CurrentPeriodStart time.Time   `db:"current_period_start" json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time   `db:"current_period_end" json:"currentPeriodEnd"`
	MaxUsers           int         `db:"max_users" json:"maxUsers"`
	MaxOrganizations   int         `db:"max_organizations" json:"maxOrganizations"`
	CreditAllowance    int64       `db:"credit_allowance" json:"creditAllowance"`
	CreatedAt          time.Time   `db:"created_at" json:"createdAt"`
}

// CreditLedger holds the available balance of a (tenant, organization) pair.
// AvailableCredits always equals the sum of the pair's CreditTransaction amounts.
type CreditLedger struct {
	ID               platform.ID `db:"id" json:"id"`
	TenantID         platform.ID `db:"tenant_id" json:"tenantId"`
	OrganizationID   platform.ID `db:"organization_id" json:"organizationId"`
	AvailableCredits int64       `db:"available_credits" json:"availableCredits"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updatedAt"`
}

// CreditGrantKind marks the transaction written by onboarding.
const CreditGrantKind = "grant"

// CreditTransaction is an append-only ledger movement; NewBalance = PreviousBalance + Amount.
type CreditTransaction struct {
	ID              platform.ID `db:"id" json:"id"`
	TenantID        platform.ID `db:"tenant_id" json:"tenantId"`
	OrganizationID  platform.ID `db:"organization_id" json:"organizationId"`
	Kind            string      `db:"kind" json:"kind"`
	Amount          int64       `db:"amount" json:"amount"`
	PreviousBalance int64       `db:"previous_balance" json:"previousBalance"`
	NewBalance      int64       `db:"new_balance" json:"newBalance"`
	Description     string      `db:"description" json:"description"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
}
