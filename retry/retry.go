// Package retry persists failed onboarding attempts so a resubmission can be
// resumed without re-collecting input.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/influxdata/onboarding"
)

// Record is the state of a failed attempt for one (external identity, email) key.
// It never coexists with a completed tenant for the same key.
type Record struct {
	ExternalID string                       `json:"externalId"`
	Email      string                       `json:"email"`
	Payload    onboarding.OnboardingRequest `json:"payload"`
	Kind       onboarding.Kind              `json:"failureKind"`
	Step       string                       `json:"failureStep"`
	Reason     string                       `json:"failureReason"`
	// OrganizationCode is the identity provider organization created by the
	// failed attempt, reused by the next one.
	OrganizationCode string    `json:"organizationCode,omitempty"`
	Attempts         int       `json:"attempts"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store persists retry records. Put must work without any open transaction.
type Store interface {
	// Put upserts the record for its key, incrementing Attempts.
	Put(ctx context.Context, r *Record) error
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, externalID, email string) (*Record, error)
	Delete(ctx context.Context, externalID, email string) error
}

// NormalizeKey returns the form of a key used by every Store.
func NormalizeKey(externalID, email string) (string, string) {
	return strings.TrimSpace(externalID), strings.ToLower(strings.TrimSpace(email))
}
