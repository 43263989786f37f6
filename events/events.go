// Package events notifies downstream applications about provisioned tenants.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/influxdata/onboarding/kit/platform"
)

const (
	// EventTypeApplicationProvisioned is the thin per-application notification.
	EventTypeApplicationProvisioned = "tenant.application.provisioned"
	// EventTypeTenantSnapshot is the snapshot written to the outbox for the designated consumer.
	EventTypeTenantSnapshot = "tenant.provisioned.snapshot"

	// BootstrapPull tells a consumer to fetch its own data on first login.
	BootstrapPull = "pull"
)

// Message is addressed to exactly one target application.
type Message struct {
	EventType         string          `json:"eventType"`
	SourceApplication string          `json:"sourceApplication"`
	TargetApplication string          `json:"targetApplication"`
	TenantID          platform.ID     `json:"tenantId"`
	Payload           json.RawMessage `json:"payload"`
	// DedupeKey identifies the message across redeliveries.
	DedupeKey string `json:"dedupeKey"`
}

// Transport delivers a message to the consumer named by its TargetApplication only.
type Transport interface {
	Publish(ctx context.Context, m Message) error
}

// ApplicationProvisioned is the payload of EventTypeApplicationProvisioned. It
// carries provisioning metadata only, never domain data.
type ApplicationProvisioned struct {
	TenantID       platform.ID `json:"tenantId"`
	AppCode        string      `json:"appCode"`
	Plan           string      `json:"plan"`
	Tier           string      `json:"tier"`
	EnabledModules []string    `json:"enabledModules"`
	ExpiresAt      *time.Time  `json:"expiresAt,omitempty"`
	Bootstrap      string      `json:"bootstrap"`
	ProvisionedAt  time.Time   `json:"provisionedAt"`
}
