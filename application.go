package onboarding

import (
	"time"

	"github.com/influxdata/onboarding/kit/platform"
)

// Application is an entry of the application registry.
type Application struct {
	ID        platform.ID `db:"id" json:"id"`
	Code      string      `db:"code" json:"code"`
	Name      string      `db:"name" json:"name"`
	IsActive  bool        `db:"is_active" json:"isActive"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// ApplicationModule is a module registered for an application.
type ApplicationModule struct {
	ID            platform.ID `db:"id" json:"id"`
	ApplicationID platform.ID `db:"application_id" json:"applicationId"`
	Code          string      `db:"code" json:"code"`
	Name          string      `db:"name" json:"name"`
}

// Entitlement grants a tenant access to one application and its modules.
// There is at most one entitlement per (tenant, application).
type Entitlement struct {
	ID               platform.ID `db:"id" json:"id"`
	TenantID         platform.ID `db:"tenant_id" json:"tenantId"`
	ApplicationID    platform.ID `db:"application_id" json:"applicationId"`
	AppCode          string      `db:"app_code" json:"appCode"`
	SubscriptionTier string      `db:"subscription_tier" json:"subscriptionTier"`
	EnabledModules   StringList  `db:"enabled_modules" json:"enabledModules"`
	IsEnabled        bool        `db:"is_enabled" json:"isEnabled"`
	ExpiresAt        *time.Time  `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"createdAt"`
}
