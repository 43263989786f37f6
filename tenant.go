package onboarding

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/influxdata/onboarding/kit/platform"
)

// ops for tenant errors and op logs.
const (
	OpValidate              = "Validate"
	OpProvisionIdentity     = "ProvisionIdentity"
	OpBuildTenant           = "BuildTenant"
	OpVerifyTenant          = "VerifyTenant"
	OpRepairTenant          = "RepairTenant"
	OpCompleteOnboarding    = "CompleteOnboarding"
	OpPublishProvisioned    = "PublishProvisioned"
	OpFindTenantByID        = "FindTenantByID"
	OpFindTenantByAdminMail = "FindTenantByAdminEmail"
)

// Tenant is the customer organization created by a successful onboarding.
// OnboardingCompleted is only ever set once the committed state has been verified.
type Tenant struct {
	ID                  platform.ID    `db:"id" json:"id"`
	Name                string         `db:"name" json:"name"`
	Subdomain           string         `db:"subdomain" json:"subdomain"`
	ExternalOrgRef      string         `db:"external_org_ref" json:"externalOrgRef"`
	AdminEmail          string         `db:"admin_email" json:"adminEmail"`
	AdminExternalID     string         `db:"admin_external_id" json:"adminExternalId"`
	Plan                string         `db:"plan" json:"plan"`
	OnboardingCompleted bool           `db:"onboarding_completed" json:"onboardingCompleted"`
	Settings            TenantSettings `db:"settings" json:"settings"`
	CreatedAt           time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updatedAt"`
}

// TenantSettings is the plan snapshot taken when the tenant was created.
type TenantSettings struct {
	Plan           string              `json:"plan"`
	PlanName       string              `json:"planName,omitempty"`
	Tier           string              `json:"tier,omitempty"`
	Applications   []string            `json:"applications,omitempty"`
	Modules        map[string][]string `json:"modules,omitempty"`
	Credits        int64               `json:"credits"`
	TrialDays      int                 `json:"trialDays"`
	Mode           string              `json:"mode,omitempty"`
	OnboardingType OnboardingType      `json:"onboardingType,omitempty"`
	UsedFallback   bool                `json:"usedFallback,omitempty"`
}

func (s TenantSettings) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *TenantSettings) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// TenantSnapshot is the committed state of an onboarded tenant, read back in one view.
type TenantSnapshot struct {
	Tenant        Tenant        `json:"tenant"`
	Organization  Organization  `json:"organization"`
	AdminUser     User          `json:"adminUser"`
	Subscription  Subscription  `json:"subscription"`
	CreditBalance int64         `json:"creditBalance"`
	Entitlements  []Entitlement `json:"entitlements"`
}

// EnabledEntitlements returns the entitlements currently enabled.
func (s *TenantSnapshot) EnabledEntitlements() []Entitlement {
	out := make([]Entitlement, 0, len(s.Entitlements))
	for _, e := range s.Entitlements {
		if e.IsEnabled {
			out = append(out, e)
		}
	}
	return out
}
