package onboarding

import (
	"context"
	"strings"

	"github.com/influxdata/onboarding/kit/platform"
)

// OnboardingType selects which fields a submission must carry.
type OnboardingType string

const (
	OnboardingTrial      OnboardingType = "trial"
	OnboardingFree       OnboardingType = "free"
	OnboardingEnterprise OnboardingType = "enterprise"
)

// Valid reports whether t is a known onboarding type.
func (t OnboardingType) Valid() bool {
	switch t {
	case OnboardingTrial, OnboardingFree, OnboardingEnterprise:
		return true
	}
	return false
}

// OnboardingService provisions a new tenant as a single logical operation.
type OnboardingService interface {
	// RunOnboardingSaga provisions a tenant for req. Expected outcomes such as
	// an already onboarded identity or a validation problem are reported through
	// the result; the error is reserved for faults of the orchestration itself.
	RunOnboardingSaga(ctx context.Context, req *OnboardingRequest) (*OnboardingResult, error)
}

// OnboardingRequest is the raw submission for a new tenant.
type OnboardingRequest struct {
	Type        OnboardingType `json:"type"`
	CompanyName string         `json:"companyName"`
	Subdomain   string         `json:"subdomain,omitempty"`
	AdminEmail  string         `json:"adminEmail"`
	AdminName   string         `json:"adminName"`
	Plan        string         `json:"plan"`
	// ExternalID is the caller's identity at the identity provider, when the
	// caller is already authenticated.
	ExternalID string `json:"externalId,omitempty"`
	// BearerToken is never persisted with retry state.
	BearerToken string                 `json:"-"`
	Answers     map[string]interface{} `json:"answers,omitempty"`
	// Resume asks for blank fields to be filled from the stored retry state.
	Resume bool `json:"resume,omitempty"`
}

// NormalizedEmail is the form used for lookups and retry keys.
func (r *OnboardingRequest) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(r.AdminEmail))
}

// Status tags the variant held by an OnboardingResult.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusAlreadyOnboarded Status = "already_onboarded"
	StatusDuplicate        Status = "duplicate"
	StatusFailed           Status = "failed"
)

// Kind classifies a saga outcome that is not a plain success.
type Kind string

const (
	KindDuplicateRegistration        Kind = "DuplicateRegistration"
	KindAlreadyOnboarded             Kind = "AlreadyOnboarded"
	KindValidationFailed             Kind = "ValidationFailed"
	KindExternalProvisioningDegraded Kind = "ExternalProvisioningDegraded"
	KindTransactionFailed            Kind = "TransactionFailed"
	KindVerificationFailed           Kind = "VerificationFailed"
	KindEventPublishFailed           Kind = "EventPublishFailed"
)

// Retryable reports whether a failure of this kind is worth resubmitting.
func (k Kind) Retryable() bool {
	return k == KindTransactionFailed || k == KindVerificationFailed
}

// OnboardingResult is one of Completed, AlreadyOnboarded, Duplicate or Failed,
// as tagged by Status. Only the fields of the tagged variant are populated.
type OnboardingResult struct {
	Status  Status `json:"status"`
	Success bool   `json:"success"`

	// Completed
	TenantID         platform.ID   `json:"tenantId,omitempty"`
	OrganizationID   platform.ID   `json:"organizationId,omitempty"`
	AdminUserID      platform.ID   `json:"adminUserId,omitempty"`
	SubscriptionID   platform.ID   `json:"subscriptionId,omitempty"`
	CreditsAllocated int64         `json:"creditsAllocated,omitempty"`
	OrganizationCode string        `json:"organizationCode,omitempty"`
	UsedFallback     bool          `json:"usedFallback,omitempty"`
	Verification     *Verification `json:"verification,omitempty"`

	// AlreadyOnboarded (TenantID is set as well)
	RedirectURL string `json:"redirectUrl,omitempty"`

	// Duplicate and Failed
	Failure *Failure `json:"failure,omitempty"`
}

// Failure describes why a submission did not produce a new tenant.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Field names the conflicting field of a duplicate registration.
	Field string `json:"field,omitempty"`
	// Fields holds per-field validation problems.
	Fields       map[string]string `json:"fields,omitempty"`
	Step         string            `json:"step,omitempty"`
	MissingItems []string          `json:"missingItems,omitempty"`
	Retryable    bool              `json:"retryable"`
}

// Verification is the outcome of re-reading a committed tenant.
type Verification struct {
	Verified       bool     `json:"verified"`
	MissingItems   []string `json:"missingItems,omitempty"`
	CriticalIssues []string `json:"criticalIssues,omitempty"`
	// ApplicationAssignments maps application code to enabled modules.
	ApplicationAssignments map[string][]string `json:"applicationAssignments,omitempty"`
}

// Complete reports whether nothing is missing and nothing is inconsistent.
func (v *Verification) Complete() bool {
	return len(v.MissingItems) == 0 && len(v.CriticalIssues) == 0
}

// Problems lists missing items followed by critical issues.
func (v *Verification) Problems() []string {
	out := make([]string, 0, len(v.MissingItems)+len(v.CriticalIssues))
	out = append(out, v.MissingItems...)
	return append(out, v.CriticalIssues...)
}

// FailedResult builds the Failed variant.
func FailedResult(f *Failure) *OnboardingResult {
	return &OnboardingResult{
		Status:  StatusFailed,
		Failure: f,
	}
}
