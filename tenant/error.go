package tenant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/influxdata/onboarding"
	ierrors "github.com/influxdata/onboarding/kit/platform/errors"
)

var (
	// ErrTenantNotFound is used when the tenant is not found.
	ErrTenantNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "tenant not found",
	}

	// ErrOrganizationNotFound is used when a tenant has no root organization.
	ErrOrganizationNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "organization not found",
	}

	// ErrUserNotFound is used when the user is not found.
	ErrUserNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "user not found",
	}

	// ErrRoleNotFound is used when the role is not found.
	ErrRoleNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "role not found",
	}

	// ErrSubscriptionNotFound is used when a tenant has no subscription.
	ErrSubscriptionNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "subscription not found",
	}

	// ErrApplicationNotFound is used when an application code is not registered.
	ErrApplicationNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "application not found",
	}

	// ErrEntitlementNotFound is used when a tenant has no entitlement for an application.
	ErrEntitlementNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "entitlement not found",
	}

	// ErrCreditLedgerNotFound is used when a (tenant, organization) pair has no ledger.
	ErrCreditLedgerNotFound = &ierrors.Error{
		Code: ierrors.ENotFound,
		Msg:  "credit ledger not found",
	}

	// ErrOnboardInvalid is used when the onboarding request is missing.
	ErrOnboardInvalid = &ierrors.Error{
		Code: ierrors.EEmptyValue,
		Msg:  "onboard failed, missing value",
	}
)

// TenantAlreadyExistsError is used when a tenant row conflicts with an existing
// one on field.
func TenantAlreadyExistsError(field string, err error) *ierrors.Error {
	return &ierrors.Error{
		Code: ierrors.EConflict,
		Op:   onboarding.OpBuildTenant,
		Msg:  fmt.Sprintf("tenant with this %s already exists", field),
		Err:  err,
	}
}

// ErrInternalServiceError is used when the error comes from an internal system.
func ErrInternalServiceError(err error, options ...func(*ierrors.Error)) *ierrors.Error {
	var e *ierrors.Error
	if errors.As(err, &e) {
		return e
	}
	e = &ierrors.Error{
		Code: ierrors.EInternal,
		Err:  err,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// VerificationFailedError lists every item that kept a tenant from completing onboarding.
func VerificationFailedError(v *onboarding.Verification, err error) *ierrors.Error {
	return &ierrors.Error{
		Code: ierrors.EUnprocessableEntity,
		Op:   onboarding.OpVerifyTenant,
		Msg:  "tenant verification failed: " + strings.Join(v.Problems(), ", "),
		Err:  err,
	}
}

// stepError reports the builder step that failed.
func stepError(step string, err error) *ierrors.Error {
	code := ierrors.EInternal
	if ierrors.ErrorCode(err) == ierrors.EConflict {
		code = ierrors.EConflict
	}
	return &ierrors.Error{
		Code: code,
		Op:   step,
		Msg:  fmt.Sprintf("onboarding step %s failed", step),
		Err:  err,
	}
}
