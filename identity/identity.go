// Package identity provisions organizations and admin identities at the
// external identity provider, degrading to locally generated identifiers when
// the provider cannot be reached.
package identity

import (
	"context"

	"github.com/influxdata/onboarding/kit/platform/errors"
)

// OwnerRole is the organization role granted to a tenant's admin identity.
const OwnerRole = "owner"

// Provider is the external identity provider. Every call is independently fallible.
type Provider interface {
	// CreateOrganization creates an organization and returns its code.
	CreateOrganization(ctx context.Context, name, displayName string) (string, error)
	// CreateOrFindUser returns the identity of the user with email, creating it when absent.
	CreateOrFindUser(ctx context.Context, email, name string) (string, error)
	// AddUserToOrganization grants userID the given role in the organization.
	AddUserToOrganization(ctx context.Context, orgCode, userID, role string) error
}

// ErrNotConfigured is returned by NopProvider.
var ErrNotConfigured = &errors.Error{
	Code: errors.EUnavailable,
	Msg:  "identity provider not configured",
}

// NopProvider is used when no identity provider is configured. Every call
// fails, so provisioning always takes the fallback path.
type NopProvider struct{}

var _ Provider = NopProvider{}

func (NopProvider) CreateOrganization(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (NopProvider) CreateOrFindUser(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (NopProvider) AddUserToOrganization(context.Context, string, string, string) error {
	return ErrNotConfigured
}
