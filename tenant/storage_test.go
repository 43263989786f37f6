package tenant_test

import (
	"context"
	"testing"

	"github.com/influxdata/onboarding"
	ierrors "github.com/influxdata/onboarding/kit/platform/errors"
	"github.com/influxdata/onboarding/sqlite"
	"github.com/influxdata/onboarding/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStore(t *testing.T) *tenant.Store {
	t.Helper()
	return tenant.NewStore(sqlite.NewTestStore(t), zaptest.NewLogger(t))
}

func createTenant(t *testing.T, s *tenant.Store, tx *sqlite.Tx, email, subdomain string) *onboarding.Tenant {
	t.Helper()
	ten := &onboarding.Tenant{
		Name:       "Acme Inc",
		Subdomain:  subdomain,
		AdminEmail: email,
		Plan:       "starter",
	}
	require.NoError(t, s.CreateTenant(context.Background(), tx, ten))
	return ten
}

func TestStore_TenantScopedWritesNeedContext(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *sqlite.Tx) error {
		createTenant(t, s, tx, "jo@acme.io", "acme")

		err := s.CreateUser(ctx, tx, &onboarding.User{Email: "jo@acme.io"})
		assert.Equal(t, sqlite.ErrNoTenantContext, err)

		err = s.CreateRole(ctx, tx, &onboarding.Role{Name: onboarding.SuperAdminRoleName})
		assert.Equal(t, sqlite.ErrNoTenantContext, err)

		_, err = s.GrantCredits(ctx, tx, 1, 100, "grant")
		assert.Equal(t, sqlite.ErrNoTenantContext, err)

		_, err = s.CleanupDuplicateEntitlements(ctx, tx)
		assert.Equal(t, sqlite.ErrNoTenantContext, err)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_CreateTenantConflicts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *sqlite.Tx) error {
		createTenant(t, s, tx, "jo@acme.io", "acme")
		return nil
	}))

	tests := []struct {
		name      string
		email     string
		subdomain string
		msg       string
	}{
		{name: "email", email: "jo@acme.io", subdomain: "other", msg: "tenant with this adminEmail already exists"},
		{name: "subdomain", email: "max@acme.io", subdomain: "acme", msg: "tenant with this subdomain already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Update(ctx, func(tx *sqlite.Tx) error {
				return s.CreateTenant(ctx, tx, &onboarding.Tenant{
					Name:       "Other",
					Subdomain:  tt.subdomain,
					AdminEmail: tt.email,
					Plan:       "starter",
				})
			})
			require.Error(t, err)
			assert.Equal(t, ierrors.EConflict, ierrors.ErrorCode(err))
			assert.Equal(t, tt.msg, ierrors.ErrorMessage(err))
		})
	}
}

func TestStore_GrantCreditsChainsBalances(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *sqlite.Tx) error {
		ten := createTenant(t, s, tx, "jo@acme.io", "acme")
		require.NoError(t, tx.SetTenantContext(ten.ID))

		org := &onboarding.Organization{Name: "Acme Inc"}
		require.NoError(t, s.CreateRootOrganization(ctx, tx, org))

		_, err := s.GetCreditLedger(ctx, tx, ten.ID, org.ID)
		assert.Equal(t, tenant.ErrCreditLedgerNotFound, err)

		first, err := s.GrantCredits(ctx, tx, org.ID, 1000, "initial")
		require.NoError(t, err)
		second, err := s.GrantCredits(ctx, tx, org.ID, 250, "top up")
		require.NoError(t, err)

		assert.Equal(t, int64(0), first.PreviousBalance)
		assert.Equal(t, int64(1000), first.NewBalance)
		assert.Equal(t, int64(1000), second.PreviousBalance)
		assert.Equal(t, int64(1250), second.NewBalance)

		l, err := s.GetCreditLedger(ctx, tx, ten.ID, org.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1250), l.AvailableCredits)

		txns, err := s.ListCreditTransactions(ctx, tx, ten.ID, org.ID)
		require.NoError(t, err)
		require.Len(t, txns, 2)
		assert.Equal(t, first.ID, txns[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RootOrganization(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *sqlite.Tx) error {
		ten := createTenant(t, s, tx, "jo@acme.io", "acme")
		require.NoError(t, tx.SetTenantContext(ten.ID))

		_, err := s.GetRootOrganization(ctx, tx, ten.ID)
		assert.Equal(t, tenant.ErrOrganizationNotFound, err)

		org := &onboarding.Organization{Name: "Acme Inc"}
		require.NoError(t, s.CreateRootOrganization(ctx, tx, org))
		assert.True(t, org.IsRoot())

		got, err := s.GetRootOrganization(ctx, tx, ten.ID)
		require.NoError(t, err)
		assert.Equal(t, org.ID, got.ID)
		assert.True(t, got.IsRoot())
		return nil
	})
	require.NoError(t, err)
}

func TestParseRegistry(t *testing.T) {
	entries, err := tenant.LoadRegistry("testdata/registry.yml")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "crm", entries[0].Code)
	assert.Equal(t, []string{"contacts", "deals", "pipelines"}, entries[0].Modules)
	require.NotNil(t, entries[3].Active)
	assert.False(t, *entries[3].Active)

	_, err = tenant.ParseRegistry([]byte("applications:\n  - name: No Code\n"))
	assert.Equal(t, ierrors.EInvalid, ierrors.ErrorCode(err))

	_, err = tenant.ParseRegistry([]byte("applications:\n  - code: crm\n    colour: red\n"))
	assert.Equal(t, ierrors.EInvalid, ierrors.ErrorCode(err))
}

func TestStore_SeedRegistryIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	entries, err := tenant.LoadRegistry("testdata/registry.yml")
	require.NoError(t, err)
	require.NoError(t, s.SeedRegistry(ctx, entries))

	var before *onboarding.Application
	require.NoError(t, s.View(ctx, func(tx *sqlite.Tx) error {
		before, err = s.FindApplicationByCode(ctx, tx, "crm")
		return err
	}))

	entries[0].Modules = append(entries[0].Modules, "forecasts")
	require.NoError(t, s.SeedRegistry(ctx, entries))

	require.NoError(t, s.View(ctx, func(tx *sqlite.Tx) error {
		after, err := s.FindApplicationByCode(ctx, tx, "crm")
		require.NoError(t, err)
		assert.Equal(t, before.ID, after.ID)

		mods, err := s.ListApplicationModules(ctx, tx, after.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"contacts", "deals", "forecasts", "pipelines"}, mods)

		legacy, err := s.FindApplicationByCode(ctx, tx, "legacy")
		require.NoError(t, err)
		assert.False(t, legacy.IsActive)

		_, err = s.FindApplicationByCode(ctx, tx, "projects")
		assert.Equal(t, tenant.ErrApplicationNotFound, err)
		return nil
	}))
}
