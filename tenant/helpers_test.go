package tenant_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/mock/gomock"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/identity"
	"github.com/influxdata/onboarding/mock"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/retry"
	"github.com/influxdata/onboarding/sqlite"
	"github.com/influxdata/onboarding/tenant"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingTransport keeps every published message and fails for the
// targets listed in fail.
type recordingTransport struct {
	mu   sync.Mutex
	msgs []events.Message
	fail map[string]bool
}

func (r *recordingTransport) Publish(_ context.Context, m events.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[m.TargetApplication] {
		return errors.New("broker unavailable")
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingTransport) targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.TargetApplication)
	}
	return out
}

type fixture struct {
	sqlStore  *sqlite.SqlStore
	store     *tenant.Store
	clock     *clock.Mock
	provider  *mock.MockProvider
	retries   retry.Store
	transport *recordingTransport
	svc       *tenant.OnboardService
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct {
	orgErr error
	mode   plan.Mode
}

func withOrganizationError(err error) fixtureOpt {
	return func(c *fixtureConfig) { c.orgErr = err }
}

func withMode(m plan.Mode) fixtureOpt {
	return func(c *fixtureConfig) { c.mode = m }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	cfg := fixtureConfig{mode: plan.ModeProduction}
	for _, o := range opts {
		o(&cfg)
	}

	log := zaptest.NewLogger(t)
	clk := clock.NewMock()
	clk.Set(testNow)

	sqlStore := sqlite.NewTestStore(t)
	store := tenant.NewStore(sqlStore, log, tenant.WithClock(clk))

	entries, err := tenant.LoadRegistry("testdata/registry.yml")
	require.NoError(t, err)
	require.NoError(t, store.SeedRegistry(context.Background(), entries))

	ctrl := gomock.NewController(t)
	provider := mock.NewMockProvider(ctrl)
	provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, name, _ string) (string, error) {
			if cfg.orgErr != nil {
				return "", cfg.orgErr
			}
			return "idp-" + name, nil
		}).AnyTimes()
	provider.EXPECT().CreateOrFindUser(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, email, _ string) (string, error) {
			return "auth0|" + strings.ToLower(email), nil
		}).AnyTimes()
	provider.EXPECT().AddUserToOrganization(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	retries := retry.NewSQLStore(sqlStore, log)
	transport := &recordingTransport{fail: map[string]bool{}}
	pub := events.NewPublisher(store, transport, events.NewOutbox(sqlStore, log), events.PublisherConfig{
		SnapshotConsumer: "analytics",
	}, log, nil).WithClock(clk)

	svc := tenant.NewOnboardService(
		store,
		plan.Default(),
		identity.NewProvisioner(provider, log, identity.WithClock(clk)),
		retries,
		pub,
		tenant.OnboardServiceConfig{Mode: cfg.mode, RedirectURLTemplate: "https://{subdomain}.example.com"},
		log,
	)
	t.Cleanup(svc.Wait)

	return &fixture{
		sqlStore:  sqlStore,
		store:     store,
		clock:     clk,
		provider:  provider,
		retries:   retries,
		transport: transport,
		svc:       svc,
	}
}

func trialRequest(email string) *onboarding.OnboardingRequest {
	return &onboarding.OnboardingRequest{
		Type:        onboarding.OnboardingTrial,
		CompanyName: "Acme Inc",
		AdminEmail:  email,
		AdminName:   "Jo Admin",
		Plan:        "starter",
	}
}

func (f *fixture) mustOnboard(t *testing.T, req *onboarding.OnboardingRequest) *onboarding.OnboardingResult {
	t.Helper()
	res, err := f.svc.RunOnboardingSaga(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, onboarding.StatusCompleted, res.Status, "failure: %+v", res.Failure)
	return res
}

func (f *fixture) exec(t *testing.T, stmt string) {
	t.Helper()
	_, err := f.sqlStore.DB.Exec(stmt)
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, f.sqlStore.DB.Get(&n, query, args...))
	return n
}

func (f *fixture) tenantByEmail(t *testing.T, email string) *onboarding.Tenant {
	t.Helper()
	var ten onboarding.Tenant
	require.NoError(t, f.sqlStore.DB.Get(&ten, "SELECT * FROM tenants WHERE admin_email = ?", email))
	return &ten
}

var dataTables = []string{
	"tenants", "organizations", "users", "roles", "role_assignments",
	"organization_memberships", "responsible_persons", "subscriptions",
	"credit_ledgers", "credit_transactions", "tenant_applications",
	"onboarding_retries", "outbox_events",
}

func (f *fixture) rowCounts(t *testing.T) map[string]int {
	t.Helper()
	out := make(map[string]int, len(dataTables))
	for _, table := range dataTables {
		out[table] = f.count(t, "SELECT COUNT(*) FROM "+table)
	}
	return out
}
