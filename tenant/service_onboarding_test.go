package tenant_test

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnboard_LedgerBalanceEqualsTransactionSum(t *testing.T) {
	f := newFixture(t)
	res := f.mustOnboard(t, trialRequest("jo@acme.io"))

	var balance, sum int64
	require.NoError(t, f.sqlStore.DB.Get(&balance,
		"SELECT available_credits FROM credit_ledgers WHERE tenant_id = ? AND organization_id = ?", res.TenantID, res.OrganizationID))
	require.NoError(t, f.sqlStore.DB.Get(&sum,
		"SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE tenant_id = ? AND organization_id = ?", res.TenantID, res.OrganizationID))

	assert.Equal(t, sum, balance)
	assert.Equal(t, int64(5000), balance)
	assert.Equal(t, int64(5000), res.CreditsAllocated)
}

func TestOnboard_SingleRootOrganization(t *testing.T) {
	f := newFixture(t)
	res := f.mustOnboard(t, trialRequest("jo@acme.io"))

	var orgs []onboarding.Organization
	require.NoError(t, f.sqlStore.DB.Select(&orgs, "SELECT * FROM organizations WHERE tenant_id = ?", res.TenantID))
	require.Len(t, orgs, 1)

	org := orgs[0]
	assert.Equal(t, res.OrganizationID, org.ID)
	assert.Nil(t, org.ParentID)
	assert.Equal(t, 1, org.EntityLevel)
	assert.Equal(t, "/"+org.ID.String(), org.HierarchyPath)
	require.NotNil(t, org.CreatedBy)
	assert.Equal(t, res.AdminUserID, *org.CreatedBy)
}

func TestOnboard_EntitlementsForResolvableApplications(t *testing.T) {
	f := newFixture(t)
	req := trialRequest("jo@acme.io")
	req.Type = onboarding.OnboardingEnterprise
	req.Plan = "enterprise"
	res := f.mustOnboard(t, req)

	// enterprise lists crm, hr, finance and projects; projects is not registered
	var codes []string
	require.NoError(t, f.sqlStore.DB.Select(&codes, `
		SELECT applications.code FROM tenant_applications
		JOIN applications ON applications.id = tenant_applications.application_id
		WHERE tenant_applications.tenant_id = ? ORDER BY applications.code`, res.TenantID))
	assert.Equal(t, []string{"crm", "finance", "hr"}, codes)

	want := map[string][]string{
		"crm":     {"contacts", "deals", "pipelines"},
		"finance": {"expenses", "invoicing", "ledger"},
		"hr":      {"employees", "leave", "payroll"},
	}
	if diff := cmp.Diff(want, res.Verification.ApplicationAssignments); diff != "" {
		t.Fatalf("unexpected application assignments (-want +got):\n%s", diff)
	}
}

func TestOnboard_WildcardExpandsToRegisteredModules(t *testing.T) {
	f := newFixture(t)
	req := trialRequest("jo@acme.io")
	req.Type = onboarding.OnboardingEnterprise
	req.Plan = "enterprise"
	res := f.mustOnboard(t, req)

	var modules onboarding.StringList
	require.NoError(t, f.sqlStore.DB.Get(&modules, `
		SELECT enabled_modules FROM tenant_applications
		JOIN applications ON applications.id = tenant_applications.application_id
		WHERE tenant_applications.tenant_id = ? AND applications.code = 'hr'`, res.TenantID))

	assert.Equal(t, onboarding.StringList{"employees", "leave", "payroll"}, modules)
	assert.NotContains(t, modules, plan.Wildcard)
}

func TestOnboard_AlreadyOnboardedPerformsNoWrites(t *testing.T) {
	f := newFixture(t)
	first := f.mustOnboard(t, trialRequest("jo@acme.io"))
	f.svc.Wait()

	before := f.rowCounts(t)
	tenantBefore := f.tenantByEmail(t, "jo@acme.io")

	f.clock.Add(time.Hour)
	res, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, onboarding.StatusAlreadyOnboarded, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, first.TenantID, res.TenantID)
	assert.Equal(t, "https://acme-inc.example.com", res.RedirectURL)
	assert.Nil(t, res.Failure)

	if diff := cmp.Diff(before, f.rowCounts(t)); diff != "" {
		t.Fatalf("row counts changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, tenantBefore, f.tenantByEmail(t, "jo@acme.io"))
}

func TestOnboard_SecondSubmissionReturnsFirstTenant(t *testing.T) {
	f := newFixture(t)
	first := f.mustOnboard(t, trialRequest("jo@acme.io"))

	second := trialRequest("JO@acme.io ")
	second.CompanyName = "Another Name"
	res, err := f.svc.RunOnboardingSaga(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, onboarding.StatusAlreadyOnboarded, res.Status)
	assert.Equal(t, first.TenantID, res.TenantID)
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM tenants"))
}

func TestOnboard_TransactionFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER fail_subscriptions BEFORE INSERT ON subscriptions
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`)

	res, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)

	assert.Equal(t, onboarding.StatusFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, onboarding.KindTransactionFailed, res.Failure.Kind)
	assert.Equal(t, tenant.StepCreateSubscription, res.Failure.Step)
	assert.True(t, res.Failure.Retryable)

	for _, table := range dataTables[:11] {
		assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM "+table), table)
	}

	rec, err := f.svc.GetRetryState(context.Background(), "", "jo@acme.io")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, onboarding.KindTransactionFailed, rec.Kind)
	assert.Equal(t, tenant.StepCreateSubscription, rec.Step)
	assert.Equal(t, "Acme Inc", rec.Payload.CompanyName)
	assert.Equal(t, "idp-acme-inc", rec.OrganizationCode)
	assert.Equal(t, 1, rec.Attempts)
}

func TestOnboard_RetryAfterTransactionFailure(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER fail_subscriptions BEFORE INSERT ON subscriptions
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`)

	res, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)
	require.Equal(t, onboarding.StatusFailed, res.Status)

	f.exec(t, `DROP TRIGGER fail_subscriptions`)

	// only the key fields are resubmitted; the rest comes from the retry state
	res = f.mustOnboard(t, &onboarding.OnboardingRequest{AdminEmail: "jo@acme.io", Resume: true})
	assert.Equal(t, "idp-acme-inc", res.OrganizationCode)

	ten := f.tenantByEmail(t, "jo@acme.io")
	assert.Equal(t, "Acme Inc", ten.Name)
	assert.Equal(t, "starter", ten.Plan)
	assert.True(t, ten.OnboardingCompleted)

	rec, err := f.svc.GetRetryState(context.Background(), "", "jo@acme.io")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestOnboard_SuccessClearsAnonymousRetryState(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER fail_subscriptions BEFORE INSERT ON subscriptions
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`)

	res, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)
	require.Equal(t, onboarding.StatusFailed, res.Status)

	rec, err := f.svc.GetRetryState(context.Background(), "", "jo@acme.io")
	require.NoError(t, err)
	require.NotNil(t, rec)

	f.exec(t, `DROP TRIGGER fail_subscriptions`)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "auth0|caller",
		"email": "jo@acme.io",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := trialRequest("jo@acme.io")
	req.BearerToken = token
	f.mustOnboard(t, req)

	rec, err = f.svc.GetRetryState(context.Background(), "", "jo@acme.io")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 0, f.count(t, "SELECT COUNT(*) FROM onboarding_retries"))
}

func TestOnboard_SnapshotOutboxFailureDoesNotFailSaga(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER fail_outbox BEFORE INSERT ON outbox_events
		BEGIN SELECT RAISE(ABORT, 'outbox down'); END;`)

	res := f.mustOnboard(t, trialRequest("jo@acme.io"))
	assert.True(t, res.Success)
	f.svc.Wait()

	var errs []error
	for done := false; !done; {
		select {
		case err := <-f.svc.PublishErrors():
			errs = append(errs, err)
		default:
			done = true
		}
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "snapshot")
	assert.Contains(t, errs[0].Error(), "outbox down")

	assert.True(t, f.tenantByEmail(t, "jo@acme.io").OnboardingCompleted)
	assert.Equal(t, 0, f.count(t, "SELECT COUNT(*) FROM outbox_events"))
	assert.NotEmpty(t, f.transport.targets())
}

func TestOnboard_VerificationFailureLeavesTenantIncomplete(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER drop_memberships AFTER INSERT ON organization_memberships
		BEGIN DELETE FROM organization_memberships WHERE id = NEW.id; END;`)

	res, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)

	assert.Equal(t, onboarding.StatusFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, onboarding.KindVerificationFailed, res.Failure.Kind)
	assert.Equal(t, []string{tenant.ItemMembership}, res.Failure.MissingItems)
	assert.Contains(t, res.Failure.Message, tenant.ItemMembership)
	assert.True(t, res.Failure.Retryable)

	ten := f.tenantByEmail(t, "jo@acme.io")
	assert.False(t, ten.OnboardingCompleted)

	incomplete, err := f.svc.ListIncompleteTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, ten.ID, incomplete[0].ID)

	rec, err := f.svc.GetRetryState(context.Background(), "", "jo@acme.io")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, onboarding.KindVerificationFailed, rec.Kind)

	// no events for an incomplete tenant
	f.svc.Wait()
	assert.Empty(t, f.transport.targets())
}

func TestOnboard_ResumeCompletesIncompleteTenant(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER drop_memberships AFTER INSERT ON organization_memberships
		BEGIN DELETE FROM organization_memberships WHERE id = NEW.id; END;`)

	res, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)
	require.Equal(t, onboarding.StatusFailed, res.Status)
	ten := f.tenantByEmail(t, "jo@acme.io")

	f.exec(t, `DROP TRIGGER drop_memberships`)

	res = f.mustOnboard(t, trialRequest("jo@acme.io"))
	assert.Equal(t, ten.ID, res.TenantID)
	assert.True(t, res.Verification.Verified)
	assert.True(t, f.tenantByEmail(t, "jo@acme.io").OnboardingCompleted)
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM organization_memberships WHERE tenant_id = ?", ten.ID))

	rec, err := f.svc.GetRetryState(context.Background(), "", "jo@acme.io")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestOnboard_RepairTenant(t *testing.T) {
	f := newFixture(t)
	f.exec(t, `CREATE TRIGGER drop_memberships AFTER INSERT ON organization_memberships
		BEGIN DELETE FROM organization_memberships WHERE id = NEW.id; END;`)

	_, err := f.svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)
	ten := f.tenantByEmail(t, "jo@acme.io")

	_, err = f.svc.RepairTenant(context.Background(), ten.ID)
	require.Error(t, err)

	f.exec(t, `DROP TRIGGER drop_memberships`)

	ver, err := f.svc.RepairTenant(context.Background(), ten.ID)
	require.NoError(t, err)
	assert.True(t, ver.Verified)
	assert.True(t, f.tenantByEmail(t, "jo@acme.io").OnboardingCompleted)

	f.svc.Wait()
	assert.NotEmpty(t, f.transport.targets())
}

func TestOnboard_IdentityProviderFallback(t *testing.T) {
	f := newFixture(t, withOrganizationError(errors.New("identity provider timeout")))
	res := f.mustOnboard(t, trialRequest("jo@acme.io"))

	assert.True(t, res.UsedFallback)
	assert.Regexp(t, regexp.MustCompile(`^org_acme-inc_[0-9]+$`), res.OrganizationCode)
	assert.Equal(t, "org_acme-inc_1772366400000", res.OrganizationCode)

	ten := f.tenantByEmail(t, "jo@acme.io")
	assert.Equal(t, res.OrganizationCode, ten.ExternalOrgRef)
	assert.True(t, ten.Settings.UsedFallback)
	assert.True(t, ten.OnboardingCompleted)
}

func TestOnboard_FreePlanCredits(t *testing.T) {
	f := newFixture(t)
	res := f.mustOnboard(t, &onboarding.OnboardingRequest{
		Type:        onboarding.OnboardingFree,
		CompanyName: "Tiny Co",
		AdminEmail:  "sam@tiny.co",
	})

	var balance int64
	require.NoError(t, f.sqlStore.DB.Get(&balance,
		"SELECT available_credits FROM credit_ledgers WHERE tenant_id = ?", res.TenantID))
	assert.Equal(t, int64(1000), balance)

	var txns []onboarding.CreditTransaction
	require.NoError(t, f.sqlStore.DB.Select(&txns, "SELECT * FROM credit_transactions WHERE tenant_id = ?", res.TenantID))
	require.Len(t, txns, 1)
	assert.Equal(t, int64(0), txns[0].PreviousBalance)
	assert.Equal(t, int64(1000), txns[0].NewBalance)
	assert.Equal(t, int64(1000), txns[0].Amount)

	var sub onboarding.Subscription
	require.NoError(t, f.sqlStore.DB.Get(&sub, "SELECT * FROM subscriptions WHERE tenant_id = ?", res.TenantID))
	assert.Equal(t, onboarding.SubscriptionActive, sub.Status)
	assert.Nil(t, sub.TrialEndsAt)
}

func TestOnboard_CompletedResult(t *testing.T) {
	f := newFixture(t)
	req := trialRequest("jo@acme.io")
	req.Answers = map[string]interface{}{"industry": "retail"}
	res := f.mustOnboard(t, req)

	assert.True(t, res.Success)
	assert.True(t, res.TenantID.Valid())
	assert.True(t, res.SubscriptionID.Valid())
	assert.Equal(t, "idp-acme-inc", res.OrganizationCode)
	assert.False(t, res.UsedFallback)
	require.NotNil(t, res.Verification)
	assert.True(t, res.Verification.Verified)

	var admin onboarding.User
	require.NoError(t, f.sqlStore.DB.Get(&admin, "SELECT * FROM users WHERE id = ?", res.AdminUserID))
	assert.True(t, admin.IsTenantAdmin)
	assert.True(t, admin.IsVerified)
	assert.Equal(t, "auth0|jo@acme.io", admin.ExternalID)
	assert.Equal(t, map[string]interface{}{"industry": "retail"}, admin.Preferences["onboardingAnswers"])

	var role onboarding.Role
	require.NoError(t, f.sqlStore.DB.Get(&role, "SELECT * FROM roles WHERE tenant_id = ?", res.TenantID))
	assert.Equal(t, onboarding.SuperAdminRoleName, role.Name)
	assert.Equal(t, onboarding.StringList{"tenant:*", "crm:*", "hr:*"}, role.Permissions)

	var sub onboarding.Subscription
	require.NoError(t, f.sqlStore.DB.Get(&sub, "SELECT * FROM subscriptions WHERE id = ?", res.SubscriptionID))
	assert.Equal(t, onboarding.SubscriptionTrialing, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	assert.True(t, testNow.AddDate(0, 0, 14).Equal(*sub.TrialEndsAt))
}

func TestOnboard_FastIterationTrial(t *testing.T) {
	f := newFixture(t, withMode(plan.ModeFastIteration))
	res := f.mustOnboard(t, trialRequest("jo@acme.io"))

	var sub onboarding.Subscription
	require.NoError(t, f.sqlStore.DB.Get(&sub, "SELECT * FROM subscriptions WHERE id = ?", res.SubscriptionID))
	require.NotNil(t, sub.TrialEndsAt)
	assert.True(t, testNow.AddDate(0, 0, 1).Equal(*sub.TrialEndsAt))
}

func TestOnboard_PublishesPerApplication(t *testing.T) {
	f := newFixture(t)
	f.transport.fail["hr"] = true

	res := f.mustOnboard(t, trialRequest("jo@acme.io"))
	f.svc.Wait()

	assert.Equal(t, []string{"crm"}, f.transport.targets())

	select {
	case err := <-f.svc.PublishErrors():
		assert.Contains(t, err.Error(), "hr")
	default:
		t.Fatal("expected a publish error for hr")
	}

	var target string
	require.NoError(t, f.sqlStore.DB.Get(&target,
		"SELECT target_application FROM outbox_events WHERE tenant_id = ?", res.TenantID))
	assert.Equal(t, "analytics", target)
}

func TestOnboard_Rejections(t *testing.T) {
	f := newFixture(t)
	f.mustOnboard(t, trialRequest("jo@acme.io"))

	t.Run("validation", func(t *testing.T) {
		res, err := f.svc.RunOnboardingSaga(context.Background(), &onboarding.OnboardingRequest{
			Type:       onboarding.OnboardingTrial,
			AdminEmail: "not-an-email",
			Plan:       "platinum",
		})
		require.NoError(t, err)
		require.Equal(t, onboarding.StatusFailed, res.Status)
		assert.Equal(t, onboarding.KindValidationFailed, res.Failure.Kind)
		assert.False(t, res.Failure.Retryable)

		var fields []string
		for k := range res.Failure.Fields {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		assert.Equal(t, []string{"adminEmail", "adminName", "companyName", "plan"}, fields)
	})

	t.Run("email owned by another identity", func(t *testing.T) {
		req := trialRequest("jo@acme.io")
		req.ExternalID = "auth0|someone-else"
		res, err := f.svc.RunOnboardingSaga(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, onboarding.StatusDuplicate, res.Status)
		assert.Equal(t, onboarding.KindDuplicateRegistration, res.Failure.Kind)
		assert.Equal(t, "adminEmail", res.Failure.Field)
	})

	t.Run("subdomain taken", func(t *testing.T) {
		req := trialRequest("max@other.io")
		req.Subdomain = "acme-inc"
		res, err := f.svc.RunOnboardingSaga(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, onboarding.StatusDuplicate, res.Status)
		assert.Equal(t, "subdomain", res.Failure.Field)
	})

	rec, err := f.svc.GetRetryState(context.Background(), "", "max@other.io")
	require.NoError(t, err)
	assert.Nil(t, rec, "rejections leave no retry state")
}

func TestOnboard_BearerTokenIdentity(t *testing.T) {
	f := newFixture(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "auth0|caller",
		"email": "jo@acme.io",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := trialRequest("jo@acme.io")
	req.BearerToken = token
	res := f.mustOnboard(t, req)

	var admin onboarding.User
	require.NoError(t, f.sqlStore.DB.Get(&admin, "SELECT * FROM users WHERE id = ?", res.AdminUserID))
	assert.Equal(t, "auth0|caller", admin.ExternalID)

	// the same caller is redirected, anyone else is a duplicate
	res2, err := f.svc.RunOnboardingSaga(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusAlreadyOnboarded, res2.Status)

	other := trialRequest("jo@acme.io")
	other.ExternalID = "auth0|intruder"
	res3, err := f.svc.RunOnboardingSaga(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusDuplicate, res3.Status)
}

func TestOnboard_NilRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunOnboardingSaga(context.Background(), nil)
	assert.Equal(t, tenant.ErrOnboardInvalid, err)
}
