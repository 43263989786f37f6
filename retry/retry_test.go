package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/retry"
	"github.com/influxdata/onboarding/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testStores(t *testing.T) map[string]retry.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := zaptest.NewLogger(t)
	return map[string]retry.Store{
		"sqlite": retry.NewSQLStore(sqlite.NewTestStore(t), log),
		"redis":  retry.NewRedisStore(client, time.Hour, log),
	}
}

func TestStore(t *testing.T) {
	for name, s := range testStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := s.Get(ctx, "auth0|1", "jo@acme.io")
			require.NoError(t, err)
			require.Nil(t, got)

			req := onboarding.OnboardingRequest{
				Type:        onboarding.OnboardingTrial,
				CompanyName: "Acme",
				AdminEmail:  "Jo@Acme.io",
				AdminName:   "Jo",
				Plan:        "starter",
				BearerToken: "secret",
				Answers:     map[string]interface{}{"industry": "retail"},
			}
			require.NoError(t, s.Put(ctx, &retry.Record{
				ExternalID:       "auth0|1",
				Email:            "Jo@Acme.io",
				Payload:          req,
				Kind:             onboarding.KindTransactionFailed,
				Step:             "insertSubscription",
				Reason:           "constraint failed",
				OrganizationCode: "org_9x",
			}))

			got, err = s.Get(ctx, "auth0|1", "JO@acme.io ")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "jo@acme.io", got.Email)
			assert.Equal(t, 1, got.Attempts)
			assert.Equal(t, onboarding.KindTransactionFailed, got.Kind)
			assert.Equal(t, "insertSubscription", got.Step)
			assert.Equal(t, "Acme", got.Payload.CompanyName)
			assert.Equal(t, "retail", got.Payload.Answers["industry"])
			assert.Empty(t, got.Payload.BearerToken)

			// a second failure keeps the organization code when none is given
			require.NoError(t, s.Put(ctx, &retry.Record{
				ExternalID: "auth0|1",
				Email:      "jo@acme.io",
				Payload:    req,
				Kind:       onboarding.KindVerificationFailed,
			}))
			got, err = s.Get(ctx, "auth0|1", "jo@acme.io")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Attempts)
			assert.Equal(t, onboarding.KindVerificationFailed, got.Kind)
			assert.Equal(t, "org_9x", got.OrganizationCode)

			// keys are per identity
			other, err := s.Get(ctx, "", "jo@acme.io")
			require.NoError(t, err)
			assert.Nil(t, other)

			require.NoError(t, s.Delete(ctx, "auth0|1", "jo@acme.io"))
			got, err = s.Get(ctx, "auth0|1", "jo@acme.io")
			require.NoError(t, err)
			assert.Nil(t, got)

			// deleting a missing key is not an error
			require.NoError(t, s.Delete(ctx, "auth0|1", "jo@acme.io"))
		})
	}
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := retry.NewRedisStore(client, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &retry.Record{Email: "jo@acme.io"}))

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(ctx, "", "jo@acme.io")
	require.NoError(t, err)
	assert.Nil(t, got)
}
