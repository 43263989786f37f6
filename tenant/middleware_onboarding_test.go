package tenant_test

import (
	"context"
	"errors"
	"testing"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/prom/promtest"
	"github.com/influxdata/onboarding/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type onboardingFunc func(context.Context, *onboarding.OnboardingRequest) (*onboarding.OnboardingResult, error)

func (f onboardingFunc) RunOnboardingSaga(ctx context.Context, req *onboarding.OnboardingRequest) (*onboarding.OnboardingResult, error) {
	return f(ctx, req)
}

func sequence(results ...*onboarding.OnboardingResult) onboardingFunc {
	i := 0
	return func(context.Context, *onboarding.OnboardingRequest) (*onboarding.OnboardingResult, error) {
		res := results[i]
		i++
		if res == nil {
			return nil, errors.New("storage unavailable")
		}
		return res, nil
	}
}

func TestOnboardingMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	svc := tenant.NewOnboardingMetrics(reg, sequence(
		&onboarding.OnboardingResult{Status: onboarding.StatusCompleted, Success: true},
		onboarding.FailedResult(&onboarding.Failure{Kind: onboarding.KindTransactionFailed}),
		onboarding.FailedResult(&onboarding.Failure{Kind: onboarding.KindTransactionFailed}),
		nil,
	))

	for i := 0; i < 4; i++ {
		_, _ = svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	}

	mfs := promtest.MustGather(t, reg)

	calls := promtest.MustFindMetric(t, mfs, "service_onboard_call_total", map[string]string{"method": "run_onboarding_saga"})
	assert.Equal(t, float64(4), calls.GetCounter().GetValue())

	errs := promtest.MustFindMetric(t, mfs, "service_onboard_error_total", map[string]string{"method": "run_onboarding_saga", "code": "internal error"})
	assert.Equal(t, float64(1), errs.GetCounter().GetValue())

	completed := promtest.MustFindMetric(t, mfs, "service_onboard_result_total", map[string]string{"status": "completed", "kind": ""})
	assert.Equal(t, float64(1), completed.GetCounter().GetValue())

	failed := promtest.MustFindMetric(t, mfs, "service_onboard_result_total", map[string]string{"status": "failed", "kind": string(onboarding.KindTransactionFailed)})
	assert.Equal(t, float64(2), failed.GetCounter().GetValue())
}

func TestOnboardingLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	svc := tenant.NewOnboardingLogger(zap.New(core), sequence(
		onboarding.FailedResult(&onboarding.Failure{Kind: onboarding.KindVerificationFailed}),
		nil,
	))

	res, err := svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusFailed, res.Status)

	_, err = svc.RunOnboardingSaga(context.Background(), trialRequest("jo@acme.io"))
	require.Error(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, "run onboarding saga", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "failed", fields["status"])
	assert.Equal(t, string(onboarding.KindVerificationFailed), fields["kind"])
	assert.Contains(t, fields, "took")

	assert.Equal(t, "failed to run onboarding saga", entries[1].Message)
	assert.Equal(t, "storage unavailable", entries[1].ContextMap()["error"])
}
