package tenant

import (
	"context"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/metric"
	"github.com/prometheus/client_golang/prometheus"
)

var _ onboarding.OnboardingService = (*OnboardingMetrics)(nil)

type OnboardingMetrics struct {
	// RED metrics
	rec *metric.REDClient
	// saga results by status and failure kind
	results *prometheus.CounterVec

	onboardingService onboarding.OnboardingService
}

// NewOnboardingMetrics returns a metrics service middleware for the Onboarding Service.
func NewOnboardingMetrics(reg prometheus.Registerer, s onboarding.OnboardingService, opts ...metric.ClientOptFn) *OnboardingMetrics {
	o := metric.ApplyMetricOpts(opts...)
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "service",
		Subsystem: o.ApplySuffix("onboard"),
		Name:      "result_total",
		Help:      "Number of onboarding saga results",
	}, []string{"status", "kind"})
	if reg != nil {
		reg.MustRegister(results)
	}
	return &OnboardingMetrics{
		rec:               metric.New(reg, o.ApplySuffix("onboard")),
		results:           results,
		onboardingService: s,
	}
}

func (m *OnboardingMetrics) RunOnboardingSaga(ctx context.Context, req *onboarding.OnboardingRequest) (*onboarding.OnboardingResult, error) {
	rec := m.rec.Record("run_onboarding_saga")
	res, err := m.onboardingService.RunOnboardingSaga(ctx, req)
	if err == nil && res != nil {
		kind := ""
		if res.Failure != nil {
			kind = string(res.Failure.Kind)
		}
		m.results.With(prometheus.Labels{"status": string(res.Status), "kind": kind}).Inc()
	}
	return res, rec(err)
}
