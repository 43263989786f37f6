package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "onboarding"
	subsystem = "events"
)

type metrics struct {
	published *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "published_total",
			Help:      "Number of events handed to the transport or outbox",
		}, []string{"event_type", "target"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publish_failures_total",
			Help:      "Number of events that could not be published",
		}, []string{"event_type", "target"}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.failures)
	}
	return m
}

func (m *metrics) record(eventType, target string, err error) {
	if err != nil {
		m.failures.WithLabelValues(eventType, target).Inc()
		return
	}
	m.published.WithLabelValues(eventType, target).Inc()
}
