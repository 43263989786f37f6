package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/mock/gomock"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/kit/prom/promtest"
	"github.com/influxdata/onboarding/mock"
	"github.com/influxdata/onboarding/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

//go:generate go run github.com/golang/mock/mockgen -package mock -destination ../mock/events_transport.go github.com/influxdata/onboarding/events Transport

const tenantID = platform.ID(0x0b1)

type snapshotReader struct {
	snap *onboarding.TenantSnapshot
	err  error
}

func (r snapshotReader) TenantSnapshot(_ context.Context, id platform.ID) (*onboarding.TenantSnapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.snap, nil
}

func testSnapshot() *onboarding.TenantSnapshot {
	return &onboarding.TenantSnapshot{
		Tenant: onboarding.Tenant{ID: tenantID, Name: "Acme", Plan: "enterprise"},
		Entitlements: []onboarding.Entitlement{
			{AppCode: "crm", SubscriptionTier: "enterprise", EnabledModules: onboarding.StringList{"deals"}, IsEnabled: true},
			{AppCode: "hr", SubscriptionTier: "enterprise", EnabledModules: onboarding.StringList{"leave", "payroll"}, IsEnabled: true},
			{AppCode: "legacy", SubscriptionTier: "enterprise", IsEnabled: false},
		},
	}
}

func TestPublisher_PublishProvisioned(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock.NewMockTransport(ctrl)
	store := sqlite.NewTestStore(t)
	outbox := events.NewOutbox(store, zaptest.NewLogger(t))
	reg := prometheus.NewRegistry()

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	tr.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m events.Message) error {
		assert.Equal(t, events.EventTypeApplicationProvisioned, m.EventType)
		assert.Equal(t, "tenant-onboarding", m.SourceApplication)
		if m.TargetApplication == "hr" {
			return errors.New("broker unavailable")
		}

		var p events.ApplicationProvisioned
		assert.NoError(t, json.Unmarshal(m.Payload, &p))
		assert.Equal(t, "crm", p.AppCode)
		assert.Equal(t, []string{"deals"}, p.EnabledModules)
		assert.Equal(t, events.BootstrapPull, p.Bootstrap)
		assert.Equal(t, tenantID, p.TenantID)
		return nil
	}).Times(2)

	pub := events.NewPublisher(snapshotReader{snap: testSnapshot()}, tr, outbox, events.PublisherConfig{
		SnapshotConsumer: "analytics",
	}, zaptest.NewLogger(t), reg).WithClock(clk)

	outcomes, err := pub.PublishProvisioned(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byTarget := map[string]error{}
	for _, o := range outcomes {
		byTarget[o.Target] = o.Err
	}
	assert.NoError(t, byTarget["crm"])
	assert.Error(t, byTarget["hr"])
	assert.NoError(t, byTarget["analytics"])

	pending, err := outbox.Pending(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, events.EventTypeTenantSnapshot, pending[0].EventType)
	assert.Equal(t, "analytics", pending[0].TargetApplication)
	assert.Equal(t, tenantID, pending[0].TenantID)

	mfs := promtest.MustGather(t, reg)
	failures := promtest.MustFindMetric(t, mfs, "onboarding_events_publish_failures_total", map[string]string{
		"event_type": events.EventTypeApplicationProvisioned,
		"target":     "hr",
	})
	assert.Equal(t, 1.0, failures.GetCounter().GetValue())
	published := promtest.MustFindMetric(t, mfs, "onboarding_events_published_total", map[string]string{
		"event_type": events.EventTypeTenantSnapshot,
		"target":     "analytics",
	})
	assert.Equal(t, 1.0, published.GetCounter().GetValue())
}

func TestPublisher_SnapshotIsDeduplicated(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock.NewMockTransport(ctrl)
	tr.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	store := sqlite.NewTestStore(t)
	outbox := events.NewOutbox(store, zaptest.NewLogger(t))
	pub := events.NewPublisher(snapshotReader{snap: testSnapshot()}, tr, outbox, events.PublisherConfig{
		SnapshotConsumer: "analytics",
	}, zaptest.NewLogger(t), nil)

	for i := 0; i < 2; i++ {
		_, err := pub.PublishProvisioned(context.Background(), tenantID)
		require.NoError(t, err)
	}

	pending, err := outbox.Pending(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPublisher_NoSnapshotConsumer(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock.NewMockTransport(ctrl)
	tr.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	pub := events.NewPublisher(snapshotReader{snap: testSnapshot()}, tr, nil, events.PublisherConfig{}, zaptest.NewLogger(t), nil)
	outcomes, err := pub.PublishProvisioned(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
}

func TestPublisher_ReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock.NewMockTransport(ctrl)

	pub := events.NewPublisher(snapshotReader{err: errors.New("db closed")}, tr, nil, events.PublisherConfig{}, zaptest.NewLogger(t), nil)
	_, err := pub.PublishProvisioned(context.Background(), tenantID)
	require.Error(t, err)
}
