package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSourceApplication names this service in published messages.
const DefaultSourceApplication = "tenant-onboarding"

// SnapshotReader reads the committed state of a tenant.
type SnapshotReader interface {
	TenantSnapshot(ctx context.Context, tenantID platform.ID) (*onboarding.TenantSnapshot, error)
}

// Enqueuer stores a message for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, m Message) (bool, error)
}

// Outcome is the result of publishing one message.
type Outcome struct {
	EventType string
	Target    string
	Err       error
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	SourceApplication string
	// SnapshotConsumer is the one application that receives the snapshot event.
	// No snapshot is written when it is empty.
	SnapshotConsumer string
}

// Publisher notifies downstream applications of a verified tenant.
type Publisher struct {
	reader    SnapshotReader
	transport Transport
	outbox    Enqueuer
	cfg       PublisherConfig
	log       *zap.Logger
	clock     clock.Clock
	metrics   *metrics
}

// NewPublisher returns a Publisher. reg may be nil.
func NewPublisher(reader SnapshotReader, transport Transport, outbox Enqueuer, cfg PublisherConfig, log *zap.Logger, reg prometheus.Registerer) *Publisher {
	if cfg.SourceApplication == "" {
		cfg.SourceApplication = DefaultSourceApplication
	}
	return &Publisher{
		reader:    reader,
		transport: transport,
		outbox:    outbox,
		cfg:       cfg,
		log:       log,
		clock:     clock.New(),
		metrics:   newMetrics(reg),
	}
}

// WithClock sets the clock stamped on payloads.
func (p *Publisher) WithClock(c clock.Clock) *Publisher {
	p.clock = c
	return p
}

// PublishProvisioned sends one notification per enabled entitlement of the
// tenant, concurrently and with independent outcomes, then writes the snapshot
// event to the outbox. Only a failure to read the tenant is returned as an error;
// individual publish failures are reported through the outcomes.
func (p *Publisher) PublishProvisioned(ctx context.Context, tenantID platform.ID) ([]Outcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "events.PublishProvisioned")
	defer span.Finish()

	snap, err := p.reader.TenantSnapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ents := snap.EnabledEntitlements()
	outcomes := make([]Outcome, len(ents), len(ents)+1)
	now := p.clock.Now().UTC()

	var g errgroup.Group
	for i, e := range ents {
		i, e := i, e
		g.Go(func() error {
			outcomes[i] = p.publishEntitlement(ctx, snap, e, now)
			return nil
		})
	}
	_ = g.Wait()

	if p.cfg.SnapshotConsumer != "" {
		outcomes = append(outcomes, p.enqueueSnapshot(ctx, snap))
	}

	for _, o := range outcomes {
		if o.Err != nil {
			span.SetTag("error", true)
			break
		}
	}
	return outcomes, nil
}

func (p *Publisher) publishEntitlement(ctx context.Context, snap *onboarding.TenantSnapshot, e onboarding.Entitlement, now time.Time) Outcome {
	out := Outcome{EventType: EventTypeApplicationProvisioned, Target: e.AppCode}

	payload, err := json.Marshal(ApplicationProvisioned{
		TenantID:       snap.Tenant.ID,
		AppCode:        e.AppCode,
		Plan:           snap.Tenant.Plan,
		Tier:           e.SubscriptionTier,
		EnabledModules: e.EnabledModules,
		ExpiresAt:      e.ExpiresAt,
		Bootstrap:      BootstrapPull,
		ProvisionedAt:  now,
	})
	if err == nil {
		err = p.transport.Publish(ctx, Message{
			EventType:         EventTypeApplicationProvisioned,
			SourceApplication: p.cfg.SourceApplication,
			TargetApplication: e.AppCode,
			TenantID:          snap.Tenant.ID,
			Payload:           payload,
			DedupeKey:         fmt.Sprintf("%s:%s:%s", EventTypeApplicationProvisioned, snap.Tenant.ID, e.AppCode),
		})
	}

	out.Err = err
	p.metrics.record(out.EventType, out.Target, err)
	if err != nil {
		p.log.Warn("Failed to publish provisioning event",
			zap.Stringer("tenant_id", snap.Tenant.ID),
			zap.String("target_application", e.AppCode),
			zap.Error(err))
	}
	return out
}

func (p *Publisher) enqueueSnapshot(ctx context.Context, snap *onboarding.TenantSnapshot) Outcome {
	out := Outcome{EventType: EventTypeTenantSnapshot, Target: p.cfg.SnapshotConsumer}

	payload, err := json.Marshal(snap)
	if err == nil {
		_, err = p.outbox.Enqueue(ctx, Message{
			EventType:         EventTypeTenantSnapshot,
			SourceApplication: p.cfg.SourceApplication,
			TargetApplication: p.cfg.SnapshotConsumer,
			TenantID:          snap.Tenant.ID,
			Payload:           payload,
			DedupeKey:         fmt.Sprintf("%s:%s:%s", EventTypeTenantSnapshot, snap.Tenant.ID, p.cfg.SnapshotConsumer),
		})
	}

	out.Err = err
	p.metrics.record(out.EventType, out.Target, err)
	if err != nil {
		p.log.Warn("Failed to enqueue tenant snapshot",
			zap.Stringer("tenant_id", snap.Tenant.ID),
			zap.String("target_application", p.cfg.SnapshotConsumer),
			zap.Error(err))
	}
	return out
}
