package events

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RelayConfig configures a Relay.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxAttempts stops redelivery of an event after this many failed passes.
	MaxAttempts int
	// Retries is the number of immediate retries within one pass.
	Retries uint64
}

func (c *RelayConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
}

// Relay delivers outbox events through a Transport.
type Relay struct {
	outbox     *Outbox
	transport  Transport
	cfg        RelayConfig
	log        *zap.Logger
	clock      clock.Clock
	newBackOff func() backoff.BackOff
}

func NewRelay(outbox *Outbox, transport Transport, cfg RelayConfig, log *zap.Logger) *Relay {
	cfg.withDefaults()
	return &Relay{
		outbox:    outbox,
		transport: transport,
		cfg:       cfg,
		log:       log,
		clock:     clock.New(),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 100 * time.Millisecond
			bo.MaxInterval = 2 * time.Second
			bo.MaxElapsedTime = 10 * time.Second
			return bo
		},
	}
}

// Run relays pending events every interval until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil {
			r.log.Error("Outbox relay pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce delivers one batch and returns the number of events published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	evts, err := r.outbox.Pending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range evts {
		e := &evts[i]
		op := func() error {
			return r.transport.Publish(ctx, e.Message())
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.cfg.Retries), ctx)
		if err := backoff.Retry(op, bo); err != nil {
			r.log.Warn("Outbox event delivery failed",
				zap.Stringer("event_id", e.ID),
				zap.String("event_type", e.EventType),
				zap.String("target_application", e.TargetApplication),
				zap.Int("attempts", e.Attempts+1),
				zap.Error(err))
			if merr := r.outbox.MarkFailed(ctx, e.ID, err); merr != nil {
				return published, merr
			}
			continue
		}
		if err := r.outbox.MarkPublished(ctx, e.ID); err != nil {
			return published, err
		}
		published++
	}

	if len(evts) > 0 {
		r.log.Info("Outbox batch processed",
			zap.Int("batch_size", len(evts)),
			zap.Int("published", published))
	}
	return published, nil
}
