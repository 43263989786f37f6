package events

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/snowflake"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

// OutboxEvent is a stored message awaiting delivery.
type OutboxEvent struct {
	ID                platform.ID `db:"id"`
	EventType         string      `db:"event_type"`
	SourceApplication string      `db:"source_application"`
	TargetApplication string      `db:"target_application"`
	TenantID          platform.ID `db:"tenant_id"`
	Payload           string      `db:"payload"`
	DedupeKey         string      `db:"dedupe_key"`
	Attempts          int         `db:"attempts"`
	LastError         string      `db:"last_error"`
	PublishedAt       *time.Time  `db:"published_at"`
	CreatedAt         time.Time   `db:"created_at"`
}

// Message returns the message to hand to a Transport.
func (e *OutboxEvent) Message() Message {
	return Message{
		EventType:         e.EventType,
		SourceApplication: e.SourceApplication,
		TargetApplication: e.TargetApplication,
		TenantID:          e.TenantID,
		Payload:           json.RawMessage(e.Payload),
		DedupeKey:         e.DedupeKey,
	}
}

// Outbox is the durable table of events awaiting asynchronous delivery.
type Outbox struct {
	store       *sqlite.SqlStore
	log         *zap.Logger
	idGenerator platform.IDGenerator
	clock       clock.Clock
}

var _ Enqueuer = (*Outbox)(nil)

func NewOutbox(store *sqlite.SqlStore, log *zap.Logger) *Outbox {
	return &Outbox{
		store:       store,
		log:         log,
		idGenerator: snowflake.NewIDGenerator(),
		clock:       clock.New(),
	}
}

// Enqueue stores m unless a message with the same dedupe key exists. It
// reports whether a row was inserted.
func (o *Outbox) Enqueue(ctx context.Context, m Message) (bool, error) {
	query, args, err := sq.Insert("outbox_events").
		Columns("id", "event_type", "source_application", "target_application", "tenant_id", "payload", "dedupe_key", "created_at").
		Values(o.idGenerator.ID(), m.EventType, m.SourceApplication, m.TargetApplication, m.TenantID, string(m.Payload), m.DedupeKey, o.clock.Now().UTC()).
		Suffix("ON CONFLICT (dedupe_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}

	o.store.Mu.Lock()
	defer o.store.Mu.Unlock()

	res, err := o.store.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		o.log.Debug("Outbox event already enqueued", zap.String("dedupe_key", m.DedupeKey))
	}
	return n > 0, nil
}

// Pending returns undelivered events with fewer than maxAttempts attempts, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit, maxAttempts int) ([]OutboxEvent, error) {
	q := sq.Select("*").
		From("outbox_events").
		Where(sq.Eq{"published_at": nil}).
		OrderBy("created_at", "id").
		Limit(uint64(limit))
	if maxAttempts > 0 {
		q = q.Where(sq.Lt{"attempts": maxAttempts})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	evts := []OutboxEvent{}
	if err := o.store.DB.SelectContext(ctx, &evts, query, args...); err != nil {
		return nil, err
	}
	return evts, nil
}

// MarkPublished records the delivery of an event.
func (o *Outbox) MarkPublished(ctx context.Context, id platform.ID) error {
	return o.update(ctx, sq.Update("outbox_events").
		Set("published_at", o.clock.Now().UTC()).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", "").
		Where(sq.Eq{"id": id}))
}

// MarkFailed records a failed delivery attempt.
func (o *Outbox) MarkFailed(ctx context.Context, id platform.ID, cause error) error {
	return o.update(ctx, sq.Update("outbox_events").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", cause.Error()).
		Where(sq.Eq{"id": id}))
}

func (o *Outbox) update(ctx context.Context, q sq.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}

	o.store.Mu.Lock()
	defer o.store.Mu.Unlock()

	_, err = o.store.DB.ExecContext(ctx, query, args...)
	return err
}
