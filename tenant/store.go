package tenant

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/snowflake"
	"github.com/influxdata/onboarding/sqlite"
	"go.uber.org/zap"
)

// Store reads and writes tenant data. Write methods take the *sqlite.Tx of an
// enclosing Update and stamp rows with the tenant bound to it.
type Store struct {
	sqlStore *sqlite.SqlStore
	log      *zap.Logger

	IDGen platform.IDGenerator
	clock clock.Clock
}

type StoreOption func(*Store)

// WithClock sets the clock used for timestamps and trial windows.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

// WithIDGenerator sets the ID generator for new rows.
func WithIDGenerator(g platform.IDGenerator) StoreOption {
	return func(s *Store) {
		s.IDGen = g
	}
}

func NewStore(store *sqlite.SqlStore, log *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		sqlStore: store,
		log:      log,
		IDGen:    snowflake.NewDefaultIDGenerator(),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View opens up a transaction that will not write to any data. Implementing interfaces
// should take care to ensure that all view transactions do not mutate any data.
func (s *Store) View(ctx context.Context, fn func(tx *sqlite.Tx) error) error {
	return s.sqlStore.View(ctx, fn)
}

// Update opens up a transaction that will mutate data.
func (s *Store) Update(ctx context.Context, fn func(tx *sqlite.Tx) error) error {
	return s.sqlStore.Update(ctx, fn)
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) newID() platform.ID {
	return s.IDGen.ID()
}

func get(ctx context.Context, tx *sqlite.Tx, dest interface{}, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	return tx.GetContext(ctx, dest, query, args...)
}

func selectAll(ctx context.Context, tx *sqlite.Tx, dest interface{}, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	return tx.SelectContext(ctx, dest, query, args...)
}

func exec(ctx context.Context, tx *sqlite.Tx, q sq.Sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, query, args...)
}
