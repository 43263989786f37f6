package sqlite

import (
	"context"
	"testing"

	"github.com/influxdata/onboarding/sqlite/migrations"
	"go.uber.org/zap/zaptest"
)

// NewTestStore returns an in-memory store with every migration applied.
// The store is closed when the test completes.
func NewTestStore(t testing.TB) *SqlStore {
	t.Helper()

	store := newBareTestStore(t)
	if err := NewMigrator(store, zaptest.NewLogger(t)).Up(context.Background(), migrations.AllUp); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}
	return store
}

func newBareTestStore(t testing.TB) *SqlStore {
	t.Helper()

	store, err := NewSqlStore(InmemPath, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
