package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/influxdata/onboarding/kit/platform"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newBareTestStore(t)

	err := store.execTrans(ctx, `CREATE TABLE test_table_1 (id TEXT NOT NULL PRIMARY KEY)`)
	require.NoError(t, err)

	err = store.execTrans(ctx, `INSERT INTO test_table_1 (id) VALUES ("one"), ("two"), ("three")`)
	require.NoError(t, err)

	vals, err := store.queryToStrings(`SELECT * FROM test_table_1`)
	require.NoError(t, err)
	require.Equal(t, 3, len(vals))

	store.Flush(context.Background())

	vals, err = store.queryToStrings(`SELECT * FROM test_table_1`)
	require.NoError(t, err)
	require.Equal(t, 0, len(vals))
}

func TestFlushMigratedStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTestStore(t)

	require.NoError(t, store.execTrans(ctx, `INSERT INTO tenants
		(id, name, subdomain, admin_email, plan, created_at, updated_at)
		VALUES (1, 'acme', 'acme', 'a@acme.io', 'free', datetime('now'), datetime('now'))`))
	require.NoError(t, store.execTrans(ctx, `INSERT INTO organizations
		(id, tenant_id, name, entity_level, hierarchy_path, created_at)
		VALUES (2, 1, 'acme', 1, '/0000000000000002', datetime('now'))`))

	store.Flush(ctx)

	got, err := store.queryToStrings(`SELECT id FROM tenants`)
	require.NoError(t, err)
	require.Empty(t, got)

	// flushing must not leave foreign keys switched off.
	fk, err := store.queryToStrings(`PRAGMA foreign_keys`)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, fk)
}

func TestTableNames(t *testing.T) {
	t.Parallel()

	store := newBareTestStore(t)
	ctx := context.Background()

	err := store.execTrans(ctx, `CREATE TABLE test_table_1 (id TEXT NOT NULL PRIMARY KEY);
	CREATE TABLE test_table_3 (id TEXT NOT NULL PRIMARY KEY);
	CREATE TABLE test_table_2 (id TEXT NOT NULL PRIMARY KEY);`)
	require.NoError(t, err)

	got, err := store.tableNames()
	require.NoError(t, err)
	require.Equal(t, []string{"test_table_1", "test_table_3", "test_table_2"}, got)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newBareTestStore(t)
	require.NoError(t, store.execTrans(ctx, `CREATE TABLE things (id TEXT NOT NULL PRIMARY KEY)`))

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO things (id) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.queryToStrings(`SELECT id FROM things`)
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, store.Update(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO things (id) VALUES ('b')`)
		return err
	}))

	got, err = store.queryToStrings(`SELECT id FROM things`)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, got)
}

func TestTxTenantContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newBareTestStore(t)

	err := store.View(ctx, func(tx *Tx) error {
		_, err := tx.TenantID()
		require.ErrorIs(t, err, ErrNoTenantContext)

		require.Error(t, tx.SetTenantContext(platform.InvalidID()))
		require.NoError(t, tx.SetTenantContext(platform.ID(10)))
		require.NoError(t, tx.SetTenantContext(platform.ID(10)))
		require.Error(t, tx.SetTenantContext(platform.ID(11)))

		id, err := tx.TenantID()
		require.NoError(t, err)
		require.Equal(t, platform.ID(10), id)
		return nil
	})
	require.NoError(t, err)
}

func TestIsUniqueConstraint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newBareTestStore(t)
	require.NoError(t, store.execTrans(ctx, `CREATE TABLE things (id TEXT NOT NULL PRIMARY KEY, email TEXT UNIQUE)`))
	require.NoError(t, store.execTrans(ctx, `INSERT INTO things (id, email) VALUES ('a', 'x@y.z')`))

	err := store.execTrans(ctx, `INSERT INTO things (id, email) VALUES ('b', 'x@y.z')`)
	require.Error(t, err)
	require.True(t, IsUniqueConstraint(err))
	require.True(t, IsUniqueConstraint(fmt.Errorf("wrapped: %w", err)))

	require.False(t, IsUniqueConstraint(errors.New("nope")))
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	path := fmt.Sprintf("%s/%s", t.TempDir(), DefaultFilename)
	store, err := NewSqlStore(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, path, store.Path())
	require.NoError(t, store.execTrans(context.Background(), `CREATE TABLE t (id INTEGER)`))
	require.NoError(t, store.Close())

	reopened, err := NewSqlStore(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	names, err := reopened.tableNames()
	require.NoError(t, err)
	require.Equal(t, []string{"t"}, names)
}
