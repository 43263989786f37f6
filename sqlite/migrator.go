package sqlite

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Migrator applies numbered schema scripts named like "0003_create_applications.sql".
// The database's user_version records the last script applied.
type Migrator struct {
	store *SqlStore
	log   *zap.Logger
}

func NewMigrator(store *SqlStore, log *zap.Logger) *Migrator {
	return &Migrator{
		store: store,
		log:   log,
	}
}

type script struct {
	name    string
	version int
}

// Up applies every script in source whose version is greater than the
// database's user_version, in version order. Each script runs in its own
// transaction together with the user_version bump, so a failed script leaves
// the version untouched.
func (m *Migrator) Up(ctx context.Context, source fs.ReadFileFS) error {
	scripts, err := listScripts(source)
	if err != nil {
		return err
	}

	current, err := m.store.userVersion()
	if err != nil {
		return err
	}

	var pending []script
	for _, s := range scripts {
		if s.version > current {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	m.log.Info("Bringing up schema migrations",
		zap.Int("from_version", current),
		zap.Int("to_version", pending[len(pending)-1].version))

	for _, s := range pending {
		m.log.Debug("Executing schema migration", zap.String("migration_name", s.name))
		body, err := source.ReadFile(s.name)
		if err != nil {
			return err
		}

		stmt := fmt.Sprintf("%s\nPRAGMA user_version = %d;", body, s.version)
		if err := m.store.execTrans(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s: %w", s.name, err)
		}
	}
	return nil
}

func listScripts(source fs.ReadFileFS) ([]script, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, err
	}

	var scripts []script
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		v, err := scriptVersion(e.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script{name: e.Name(), version: v})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func scriptVersion(filename string) (int, error) {
	prefix, _, _ := strings.Cut(filename, "_")
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %s has no numeric version prefix: %w", filename, err)
	}
	return v, nil
}
