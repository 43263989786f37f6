package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DefaultFilename = "onboarding.sqlite"
	InmemPath       = ":memory:"
	sqliteDriver    = "sqlite3"
)

// SqlStore is a wrapper around the db and provides basic functionality for maintaining the db
// including flushing the data from the db during end-to-end testing.
type SqlStore struct {
	Mu   sync.Mutex
	DB   *sqlx.DB
	log  *zap.Logger
	path string
}

func NewSqlStore(path string, log *zap.Logger) (*SqlStore, error) {
	s := &SqlStore{
		log:  log,
		path: path,
	}

	if err := s.openDB(); err != nil {
		return nil, err
	}

	return s, nil
}

// open the file at the specified path
func (s *SqlStore) openDB() error {
	var dsn string
	if s.path == InmemPath {
		dsn = "file::memory:?_foreign_keys=on"
	} else {
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", s.path)
	}

	db, err := sqlx.Open(sqliteDriver, dsn)
	if err != nil {
		return err
	}
	// a single connection serializes writers and keeps an in-memory database alive
	// for the lifetime of the store.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	s.DB = db
	s.log.Debug("Resources opened", zap.String("path", s.path))
	return nil
}

// Close the connection to the sqlite database
func (s *SqlStore) Close() error {
	if err := s.DB.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite db: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database, or InmemPath.
func (s *SqlStore) Path() string {
	return s.path
}

// Update runs fn inside a read-write transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. Writers are serialized through Mu.
func (s *SqlStore) Update(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	return s.withTx(ctx, fn)
}

// View runs fn inside a transaction that is always rolled back.
func (s *SqlStore) View(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(&Tx{Tx: tx})
}

func (s *SqlStore) withTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	stx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			stx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{Tx: stx}); err != nil {
		if rerr := stx.Rollback(); rerr != nil {
			s.log.Error("Failed to roll back transaction", zap.Error(rerr))
		}
		return err
	}

	return stx.Commit()
}

// Flush deletes all records for all tables in the database except for the
// migration table. This method should only be used during end-to-end testing.
func (s *SqlStore) Flush(ctx context.Context) {
	tables, err := s.tableNames()
	if err != nil {
		s.log.Fatal("unable to flush sqlite", zap.Error(err))
	}

	// the pool holds a single connection, so the pragma applies to the deletes below.
	if _, err := s.DB.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		s.log.Fatal("unable to flush sqlite", zap.Error(err))
	}
	defer s.DB.ExecContext(ctx, `PRAGMA foreign_keys = ON`)

	for _, t := range tables {
		stmt := fmt.Sprintf("DELETE FROM %s", quoteIdent(t))
		if err := s.execTrans(ctx, stmt); err != nil {
			s.log.Fatal("unable to flush sqlite", zap.Error(err))
		}
	}
	s.log.Debug("sqlite data flushed successfully")
}

func (s *SqlStore) execTrans(ctx context.Context, stmt string) error {
	// use a lock to prevent two potential simultaneous write operations to the database,
	// which would throw an error
	s.Mu.Lock()
	defer s.Mu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *SqlStore) userVersion() (int, error) {
	stmt := `PRAGMA user_version`
	res, err := s.queryToStrings(stmt)
	if err != nil {
		return 0, err
	}

	val := 0
	if len(res) > 0 {
		if _, err := fmt.Sscan(res[0], &val); err != nil {
			return 0, err
		}
	}

	return val, nil
}

func (s *SqlStore) tableNames() ([]string, error) {
	stmt := `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid`
	return s.queryToStrings(stmt)
}

// helper function for running a read-only query resulting in a slice of strings from
// an arbitrary statement.
func (s *SqlStore) queryToStrings(stmt string) ([]string, error) {
	var output []string

	rows, err := s.DB.Query(stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var i string
		err = rows.Scan(&i)
		if err != nil {
			return nil, err
		}

		output = append(output, i)
	}

	return output, rows.Err()
}

// IsUniqueConstraint reports whether err is a UNIQUE or PRIMARY KEY violation.
func IsUniqueConstraint(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsNotFound reports whether err means a single-row query matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// quoteIdent is used where table names come from sqlite_master.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
