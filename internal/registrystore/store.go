// Package registrystore is the registry's SQL storage layer: tenants, API
// keys, tests, per-test debounce state, runs, and the dispatch-run log.
// It dispatches between SQLite and Postgres by DSN scheme ("sqlite://" /
// "postgresql://") and applies versioned migrations embedded via embed.FS.
package registrystore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps a *sql.DB plus the driver name ("sqlite3" or "postgres").
type Store struct {
	DB     *sql.DB
	Driver string
}

// Open parses a DATABASE_URL-style connection string ("sqlite://path" or
// "postgresql://..."), opens the connection, and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	driver, dsn, err := parseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite3" {
		db.SetMaxOpenConns(1) // single-writer discipline; WAL is set via DSN param
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{DB: db, Driver: driver}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func parseDatabaseURL(dbURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		dsn = strings.TrimPrefix(dbURL, "sqlite://")
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_fk=1&_journal_mode=WAL"
		}
		if !strings.Contains(dsn, "_txlock=") {
			dsn += "&_txlock=immediate"
		}
		return "sqlite3", dsn, nil
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		return "postgres", dbURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL format: %s (use sqlite:// or postgresql://)", dbURL)
	}
}

// Migrate applies every embedded migration in filename order. It is
// idempotent: the schema's own CREATE TABLE IF NOT EXISTS statements make
// re-application a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := migrationFS.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.DB.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// TxFunc is the unit of work run inside WithTx.
type TxFunc func(tx *sql.Tx) error

// WithTx runs fn inside a transaction. On SQLite, the DSN's
// _txlock=immediate makes every transaction start with BEGIN IMMEDIATE, and
// SetMaxOpenConns(1) plus WAL mode keep a single writer; on Postgres it is a
// plain transaction.
// fn's error rolls the transaction back; success commits.
func (s *Store) WithTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	return s.runTx(tx, fn)
}

func (s *Store) runTx(tx *sql.Tx, fn TxFunc) error {
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
