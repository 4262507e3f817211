// Package store is the transactional persistence boundary for bots,
// updates, ingest jobs, sessions, turns, run jobs, events, deferred
// actions, tokens, counters, and audit log entries.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a *sql.DB with the capability flag that determines which
// lease-claim code path is used.
type Store struct {
	db *sql.DB

	// supportsSkipLocked selects SELECT ... FOR UPDATE SKIP LOCKED claim
	// semantics when true, or the compare-and-swap fallback when false.
	// The modernc.org/sqlite driver wired here never supports row-level
	// locking, so this is always false for this build; it exists so a
	// future target-RDBMS driver can flip it without changing callers.
	supportsSkipLocked bool
}

// Open opens (creating if necessary) a SQLite database at path, applies
// WAL mode and a single-writer connection pool, and runs migrations.
// Pass ":memory:" for an ephemeral in-process database (tests).
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	// Single-writer: SQLite serializes writers regardless, but capping
	// the pool at one connection avoids SQLITE_BUSY from concurrent
	// writers within this process.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, supportsSkipLocked: false}, nil
}

// Migrate applies all embedded goose migrations to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need raw access
// (metrics snapshot queries, admin diagnostics).
func (s *Store) DB() *sql.DB {
	return s.db
}
