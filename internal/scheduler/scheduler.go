// Package scheduler implements the lease-claim algorithm shared by
// every polling job queue in the store: ingest jobs and run jobs both
// claim the oldest available row for a bot, assigning it to an owner
// for a bounded lease, with the same two claim strategies depending on
// what the underlying SQL engine supports.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJob is returned when no row is claimable, including the case
// where a competing claimant won the race.
var ErrNoJob = errors.New("scheduler: no job available")

// RowScanner is satisfied by *sql.Row and *sql.Rows, letting Scan
// callbacks work against either a transaction-scoped or pooled query.
type RowScanner interface {
	Scan(dest ...any) error
}

// Query describes one lease-claimable job table: the columns a
// candidate row is read back with, and the status values that count
// as "leased but possibly expired" for that table. Tables differ here
// — ingest jobs only ever sit in 'leased', run jobs also pass through
// 'in_flight' before completing — which is why this isn't hardcoded.
type Query struct {
	Table          string
	SelectColumns  string
	LeasedStatuses []string
}

func (q Query) leasedPlaceholders() string {
	ph := make([]string, len(q.LeasedStatuses))
	for i := range ph {
		ph[i] = "?"
	}
	return "(" + strings.Join(ph, ", ") + ")"
}

func (q Query) leasedArgs() []any {
	args := make([]any, len(q.LeasedStatuses))
	for i, s := range q.LeasedStatuses {
		args[i] = s
	}
	return args
}

// ScanFunc decodes a candidate row into the caller's own job struct
// and returns its id, used for the follow-up UPDATE.
type ScanFunc func(RowScanner) (id string, err error)

// ClaimSkipLocked is the target-RDBMS path: SELECT ... FOR UPDATE SKIP
// LOCKED inside a transaction, then UPDATE the winning row. Unreachable
// while Store.supportsSkipLocked is false; kept so a future
// Postgres-backed store need only route here.
func ClaimSkipLocked(ctx context.Context, db *sql.DB, q Query, botID, owner string, now, leaseMs int64, scan ScanFunc) (expiresAt int64, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE bot_id = ? AND available_at <= ?
		  AND (status = 'queued' OR (status IN %s AND lease_expires_at < ?))
		ORDER BY available_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, q.SelectColumns, q.Table, q.leasedPlaceholders())

	args := append([]any{botID, now}, q.leasedArgs()...)
	args = append(args, now)

	id, err := scan(tx.QueryRowContext(ctx, selectQuery, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoJob
	}
	if err != nil {
		return 0, fmt.Errorf("select for lease: %w", err)
	}

	expiresAt = now + leaseMs
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET status = 'leased', lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1
		WHERE id = ?`, q.Table)
	if _, err := tx.ExecContext(ctx, updateQuery, owner, expiresAt, id); err != nil {
		return 0, fmt.Errorf("update lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return expiresAt, nil
}

// ClaimCAS is the fallback path for engines without row-level
// skip-lock: SELECT a candidate, then UPDATE re-checking the same
// claim condition; zero rows affected means another worker won.
func ClaimCAS(ctx context.Context, db *sql.DB, q Query, botID, owner string, now, leaseMs int64, scan ScanFunc) (expiresAt int64, err error) {
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE bot_id = ? AND available_at <= ?
		  AND (status = 'queued' OR (status IN %s AND lease_expires_at < ?))
		ORDER BY available_at ASC, created_at ASC
		LIMIT 1`, q.SelectColumns, q.Table, q.leasedPlaceholders())

	args := append([]any{botID, now}, q.leasedArgs()...)
	args = append(args, now)

	id, err := scan(db.QueryRowContext(ctx, selectQuery, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoJob
	}
	if err != nil {
		return 0, fmt.Errorf("select candidate: %w", err)
	}

	expiresAt = now + leaseMs
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET status = 'leased', lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1
		WHERE id = ? AND (status = 'queued' OR (status IN %s AND lease_expires_at < ?))`,
		q.Table, q.leasedPlaceholders())
	updateArgs := append([]any{owner, expiresAt, id}, q.leasedArgs()...)
	updateArgs = append(updateArgs, now)

	res, err := db.ExecContext(ctx, updateQuery, updateArgs...)
	if err != nil {
		return 0, fmt.Errorf("cas update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrNoJob
	}
	return expiresAt, nil
}

// Claim picks ClaimSkipLocked or ClaimCAS based on useSkipLocked.
func Claim(ctx context.Context, db *sql.DB, useSkipLocked bool, q Query, botID, owner string, now, leaseMs int64, scan ScanFunc) (expiresAt int64, err error) {
	if useSkipLocked {
		return ClaimSkipLocked(ctx, db, q, botID, owner, now, leaseMs, scan)
	}
	return ClaimCAS(ctx, db, q, botID, owner, now, leaseMs, scan)
}
