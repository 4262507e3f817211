package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/agentrelay/relay/internal/id"
	"github.com/agentrelay/relay/internal/scheduler"
)

// CreateTurnAndJob inserts a Turn then a CliRunJob in one transaction. If
// the (bot, chat) exclusive-active-run partial unique index is violated,
// it returns ErrActiveRunExists and the transaction is rolled back.
func (s *Store) CreateTurnAndJob(ctx context.Context, sessionID, botID, chatID, userText string, now int64) (turnID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	turnID = id.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (turn_id, session_id, bot_id, chat_id, user_text, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?)`,
		turnID, sessionID, botID, chatID, userText, now); err != nil {
		return "", fmt.Errorf("insert turn: %w", err)
	}

	jobID := id.Generate()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cli_run_jobs (id, turn_id, bot_id, chat_id, status, available_at, attempts, created_at)
		VALUES (?, ?, ?, ?, 'queued', ?, 0, ?)`,
		jobID, turnID, botID, chatID, now, now)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return "", ErrActiveRunExists
		}
		return "", fmt.Errorf("insert run job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return turnID, nil
}

// isUniqueConstraintErr reports whether err came from violating a SQLite
// unique index — the partial unique index enforcing exclusive active run
// per (bot_id, chat_id), or cli_events' (turn_id, seq) key, which
// AppendEvent checks with it. modernc.org/sqlite does not export a
// typed constraint-violation error, so this matches on the driver's
// message text.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var runJobQuery = scheduler.Query{
	Table:          "cli_run_jobs",
	SelectColumns:  "id, turn_id, bot_id, chat_id, status, attempts",
	LeasedStatuses: []string{"leased", "in_flight"},
}

// LeaseNextRunJob claims the oldest available run job for bot, assigning
// it to owner for leaseMs. Returns ErrNoJob if none is available. The
// claim algorithm itself is shared with LeaseNextUpdateJob via
// internal/scheduler.
func (s *Store) LeaseNextRunJob(ctx context.Context, botID, owner string, now, leaseMs int64) (*RunJob, error) {
	var j RunJob
	expires, err := scheduler.Claim(ctx, s.db, s.supportsSkipLocked, runJobQuery, botID, owner, now, leaseMs,
		func(row scheduler.RowScanner) (string, error) {
			if err := row.Scan(&j.ID, &j.TurnID, &j.BotID, &j.ChatID, &j.Status, &j.Attempts); err != nil {
				return "", err
			}
			return j.ID, nil
		})
	if errors.Is(err, scheduler.ErrNoJob) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("lease run job: %w", err)
	}

	j.Status = RunLeased
	j.LeaseOwner = owner
	j.LeaseExpiresAt = expires
	j.Attempts++
	return &j, nil
}

// MarkInFlight transitions a leased run job (and its turn) to in_flight.
func (s *Store) MarkInFlight(ctx context.Context, jobID, turnID string, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE cli_run_jobs SET status = 'in_flight' WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("mark run in_flight: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE turns SET status = 'in_flight', started_at = ? WHERE turn_id = ?`, now, turnID); err != nil {
		return fmt.Errorf("mark turn in_flight: %w", err)
	}
	return tx.Commit()
}

// RenewRunLease extends an owned run-job lease. Returns ErrNoJob if the
// job is no longer owned by owner.
func (s *Store) RenewRunLease(ctx context.Context, jobID, owner string, now, leaseMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cli_run_jobs SET lease_expires_at = ?
		WHERE id = ? AND lease_owner = ? AND status IN ('leased', 'in_flight')`,
		now+leaseMs, jobID, owner)
	if err != nil {
		return fmt.Errorf("renew run lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoJob
	}
	return nil
}

// CompleteRun marks the run job and turn completed with assistantText.
func (s *Store) CompleteRun(ctx context.Context, jobID, turnID, assistantText string, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE cli_run_jobs SET status = 'completed' WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("complete run job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE turns SET status = 'completed', assistant_text = ?, finished_at = ? WHERE turn_id = ?`,
		assistantText, now, turnID); err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	return tx.Commit()
}

// FailRun marks the run job and turn failed with errText.
func (s *Store) FailRun(ctx context.Context, jobID, turnID, errText string, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE cli_run_jobs SET status = 'failed', last_error = ? WHERE id = ?`, errText, jobID); err != nil {
		return fmt.Errorf("fail run job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE turns SET status = 'failed', error_text = ?, finished_at = ? WHERE turn_id = ?`,
		errText, now, turnID); err != nil {
		return fmt.Errorf("fail turn: %w", err)
	}
	return tx.Commit()
}

// CancelRun marks the run job and turn cancelled.
func (s *Store) CancelRun(ctx context.Context, jobID, turnID string, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE cli_run_jobs SET status = 'cancelled' WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("cancel run job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE turns SET status = 'cancelled', finished_at = ? WHERE turn_id = ?`, now, turnID); err != nil {
		return fmt.Errorf("cancel turn: %w", err)
	}
	return tx.Commit()
}

// CancelActiveTurn marks the non-terminal turn for (bot, chat) as
// cancelled; the adapter's should-cancel poll observes this on its next
// tick. Returns false if no active run existed to cancel.
func (s *Store) CancelActiveTurn(ctx context.Context, botID, chatID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE turns SET status = 'cancelled'
		WHERE turn_id IN (
			SELECT turn_id FROM cli_run_jobs WHERE bot_id = ? AND chat_id = ? AND status IN ('queued', 'leased', 'in_flight')
		) AND status IN ('queued', 'in_flight')`, botID, chatID)
	if err != nil {
		return false, fmt.Errorf("cancel active turn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel active turn rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLatestCompletedTurnForSession returns the most recently completed
// turn for sessionID, or ErrNotFound if none has completed yet.
func (s *Store) GetLatestCompletedTurnForSession(ctx context.Context, sessionID string) (*Turn, error) {
	var t Turn
	var assistant, errText sql.NullString
	var started, finished sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT turn_id, session_id, bot_id, chat_id, user_text, assistant_text, status, error_text, started_at, finished_at, created_at
		FROM turns WHERE session_id = ? AND status = 'completed'
		ORDER BY finished_at DESC LIMIT 1`, sessionID).
		Scan(&t.TurnID, &t.SessionID, &t.BotID, &t.ChatID, &t.UserText, &assistant, &t.Status, &errText, &started, &finished, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest completed turn: %w", err)
	}
	t.AssistantText = assistant.String
	t.ErrorText = errText.String
	t.StartedAt = started.Int64
	t.FinishedAt = finished.Int64
	return &t, nil
}

// HasActiveRun reports whether a non-terminal run job exists for (bot, chat).
func (s *Store) HasActiveRun(ctx context.Context, botID, chatID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cli_run_jobs WHERE bot_id = ? AND chat_id = ? AND status IN ('queued', 'leased', 'in_flight')`,
		botID, chatID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has active run: %w", err)
	}
	return n > 0, nil
}

// IsTurnCancelled reports whether turnID has been marked cancelled. It
// backs the adapter's should-cancel poll.
func (s *Store) IsTurnCancelled(ctx context.Context, turnID string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM turns WHERE turn_id = ?`, turnID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("is turn cancelled: %w", err)
	}
	return status == TurnCancelled, nil
}

// GetTurn fetches a turn by id.
func (s *Store) GetTurn(ctx context.Context, turnID string) (*Turn, error) {
	var t Turn
	var assistant, errText sql.NullString
	var started, finished sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT turn_id, session_id, bot_id, chat_id, user_text, assistant_text, status, error_text, started_at, finished_at, created_at
		FROM turns WHERE turn_id = ?`, turnID).
		Scan(&t.TurnID, &t.SessionID, &t.BotID, &t.ChatID, &t.UserText, &assistant, &t.Status, &errText, &started, &finished, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get turn: %w", err)
	}
	t.AssistantText = assistant.String
	t.ErrorText = errText.String
	t.StartedAt = started.Int64
	t.FinishedAt = finished.Int64
	return &t, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}
