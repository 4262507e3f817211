package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentrelay/relay/internal/id"
)

// InsertUpdate records a raw inbound update at-most-once per (bot_id,
// update_id). It reports accepted=false on a duplicate without error.
func (s *Store) InsertUpdate(ctx context.Context, botID string, updateID int64, chatID, payloadJSON string, now int64) (accepted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO telegram_updates (bot_id, update_id, chat_id, payload_json, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, update_id) DO NOTHING`,
		botID, updateID, nullable(chatID), payloadJSON, now)
	if err != nil {
		return false, fmt.Errorf("insert update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, tx.Commit()
	}

	if err := s.enqueueUpdateJobTx(ctx, tx, botID, updateID, now); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) enqueueUpdateJobTx(ctx context.Context, tx *sql.Tx, botID string, updateID int64, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO telegram_update_jobs (id, bot_id, update_id, status, available_at, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id.Generate(), botID, updateID, UpdateJobQueued, now, now)
	if err != nil {
		return fmt.Errorf("enqueue update job: %w", err)
	}
	return nil
}

// GetUpdate fetches a previously stored update's raw payload.
func (s *Store) GetUpdate(ctx context.Context, botID string, updateID int64) (payloadJSON string, chatID string, err error) {
	var chat sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT payload_json, chat_id FROM telegram_updates WHERE bot_id = ? AND update_id = ?`,
		botID, updateID).Scan(&payloadJSON, &chat)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("get update: %w", err)
	}
	return payloadJSON, chat.String, nil
}

// MaxUpdateID returns the highest update_id seen for bot, or 0 if none.
func (s *Store) MaxUpdateID(ctx context.Context, botID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(update_id) FROM telegram_updates WHERE bot_id = ?`, botID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max update id: %w", err)
	}
	return max.Int64, nil
}

// ResetIngestState clears queued/leased ingest jobs for bot, used when an
// operator wants to re-bootstrap polling offsets from scratch.
func (s *Store) ResetIngestState(ctx context.Context, botID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM telegram_update_jobs WHERE bot_id = ? AND status IN ('queued', 'leased')`, botID)
	if err != nil {
		return fmt.Errorf("reset ingest state: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
