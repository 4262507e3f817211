package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateToken stores a freshly issued one-shot action token.
func (s *Store) CreateToken(ctx context.Context, token, botID, chatID, action, payloadJSON string, expiresAt, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_tokens (token, bot_id, chat_id, action, payload_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token, botID, chatID, action, payloadJSON, expiresAt, now)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// ConsumeToken atomically marks a token consumed iff it exists, matches
// (bot, chat), is unexpired, and has not already been consumed. Returns
// ErrTokenInvalid otherwise.
func (s *Store) ConsumeToken(ctx context.Context, token, botID, chatID string, now int64) (*ActionToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var t ActionToken
	var consumed sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT token, bot_id, chat_id, action, payload_json, expires_at, consumed_at, created_at
		FROM action_tokens WHERE token = ?`, token).
		Scan(&t.Token, &t.BotID, &t.ChatID, &t.Action, &t.PayloadJSON, &t.ExpiresAt, &consumed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("select token: %w", err)
	}
	if t.BotID != botID || t.ChatID != chatID || consumed.Valid || t.ExpiresAt < now {
		return nil, ErrTokenInvalid
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE action_tokens SET consumed_at = ?
		WHERE token = ? AND consumed_at IS NULL AND expires_at >= ?`, now, token, now)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTokenInvalid
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	t.ConsumedAt = now
	return &t, nil
}
