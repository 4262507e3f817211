package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentrelay/relay/internal/id"
)

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var model, root, threadID sql.NullString
	var unsafeUntil, lastTurnAt sql.NullInt64
	err := row.Scan(&s.SessionID, &s.BotID, &s.ChatID, &s.AdapterName, &model, &root,
		&unsafeUntil, &threadID, &s.Status, &s.RollingSummary, &lastTurnAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.AdapterModel = model.String
	s.ProjectRoot = root.String
	s.AdapterThreadID = threadID.String
	s.UnsafeUntil = unsafeUntil.Int64
	s.LastTurnAt = lastTurnAt.Int64
	return &s, nil
}

const sessionColumns = `session_id, bot_id, chat_id, adapter_name, adapter_model, project_root,
	unsafe_until, adapter_thread_id, status, rolling_summary_md, last_turn_at, created_at, updated_at`

// GetActiveSession returns the active session for (bot, chat), or
// ErrNotFound if none.
func (s *Store) GetActiveSession(ctx context.Context, botID, chatID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE bot_id = ? AND chat_id = ? AND status = 'active'`,
		botID, chatID)
	return scanSession(row)
}

// GetLatestSession returns the active session if one exists, else the
// most-recently-updated reset session for (bot, chat).
func (s *Store) GetLatestSession(ctx context.Context, botID, chatID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE bot_id = ? AND chat_id = ?
		ORDER BY (status = 'active') DESC, updated_at DESC
		LIMIT 1`, botID, chatID)
	return scanSession(row)
}

// GetOrCreateActive returns the active session for (bot, chat), creating
// one with defaultAdapter if none exists.
func (s *Store) GetOrCreateActive(ctx context.Context, botID, chatID, defaultAdapter string, now int64) (*Session, error) {
	sess, err := s.GetActiveSession(ctx, botID, chatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateFresh(ctx, botID, chatID, defaultAdapter, now)
}

// CreateFresh atomically demotes any existing active session for (bot,
// chat) to reset (clearing its thread id), then inserts and returns a new
// active session using adapterName.
func (s *Store) CreateFresh(ctx context.Context, botID, chatID, adapterName string, now int64) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = 'reset', adapter_thread_id = NULL, updated_at = ?
		WHERE bot_id = ? AND chat_id = ? AND status = 'active'`, now, botID, chatID); err != nil {
		return nil, fmt.Errorf("demote active session: %w", err)
	}

	newID := id.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, bot_id, chat_id, adapter_name, status, rolling_summary_md, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'active', '', ?, ?)`,
		newID, botID, chatID, adapterName, now, now); err != nil {
		return nil, fmt.Errorf("insert fresh session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Session{
		SessionID: newID, BotID: botID, ChatID: chatID, AdapterName: adapterName,
		Status: SessionActive, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Reset demotes the active session for (bot, chat) to reset, clearing its
// thread id. A no-op if no session is active.
func (s *Store) Reset(ctx context.Context, botID, chatID string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'reset', adapter_thread_id = NULL, updated_at = ?
		WHERE bot_id = ? AND chat_id = ? AND status = 'active'`, now, botID, chatID)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// SetThreadID persists the agent-side conversation handle captured from a
// thread_started event.
func (s *Store) SetThreadID(ctx context.Context, sessionID, threadID string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET adapter_thread_id = ?, updated_at = ? WHERE session_id = ?`,
		threadID, now, sessionID)
	if err != nil {
		return fmt.Errorf("set thread id: %w", err)
	}
	return nil
}

// SetAdapter switches the session's provider, clearing adapter_thread_id
// (the agent-side conversation handle does not carry across providers).
func (s *Store) SetAdapter(ctx context.Context, sessionID, adapterName string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET adapter_name = ?, adapter_thread_id = NULL, updated_at = ? WHERE session_id = ?`,
		adapterName, now, sessionID)
	if err != nil {
		return fmt.Errorf("set adapter: %w", err)
	}
	return nil
}

// SetModel switches the session's model, clearing adapter_thread_id for
// the same reason SetAdapter does.
func (s *Store) SetModel(ctx context.Context, sessionID, model string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET adapter_model = ?, adapter_thread_id = NULL, updated_at = ? WHERE session_id = ?`,
		model, now, sessionID)
	if err != nil {
		return fmt.Errorf("set model: %w", err)
	}
	return nil
}

// SetProjectRoot updates the session's working directory hint.
func (s *Store) SetProjectRoot(ctx context.Context, sessionID, root string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET project_root = ?, updated_at = ? WHERE session_id = ?`, root, now, sessionID)
	if err != nil {
		return fmt.Errorf("set project root: %w", err)
	}
	return nil
}

// SetUnsafeUntil updates the session's unsafe-mode expiry (0 clears it).
func (s *Store) SetUnsafeUntil(ctx context.Context, sessionID string, until, now int64) error {
	var val any
	if until != 0 {
		val = until
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET unsafe_until = ?, updated_at = ? WHERE session_id = ?`, val, now, sessionID)
	if err != nil {
		return fmt.Errorf("set unsafe until: %w", err)
	}
	return nil
}

// SetLastTurnAt bumps the session's last-turn timestamp after a turn
// completes (success, failure, or cancellation).
func (s *Store) SetLastTurnAt(ctx context.Context, sessionID string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_turn_at = ?, updated_at = ? WHERE session_id = ?`, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("set last turn at: %w", err)
	}
	return nil
}

// SetRollingSummary upserts the session's current rolling summary text.
func (s *Store) SetRollingSummary(ctx context.Context, sessionID, summaryMD string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET rolling_summary_md = ?, updated_at = ? WHERE session_id = ?`, summaryMD, now, sessionID)
	if err != nil {
		return fmt.Errorf("set rolling summary: %w", err)
	}
	return nil
}
