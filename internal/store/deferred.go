package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentrelay/relay/internal/id"
)

// EnqueueDeferred inserts a new deferred button action, then cancels the
// oldest queued entries for (bot, chat) over maxQueue. Returns the new
// action's id.
func (s *Store) EnqueueDeferred(ctx context.Context, botID, chatID, sessionID, actionType, promptText, originTurnID string, maxQueue int, now int64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	newID := id.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deferred_button_actions (id, bot_id, chat_id, session_id, action_type, prompt_text, origin_turn_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'queued', ?)`,
		newID, botID, chatID, sessionID, actionType, promptText, originTurnID, now); err != nil {
		return "", fmt.Errorf("insert deferred action: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deferred_button_actions SET status = 'cancelled'
		WHERE id IN (
			SELECT id FROM deferred_button_actions
			WHERE bot_id = ? AND chat_id = ? AND status = 'queued'
			ORDER BY created_at DESC
			LIMIT -1 OFFSET ?
		)`, botID, chatID, maxQueue); err != nil {
		return "", fmt.Errorf("trim deferred queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return newID, nil
}

// PromoteNext returns nil, nil if a non-terminal run still exists for
// (bot, chat). Otherwise it promotes the oldest queued deferred action
// (FIFO), marking it promoted and creating a new Turn+CliRunJob whose
// user_text is the deferred action's prompt. Returns nil, nil if the
// queue is empty.
func (s *Store) PromoteNext(ctx context.Context, botID, chatID string, now int64) (*DeferredAction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cli_run_jobs WHERE bot_id = ? AND chat_id = ? AND status IN ('queued', 'leased', 'in_flight')`,
		botID, chatID).Scan(&active); err != nil {
		return nil, fmt.Errorf("check active run: %w", err)
	}
	if active > 0 {
		return nil, nil
	}

	var a DeferredAction
	err = tx.QueryRowContext(ctx, `
		SELECT id, bot_id, chat_id, session_id, action_type, prompt_text, origin_turn_id, status, created_at
		FROM deferred_button_actions
		WHERE bot_id = ? AND chat_id = ? AND status = 'queued'
		ORDER BY created_at ASC LIMIT 1`, botID, chatID).
		Scan(&a.ID, &a.BotID, &a.ChatID, &a.SessionID, &a.ActionType, &a.PromptText, &a.OriginTurnID, &a.Status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next deferred: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deferred_button_actions SET status = 'promoted' WHERE id = ?`, a.ID); err != nil {
		return nil, fmt.Errorf("promote deferred action: %w", err)
	}

	turnID := id.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (turn_id, session_id, bot_id, chat_id, user_text, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?)`,
		turnID, a.SessionID, botID, chatID, a.PromptText, now); err != nil {
		return nil, fmt.Errorf("insert promoted turn: %w", err)
	}

	jobID := id.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cli_run_jobs (id, turn_id, bot_id, chat_id, status, available_at, attempts, created_at)
		VALUES (?, ?, ?, ?, 'queued', ?, 0, ?)`,
		jobID, turnID, botID, chatID, now, now); err != nil {
		return nil, fmt.Errorf("insert promoted run job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	a.Status = DeferredPromoted
	return &a, nil
}
