package store

import (
	"context"
	"fmt"
)

// AppendEvent persists one normalized adapter event. It returns
// ErrDuplicateEvent if (turn_id, seq) already exists — the signal a
// worker uses to detect it is replaying an event a previous lease holder
// already wrote.
func (s *Store) AppendEvent(ctx context.Context, turnID, botID string, seq int, eventType, payloadJSON string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cli_events (turn_id, bot_id, seq, event_type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		turnID, botID, seq, eventType, maybeCompress(payloadJSON), now)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// GetTurnEventsCount returns how many events have been persisted for
// turnID, used to resume sequence numbering after a lease reclaim.
func (s *Store) GetTurnEventsCount(ctx context.Context, turnID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cli_events WHERE turn_id = ?`, turnID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("get turn events count: %w", err)
	}
	return n, nil
}

// ListTurnEvents returns all persisted events for a turn in seq order.
func (s *Store) ListTurnEvents(ctx context.Context, turnID string) ([]CliEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_id, bot_id, seq, event_type, payload_json, created_at
		FROM cli_events WHERE turn_id = ? ORDER BY seq ASC`, turnID)
	if err != nil {
		return nil, fmt.Errorf("list turn events: %w", err)
	}
	defer rows.Close()

	var out []CliEvent
	for rows.Next() {
		var e CliEvent
		if err := rows.Scan(&e.ID, &e.TurnID, &e.BotID, &e.Seq, &e.EventType, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		payload, err := maybeDecompress(e.PayloadJSON)
		if err != nil {
			return nil, fmt.Errorf("turn %s seq %d: %w", e.TurnID, e.Seq, err)
		}
		e.PayloadJSON = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
