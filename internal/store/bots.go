package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertBot registers or re-registers a bot. Name, mode, owner, and
// adapter all follow the latest config on re-registration; only bot_id
// and created_at are fixed at first insert.
func (s *Store) UpsertBot(ctx context.Context, b Bot, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (bot_id, name, mode, owner_user_id, adapter_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id) DO UPDATE SET
			name = excluded.name, mode = excluded.mode,
			owner_user_id = excluded.owner_user_id, adapter_name = excluded.adapter_name`,
		b.BotID, b.Name, b.Mode, nullable(b.OwnerUserID), b.AdapterName, now)
	if err != nil {
		return fmt.Errorf("upsert bot: %w", err)
	}
	return nil
}

// GetBot fetches a bot's registration.
func (s *Store) GetBot(ctx context.Context, botID string) (*Bot, error) {
	var b Bot
	var owner sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT bot_id, name, mode, owner_user_id, adapter_name, created_at FROM bots WHERE bot_id = ?`,
		botID).Scan(&b.BotID, &b.Name, &b.Mode, &owner, &b.AdapterName, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bot: %w", err)
	}
	b.OwnerUserID = owner.String
	return &b, nil
}

// ListBots returns all registered bots.
func (s *Store) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bot_id, name, mode, owner_user_id, adapter_name, created_at FROM bots ORDER BY bot_id`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		var b Bot
		var owner sql.NullString
		if err := rows.Scan(&b.BotID, &b.Name, &b.Mode, &owner, &b.AdapterName, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		b.OwnerUserID = owner.String
		out = append(out, b)
	}
	return out, rows.Err()
}
