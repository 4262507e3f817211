package store

import (
	"context"
	"fmt"
)

// IncrementMetric adds delta to a bot-scoped runtime counter, creating the
// row on first use.
func (s *Store) IncrementMetric(ctx context.Context, botID, key string, delta int64, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_metric_counters (bot_id, metric_key, metric_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bot_id, metric_key) DO UPDATE SET
			metric_value = metric_value + excluded.metric_value,
			updated_at = excluded.updated_at`,
		botID, key, delta, now)
	if err != nil {
		return fmt.Errorf("increment metric: %w", err)
	}
	return nil
}

// GetMetric returns the current value of a bot-scoped counter, or 0 if unset.
func (s *Store) GetMetric(ctx context.Context, botID, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		SELECT metric_value FROM runtime_metric_counters WHERE bot_id = ? AND metric_key = ?`, botID, key).Scan(&v)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0, nil
		}
		return 0, fmt.Errorf("get metric: %w", err)
	}
	return v, nil
}

// QueueDepths returns the count of non-terminal telegram_update_jobs and
// cli_run_jobs for bot, keyed by status, for the /metrics surface.
func (s *Store) QueueDepths(ctx context.Context, botID string) (updateJobs, runJobs map[string]int, err error) {
	updateJobs = map[string]int{}
	runJobs = map[string]int{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM telegram_update_jobs
		WHERE bot_id = ? AND status IN ('queued', 'leased') GROUP BY status`, botID)
	if err != nil {
		return nil, nil, fmt.Errorf("update job depths: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan update job depth: %w", err)
		}
		updateJobs[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM cli_run_jobs
		WHERE bot_id = ? AND status IN ('queued', 'leased', 'in_flight') GROUP BY status`, botID)
	if err != nil {
		return nil, nil, fmt.Errorf("run job depths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, nil, fmt.Errorf("scan run job depth: %w", err)
		}
		runJobs[status] = n
	}
	return updateJobs, runJobs, rows.Err()
}

// AppendAuditLog appends one audit entry.
func (s *Store) AppendAuditLog(ctx context.Context, e AuditEntry, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (bot_id, chat_id, action, result, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.BotID, nullable(e.ChatID), e.Action, e.Result, nullable(e.DetailJSON), now)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
