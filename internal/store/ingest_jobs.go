package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentrelay/relay/internal/scheduler"
)

var updateJobQuery = scheduler.Query{
	Table:          "telegram_update_jobs",
	SelectColumns:  "id, bot_id, update_id, status, attempts",
	LeasedStatuses: []string{"leased"},
}

// LeaseNextUpdateJob claims the oldest available ingest job for bot,
// assigning it to owner for leaseMs. Returns ErrNoJob if none is
// available, including the case where a competing claimant won the race.
// The claim algorithm itself is shared with LeaseNextRunJob via
// internal/scheduler.
func (s *Store) LeaseNextUpdateJob(ctx context.Context, botID, owner string, now, leaseMs int64) (*UpdateJob, error) {
	var j UpdateJob
	expires, err := scheduler.Claim(ctx, s.db, s.supportsSkipLocked, updateJobQuery, botID, owner, now, leaseMs,
		func(row scheduler.RowScanner) (string, error) {
			if err := row.Scan(&j.ID, &j.BotID, &j.UpdateID, &j.Status, &j.Attempts); err != nil {
				return "", err
			}
			return j.ID, nil
		})
	if errors.Is(err, scheduler.ErrNoJob) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("lease update job: %w", err)
	}

	j.Status = UpdateJobLeased
	j.LeaseOwner = owner
	j.LeaseExpiresAt = expires
	j.Attempts++
	return &j, nil
}

// RenewUpdateLease extends an owned lease. Returns ErrNoJob if the job is
// no longer owned by owner (lost to reclaim).
func (s *Store) RenewUpdateLease(ctx context.Context, jobID, owner string, now, leaseMs int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE telegram_update_jobs SET lease_expires_at = ?
		WHERE id = ? AND lease_owner = ? AND status = 'leased'`,
		now+leaseMs, jobID, owner)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoJob
	}
	return nil
}

// CompleteUpdateJob marks an ingest job terminally successful.
func (s *Store) CompleteUpdateJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE telegram_update_jobs SET status = 'completed' WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("complete update job: %w", err)
	}
	return nil
}

// FailUpdateJob marks an ingest job terminally failed with truncated
// error text.
func (s *Store) FailUpdateJob(ctx context.Context, jobID, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE telegram_update_jobs SET status = 'failed', last_error = ? WHERE id = ?`, errText, jobID)
	if err != nil {
		return fmt.Errorf("fail update job: %w", err)
	}
	return nil
}
