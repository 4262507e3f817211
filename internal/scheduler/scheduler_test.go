package scheduler_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/agentrelay/relay/internal/scheduler"
)

// openJobsDB creates a minimal single-table database shaped like the
// real job tables (telegram_update_jobs, cli_run_jobs) scheduler.Claim
// is used against.
func openJobsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			available_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			lease_owner TEXT,
			lease_expires_at INTEGER
		)`)
	require.NoError(t, err)
	return db
}

var jobsQuery = scheduler.Query{
	Table:          "jobs",
	SelectColumns:  "id, bot_id, status, attempts",
	LeasedStatuses: []string{"leased"},
}

func insertJob(t *testing.T, db *sql.DB, id, botID string, availableAt, createdAt int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO jobs (id, bot_id, status, attempts, available_at, created_at) VALUES (?, ?, 'queued', 0, ?, ?)`,
		id, botID, availableAt, createdAt)
	require.NoError(t, err)
}

func scanJob(row scheduler.RowScanner) (string, error) {
	var id, botID, status string
	var attempts int
	if err := row.Scan(&id, &botID, &status, &attempts); err != nil {
		return "", err
	}
	return id, nil
}

func TestClaimCAS_ClaimsOldestAvailable(t *testing.T) {
	ctx := context.Background()
	db := openJobsDB(t)
	insertJob(t, db, "job-newer", "bot1", 1000, 1001)
	insertJob(t, db, "job-older", "bot1", 900, 900)

	expires, err := scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-a", 2000, 5000, scanJob)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), expires)

	var claimedID, status, owner string
	require.NoError(t, db.QueryRow(`SELECT id, status, lease_owner FROM jobs WHERE lease_owner = ?`, "owner-a").
		Scan(&claimedID, &status, &owner))
	assert.Equal(t, "job-older", claimedID)
	assert.Equal(t, "leased", status)
}

func TestClaimCAS_NoJobReturnsErrNoJob(t *testing.T) {
	ctx := context.Background()
	db := openJobsDB(t)

	_, err := scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-a", 1000, 5000, scanJob)
	assert.ErrorIs(t, err, scheduler.ErrNoJob)
}

func TestClaimCAS_DoesNotClaimUnexpiredLeaseFromAnotherOwner(t *testing.T) {
	ctx := context.Background()
	db := openJobsDB(t)
	insertJob(t, db, "job-a", "bot1", 900, 900)

	_, err := scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-a", 1000, 5000, scanJob)
	require.NoError(t, err)

	_, err = scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-b", 2000, 5000, scanJob)
	assert.ErrorIs(t, err, scheduler.ErrNoJob)
}

func TestClaimCAS_ReclaimsAfterLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	db := openJobsDB(t)
	insertJob(t, db, "job-a", "bot1", 900, 900)

	_, err := scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-a", 1000, 1000, scanJob)
	require.NoError(t, err)

	expires, err := scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-b", 2100, 1000, scanJob)
	require.NoError(t, err)
	assert.Equal(t, int64(3100), expires)

	var owner string
	require.NoError(t, db.QueryRow(`SELECT lease_owner FROM jobs WHERE id = 'job-a'`).Scan(&owner))
	assert.Equal(t, "owner-b", owner)
}

func TestClaimCAS_IgnoresOtherBots(t *testing.T) {
	ctx := context.Background()
	db := openJobsDB(t)
	insertJob(t, db, "job-a", "bot2", 900, 900)

	_, err := scheduler.ClaimCAS(ctx, db, jobsQuery, "bot1", "owner-a", 1000, 5000, scanJob)
	assert.ErrorIs(t, err, scheduler.ErrNoJob)
}

func TestClaim_RoutesToCASWhenSkipLockedUnsupported(t *testing.T) {
	ctx := context.Background()
	db := openJobsDB(t)
	insertJob(t, db, "job-a", "bot1", 900, 900)

	_, err := scheduler.Claim(ctx, db, false, jobsQuery, "bot1", "owner-a", 1000, 5000, scanJob)
	require.NoError(t, err)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM jobs WHERE id = 'job-a'`).Scan(&status))
	assert.Equal(t, "leased", status)
}
