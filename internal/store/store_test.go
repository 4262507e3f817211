package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertUpdate_DedupIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accepted, err := s.InsertUpdate(ctx, "bot1", 777, "chat1", `{"x":1}`, 1000)
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = s.InsertUpdate(ctx, "bot1", 777, "chat1", `{"x":1}`, 1050)
	require.NoError(t, err)
	assert.False(t, accepted)

	job, err := s.LeaseNextUpdateJob(ctx, "bot1", "owner-a", 2000, 5000)
	require.NoError(t, err)
	require.NotNil(t, job)

	_, err = s.LeaseNextUpdateJob(ctx, "bot1", "owner-b", 2000, 5000)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestLeaseNextRunJob_ReclaimOnExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateFresh(ctx, "bot1", "chat1", "codex", 1000)
	require.NoError(t, err)

	turnID, err := s.CreateTurnAndJob(ctx, sess.SessionID, "bot1", "chat1", "hello", 1000)
	require.NoError(t, err)

	jobA, err := s.LeaseNextRunJob(ctx, "bot1", "worker-a", 1000, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, jobA.Attempts)

	_, err = s.LeaseNextRunJob(ctx, "bot1", "worker-b", 1500, 1000)
	assert.ErrorIs(t, err, ErrNoJob)

	jobB, err := s.LeaseNextRunJob(ctx, "bot1", "worker-b", 2100, 1000)
	require.NoError(t, err)
	assert.Equal(t, jobA.ID, jobB.ID)
	assert.Equal(t, "worker-b", jobB.LeaseOwner)
	assert.Equal(t, 2, jobB.Attempts)

	count, err := s.GetTurnEventsCount(ctx, turnID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCreateTurnAndJob_ExclusiveActiveRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateFresh(ctx, "bot1", "chat1", "codex", 1000)
	require.NoError(t, err)

	_, err = s.CreateTurnAndJob(ctx, sess.SessionID, "bot1", "chat1", "first", 1000)
	require.NoError(t, err)

	_, err = s.CreateTurnAndJob(ctx, sess.SessionID, "bot1", "chat1", "second", 1001)
	assert.ErrorIs(t, err, ErrActiveRunExists)

	has, err := s.HasActiveRun(ctx, "bot1", "chat1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestProviderSwitch_ClearsThreadID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateFresh(ctx, "bot1", "chat1", "codex", 1000)
	require.NoError(t, err)
	require.NoError(t, s.SetThreadID(ctx, sess.SessionID, "tA", 1100))

	require.NoError(t, s.SetAdapter(ctx, sess.SessionID, "gemini", 1200))

	got, err := s.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "gemini", got.AdapterName)
	assert.Empty(t, got.AdapterThreadID)
}

func TestConsumeToken_OneShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateToken(ctx, "tok1", "bot1", "chat1", "summary", `{}`, 100000, 1000))

	tok, err := s.ConsumeToken(ctx, "tok1", "bot1", "chat1", 2000)
	require.NoError(t, err)
	assert.Equal(t, "summary", tok.Action)

	_, err = s.ConsumeToken(ctx, "tok1", "bot1", "chat1", 2001)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestConsumeToken_ExpiredRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateToken(ctx, "tok1", "bot1", "chat1", "summary", `{}`, 1500, 1000))

	_, err := s.ConsumeToken(ctx, "tok1", "bot1", "chat1", 2000)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestPromoteNext_WaitsForActiveRunThenFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateFresh(ctx, "bot1", "chat1", "codex", 1000)
	require.NoError(t, err)
	turnID, err := s.CreateTurnAndJob(ctx, sess.SessionID, "bot1", "chat1", "hello", 1000)
	require.NoError(t, err)

	_, err = s.EnqueueDeferred(ctx, "bot1", "chat1", sess.SessionID, DeferredSummary, "summarize please", turnID, 10, 1100)
	require.NoError(t, err)

	promoted, err := s.PromoteNext(ctx, "bot1", "chat1", 1200)
	require.NoError(t, err)
	assert.Nil(t, promoted, "must not promote while a run is active")

	jobID := ""
	{
		job, err := s.LeaseNextRunJob(ctx, "bot1", "owner", 1300, 1000)
		require.NoError(t, err)
		jobID = job.ID
	}
	require.NoError(t, s.CompleteRun(ctx, jobID, turnID, "hi", 1400))

	promoted, err = s.PromoteNext(ctx, "bot1", "chat1", 1500)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, DeferredPromoted, promoted.Status)

	has, err := s.HasActiveRun(ctx, "bot1", "chat1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestEnqueueDeferred_TrimsOverMaxQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateFresh(ctx, "bot1", "chat1", "codex", 1000)
	require.NoError(t, err)
	turnID, err := s.CreateTurnAndJob(ctx, sess.SessionID, "bot1", "chat1", "hello", 1000)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.EnqueueDeferred(ctx, "bot1", "chat1", sess.SessionID, DeferredNext, "next", turnID, 2, int64(1100+i))
		require.NoError(t, err)
	}

	var queued, cancelled int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_button_actions WHERE status = 'queued'`).Scan(&queued)
	require.NoError(t, err)
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_button_actions WHERE status = 'cancelled'`).Scan(&cancelled)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, 1, cancelled)
}

func TestAppendEvent_SeqUniqueAndContiguous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateFresh(ctx, "bot1", "chat1", "codex", 1000)
	require.NoError(t, err)
	turnID, err := s.CreateTurnAndJob(ctx, sess.SessionID, "bot1", "chat1", "hello", 1000)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, turnID, "bot1", 1, "thread_started", `{}`, 1001))
	require.NoError(t, s.AppendEvent(ctx, turnID, "bot1", 2, "assistant_message", `{"text":"hi"}`, 1002))

	err = s.AppendEvent(ctx, turnID, "bot1", 2, "assistant_message", `{"text":"dup"}`, 1003)
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	count, err := s.GetTurnEventsCount(ctx, turnID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
