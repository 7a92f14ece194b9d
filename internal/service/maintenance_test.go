package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/scheduler"
	"github.com/xiaot623/paygate/internal/store"
)

func TestRegisterTasks(t *testing.T) {
	f := newFixture(t)
	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, f.svc.RegisterTasks(sched))

	status := sched.Status()
	assert.Contains(t, status, TaskSessionReaper)
	assert.Contains(t, status, TaskJobTimeout)
	assert.Contains(t, status, TaskHealthPing)

	err := f.svc.RegisterTasks(sched)
	assert.ErrorIs(t, err, scheduler.ErrTaskExists)

	report := f.svc.Health(context.Background())
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "ok", report.Store)
	assert.Len(t, report.Tasks, 3)
}

func TestSweepSessions(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	st := store.NewMemoryStore(store.WithClock(func() time.Time { return now }))

	f := newFixture(t)
	f.svc.store = st
	f.cfg.SessionTTL = time.Hour
	ctx := context.Background()

	old, err := st.CreateSession(ctx)
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)
	fresh, err := st.CreateSession(ctx)
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)

	require.NoError(t, f.svc.SweepSessions(ctx))

	got, err := st.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = st.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestJobTrackerExpire(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tracker := newJobTracker(func() time.Time { return now })

	tracker.create("job_active", "s1")
	tracker.create("job_done", "s2")
	tracker.transition("job_done", "s2", domain.JobStatusCompleted, "")

	now = now.Add(31 * time.Minute)
	timedOut, pruned := tracker.expire(30*time.Minute, time.Hour)
	assert.Equal(t, 1, timedOut)
	assert.Zero(t, pruned)

	job, ok := tracker.get("job_active")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusTimeout, job.Status)
	assert.False(t, job.View().ShouldContinue)

	now = now.Add(2 * time.Hour)
	_, pruned = tracker.expire(30*time.Minute, time.Hour)
	assert.Equal(t, 2, pruned)
	_, ok = tracker.get("job_done")
	assert.False(t, ok)
}

func TestSweepLeavesStreamingSessionAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	model := newGatedStreamer()
	f.svc.agent.Streamer = model
	sessionID, jobID := f.paidSession(t)

	res, err := f.svc.HandleMessage(ctx, "go on", sessionID)
	require.NoError(t, err)
	waitStarted(t, model)

	f.cfg.SessionTTL = time.Nanosecond
	require.NoError(t, f.svc.SweepSessions(ctx))

	close(model.release)
	events := drain(t, res.Events)
	assert.Equal(t, []domain.StreamEvent{
		domain.TextEvent("partial "),
		domain.TextEvent("reply"),
		domain.CompleteEvent(jobID),
	}, events)

	session, err := f.svc.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Messages, 3)
	assert.Equal(t, "partial reply", session.Messages[2].Content)

	job, err := f.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)

	// Once the stream is over the session is eligible again.
	require.NoError(t, f.svc.SweepSessions(ctx))
	got, err := f.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionLeases(t *testing.T) {
	l := newSessionLeases()
	first := l.acquire("s1")
	second := l.acquire("s1")

	var pinned []string
	require.NoError(t, l.exclusive(func(ids []string) error {
		pinned = ids
		return nil
	}))
	assert.Equal(t, []string{"s1"}, pinned)

	first()
	first()
	require.NoError(t, l.exclusive(func(ids []string) error {
		pinned = ids
		return nil
	}))
	assert.Equal(t, []string{"s1"}, pinned)

	second()
	require.NoError(t, l.exclusive(func(ids []string) error {
		pinned = ids
		return nil
	}))
	assert.Empty(t, pinned)

	_, err := l.lockRun(context.Background(), "s1")
	assert.Error(t, err)
}

func TestSessionLeasesRunLockHonoursContext(t *testing.T) {
	l := newSessionLeases()
	release := l.acquire("s1")
	defer release()

	unlock, err := l.lockRun(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.lockRun(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := l.lockRun(context.Background(), "s1")
	require.NoError(t, err)
	unlock2()
}
