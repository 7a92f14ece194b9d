package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const tick = 10 * time.Millisecond

func TestRegisterDuplicate(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Register("session-reaper", tick, func(context.Context) error { return nil }))

	err := s.Register("session-reaper", tick, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTaskExists)
	assert.ErrorContains(t, err, "already registered")

	assert.Error(t, s.Register("", tick, func(context.Context) error { return nil }))
	assert.Error(t, s.Register("zero", 0, func(context.Context) error { return nil }))
	assert.Error(t, s.Register("nil", tick, nil))
}

func TestUnknownTask(t *testing.T) {
	s := New(zerolog.Nop())
	assert.ErrorIs(t, s.Start("missing"), ErrTaskNotFound)
	assert.ErrorIs(t, s.Stop("missing"), ErrTaskNotFound)
}

func TestTaskFires(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(zerolog.Nop())
	var fires atomic.Int32
	require.NoError(t, s.Register("count", tick, func(context.Context) error {
		fires.Add(1)
		return nil
	}))
	require.NoError(t, s.Start("count"))
	require.NoError(t, s.Start("count")) // no-op

	require.Eventually(t, func() bool { return fires.Load() >= 3 }, time.Second, tick)
	s.StopAll()

	status := s.Status()["count"]
	assert.False(t, status.Running)
	assert.GreaterOrEqual(t, status.FireCount, uint64(3))
	assert.False(t, status.LastSuccess.IsZero())
	assert.Empty(t, status.LastError)

	stopped := fires.Load()
	time.Sleep(5 * tick)
	assert.Equal(t, stopped, fires.Load(), "task fired after stop")
}

func TestFailingTaskDoesNotAffectOthers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(zerolog.Nop())
	var healthy atomic.Int32
	require.NoError(t, s.Register("broken", tick, func(context.Context) error {
		return errors.New("store unavailable")
	}))
	require.NoError(t, s.Register("panicky", tick, func(context.Context) error {
		panic("boom")
	}))
	require.NoError(t, s.Register("healthy", tick, func(context.Context) error {
		healthy.Add(1)
		return nil
	}))
	s.StartAll()
	defer s.StopAll()

	require.Eventually(t, func() bool {
		st := s.Status()
		return healthy.Load() >= 3 && st["broken"].FireCount >= 3 && st["panicky"].FireCount >= 3
	}, 2*time.Second, tick)

	st := s.Status()
	assert.True(t, st["broken"].Running)
	assert.Equal(t, "store unavailable", st["broken"].LastError)
	assert.True(t, st["broken"].LastSuccess.IsZero())
	assert.Contains(t, st["panicky"].LastError, "boom")
	assert.True(t, st["panicky"].Running)
}

func TestStopIsIndependent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(zerolog.Nop())
	var a, b atomic.Int32
	require.NoError(t, s.Register("a", tick, func(context.Context) error { a.Add(1); return nil }))
	require.NoError(t, s.Register("b", tick, func(context.Context) error { b.Add(1); return nil }))
	s.StartAll()
	defer s.StopAll()

	require.NoError(t, s.Stop("a"))
	require.NoError(t, s.Stop("a")) // no-op
	afterStop := a.Load()

	before := b.Load()
	require.Eventually(t, func() bool { return b.Load() >= before+3 }, time.Second, tick)
	assert.Equal(t, afterStop, a.Load())
	assert.False(t, s.Status()["a"].Running)
	assert.True(t, s.Status()["b"].Running)

	require.NoError(t, s.Start("a"))
	require.Eventually(t, func() bool { return a.Load() > afterStop }, time.Second, tick)
}

func TestStopWaitsForInFlightHandler(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(zerolog.Nop())
	started := make(chan struct{}, 1)
	var finished atomic.Bool
	require.NoError(t, s.Register("slow", tick, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	}))
	require.NoError(t, s.Start("slow"))

	<-started
	require.NoError(t, s.Stop("slow"))
	assert.True(t, finished.Load())
}
