package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/store"
	"github.com/xiaot623/paygate/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) store.Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) store.Store {
			return store.NewMemoryStore(store.WithClock(clock.Now))
		},
		"sqlite": func(t *testing.T, clock *fakeClock) store.Store {
			return testutil.NewTestSQLiteStore(t, store.WithClock(clock.Now))
		},
		"redis": func(t *testing.T, clock *fakeClock) store.Store {
			s, _ := testutil.NewTestRedisStore(t, store.WithClock(clock.Now))
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s store.Store, clock *fakeClock)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func TestCreateAndGetSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, clock *fakeClock) {
		ctx := context.Background()

		created, err := s.CreateSession(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.IsPaid)
		assert.Empty(t, created.Messages)
		assert.Empty(t, created.FileRefs)
		assert.True(t, created.CreatedAt.Equal(clock.Now()))

		got, err := s.GetSession(ctx, created.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(created, got); diff != "" {
			t.Fatalf("session mismatch (-want +got):\n%s", diff)
		}

		other, err := s.CreateSession(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, created.ID, other.ID)
	})
}

func TestGetSessionMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, _ *fakeClock) {
		got, err := s.GetSession(context.Background(), "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, clock *fakeClock) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)

		var want []domain.ChatMessage
		for i := 0; i < 5; i++ {
			clock.Advance(time.Second)
			msg := domain.ChatMessage{
				Role:      domain.RoleUser,
				Content:   fmt.Sprintf("message %d", i),
				Timestamp: clock.Now(),
			}
			if i%2 == 1 {
				msg.Role = domain.RoleAssistant
			}
			require.NoError(t, s.AppendMessage(ctx, session.ID, msg))
			want = append(want, msg)
		}

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got.Messages); diff != "" {
			t.Fatalf("messages mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestAppendMessageStampsMissingTimestamp(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, clock *fakeClock) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)

		clock.Advance(time.Minute)
		require.NoError(t, s.AppendMessage(ctx, session.ID, domain.ChatMessage{Role: domain.RoleUser, Content: "hi"}))

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 1)
		assert.True(t, got.Messages[0].Timestamp.Equal(clock.Now()))
	})
}

func TestMutationsOnUnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, _ *fakeClock) {
		ctx := context.Background()

		err := s.AppendMessage(ctx, "ghost", domain.ChatMessage{Role: domain.RoleUser, Content: "x"})
		assert.True(t, errors.Is(err, domain.ErrNotFound), "append message: %v", err)

		err = s.AppendFileRef(ctx, "ghost", "file-1")
		assert.True(t, errors.Is(err, domain.ErrNotFound), "append file: %v", err)

		_, err = s.MarkPaid(ctx, "ghost", "0xabcdef123456", "job_1")
		assert.True(t, errors.Is(err, domain.ErrNotFound), "mark paid: %v", err)

		deleted, err := s.DeleteSession(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, deleted)

		sessions, err := s.ListSessions(ctx)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})
}

func TestAppendFileRefIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, _ *fakeClock) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)

		require.NoError(t, s.AppendFileRef(ctx, session.ID, "b"))
		require.NoError(t, s.AppendFileRef(ctx, session.ID, "a"))
		require.NoError(t, s.AppendFileRef(ctx, session.ID, "b"))

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, got.FileRefs)
	})
}

func TestMarkPaidIsWriteOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, _ *fakeClock) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)

		paid, err := s.MarkPaid(ctx, session.ID, "0xfirst-payment", "job_first")
		require.NoError(t, err)
		assert.True(t, paid.IsPaid)
		assert.Equal(t, "0xfirst-payment", paid.PaymentRef)
		assert.Equal(t, "job_first", paid.JobID)

		again, err := s.MarkPaid(ctx, session.ID, "0xsecond-payment", "job_second")
		require.NoError(t, err)
		assert.Equal(t, "0xfirst-payment", again.PaymentRef)
		assert.Equal(t, "job_first", again.JobID)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, got.IsPaid)
		assert.Equal(t, "job_first", got.JobID)
	})
}

func TestListSessionsOrderedByCreation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, clock *fakeClock) {
		ctx := context.Background()

		var want []string
		for i := 0; i < 3; i++ {
			session, err := s.CreateSession(ctx)
			require.NoError(t, err)
			want = append(want, session.ID)
			clock.Advance(time.Second)
		}
		require.NoError(t, s.AppendMessage(ctx, want[1], domain.ChatMessage{Role: domain.RoleUser, Content: "hi"}))

		sessions, err := s.ListSessions(ctx)
		require.NoError(t, err)
		got := make([]string, 0, len(sessions))
		for _, session := range sessions {
			got = append(got, session.ID)
		}
		assert.Equal(t, want, got)
		assert.Len(t, sessions[1].Messages, 1)
	})
}

func TestDeleteSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, _ *fakeClock) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, session.ID, domain.ChatMessage{Role: domain.RoleUser, Content: "hi"}))
		require.NoError(t, s.AppendFileRef(ctx, session.ID, "f1"))

		deleted, err := s.DeleteSession(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		deleted, err = s.DeleteSession(ctx, session.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestEvictOlderThan(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, clock *fakeClock) {
		ctx := context.Background()

		old, err := s.CreateSession(ctx)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, old.ID, domain.ChatMessage{Role: domain.RoleUser, Content: "stale"}))
		require.NoError(t, s.AppendFileRef(ctx, old.ID, "stale-file"))

		clock.Advance(23 * time.Hour)
		fresh, err := s.CreateSession(ctx)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		removed, err := s.EvictOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		got, err := s.GetSession(ctx, old.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.GetSession(ctx, fresh.ID)
		require.NoError(t, err)
		require.NotNil(t, got)

		removed, err = s.EvictOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestConcurrentAppends(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, _ *fakeClock) {
		ctx := context.Background()
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)

		const writers, readers = 8, 4
		var writersWG, readersWG sync.WaitGroup
		done := make(chan struct{})
		snapshots := make([][][]string, readers)

		for r := 0; r < readers; r++ {
			readersWG.Add(1)
			go func(r int) {
				defer readersWG.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					got, err := s.GetSession(ctx, session.ID)
					if !assert.NoError(t, err) || !assert.NotNil(t, got) {
						return
					}
					snapshots[r] = append(snapshots[r], contents(got.Messages))
				}
			}(r)
		}
		for i := 0; i < writers; i++ {
			writersWG.Add(1)
			go func(i int) {
				defer writersWG.Done()
				assert.NoError(t, s.AppendMessage(ctx, session.ID, domain.ChatMessage{
					Role:    domain.RoleUser,
					Content: fmt.Sprintf("m%d", i),
				}))
			}(i)
		}
		writersWG.Wait()
		close(done)
		readersWG.Wait()

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		final := contents(got.Messages)
		require.Len(t, final, writers)

		// Every transcript a reader saw is a prefix of the final one.
		for r, seen := range snapshots {
			for _, snap := range seen {
				require.LessOrEqual(t, len(snap), len(final))
				assert.Equal(t, final[:len(snap)], snap, "reader %d saw an out-of-order transcript", r)
			}
		}
	})
}

func contents(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestEvictOlderThanKeepsListedSessions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store, clock *fakeClock) {
		ctx := context.Background()

		busy, err := s.CreateSession(ctx)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, busy.ID, domain.ChatMessage{Role: domain.RoleUser, Content: "in use"}))
		idle, err := s.CreateSession(ctx)
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		removed, err := s.EvictOlderThan(ctx, 24*time.Hour, busy.ID, "unknown-session")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		got, err := s.GetSession(ctx, idle.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.GetSession(ctx, busy.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got.Messages, 1)

		removed, err = s.EvictOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}
