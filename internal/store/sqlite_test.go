package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xiaot623/paygate/internal/domain"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func countRows(t *testing.T, s *SQLiteStore, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSQLiteEvictionLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	store := newTestStore(t, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		session, err := store.CreateSession(ctx)
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if err := store.AppendMessage(ctx, session.ID, domain.ChatMessage{Role: domain.RoleUser, Content: "hello"}); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if err := store.AppendFileRef(ctx, session.ID, "file"); err != nil {
			t.Fatalf("AppendFileRef failed: %v", err)
		}
	}

	now = now.Add(48 * time.Hour)
	removed, err := store.EvictOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("EvictOlderThan failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 evicted sessions, got %d", removed)
	}

	for _, table := range []string{"sessions", "messages", "file_refs"} {
		if n := countRows(t, store, table); n != 0 {
			t.Fatalf("expected %s to be empty, got %d rows", table, n)
		}
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paygate.db")

	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	session, err := first.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := first.MarkPaid(ctx, session.ID, "0xdeadbeefcafe", "job_1"); err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || !got.IsPaid || got.JobID != "job_1" {
		t.Fatalf("unexpected session after reopen: %+v", got)
	}
}

func TestWithPragmas(t *testing.T) {
	cases := map[string]string{
		":memory:":         ":memory:?_foreign_keys=on&_busy_timeout=5000",
		"data.db":          "data.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		"data.db?cache=sh": "data.db?cache=sh&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
	}
	for in, want := range cases {
		if got := withPragmas(in); got != want {
			t.Errorf("withPragmas(%q) = %q, want %q", in, got, want)
		}
	}
}
