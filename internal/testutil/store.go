// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/xiaot623/paygate/internal/store"
)

// NewTestSQLiteStore returns an in-memory SQLite store closed with the test.
func NewTestSQLiteStore(t *testing.T, opts ...store.Option) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestRedisStore returns a store backed by a private miniredis instance.
func NewTestRedisStore(t *testing.T, opts ...store.Option) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStore(client, opts...)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s, mr
}
