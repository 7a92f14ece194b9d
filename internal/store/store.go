// Package store defines the session storage interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/paygate/internal/domain"
)

// Store defines the interface for session persistence.
//
// Mutations against an unknown session id return a *domain.NotFoundError. Any other
// error is an infrastructure failure; a failed mutation leaves no partial state.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// MarkPaid flips the session to paid. Once paid, later calls leave the session
	// unchanged and return it as stored.
	MarkPaid(ctx context.Context, sessionID, paymentRef, jobID string) (*domain.Session, error)

	// Transcript operations
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error
	AppendFileRef(ctx context.Context, sessionID, fileRef string) error

	// EvictOlderThan removes every session with now-createdAt >= maxAge, except
	// the sessions listed in keep.
	EvictOlderThan(ctx context.Context, maxAge time.Duration, keep ...string) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides the time source used for creation and eviction.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) stamp(msg domain.ChatMessage) domain.ChatMessage {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = o.now()
	}
	return msg
}

// expired reports whether a session created at createdAt is due for eviction.
func expired(now, createdAt time.Time, maxAge time.Duration) bool {
	return now.Sub(createdAt) >= maxAge
}
