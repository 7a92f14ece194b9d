package service

import (
	"context"
	"fmt"
	"sync"
)

// sessionLeases pins the sessions that in-flight requests depend on. The reaper
// skips pinned sessions, and agent runs on one session take turns.
type sessionLeases struct {
	mu      sync.Mutex
	entries map[string]*lease
}

type lease struct {
	refs int
	run  chan struct{}
}

func newSessionLeases() *sessionLeases {
	return &sessionLeases{entries: make(map[string]*lease)}
}

// acquire pins sessionID until the returned release is called. It blocks while a
// sweep is evicting.
func (l *sessionLeases) acquire(sessionID string) (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok {
		e = &lease{run: make(chan struct{}, 1)}
		l.entries[sessionID] = e
	}
	e.refs++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if e.refs--; e.refs == 0 {
				delete(l.entries, sessionID)
			}
		})
	}
}

// lockRun waits for exclusive use of a session the caller has pinned.
func (l *sessionLeases) lockRun(ctx context.Context, sessionID string) (unlock func(), err error) {
	l.mu.Lock()
	e := l.entries[sessionID]
	l.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("session %q is not pinned", sessionID)
	}

	select {
	case e.run <- struct{}{}:
		return func() { <-e.run }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exclusive calls fn with the pinned session ids. No session can be pinned until
// fn returns.
func (l *sessionLeases) exclusive(fn func(pinned []string) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pinned := make([]string, 0, len(l.entries))
	for id := range l.entries {
		pinned = append(pinned, id)
	}
	return fn(pinned)
}
