package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xiaot623/paygate/internal/domain"
)

// MemoryStore implements Store with an in-process map. State is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	opts     options
}

// NewMemoryStore creates an empty volatile store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		opts:     newOptions(opts),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateSession creates a new session.
func (s *MemoryStore) CreateSession(ctx context.Context) (*domain.Session, error) {
	session := &domain.Session{
		ID:        s.opts.newID(),
		Messages:  []domain.ChatMessage{},
		FileRefs:  []string{},
		CreatedAt: s.opts.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session.Clone(), nil
}

// GetSession retrieves a copy of a session, or nil if it does not exist.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID].Clone(), nil
}

// ListSessions returns copies of all sessions ordered by creation time.
func (s *MemoryStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	sessions := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, *session.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b domain.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions, nil
}

// DeleteSession removes a session.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

// MarkPaid marks a session as paid unless it already is.
func (s *MemoryStore) MarkPaid(ctx context.Context, sessionID, paymentRef, jobID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.SessionNotFound(sessionID)
	}
	if !session.IsPaid {
		session.IsPaid = true
		session.PaymentRef = paymentRef
		session.JobID = jobID
	}
	return session.Clone(), nil
}

// AppendMessage appends a message to the session transcript.
func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	msg = s.opts.stamp(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.SessionNotFound(sessionID)
	}
	session.Messages = append(session.Messages, msg)
	return nil
}

// AppendFileRef attaches a file reference to the session.
func (s *MemoryStore) AppendFileRef(ctx context.Context, sessionID, fileRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.SessionNotFound(sessionID)
	}
	if !slices.Contains(session.FileRefs, fileRef) {
		session.FileRefs = append(session.FileRefs, fileRef)
	}
	return nil
}

// EvictOlderThan removes expired sessions.
func (s *MemoryStore) EvictOlderThan(ctx context.Context, maxAge time.Duration, keep ...string) (int, error) {
	now := s.opts.now()
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if !kept[id] && expired(now, session.CreatedAt, maxAge) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
