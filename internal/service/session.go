package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/paygate/internal/domain"
)

// GetSession returns a session with its transcript.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, domain.SessionNotFound(sessionID)
	}
	return session, nil
}

// ListSessions returns summaries of all live sessions, oldest first.
func (s *Service) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	summaries := make([]domain.SessionSummary, 0, len(sessions))
	for i := range sessions {
		summaries = append(summaries, sessions[i].Summary())
	}
	return summaries, nil
}

// DeleteSession removes a session and its transcript.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return domain.SessionNotFound(sessionID)
	}
	s.logger.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}
