package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/metrics"
	"github.com/xiaot623/paygate/internal/tools"
)

// AgentFailureMessage is the only error text a caller sees when the agent fails.
const AgentFailureMessage = "The agent failed to complete the response."

const streamBuffer = 16

// HandleMessage records a user message. Unpaid sessions get a payment challenge;
// paid sessions get a stream of agent events that ends with a complete event.
// A new session is created when sessionID is empty or unknown.
func (s *Service) HandleMessage(ctx context.Context, text, sessionID string) (*ChatResult, error) {
	if strings.TrimSpace(text) == "" {
		metrics.RecordChatRequest("invalid")
		return nil, domain.NewValidationError("message", "message is required")
	}
	if n := utf8.RuneCountInString(text); n > s.config.MaxMessageLength {
		metrics.RecordChatRequest("invalid")
		return nil, domain.NewValidationError("message",
			fmt.Sprintf("message is %d characters, the limit is %d", n, s.config.MaxMessageLength))
	}

	session, release, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		metrics.RecordChatRequest("error")
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, session.ID, domain.ChatMessage{Role: domain.RoleUser, Content: text}); err != nil {
		release()
		metrics.RecordChatRequest("error")
		return nil, fmt.Errorf("append user message: %w", err)
	}

	if !session.IsPaid {
		release()
		metrics.RecordChatRequest("challenge")
		return &ChatResult{SessionID: session.ID, Challenge: s.challenge(session.ID)}, nil
	}

	metrics.RecordChatRequest("stream")
	events := make(chan domain.StreamEvent, streamBuffer)
	go func() {
		defer release()
		s.relay(ctx, session.ID, session.JobID, events)
	}()
	return &ChatResult{SessionID: session.ID, JobID: session.JobID, Events: events}, nil
}

// resolveSession loads or creates the session and pins it against eviction until
// release is called.
func (s *Service) resolveSession(ctx context.Context, sessionID string) (_ *domain.Session, release func(), err error) {
	if sessionID != "" {
		release = s.leases.acquire(sessionID)
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("get session: %w", err)
		}
		if session != nil {
			return session, release, nil
		}
		release()
		s.logger.Debug().Str("session_id", sessionID).Msg("unknown session, starting a new one")
	}
	session, err := s.store.CreateSession(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return session, s.leases.acquire(session.ID), nil
}

func (s *Service) challenge(sessionID string) *domain.PaymentChallenge {
	pricing := s.Pricing()
	return &domain.PaymentChallenge{
		SessionID: sessionID,
		Payment:   pricing,
		Message: fmt.Sprintf("Payment required: send %s %s to %s, then confirm with the transaction hash.",
			pricing.Amount, pricing.Token, pricing.Receiver),
	}
}

// relay runs the agent over the full session history and forwards its events to out
// in order. out is closed when the run ends. Cancelling ctx stops the run without
// persisting the partial reply. Runs on one session are serialized; the caller must
// hold a lease on sessionID.
func (s *Service) relay(ctx context.Context, sessionID, jobID string, out chan<- domain.StreamEvent) {
	defer close(out)
	metrics.StreamOpened()
	defer metrics.StreamClosed()

	logger := s.logger.With().Str("session_id", sessionID).Str("job_id", jobID).Logger()
	ctx = logger.WithContext(ctx)

	send := func(ev domain.StreamEvent) error {
		select {
		case out <- ev:
			metrics.RecordStreamEvent(string(ev.Kind))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fail := func(reason string, err error) {
		logger.Error().Err(err).Msg(reason)
		s.jobs.transition(jobID, sessionID, domain.JobStatusFailed, reason)
		if send(domain.ErrorEvent(AgentFailureMessage)) == nil {
			_ = send(domain.CompleteEvent(jobID))
		}
	}

	unlock, err := s.leases.lockRun(ctx, sessionID)
	if err != nil {
		logger.Info().Err(err).Msg("stream abandoned while waiting for the previous run")
		return
	}
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		if err == nil {
			err = domain.SessionNotFound(sessionID)
		}
		fail("load session", err)
		return
	}

	s.jobs.transition(jobID, sessionID, domain.JobStatusInProgress, "")
	reply, err := s.agent.Run(tools.WithSession(ctx, sessionID), session.Messages, send)
	if ctx.Err() != nil {
		logger.Info().Msg("stream cancelled by caller")
		s.jobs.transition(jobID, sessionID, domain.JobStatusFailed, "cancelled")
		return
	}
	if err != nil {
		fail("agent run failed", err)
		return
	}

	if err := s.store.AppendMessage(ctx, sessionID, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply}); err != nil {
		fail("append assistant message", err)
		return
	}
	if err := s.writeReport(ctx, jobID, session, reply); err != nil {
		fail("write report", err)
		return
	}

	s.jobs.transition(jobID, sessionID, domain.JobStatusCompleted, "")
	_ = send(domain.CompleteEvent(jobID))
}
