package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/xiaot623/paygate/internal/adapter/verifier"
	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/metrics"
)

var paymentRefPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,128}$`)

// ConfirmPayment verifies paymentRef and unlocks the session. Confirming an already
// paid session returns the original confirmation without calling the verifier.
// Concurrent confirmations for one session share a single verification.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID, paymentRef string) (*domain.Confirmation, error) {
	if sessionID == "" {
		metrics.RecordPaymentConfirmation("invalid")
		return nil, domain.NewValidationError("sessionId", "sessionId is required")
	}
	if paymentRef == "" {
		metrics.RecordPaymentConfirmation("invalid")
		return nil, domain.NewValidationError("txHash", "txHash is required")
	}
	if !paymentRefPattern.MatchString(paymentRef) {
		metrics.RecordPaymentConfirmation("invalid")
		return nil, domain.NewValidationError("txHash", "txHash must be 10-128 letters, digits, '-' or '_'")
	}

	// The shared verification outlives any single caller; VerifyTimeout bounds it.
	ch := s.confirms.DoChan(sessionID, func() (any, error) {
		return s.confirm(context.WithoutCancel(ctx), sessionID, paymentRef)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		c := *r.Val.(*domain.Confirmation)
		return &c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) confirm(ctx context.Context, sessionID, paymentRef string) (*domain.Confirmation, error) {
	logger := s.logger.With().Str("session_id", sessionID).Logger()
	release := s.leases.acquire(sessionID)
	defer release()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		metrics.RecordPaymentConfirmation("error")
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		metrics.RecordPaymentConfirmation("invalid")
		return nil, domain.SessionNotFound(sessionID)
	}
	if session.IsPaid {
		metrics.RecordPaymentConfirmation("duplicate")
		return alreadyConfirmed(session), nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()
	result, err := s.verifier.Verify(verifyCtx, paymentRef)
	if err != nil {
		logger.Warn().Err(err).Str("tx_hash", paymentRef).Msg("payment verification unavailable")
		metrics.RecordPaymentConfirmation("error")
		status := result.Status
		if status == "" {
			status = verifier.StatusUnreachable
		}
		return nil, &domain.VerificationError{Status: status, Reason: "verifier unavailable"}
	}
	if !result.Valid {
		logger.Info().Str("tx_hash", paymentRef).Str("tx_status", result.Status).Msg("payment rejected")
		metrics.RecordPaymentConfirmation("rejected")
		return nil, &domain.VerificationError{Status: result.Status, Reason: "transaction is not a settled payment"}
	}

	jobID := newJobID()
	updated, err := s.store.MarkPaid(ctx, sessionID, paymentRef, jobID)
	if err != nil {
		metrics.RecordPaymentConfirmation("error")
		return nil, fmt.Errorf("mark session paid: %w", err)
	}
	if updated.JobID != jobID {
		metrics.RecordPaymentConfirmation("duplicate")
		return alreadyConfirmed(updated), nil
	}

	s.jobs.create(jobID, sessionID)
	metrics.RecordPaymentConfirmation("confirmed")
	logger.Info().Str("job_id", jobID).Msg("payment confirmed")

	return &domain.Confirmation{
		Status:    domain.ConfirmationStatusConfirmed,
		SessionID: sessionID,
		JobID:     jobID,
		TxStatus:  result.Status,
	}, nil
}

func alreadyConfirmed(session *domain.Session) *domain.Confirmation {
	return &domain.Confirmation{
		Status:           domain.ConfirmationStatusConfirmed,
		SessionID:        session.ID,
		JobID:            session.JobID,
		TxStatus:         verifier.StatusSuccess,
		AlreadyConfirmed: true,
	}
}

// newJobID returns "job_" followed by 32 lowercase hex digits.
func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
