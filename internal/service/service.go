// Package service implements the payment-gated chat gateway.
package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xiaot623/paygate/internal/adapter/verifier"
	"github.com/xiaot623/paygate/internal/agent"
	"github.com/xiaot623/paygate/internal/config"
	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/log"
	"github.com/xiaot623/paygate/internal/scheduler"
	"github.com/xiaot623/paygate/internal/store"
	"golang.org/x/sync/singleflight"
)

// Service is the session gateway: it owns the payment gate, the agent relay and
// the background maintenance tasks.
type Service struct {
	config   *config.Config
	store    store.Store
	verifier verifier.Verifier
	agent    *agent.Agent
	jobs     *jobTracker
	leases   *sessionLeases
	confirms singleflight.Group
	logger   zerolog.Logger
	now      func() time.Time

	startedAt time.Time

	mu        sync.RWMutex
	scheduler *scheduler.Scheduler
}

// New creates the gateway.
func New(cfg *config.Config, st store.Store, v verifier.Verifier, a *agent.Agent) *Service {
	return &Service{
		config:    cfg,
		store:     st,
		verifier:  v,
		agent:     a,
		jobs:      newJobTracker(time.Now),
		leases:    newSessionLeases(),
		logger:    log.WithComponent("gateway"),
		now:       time.Now,
		startedAt: time.Now(),
	}
}

// ChatResult is the outcome of HandleMessage: either a payment challenge or a live
// event stream, never both.
type ChatResult struct {
	SessionID string
	Challenge *domain.PaymentChallenge

	JobID  string
	Events <-chan domain.StreamEvent
}

// Pricing returns what a session has to pay.
func (s *Service) Pricing() domain.PaymentDetails {
	return domain.PaymentDetails{
		Amount:          s.config.Price,
		AmountBaseUnits: s.config.PriceBaseUnits(),
		Token:           s.config.Token,
		Receiver:        s.config.Receiver,
		Network:         s.config.Network,
	}
}
