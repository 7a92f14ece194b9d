package service

import (
	"context"
	"time"

	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/scheduler"
)

// AgentProfile describes the agent and its price.
func (s *Service) AgentProfile() domain.AgentProfile {
	return domain.AgentProfile{
		Name:        s.agent.Name,
		Description: s.agent.Description,
		Pricing:     s.Pricing(),
		Tools:       s.agent.ToolNames(),
	}
}

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	Status string                          `json:"status"`
	Uptime string                          `json:"uptime"`
	Store  string                          `json:"store"`
	Tasks  map[string]scheduler.TaskStatus `json:"tasks,omitempty"`
}

// Health pings the store and snapshots the maintenance tasks.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status: "ok",
		Uptime: s.now().Sub(s.startedAt).Truncate(time.Second).String(),
		Store:  "ok",
	}
	if err := s.pingStore(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check: store unavailable")
		report.Status = "degraded"
		report.Store = "unavailable"
	}

	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()
	if sched != nil {
		report.Tasks = sched.Status()
	}
	return report
}
