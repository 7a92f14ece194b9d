package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/paygate/internal/metrics"
	"github.com/xiaot623/paygate/internal/scheduler"
)

// Names of the recurring maintenance tasks.
const (
	TaskSessionReaper = "session-reaper"
	TaskJobTimeout    = "job-timeout"
	TaskHealthPing    = "health-ping"
)

const pingTimeout = 5 * time.Second

// RegisterTasks installs the maintenance tasks into sched and reports their
// status through Health.
func (s *Service) RegisterTasks(sched *scheduler.Scheduler) error {
	tasks := []struct {
		name     string
		interval time.Duration
		handler  scheduler.Handler
	}{
		{TaskSessionReaper, s.config.ReaperInterval, s.SweepSessions},
		{TaskJobTimeout, jobSweepInterval(s.config.JobTimeout), s.sweepJobs},
		{TaskHealthPing, s.config.HealthInterval, s.pingStore},
	}
	for _, t := range tasks {
		if err := sched.Register(t.name, t.interval, t.handler); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.scheduler = sched
	s.mu.Unlock()
	return nil
}

func jobSweepInterval(timeout time.Duration) time.Duration {
	if interval := timeout / 4; interval < time.Minute {
		return interval
	}
	return time.Minute
}

// SweepSessions evicts sessions older than the configured TTL. Sessions pinned by
// an in-flight request are left for a later sweep.
func (s *Service) SweepSessions(ctx context.Context) error {
	var n, skipped int
	err := s.leases.exclusive(func(pinned []string) error {
		var err error
		skipped = len(pinned)
		n, err = s.store.EvictOlderThan(ctx, s.config.SessionTTL, pinned...)
		return err
	})
	if err != nil {
		return fmt.Errorf("evict sessions: %w", err)
	}
	if skipped > 0 {
		s.logger.Debug().Int("pinned", skipped).Msg("pinned sessions excluded from sweep")
	}
	metrics.RecordSessionsEvicted(n)
	if n > 0 {
		s.logger.Info().Int("evicted", n).Dur("ttl", s.config.SessionTTL).Msg("expired sessions evicted")
	}
	return nil
}

func (s *Service) sweepJobs(ctx context.Context) error {
	timedOut, pruned := s.jobs.expire(s.config.JobTimeout, s.config.SessionTTL)
	if timedOut > 0 || pruned > 0 {
		s.logger.Info().Int("timed_out", timedOut).Int("pruned", pruned).Msg("job sweep")
	}
	return nil
}

func (s *Service) pingStore(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.store.Ping(pingCtx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}
