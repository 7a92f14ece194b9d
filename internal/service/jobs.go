package service

import (
	"context"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/xiaot623/paygate/internal/domain"
)

var jobIDPattern = regexp.MustCompile(`^job_[a-f0-9]{32}$`)

// jobTracker keeps job status in memory. Jobs are re-created on demand when a
// paid session outlives a restart.
type jobTracker struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func newJobTracker(now func() time.Time) *jobTracker {
	return &jobTracker{jobs: make(map[string]*domain.Job), now: now}
}

func (t *jobTracker) create(jobID, sessionID string) {
	t.transition(jobID, sessionID, domain.JobStatusPending, "")
}

func (t *jobTracker) transition(jobID, sessionID string, status domain.JobStatus, errMsg string) {
	if jobID == "" {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		job = &domain.Job{ID: jobID, SessionID: sessionID, CreatedAt: now}
		t.jobs[jobID] = job
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = now
}

func (t *jobTracker) get(jobID string) (domain.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// expire times out active jobs idle for longer than timeout and forgets terminal
// jobs idle for longer than retain.
func (t *jobTracker) expire(timeout, retain time.Duration) (timedOut, pruned int) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, job := range t.jobs {
		idle := now.Sub(job.UpdatedAt)
		switch {
		case !job.Status.Terminal() && idle >= timeout:
			job.Status = domain.JobStatusTimeout
			job.Error = "job timed out"
			job.UpdatedAt = now
			timedOut++
		case job.Status.Terminal() && idle >= retain:
			delete(t.jobs, id)
			pruned++
		}
	}
	return timedOut, pruned
}

// GetJob returns the polling view of a job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.JobView, error) {
	if !jobIDPattern.MatchString(jobID) {
		return nil, domain.NewValidationError("jobId", "invalid job id format")
	}
	if job, ok := s.jobs.get(jobID); ok {
		view := job.View()
		return &view, nil
	}

	// A report on disk outlives the in-memory tracker.
	if info, err := os.Stat(s.reportPath(jobID)); err == nil {
		view := domain.Job{
			ID:        jobID,
			Status:    domain.JobStatusCompleted,
			CreatedAt: info.ModTime(),
			UpdatedAt: info.ModTime(),
		}.View()
		return &view, nil
	}
	return nil, &domain.NotFoundError{Kind: "job", ID: jobID}
}
