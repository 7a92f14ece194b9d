// Package scheduler runs named recurring tasks that can be started and stopped
// independently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xiaot623/paygate/internal/metrics"
)

var (
	// ErrTaskExists is returned when registering a name twice.
	ErrTaskExists = errors.New("task already registered")
	// ErrTaskNotFound is returned for unknown task names.
	ErrTaskNotFound = errors.New("task not found")
)

// Handler is one invocation of a recurring task.
type Handler func(ctx context.Context) error

// TaskStatus is a snapshot of a task's bookkeeping.
type TaskStatus struct {
	Running     bool      `json:"running"`
	Interval    string    `json:"interval"`
	LastRun     time.Time `json:"lastRun,omitzero"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
	FireCount   uint64    `json:"fireCount"`
	LastError   string    `json:"lastError,omitempty"`
}

type task struct {
	name     string
	interval time.Duration
	handler  Handler
	cancel   context.CancelFunc
	done     chan struct{}
	status   TaskStatus
}

// Scheduler owns a set of named tasks, each driven by its own ticker goroutine.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an empty scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger,
		now:    time.Now,
	}
}

// Register adds a stopped task.
func (s *Scheduler) Register(name string, interval time.Duration, handler Handler) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	if handler == nil {
		return fmt.Errorf("task %s: handler is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrTaskExists)
	}
	s.tasks[name] = &task{
		name:     name,
		interval: interval,
		handler:  handler,
		status:   TaskStatus{Interval: interval.String()},
	}
	return nil
}

// Start begins firing the task every interval. Starting a running task is a no-op.
func (s *Scheduler) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrTaskNotFound)
	}
	if t.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.status.Running = true
	go s.loop(ctx, t, t.done)

	s.logger.Debug().Str("task", name).Dur("interval", t.interval).Msg("task started")
	return nil
}

// StartAll starts every registered task.
func (s *Scheduler) StartAll() {
	for _, name := range s.names() {
		_ = s.Start(name)
	}
}

// Stop halts the task and waits for an in-flight invocation to return. Stopping a
// stopped task is a no-op.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrTaskNotFound)
	}
	if t.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	t.cancel()
	done := t.done
	t.cancel = nil
	t.done = nil
	t.status.Running = false
	s.mu.Unlock()

	<-done
	s.logger.Debug().Str("task", name).Msg("task stopped")
	return nil
}

// StopAll stops every task and returns once all task goroutines have exited.
func (s *Scheduler) StopAll() {
	for _, name := range s.names() {
		_ = s.Stop(name)
	}
}

// Status returns a snapshot of every task.
func (s *Scheduler) Status() map[string]TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStatus, len(s.tasks))
	for name, t := range s.tasks {
		out[name] = t.status
	}
	return out
}

func (s *Scheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) loop(ctx context.Context, t *task, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, t)
		}
	}
}

// fire runs one invocation. Errors and panics are recorded and never stop the task.
func (s *Scheduler) fire(ctx context.Context, t *task) {
	err := safeCall(ctx, t.handler)

	s.mu.Lock()
	now := s.now()
	t.status.LastRun = now
	t.status.FireCount++
	if err != nil {
		t.status.LastError = err.Error()
	} else {
		t.status.LastSuccess = now
		t.status.LastError = ""
	}
	s.mu.Unlock()

	metrics.RecordTaskFire(t.name, err == nil)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("task", t.name).Msg("task failed")
	}
}

func safeCall(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx)
}
