// Package scheduler provides the cognitive work queue: a priority queue with
// aging, starvation promotion, a background quota, and hard thread lifetime
// enforcement. Shards are spawned freely; the scheduler decides who runs.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/metrics"
)

// TaskStatus is a task's lifecycle state.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusTerminated TaskStatus = "terminated" // lifetime exceeded
	StatusCancelled  TaskStatus = "cancelled"
)

// MaxPriority caps the priority scale.
const MaxPriority = 10

// Task is a schedulable unit of cognitive work.
type Task struct {
	ID               string
	Priority         int
	OriginalPriority int
	CreatedAt        time.Time
	LastAgedAt       time.Time
	StartedAt        time.Time
	TimeSlice        time.Duration
	IsBackground     bool
	Status           TaskStatus

	cancel context.CancelFunc
}

// Config shapes aging and quotas.
type Config struct {
	AgingIncrement          int
	AgingInterval           time.Duration
	StarvationThreshold     time.Duration
	StarvationBoostPriority int
	MaxBackground           int
	MaxThreadLifetime       time.Duration
}

// DefaultConfig matches the substrate defaults.
func DefaultConfig() Config {
	return Config{
		AgingIncrement:          1,
		AgingInterval:           30 * time.Second,
		StarvationThreshold:     2 * time.Minute,
		StarvationBoostPriority: 9,
		MaxBackground:           5,
		MaxThreadLifetime:       5 * time.Minute,
	}
}

// Scheduler owns the queue and the running set.
type Scheduler struct {
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	queued  []*Task
	running map[string]*Task
}

// Option tweaks construction.
type Option func(*Scheduler)

// WithClock swaps the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a Scheduler.
func New(cfg Config, m *metrics.Metrics, opts ...Option) *Scheduler {
	if cfg.AgingIncrement <= 0 {
		cfg = DefaultConfig()
	}
	if m == nil {
		m = metrics.Nop()
	}
	s := &Scheduler{
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		running: make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enqueues a task. Priority is clamped to [0, MaxPriority]; a blank
// id gets minted.
func (s *Scheduler) Schedule(t *Task) *Task {
	if t.ID == "" {
		t.ID = idclock.MintID("task")
	}
	if t.Priority > MaxPriority {
		t.Priority = MaxPriority
	}
	if t.Priority < 0 {
		t.Priority = 0
	}
	t.OriginalPriority = t.Priority
	now := s.now()
	t.CreatedAt = now
	t.LastAgedAt = now
	t.Status = StatusQueued

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, t)
	return t
}

// applyAging raises priorities for queue residency and force-promotes
// starving tasks. Caller holds the lock.
func (s *Scheduler) applyAging() {
	now := s.now()
	for _, t := range s.queued {
		intervals := int(now.Sub(t.LastAgedAt) / s.cfg.AgingInterval)
		if intervals > 0 {
			t.Priority += intervals * s.cfg.AgingIncrement
			if t.Priority > MaxPriority {
				t.Priority = MaxPriority
			}
			t.LastAgedAt = t.LastAgedAt.Add(time.Duration(intervals) * s.cfg.AgingInterval)
		}
		if now.Sub(t.CreatedAt) >= s.cfg.StarvationThreshold && t.Priority < s.cfg.StarvationBoostPriority {
			t.Priority = s.cfg.StarvationBoostPriority
			s.metrics.StarvationPromotions.Inc()
			logging.Get(logging.CategoryScheduler).Sugar().Debugw("starvation promotion",
				"task", t.ID, "priority", t.Priority)
		}
	}
}

// Dequeue pops the highest-priority eligible task and marks it running.
// Background tasks are skipped while the background quota is full. Returns
// nil when nothing is eligible. The returned context is cancelled when the
// task is terminated or cancelled.
func (s *Scheduler) Dequeue(parent context.Context) (*Task, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyAging()

	backgroundRunning := 0
	for _, t := range s.running {
		if t.IsBackground {
			backgroundRunning++
		}
	}

	// Highest priority first; FIFO within a priority level.
	sort.SliceStable(s.queued, func(i, j int) bool {
		if s.queued[i].Priority != s.queued[j].Priority {
			return s.queued[i].Priority > s.queued[j].Priority
		}
		return s.queued[i].CreatedAt.Before(s.queued[j].CreatedAt)
	})

	for i, t := range s.queued {
		if t.IsBackground && backgroundRunning >= s.cfg.MaxBackground {
			continue
		}
		s.queued = append(s.queued[:i], s.queued[i+1:]...)
		t.Status = StatusRunning
		t.StartedAt = s.now()

		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithCancel(parent)
		t.cancel = cancel
		s.running[t.ID] = t
		return t, ctx
	}
	return nil, nil
}

// Complete marks a running task finished and releases its slot.
func (s *Scheduler) Complete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.running[id]
	if !ok {
		return false
	}
	t.Status = StatusCompleted
	if t.cancel != nil {
		t.cancel()
	}
	delete(s.running, id)
	return true
}

// Cancel removes a queued task or cancels a running one.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.queued {
		if t.ID == id {
			t.Status = StatusCancelled
			s.queued = append(s.queued[:i], s.queued[i+1:]...)
			return true
		}
	}
	if t, ok := s.running[id]; ok {
		t.Status = StatusCancelled
		if t.cancel != nil {
			t.cancel()
		}
		delete(s.running, id)
		return true
	}
	return false
}

// EnforceThreadLifetimes terminates running tasks older than the configured
// maximum and returns the terminated ids.
func (s *Scheduler) EnforceThreadLifetimes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var terminated []string
	for id, t := range s.running {
		if now.Sub(t.StartedAt) > s.cfg.MaxThreadLifetime {
			t.Status = StatusTerminated
			if t.cancel != nil {
				t.cancel()
			}
			delete(s.running, id)
			terminated = append(terminated, id)
			logging.Get(logging.CategoryScheduler).Sugar().Warnw("thread terminated",
				"task", id, "age", now.Sub(t.StartedAt))
		}
	}
	sort.Strings(terminated)
	return terminated
}

// SchedulerStats summarizes queue state.
type SchedulerStats struct {
	Queued            int `json:"queued"`
	Running           int `json:"running"`
	BackgroundRunning int `json:"background_running"`
}

// Stats returns the current counts.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStats{Queued: len(s.queued), Running: len(s.running)}
	for _, t := range s.running {
		if t.IsBackground {
			st.BackgroundRunning++
		}
	}
	return st
}
