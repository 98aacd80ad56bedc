package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestScheduler(clk *fakeClock, cfg Config) *Scheduler {
	return New(cfg, nil, WithClock(clk.now))
}

func TestPriorityOrderAndCap(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(clk, DefaultConfig())

	s.Schedule(&Task{ID: "low", Priority: 2})
	s.Schedule(&Task{ID: "overflow", Priority: 99}) // clamped to 10
	s.Schedule(&Task{ID: "mid", Priority: 5})

	got, ctx := s.Dequeue(context.Background())
	require.NotNil(t, got)
	require.NotNil(t, ctx)
	assert.Equal(t, "overflow", got.ID)
	assert.Equal(t, MaxPriority, got.Priority)

	got, _ = s.Dequeue(context.Background())
	assert.Equal(t, "mid", got.ID)
}

func TestFIFOWithinPriority(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(clk, DefaultConfig())

	s.Schedule(&Task{ID: "first", Priority: 5})
	clk.advance(time.Second)
	s.Schedule(&Task{ID: "second", Priority: 5})

	got, _ := s.Dequeue(context.Background())
	assert.Equal(t, "first", got.ID)
}

func TestAgingRaisesPriority(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.AgingIncrement = 2
	cfg.AgingInterval = 10 * time.Second
	s := newTestScheduler(clk, cfg)

	s.Schedule(&Task{ID: "old", Priority: 1})
	clk.advance(25 * time.Second) // two full aging intervals
	s.Schedule(&Task{ID: "new", Priority: 4})

	got, _ := s.Dequeue(context.Background())
	// old: 1 + 2*2 = 5 beats new: 4
	assert.Equal(t, "old", got.ID)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, 1, got.OriginalPriority)
}

func TestStarvationPromotionWithinOneTick(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.AgingIncrement = 1
	cfg.AgingInterval = time.Hour // aging alone won't help
	cfg.StarvationThreshold = time.Minute
	cfg.StarvationBoostPriority = 9
	s := newTestScheduler(clk, cfg)

	s.Schedule(&Task{ID: "starving", Priority: 0})
	clk.advance(61 * time.Second)
	s.Schedule(&Task{ID: "fresh", Priority: 8})

	got, _ := s.Dequeue(context.Background())
	assert.Equal(t, "starving", got.ID)
	assert.GreaterOrEqual(t, got.Priority, 9)
}

func TestBackgroundQuota(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.MaxBackground = 2
	s := newTestScheduler(clk, cfg)

	for i := 0; i < 4; i++ {
		s.Schedule(&Task{ID: fmt.Sprintf("bg%d", i), Priority: 5, IsBackground: true})
	}
	s.Schedule(&Task{ID: "fg", Priority: 1})

	first, _ := s.Dequeue(context.Background())
	second, _ := s.Dequeue(context.Background())
	assert.True(t, first.IsBackground)
	assert.True(t, second.IsBackground)

	// Quota full: the low-priority foreground task runs instead.
	third, _ := s.Dequeue(context.Background())
	require.NotNil(t, third)
	assert.Equal(t, "fg", third.ID)

	// Nothing else is eligible.
	fourth, _ := s.Dequeue(context.Background())
	assert.Nil(t, fourth)

	// Releasing a background slot unblocks the queue.
	require.True(t, s.Complete(first.ID))
	fifth, _ := s.Dequeue(context.Background())
	require.NotNil(t, fifth)
	assert.True(t, fifth.IsBackground)
}

func TestEnforceThreadLifetimes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.MaxThreadLifetime = time.Minute
	s := newTestScheduler(clk, cfg)

	s.Schedule(&Task{ID: "long", Priority: 5})
	_, ctx := s.Dequeue(context.Background())
	require.NotNil(t, ctx)

	clk.advance(30 * time.Second)
	assert.Empty(t, s.EnforceThreadLifetimes())

	clk.advance(31 * time.Second)
	terminated := s.EnforceThreadLifetimes()
	assert.Equal(t, []string{"long"}, terminated)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, 0, s.Stats().Running)
}

func TestCancelQueuedAndRunning(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(clk, DefaultConfig())

	s.Schedule(&Task{ID: "q", Priority: 1})
	assert.True(t, s.Cancel("q"))
	assert.False(t, s.Cancel("q"))

	s.Schedule(&Task{ID: "r", Priority: 1})
	_, ctx := s.Dequeue(context.Background())
	assert.True(t, s.Cancel("r"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestStats(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(clk, DefaultConfig())

	s.Schedule(&Task{Priority: 1})
	s.Schedule(&Task{Priority: 1, IsBackground: true})
	s.Dequeue(context.Background())

	st := s.Stats()
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 1, st.Running)
}
