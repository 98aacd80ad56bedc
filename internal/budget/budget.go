// Package budget implements the unified per-actor rate budget. Every entry
// point that can do work — HTTP calls, macros, autogen steps, precompute —
// funnels through Consume. Denials are immediate; nothing ever blocks here.
package budget

import (
	"sync"
	"time"

	"concord/internal/logging"
	"concord/internal/metrics"
)

// Default window shape.
const (
	DefaultWindow   = 60 * time.Second
	DefaultMaxUnits = 1000.0
)

// defaultCosts is the domain -> cost table used when the caller passes no
// explicit cost. Unlisted domains cost 1.
var defaultCosts = map[string]float64{
	"http":               1,
	"macro":              5,
	"kernelTick":         2,
	"background":         3,
	"transfer":           10,
	"world.write":        8,
	"canon.promote":      15,
	"economy.distribute": 20,
}

// ReasonExceeded tags a denial caused by window overspend.
const ReasonExceeded = "budget_exceeded"

// Result is the outcome of a Consume call.
type Result struct {
	Allowed   bool          `json:"allowed"`
	Remaining float64       `json:"remaining"`
	Cost      float64       `json:"cost"`
	Reason    string        `json:"reason,omitempty"`
	ResetIn   time.Duration `json:"reset_in_ms,omitempty"`
}

// entry is the per-actor accumulator.
type entry struct {
	used        float64
	windowStart time.Time
	spends      []spend
}

type spend struct {
	domain string
	cost   float64
	at     time.Time
}

// Budget tracks windowed usage per actor.
type Budget struct {
	window   time.Duration
	maxUnits float64
	costs    map[string]float64
	metrics  *metrics.Metrics
	now      func() time.Time // swapped in tests

	mu      sync.Mutex
	entries map[string]*entry
}

// Option tweaks Budget construction.
type Option func(*Budget)

// WithWindow overrides the window length.
func WithWindow(w time.Duration) Option {
	return func(b *Budget) {
		if w > 0 {
			b.window = w
		}
	}
}

// WithMaxUnits overrides the per-window budget.
func WithMaxUnits(u float64) Option {
	return func(b *Budget) {
		if u > 0 {
			b.maxUnits = u
		}
	}
}

// WithCosts overlays domain cost overrides onto the default table.
func WithCosts(costs map[string]int) Option {
	return func(b *Budget) {
		for k, v := range costs {
			b.costs[k] = float64(v)
		}
	}
}

// WithClock swaps the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(b *Budget) { b.now = now }
}

// New builds a Budget.
func New(m *metrics.Metrics, opts ...Option) *Budget {
	if m == nil {
		m = metrics.Nop()
	}
	b := &Budget{
		window:   DefaultWindow,
		maxUnits: DefaultMaxUnits,
		costs:    make(map[string]float64, len(defaultCosts)),
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for k, v := range defaultCosts {
		b.costs[k] = v
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Consume charges the actor for one operation in the domain. cost <= 0 looks
// the cost up in the domain table. Within a window the used total only ever
// grows; it resets to zero when the window elapses.
func (b *Budget) Consume(actorID, domain string, cost float64) Result {
	if cost <= 0 {
		var ok bool
		if cost, ok = b.costs[domain]; !ok {
			cost = 1
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e := b.entries[actorID]
	if e == nil {
		e = &entry{windowStart: now}
		b.entries[actorID] = e
	}
	if now.Sub(e.windowStart) >= b.window {
		e.used = 0
		e.spends = e.spends[:0]
		e.windowStart = now
	}

	if e.used+cost > b.maxUnits {
		resetIn := b.window - now.Sub(e.windowStart)
		b.metrics.BudgetDenials.WithLabelValues(domain).Inc()
		logging.Get(logging.CategoryBudget).Sugar().Debugw("denied",
			"actor", actorID, "domain", domain, "cost", cost, "used", e.used)
		return Result{
			Allowed:   false,
			Remaining: b.maxUnits - e.used,
			Cost:      cost,
			Reason:    ReasonExceeded,
			ResetIn:   resetIn,
		}
	}

	e.used += cost
	e.spends = append(e.spends, spend{domain: domain, cost: cost, at: now})
	return Result{
		Allowed:   true,
		Remaining: b.maxUnits - e.used,
		Cost:      cost,
	}
}

// Stats reports an actor's current window usage.
type Stats struct {
	Used        float64       `json:"used"`
	Remaining   float64       `json:"remaining"`
	WindowStart time.Time     `json:"window_start"`
	ResetIn     time.Duration `json:"reset_in"`
	Spends      int           `json:"spends"`
}

// ActorStats returns usage for one actor. Unknown actors report a fresh
// window.
func (b *Budget) ActorStats(actorID string) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e := b.entries[actorID]
	if e == nil || now.Sub(e.windowStart) >= b.window {
		return Stats{Remaining: b.maxUnits, WindowStart: now, ResetIn: b.window}
	}
	return Stats{
		Used:        e.used,
		Remaining:   b.maxUnits - e.used,
		WindowStart: e.windowStart,
		ResetIn:     b.window - now.Sub(e.windowStart),
		Spends:      len(e.spends),
	}
}
