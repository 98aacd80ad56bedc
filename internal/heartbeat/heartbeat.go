// Package heartbeat runs the periodic per-lane maintenance sweeps: rescore
// dirty DTUs, run the auto-promote gate, auto-dispute, dedupe, and scan the
// marketplace for integrity problems. Each lane ticks on its own interval
// under a reentrancy lock; an overlapping tick returns skipped instead of
// queueing.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"concord/internal/atlas"
	"concord/internal/logging"
	"concord/internal/metrics"
	"concord/internal/rights"
	"concord/internal/types"
)

// TickResult reports one sweep. Zero counts on an empty world is the normal
// healthy case, not an error.
type TickResult struct {
	OK             bool `json:"ok"`
	Skipped        bool `json:"skipped,omitempty"`
	Recomputed     int  `json:"recomputed"`
	AutoPromoted   int  `json:"auto_promoted"`
	AutoDisputed   int  `json:"auto_disputed"`
	Deduped        int  `json:"deduped"`
	IntegrityScans int  `json:"integrity_scans"`
	FraudDetected  int  `json:"fraud_detected"`
}

// Intervals are the per-lane tick periods.
type Intervals struct {
	Local       time.Duration
	Global      time.Duration
	Marketplace time.Duration
}

// Heartbeat owns the three lane sweeps.
type Heartbeat struct {
	store   *atlas.Store
	rights  *rights.Engine
	metrics *metrics.Metrics

	localMu  sync.Mutex
	globalMu sync.Mutex
	marketMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// New builds a Heartbeat over the store.
func New(store *atlas.Store, re *rights.Engine, m *metrics.Metrics) *Heartbeat {
	if m == nil {
		m = metrics.Nop()
	}
	return &Heartbeat{
		store:   store,
		rights:  re,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

// TickLocal recomputes scores for dirty local DTUs.
func (h *Heartbeat) TickLocal() TickResult {
	if !h.localMu.TryLock() {
		h.metrics.HeartbeatSkips.WithLabelValues("local").Inc()
		return TickResult{Skipped: true}
	}
	defer h.localMu.Unlock()

	res := TickResult{OK: true}
	for _, id := range h.store.TakeDirty(types.LaneLocal) {
		if _, ok := h.store.Rescore(id); ok {
			res.Recomputed++
		}
	}
	return res
}

// TickGlobal rescores dirty global DTUs, then walks PROPOSED ones through
// the auto-promote gate: contradictions dispute, near-duplicates collapse,
// clean candidates promote.
func (h *Heartbeat) TickGlobal() TickResult {
	if !h.globalMu.TryLock() {
		h.metrics.HeartbeatSkips.WithLabelValues("global").Inc()
		return TickResult{Skipped: true}
	}
	defer h.globalMu.Unlock()

	res := TickResult{OK: true}
	for _, id := range h.store.TakeDirty(types.LaneGlobal) {
		if _, ok := h.store.Rescore(id); ok {
			res.Recomputed++
		}
	}

	for _, d := range h.store.ByLane(types.LaneGlobal) {
		if d.Status != types.StatusProposed {
			continue
		}
		gate, cas := h.store.RunAutoPromote(d.ID, types.LaneGlobal)
		switch {
		case gate.SameAsID != "" && cas.OK:
			res.Deduped++
		case gate.Pass && cas.OK:
			res.AutoPromoted++
		default:
			if failed(gate, "no_contradictions") {
				if dis := h.store.ChangeStatus(d.ID, types.StatusDisputed, nil); dis.OK && !dis.Noop {
					res.AutoDisputed++
				}
			}
		}
	}
	return res
}

func failed(gate atlas.GateResult, name string) bool {
	for _, c := range gate.Checks {
		if c.Name == name {
			return !c.Pass
		}
	}
	return false
}

// TickMarketplace scans marketplace artifacts for origin-integrity
// violations. A hash mismatch is treated as tampering: the artifact is
// quarantined and counted as fraud.
func (h *Heartbeat) TickMarketplace() TickResult {
	if !h.marketMu.TryLock() {
		h.metrics.HeartbeatSkips.WithLabelValues("marketplace").Inc()
		return TickResult{Skipped: true}
	}
	defer h.marketMu.Unlock()

	res := TickResult{OK: true}
	for _, d := range h.store.ByLane(types.LaneMarketplace) {
		res.IntegrityScans++
		ok, err := h.rights.VerifyOriginIntegrity(d)
		if err != nil {
			continue // no proof recorded; nothing to compare
		}
		if !ok {
			res.FraudDetected++
			h.store.ChangeStatus(d.ID, types.StatusQuarantined, nil)
			logging.Get(logging.CategoryHeartbeat).Sugar().Warnw("marketplace fraud",
				"dtu", d.ID)
		}
	}
	return res
}

// TickAll runs the three lane sweeps concurrently and returns the results
// keyed by lane, for on-demand full sweeps. The engine's Stop and snapshot
// paths do not call it.
func (h *Heartbeat) TickAll(ctx context.Context) map[string]TickResult {
	var mu sync.Mutex
	out := make(map[string]TickResult, 3)

	g, _ := errgroup.WithContext(ctx)
	for lane, tick := range map[string]func() TickResult{
		"local":       h.TickLocal,
		"global":      h.TickGlobal,
		"marketplace": h.TickMarketplace,
	} {
		g.Go(func() error {
			res := tick()
			mu.Lock()
			out[lane] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Start launches the three tickers. Intervals at zero disable their lane.
func (h *Heartbeat) Start(ctx context.Context, iv Intervals) {
	run := func(interval time.Duration, tick func() TickResult) {
		if interval <= 0 {
			return
		}
		h.done.Add(1)
		go func() {
			defer h.done.Done()
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-h.stop:
					return
				case <-t.C:
					tick()
				}
			}
		}()
	}
	run(iv.Local, h.TickLocal)
	run(iv.Global, h.TickGlobal)
	run(iv.Marketplace, h.TickMarketplace)
}

// Stop halts the tickers and waits for them to exit.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.done.Wait()
}
