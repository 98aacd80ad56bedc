// Package engine is the composition root: it builds the substrate from
// config, owns subsystem lifecycle, and provides whole-state snapshot and
// restore. Hosts embed an Engine; the core packages stay host-agnostic.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"concord/internal/atlas"
	"concord/internal/autogen"
	"concord/internal/budget"
	"concord/internal/bus"
	"concord/internal/chat"
	"concord/internal/config"
	"concord/internal/embedding"
	"concord/internal/epistemic"
	"concord/internal/federation"
	"concord/internal/governance"
	"concord/internal/heartbeat"
	"concord/internal/idclock"
	"concord/internal/llm"
	"concord/internal/logging"
	"concord/internal/metrics"
	"concord/internal/persist"
	"concord/internal/rights"
	"concord/internal/scheduler"
	"concord/internal/scope"
	"concord/internal/stability"
	"concord/internal/timeline"
	"concord/internal/types"
)

// busEmitter adapts the bus to the narrow Emitter interfaces the domain
// packages declare.
type busEmitter struct {
	bus *bus.Bus
}

func (e *busEmitter) Emit(eventType string, payload map[string]any, meta map[string]string) {
	var em bus.EventMeta
	if meta != nil {
		em.ActorID = meta["actor_id"]
		em.SessionID = meta["session_id"]
		em.Shard = meta["shard"]
	}
	e.bus.Emit(eventType, payload, em)
}

// Engine wires the substrate together.
type Engine struct {
	cfg *config.Config

	Clock        *idclock.Clock
	Bus          *bus.Bus
	Replay       *bus.ReplayEngine
	Budget       *budget.Budget
	Scheduler    *scheduler.Scheduler
	Gate         *governance.Gate
	Constitution *governance.Constitution
	Kernel       *epistemic.Kernel
	Rights       *rights.Engine
	Atlas        *atlas.Store
	Router       *scope.Router
	Guard        *scope.Guard
	Heartbeat    *heartbeat.Heartbeat
	Autogen      *autogen.Pipeline
	Stability    *stability.Monitor
	Chat         *chat.Adapter
	Federation   *federation.Exchange
	Timeline     *timeline.History
	Metrics      *metrics.Metrics
	Persist      persist.Store
	LLM          llm.Client
	Embedding    embedding.Engine

	cancel  context.CancelFunc
	httpSrv *http.Server
	wg      sync.WaitGroup
}

// New builds an Engine from config. Optional collaborators (LLM, embedding,
// persistence) are constructed only when configured; their absence degrades
// the features that need them and nothing else.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return nil, fmt.Errorf("engine: logging init: %w", err)
	}

	e := &Engine{cfg: cfg}
	e.Metrics = metrics.New()
	e.Clock = idclock.New()
	e.Bus = bus.New(e.Clock, cfg.Bus.Capacity, e.Metrics)
	e.Replay = bus.NewReplayEngine()
	e.Budget = budget.New(e.Metrics,
		budget.WithWindow(cfg.Budget.Window),
		budget.WithMaxUnits(cfg.Budget.MaxUnits),
		budget.WithCosts(cfg.Budget.Costs),
	)
	e.Scheduler = scheduler.New(scheduler.Config{
		AgingIncrement:          cfg.Scheduler.AgingIncrement,
		AgingInterval:           cfg.Scheduler.AgingInterval,
		StarvationThreshold:     cfg.Scheduler.StarvationThreshold,
		StarvationBoostPriority: cfg.Scheduler.StarvationBoostPriority,
		MaxBackground:           cfg.Scheduler.MaxBackground,
		MaxThreadLifetime:       cfg.Scheduler.MaxThreadLifetime,
	}, e.Metrics)
	e.Gate = governance.NewGate(e.Metrics)
	e.Constitution = governance.NewConstitution(e.Gate)
	e.Kernel = epistemic.NewKernel()
	e.Rights = rights.NewEngine()

	switch cfg.Embedding.Provider {
	case "ollama":
		e.Embedding = embedding.NewOllamaEngine(cfg.Embedding.Endpoint, cfg.Embedding.Model)
	case "hash":
		e.Embedding = embedding.NewHashEngine(0)
	}

	emitter := &busEmitter{bus: e.Bus}
	atlasOpts := []atlas.Option{atlas.WithEmitter(emitter)}
	if e.Embedding != nil {
		atlasOpts = append(atlasOpts, atlas.WithEmbedder(e.Embedding))
	}
	e.Atlas = atlas.New(e.Kernel, e.Rights, e.Metrics, atlasOpts...)
	e.Router = scope.NewRouter(e.Atlas, e.Gate)
	e.Guard = scope.NewGuard(e.Atlas, e.Router, e.Gate, e.Budget)
	e.Heartbeat = heartbeat.New(e.Atlas, e.Rights, e.Metrics)
	e.Stability = stability.NewMonitor(e.Metrics)
	e.Chat = chat.New(e.Atlas, e.Guard)
	e.Federation = federation.NewExchange(e.Atlas, cfg.Name, emitter)
	e.Timeline = timeline.NewHistory(emitter)

	switch cfg.LLM.Provider {
	case "ollama":
		e.LLM = llm.NewOllamaClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.Timeout)
	}
	if cfg.Persist.Path != "" {
		store, err := persist.NewSQLiteStore(cfg.Persist.Path)
		if err != nil {
			return nil, err
		}
		e.Persist = store
	} else {
		e.Persist = persist.NewMemoryStore()
	}

	e.Autogen = autogen.New(e.Atlas, e.LLM, e.Metrics, autogen.Config{
		Variant:       autogen.Variant(cfg.Autogen.Variant),
		MinCore:       cfg.Autogen.MinCoreDTUs,
		MaxCore:       cfg.Autogen.MaxCoreDTUs,
		RecentHashCap: cfg.Autogen.RecentHashCap,
	})

	logging.Get(logging.CategoryEngine).Sugar().Infow("engine built",
		"name", cfg.Name, "version", cfg.Version,
		"llm", cfg.LLM.Provider, "embedding", cfg.Embedding.Provider)
	return e, nil
}

// Start launches the heartbeat tickers, the lifetime enforcer, and the
// metrics endpoint when enabled.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.Heartbeat.Start(ctx, heartbeat.Intervals{
		Local:       e.cfg.Heartbeat.LocalInterval,
		Global:      e.cfg.Heartbeat.GlobalInterval,
		Marketplace: e.cfg.Heartbeat.MarketplaceInterval,
	})

	// Thread lifetime enforcement rides the scheduler's aging interval.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(e.cfg.Scheduler.AgingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, id := range e.Scheduler.EnforceThreadLifetimes() {
					e.Bus.Emit(bus.TopicThreadTerminated, map[string]any{"task": id}, bus.EventMeta{})
				}
			}
		}
	}()

	if e.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(e.Metrics.Registry, promhttp.HandlerOpts{}))
		e.httpSrv = &http.Server{Addr: e.cfg.Metrics.Addr, Handler: mux}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Get(logging.CategoryEngine).Sugar().Warnw("metrics server", "err", err)
			}
		}()
	}
}

// Stop shuts everything down and flushes logs.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.Heartbeat.Stop()
	if e.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = e.httpSrv.Shutdown(shutdownCtx)
	}
	e.wg.Wait()
	if e.Persist != nil {
		_ = e.Persist.Close()
	}
	logging.Sync()
}

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

// Snapshot is the engine's persistable state. It holds no bus events, so a
// replay after Restore works only on the events emitted since.
type Snapshot struct {
	TakenAt           time.Time                        `json:"taken_at"`
	SequenceCursor    uint64                           `json:"sequence_cursor"`
	Shards            map[string]map[string]*types.DTU `json:"shards"`
	ConstitutionRules []governance.Rule                `json:"constitution_rules"`
	Amendments        []governance.Amendment           `json:"amendments"`
	Submissions       []*scope.Submission              `json:"submissions"`
	RecentHashes      []string                         `json:"recent_hashes"`
}

// Snapshot captures the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		TakenAt:           time.Now(),
		SequenceCursor:    e.Clock.Current(),
		Shards:            e.Atlas.Export(),
		ConstitutionRules: e.Constitution.Rules(),
		Amendments:        e.Constitution.Amendments(),
		Submissions:       e.Router.Export(),
		RecentHashes:      e.Autogen.RecentHashes(),
	}
}

// Restore replaces engine state with a snapshot.
func (e *Engine) Restore(s Snapshot) {
	e.Clock.Advance(s.SequenceCursor)
	e.Atlas.Import(s.Shards)
	e.Constitution.Restore(s.ConstitutionRules, s.Amendments)
	e.Router.Import(s.Submissions)
	e.Autogen.RestoreRecentHashes(s.RecentHashes)
}

// snapshotKey is the persistence slot for the latest snapshot.
const snapshotKey = "snapshot:latest"

// SaveSnapshot serializes the current state into the persist store.
func (e *Engine) SaveSnapshot() error {
	data, err := json.Marshal(e.Snapshot())
	if err != nil {
		return fmt.Errorf("engine: marshal snapshot: %w", err)
	}
	return e.Persist.Put(snapshotKey, data)
}

// LoadSnapshot restores the latest persisted snapshot. Returns false when
// none exists.
func (e *Engine) LoadSnapshot() (bool, error) {
	data, ok, err := e.Persist.Get(snapshotKey)
	if err != nil || !ok {
		return false, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return false, fmt.Errorf("engine: unmarshal snapshot: %w", err)
	}
	e.Restore(s)
	return true, nil
}
