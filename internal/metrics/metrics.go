// Package metrics exposes prometheus instrumentation for the substrate.
// Collectors are registered once on a dedicated registry so tests can build
// isolated instances.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the substrate's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	EventsEmitted        *prometheus.CounterVec
	EventsDropped        prometheus.Counter
	BudgetDenials        *prometheus.CounterVec
	GateDenials          *prometheus.CounterVec
	Promotions           *prometheus.CounterVec
	Disputes             prometheus.Counter
	Quarantines          prometheus.Counter
	AutogenRuns          *prometheus.CounterVec
	HeartbeatSkips       *prometheus.CounterVec
	StarvationPromotions prometheus.Counter
	DriftAlerts          *prometheus.CounterVec
	StoreSize            *prometheus.GaugeVec
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "bus", Name: "events_emitted_total",
			Help: "Events appended to the cognition bus, by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "bus", Name: "events_dropped_total",
			Help: "Events evicted from the ring when at capacity.",
		}),
		BudgetDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "budget", Name: "denials_total",
			Help: "Rate budget denials, by domain.",
		}, []string{"domain"}),
		GateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "governance", Name: "denials_total",
			Help: "Governance gate denials, by reason.",
		}, []string{"reason"}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "atlas", Name: "promotions_total",
			Help: "DTU status promotions, by target status.",
		}, []string{"status"}),
		Disputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "atlas", Name: "disputes_total",
			Help: "Auto-disputes raised by contradiction handling.",
		}),
		Quarantines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "atlas", Name: "quarantines_total",
			Help: "DTUs quarantined for missing provenance or lineage cycles.",
		}),
		AutogenRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "autogen", Name: "runs_total",
			Help: "Autogen pipeline runs, by outcome.",
		}, []string{"outcome"}),
		HeartbeatSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "heartbeat", Name: "skips_total",
			Help: "Heartbeat ticks skipped due to overlap, by lane.",
		}, []string{"lane"}),
		StarvationPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "scheduler", Name: "starvation_promotions_total",
			Help: "Tasks force-promoted past the starvation threshold.",
		}),
		DriftAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord", Subsystem: "stability", Name: "drift_alerts_total",
			Help: "Drift detector alerts, by detector.",
		}, []string{"detector"}),
		StoreSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "concord", Subsystem: "atlas", Name: "store_size",
			Help: "DTUs held, by lane.",
		}, []string{"lane"}),
	}

	reg.MustRegister(
		m.EventsEmitted, m.EventsDropped, m.BudgetDenials, m.GateDenials,
		m.Promotions, m.Disputes, m.Quarantines, m.AutogenRuns,
		m.HeartbeatSkips, m.StarvationPromotions, m.DriftAlerts, m.StoreSize,
	)
	return m
}

// Nop returns a Metrics set backed by an unexported registry, for callers
// that do not care about scraping.
func Nop() *Metrics {
	return New()
}
