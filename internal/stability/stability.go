// Package stability watches the substrate for drift: epistemic monoculture,
// transfer overuse, economically biased decisions, and attention collapse.
// Real failures feed the generator, which turns each one into a regression
// test, a must-severity constraint, and an automated guardrail.
package stability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/metrics"
)

// Detector type tags.
const (
	TypeMonoculture       = "epistemic_monoculture"
	TypeTransferOveruse   = "transfer_overuse"
	TypeEconomicBias      = "economic_bias"
	TypeAttentionCollapse = "attention_collapse"
)

// Detection is one detector verdict.
type Detection struct {
	Detected  bool    `json:"detected"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Type      string  `json:"type"`
	Detail    string  `json:"detail,omitempty"`
}

// Detector thresholds.
const (
	monocultureThreshold = 0.7
	transferThreshold    = 0.6
	economicThreshold    = 0.5
	attentionThreshold   = 0.8
	attentionTopShare    = 0.2
)

// ringCap bounds every generated artifact ring.
const ringCap = 200

// DetectMonoculture flags a domain distribution dominated by one domain.
func DetectMonoculture(domainCounts map[string]int) Detection {
	d := Detection{Type: TypeMonoculture, Threshold: monocultureThreshold}
	total := 0
	for _, n := range domainCounts {
		total += n
	}
	if total == 0 {
		return d
	}
	maxDomain, maxN := "", 0
	for dom, n := range domainCounts {
		if n > maxN || (n == maxN && dom < maxDomain) {
			maxDomain, maxN = dom, n
		}
	}
	d.Score = float64(maxN) / float64(total)
	d.Detected = d.Score >= monocultureThreshold
	if d.Detected {
		d.Detail = fmt.Sprintf("domain %q holds %.0f%% of knowledge", maxDomain, d.Score*100)
	}
	return d
}

// DetectTransferOveruse flags learning dominated by transfer imports.
func DetectTransferOveruse(transferSourced, total int) Detection {
	d := Detection{Type: TypeTransferOveruse, Threshold: transferThreshold}
	if total == 0 {
		return d
	}
	d.Score = float64(transferSourced) / float64(total)
	d.Detected = d.Score >= transferThreshold
	if d.Detected {
		d.Detail = fmt.Sprintf("%d of %d learnings are transfer-sourced", transferSourced, total)
	}
	return d
}

// DetectEconomicBias flags decision-making dominated by economic motives.
func DetectEconomicBias(economic, total int) Detection {
	d := Detection{Type: TypeEconomicBias, Threshold: economicThreshold}
	if total == 0 {
		return d
	}
	d.Score = float64(economic) / float64(total)
	d.Detected = d.Score >= economicThreshold
	if d.Detected {
		d.Detail = fmt.Sprintf("%d of %d decisions economically motivated", economic, total)
	}
	return d
}

// DetectAttentionCollapse flags the top fifth of domains absorbing nearly
// all attention weight.
func DetectAttentionCollapse(attention map[string]float64) Detection {
	d := Detection{Type: TypeAttentionCollapse, Threshold: attentionThreshold}
	if len(attention) == 0 {
		return d
	}

	weights := make([]float64, 0, len(attention))
	var total float64
	for _, w := range attention {
		weights = append(weights, w)
		total += w
	}
	if total == 0 {
		return d
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))

	topN := int(float64(len(weights)) * attentionTopShare)
	if topN < 1 {
		topN = 1
	}
	var topSum float64
	for _, w := range weights[:topN] {
		topSum += w
	}
	d.Score = topSum / total
	d.Detected = d.Score >= attentionThreshold
	if d.Detected {
		d.Detail = fmt.Sprintf("top %d domains hold %.0f%% of attention", topN, d.Score*100)
	}
	return d
}

// =============================================================================
// FAILURE-DRIVEN GENERATION
// =============================================================================

// Failure is a structured failure report from any subsystem.
type Failure struct {
	Source   string `json:"source"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
	Observed string `json:"observed"`
	Expected string `json:"expected"`
}

// RegressionTest pins a failure so it cannot silently return.
type RegressionTest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Given     string    `json:"given"`
	Expect    string    `json:"expect"`
	CreatedAt time.Time `json:"created_at"`
}

// Constraint is a must-severity rule derived from a failure.
type Constraint struct {
	ID       string `json:"id"`
	Severity string `json:"severity"` // always "must"
	Rule     string `json:"rule"`
}

// Guardrail is an automated check derived from a failure.
type Guardrail struct {
	ID      string `json:"id"`
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
}

// Generated bundles the three artifacts one failure produces.
type Generated struct {
	Test       RegressionTest `json:"test"`
	Constraint Constraint     `json:"constraint"`
	Guardrail  Guardrail      `json:"guardrail"`
}

// Monitor accumulates observations, runs the detectors, and owns the
// generated-artifact rings.
type Monitor struct {
	metrics *metrics.Metrics
	now     func() time.Time

	mu            sync.Mutex
	domainCounts  map[string]int
	transferCount int
	learnCount    int
	economicCount int
	decisionCount int
	attention     map[string]float64

	alerts      []Detection
	tests       []RegressionTest
	constraints []Constraint
	guardrails  []Guardrail
}

// NewMonitor builds an empty Monitor.
func NewMonitor(m *metrics.Metrics) *Monitor {
	if m == nil {
		m = metrics.Nop()
	}
	return &Monitor{
		metrics:      m,
		now:          time.Now,
		domainCounts: make(map[string]int),
		attention:    make(map[string]float64),
	}
}

// RecordKnowledge counts a knowledge unit landing in a domain.
func (m *Monitor) RecordKnowledge(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCounts[domain]++
}

// RecordLearning counts a learning event, transfer-sourced or not.
func (m *Monitor) RecordLearning(fromTransfer bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learnCount++
	if fromTransfer {
		m.transferCount++
	}
}

// RecordDecision counts a decision, economically motivated or not.
func (m *Monitor) RecordDecision(economic bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisionCount++
	if economic {
		m.economicCount++
	}
}

// RecordAttention accumulates attention weight on a domain.
func (m *Monitor) RecordAttention(domain string, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attention[domain] += weight
}

// DetectAll runs every detector over the accumulated state. Positive
// detections land in the alert ring.
func (m *Monitor) DetectAll() []Detection {
	m.mu.Lock()
	domains := make(map[string]int, len(m.domainCounts))
	for k, v := range m.domainCounts {
		domains[k] = v
	}
	attention := make(map[string]float64, len(m.attention))
	for k, v := range m.attention {
		attention[k] = v
	}
	transfer, learn := m.transferCount, m.learnCount
	economic, decisions := m.economicCount, m.decisionCount
	m.mu.Unlock()

	detections := []Detection{
		DetectMonoculture(domains),
		DetectTransferOveruse(transfer, learn),
		DetectEconomicBias(economic, decisions),
		DetectAttentionCollapse(attention),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range detections {
		if !d.Detected {
			continue
		}
		m.alerts = append(m.alerts, d)
		if len(m.alerts) > ringCap {
			m.alerts = m.alerts[len(m.alerts)-ringCap:]
		}
		m.metrics.DriftAlerts.WithLabelValues(d.Type).Inc()
		logging.Get(logging.CategoryStability).Sugar().Warnw("drift detected",
			"type", d.Type, "score", d.Score, "threshold", d.Threshold)
	}
	return detections
}

// Alerts returns the alert ring, oldest first.
func (m *Monitor) Alerts() []Detection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Detection(nil), m.alerts...)
}

// GenerateFromFailure turns a real failure into one regression test, one
// must constraint, and one guardrail. All three rings are capped.
func (m *Monitor) GenerateFromFailure(f Failure) Generated {
	gen := Generated{
		Test: RegressionTest{
			ID:        idclock.MintID("regr"),
			Name:      fmt.Sprintf("regression_%s_%s", f.Source, f.Kind),
			Given:     f.Observed,
			Expect:    f.Expected,
			CreatedAt: m.now(),
		},
		Constraint: Constraint{
			ID:       idclock.MintID("constr"),
			Severity: "must",
			Rule:     fmt.Sprintf("%s must not %s", f.Source, f.Kind),
		},
		Guardrail: Guardrail{
			ID:      idclock.MintID("guard"),
			Trigger: fmt.Sprintf("%s reports %s", f.Source, f.Kind),
			Action:  "block_and_alert",
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests = appendCapped(m.tests, gen.Test)
	m.constraints = appendCapped(m.constraints, gen.Constraint)
	m.guardrails = appendCapped(m.guardrails, gen.Guardrail)
	return gen
}

func appendCapped[T any](ring []T, v T) []T {
	ring = append(ring, v)
	if len(ring) > ringCap {
		ring = ring[len(ring)-ringCap:]
	}
	return ring
}

// Tests returns the regression-test ring.
func (m *Monitor) Tests() []RegressionTest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RegressionTest(nil), m.tests...)
}

// Constraints returns the constraint ring.
func (m *Monitor) Constraints() []Constraint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Constraint(nil), m.constraints...)
}

// Guardrails returns the guardrail ring.
func (m *Monitor) Guardrails() []Guardrail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Guardrail(nil), m.guardrails...)
}
