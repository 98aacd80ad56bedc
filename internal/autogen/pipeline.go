package autogen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"concord/internal/atlas"
	"concord/internal/llm"
	"concord/internal/logging"
	"concord/internal/metrics"
	"concord/internal/types"
)

// =============================================================================
// RETRIEVAL PACK
// =============================================================================

// Pack is the retrieval stage output: core DTUs the builder merges, the
// peripheral references, citations pulled from the core, and conflict pairs
// touching the core.
type Pack struct {
	Core       []*types.DTU `json:"core"`
	Peripheral []string     `json:"peripheral,omitempty"` // ids only
	Citations  []string     `json:"citations,omitempty"`
	Conflicts  []types.Link `json:"conflicts,omitempty"`
}

// Pack size bounds.
const (
	DefaultMinCore = 10
	DefaultMaxCore = 30
)

// buildPack selects core DTUs scored for the intent. When the lattice holds
// fewer than the minimum the pack takes everything available.
func buildPack(store *atlas.Store, intent Intent, minCore, maxCore int) Pack {
	if minCore <= 0 {
		minCore = DefaultMinCore
	}
	if maxCore <= 0 {
		maxCore = DefaultMaxCore
	}

	all := append(store.ByLane(types.LaneLocal), store.ByLane(types.LaneGlobal)...)

	type scored struct {
		d     *types.DTU
		score float64
	}
	candidates := make([]scored, 0, len(all))
	for _, d := range all {
		if d.Status == types.StatusSameAs || d.Status == types.StatusQuarantined {
			continue
		}
		s := d.Scores.ConfidenceOverall
		switch intent {
		case IntentFillGaps:
			if len(d.Tags) == 0 || (len(store.LinksFrom(d.ID)) == 0 && len(store.LinksTo(d.ID)) == 0) {
				s += 0.5
			}
		case IntentResolveConflicts:
			for _, l := range store.LinksFrom(d.ID) {
				if l.Type == types.LinkContradicts {
					s += 0.5
					break
				}
			}
		case IntentElevateHighUsage:
			s += 0.1 * float64(len(store.LinksTo(d.ID)))
		}
		candidates = append(candidates, scored{d: d, score: s})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var pack Pack
	for i, c := range candidates {
		if i < maxCore {
			pack.Core = append(pack.Core, c.d)
		} else {
			pack.Peripheral = append(pack.Peripheral, c.d.ID)
		}
	}

	coreSet := make(map[string]struct{}, len(pack.Core))
	for _, d := range pack.Core {
		coreSet[d.ID] = struct{}{}
		for _, c := range d.Claims {
			pack.Citations = append(pack.Citations, c.Sources...)
		}
	}
	for _, l := range store.ContradictionPairs() {
		_, fromCore := coreSet[l.From]
		_, toCore := coreSet[l.To]
		if fromCore || toCore {
			pack.Conflicts = append(pack.Conflicts, l)
		}
	}
	return pack
}

// =============================================================================
// BUILDER
// =============================================================================

// Candidate is the DTU under construction plus its source ids.
type Candidate struct {
	DTU     *types.DTU `json:"dtu"`
	Sources []string   `json:"sources"`
	Summary string     `json:"summary"`
}

// builderConfidenceFloor keeps merged claims from inheriting noise.
const builderConfidenceFloor = 0.3

// build merges the pack's core content into one candidate. Claims carry the
// supporting DTU ids; claim kind follows the source claim lane.
func build(intent Intent, pack Pack) (*Candidate, error) {
	if len(pack.Core) == 0 {
		return nil, fmt.Errorf("autogen: empty retrieval pack")
	}

	tagCount := make(map[string]int)
	var claims []types.Claim
	var sources []string
	for _, d := range pack.Core {
		sources = append(sources, d.ID)
		for _, t := range d.Tags {
			tagCount[t]++
		}
		for _, c := range d.Claims {
			kind := types.ClaimHypothesis
			switch {
			case c.Type == types.ClaimFact && len(c.Sources) > 0:
				kind = types.ClaimFact
			case c.Type.Interpretive():
				kind = types.ClaimInterpretation
			}
			conf := d.Scores.ConfidenceOverall
			if conf < builderConfidenceFloor {
				conf = builderConfidenceFloor
			}
			claims = append(claims, types.Claim{
				Type:         kind,
				Text:         c.Text,
				EvidenceTier: c.EvidenceTier,
				Sources:      append([]string(nil), c.Sources...),
				Support:      []string{d.ID},
				Confidence:   conf,
			})
		}
	}

	var topTags []string
	for t, n := range tagCount {
		if n >= 2 {
			topTags = append(topTags, t)
		}
	}
	sort.Strings(topTags)

	d := &types.DTU{
		Title:          fmt.Sprintf("%s synthesis over %d units", intent, len(pack.Core)),
		Tags:           topTags,
		Claims:         claims,
		DomainType:     pack.Core[0].DomainType,
		EpistemicClass: types.ClassInterpretive,
		Lineage: types.Lineage{
			Parents: sources,
			Origin:  types.OriginAutogen,
		},
	}
	return &Candidate{DTU: d, Sources: sources}, nil
}

// =============================================================================
// SYNTHESIZER
// =============================================================================

// synthesize dedupes claims, appends the critic trace to meta, and appends a
// critic summary bullet to the human-readable summary.
func synthesize(c *Candidate, report CriticReport) {
	seen := make(map[string]struct{}, len(c.DTU.Claims))
	out := c.DTU.Claims[:0]
	for _, cl := range c.DTU.Claims {
		key := strings.ToLower(strings.TrimSpace(cl.Text))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cl)
	}
	c.DTU.Claims = out

	for _, issue := range report.Issues {
		c.DTU.Meta.CriticTrace = append(c.DTU.Meta.CriticTrace,
			fmt.Sprintf("%s:%s %s", issue.Severity, issue.Rule, issue.Detail))
	}
	c.Summary += fmt.Sprintf("\n- critic: %d issues, escalation=%v", len(report.Issues), report.NeedsEscalation)
}

// =============================================================================
// NOVELTY
// =============================================================================

// payloadHash fingerprints a candidate for the recent-generation ring.
func payloadHash(d *types.DTU) string {
	var b strings.Builder
	b.WriteString(d.Title)
	for _, c := range d.Claims {
		b.WriteString("|")
		b.WriteString(c.Text)
	}
	tags := append([]string(nil), d.Tags...)
	sort.Strings(tags)
	for _, t := range tags {
		b.WriteString("#")
		b.WriteString(t)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NoveltyOutcome is the novelty stage verdict.
type NoveltyOutcome struct {
	Novel         bool    `json:"novel"`
	RecentHashHit bool    `json:"recent_hash_hit,omitempty"`
	SimilarTo     string  `json:"similar_to,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	PatchProposal bool    `json:"patch_proposal,omitempty"`
}

// patchThreshold routes a near-duplicate to a patch proposal instead of a
// fresh write.
const patchThreshold = 0.85

// DefaultRecentHashCap bounds the recent-generation ring.
const DefaultRecentHashCap = 500

// =============================================================================
// WRITE POLICY
// =============================================================================

// WritePolicy is the pipeline's final disposition.
type WritePolicy string

const (
	// PolicyShadow writes a shadow copy requiring council vote plus human
	// push before surfacing.
	PolicyShadow WritePolicy = "shadow"
	// PolicyRegular lets the candidate enter the normal write path.
	PolicyRegular WritePolicy = "regular"
)

// decidePolicy: shadow unless the intent is fill_gaps with a clean critic.
func decidePolicy(intent Intent, report CriticReport) WritePolicy {
	if report.HasCritical() {
		return PolicyShadow
	}
	if intent == IntentFillGaps {
		return PolicyRegular
	}
	return PolicyShadow
}

// =============================================================================
// PIPELINE
// =============================================================================

// Config shapes a Pipeline.
type Config struct {
	Variant       Variant
	MinCore       int
	MaxCore       int
	RecentHashCap int
}

// RunResult is one pipeline run's outcome.
type RunResult struct {
	Aborted    bool           `json:"aborted"`
	AbortStage string         `json:"abort_stage,omitempty"`
	Intent     IntentChoice   `json:"intent"`
	Candidate  *Candidate     `json:"candidate,omitempty"`
	Critic     CriticReport   `json:"critic"`
	Novelty    NoveltyOutcome `json:"novelty"`
	Policy     WritePolicy    `json:"policy,omitempty"`
	Trace      []string       `json:"trace"`
}

// Pipeline owns the recent-generation ring and the collaborator handles.
type Pipeline struct {
	store   *atlas.Store
	client  llm.Client
	metrics *metrics.Metrics
	cfg     Config

	mu          sync.Mutex
	recent      []string
	recentIndex map[string]struct{}
}

// New builds a Pipeline. client may be nil; shaping is skipped without it.
func New(store *atlas.Store, client llm.Client, m *metrics.Metrics, cfg Config) *Pipeline {
	if cfg.RecentHashCap <= 0 {
		cfg.RecentHashCap = DefaultRecentHashCap
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Pipeline{
		store:       store,
		client:      client,
		metrics:     m,
		cfg:         cfg,
		recentIndex: make(map[string]struct{}),
	}
}

// rememberHash appends to the bounded ring.
func (p *Pipeline) rememberHash(h string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, h)
	p.recentIndex[h] = struct{}{}
	if len(p.recent) > p.cfg.RecentHashCap {
		evicted := p.recent[0]
		p.recent = p.recent[1:]
		delete(p.recentIndex, evicted)
	}
}

func (p *Pipeline) recentHit(h string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.recentIndex[h]
	return ok
}

// RecentHashes snapshots the ring for persistence.
func (p *Pipeline) RecentHashes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.recent...)
}

// RestoreRecentHashes reloads the ring from a snapshot.
func (p *Pipeline) RestoreRecentHashes(hashes []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append([]string(nil), hashes...)
	p.recentIndex = make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		p.recentIndex[h] = struct{}{}
	}
}

// Run executes the full pipeline once. Any stage may abort; an aborted run
// names the stage and keeps the trace. Run never writes to the store - the
// caller applies the candidate under the returned policy.
func (p *Pipeline) Run(ctx context.Context) RunResult {
	start := time.Now()
	res := RunResult{}
	trace := func(format string, args ...any) {
		res.Trace = append(res.Trace, fmt.Sprintf(format, args...))
	}

	// Stage 0: target selection.
	res.Intent = SelectIntent(p.store, p.cfg.Variant)
	trace("intent: %s score=%.1f reason=%s", res.Intent.Intent, res.Intent.Score, res.Intent.Reason)
	if res.Intent.Reason == "empty_lattice" {
		res.Aborted = true
		res.AbortStage = "target_selection"
		p.metrics.AutogenRuns.WithLabelValues("empty_lattice").Inc()
		return res
	}

	// Stage 1: retrieval pack.
	pack := buildPack(p.store, res.Intent.Intent, p.cfg.MinCore, p.cfg.MaxCore)
	trace("pack: core=%d peripheral=%d citations=%d conflicts=%d",
		len(pack.Core), len(pack.Peripheral), len(pack.Citations), len(pack.Conflicts))

	// Stage 2: builder.
	candidate, err := build(res.Intent.Intent, pack)
	if err != nil {
		res.Aborted = true
		res.AbortStage = "builder"
		trace("builder: %v", err)
		p.metrics.AutogenRuns.WithLabelValues("aborted").Inc()
		return res
	}
	res.Candidate = candidate

	// Stage 3: critic.
	res.Critic = Critique(candidate, len(pack.Conflicts))
	trace("critic: %d issues escalation=%v", len(res.Critic.Issues), res.Critic.NeedsEscalation)

	// Stage 4: synthesizer.
	synthesize(candidate, res.Critic)

	// Stage 5: optional LLM shaping.
	shaped, shapeTrace := Shape(ctx, p.client, candidate, candidate.Sources)
	res.Trace = append(res.Trace, shapeTrace...)
	if shaped {
		// Re-critique the reshaped claims; the model may have changed the mix.
		res.Critic = Critique(candidate, len(pack.Conflicts))
	}

	// Stage 6: novelty.
	hash := payloadHash(candidate.DTU)
	if p.recentHit(hash) {
		res.Novelty = NoveltyOutcome{Novel: false, RecentHashHit: true}
		res.Aborted = true
		res.AbortStage = "novelty"
		trace("novelty: recent hash hit, rejected")
		p.metrics.AutogenRuns.WithLabelValues("duplicate").Inc()
		return res
	}
	p.rememberHash(hash)

	if similarID, score := p.store.FindSimilar(candidate.DTU); score >= patchThreshold {
		res.Novelty = NoveltyOutcome{Novel: false, SimilarTo: similarID, Similarity: score, PatchProposal: true}
		trace("novelty: similarity %.2f to %s, emitting patch proposal", score, similarID)
	} else {
		res.Novelty = NoveltyOutcome{Novel: true, Similarity: score}
	}

	// Stage 7: write policy.
	res.Policy = decidePolicy(res.Intent.Intent, res.Critic)
	trace("policy: %s (%.0fms)", res.Policy, float64(time.Since(start).Milliseconds()))
	p.metrics.AutogenRuns.WithLabelValues("completed").Inc()
	logging.Get(logging.CategoryAutogen).Sugar().Infow("run complete",
		"intent", res.Intent.Intent, "policy", res.Policy, "novel", res.Novelty.Novel)
	return res
}
