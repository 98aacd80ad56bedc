// Package atlas is the DTU entity store: status state machine, claim lanes,
// lineage, links, contradiction handling, the auto-promote gate, and scored
// retrieval. All DTU mutation flows through this package; the write guard
// admits, atlas owns.
package atlas

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"concord/internal/epistemic"
	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/metrics"
	"concord/internal/rights"
	"concord/internal/sharded"
	"concord/internal/types"
)

// Emitter is the slice of the cognition bus atlas needs. Decoupled as an
// interface so the store is testable without a live bus.
type Emitter interface {
	Emit(eventType string, payload map[string]any, meta map[string]string)
}

// Embedder is the optional semantic-similarity capability. When present,
// dedupe blends vector similarity into its lexical score; when absent,
// scoring stays lexical.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the atlas DTU store.
type Store struct {
	dtus    *sharded.Store[*types.DTU]
	kernel  *epistemic.Kernel
	rights  *rights.Engine
	metrics *metrics.Metrics
	emit    Emitter
	embed   Embedder
	now     func() time.Time

	mu    sync.RWMutex
	links map[string][]types.Link // outbound, keyed by from-id
	rev   map[string][]types.Link // inbound, keyed by to-id
	dirty map[string]struct{}     // ids needing a rescore
}

// ShardKey partitions DTUs by lane and domain root, so lane sweeps and
// domain queries stay off each other's locks.
func ShardKey(d *types.DTU) string {
	root := "general"
	if d.DomainType != "" {
		root = d.DomainType
		if i := strings.IndexByte(root, '.'); i > 0 {
			root = root[:i]
		}
	}
	return string(d.Lane) + "/" + root
}

// Option tweaks Store construction.
type Option func(*Store)

// WithClock swaps the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEmitter wires the event bus.
func WithEmitter(e Emitter) Option {
	return func(s *Store) { s.emit = e }
}

// WithEmbedder wires the optional embedding engine.
func WithEmbedder(e Embedder) Option {
	return func(s *Store) { s.embed = e }
}

// New builds a Store over the kernel and rights engine.
func New(kernel *epistemic.Kernel, re *rights.Engine, m *metrics.Metrics, opts ...Option) *Store {
	if m == nil {
		m = metrics.Nop()
	}
	s := &Store{
		dtus:    sharded.New(ShardKey),
		kernel:  kernel,
		rights:  re,
		metrics: m,
		now:     time.Now,
		links:   make(map[string][]types.Link),
		rev:     make(map[string][]types.Link),
		dirty:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) emitEvent(eventType string, payload map[string]any) {
	if s.emit != nil {
		s.emit.Emit(eventType, payload, nil)
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Create admits a new DTU. The write guard has already validated shape; this
// stamps identity, rights, scores, and runs the admission invariants:
// missing provenance quarantines, a lineage cycle quarantines, derivative
// rights on parents must hold.
func (s *Store) Create(d *types.DTU) (*types.DTU, error) {
	if d == nil {
		return nil, fmt.Errorf("atlas: nil dtu")
	}
	if d.ID == "" {
		d.ID = idclock.MintID("dtu")
	} else if _, exists := s.dtus.Get(d.ID); exists {
		return nil, fmt.Errorf("atlas: duplicate id %s", d.ID)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.NormalizeTags()

	if d.Rights.CreatorID == "" {
		d.Rights.CreatorID = d.Author
	}
	if d.Rights.LicenseType == "" {
		lt, err := rights.DefaultLicense(d.Lane)
		if err != nil {
			return nil, err
		}
		d.Rights.LicenseType = lt
	}

	// Derivative rights over foreign parents.
	if len(d.Lineage.Parents) > 0 {
		parents := make([]*types.DTU, 0, len(d.Lineage.Parents))
		for _, pid := range d.Lineage.Parents {
			if p, ok := s.dtus.Get(pid); ok {
				parents = append(parents, p)
			}
		}
		if err := s.rights.CheckDerivativeRights(d.Rights.CreatorID, parents); err != nil {
			return nil, err
		}
	}

	d.Rights.ContentHash = rights.ContentHash(d)
	d.Rights.OriginFingerprint = rights.Fingerprint(d.Rights.CreatorID, d.Rights.ContentHash, d.CreatedAt)

	switch {
	case !d.Meta.Provenance.Complete():
		d.Status = types.StatusQuarantined
		s.metrics.Quarantines.Inc()
	case s.wouldCycle(d):
		d.Status = types.StatusQuarantined
		s.metrics.Quarantines.Inc()
	case d.Status == "":
		d.Status = types.StatusDraft
	}

	s.recomputeScores(d)
	stored := d.Clone()
	s.dtus.Put(stored.ID, stored)
	s.rights.RecordOrigin(stored)
	s.markDirty(stored.ID)

	if claimText := joinClaims(stored); claimText != "" {
		layer := s.kernel.Admit(stored.ID, claimText, stored.Tags, stored.Scores.ConfidenceOverall)
		s.emitEvent("epistemic_classified", map[string]any{"dtu": stored.ID, "layer": string(layer)})
	}

	if stored.Status == types.StatusQuarantined {
		s.emitEvent("quarantine_added", map[string]any{"dtu": stored.ID})
	} else {
		s.emitEvent("provenance_validated", map[string]any{"dtu": stored.ID})
	}

	logging.Get(logging.CategoryAtlas).Sugar().Debugw("created",
		"dtu", stored.ID, "lane", stored.Lane, "status", stored.Status)
	return stored.Clone(), nil
}

func joinClaims(d *types.DTU) string {
	var b strings.Builder
	for _, c := range d.Claims {
		if b.Len() > 0 {
			b.WriteString(". ")
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// ContentUpdate carries the mutable content fields for an UPDATE.
type ContentUpdate struct {
	Title  *string
	Tags   []string
	Claims []types.Claim
}

// UpdateContent edits a DRAFT DTU's content in place, re-hashing and
// re-scoring. Anything past DRAFT is immutable content-wise; changes go
// through new DTUs.
func (s *Store) UpdateContent(id string, upd ContentUpdate) (*types.DTU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dtus.Get(id)
	if !ok {
		return nil, fmt.Errorf("atlas: unknown dtu %s", id)
	}
	if d.Status != types.StatusDraft {
		return nil, fmt.Errorf("atlas: content of %s is frozen in status %s", id, d.Status)
	}

	if upd.Title != nil {
		d.Title = *upd.Title
	}
	if upd.Tags != nil {
		d.Tags = append([]string(nil), upd.Tags...)
		d.NormalizeTags()
	}
	if upd.Claims != nil {
		d.Claims = make([]types.Claim, len(upd.Claims))
		copy(d.Claims, upd.Claims)
	}

	d.Rights.ContentHash = rights.ContentHash(d)
	s.recomputeScores(d)
	s.dirty[id] = struct{}{}
	return d.Clone(), nil
}

// Get returns a clone of the DTU.
func (s *Store) Get(id string) (*types.DTU, bool) {
	d, ok := s.dtus.Get(id)
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// ByLane returns clones of every DTU in a lane.
func (s *Store) ByLane(lane types.Lane) []*types.DTU {
	prefix := string(lane) + "/"
	var out []*types.DTU
	for _, key := range s.dtus.ListShards() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, d := range s.dtus.QueryShard(key, nil, 0) {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Count reports the number of stored DTUs.
func (s *Store) Count() int { return s.dtus.TotalSize() }

// Export snapshots the underlying shard map with cloned values.
func (s *Store) Export() map[string]map[string]*types.DTU {
	raw := s.dtus.Export()
	out := make(map[string]map[string]*types.DTU, len(raw))
	for shard, items := range raw {
		m := make(map[string]*types.DTU, len(items))
		for id, d := range items {
			m[id] = d.Clone()
		}
		out[shard] = m
	}
	return out
}

// Import restores the shard map from a snapshot.
func (s *Store) Import(snapshot map[string]map[string]*types.DTU) {
	s.dtus.Import(snapshot)
}

// =============================================================================
// DIRTY TRACKING
// =============================================================================

func (s *Store) markDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[id] = struct{}{}
}

// TakeDirty drains the dirty set for ids in the given lane.
func (s *Store) TakeDirty(lane types.Lane) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.dirty {
		if d, ok := s.dtus.Get(id); ok && d.Lane == lane {
			out = append(out, id)
			delete(s.dirty, id)
		}
	}
	return out
}

// =============================================================================
// SCORES
// =============================================================================

// recomputeScores derives the three score axes from the DTU's shape and
// evidence. Mutates d in place.
func (s *Store) recomputeScores(d *types.DTU) {
	structural := 0.2
	if d.Title != "" {
		structural += 0.2
	}
	if len(d.Tags) > 0 {
		structural += 0.1
	}
	if len(d.Claims) > 0 {
		structural += 0.2
	}
	if d.DomainType != "" && d.EpistemicClass != "" {
		structural += 0.2
	}
	if d.Meta.Provenance.Complete() {
		structural += 0.1
	}

	factual := 0.0
	factCount := 0
	for _, c := range d.Claims {
		if c.Type != types.ClaimFact {
			continue
		}
		factCount++
		switch c.EvidenceTier {
		case types.TierProven:
			factual += 1.0
		case types.TierCorroborated:
			factual += 0.85
		case types.TierSupported:
			factual += 0.6
		default:
			if len(c.Sources) > 0 {
				factual += 0.5
			} else {
				factual += 0.1
			}
		}
	}
	if factCount > 0 {
		factual /= float64(factCount)
	} else {
		factual = 0.5 // no factual claims: neutral
	}

	d.Scores.CredibilityStructural = clamp01(structural)
	d.Scores.ConfidenceFactual = clamp01(factual)
	d.Scores.ConfidenceOverall = clamp01(0.5*d.Scores.CredibilityStructural + 0.5*d.Scores.ConfidenceFactual)
}

// Rescore recomputes scores for a stored DTU and returns the new scores.
func (s *Store) Rescore(id string) (types.Scores, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dtus.Get(id)
	if !ok {
		return types.Scores{}, false
	}
	s.recomputeScores(d)
	return d.Scores, true
}

// BoostScores force-sets scores. Test and import paths only; normal flow
// always recomputes.
func (s *Store) BoostScores(id string, scores types.Scores) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dtus.Get(id)
	if !ok {
		return false
	}
	d.Scores = scores
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// STATUS STATE MACHINE
// =============================================================================

// CASResult reports a status transition.
type CASResult struct {
	OK      bool         `json:"ok"`
	Noop    bool         `json:"noop,omitempty"`
	Current types.Status `json:"current"`
	Err     string       `json:"error,omitempty"`
}

// validTransitions is the status state machine.
var validTransitions = map[types.Status][]types.Status{
	types.StatusDraft:       {types.StatusProposed, types.StatusQuarantined},
	types.StatusProposed:    {types.StatusVerified, types.StatusVerifiedInterpretation, types.StatusDisputed, types.StatusSameAs, types.StatusQuarantined},
	types.StatusVerified:    {types.StatusDisputed, types.StatusQuarantined},
	types.StatusVerifiedInterpretation: {types.StatusDisputed, types.StatusQuarantined},
	types.StatusDisputed:    {types.StatusVerified, types.StatusVerifiedInterpretation, types.StatusQuarantined},
	types.StatusQuarantined: {types.StatusDraft},
	types.StatusSameAs:      {},
}

func transitionAllowed(from, to types.Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ChangeStatus moves a DTU through the state machine under a CAS guard:
// when expected is non-nil it must match the current status or the call is
// rejected with the current value. Re-asserting the current status is an
// idempotent no-op.
func (s *Store) ChangeStatus(id string, to types.Status, expected *types.Status) CASResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dtus.Get(id)
	if !ok {
		return CASResult{Err: "not_found"}
	}
	if expected != nil && *expected != d.Status {
		return CASResult{Current: d.Status, Err: "stale_status"}
	}
	if d.Status == to {
		return CASResult{OK: true, Noop: true, Current: d.Status}
	}
	if !transitionAllowed(d.Status, to) {
		return CASResult{Current: d.Status, Err: fmt.Sprintf("invalid_transition:%s->%s", d.Status, to)}
	}

	d.Status = to
	s.dirty[id] = struct{}{}
	s.metrics.Promotions.WithLabelValues(string(to)).Inc()
	return CASResult{OK: true, Current: to}
}

// MarkSameAs collapses a DTU into another, recording the target.
func (s *Store) MarkSameAs(id, otherID string) CASResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dtus.Get(id)
	if !ok {
		return CASResult{Err: "not_found"}
	}
	if d.Status == types.StatusSameAs && d.SameAsID == otherID {
		return CASResult{OK: true, Noop: true, Current: d.Status}
	}
	if !transitionAllowed(d.Status, types.StatusSameAs) {
		return CASResult{Current: d.Status, Err: fmt.Sprintf("invalid_transition:%s->SAME_AS", d.Status)}
	}
	d.Status = types.StatusSameAs
	d.SameAsID = otherID
	return CASResult{OK: true, Current: d.Status}
}

// ReleaseQuarantine frees a quarantined DTU once complete provenance is
// supplied.
func (s *Store) ReleaseQuarantine(id string, prov types.Provenance) CASResult {
	if !prov.Complete() {
		return CASResult{Err: "incomplete_provenance"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dtus.Get(id)
	if !ok {
		return CASResult{Err: "not_found"}
	}
	if d.Status != types.StatusQuarantined {
		return CASResult{Current: d.Status, Err: "not_quarantined"}
	}
	p := prov
	d.Meta.Provenance = &p
	d.Status = types.StatusDraft
	s.dirty[id] = struct{}{}
	s.emitEvent("quarantine_released", map[string]any{"dtu": id})
	return CASResult{OK: true, Current: d.Status}
}
