package atlas

import (
	"context"
	"math"

	"concord/internal/logging"
	"concord/internal/textsim"
	"concord/internal/types"
)

// =============================================================================
// LINEAGE CYCLES
// =============================================================================

// CycleResult reports a lineage cycle check.
type CycleResult struct {
	HasCycle bool     `json:"has_cycle"`
	Path     []string `json:"path,omitempty"`
}

// DetectLineageCycle walks the candidate's ancestry iteratively and reports
// whether the candidate is its own ancestor. Bounded by the visited set;
// never recurses.
func (s *Store) DetectLineageCycle(d *types.DTU) CycleResult {
	visited := make(map[string]struct{})
	stack := make([]string, 0, len(d.Lineage.Parents))
	parent := make(map[string]string) // child -> discovered-from, for the path

	for _, p := range d.Lineage.Parents {
		stack = append(stack, p)
		parent[p] = d.ID
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id == d.ID {
			path := []string{id}
			for cur := id; ; {
				prev, ok := parent[cur]
				if !ok || prev == d.ID {
					break
				}
				path = append(path, prev)
				cur = prev
			}
			return CycleResult{HasCycle: true, Path: path}
		}
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		anc, ok := s.dtus.Get(id)
		if !ok {
			continue
		}
		for _, p := range anc.Lineage.Parents {
			if _, seen := visited[p]; !seen {
				if _, known := parent[p]; !known {
					parent[p] = id
				}
				stack = append(stack, p)
			}
		}
	}
	return CycleResult{}
}

// wouldCycle is the admission-time check used by Create.
func (s *Store) wouldCycle(d *types.DTU) bool {
	return s.DetectLineageCycle(d).HasCycle
}

// =============================================================================
// SIMILARITY / DEDUPE
// =============================================================================

// Dedupe cutoffs: at or above dedupeFail the gate's dedupe check fails; at
// or above dedupeSameAs the candidate collapses into the match.
const (
	dedupeFail   = 0.85
	dedupeSameAs = 0.90
)

// Similarity scores the title/tag/claim overlap of two DTUs in [0,1].
func Similarity(a, b *types.DTU) float64 {
	title := textsim.Similarity(a.Title, b.Title)

	tagsA := make(map[string]struct{}, len(a.Tags))
	for _, t := range a.Tags {
		tagsA[t] = struct{}{}
	}
	tagsB := make(map[string]struct{}, len(b.Tags))
	for _, t := range b.Tags {
		tagsB[t] = struct{}{}
	}
	tags := textsim.Jaccard(tagsA, tagsB)

	claims := textsim.Similarity(joinClaims(a), joinClaims(b))

	return 0.4*title + 0.3*tags + 0.3*claims
}

// FindSimilar returns the most similar stored DTU and its score, ignoring
// the candidate itself and collapsed duplicates. With an embedder wired,
// lexical and vector similarity are blended evenly; embedding failures fall
// back to the lexical score alone.
func (s *Store) FindSimilar(d *types.DTU) (bestID string, best float64) {
	var candVec []float32
	if s.embed != nil {
		candVec, _ = s.embed.Embed(context.Background(), d.Title+" "+joinClaims(d))
	}

	for _, other := range s.dtus.All() {
		if other.ID == d.ID || other.Status == types.StatusSameAs {
			continue
		}
		score := Similarity(d, other)
		if len(candVec) > 0 {
			if otherVec, err := s.embed.Embed(context.Background(), other.Title+" "+joinClaims(other)); err == nil {
				score = 0.5*score + 0.5*embedCosine(candVec, otherVec)
			}
		}
		if score > best {
			best, bestID = score, other.ID
		}
	}
	return bestID, best
}

// embedCosine is cosine similarity over float32 vectors, 0 on mismatch.
func embedCosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// =============================================================================
// AUTO-PROMOTE GATE
// =============================================================================

// Check is one named gate check.
type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
}

// GateResult is the auto-promote verdict. Label is the status a passing
// candidate promotes to; SameAsID is set when dedupe found a collapse
// target.
type GateResult struct {
	Pass     bool         `json:"pass"`
	Label    types.Status `json:"label"`
	Checks   []Check      `json:"checks"`
	SameAsID string       `json:"same_as_id,omitempty"`
}

// structural thresholds per target scope.
var structuralFloor = map[types.Lane]float64{
	types.LaneLocal:       0.50,
	types.LaneGlobal:      0.80,
	types.LaneMarketplace: 0.60,
}

const factualFloor = 0.80

// AutoPromoteGate runs the ordered check list for promoting a candidate
// toward VERIFIED in the target scope. Every check runs; failure of any
// fails the gate.
func (s *Store) AutoPromoteGate(d *types.DTU, target types.Lane) GateResult {
	res := GateResult{Label: types.StatusVerified}
	if d.EpistemicClass == types.ClassInterpretive {
		res.Label = types.StatusVerifiedInterpretation
	}

	add := func(name string, pass bool, detail string) {
		res.Checks = append(res.Checks, Check{Name: name, Pass: pass, Detail: detail})
	}

	// 1. no_uncited_facts - skipped for LOCAL.
	if target == types.LaneLocal {
		add("no_uncited_facts", true, "skipped for local scope")
	} else {
		add("no_uncited_facts", !d.HasUncitedFacts(), "")
	}

	// 2. structural_score
	floor := structuralFloor[target]
	add("structural_score", d.Scores.CredibilityStructural >= floor, "")

	// 3. factual_confidence
	add("factual_confidence", d.Scores.ConfidenceFactual >= factualFloor, "")

	// 4. no_contradictions
	add("no_contradictions", !s.highContradictionBlocks(d), "")

	// 5. no_lineage_cycle
	cycle := s.DetectLineageCycle(d)
	add("no_lineage_cycle", !cycle.HasCycle, "")

	// 6. dedupe
	bestID, best := s.FindSimilar(d)
	dedupeOK := best < dedupeFail
	detail := ""
	if !dedupeOK {
		detail = "similar to " + bestID
		if best >= dedupeSameAs {
			res.SameAsID = bestID
		}
	}
	add("dedupe", dedupeOK, detail)

	// 7. claim_lane_consistency - interpretive claims never reach PROVEN.
	laneOK := true
	for _, c := range d.Claims {
		if c.Type.Interpretive() && c.EvidenceTier == types.TierProven {
			laneOK = false
			break
		}
	}
	add("claim_lane_consistency", laneOK, "")

	res.Pass = true
	for _, c := range res.Checks {
		if !c.Pass {
			res.Pass = false
			break
		}
	}
	return res
}

// RunAutoPromote applies the gate to a stored PROPOSED DTU and, on pass,
// performs the CAS-guarded promotion (or SAME_AS collapse on a dedupe hit).
func (s *Store) RunAutoPromote(id string, target types.Lane) (GateResult, CASResult) {
	d, ok := s.dtus.Get(id)
	if !ok {
		return GateResult{}, CASResult{Err: "not_found"}
	}

	gate := s.AutoPromoteGate(d, target)
	if gate.SameAsID != "" {
		return gate, s.MarkSameAs(id, gate.SameAsID)
	}
	if !gate.Pass {
		return gate, CASResult{Current: d.Status}
	}

	expected := types.StatusProposed
	cas := s.ChangeStatus(id, gate.Label, &expected)
	if cas.OK && !cas.Noop {
		logging.Get(logging.CategoryAtlas).Sugar().Infow("auto-promoted",
			"dtu", id, "label", gate.Label, "scope", target)
	}
	return gate, cas
}
