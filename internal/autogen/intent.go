// Package autogen implements the generation pipeline: pick an intent from
// the current lattice, assemble a retrieval pack, build a candidate DTU,
// critique it, synthesize, optionally shape through the LLM, novelty-check,
// and decide the write policy. Writes default to shadow; nothing autogen
// produces reaches canon without the gate.
package autogen

import (
	"sort"

	"concord/internal/atlas"
	"concord/internal/types"
)

// Intent names a generation goal.
type Intent string

const (
	IntentFillGaps         Intent = "fill_gaps"
	IntentResolveConflicts Intent = "resolve_conflicts"
	IntentCompressClusters Intent = "compress_clusters"
	IntentExtractPatterns  Intent = "extract_patterns"
	IntentElevateHighUsage Intent = "elevate_high_usage"
)

// Variant biases intent selection. Each variant adds a fixed bonus to its
// preferred intents.
type Variant string

const (
	VariantNone      Variant = ""
	VariantDream     Variant = "dream"
	VariantSynth     Variant = "synth"
	VariantEvolution Variant = "evolution"
)

// variantBias is the fixed bonus a variant adds to its preferred intents.
const variantBias = 30.0

var variantPreferences = map[Variant][]Intent{
	VariantDream:     {IntentExtractPatterns, IntentFillGaps},
	VariantSynth:     {IntentCompressClusters, IntentResolveConflicts},
	VariantEvolution: {IntentElevateHighUsage},
}

// IntentChoice is the scored target-selection outcome.
type IntentChoice struct {
	Intent Intent  `json:"intent"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// latticeSignals summarizes the store for intent scoring.
type latticeSignals struct {
	total        int
	untagged     int            // DTUs with no tags: gap signal
	sparseLinked int            // DTUs with no links at all
	conflicts    int            // contradiction edges
	tagClusters  map[string]int // tag -> member count
	maxFanIn     int            // largest lineage fan-in
}

func collectSignals(store *atlas.Store) latticeSignals {
	sig := latticeSignals{tagClusters: make(map[string]int)}

	all := append(store.ByLane(types.LaneLocal), store.ByLane(types.LaneGlobal)...)
	sig.total = len(all)

	fanIn := make(map[string]int)
	for _, d := range all {
		if len(d.Tags) == 0 {
			sig.untagged++
		}
		for _, t := range d.Tags {
			sig.tagClusters[t]++
		}
		for _, p := range d.Lineage.Parents {
			fanIn[p]++
		}
		if len(store.LinksFrom(d.ID)) == 0 && len(store.LinksTo(d.ID)) == 0 {
			sig.sparseLinked++
		}
	}
	for _, n := range fanIn {
		if n > sig.maxFanIn {
			sig.maxFanIn = n
		}
	}
	sig.conflicts = len(store.ContradictionPairs())
	return sig
}

// SelectIntent scores the five candidate intents against the lattice and
// returns the winner. An empty lattice always yields fill_gaps at score 0.
func SelectIntent(store *atlas.Store, variant Variant) IntentChoice {
	sig := collectSignals(store)
	if sig.total == 0 {
		return IntentChoice{Intent: IntentFillGaps, Score: 0, Reason: "empty_lattice"}
	}

	largestCluster := 0
	for _, n := range sig.tagClusters {
		if n > largestCluster {
			largestCluster = n
		}
	}

	scores := map[Intent]float64{
		IntentFillGaps:         float64(sig.untagged+sig.sparseLinked) / float64(sig.total) * 100,
		IntentResolveConflicts: float64(sig.conflicts) * 20,
		IntentCompressClusters: float64(largestCluster) * 10,
		IntentExtractPatterns:  float64(len(sig.tagClusters)) * 5,
		IntentElevateHighUsage: float64(sig.maxFanIn) * 15,
	}
	for _, preferred := range variantPreferences[variant] {
		scores[preferred] += variantBias
	}

	// Deterministic order for stable ties.
	intents := []Intent{IntentFillGaps, IntentResolveConflicts, IntentCompressClusters, IntentExtractPatterns, IntentElevateHighUsage}
	sort.SliceStable(intents, func(i, j int) bool {
		return scores[intents[i]] > scores[intents[j]]
	})

	winner := intents[0]
	return IntentChoice{Intent: winner, Score: scores[winner], Reason: "signal_scored"}
}
