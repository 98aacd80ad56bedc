// Package epistemic implements the three-layer belief kernel: hard kernel,
// soft belief, and speculative. Layers differ in decay rate, contradiction
// tolerance, and promotion threshold. The hard kernel tolerates zero
// contradictions.
package epistemic

import (
	"math"
	"strings"
	"time"

	"concord/internal/textsim"
)

// Layer names an epistemic layer.
type Layer string

const (
	LayerHardKernel  Layer = "HARD_KERNEL"
	LayerSoftBelief  Layer = "SOFT_BELIEF"
	LayerSpeculative Layer = "SPECULATIVE"
)

// LayerProfile holds a layer's behavioral constants.
type LayerProfile struct {
	DecayPerMinute     float64
	Tolerance          float64
	PromotionThreshold float64
}

var layerProfiles = map[Layer]LayerProfile{
	LayerHardKernel:  {DecayPerMinute: 0.0, Tolerance: 0.0, PromotionThreshold: 0.95},
	LayerSoftBelief:  {DecayPerMinute: 0.01, Tolerance: 0.3, PromotionThreshold: 0.6},
	LayerSpeculative: {DecayPerMinute: 0.05, Tolerance: 0.8, PromotionThreshold: 0.3},
}

// Profile returns the constants for a layer.
func Profile(l Layer) LayerProfile {
	return layerProfiles[l]
}

// Textual markers for classification. Hard markers signal invariant truths;
// speculative markers signal hedged ones.
var (
	hardMarkers = []string{"axiom", "theorem", "law", "invariant", "∀", "∃", "⊢", "≡", "=>", "iff"}
	specMarkers = []string{"hypothesis", "perhaps", "might", "maybe", "could", "speculat", "possibly"}
)

// hardConfidenceFloor keeps low-confidence text out of the hard kernel no
// matter how it is worded.
const hardConfidenceFloor = 0.8

// speculativeConfidenceCeiling routes very low confidence to speculative.
const speculativeConfidenceCeiling = 0.3

// Classify assigns a layer from text markers, tags, and confidence.
func Classify(text string, tags []string, confidence float64) Layer {
	lower := strings.ToLower(text)

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}

	hard := false
	for _, m := range hardMarkers {
		if strings.Contains(lower, m) {
			hard = true
			break
		}
	}
	if !hard {
		for _, t := range []string{"axiom", "theorem", "law", "formal"} {
			if _, ok := tagSet[t]; ok {
				hard = true
				break
			}
		}
	}
	if hard && confidence >= hardConfidenceFloor {
		return LayerHardKernel
	}

	for _, m := range specMarkers {
		if strings.Contains(lower, m) {
			return LayerSpeculative
		}
	}
	if _, ok := tagSet["hypothesis"]; ok {
		return LayerSpeculative
	}
	if confidence < speculativeConfidenceCeiling {
		return LayerSpeculative
	}
	return LayerSoftBelief
}

// Decay applies the layer's exponential decay to a confidence value over the
// elapsed duration: decayed = confidence * e^(-rate * minutes).
func Decay(confidence float64, layer Layer, elapsed time.Duration) float64 {
	rate := layerProfiles[layer].DecayPerMinute
	if rate == 0 || elapsed <= 0 {
		return confidence
	}
	return confidence * math.Exp(-rate*elapsed.Minutes())
}

// Contradicts reports whether two claim texts contradict: exactly one side
// carries a negation, and the subjects overlap by Dice >= 0.3 over words
// longer than three runes.
func Contradicts(a, b string) bool {
	negA, negB := textsim.HasNegation(a), textsim.HasNegation(b)
	if negA == negB {
		return false
	}
	return textsim.SubjectOverlap(a, b) >= 0.3
}
