package epistemic

import (
	"sync"
	"time"

	"concord/internal/logging"
)

// Item is one belief tracked by the kernel.
type Item struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Tags         []string  `json:"tags,omitempty"`
	Layer        Layer     `json:"layer"`
	Confidence   float64   `json:"confidence"` // as of ClassifiedAt, before decay
	ClassifiedAt time.Time `json:"classified_at"`
}

// Kernel tracks classified beliefs and enforces hard-kernel contradiction
// intolerance on promotion.
type Kernel struct {
	now func() time.Time

	mu    sync.RWMutex
	items map[string]*Item
}

// NewKernel builds an empty Kernel.
func NewKernel() *Kernel {
	return &Kernel{now: time.Now, items: make(map[string]*Item)}
}

// SetClock swaps the time source. Tests only.
func (k *Kernel) SetClock(now func() time.Time) { k.now = now }

// Admit classifies and stores a belief, returning its layer.
func (k *Kernel) Admit(id, text string, tags []string, confidence float64) Layer {
	layer := Classify(text, tags, confidence)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.items[id] = &Item{
		ID:           id,
		Text:         text,
		Tags:         append([]string(nil), tags...),
		Layer:        layer,
		Confidence:   confidence,
		ClassifiedAt: k.now(),
	}
	logging.Get(logging.CategoryEpistemic).Sugar().Debugw("classified",
		"id", id, "layer", layer, "confidence", confidence)
	return layer
}

// Forget drops a belief.
func (k *Kernel) Forget(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, id)
}

// CurrentConfidence returns the decayed confidence of a belief.
func (k *Kernel) CurrentConfidence(id string) (float64, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	it, ok := k.items[id]
	if !ok {
		return 0, false
	}
	return Decay(it.Confidence, it.Layer, k.now().Sub(it.ClassifiedAt)), true
}

// hardKernelFloor: only items at or above this decayed confidence act as
// hard-kernel blockers.
const hardKernelFloor = 0.8

// PromotionCheck is the verdict on promoting a candidate belief.
type PromotionCheck struct {
	Allowed         bool     `json:"allowed"`
	Layer           Layer    `json:"layer"`
	Threshold       float64  `json:"threshold"`
	ContradictsWith []string `json:"contradicts_with,omitempty"`
}

// CheckPromotion classifies the candidate and tests it against the hard
// kernel. Any contradiction with a live hard-kernel item blocks promotion
// (zero tolerance); below-threshold confidence blocks it too.
func (k *Kernel) CheckPromotion(text string, tags []string, confidence float64) PromotionCheck {
	layer := Classify(text, tags, confidence)
	profile := layerProfiles[layer]
	out := PromotionCheck{Layer: layer, Threshold: profile.PromotionThreshold}

	if confidence < profile.PromotionThreshold {
		return out
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	now := k.now()
	for _, it := range k.items {
		if it.Layer != LayerHardKernel {
			continue
		}
		if Decay(it.Confidence, it.Layer, now.Sub(it.ClassifiedAt)) < hardKernelFloor {
			continue
		}
		if Contradicts(text, it.Text) {
			out.ContradictsWith = append(out.ContradictsWith, it.ID)
		}
	}
	out.Allowed = len(out.ContradictsWith) == 0
	return out
}

// HardKernelSize reports how many hard-kernel items are tracked.
func (k *Kernel) HardKernelSize() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := 0
	for _, it := range k.items {
		if it.Layer == LayerHardKernel {
			n++
		}
	}
	return n
}
