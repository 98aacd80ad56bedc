package bus

import (
	"encoding/json"
	"fmt"

	"concord/internal/idclock"
)

// Decision is one deterministic output of a replay run. Given identical
// events, seed, and engine code, the decision stream is byte-identical.
type Decision struct {
	Seq       uint64  `json:"seq"`
	EventType string  `json:"event_type"`
	Action    string  `json:"action"`
	Weight    float64 `json:"weight"`
	Digest    string  `json:"digest"`
}

// ReplayResult carries the decision stream and the run's identity tags.
type ReplayResult struct {
	Seed         string     `json:"seed"`
	ModelVersion string     `json:"model_version"` // recorded, never computed on
	Decisions    []Decision `json:"decisions"`
}

// replay action space. Order matters: the rng indexes into it.
var replayActions = [...]string{"accept", "defer", "escalate", "ignore"}

// ReplayEngine reconstructs a decision stream from an event snapshot.
type ReplayEngine struct{}

// NewReplayEngine returns a ReplayEngine.
func NewReplayEngine() *ReplayEngine {
	return &ReplayEngine{}
}

// Replay derives one decision per event. Every decision is a pure function
// of (event.type, event.payload, rng); wall-clock timestamps and meta never
// participate. modelVersion is recorded for out-of-band diffing only.
func (r *ReplayEngine) Replay(events []Event, seed, modelVersion string) ReplayResult {
	rng := idclock.NewLCG(seed)
	out := ReplayResult{Seed: seed, ModelVersion: modelVersion}

	for _, ev := range events {
		digest := payloadDigest(ev.Type, ev.Payload)
		roll := rng.Float64()
		action := replayActions[rng.Intn(len(replayActions))]
		out.Decisions = append(out.Decisions, Decision{
			Seq:       ev.Seq,
			EventType: ev.Type,
			Action:    action,
			Weight:    roll,
			Digest:    digest,
		})
	}
	return out
}

// payloadDigest canonicalizes the payload. encoding/json sorts map keys, so
// the digest is stable for equal payloads.
func payloadDigest(eventType string, payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("!unencodable")
	}
	return fmt.Sprintf("%s:%x", eventType, fnvSum(data))
}

func fnvSum(data []byte) uint64 {
	// FNV-1a, inlined to keep the digest definition in one place.
	const offset, prime = 14695981039346656037, 1099511628211
	h := uint64(offset)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}
