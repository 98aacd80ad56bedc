// Package timeline provides versioned timelines with forks, state diffs, a
// causal graph over events, and counterfactual simulation. Timelines are
// append-only: a fork copies history up to the fork point and diverges from
// there.
package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"concord/internal/idclock"
	"concord/internal/logging"
)

// State is one versioned snapshot: an opaque key -> value map.
type State map[string]any

// clone shallow-copies a state.
func (s State) clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Version is one committed state on a timeline.
type Version struct {
	Number int       `json:"number"`
	TS     time.Time `json:"ts"`
	State  State     `json:"state"`
}

// Timeline is an append-only sequence of versions, possibly forked from a
// parent.
type Timeline struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	ForkPoint int       `json:"fork_point,omitempty"`
	Versions  []Version `json:"versions"`
}

// Emitter is the bus slice the history needs.
type Emitter interface {
	Emit(eventType string, payload map[string]any, meta map[string]string)
}

// History owns all timelines and the causal graph.
type History struct {
	emit Emitter
	now  func() time.Time

	mu        sync.RWMutex
	timelines map[string]*Timeline
	causes    map[string][]string // effect -> direct causes
	effects   map[string][]string // cause -> direct effects
}

// NewHistory builds an empty History with one root timeline named "main".
func NewHistory(emit Emitter) *History {
	h := &History{
		emit:      emit,
		now:       time.Now,
		timelines: make(map[string]*Timeline),
		causes:    make(map[string][]string),
		effects:   make(map[string][]string),
	}
	root := &Timeline{ID: idclock.MintID("tl"), Name: "main"}
	h.timelines[root.ID] = root
	return h
}

// SetClock swaps the time source. Tests only.
func (h *History) SetClock(now func() time.Time) { h.now = now }

func (h *History) emitEvent(eventType string, payload map[string]any) {
	if h.emit != nil {
		h.emit.Emit(eventType, payload, nil)
	}
}

// Main returns the root timeline id.
func (h *History) Main() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, tl := range h.timelines {
		if tl.ParentID == "" {
			return id
		}
	}
	return ""
}

// Record commits a new version to a timeline and returns its number.
func (h *History) Record(timelineID string, state State) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tl, ok := h.timelines[timelineID]
	if !ok {
		return 0, fmt.Errorf("timeline: unknown timeline %s", timelineID)
	}
	v := Version{
		Number: len(tl.Versions) + 1,
		TS:     h.now(),
		State:  state.clone(),
	}
	tl.Versions = append(tl.Versions, v)
	return v.Number, nil
}

// Fork branches a timeline at a version. History up to the fork point is
// copied; the fork diverges from there.
func (h *History) Fork(timelineID string, atVersion int, name string) (*Timeline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	src, ok := h.timelines[timelineID]
	if !ok {
		return nil, fmt.Errorf("timeline: unknown timeline %s", timelineID)
	}
	if atVersion < 0 || atVersion > len(src.Versions) {
		return nil, fmt.Errorf("timeline: fork point %d out of range (have %d versions)", atVersion, len(src.Versions))
	}

	fork := &Timeline{
		ID:        idclock.MintID("tl"),
		Name:      name,
		ParentID:  timelineID,
		ForkPoint: atVersion,
	}
	for _, v := range src.Versions[:atVersion] {
		fork.Versions = append(fork.Versions, Version{
			Number: v.Number, TS: v.TS, State: v.State.clone(),
		})
	}
	h.timelines[fork.ID] = fork

	h.emitEvent("timeline_forked", map[string]any{
		"source": timelineID, "fork": fork.ID, "at": atVersion,
	})
	logging.Get(logging.CategoryTimeline).Sugar().Debugw("forked",
		"source", timelineID, "fork", fork.ID, "at", atVersion)
	return fork, nil
}

// Timeline returns a timeline by id.
func (h *History) Timeline(id string) (*Timeline, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tl, ok := h.timelines[id]
	return tl, ok
}

// VersionState returns the state at a version.
func (h *History) VersionState(timelineID string, version int) (State, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tl, ok := h.timelines[timelineID]
	if !ok {
		return nil, fmt.Errorf("timeline: unknown timeline %s", timelineID)
	}
	if version < 1 || version > len(tl.Versions) {
		return nil, fmt.Errorf("timeline: version %d out of range", version)
	}
	return tl.Versions[version-1].State.clone(), nil
}

// =============================================================================
// DIFFS
// =============================================================================

// Diff reports the keys that changed between two versions.
type Diff struct {
	Added   map[string]any    `json:"added,omitempty"`
	Removed map[string]any    `json:"removed,omitempty"`
	Changed map[string][2]any `json:"changed,omitempty"` // key -> [old, new]
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffVersions computes the state diff between two versions of a timeline.
func (h *History) DiffVersions(timelineID string, from, to int) (Diff, error) {
	a, err := h.VersionState(timelineID, from)
	if err != nil {
		return Diff{}, err
	}
	b, err := h.VersionState(timelineID, to)
	if err != nil {
		return Diff{}, err
	}
	return diffStates(a, b), nil
}

func diffStates(a, b State) Diff {
	d := Diff{Added: map[string]any{}, Removed: map[string]any{}, Changed: map[string][2]any{}}
	for k, bv := range b {
		av, ok := a[k]
		switch {
		case !ok:
			d.Added[k] = bv
		case fmt.Sprintf("%v", av) != fmt.Sprintf("%v", bv):
			d.Changed[k] = [2]any{av, bv}
		}
	}
	for k, av := range a {
		if _, ok := b[k]; !ok {
			d.Removed[k] = av
		}
	}
	return d
}

// =============================================================================
// CAUSAL GRAPH
// =============================================================================

// AddCause records that cause directly precedes effect.
func (h *History) AddCause(cause, effect string) {
	h.mu.Lock()
	h.causes[effect] = append(h.causes[effect], cause)
	h.effects[cause] = append(h.effects[cause], effect)
	h.mu.Unlock()
	h.emitEvent("causality_updated", map[string]any{"cause": cause, "effect": effect})
}

// CausesOf returns the transitive causes of an event, sorted.
func (h *History) CausesOf(effect string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.walk(effect, h.causes)
}

// EffectsOf returns the transitive effects of an event, sorted.
func (h *History) EffectsOf(cause string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.walk(cause, h.effects)
}

func (h *History) walk(start string, edges map[string][]string) []string {
	seen := make(map[string]struct{})
	stack := append([]string(nil), edges[start]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		stack = append(stack, edges[id]...)
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// COUNTERFACTUALS
// =============================================================================

// Counterfactual is the outcome of a what-if simulation: the projected state
// after the mutation, plus everything causally downstream of the touched
// keys. The underlying timeline is never modified.
type Counterfactual struct {
	Base      State    `json:"base"`
	Projected State    `json:"projected"`
	Touched   []string `json:"touched"`
	Affected  []string `json:"affected,omitempty"`
}

// Simulate applies a hypothetical mutation to a version's state and reports
// the projection. The causal graph supplies the downstream blast radius.
func (h *History) Simulate(timelineID string, version int, mutation State) (Counterfactual, error) {
	base, err := h.VersionState(timelineID, version)
	if err != nil {
		return Counterfactual{}, err
	}

	projected := base.clone()
	touched := make([]string, 0, len(mutation))
	for k, v := range mutation {
		if v == nil {
			delete(projected, k)
		} else {
			projected[k] = v
		}
		touched = append(touched, k)
	}
	sort.Strings(touched)

	affectedSet := make(map[string]struct{})
	for _, k := range touched {
		for _, e := range h.EffectsOf(k) {
			affectedSet[e] = struct{}{}
		}
	}
	affected := make([]string, 0, len(affectedSet))
	for k := range affectedSet {
		affected = append(affected, k)
	}
	sort.Strings(affected)

	return Counterfactual{Base: base, Projected: projected, Touched: touched, Affected: affected}, nil
}
