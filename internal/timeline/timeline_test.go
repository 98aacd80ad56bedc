package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndVersionState(t *testing.T) {
	h := NewHistory(nil)
	main := h.Main()
	require.NotEmpty(t, main)

	v1, err := h.Record(main, State{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := h.Record(main, State{"x": 2, "y": "on"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	state, err := h.VersionState(main, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, state["x"])

	// Returned state is a copy.
	state["x"] = 99
	again, _ := h.VersionState(main, 1)
	assert.Equal(t, 1, again["x"])

	_, err = h.VersionState(main, 5)
	assert.Error(t, err)
}

func TestForkCopiesHistoryUpToPoint(t *testing.T) {
	h := NewHistory(nil)
	main := h.Main()
	h.Record(main, State{"x": 1})
	h.Record(main, State{"x": 2})
	h.Record(main, State{"x": 3})

	fork, err := h.Fork(main, 2, "what-if")
	require.NoError(t, err)
	assert.Equal(t, main, fork.ParentID)
	assert.Equal(t, 2, fork.ForkPoint)
	assert.Len(t, fork.Versions, 2)

	// Divergence: the fork moves on without touching the parent.
	_, err = h.Record(fork.ID, State{"x": 100})
	require.NoError(t, err)

	forkState, _ := h.VersionState(fork.ID, 3)
	mainState, _ := h.VersionState(main, 3)
	assert.Equal(t, 100, forkState["x"])
	assert.Equal(t, 3, mainState["x"])

	_, err = h.Fork(main, 10, "bad")
	assert.Error(t, err)
}

func TestDiffVersions(t *testing.T) {
	h := NewHistory(nil)
	main := h.Main()
	h.Record(main, State{"kept": "same", "changed": 1, "dropped": true})
	h.Record(main, State{"kept": "same", "changed": 2, "added": "new"})

	diff, err := h.DiffVersions(main, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "new", diff.Added["added"])
	assert.Equal(t, true, diff.Removed["dropped"])
	assert.Equal(t, [2]any{1, 2}, diff.Changed["changed"])
	assert.NotContains(t, diff.Changed, "kept")
	assert.False(t, diff.Empty())
}

func TestCausalGraphTransitive(t *testing.T) {
	h := NewHistory(nil)
	h.AddCause("a", "b")
	h.AddCause("b", "c")
	h.AddCause("b", "d")

	assert.Equal(t, []string{"a", "b"}, h.CausesOf("c"))
	assert.Equal(t, []string{"b", "c", "d"}, h.EffectsOf("a"))
	assert.Empty(t, h.CausesOf("a"))
}

func TestSimulateCounterfactual(t *testing.T) {
	h := NewHistory(nil)
	main := h.Main()
	h.Record(main, State{"pressure": 10, "valve": "open"})
	h.AddCause("pressure", "alarm")
	h.AddCause("alarm", "shutdown")

	cf, err := h.Simulate(main, 1, State{"pressure": 50, "valve": nil})
	require.NoError(t, err)

	assert.Equal(t, 50, cf.Projected["pressure"])
	assert.NotContains(t, cf.Projected, "valve")
	assert.Equal(t, []string{"pressure", "valve"}, cf.Touched)
	assert.Equal(t, []string{"alarm", "shutdown"}, cf.Affected)

	// The timeline itself is untouched.
	state, _ := h.VersionState(main, 1)
	assert.Equal(t, 10, state["pressure"])
	assert.Equal(t, "open", state["valve"])
}

func TestEmitterReceivesForkAndCausality(t *testing.T) {
	var events []string
	emit := emitterFunc(func(eventType string, payload map[string]any, meta map[string]string) {
		events = append(events, eventType)
	})

	h := NewHistory(emit)
	main := h.Main()
	h.Record(main, State{"x": 1})
	_, err := h.Fork(main, 1, "branch")
	require.NoError(t, err)
	h.AddCause("a", "b")

	assert.Contains(t, events, "timeline_forked")
	assert.Contains(t, events, "causality_updated")
}

type emitterFunc func(string, map[string]any, map[string]string)

func (f emitterFunc) Emit(t string, p map[string]any, m map[string]string) { f(t, p, m) }
