package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/bus"
	"concord/internal/config"
	"concord/internal/scope"
	"concord/internal/types"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func member() *types.Actor {
	return &types.Actor{ID: "m1", Role: types.RoleMember}
}

func localPayload(title string) *types.DTU {
	return &types.DTU{
		Title:  title,
		Claims: []types.Claim{{Text: "noted"}},
		Meta: types.Meta{Provenance: &types.Provenance{
			SourceType: "human", SourceID: "u1", CreatedAt: time.Unix(1000, 0),
		}},
	}
}

func TestWriteFlowEmitsEvents(t *testing.T) {
	e := newEngine(t)

	var seen []string
	e.Bus.Subscribe(bus.Wildcard, func(ev bus.Event) { seen = append(seen, ev.Type) })

	res := e.Guard.Apply(scope.OpCreate, localPayload("first thought"), scope.WriteOpts{
		Scope: types.LaneLocal, Actor: member(),
	})
	require.True(t, res.OK, res.Error)

	assert.Contains(t, seen, "provenance_validated")
	assert.Contains(t, seen, "epistemic_classified")
}

func TestEmptyWorldEndToEnd(t *testing.T) {
	e := newEngine(t)

	assert.True(t, e.Heartbeat.TickLocal().OK)
	assert.True(t, e.Heartbeat.TickGlobal().OK)
	assert.True(t, e.Heartbeat.TickMarketplace().OK)

	res := e.Atlas.Retrieve("LOCAL_THEN_GLOBAL", "anything", 10)
	assert.True(t, res.OK)
	assert.Zero(t, res.Total)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := newEngine(t)

	created := e.Guard.Apply(scope.OpCreate, localPayload("durable thought"), scope.WriteOpts{
		Scope: types.LaneLocal, Actor: member(),
	})
	require.True(t, created.OK)

	sub, err := e.Guard.CreateSubmission(created.DTU.ID, types.LaneGlobal, member())
	require.NoError(t, err)

	council := &types.Actor{ID: "c1", Role: types.RoleCouncil, Scopes: []string{"*"}}
	_, err = e.Constitution.CreateRule(council, "facts require sources", "founding")
	require.NoError(t, err)

	require.NoError(t, e.SaveSnapshot())

	// Fresh engine, same persist store.
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	restored, err := New(cfg)
	require.NoError(t, err)
	defer restored.Stop()
	restored.Persist = e.Persist

	ok, err := restored.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)

	got, found := restored.Atlas.Get(created.DTU.ID)
	require.True(t, found)
	assert.Equal(t, "durable thought", got.Title)

	restoredSub, found := restored.Router.Submission(sub.ID)
	require.True(t, found)
	assert.True(t, restoredSub.Sealed())
	assert.Equal(t, scope.SubmissionPending, restoredSub.Status)

	assert.Len(t, restored.Constitution.Rules(), 1)

	// New events continue past the restored cursor.
	ev := restored.Bus.Emit(bus.TopicEpisodeRecorded, nil, bus.EventMeta{})
	assert.Greater(t, ev.Seq, e.Snapshot().SequenceCursor)
}

func TestReplayFromBusSnapshotDeterministic(t *testing.T) {
	e := newEngine(t)

	res := e.Guard.Apply(scope.OpCreate, localPayload("replayable"), scope.WriteOpts{
		Scope: types.LaneLocal, Actor: member(),
	})
	require.True(t, res.OK)
	e.Bus.Emit(bus.TopicCouncilVote, map[string]any{"v": "approve"}, bus.EventMeta{ActorID: "c1"})

	events := e.Bus.Snapshot(0, 0)
	require.NotEmpty(t, events)

	a := e.Replay.Replay(events, "same-seed", "m1")
	b := e.Replay.Replay(events, "same-seed", "m1")
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("replay diverged:\n%s", diff)
	}
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.Heartbeat.LocalInterval = 5 * time.Millisecond
	cfg.Heartbeat.GlobalInterval = 5 * time.Millisecond
	cfg.Heartbeat.MarketplaceInterval = 5 * time.Millisecond
	cfg.Scheduler.AgingInterval = 5 * time.Millisecond

	e, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	e.Stop()
}

func TestOptionalCollaboratorsAbsent(t *testing.T) {
	e := newEngine(t)
	assert.Nil(t, e.LLM)
	assert.Nil(t, e.Embedding)

	// Autogen still runs (and aborts cleanly on the empty lattice).
	run := e.Autogen.Run(context.Background())
	assert.True(t, run.Aborted)
	assert.Equal(t, "target_selection", run.AbortStage)
}
