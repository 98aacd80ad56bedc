package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/atlas"
	"concord/internal/epistemic"
	"concord/internal/governance"
	"concord/internal/rights"
	"concord/internal/scope"
	"concord/internal/types"
)

func newFixture() (*Adapter, *atlas.Store, *scope.Router) {
	store := atlas.New(epistemic.NewKernel(), rights.NewEngine(), nil)
	gate := governance.NewGate(nil)
	router := scope.NewRouter(store, gate)
	guard := scope.NewGuard(store, router, gate, nil)
	return New(store, guard), store, router
}

func member() *types.Actor {
	return &types.Actor{ID: "m1", Role: types.RoleMember}
}

func seed(t *testing.T, store *atlas.Store, title string, lane types.Lane, overall float64) *types.DTU {
	t.Helper()
	d := &types.DTU{
		Title:          title,
		DomainType:     "empirical.physics",
		EpistemicClass: types.ClassEmpirical,
		Lane:           lane,
		Claims:         []types.Claim{{Type: types.ClaimFact, Text: title, EvidenceTier: types.TierSupported, Sources: []string{"s"}}},
		Meta: types.Meta{Provenance: &types.Provenance{
			SourceType: "human", SourceID: "u1", CreatedAt: time.Unix(1000, 0),
		}},
	}
	created, err := store.Create(d)
	require.NoError(t, err)
	require.True(t, store.BoostScores(created.ID, types.Scores{ConfidenceOverall: overall}))
	return created
}

func TestRetrieveMetaAndLabels(t *testing.T) {
	adapter, store, _ := newFixture()
	seed(t, store, "tidal forces stretch objects", types.LaneGlobal, 0.9)
	seed(t, store, "tidal notes from my reading", types.LaneLocal, 0.4)

	res := adapter.Retrieve("tidal", RetrieveOpts{})
	require.True(t, res.OK)
	assert.Equal(t, "chat", res.Meta.Mode)
	assert.Equal(t, "OFF", res.Meta.ValidationLevel)
	assert.Equal(t, "OFF", res.Meta.ContradictionGate)
	require.Len(t, res.Context, 2)

	for _, item := range res.Context {
		switch item.SourceScope {
		case "global":
			assert.Equal(t, "Shared knowledge", item.ScopeLabel)
			assert.Equal(t, "high confidence", item.ConfidenceBadge)
		case "local":
			assert.Equal(t, "Your notes", item.ScopeLabel)
			assert.Empty(t, item.ConfidenceBadge) // badges are global-only
		default:
			t.Fatalf("unexpected scope %q", item.SourceScope)
		}
	}
}

func TestRetrieveNeverMutates(t *testing.T) {
	adapter, store, router := newFixture()
	seed(t, store, "a seeded thought", types.LaneGlobal, 0.7)
	before := store.Count()

	for i := 0; i < 5; i++ {
		adapter.Retrieve("seeded thought", RetrieveOpts{Limit: 3})
	}
	assert.Equal(t, before, store.Count())
	assert.Empty(t, router.Submissions())
}

func TestRetrieveEmptyStore(t *testing.T) {
	adapter, _, _ := newFixture()
	res := adapter.Retrieve("anything", RetrieveOpts{})
	assert.True(t, res.OK)
	assert.Empty(t, res.Context)
}

func TestSaveAsDTUCreatesLocal(t *testing.T) {
	adapter, store, _ := newFixture()

	d, err := adapter.SaveAsDTU("chat capture", "the model said something useful", member())
	require.NoError(t, err)
	assert.Equal(t, types.LaneLocal, d.Lane)
	assert.Equal(t, types.StatusDraft, d.Status)
	require.NotNil(t, d.Meta.Provenance)
	assert.Equal(t, "chat", d.Meta.Provenance.SourceType)

	got, ok := store.Get(d.ID)
	require.True(t, ok)
	assert.Equal(t, "chat capture", got.Title)
}

func TestPublishToGlobalOpensPendingSubmission(t *testing.T) {
	adapter, _, router := newFixture()

	d, sub, err := adapter.PublishToGlobal("shareable insight", "worth publishing", member())
	require.NoError(t, err)
	require.NotNil(t, sub)

	assert.Equal(t, types.LaneLocal, d.Lane) // stays local until approved
	assert.Equal(t, scope.SubmissionPending, sub.Status)
	assert.Equal(t, types.LaneGlobal, sub.TargetScope)
	assert.Equal(t, d.ID, sub.DTUID)

	stored, ok := router.Submission(sub.ID)
	require.True(t, ok)
	assert.True(t, stored.Sealed())
}
