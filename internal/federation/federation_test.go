package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/atlas"
	"concord/internal/epistemic"
	"concord/internal/rights"
	"concord/internal/types"
)

func newFixture() (*Exchange, *atlas.Store) {
	store := atlas.New(epistemic.NewKernel(), rights.NewEngine(), nil)
	return NewExchange(store, "substrate-a", nil), store
}

func seed(t *testing.T, store *atlas.Store, lane types.Lane) *types.DTU {
	t.Helper()
	d := &types.DTU{
		Title:          "shared constant",
		Author:         "alice",
		DomainType:     "empirical.physics",
		EpistemicClass: types.ClassEmpirical,
		Lane:           lane,
		Claims: []types.Claim{
			{Type: types.ClaimFact, Text: "the constant holds", EvidenceTier: types.TierSupported, Sources: []string{"paper-1"}},
		},
		Meta: types.Meta{Provenance: &types.Provenance{
			SourceType: "human", SourceID: "u1", CreatedAt: time.Unix(1000, 0),
		}},
	}
	created, err := store.Create(d)
	require.NoError(t, err)
	return created
}

func TestExportEnvelopeShape(t *testing.T) {
	x, store := newFixture()
	d := seed(t, store, types.LaneGlobal)

	env, err := x.Export(d.ID)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Equal(t, d.ID, env.Artifact.ID)
	assert.Equal(t, []string{"paper-1"}, env.Evidence)
	assert.Equal(t, "substrate-a", env.Reputation.ExporterID)
	assert.Equal(t, types.LicenseAttributionOpen, env.License.Type)
	assert.True(t, env.License.Attribution)
	require.NotNil(t, env.Provenance)
}

func TestExportLocalRefused(t *testing.T) {
	x, store := newFixture()
	d := seed(t, store, types.LaneLocal)
	_, err := x.Export(d.ID)
	assert.Error(t, err)
}

func TestExportIncludesDisputeHistory(t *testing.T) {
	x, store := newFixture()
	d := seed(t, store, types.LaneGlobal)

	peer := &types.DTU{
		Title: "rival claim", DomainType: "empirical.physics", EpistemicClass: types.ClassEmpirical,
		Lane:   types.LaneGlobal,
		Claims: []types.Claim{{Type: types.ClaimFact, Text: "the constant does not hold", EvidenceTier: types.TierSupported, Sources: []string{"s"}}},
		Meta:   types.Meta{Provenance: &types.Provenance{SourceType: "human", SourceID: "u2", CreatedAt: time.Unix(1000, 0)}},
	}
	created, err := store.Create(peer)
	require.NoError(t, err)
	_, err = store.AddLink(created.ID, d.ID, types.LinkContradicts, types.SeverityMedium, types.ContradictionSemantic)
	require.NoError(t, err)

	env, err := x.Export(d.ID)
	require.NoError(t, err)
	require.Len(t, env.DisputeHistory, 1)
	assert.Equal(t, created.ID, env.DisputeHistory[0].PeerID)
}

func TestImportSandboxedEvenOnVerifierPass(t *testing.T) {
	x, store := newFixture()
	d := seed(t, store, types.LaneGlobal)
	env, err := x.Export(d.ID)
	require.NoError(t, err)

	rec, err := x.Import(env)
	require.NoError(t, err)
	assert.True(t, rec.VerifierPassed)
	assert.Equal(t, StateSandboxed, rec.State) // never straight to trusted
}

func TestImportRejectsBadEnvelope(t *testing.T) {
	x, _ := newFixture()

	_, err := x.Import(Envelope{Version: "other-v9"})
	assert.Error(t, err)

	_, err = x.Import(Envelope{Version: EnvelopeVersion})
	assert.Error(t, err) // missing artifact

	// Tampered artifact: recorded hash no longer matches content.
	x2, store := newFixture()
	d := seed(t, store, types.LaneGlobal)
	env, err := x2.Export(d.ID)
	require.NoError(t, err)
	env.Artifact.Title = "tampered"
	_, err = x.Import(env)
	assert.Error(t, err)
}

func TestPromoteRequiresPrivilegedActor(t *testing.T) {
	x, store := newFixture()
	d := seed(t, store, types.LaneGlobal)
	env, _ := x.Export(d.ID)
	rec, err := x.Import(env)
	require.NoError(t, err)

	_, err = x.Promote(rec.ID, &types.Actor{ID: "m", Role: types.RoleMember})
	assert.Error(t, err)

	promoted, err := x.Promote(rec.ID, &types.Actor{ID: "c", Role: types.RoleCouncil})
	require.NoError(t, err)
	assert.Equal(t, StateTrusted, promoted.State)
	require.NotEmpty(t, promoted.MaterializedID)

	// Materialized into the local lane with IMPORT origin.
	got, ok := store.Get(promoted.MaterializedID)
	require.True(t, ok)
	assert.Equal(t, types.LaneLocal, got.Lane)
	assert.Equal(t, types.OriginImport, got.Lineage.Origin)

	// Idempotent.
	again, err := x.Promote(rec.ID, &types.Actor{ID: "c", Role: types.RoleCouncil})
	require.NoError(t, err)
	assert.Equal(t, promoted.MaterializedID, again.MaterializedID)
}
