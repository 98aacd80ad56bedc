package rights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/types"
)

func sampleDTU() *types.DTU {
	return &types.DTU{
		ID:             "dtu-1",
		Title:          "gravity",
		DomainType:     "empirical.physics",
		EpistemicClass: types.ClassEmpirical,
		Tags:           []string{"physics", "constants"},
		Claims: []types.Claim{
			{Type: types.ClaimFact, Text: "g=9.8", Sources: []string{"s1"}},
		},
		Lane:   types.LaneGlobal,
		Rights: types.Rights{CreatorID: "alice", LicenseType: types.LicenseAttributionOpen},
	}
}

func TestContentHashDeterministic(t *testing.T) {
	d := sampleDTU()
	h1 := ContentHash(d)
	h2 := ContentHash(d.Clone())
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	// Tag order does not matter.
	reordered := d.Clone()
	reordered.Tags = []string{"constants", "physics"}
	assert.Equal(t, h1, ContentHash(reordered))

	// Claim order does.
	twoClaims := d.Clone()
	twoClaims.Claims = append(twoClaims.Claims, types.Claim{Type: types.ClaimFact, Text: "c=3e8", Sources: []string{"s2"}})
	swapped := twoClaims.Clone()
	swapped.Claims[0], swapped.Claims[1] = swapped.Claims[1], swapped.Claims[0]
	assert.NotEqual(t, ContentHash(twoClaims), ContentHash(swapped))

	// Content change changes the hash.
	changed := d.Clone()
	changed.Title = "gravitation"
	assert.NotEqual(t, h1, ContentHash(changed))
}

func TestDefaultLicenseByLane(t *testing.T) {
	lt, err := DefaultLicense(types.LaneLocal)
	require.NoError(t, err)
	assert.Equal(t, types.LicensePersonal, lt)

	lt, err = DefaultLicense(types.LaneGlobal)
	require.NoError(t, err)
	assert.Equal(t, types.LicenseAttributionOpen, lt)

	_, err = DefaultLicense(types.LaneMarketplace)
	assert.ErrorIs(t, err, ErrMarketplaceLicense)
}

func TestResolveCustomRequiresAllFields(t *testing.T) {
	tr := true
	_, err := ResolveCustom(CustomTerms{Attribution: &tr, Derivative: &tr})
	assert.Error(t, err)

	f := false
	terms, err := ResolveCustom(CustomTerms{
		Attribution: &tr, Derivative: &f, Commercial: &f, Redistribution: &tr, Royalty: &f,
	})
	require.NoError(t, err)
	assert.True(t, terms.Attribution)
	assert.False(t, terms.Derivative)
}

func TestCanUseOwnerHasAllRights(t *testing.T) {
	e := NewEngine()
	d := sampleDTU()
	owner := &types.Actor{ID: "alice"}
	for _, a := range []Action{ActionView, ActionCite, ActionDerive, ActionListOnMarket} {
		assert.True(t, e.CanUse(owner, d, a), string(a))
	}
}

func TestCanUseLocalViewRequiresGrant(t *testing.T) {
	e := NewEngine()
	d := sampleDTU()
	d.Lane = types.LaneLocal
	bob := &types.Actor{ID: "bob"}

	assert.False(t, e.CanUse(bob, d, ActionView))
	e.Grant(d.ID, "bob")
	assert.True(t, e.CanUse(bob, d, ActionView))
}

func TestCanUseGlobalPublicViewCite(t *testing.T) {
	e := NewEngine()
	d := sampleDTU()
	bob := &types.Actor{ID: "bob"}
	assert.True(t, e.CanUse(bob, d, ActionView))
	assert.True(t, e.CanUse(bob, d, ActionCite))
}

func TestCanUseDeriveFollowsLicense(t *testing.T) {
	e := NewEngine()
	d := sampleDTU()
	bob := &types.Actor{ID: "bob"}
	assert.True(t, e.CanUse(bob, d, ActionDerive)) // ATTRIBUTION_OPEN allows

	d.Rights.LicenseType = types.LicensePersonal
	assert.False(t, e.CanUse(bob, d, ActionDerive))
}

func TestCanUseListOnMarketNeedsGrant(t *testing.T) {
	e := NewEngine()
	d := sampleDTU()
	bob := &types.Actor{ID: "bob"}
	assert.False(t, e.CanUse(bob, d, ActionListOnMarket))
	e.Grant(d.ID, "bob")
	assert.True(t, e.CanUse(bob, d, ActionListOnMarket))
}

func TestCanUseNilInputs(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.CanUse(nil, sampleDTU(), ActionView))
	assert.False(t, e.CanUse(&types.Actor{ID: "x"}, nil, ActionView))
}

func TestCheckDerivativeRights(t *testing.T) {
	e := NewEngine()
	open := sampleDTU()
	personal := sampleDTU()
	personal.ID = "dtu-2"
	personal.Rights.LicenseType = types.LicensePersonal
	personal.Rights.CreatorID = "carol"

	// Own parents never block.
	mine := sampleDTU()
	mine.ID = "dtu-3"
	mine.Rights.LicenseType = types.LicensePersonal
	assert.NoError(t, e.CheckDerivativeRights("alice", []*types.DTU{mine}))

	assert.NoError(t, e.CheckDerivativeRights("bob", []*types.DTU{open}))
	assert.Error(t, e.CheckDerivativeRights("bob", []*types.DTU{open, personal}))
}

func TestOriginIntegrity(t *testing.T) {
	e := NewEngine()
	d := sampleDTU()
	d.CreatedAt = time.Unix(7000, 0)
	d.Rights.ContentHash = ContentHash(d)
	d.Rights.OriginFingerprint = Fingerprint(d.Rights.CreatorID, d.Rights.ContentHash, d.CreatedAt)

	proof := e.RecordOrigin(d)
	assert.Equal(t, d.Rights.ContentHash, proof.ContentHash)

	ok, err := e.VerifyOriginIntegrity(d)
	require.NoError(t, err)
	assert.True(t, ok)

	// Tamper with content.
	d.Title = "tampered"
	ok, err = e.VerifyOriginIntegrity(d)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown artifact errors.
	_, err = e.VerifyOriginIntegrity(&types.DTU{ID: "ghost"})
	assert.Error(t, err)
}
