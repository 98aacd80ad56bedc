// Package rights implements content hashing, license resolution, use-rights
// checks, derivative enforcement, and proof-of-origin for DTUs.
package rights

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"concord/internal/logging"
	"concord/internal/types"
)

// =============================================================================
// CONTENT HASH
// =============================================================================

// canonicalPayload is the exact byte layout hashed for a DTU. Field order is
// fixed; tags are sorted; claims keep their order.
type canonicalPayload struct {
	Title          string               `json:"title"`
	DomainType     string               `json:"domain_type"`
	EpistemicClass types.EpistemicClass `json:"epistemic_class"`
	Tags           []string             `json:"tags"`
	Claims         []canonicalClaim     `json:"claims"`
	CreatorID      string               `json:"creator_id"`
}

type canonicalClaim struct {
	Type    types.ClaimType `json:"type"`
	Text    string          `json:"text"`
	Sources []string        `json:"sources"`
}

// ContentHash returns the 64-hex SHA-256 of the DTU's canonical payload.
// Equal content always yields an equal hash.
func ContentHash(d *types.DTU) string {
	tags := append([]string(nil), d.Tags...)
	sort.Strings(tags)

	claims := make([]canonicalClaim, len(d.Claims))
	for i, c := range d.Claims {
		claims[i] = canonicalClaim{Type: c.Type, Text: c.Text, Sources: c.Sources}
	}

	payload := canonicalPayload{
		Title:          d.Title,
		DomainType:     d.DomainType,
		EpistemicClass: d.EpistemicClass,
		Tags:           tags,
		Claims:         claims,
		CreatorID:      d.Rights.CreatorID,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives the origin fingerprint stamped at creation.
func Fingerprint(creatorID, contentHash string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", creatorID, contentHash, createdAt.UnixNano())))
	return hex.EncodeToString(sum[:16])
}

// =============================================================================
// LICENSES
// =============================================================================

// builtinTerms maps the named license types to their permissions.
var builtinTerms = map[types.LicenseType]types.LicenseTerms{
	types.LicensePersonal: {},
	types.LicenseAttributionOpen: {
		Attribution:    true,
		Derivative:     true,
		Commercial:     true,
		Redistribution: true,
	},
	types.LicenseCommercial: {
		Attribution:    true,
		Commercial:     true,
		Redistribution: true,
		Royalty:        true,
	},
}

// ErrMarketplaceLicense rejects Marketplace artifacts without an explicit
// license.
var ErrMarketplaceLicense = fmt.Errorf("rights: marketplace artifacts require an explicit license")

// DefaultLicense resolves the license for a lane when the writer supplied
// none. Marketplace has no default.
func DefaultLicense(lane types.Lane) (types.LicenseType, error) {
	switch lane {
	case types.LaneLocal:
		return types.LicensePersonal, nil
	case types.LaneGlobal:
		return types.LicenseAttributionOpen, nil
	case types.LaneMarketplace:
		return "", ErrMarketplaceLicense
	default:
		return types.LicensePersonal, nil
	}
}

// CustomTerms is the inbound shape for a CUSTOM license. All five permission
// fields must be supplied explicitly.
type CustomTerms struct {
	Attribution    *bool   `json:"attribution"`
	Derivative     *bool   `json:"derivative"`
	Commercial     *bool   `json:"commercial"`
	Redistribution *bool   `json:"redistribution"`
	Royalty        *bool   `json:"royalty"`
	RoyaltyPct     float64 `json:"royalty_pct,omitempty"`
}

// ResolveCustom validates a custom license and returns its terms.
func ResolveCustom(ct CustomTerms) (types.LicenseTerms, error) {
	if ct.Attribution == nil || ct.Derivative == nil || ct.Commercial == nil ||
		ct.Redistribution == nil || ct.Royalty == nil {
		return types.LicenseTerms{}, fmt.Errorf("rights: custom license must set all five permission fields")
	}
	return types.LicenseTerms{
		Attribution:    *ct.Attribution,
		Derivative:     *ct.Derivative,
		Commercial:     *ct.Commercial,
		Redistribution: *ct.Redistribution,
		Royalty:        *ct.Royalty,
		RoyaltyPct:     ct.RoyaltyPct,
	}, nil
}

// =============================================================================
// RIGHTS ENGINE
// =============================================================================

// Action is a use-rights action on an artifact.
type Action string

const (
	ActionView         Action = "VIEW"
	ActionCite         Action = "CITE"
	ActionDerive       Action = "DERIVE"
	ActionListOnMarket Action = "LIST_ON_MARKET"
)

// ProofOfOrigin is the creation-time record tying an artifact to its creator.
type ProofOfOrigin struct {
	ArtifactID        string    `json:"artifact_id"`
	CreatorID         string    `json:"creator_id"`
	ContentHash       string    `json:"content_hash"`
	OriginFingerprint string    `json:"origin_fingerprint"`
	TS                time.Time `json:"ts"`
}

// Engine tracks custom license terms, transfer grants, and origin proofs.
type Engine struct {
	mu      sync.RWMutex
	customs map[string]types.LicenseTerms // artifact id -> custom terms
	grants  map[string]map[string]struct{}
	origins map[string]ProofOfOrigin
}

// NewEngine builds an empty rights Engine.
func NewEngine() *Engine {
	return &Engine{
		customs: make(map[string]types.LicenseTerms),
		grants:  make(map[string]map[string]struct{}),
		origins: make(map[string]ProofOfOrigin),
	}
}

// Terms resolves the effective license terms for a DTU.
func (e *Engine) Terms(d *types.DTU) types.LicenseTerms {
	if d.Rights.LicenseType == types.LicenseCustom {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if t, ok := e.customs[d.ID]; ok {
			return t
		}
		// Unregistered custom license falls back to the most restrictive.
		return builtinTerms[types.LicensePersonal]
	}
	if t, ok := builtinTerms[d.Rights.LicenseType]; ok {
		return t
	}
	return builtinTerms[types.LicensePersonal]
}

// SetCustomTerms registers validated custom terms for an artifact.
func (e *Engine) SetCustomTerms(artifactID string, ct CustomTerms) error {
	terms, err := ResolveCustom(ct)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customs[artifactID] = terms
	return nil
}

// Grant records an explicit transfer grant from the owner to an actor.
func (e *Engine) Grant(artifactID, actorID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants[artifactID] == nil {
		e.grants[artifactID] = make(map[string]struct{})
	}
	e.grants[artifactID][actorID] = struct{}{}
}

func (e *Engine) granted(artifactID, actorID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[artifactID][actorID]
	return ok
}

// CanUse decides whether the actor may perform the action on the artifact.
func (e *Engine) CanUse(actor *types.Actor, d *types.DTU, action Action) bool {
	if actor == nil || d == nil {
		return false
	}
	if actor.ID == d.Rights.CreatorID {
		return true // owner has all rights
	}

	switch action {
	case ActionView:
		if d.Lane == types.LaneLocal {
			return e.granted(d.ID, actor.ID)
		}
		return true // global and marketplace artifacts are viewable
	case ActionCite:
		return d.Lane != types.LaneLocal
	case ActionDerive:
		return e.Terms(d).Derivative
	case ActionListOnMarket:
		return e.granted(d.ID, actor.ID)
	default:
		return false
	}
}

// CheckDerivativeRights verifies that a creator may derive from every parent:
// parents the creator does not own must carry a derivative-permitting
// license.
func (e *Engine) CheckDerivativeRights(creatorID string, parents []*types.DTU) error {
	for _, p := range parents {
		if p.Rights.CreatorID == creatorID {
			continue
		}
		if !e.Terms(p).Derivative {
			return fmt.Errorf("rights: parent %s license %s forbids derivatives", p.ID, p.Rights.LicenseType)
		}
	}
	return nil
}

// RecordOrigin stamps the proof-of-origin for a freshly created artifact.
func (e *Engine) RecordOrigin(d *types.DTU) ProofOfOrigin {
	proof := ProofOfOrigin{
		ArtifactID:        d.ID,
		CreatorID:         d.Rights.CreatorID,
		ContentHash:       d.Rights.ContentHash,
		OriginFingerprint: d.Rights.OriginFingerprint,
		TS:                d.CreatedAt,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.origins[d.ID] = proof
	return proof
}

// Origin returns the recorded proof for an artifact.
func (e *Engine) Origin(artifactID string) (ProofOfOrigin, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.origins[artifactID]
	return p, ok
}

// VerifyOriginIntegrity recomputes the content hash and compares it against
// the recorded proof. A mismatch signals tampering.
func (e *Engine) VerifyOriginIntegrity(d *types.DTU) (ok bool, err error) {
	proof, found := e.Origin(d.ID)
	if !found {
		return false, fmt.Errorf("rights: no origin proof for %s", d.ID)
	}
	current := ContentHash(d)
	if current != proof.ContentHash {
		logging.Get(logging.CategoryRights).Sugar().Warnw("origin integrity mismatch",
			"artifact", d.ID, "recorded", proof.ContentHash, "current", current)
		return false, nil
	}
	return true, nil
}
