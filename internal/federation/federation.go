// Package federation exchanges artifact bundles between substrates. Exports
// carry provenance, evidence, dispute history, license, and reputation.
// Imports are sandboxed until a privileged actor promotes them: passing the
// verifier earns sandbox entry, never trust.
package federation

import (
	"fmt"
	"sync"
	"time"

	"concord/internal/atlas"
	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/rights"
	"concord/internal/types"
)

// EnvelopeVersion is the wire format tag.
const EnvelopeVersion = "loaf-federation-v1"

// License is the envelope's licensing block.
type License struct {
	Type        types.LicenseType `json:"type"`
	RoyaltyPct  float64           `json:"royaltyPct"`
	Attribution bool              `json:"attribution"`
	Terms       string            `json:"terms,omitempty"`
}

// DisputeRecord is one entry of an artifact's dispute history.
type DisputeRecord struct {
	LinkID   string                  `json:"link_id"`
	PeerID   string                  `json:"peer_id"`
	Severity types.Severity          `json:"severity"`
	Kind     types.ContradictionKind `json:"kind,omitempty"`
	At       time.Time               `json:"at"`
}

// Reputation summarizes the exporting substrate's standing for the artifact.
type Reputation struct {
	ExporterID string  `json:"exporter_id"`
	Score      float64 `json:"score"`
}

// Envelope is the federation bundle.
type Envelope struct {
	Version        string            `json:"version"`
	ExportedAt     time.Time         `json:"exportedAt"`
	Artifact       *types.DTU        `json:"artifact"`
	Provenance     *types.Provenance `json:"provenance,omitempty"`
	Evidence       []string          `json:"evidence,omitempty"`
	DisputeHistory []DisputeRecord   `json:"disputeHistory,omitempty"`
	License        License           `json:"license"`
	Reputation     Reputation        `json:"reputation"`
}

// ImportState is the sandbox lifecycle of an imported artifact.
type ImportState string

const (
	StateSandboxed ImportState = "sandboxed"
	StateTrusted   ImportState = "trusted"
)

// ImportRecord tracks one imported envelope.
type ImportRecord struct {
	ID             string      `json:"id"`
	Envelope       Envelope    `json:"envelope"`
	State          ImportState `json:"state"`
	VerifierPassed bool        `json:"verifier_passed"`
	ImportedAt     time.Time   `json:"imported_at"`
	MaterializedID string      `json:"materialized_id,omitempty"`
}

// Emitter is the bus slice federation needs.
type Emitter interface {
	Emit(eventType string, payload map[string]any, meta map[string]string)
}

// Exchange owns export/import for one substrate.
type Exchange struct {
	store      *atlas.Store
	exporterID string
	emit       Emitter
	now        func() time.Time

	mu      sync.RWMutex
	imports map[string]*ImportRecord
}

// NewExchange builds an Exchange.
func NewExchange(store *atlas.Store, exporterID string, emit Emitter) *Exchange {
	return &Exchange{
		store:      store,
		exporterID: exporterID,
		emit:       emit,
		now:        time.Now,
		imports:    make(map[string]*ImportRecord),
	}
}

// SetClock swaps the time source. Tests only.
func (x *Exchange) SetClock(now func() time.Time) { x.now = now }

func (x *Exchange) emitEvent(eventType string, payload map[string]any) {
	if x.emit != nil {
		x.emit.Emit(eventType, payload, nil)
	}
}

// Export bundles a DTU for another substrate. Local artifacts are private
// and never leave.
func (x *Exchange) Export(dtuID string) (Envelope, error) {
	d, ok := x.store.Get(dtuID)
	if !ok {
		return Envelope{}, fmt.Errorf("federation: unknown dtu %s", dtuID)
	}
	if d.Lane == types.LaneLocal {
		return Envelope{}, fmt.Errorf("federation: local artifacts are not exportable")
	}

	var evidence []string
	for _, c := range d.Claims {
		evidence = append(evidence, c.Sources...)
	}

	var disputes []DisputeRecord
	for _, l := range append(x.store.LinksFrom(dtuID), x.store.LinksTo(dtuID)...) {
		if l.Type != types.LinkContradicts {
			continue
		}
		peer := l.To
		if peer == dtuID {
			peer = l.From
		}
		disputes = append(disputes, DisputeRecord{
			LinkID: l.ID, PeerID: peer, Severity: l.Severity, Kind: l.Kind, At: l.CreatedAt,
		})
	}

	env := Envelope{
		Version:        EnvelopeVersion,
		ExportedAt:     x.now(),
		Artifact:       d,
		Provenance:     d.Meta.Provenance,
		Evidence:       evidence,
		DisputeHistory: disputes,
		License: License{
			Type:        d.Rights.LicenseType,
			Attribution: d.Rights.LicenseType == types.LicenseAttributionOpen,
		},
		Reputation: Reputation{
			ExporterID: x.exporterID,
			Score:      d.Scores.ConfidenceOverall,
		},
	}
	x.emitEvent("federation_exported", map[string]any{"dtu": dtuID})
	return env, nil
}

// verify checks the envelope's structural integrity: version tag, artifact
// presence, and a content hash that matches the artifact.
func verify(env Envelope) (bool, string) {
	if env.Version != EnvelopeVersion {
		return false, fmt.Sprintf("unsupported version %q", env.Version)
	}
	if env.Artifact == nil {
		return false, "missing artifact"
	}
	if env.Artifact.Rights.ContentHash != "" &&
		env.Artifact.Rights.ContentHash != rights.ContentHash(env.Artifact) {
		return false, "content hash mismatch"
	}
	return true, ""
}

// Import sandboxes an envelope. A failing verifier rejects outright; a
// passing one still lands in the sandbox (never straight to trusted).
func (x *Exchange) Import(env Envelope) (*ImportRecord, error) {
	ok, reason := verify(env)
	if !ok {
		return nil, fmt.Errorf("federation: import rejected: %s", reason)
	}

	rec := &ImportRecord{
		ID:             idclock.MintID("fedimp"),
		Envelope:       env,
		State:          StateSandboxed,
		VerifierPassed: true,
		ImportedAt:     x.now(),
	}
	x.mu.Lock()
	x.imports[rec.ID] = rec
	x.mu.Unlock()

	x.emitEvent("federation_imported", map[string]any{"import": rec.ID, "state": string(StateSandboxed)})
	x.emitEvent("sandbox_created", map[string]any{"import": rec.ID})
	logging.Get(logging.CategoryFederation).Sugar().Infow("import sandboxed", "import", rec.ID)
	return rec, nil
}

// Promote moves a sandboxed import to trusted and materializes the artifact
// as a local-lane DTU with IMPORT origin. Requires a privileged actor.
func (x *Exchange) Promote(importID string, actor *types.Actor) (*ImportRecord, error) {
	if !actor.Privileged() {
		return nil, fmt.Errorf("federation: promotion requires a privileged actor")
	}

	x.mu.Lock()
	rec, ok := x.imports[importID]
	if !ok {
		x.mu.Unlock()
		return nil, fmt.Errorf("federation: unknown import %s", importID)
	}
	if rec.State == StateTrusted {
		x.mu.Unlock()
		return rec, nil // idempotent
	}
	artifact := rec.Envelope.Artifact.Clone()
	x.mu.Unlock()

	artifact.ID = ""
	artifact.Lane = types.LaneLocal
	artifact.Status = ""
	artifact.Lineage.Origin = types.OriginImport
	artifact.Rights.ContentHash = ""
	artifact.Rights.OriginFingerprint = ""
	if artifact.Meta.Provenance == nil {
		artifact.Meta.Provenance = rec.Envelope.Provenance
	}

	created, err := x.store.Create(artifact)
	if err != nil {
		return nil, fmt.Errorf("federation: materialize failed: %w", err)
	}

	x.mu.Lock()
	rec.State = StateTrusted
	rec.MaterializedID = created.ID
	x.mu.Unlock()
	return rec, nil
}

// Imports lists all import records.
func (x *Exchange) Imports() []*ImportRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]*ImportRecord, 0, len(x.imports))
	for _, r := range x.imports {
		out = append(out, r)
	}
	return out
}

// ImportByID returns one import record.
func (x *Exchange) ImportByID(id string) (*ImportRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.imports[id]
	return r, ok
}
