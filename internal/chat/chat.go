// Package chat is the read-only retrieval adapter. Chat answers never create
// or mutate knowledge: validation and the contradiction gate are off, and
// everything returned is labeled with its scope. Escalation into the write
// path exists only as the explicit SaveAsDTU and PublishToGlobal calls.
package chat

import (
	"fmt"
	"time"

	"concord/internal/atlas"
	"concord/internal/logging"
	"concord/internal/scope"
	"concord/internal/types"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// ContextItem is one retrieval hit formatted for a chat surface. Only global
// items carry a confidence badge; local notes are the user's own.
type ContextItem struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Snippet         string  `json:"snippet,omitempty"`
	Relevance       float64 `json:"relevance"`
	SourceScope     string  `json:"source_scope"` // "local" | "global"
	ScopeLabel      string  `json:"scope_label"`
	ConfidenceBadge string  `json:"confidence_badge,omitempty"`
}

// RetrieveMeta stamps the adapter's mode on every response.
type RetrieveMeta struct {
	Mode              string `json:"mode"`
	ValidationLevel   string `json:"validation_level"`
	ContradictionGate string `json:"contradiction_gate"`
}

// RetrieveResult is a chat retrieval response.
type RetrieveResult struct {
	OK      bool          `json:"ok"`
	Context []ContextItem `json:"context"`
	Meta    RetrieveMeta  `json:"meta"`
}

// RetrieveOpts tunes a retrieval.
type RetrieveOpts struct {
	Limit int
}

// Adapter wraps the store read path and the guard's explicit escalations.
type Adapter struct {
	store *atlas.Store
	guard *scope.Guard
}

// New builds an Adapter.
func New(store *atlas.Store, guard *scope.Guard) *Adapter {
	return &Adapter{store: store, guard: guard}
}

// Retrieve answers a chat query from local-then-global knowledge. No side
// effects of any kind.
func (a *Adapter) Retrieve(query string, opts RetrieveOpts) RetrieveResult {
	limit := opts.Limit
	if limit <= 0 {
		limit = 8
	}

	res := a.store.Retrieve(atlas.ModeLocalThenGlobal, query, limit)
	out := RetrieveResult{
		OK:      true,
		Context: make([]ContextItem, 0, len(res.Results)),
		Meta: RetrieveMeta{
			Mode:              "chat",
			ValidationLevel:   "OFF",
			ContradictionGate: "OFF",
		},
	}

	for _, hit := range res.Results {
		item := ContextItem{
			ID:        hit.DTU.ID,
			Title:     hit.DTU.Title,
			Relevance: hit.Relevance,
		}
		if len(hit.DTU.Claims) > 0 {
			item.Snippet = hit.DTU.Claims[0].Text
		}
		switch hit.DTU.Lane {
		case types.LaneGlobal:
			item.SourceScope = "global"
			item.ScopeLabel = "Shared knowledge"
			item.ConfidenceBadge = confidenceBadge(hit.DTU.Scores.ConfidenceOverall)
		default:
			item.SourceScope = "local"
			item.ScopeLabel = "Your notes"
		}
		out.Context = append(out.Context, item)
	}

	logging.Get(logging.CategoryChat).Sugar().Debugw("retrieve",
		"query_len", len(query), "hits", len(out.Context))
	return out
}

func confidenceBadge(overall float64) string {
	switch {
	case overall >= 0.8:
		return "high confidence"
	case overall >= 0.5:
		return "medium confidence"
	default:
		return "low confidence"
	}
}

// SaveAsDTU is the explicit escalation that captures chat content as a
// Local DTU. The caller decides; the adapter never does this on its own.
func (a *Adapter) SaveAsDTU(title, body string, actor *types.Actor) (*types.DTU, error) {
	payload := &types.DTU{
		Title:  title,
		Claims: []types.Claim{{Type: types.ClaimInterpretation, Text: body, EvidenceTier: types.TierUnsourced}},
		Meta: types.Meta{Provenance: &types.Provenance{
			SourceType: "chat",
			SourceID:   actorID(actor),
			Confidence: 0.5,
			CreatedAt:  timeNow(),
		}},
	}
	res := a.guard.Apply(scope.OpCreate, payload, scope.WriteOpts{Scope: types.LaneLocal, Actor: actor})
	if !res.OK {
		return nil, fmt.Errorf("chat: save failed: %s", res.Error)
	}
	return res.DTU, nil
}

// PublishToGlobal saves chat content locally and opens a PENDING submission
// toward GLOBAL. Nothing reaches the global lane until the council approves.
func (a *Adapter) PublishToGlobal(title, body string, actor *types.Actor) (*types.DTU, *scope.Submission, error) {
	d, err := a.SaveAsDTU(title, body, actor)
	if err != nil {
		return nil, nil, err
	}
	sub, err := a.guard.CreateSubmission(d.ID, types.LaneGlobal, actor)
	if err != nil {
		return d, nil, err
	}
	return d, sub, nil
}

func actorID(actor *types.Actor) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}
