package atlas

import (
	"sort"

	"concord/internal/textsim"
	"concord/internal/types"
)

// RetrieveMode selects the lanes a query searches.
type RetrieveMode string

const (
	ModeLocal           RetrieveMode = "LOCAL"
	ModeGlobal          RetrieveMode = "GLOBAL"
	ModeLocalThenGlobal RetrieveMode = "LOCAL_THEN_GLOBAL"
	ModeMarketplace     RetrieveMode = "MARKETPLACE"
)

// ScoredDTU is one retrieval hit.
type ScoredDTU struct {
	DTU       *types.DTU `json:"dtu"`
	Relevance float64    `json:"relevance"`
}

// RetrieveResult is a retrieval response. OK is true even for zero hits.
type RetrieveResult struct {
	OK      bool        `json:"ok"`
	Results []ScoredDTU `json:"results"`
	Total   int         `json:"total"`
}

// relevance scores a DTU against a free-text query.
func relevance(d *types.DTU, query string) float64 {
	qset := textsim.WordSet(query, 0)
	title := textsim.Jaccard(qset, textsim.WordSet(d.Title, 0))

	tagHits := 0.0
	if len(d.Tags) > 0 {
		tset := make(map[string]struct{}, len(d.Tags))
		for _, t := range d.Tags {
			tset[t] = struct{}{}
		}
		tagHits = textsim.Jaccard(qset, tset)
	}

	claims := textsim.Jaccard(qset, textsim.WordSet(joinClaims(d), 0))
	return 0.5*title + 0.2*tagHits + 0.3*claims
}

// Retrieve searches the selected lanes. Hits are ordered by overall
// confidence descending, then by recency. SAME_AS and quarantined DTUs
// never surface.
func (s *Store) Retrieve(mode RetrieveMode, query string, limit int) RetrieveResult {
	var lanes []types.Lane
	switch mode {
	case ModeLocal:
		lanes = []types.Lane{types.LaneLocal}
	case ModeGlobal:
		lanes = []types.Lane{types.LaneGlobal}
	case ModeLocalThenGlobal:
		lanes = []types.Lane{types.LaneLocal, types.LaneGlobal}
	case ModeMarketplace:
		lanes = []types.Lane{types.LaneMarketplace}
	default:
		return RetrieveResult{OK: true, Results: []ScoredDTU{}}
	}

	var hits []ScoredDTU
	for _, lane := range lanes {
		for _, d := range s.ByLane(lane) {
			if d.Status == types.StatusSameAs || d.Status == types.StatusQuarantined {
				continue
			}
			if rel := relevance(d, query); rel > 0 {
				hits = append(hits, ScoredDTU{DTU: d, Relevance: rel})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i].DTU, hits[j].DTU
		if a.Scores.ConfidenceOverall != b.Scores.ConfidenceOverall {
			return a.Scores.ConfidenceOverall > b.Scores.ConfidenceOverall
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	total := len(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []ScoredDTU{}
	}
	return RetrieveResult{OK: true, Results: hits, Total: total}
}
