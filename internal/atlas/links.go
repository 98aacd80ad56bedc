package atlas

import (
	"fmt"
	"time"

	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/types"
)

// AddLink creates a directed edge between two stored DTUs. Contradiction
// links run the auto-dispute rule: a HIGH NUMERIC contradiction against a
// verified target disputes exactly one side — the lower-confidence one.
func (s *Store) AddLink(fromID, toID string, linkType types.LinkType, severity types.Severity, kind types.ContradictionKind) (types.Link, error) {
	if fromID == toID {
		return types.Link{}, fmt.Errorf("atlas: self-link on %s", fromID)
	}

	s.mu.Lock()
	from, okFrom := s.dtus.Get(fromID)
	to, okTo := s.dtus.Get(toID)
	if !okFrom || !okTo {
		s.mu.Unlock()
		return types.Link{}, fmt.Errorf("atlas: link endpoints missing (%s -> %s)", fromID, toID)
	}

	link := types.Link{
		ID:        idclock.MintID("link"),
		From:      fromID,
		To:        toID,
		Type:      linkType,
		Severity:  severity,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	s.links[fromID] = append(s.links[fromID], link)
	s.rev[toID] = append(s.rev[toID], link)
	s.mu.Unlock()

	if linkType == types.LinkContradicts && severity == types.SeverityHigh {
		s.autoDispute(from, to, kind)
	}
	return link, nil
}

// autoDispute applies the one-sided dispute rule for a HIGH contradiction
// from candidate A to target B.
func (s *Store) autoDispute(a, b *types.DTU, kind types.ContradictionKind) {
	verified := b.Status == types.StatusVerified || b.Status == types.StatusVerifiedInterpretation
	if !verified {
		return
	}

	var disputedID string
	if a.Scores.ConfidenceOverall > b.Scores.ConfidenceOverall {
		res := s.ChangeStatus(b.ID, types.StatusDisputed, nil)
		if !res.OK {
			return
		}
		disputedID = b.ID
	} else {
		// The candidate loses; the verified target stays untouched.
		res := s.ChangeStatus(a.ID, types.StatusDisputed, nil)
		if !res.OK {
			return
		}
		disputedID = a.ID
	}

	s.metrics.Disputes.Inc()
	s.emitEvent("dispute_opened", map[string]any{
		"dtu":  disputedID,
		"kind": string(kind),
	})
	logging.Get(logging.CategoryAtlas).Sugar().Infow("auto-dispute",
		"candidate", a.ID, "target", b.ID, "disputed", disputedID)
}

// LinksFrom returns the outbound links of a DTU.
func (s *Store) LinksFrom(id string) []types.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Link(nil), s.links[id]...)
}

// LinksTo returns the inbound links of a DTU.
func (s *Store) LinksTo(id string) []types.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Link(nil), s.rev[id]...)
}

// ContradictionPairs returns every contradicts edge currently stored.
func (s *Store) ContradictionPairs() []types.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Link
	for _, links := range s.links {
		for _, l := range links {
			if l.Type == types.LinkContradicts {
				out = append(out, l)
			}
		}
	}
	return out
}

// highContradictionBlocks reports whether the DTU has a HIGH contradiction
// edge to or from a verified peer with strictly higher overall confidence.
func (s *Store) highContradictionBlocks(d *types.DTU) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	check := func(peerID string) bool {
		peer, ok := s.dtus.Get(peerID)
		if !ok {
			return false
		}
		if peer.Status != types.StatusVerified && peer.Status != types.StatusVerifiedInterpretation {
			return false
		}
		return peer.Scores.ConfidenceOverall > d.Scores.ConfidenceOverall
	}

	for _, l := range s.links[d.ID] {
		if l.Type == types.LinkContradicts && l.Severity == types.SeverityHigh && check(l.To) {
			return true
		}
	}
	for _, l := range s.rev[d.ID] {
		if l.Type == types.LinkContradicts && l.Severity == types.SeverityHigh && check(l.From) {
			return true
		}
	}
	return false
}

// PruneLinksOlderThan drops links created before the cutoff. Heartbeat
// integrity sweeps use this to cap unbounded growth.
func (s *Store) PruneLinksOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	filter := func(links []types.Link) []types.Link {
		out := links[:0]
		for _, l := range links {
			if l.CreatedAt.Before(cutoff) {
				pruned++
				continue
			}
			out = append(out, l)
		}
		return out
	}
	for id, links := range s.links {
		s.links[id] = filter(links)
	}
	for id, links := range s.rev {
		s.rev[id] = filter(links)
	}
	return pruned / 2 // every link is counted in both maps
}
