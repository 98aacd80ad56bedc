package scope

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"concord/internal/atlas"
	"concord/internal/governance"
	"concord/internal/idclock"
	"concord/internal/logging"
	"concord/internal/rights"
	"concord/internal/types"
)

// Router partitions writes across lanes and owns the submission ledger.
// Scope ascension never mutates a DTU's lane: approval creates a new DTU in
// the target lane with the source in its lineage.
type Router struct {
	store *atlas.Store
	gate  *governance.Gate
	now   func() time.Time

	mu          sync.RWMutex
	submissions map[string]*Submission
}

// NewRouter builds a Router over the atlas store and governance gate.
func NewRouter(store *atlas.Store, gate *governance.Gate) *Router {
	return &Router{
		store:       store,
		gate:        gate,
		now:         time.Now,
		submissions: make(map[string]*Submission),
	}
}

// SetClock swaps the time source. Tests only.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// ascensions lists the only legal scope transitions.
var ascensions = map[types.Lane]types.Lane{
	types.LaneGlobal:      types.LaneLocal,  // GLOBAL is targeted from LOCAL
	types.LaneMarketplace: types.LaneGlobal, // MARKETPLACE only from GLOBAL
}

// CreateSubmission seals a promotion request for a DTU into the target
// scope. The payload is deep-copied and frozen; only status changes later.
func (r *Router) CreateSubmission(dtuID string, target types.Lane, actor *types.Actor) (*Submission, error) {
	if actor == nil {
		return nil, fmt.Errorf("scope: submission requires an actor")
	}
	source, ok := r.store.Get(dtuID)
	if !ok {
		return nil, fmt.Errorf("scope: unknown dtu %s", dtuID)
	}

	requiredFrom, ok := ascensions[target]
	if !ok {
		return nil, fmt.Errorf("scope: %s is not a valid submission target", target)
	}
	if source.Lane != requiredFrom {
		return nil, fmt.Errorf("scope: %s can only be targeted from %s, dtu %s is %s",
			target, requiredFrom, dtuID, source.Lane)
	}

	sub := &Submission{
		ID:                 idclock.MintID("sub"),
		DTUID:              dtuID,
		TargetScope:        target,
		PayloadHash:        rights.ContentHash(source),
		SourceSnapshotHash: snapshotHash(source),
		Status:             SubmissionPending,
		ActorID:            actor.ID,
		CreatedAt:          r.now(),
	}
	sub.seal(source)

	r.mu.Lock()
	r.submissions[sub.ID] = sub
	r.mu.Unlock()

	logging.Get(logging.CategoryScope).Sugar().Infow("submission sealed",
		"submission", sub.ID, "dtu", dtuID, "target", target)
	return sub, nil
}

// Submission returns the submission by id.
func (r *Router) Submission(id string) (*Submission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.submissions[id]
	return s, ok
}

// Submissions lists all submissions, newest last.
func (r *Router) Submissions() []*Submission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Submission, 0, len(r.submissions))
	for _, s := range r.submissions {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Approve resolves a pending submission with a council verdict. On approval
// a new DTU is created in the target lane: the sealed payload with fresh
// identity, the source DTU as lineage parent, and IMPORT origin. The source
// DTU is untouched.
func (r *Router) Approve(subID string, actor *types.Actor) (*types.DTU, error) {
	if !actor.Privileged() {
		return nil, &governance.ErrDenied{Domain: "canon.promote", Reason: governance.ReasonRole}
	}

	r.mu.Lock()
	sub, ok := r.submissions[subID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("scope: unknown submission %s", subID)
	}
	if sub.Status != SubmissionPending {
		r.mu.Unlock()
		return nil, fmt.Errorf("scope: submission %s already %s", subID, sub.Status)
	}
	sub.Status = SubmissionApproved
	payload := sub.Payload()
	r.mu.Unlock()

	ascended := payload
	ascended.ID = ""
	ascended.Lane = sub.TargetScope
	ascended.Status = ""
	ascended.Rights.ContentHash = ""
	ascended.Rights.OriginFingerprint = ""
	ascended.Lineage.Parents = append(ascended.Lineage.Parents, sub.DTUID)
	ascended.Lineage.Generation++
	ascended.Lineage.Origin = types.OriginImport

	created, err := r.store.Create(ascended)
	if err != nil {
		// Roll the verdict back so the council can retry.
		r.mu.Lock()
		sub.Status = SubmissionPending
		r.mu.Unlock()
		return nil, err
	}
	return created, nil
}

// Reject resolves a pending submission negatively.
func (r *Router) Reject(subID string, actor *types.Actor) error {
	if !actor.Privileged() {
		return &governance.ErrDenied{Domain: "canon.promote", Reason: governance.ReasonRole}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[subID]
	if !ok {
		return fmt.Errorf("scope: unknown submission %s", subID)
	}
	if sub.Status != SubmissionPending {
		return fmt.Errorf("scope: submission %s already %s", subID, sub.Status)
	}
	sub.Status = SubmissionRejected
	return nil
}

// Export returns the submissions for snapshotting.
func (r *Router) Export() []*Submission {
	return r.Submissions()
}

// Import restores submissions from a snapshot.
func (r *Router) Import(subs []*Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		r.submissions[s.ID] = s
	}
}
