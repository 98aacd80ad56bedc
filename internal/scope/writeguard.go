package scope

import (
	"concord/internal/atlas"
	"concord/internal/budget"
	"concord/internal/governance"
	"concord/internal/logging"
	"concord/internal/types"
)

// Op is a write operation.
type Op string

const (
	OpCreate  Op = "CREATE"
	OpUpdate  Op = "UPDATE"
	OpLink    Op = "LINK"
	OpPromote Op = "PROMOTE"
)

// Result is the uniform write response. Exactly one of DTU, Submission, or
// Link is set on success, depending on the operation.
type Result struct {
	OK         bool         `json:"ok"`
	DTU        *types.DTU   `json:"dtu,omitempty"`
	Submission *Submission  `json:"submission,omitempty"`
	Link       *types.Link  `json:"link,omitempty"`
	Error      string       `json:"error,omitempty"`
	Field      string       `json:"field,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// WriteOpts carries scope and principal for a write.
type WriteOpts struct {
	Scope types.Lane
	Actor *types.Actor
}

// LinkPayload is the LINK operation input.
type LinkPayload struct {
	From     string
	To       string
	Type     types.LinkType
	Severity types.Severity
	Kind     types.ContradictionKind
}

// PromotePayload is the PROMOTE operation input. To empty means "run the
// auto-promote gate toward VERIFIED".
type PromotePayload struct {
	ID       string
	To       types.Status
	Expected *types.Status
}

// UpdatePayload is the UPDATE operation input.
type UpdatePayload struct {
	ID     string
	Title  *string
	Tags   []string
	Claims []types.Claim
}

// Guard is the single admission point for all writes: budget, governance,
// then dispatch into atlas or the router, with shape validation on create.
type Guard struct {
	store  *atlas.Store
	router *Router
	gate   *governance.Gate
	budget *budget.Budget
}

// NewGuard builds a Guard.
func NewGuard(store *atlas.Store, router *Router, gate *governance.Gate, b *budget.Budget) *Guard {
	return &Guard{store: store, router: router, gate: gate, budget: b}
}

// Apply admits one write. Validation mode follows the scope: LOCAL writes
// get SOFT validation (missing taxonomy tolerated), GLOBAL and MARKETPLACE
// get HARD validation. No write ever leaves partial state behind.
func (g *Guard) Apply(op Op, payload any, opts WriteOpts) Result {
	if opts.Actor == nil {
		return Result{Error: "actor_required"}
	}
	if opts.Scope == "" {
		opts.Scope = types.LaneLocal
	}

	if g.budget != nil {
		if res := g.budget.Consume(opts.Actor.ID, "world.write", 0); !res.Allowed {
			return Result{Error: "budget_exceeded", Reason: res.Reason}
		}
	}

	if opts.Scope != types.LaneLocal && g.gate != nil {
		if err := g.gate.MandatoryMutationGate(opts.Actor, "world.write", string(op), governance.CheckOpts{}); err != nil {
			denied, _ := err.(*governance.ErrDenied)
			reason := ""
			if denied != nil {
				reason = denied.Reason
			}
			return Result{Error: "denied", Reason: reason}
		}
	}

	switch op {
	case OpCreate:
		d, ok := payload.(*types.DTU)
		if !ok {
			return Result{Error: "invalid_payload", Field: "payload"}
		}
		return g.applyCreate(d, opts)
	case OpUpdate:
		upd, ok := payload.(UpdatePayload)
		if !ok {
			return Result{Error: "invalid_payload", Field: "payload"}
		}
		return g.applyUpdate(upd)
	case OpLink:
		lp, ok := payload.(LinkPayload)
		if !ok {
			return Result{Error: "invalid_payload", Field: "payload"}
		}
		link, err := g.store.AddLink(lp.From, lp.To, lp.Type, lp.Severity, lp.Kind)
		if err != nil {
			return Result{Error: err.Error()}
		}
		return Result{OK: true, Link: &link}
	case OpPromote:
		pp, ok := payload.(PromotePayload)
		if !ok {
			return Result{Error: "invalid_payload", Field: "payload"}
		}
		return g.applyPromote(pp, opts)
	default:
		return Result{Error: "unknown_op", Field: string(op)}
	}
}

// validate runs SOFT or HARD shape validation. Returns the offending field
// name, or "".
func validate(d *types.DTU, scope types.Lane) string {
	if d.Title == "" {
		return "title"
	}
	hard := scope != types.LaneLocal
	if hard {
		if d.DomainType == "" {
			return "domainType"
		}
		if d.EpistemicClass == "" {
			return "epistemicClass"
		}
		for _, c := range d.Claims {
			if c.Type == "" || c.Text == "" {
				return "claims"
			}
			if c.Type == types.ClaimFact && c.EvidenceTier == "" {
				return "claims.evidenceTier"
			}
		}
	} else {
		for _, c := range d.Claims {
			if c.Text == "" {
				return "claims"
			}
		}
	}
	return ""
}

func (g *Guard) applyCreate(d *types.DTU, opts WriteOpts) Result {
	if field := validate(d, opts.Scope); field != "" {
		return Result{Error: "validation_failed", Field: field}
	}

	d = d.Clone()
	d.Lane = opts.Scope
	if d.Author == "" {
		d.Author = opts.Actor.ID
	}
	// SOFT mode fills the taxonomy holes it tolerates.
	if opts.Scope == types.LaneLocal {
		if d.EpistemicClass == "" {
			d.EpistemicClass = types.ClassInterpretive
		}
		if d.DomainType == "" {
			d.DomainType = "general"
		}
		for i := range d.Claims {
			if d.Claims[i].Type == "" {
				d.Claims[i].Type = types.ClaimInterpretation
			}
			if d.Claims[i].EvidenceTier == "" {
				d.Claims[i].EvidenceTier = types.TierUnsourced
			}
		}
	}

	created, err := g.store.Create(d)
	if err != nil {
		return Result{Error: err.Error()}
	}
	logging.Get(logging.CategoryScope).Sugar().Debugw("write admitted",
		"op", "CREATE", "dtu", created.ID, "scope", opts.Scope)
	return Result{OK: true, DTU: created}
}

func (g *Guard) applyUpdate(upd UpdatePayload) Result {
	updated, err := g.store.UpdateContent(upd.ID, atlas.ContentUpdate{
		Title:  upd.Title,
		Tags:   upd.Tags,
		Claims: upd.Claims,
	})
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{OK: true, DTU: updated}
}

func (g *Guard) applyPromote(pp PromotePayload, opts WriteOpts) Result {
	if pp.To == "" {
		gate, cas := g.store.RunAutoPromote(pp.ID, opts.Scope)
		if cas.Err != "" {
			return Result{Error: cas.Err}
		}
		if !gate.Pass && gate.SameAsID == "" {
			return Result{Error: "gate_failed"}
		}
		d, _ := g.store.Get(pp.ID)
		return Result{OK: true, DTU: d}
	}

	cas := g.store.ChangeStatus(pp.ID, pp.To, pp.Expected)
	if !cas.OK {
		return Result{Error: cas.Err}
	}
	d, _ := g.store.Get(pp.ID)
	return Result{OK: true, DTU: d}
}

// CreateSubmission is the explicit scope-ascension entry point. Creating a
// submission is a request, not a promotion; the gate bites on approval.
func (g *Guard) CreateSubmission(dtuID string, target types.Lane, actor *types.Actor) (*Submission, error) {
	return g.router.CreateSubmission(dtuID, target, actor)
}
