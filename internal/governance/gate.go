// Package governance implements the fail-closed mutation gate and the
// constitution. Every gated mutation passes through Check; anything the gate
// cannot positively allow is denied.
package governance

import (
	"fmt"

	"concord/internal/logging"
	"concord/internal/metrics"
	"concord/internal/types"
)

// Gated domains always pass through the full gate. Everything else
// short-circuits to allowed/ungated.
var gatedDomains = map[string]struct{}{
	"experience.write":   {},
	"world.write":        {},
	"transfer.write":     {},
	"canon.promote":      {},
	"economy.distribute": {},
	"macro.register":     {},
	"scheduler.modify":   {},
}

// Denial reasons.
const (
	ReasonNoActor       = "no_actor"
	ReasonRole          = "role_not_permitted"
	ReasonScope         = "scope_not_granted"
	ReasonNotSupermajor = "supermajority_not_met"
	ReasonUnknownRule   = "unknown_rule"
)

// CheckOpts modifies a gate check.
type CheckOpts struct {
	// Override lets a verified owner force an allow.
	Override bool
	// Internal marks a system-internal call path.
	Internal bool
}

// Decision is a gate verdict.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Gated   bool           `json:"gated"`
	Reason  string         `json:"reason,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Gate is the mutation gate.
type Gate struct {
	metrics *metrics.Metrics
}

// NewGate builds a Gate.
func NewGate(m *metrics.Metrics) *Gate {
	if m == nil {
		m = metrics.Nop()
	}
	return &Gate{metrics: m}
}

// Check evaluates whether the actor may perform action in domain.
// Fail-closed: every path that is not an explicit allow is a deny.
func (g *Gate) Check(actor *types.Actor, domain, action string, opts CheckOpts) Decision {
	if _, gated := gatedDomains[domain]; !gated {
		return Decision{Allowed: true, Gated: false}
	}

	deny := func(reason string) Decision {
		g.metrics.GateDenials.WithLabelValues(reason).Inc()
		logging.Get(logging.CategoryGovernance).Sugar().Debugw("gate denied",
			"domain", domain, "action", action, "reason", reason)
		return Decision{Allowed: false, Gated: true, Reason: reason}
	}

	if actor == nil {
		return deny(ReasonNoActor)
	}

	// Internal system path: system, owner, or founder actors on internal calls.
	if opts.Internal {
		switch actor.Role {
		case types.RoleSystem, types.RoleOwner, types.RoleFounder:
			return Decision{Allowed: true, Gated: true, Meta: map[string]any{"internal": true}}
		}
	}

	// Verified owner override.
	if opts.Override && actor.Role == types.RoleOwner && actor.Verified {
		return Decision{Allowed: true, Gated: true, Meta: map[string]any{"override": true}}
	}

	if !actor.Privileged() {
		return deny(ReasonRole)
	}
	if !actor.HasScope(domain) {
		return deny(ReasonScope)
	}
	return Decision{Allowed: true, Gated: true}
}

// ErrDenied wraps a gate denial for callers that want an error.
type ErrDenied struct {
	Domain string
	Reason string
}

func (e *ErrDenied) Error() string {
	return fmt.Sprintf("governance: %s denied: %s", e.Domain, e.Reason)
}

// MandatoryMutationGate is Check for call sites that must not proceed on a
// deny. Returns nil only when the mutation is allowed.
func (g *Gate) MandatoryMutationGate(actor *types.Actor, domain, action string, opts CheckOpts) error {
	d := g.Check(actor, domain, action, opts)
	if !d.Allowed {
		return &ErrDenied{Domain: domain, Reason: d.Reason}
	}
	return nil
}
