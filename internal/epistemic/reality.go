package epistemic

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// REALITY KERNEL - UNIT, DIMENSION, AND BOUND CHECKS
// =============================================================================

// allowedUnits is the unit token allow-list: SI base units, common derived
// units, and a handful of accepted compounds. User-defined units pass with
// the "custom:" prefix.
var allowedUnits = map[string]struct{}{
	// SI base
	"m": {}, "kg": {}, "s": {}, "A": {}, "K": {}, "mol": {}, "cd": {},
	// common derived
	"N": {}, "J": {}, "W": {}, "Pa": {}, "Hz": {}, "V": {}, "C": {},
	"ohm": {}, "T": {}, "lm": {}, "lx": {}, "Bq": {},
	// accepted compounds
	"m/s": {}, "m/s^2": {}, "m/s²": {}, "kg/m^3": {}, "J/K": {}, "N*m": {},
}

// CustomUnitPrefix marks user-defined unit tokens.
const CustomUnitPrefix = "custom:"

// ValidUnit reports whether a unit token is acceptable.
func ValidUnit(unit string) bool {
	if unit == "" {
		return false
	}
	if strings.HasPrefix(unit, CustomUnitPrefix) {
		return len(unit) > len(CustomUnitPrefix)
	}
	_, ok := allowedUnits[unit]
	return ok
}

// Quantity is a value with a unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Operation combines quantities. Add and subtract require identical units;
// multiply and divide combine units symbolically.
type Operation struct {
	Op       string     `json:"op"` // "add" | "subtract" | "multiply" | "divide"
	Operands []Quantity `json:"operands"`
}

// Bound constrains a named variable.
type Bound struct {
	Variable string  `json:"variable"`
	Relation string  `json:"relation"` // ">", ">=", "<", "<=", "="
	Value    float64 `json:"value"`
}

// RealityInput is everything the reality check inspects for one candidate.
type RealityInput struct {
	Units      []string    `json:"units,omitempty"`
	Operations []Operation `json:"operations,omitempty"`
	Bounds     []Bound     `json:"bounds,omitempty"`
	// HardContradiction is set by the caller when the candidate contradicts
	// a hard-kernel item; it forces an auto-opened dispute.
	HardContradiction bool `json:"hard_contradiction,omitempty"`
}

// RealityResult reports violations. Any violation blocks promotion; a hard
// kernel contradiction additionally auto-opens a dispute.
type RealityResult struct {
	Valid           bool     `json:"valid"`
	Violations      []string `json:"violations,omitempty"`
	BlockPromotion  bool     `json:"block_promotion"`
	AutoOpenDispute bool     `json:"auto_open_dispute"`
	ResultUnits     []string `json:"result_units,omitempty"`
}

// RealityCheck validates units, dimensional consistency, and bound
// consistency.
func RealityCheck(in RealityInput) RealityResult {
	var res RealityResult

	for _, u := range in.Units {
		if !ValidUnit(u) {
			res.Violations = append(res.Violations, fmt.Sprintf("unknown unit %q", u))
		}
	}

	for _, op := range in.Operations {
		unit, violation := combineUnits(op)
		if violation != "" {
			res.Violations = append(res.Violations, violation)
			continue
		}
		res.ResultUnits = append(res.ResultUnits, unit)
	}

	res.Violations = append(res.Violations, checkBounds(in.Bounds)...)

	res.Valid = len(res.Violations) == 0
	res.BlockPromotion = !res.Valid || in.HardContradiction
	res.AutoOpenDispute = in.HardContradiction
	return res
}

func combineUnits(op Operation) (unit, violation string) {
	if len(op.Operands) == 0 {
		return "", fmt.Sprintf("operation %q has no operands", op.Op)
	}
	for _, q := range op.Operands {
		if !ValidUnit(q.Unit) {
			return "", fmt.Sprintf("operation %q on unknown unit %q", op.Op, q.Unit)
		}
	}

	switch op.Op {
	case "add", "subtract":
		first := op.Operands[0].Unit
		for _, q := range op.Operands[1:] {
			if q.Unit != first {
				return "", fmt.Sprintf("%s of %q and %q: units must match", op.Op, first, q.Unit)
			}
		}
		return first, ""
	case "multiply":
		parts := make([]string, len(op.Operands))
		for i, q := range op.Operands {
			parts[i] = q.Unit
		}
		return strings.Join(parts, "*"), ""
	case "divide":
		parts := make([]string, len(op.Operands))
		for i, q := range op.Operands {
			parts[i] = q.Unit
		}
		return strings.Join(parts, "/"), ""
	default:
		return "", fmt.Sprintf("unknown operation %q", op.Op)
	}
}

// checkBounds flags contradictory constraints on the same variable.
func checkBounds(bounds []Bound) []string {
	type span struct {
		lo, hi         float64
		loSet, hiSet   bool
		loOpen, hiOpen bool // strict inequality
	}
	spans := make(map[string]*span)
	var names []string

	get := func(v string) *span {
		sp, ok := spans[v]
		if !ok {
			sp = &span{}
			spans[v] = sp
			names = append(names, v)
		}
		return sp
	}

	for _, b := range bounds {
		sp := get(b.Variable)
		switch b.Relation {
		case ">", ">=":
			if !sp.loSet || b.Value > sp.lo {
				sp.lo, sp.loSet, sp.loOpen = b.Value, true, b.Relation == ">"
			}
		case "<", "<=":
			if !sp.hiSet || b.Value < sp.hi {
				sp.hi, sp.hiSet, sp.hiOpen = b.Value, true, b.Relation == "<"
			}
		case "=":
			// An equality tightens both sides; conflicting equalities
			// collapse into lo > hi below.
			v := b.Value
			if !sp.loSet || v > sp.lo {
				sp.lo, sp.loSet, sp.loOpen = v, true, false
			}
			if !sp.hiSet || v < sp.hi {
				sp.hi, sp.hiSet, sp.hiOpen = v, true, false
			}
		}
	}

	sort.Strings(names)
	var out []string
	for _, name := range names {
		sp := spans[name]
		if !sp.loSet || !sp.hiSet {
			continue
		}
		if sp.lo > sp.hi || (sp.lo == sp.hi && (sp.loOpen || sp.hiOpen)) {
			out = append(out, fmt.Sprintf("contradictory bounds on %q: lower %v vs upper %v", name, sp.lo, sp.hi))
		}
	}
	return out
}
