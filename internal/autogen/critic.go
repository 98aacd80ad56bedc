package autogen

import (
	"strings"

	"concord/internal/textsim"
	"concord/internal/types"
)

// IssueSeverity grades a critic finding.
type IssueSeverity string

const (
	SeverityWarn     IssueSeverity = "warn"
	SeverityCritical IssueSeverity = "critical"
)

// CriticIssue is one rule-based finding.
type CriticIssue struct {
	Rule     string        `json:"rule"`
	Severity IssueSeverity `json:"severity"`
	Detail   string        `json:"detail,omitempty"`
}

// CriticReport is the critic stage output.
type CriticReport struct {
	Issues          []CriticIssue `json:"issues"`
	NeedsEscalation bool          `json:"needs_escalation"`
}

// HasCritical reports whether any issue is critical.
func (r CriticReport) HasCritical() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// hypotheticalCeiling: past this share of hypothesis claims the candidate is
// too speculative to surface.
const hypotheticalCeiling = 0.7

// Critique runs the rule-based checks over a built candidate.
func Critique(c *Candidate, conflictPairs int) CriticReport {
	var report CriticReport
	add := func(rule string, sev IssueSeverity, detail string) {
		report.Issues = append(report.Issues, CriticIssue{Rule: rule, Severity: sev, Detail: detail})
	}

	// no_definitions: warn when nothing in the candidate defines its subject.
	hasDefinition := false
	for _, cl := range c.DTU.Claims {
		lower := strings.ToLower(cl.Text)
		if strings.Contains(lower, " is ") || strings.Contains(lower, " means ") || strings.Contains(lower, " defined ") {
			hasDefinition = true
			break
		}
	}
	if !hasDefinition {
		add("no_definitions", SeverityWarn, "no defining claim present")
	}

	// no_evidence_links: critical when no claim carries support.
	supported := false
	for _, cl := range c.DTU.Claims {
		if len(cl.Support) > 0 || len(cl.Sources) > 0 {
			supported = true
			break
		}
	}
	if !supported {
		add("no_evidence_links", SeverityCritical, "no claim links back to a source DTU")
	}

	// mostly_hypothetical: critical past the ceiling.
	if len(c.DTU.Claims) > 0 {
		hyp := 0
		for _, cl := range c.DTU.Claims {
			if cl.Type == types.ClaimHypothesis {
				hyp++
			}
		}
		if share := float64(hyp) / float64(len(c.DTU.Claims)); share > hypotheticalCeiling {
			add("mostly_hypothetical", SeverityCritical, "hypothesis share above ceiling")
		}
	}

	// conflicts_not_acknowledged: warn when the pack carried conflicts the
	// candidate never mentions.
	if conflictPairs > 0 {
		acknowledged := false
		for _, cl := range c.DTU.Claims {
			lower := strings.ToLower(cl.Text)
			if strings.Contains(lower, "conflict") || strings.Contains(lower, "contradict") || strings.Contains(lower, "dispute") {
				acknowledged = true
				break
			}
		}
		if !acknowledged {
			add("conflicts_not_acknowledged", SeverityWarn, "pack contains unacknowledged conflicts")
		}
	}

	// internal_inconsistency: critical when two claims contradict each other.
	for i := 0; i < len(c.DTU.Claims); i++ {
		for j := i + 1; j < len(c.DTU.Claims); j++ {
			a, b := c.DTU.Claims[i].Text, c.DTU.Claims[j].Text
			if textsim.HasNegation(a) != textsim.HasNegation(b) && textsim.SubjectOverlap(a, b) >= 0.3 {
				add("internal_inconsistency", SeverityCritical, "claims contradict each other")
				i = len(c.DTU.Claims) // one finding is enough
				break
			}
		}
	}

	report.NeedsEscalation = report.HasCritical()
	return report
}
