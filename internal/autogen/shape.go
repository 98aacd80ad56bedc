package autogen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"concord/internal/llm"
	"concord/internal/logging"
	"concord/internal/types"
)

// shapedClaim is the JSON shape the LLM is asked to return per claim.
type shapedClaim struct {
	Text       string   `json:"text"`
	Kind       string   `json:"kind"` // fact | inference | hypothesis
	Support    []string `json:"support"`
	Confidence float64  `json:"confidence"`
}

type shapedOutput struct {
	Title  string        `json:"title"`
	Claims []shapedClaim `json:"claims"`
}

// downgradedConfidence caps a claim whose entire support was invalid.
const downgradedConfidence = 0.4

// buildShapePrompt asks for strict JSON and pins the allowed source ids.
func buildShapePrompt(c *Candidate, allowed []string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following knowledge candidate as strict JSON ")
	b.WriteString(`{"title":string,"claims":[{"text":string,"kind":"fact|inference|hypothesis","support":[ids],"confidence":number}]}.` + "\n")
	b.WriteString("Only the following source ids may appear in support arrays: ")
	b.WriteString(strings.Join(allowed, ", "))
	b.WriteString("\n\nCandidate:\n")
	data, _ := json.Marshal(c.DTU)
	b.Write(data)
	return b.String()
}

// Shape runs the optional LLM pass. The model is untrusted: output must
// parse as JSON and support ids must be a subset of the allowed set. Invalid
// support ids are stripped; a claim whose entire support was invalid is
// downgraded to hypothesis with capped confidence. Every failure is
// non-fatal and recorded in the trace.
func Shape(ctx context.Context, client llm.Client, c *Candidate, allowed []string) (shaped bool, trace []string) {
	if client == nil {
		return false, []string{"shape: no llm client, skipped"}
	}

	resp, err := client.Call(ctx, buildShapePrompt(c, allowed), llm.CallOpts{Temperature: 0.2})
	if err != nil || !resp.OK {
		return false, []string{fmt.Sprintf("shape: llm call failed: %v", err)}
	}

	var out shapedOutput
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &out); err != nil {
		return false, []string{fmt.Sprintf("shape: output not valid json: %v", err)}
	}
	if len(out.Claims) == 0 {
		return false, []string{"shape: output carried no claims, discarded"}
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}

	claims := make([]types.Claim, 0, len(out.Claims))
	for _, sc := range out.Claims {
		valid := make([]string, 0, len(sc.Support))
		stripped := 0
		for _, id := range sc.Support {
			if _, ok := allowedSet[id]; ok {
				valid = append(valid, id)
			} else {
				stripped++
			}
		}
		if stripped > 0 {
			trace = append(trace, fmt.Sprintf("shape: stripped %d invalid support ids", stripped))
		}

		claim := types.Claim{
			Text:         sc.Text,
			Support:      valid,
			Confidence:   sc.Confidence,
			EvidenceTier: types.TierUnsourced,
		}
		switch sc.Kind {
		case "fact":
			claim.Type = types.ClaimFact
			claim.EvidenceTier = types.TierSupported
		case "inference":
			claim.Type = types.ClaimInterpretation
		default:
			claim.Type = types.ClaimHypothesis
		}

		// A claim the model could not ground in allowed sources is demoted:
		// never promote on LLM attestation alone.
		if len(valid) == 0 && len(sc.Support) > 0 {
			claim.Type = types.ClaimHypothesis
			if claim.Confidence > downgradedConfidence {
				claim.Confidence = downgradedConfidence
			}
			trace = append(trace, "shape: claim downgraded to hypothesis, support fully invalid")
		}
		claims = append(claims, claim)
	}

	if out.Title != "" {
		c.DTU.Title = out.Title
	}
	c.DTU.Claims = claims
	c.DTU.Meta.OllamaShaped = true
	trace = append(trace, fmt.Sprintf("shape: applied via %s", client.Name()))
	logging.Get(logging.CategoryAutogen).Sugar().Debugw("shaped", "claims", len(claims))
	return true, trace
}

// extractJSON tolerates models that wrap JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
