package agentout

import (
	"encoding/json"
	"fmt"
)

// VerdictAccept signs a campaign off; anything else sends it back for
// rework.
const VerdictAccept = "accept"

// AcceptanceResult is the PM's final check of a finished campaign against
// its acceptance criteria.
type AcceptanceResult struct {
	Verdict         string           `json:"verdict"`
	Summary         string           `json:"summary"`
	CriteriaResults []map[string]any `json:"criteria_results"`
	Feedback        string           `json:"feedback"`
}

// Accepted reports whether the PM signed the campaign off.
func (a *AcceptanceResult) Accepted() bool {
	return a.Verdict == VerdictAccept
}

// ParsePMAcceptance extracts the acceptance review from PM output. Unlike
// the planning parser this one is strict about field types but forgiving
// about presence: a fenced payload without a verdict defaults to accept.
func ParsePMAcceptance(output string) (*AcceptanceResult, error) {
	if payload, ok := extractFencedJSON(output); ok {
		if result := decodeAcceptance([]byte(payload), false); result != nil {
			return result, nil
		}
	}
	for _, candidate := range flatObjects(output) {
		if result := decodeAcceptance([]byte(candidate), true); result != nil {
			return result, nil
		}
	}
	return nil, fmt.Errorf("acceptance review: %w", ErrNoJSON)
}

func decodeAcceptance(payload []byte, requireVerdict bool) *AcceptanceResult {
	if requireVerdict {
		var probe map[string]any
		if err := json.Unmarshal(payload, &probe); err != nil {
			return nil
		}
		if _, ok := probe["verdict"]; !ok {
			return nil
		}
	}
	result := AcceptanceResult{Verdict: VerdictAccept}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil
	}
	return &result
}
