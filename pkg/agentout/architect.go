package agentout

import (
	"encoding/json"
	"fmt"
)

// ArchitectPlan is the design review the architect emits before dev agents
// start. Decisions carry "title"/"rationale" keys, interfaces
// "module"/"definition"; both stay loosely typed because the fields are
// advisory prose, not contracts. RefinedSubtasks, when non-empty, is a
// replacement decomposition that overrides the PM's.
type ArchitectPlan struct {
	Decisions       []map[string]any
	Interfaces      []map[string]any
	Concerns        []string
	DesignNotes     string
	RefinedSubtasks []SubtaskPlan
}

// ParseArchitect extracts the structured design from architect output. An
// output with no decisions, no interfaces and no design notes is treated as
// unparseable.
func ParseArchitect(output string) (*ArchitectPlan, error) {
	payload, ok := extractFencedJSON(output)
	if !ok {
		payload, ok = extractObjectWith(output, "decisions")
	}
	if !ok {
		return nil, fmt.Errorf("architect design: %w", ErrNoJSON)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("decoding architect design: %w", err)
	}

	plan := &ArchitectPlan{
		Decisions:       mapsField(data, "decisions"),
		Interfaces:      mapsField(data, "interfaces"),
		Concerns:        stringsField(data, "concerns"),
		DesignNotes:     stringField(data, "design_notes"),
		RefinedSubtasks: refinedSubtasks(data["refined_subtasks"]),
	}
	if len(plan.Decisions) == 0 && len(plan.Interfaces) == 0 && plan.DesignNotes == "" {
		return nil, fmt.Errorf("%w: design has no decisions, interfaces, or notes", ErrInvalidPayload)
	}
	return plan, nil
}

// refinedSubtasks decodes the architect's optional replacement
// decomposition. Entries follow the PM sub-task shape minus depends_on;
// invalid entries are dropped like ParsePM drops them.
func refinedSubtasks(v any) []SubtaskPlan {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []SubtaskPlan
	for _, item := range raw {
		st, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := stringField(st, "title")
		description := stringField(st, "description")
		if title == "" || description == "" {
			continue
		}
		out = append(out, SubtaskPlan{
			Title:               title,
			Description:         description,
			AcceptanceCriteria:  stringsField(st, "acceptance_criteria"),
			EstimatedComplexity: stringFieldOr(st, "estimated_complexity", "medium"),
		})
	}
	return out
}
