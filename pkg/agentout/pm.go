package agentout

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// SubtaskPlan is one planned sub-task inside a PMPlan.
type SubtaskPlan struct {
	Title               string
	Description         string
	AcceptanceCriteria  []string
	EstimatedComplexity string
	// DependsOn holds indices of earlier sub-tasks in the same plan.
	DependsOn []int
}

// PMPlan is the decomposition the PM emits for a campaign.
type PMPlan struct {
	Analysis string
	Subtasks []SubtaskPlan
}

// ParsePM extracts the structured plan from PM output. Sub-tasks without a
// title or description are skipped; dependency indices may only point at
// earlier sub-tasks, anything else is dropped.
func ParsePM(output string) (*PMPlan, error) {
	payload, ok := extractFencedJSON(output)
	if !ok {
		payload, ok = extractObjectWith(output, "subtasks")
	}
	if !ok {
		return nil, fmt.Errorf("PM plan: %w", ErrNoJSON)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("decoding PM plan: %w", err)
	}

	rawSubtasks, ok := data["subtasks"].([]any)
	if !ok || len(rawSubtasks) == 0 {
		return nil, fmt.Errorf("%w: plan has no subtasks", ErrInvalidPayload)
	}

	var subtasks []SubtaskPlan
	for i, raw := range rawSubtasks {
		st, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title := stringField(st, "title")
		description := stringField(st, "description")
		if title == "" || description == "" {
			slog.Warn("Skipping sub-task without title or description", "index", i)
			continue
		}
		subtasks = append(subtasks, SubtaskPlan{
			Title:               title,
			Description:         description,
			AcceptanceCriteria:  stringsField(st, "acceptance_criteria"),
			EstimatedComplexity: stringFieldOr(st, "estimated_complexity", "medium"),
			DependsOn:           earlierIndices(st["depends_on"], i),
		})
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("%w: no valid subtasks in plan", ErrInvalidPayload)
	}

	return &PMPlan{
		Analysis: stringField(data, "analysis"),
		Subtasks: subtasks,
	}, nil
}

// earlierIndices keeps the integers in v that index a sub-task before
// position i; forward and self references would deadlock dispatch.
func earlierIndices(v any, i int) []int {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			continue
		}
		n := int(f)
		if float64(n) == f && n >= 0 && n < i {
			out = append(out, n)
		}
	}
	return out
}
