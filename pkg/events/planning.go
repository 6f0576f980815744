package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/legatus-hq/legatus/pkg/agentout"
	"github.com/legatus-hq/legatus/pkg/models"
)

// onPMComplete turns the PM's decomposition into sub-tasks and asks the
// user to approve the plan. An unusable plan fails the campaign: nothing
// was dispatched yet, so there is nothing to salvage.
func (r *Reactor) onPMComplete(ctx context.Context, parent *models.Task, output string) {
	plan, err := agentout.ParsePM(output)
	if err != nil {
		slog.Error("PM output unusable", "task_id", parent.ID, "error", err)
		if _, ferr := r.taskSvc.FailTask(ctx, parent.ID,
			"PM agent failed to produce a valid decomposition plan"); ferr != nil {
			slog.Error("Failed to reject campaign after PM failure",
				"task_id", parent.ID, "error", ferr)
		}
		return
	}

	// Keep the raw output on the campaign before any child write can fail.
	parent.SetAgentOutput("pm", output)
	if err := r.tasks.Update(ctx, parent); err != nil {
		slog.Error("Failed to store PM output", "task_id", parent.ID, "error", err)
	}

	childIDs, err := r.createSubtasks(ctx, parent, plan.Subtasks, "pm_agent", "planned by PM")
	if err != nil {
		slog.Error("Failed to create sub-tasks", "task_id", parent.ID, "error", err)
		if _, ferr := r.taskSvc.FailTask(ctx, parent.ID,
			"failed to persist decomposition plan"); ferr != nil {
			slog.Error("Failed to reject campaign after sub-task creation failure",
				"task_id", parent.ID, "error", ferr)
		}
		return
	}

	parent.SubtaskIDs = childIDs
	if err := r.tasks.Update(ctx, parent); err != nil {
		slog.Error("Failed to record sub-task IDs", "task_id", parent.ID, "error", err)
	}
	slog.Info("PM decomposed campaign",
		"task_id", parent.ID, "subtasks", len(childIDs))

	if _, err := r.checkpoints.Create(ctx, parent.ID,
		"Approve plan: "+parent.Title, planSummary(parent, plan), models.SourcePM); err != nil {
		slog.Error("Failed to create plan checkpoint",
			"task_id", parent.ID, "error", err)
	}
}

// onArchitectComplete stores the design review, applies a refined
// decomposition when the architect produced one, and asks the user to
// approve the design. Unparseable output is kept raw; the human decides.
func (r *Reactor) onArchitectComplete(ctx context.Context, parent *models.Task, output string) {
	parent.SetAgentOutput("architect", output)
	if err := r.tasks.Update(ctx, parent); err != nil {
		slog.Error("Failed to store architect output",
			"task_id", parent.ID, "error", err)
	}

	plan, err := agentout.ParseArchitect(output)
	if err != nil {
		slog.Warn("Architect output not parseable, raw output kept",
			"task_id", parent.ID, "error", err)
	}

	if plan != nil && len(plan.RefinedSubtasks) > 0 {
		r.applyRefinedPlan(ctx, parent, plan.RefinedSubtasks)
	}

	if _, err := r.checkpoints.Create(ctx, parent.ID,
		"Approve design: "+parent.Title, designSummary(parent, plan), models.SourceArchitect); err != nil {
		slog.Error("Failed to create design checkpoint",
			"task_id", parent.ID, "error", err)
	}
}

// applyRefinedPlan replaces the PM's sub-tasks with the architect's. The
// superseded children are retired to REJECTED; the refined ones are chained
// sequentially because the refined shape carries no dependency data.
func (r *Reactor) applyRefinedPlan(ctx context.Context, parent *models.Task, refined []agentout.SubtaskPlan) {
	slog.Info("Architect refined the decomposition",
		"task_id", parent.ID, "subtasks", len(refined))

	if err := r.dispatcher.RetireSubtasks(ctx, parent.ID,
		"plan refined", "superseded by architect refinement"); err != nil {
		slog.Error("Failed to retire superseded sub-tasks",
			"task_id", parent.ID, "error", err)
		return
	}

	for i := range refined {
		if i > 0 {
			refined[i].DependsOn = []int{i - 1}
		}
	}

	childIDs, err := r.createSubtasks(ctx, parent, refined,
		"architect_agent", "planned by architect refinement")
	if err != nil {
		slog.Error("Failed to create refined sub-tasks",
			"task_id", parent.ID, "error", err)
		return
	}
	parent.SubtaskIDs = childIDs
	if err := r.tasks.Update(ctx, parent); err != nil {
		slog.Error("Failed to record refined sub-tasks",
			"task_id", parent.ID, "error", err)
	}
}

// createSubtasks persists one child per sub-task plan, PLANNED and ready
// for dispatch. In parallel mode plan dependency indices become task ID
// dependencies; in sequential mode children are chained in plan order.
func (r *Reactor) createSubtasks(ctx context.Context, parent *models.Task, plans []agentout.SubtaskPlan, createdBy, plannedDetail string) ([]string, error) {
	ids := make([]string, 0, len(plans))
	for i, sp := range plans {
		child := models.NewTask(sp.Title, sp.Description)
		child.Type = parent.Type
		child.Priority = parent.Priority
		child.Project = parent.Project
		child.ParentID = parent.ID
		child.Prompt = sp.Description
		child.AcceptanceCriteria = sp.AcceptanceCriteria
		child.CreatedBy = createdBy
		child.RecordEvent("created", createdBy,
			fmt.Sprintf("sub-task %d/%d", i+1, len(plans)))

		if r.parallelEnabled() {
			for _, idx := range sp.DependsOn {
				if idx >= 0 && idx < len(ids) {
					child.DependsOn = append(child.DependsOn, ids[idx])
				}
			}
		} else if i > 0 {
			child.DependsOn = []string{ids[i-1]}
		}

		if err := r.tasks.Create(ctx, child); err != nil {
			return ids, fmt.Errorf("failed to create sub-task %d/%d: %w", i+1, len(plans), err)
		}
		if _, err := r.tasks.UpdateStatus(ctx, child.ID, models.TaskStatusPlanned, createdBy, plannedDetail); err != nil {
			return ids, fmt.Errorf("failed to plan sub-task %s: %w", child.ID, err)
		}
		ids = append(ids, child.ID)
	}
	return ids, nil
}

// planSummary renders the PM's decomposition for the plan checkpoint.
func planSummary(parent *models.Task, plan *agentout.PMPlan) string {
	lines := []string{
		fmt.Sprintf("PM decomposed '%s' into %d sub-tasks:", parent.Title, len(plan.Subtasks)),
		"",
	}
	if plan.Analysis != "" {
		lines = append(lines, "**Analysis**: "+plan.Analysis, "")
	}
	for i, st := range plan.Subtasks {
		lines = append(lines, fmt.Sprintf("%d. **%s** (%s)", i+1, st.Title, st.EstimatedComplexity))
		lines = append(lines, "   "+clip(st.Description, 200))
		for _, ac := range st.AcceptanceCriteria {
			lines = append(lines, "   - "+ac)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// designSummary renders the architect's review for the design checkpoint.
// A nil plan means the output did not parse; the raw text stays on the task.
func designSummary(parent *models.Task, plan *agentout.ArchitectPlan) string {
	lines := []string{
		fmt.Sprintf("Architect reviewed '%s':", parent.Title),
		"",
	}

	if plan == nil {
		lines = append(lines,
			"*(Architect output could not be parsed as structured JSON. Raw output stored on task.)*",
			"")
		return strings.Join(lines, "\n")
	}

	if len(plan.Decisions) > 0 {
		lines = append(lines, "**Design Decisions:**")
		for _, d := range plan.Decisions {
			title := stringOr(d, "title", "Untitled")
			rationale := stringOr(d, "rationale", "")
			lines = append(lines, fmt.Sprintf("- **%s**: %s", title, clip(rationale, 200)))
		}
		lines = append(lines, "")
	}

	if len(plan.Interfaces) > 0 {
		lines = append(lines, "**Interfaces:**")
		for _, iface := range plan.Interfaces {
			module := stringOr(iface, "module", "?")
			defn := stringOr(iface, "definition", "")
			lines = append(lines, fmt.Sprintf("- **%s**: %s", module, clip(defn, 200)))
		}
		lines = append(lines, "")
	}

	if len(plan.Concerns) > 0 {
		lines = append(lines, "**Concerns:**")
		for _, c := range plan.Concerns {
			lines = append(lines, "- "+c)
		}
		lines = append(lines, "")
	}

	if len(plan.RefinedSubtasks) > 0 {
		lines = append(lines, fmt.Sprintf(
			"**Refined Plan** (replaces the original decomposition with %d sub-tasks):",
			len(plan.RefinedSubtasks)))
		for i, st := range plan.RefinedSubtasks {
			lines = append(lines, fmt.Sprintf("%d. **%s** (%s)", i+1, st.Title, st.EstimatedComplexity))
		}
		lines = append(lines, "")
	}

	if plan.DesignNotes != "" {
		lines = append(lines, "**Notes:**", clip(plan.DesignNotes, 500), "")
	}

	return strings.Join(lines, "\n")
}

// stringOr reads a string field from a loosely-typed map with a default.
func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
