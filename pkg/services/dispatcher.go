package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/legatus-hq/legatus/pkg/agentout"
	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/gitops"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/spawner"
	"github.com/legatus-hq/legatus/pkg/store"
)

// defaultWorktreeBase is used when the dispatcher runs without settings.
const defaultWorktreeBase = "/workspace-worktrees"

// guidanceHeader opens the architect appendix on sub-task descriptions.
// Injection keys on it to stay idempotent across retries.
const guidanceHeader = "\n\n## Architecture Guidance"

// SubtaskOutcome classifies a campaign after one of its sub-tasks
// finished.
type SubtaskOutcome string

const (
	// OutcomeNone means the campaign continues: more work was dispatched
	// or is still running.
	OutcomeNone SubtaskOutcome = ""
	// OutcomeAllDone means every sub-task is finished; the caller decides
	// how to complete the parent.
	OutcomeAllDone SubtaskOutcome = "all_done"
	// OutcomeFailed means the campaign failed; the parent has been marked
	// REJECTED.
	OutcomeFailed SubtaskOutcome = "failed"
)

// runningStatuses are sub-task states that count as in-flight when a
// campaign is re-evaluated.
var runningStatuses = map[models.TaskStatus]bool{
	models.TaskStatusActive:  true,
	models.TaskStatusReview:  true,
	models.TaskStatusTesting: true,
}

// Dispatcher turns planned sub-tasks into running dev agents. Sequential
// mode mutates the shared workspace in place, one agent at a time;
// parallel mode gives every ready sub-task its own branch and worktree.
type Dispatcher struct {
	tasks    *store.TaskStore
	state    *store.StateStore
	spawner  spawner.Spawner
	git      gitops.Operator
	settings *config.Settings
}

// NewDispatcher creates a Dispatcher. git may be nil when parallel mode is
// never enabled.
func NewDispatcher(tasks *store.TaskStore, state *store.StateStore, sp spawner.Spawner, git gitops.Operator, settings *config.Settings) *Dispatcher {
	return &Dispatcher{tasks: tasks, state: state, spawner: sp, git: git, settings: settings}
}

func (d *Dispatcher) parallelEnabled() bool {
	return d.settings != nil && d.settings.Agent.ParallelEnabled
}

func (d *Dispatcher) worktreeBase() string {
	if d.settings != nil && d.settings.Agent.WorktreeBase != "" {
		return d.settings.Agent.WorktreeBase
	}
	return defaultWorktreeBase
}

// paused reports whether dispatch is suspended system-wide. Store errors
// fail open so a flaky flag read cannot stall campaigns.
func (d *Dispatcher) paused(ctx context.Context) bool {
	paused, err := d.state.IsPaused(ctx)
	if err != nil {
		slog.Warn("Could not read paused flag, dispatching anyway", "error", err)
		return false
	}
	return paused
}

// DispatchNext dispatches the first PLANNED sub-task of a parent whose
// dependencies are all DONE. Returns true when an agent was spawned.
func (d *Dispatcher) DispatchNext(ctx context.Context, parentID string) (bool, error) {
	if d.paused(ctx) {
		slog.Info("Dispatch paused, skipping", "parent_id", parentID)
		return false, nil
	}

	parent, err := d.tasks.Get(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Error("Parent task not found", "parent_id", parentID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, childID := range parent.SubtaskIDs {
		child, err := d.readyChild(ctx, childID)
		if err != nil {
			return false, err
		}
		if child == nil {
			continue
		}

		if err := d.injectGuidance(ctx, parent, child); err != nil {
			return false, err
		}

		agent, err := d.spawner.SpawnAgent(ctx, child, models.AgentRoleDev)
		if err != nil {
			slog.Error("Failed to spawn dev agent for sub-task",
				"task_id", childID, "error", err)
			d.rejectChild(ctx, childID, fmt.Sprintf("spawn failed: %v", err))
			continue
		}
		if err := d.recordDispatch(ctx, child.ID, agent, "agent="+agent.ID); err != nil {
			return false, err
		}
		slog.Info("Dispatched sub-task",
			"task_id", childID, "title", child.Title, "agent_id", agent.ID)
		return true, nil
	}
	return false, nil
}

// DispatchAllReady dispatches every PLANNED sub-task of a parent whose
// dependencies are satisfied, each into its own worktree on a fresh
// branch. Returns the number of agents spawned.
func (d *Dispatcher) DispatchAllReady(ctx context.Context, parentID string) (int, error) {
	if d.paused(ctx) {
		slog.Info("Dispatch paused, skipping", "parent_id", parentID)
		return 0, nil
	}

	parent, err := d.tasks.Get(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Error("Parent task not found", "parent_id", parentID)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, childID := range parent.SubtaskIDs {
		child, err := d.readyChild(ctx, childID)
		if err != nil {
			return dispatched, err
		}
		if child == nil {
			continue
		}

		if err := d.injectGuidance(ctx, parent, child); err != nil {
			return dispatched, err
		}

		branch := fmt.Sprintf("%s/task-%s", child.BranchPrefix(), child.ID)
		worktreePath := path.Join(d.worktreeBase(), "task-"+child.ID)
		if d.git != nil {
			if err := d.git.CreateWorktree(ctx, worktreePath, branch); err != nil {
				slog.Error("Failed to create worktree for sub-task",
					"task_id", childID, "path", worktreePath, "error", err)
				d.rejectChild(ctx, childID, fmt.Sprintf("worktree failed: %v", err))
				continue
			}
		}

		// Record the branch before spawning so the spawner mounts the
		// worktree instead of the main workspace.
		child.BranchName = branch
		if err := d.tasks.Update(ctx, child); err != nil {
			return dispatched, err
		}

		agent, err := d.spawner.SpawnAgent(ctx, child, models.AgentRoleDev)
		if err != nil {
			slog.Error("Failed to spawn dev agent for sub-task",
				"task_id", childID, "error", err)
			if d.git != nil {
				if rerr := d.git.RemoveWorktree(ctx, worktreePath); rerr != nil {
					slog.Warn("Failed to remove worktree after spawn failure",
						"path", worktreePath, "error", rerr)
				}
				if derr := d.git.DeleteBranch(ctx, branch); derr != nil {
					slog.Warn("Failed to delete branch after spawn failure",
						"branch", branch, "error", derr)
				}
			}
			d.rejectChild(ctx, childID, fmt.Sprintf("spawn failed: %v", err))
			continue
		}
		if err := d.recordDispatch(ctx, child.ID, agent, "agent="+agent.ID); err != nil {
			return dispatched, err
		}
		slog.Info("Dispatched sub-task",
			"task_id", childID, "title", child.Title, "agent_id", agent.ID, "branch", branch)
		dispatched++
	}
	return dispatched, nil
}

// DispatchSingle re-dispatches one task to a dev agent, used for reviewer
// and QA retries. The task must be PLANNED; an existing branch means the
// worktree survives from the first attempt and is mounted again. Returns
// true when the agent was spawned.
func (d *Dispatcher) DispatchSingle(ctx context.Context, task *models.Task) (bool, error) {
	if d.paused(ctx) {
		slog.Info("Dispatch paused, skipping retry", "task_id", task.ID)
		return false, nil
	}

	if task.ParentID != "" {
		parent, err := d.tasks.Get(ctx, task.ParentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if parent != nil {
			if err := d.injectGuidance(ctx, parent, task); err != nil {
				return false, err
			}
		}
	}

	agent, err := d.spawner.SpawnAgent(ctx, task, models.AgentRoleDev)
	if err != nil {
		slog.Error("Failed to spawn dev agent for retry",
			"task_id", task.ID, "error", err)
		return false, nil
	}
	if err := d.recordDispatch(ctx, task.ID, agent, "retry agent="+agent.ID); err != nil {
		return false, err
	}
	slog.Info("Re-dispatched task",
		"task_id", task.ID, "title", task.Title, "agent_id", agent.ID)
	return true, nil
}

// OnSubtaskComplete re-evaluates a campaign after one of its sub-tasks
// finished. It either reports the campaign outcome or dispatches more
// work. A BLOCKED parent is left alone; a checkpoint owns it.
func (d *Dispatcher) OnSubtaskComplete(ctx context.Context, parentID string) (SubtaskOutcome, error) {
	parent, err := d.tasks.Get(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNone, nil
	}
	if err != nil {
		return OutcomeNone, err
	}
	if parent.Status == models.TaskStatusBlocked {
		return OutcomeNone, nil
	}

	allDone := true
	anyFailed := false
	anyRunning := false
	for _, childID := range parent.SubtaskIDs {
		child, err := d.tasks.Get(ctx, childID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return OutcomeNone, err
		}
		switch {
		case child.Status == models.TaskStatusRejected:
			// A rejected sub-task the user chose to skip does not hold
			// the campaign open.
			anyFailed = true
		case runningStatuses[child.Status]:
			anyRunning = true
			allDone = false
		case child.Status != models.TaskStatusDone:
			allDone = false
		}
	}

	if allDone {
		slog.Info("All sub-tasks done", "parent_id", parentID)
		return OutcomeAllDone, nil
	}

	if anyFailed && !anyRunning {
		slog.Error("Sub-task failed, failing campaign", "parent_id", parentID)
		if _, err := d.tasks.UpdateStatus(ctx, parentID, models.TaskStatusReview, "orchestrator", "sub-task failed"); err != nil {
			return OutcomeNone, err
		}
		if _, err := d.tasks.UpdateStatus(ctx, parentID, models.TaskStatusRejected, "orchestrator", "sub-task failure"); err != nil {
			return OutcomeNone, err
		}
		return OutcomeFailed, nil
	}

	if anyFailed {
		slog.Info("Sub-task failed, waiting for running tasks", "parent_id", parentID)
		return OutcomeNone, nil
	}

	if d.parallelEnabled() {
		count, err := d.DispatchAllReady(ctx, parentID)
		if err != nil {
			return OutcomeNone, err
		}
		if count > 0 {
			slog.Info("Dispatched newly-unblocked sub-tasks",
				"parent_id", parentID, "count", count)
		}
	} else {
		dispatched, err := d.DispatchNext(ctx, parentID)
		if err != nil {
			return OutcomeNone, err
		}
		if !dispatched {
			slog.Debug("No sub-task ready to dispatch", "parent_id", parentID)
		}
	}
	return OutcomeNone, nil
}

// CleanupSubtasks marks every not-yet-started sub-task REJECTED. Used when
// the user rejects a plan checkpoint and the decomposition is abandoned.
func (d *Dispatcher) CleanupSubtasks(ctx context.Context, parentID string) error {
	return d.RetireSubtasks(ctx, parentID, "plan rejected", "parent plan rejected by user")
}

// RetireSubtasks walks every CREATED or PLANNED sub-task of a parent to
// REJECTED. Sub-tasks that already started are left alone. Intermediate
// hops carry hopDetail, the final REJECTED hop carries finalDetail.
func (d *Dispatcher) RetireSubtasks(ctx context.Context, parentID, hopDetail, finalDetail string) error {
	parent, err := d.tasks.Get(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, childID := range parent.SubtaskIDs {
		child, err := d.tasks.Get(ctx, childID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if child.Status != models.TaskStatusCreated && child.Status != models.TaskStatusPlanned {
			continue
		}

		if child.Status == models.TaskStatusCreated {
			if _, err := d.tasks.UpdateStatus(ctx, childID, models.TaskStatusPlanned, "orchestrator", hopDetail); err != nil {
				return err
			}
		}
		if _, err := d.tasks.UpdateStatus(ctx, childID, models.TaskStatusActive, "orchestrator", hopDetail); err != nil {
			return err
		}
		if _, err := d.tasks.UpdateStatus(ctx, childID, models.TaskStatusReview, "orchestrator", hopDetail); err != nil {
			return err
		}
		if _, err := d.tasks.UpdateStatus(ctx, childID, models.TaskStatusRejected, "orchestrator", finalDetail); err != nil {
			return err
		}
	}
	return nil
}

// readyChild loads a sub-task and returns it only when it is PLANNED with
// every dependency DONE. Missing children and children in other states
// return nil.
func (d *Dispatcher) readyChild(ctx context.Context, childID string) (*models.Task, error) {
	child, err := d.tasks.Get(ctx, childID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if child.Status != models.TaskStatusPlanned {
		return nil, nil
	}

	ready, err := d.tasks.DependenciesDone(ctx, child)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}
	return child, nil
}

// injectGuidance appends the parent's architect guidance to the child's
// description. Idempotent: a child that already carries the appendix is
// left alone, so retries cannot double-append.
func (d *Dispatcher) injectGuidance(ctx context.Context, parent, child *models.Task) error {
	guidance := architectGuidance(parent)
	if guidance == "" || strings.Contains(child.Description, guidance) {
		return nil
	}
	child.Description += guidance
	return d.tasks.Update(ctx, child)
}

// recordDispatch registers the agent and flips the task PLANNED -> ACTIVE
// with the agent recorded as assignee.
func (d *Dispatcher) recordDispatch(ctx context.Context, taskID string, agent *models.AgentRecord, detail string) error {
	if err := d.state.SetAgent(ctx, agent); err != nil {
		return err
	}
	task, err := d.tasks.UpdateStatus(ctx, taskID, models.TaskStatusActive, "orchestrator", detail)
	if err != nil {
		return err
	}
	task.AssignedTo = agent.ID
	return d.tasks.Update(ctx, task)
}

// rejectChild walks a sub-task to REJECTED after a dispatch failure,
// logging rather than propagating so the loop can try its siblings.
func (d *Dispatcher) rejectChild(ctx context.Context, childID, detail string) {
	if err := walkToRejected(ctx, d.tasks, childID, "orchestrator", detail); err != nil {
		slog.Error("Failed to mark sub-task rejected",
			"task_id", childID, "error", err)
	}
}

// architectGuidance renders the parent's parsed architect output as a
// markdown appendix for dev agents, or "" when there is none.
func architectGuidance(parent *models.Task) string {
	raw := parent.AgentOutputs["architect"]
	if raw == "" {
		return ""
	}
	plan, err := agentout.ParseArchitect(raw)
	if err != nil {
		// Unparseable design: skip rather than inject garbage.
		return ""
	}

	lines := []string{
		guidanceHeader,
		"The following design decisions were approved by the Architect." +
			" Follow these guidelines during implementation.",
		"",
	}

	if len(plan.Decisions) > 0 {
		lines = append(lines, "### Design Decisions")
		for _, d := range plan.Decisions {
			title := stringOr(d, "title", "Untitled")
			rationale := stringOr(d, "rationale", "")
			lines = append(lines, fmt.Sprintf("- **%s**: %s", title, rationale))
		}
		lines = append(lines, "")
	}

	if len(plan.Interfaces) > 0 {
		lines = append(lines, "### Interfaces")
		for _, iface := range plan.Interfaces {
			module := stringOr(iface, "module", "?")
			defn := stringOr(iface, "definition", "")
			lines = append(lines, fmt.Sprintf("- **%s**: %s", module, defn))
		}
		lines = append(lines, "")
	}

	if len(plan.Concerns) > 0 {
		lines = append(lines, "### Concerns")
		for _, c := range plan.Concerns {
			lines = append(lines, "- "+c)
		}
		lines = append(lines, "")
	}

	if plan.DesignNotes != "" {
		lines = append(lines, "### Additional Notes", plan.DesignNotes, "")
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
