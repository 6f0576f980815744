package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/gitops"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
)

// onDevComplete commits the dev agent's work and routes the task onward:
// to review, to QA, or straight to done when no gates are configured.
func (r *Reactor) onDevComplete(ctx context.Context, task *models.Task, output string) {
	task.SetAgentOutput("dev", output)
	if err := r.tasks.Update(ctx, task); err != nil {
		slog.Error("Failed to store dev output", "task_id", task.ID, "error", err)
	}

	r.commitWork(ctx, task, fmt.Sprintf("legatus: %s (%s)", task.Title, task.ID))

	switch {
	case r.reviewerEnabled() && r.reviewMode() == config.ReviewModePerSubtask && task.IsSubtask():
		if _, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusReview,
			"agent", "dev complete, awaiting review"); err != nil {
			slog.Error("Failed to route task to review", "task_id", task.ID, "error", err)
			return
		}
		r.spawnReviewer(ctx, task)

	case r.qaEnabled() && r.qaMode() == config.ReviewModePerSubtask && task.IsSubtask():
		if _, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusTesting,
			"agent", "dev complete, awaiting QA"); err != nil {
			slog.Error("Failed to route task to QA", "task_id", task.ID, "error", err)
			return
		}
		r.spawnQA(ctx, task)

	default:
		done, err := r.taskSvc.CompleteTask(ctx, task.ID)
		if err != nil {
			slog.Error("Failed to complete task", "task_id", task.ID, "error", err)
			return
		}
		r.handleSubtaskDone(ctx, done)
	}
}

// commitWork commits whatever the agent left in the workspace, using the
// task's worktree when it has one. Best-effort: a failed commit never
// blocks the lifecycle.
func (r *Reactor) commitWork(ctx context.Context, task *models.Task, message string) {
	if r.git == nil {
		return
	}

	var hash string
	var err error
	if task.BranchName != "" {
		hash, err = r.git.CommitInWorktree(ctx, r.worktreePath(task.ID), message)
	} else {
		hash, err = r.git.CommitChanges(ctx, message)
	}
	if err != nil {
		slog.Error("Failed to commit agent work", "task_id", task.ID, "error", err)
		return
	}
	if hash != "" {
		slog.Info("Committed agent work", "task_id", task.ID, "commit", hash)
	}
}

// handleSubtaskDone folds a finished sub-task back into its campaign:
// merge its branch (parallel mode), then let the dispatcher decide what
// runs next. A merge conflict halts here; its checkpoint owns the campaign.
func (r *Reactor) handleSubtaskDone(ctx context.Context, task *models.Task) {
	if !task.IsSubtask() {
		return
	}

	if task.BranchName != "" {
		if merged := r.mergeAndCleanup(ctx, task); !merged {
			return
		}
	}

	outcome, err := r.dispatcher.OnSubtaskComplete(ctx, task.ParentID)
	if err != nil {
		slog.Error("Failed to re-evaluate campaign",
			"parent_id", task.ParentID, "error", err)
		return
	}
	if outcome == services.OutcomeAllDone {
		r.onCampaignDone(ctx, task.ParentID)
	}
}

// mergeAndCleanup merges a sub-task branch into the campaign branch.
// Returns false only when a conflict checkpoint was raised; every other
// outcome lets the campaign continue. On non-conflict failures the branch
// is kept for manual recovery.
func (r *Reactor) mergeAndCleanup(ctx context.Context, task *models.Task) bool {
	if r.git == nil {
		return true
	}

	wt := r.worktreePath(task.ID)
	res, err := r.git.MergeBranch(ctx, task.BranchName,
		fmt.Sprintf("merge: %s (%s)", task.Title, task.ID))
	if err != nil {
		slog.Error("Merge failed",
			"task_id", task.ID, "branch", task.BranchName, "error", err)
		r.warnMergeFailure(task, err.Error())
		r.removeWorktreeOnly(ctx, wt)
		return true
	}

	if res.Merged {
		slog.Info("Merged sub-task branch",
			"task_id", task.ID, "branch", task.BranchName, "commit", res.Hash)
		r.cleanupWorktree(ctx, wt, task.BranchName)
		return true
	}

	if len(res.ConflictFiles) > 0 {
		if gitops.CanAutoResolve(res.ConflictFiles) && r.autoResolve(ctx, task, res.ConflictFiles) {
			r.cleanupWorktree(ctx, wt, task.BranchName)
			return true
		}
		r.abortMerge(ctx)
		r.raiseMergeConflictCheckpoint(ctx, task, res.ConflictFiles)
		return false
	}

	slog.Error("Merge failed without conflicts",
		"task_id", task.ID, "branch", task.BranchName)
	r.warnMergeFailure(task, "merge reported neither success nor conflicts")
	r.removeWorktreeOnly(ctx, wt)
	return true
}

// warnMergeFailure surfaces a non-conflict merge failure on the system
// status endpoint. The sub-task branch is preserved for manual recovery.
func (r *Reactor) warnMergeFailure(task *models.Task, detail string) {
	if r.warnings == nil {
		return
	}
	r.warnings.AddWarning(services.WarningCategoryMerge,
		fmt.Sprintf("Failed to merge branch %s for '%s'; branch preserved", task.BranchName, task.Title),
		detail, task.ID)
}

// autoResolve takes the incoming side of every conflicted file and commits
// the resolution. Returns false with the merge aborted when that fails.
func (r *Reactor) autoResolve(ctx context.Context, task *models.Task, files []string) bool {
	if err := r.git.ResolveConflictsTheirs(ctx, files); err != nil {
		slog.Error("Auto-resolve failed", "task_id", task.ID, "error", err)
		return false
	}
	hash, err := r.git.CommitMergeResolution(ctx,
		fmt.Sprintf("merge (auto-resolved): %s (%s)", task.Title, task.ID))
	if err != nil || hash == "" {
		slog.Error("Failed to commit auto-resolution",
			"task_id", task.ID, "error", err)
		return false
	}
	slog.Info("Auto-resolved merge conflicts",
		"task_id", task.ID, "files", len(files), "commit", hash)
	return true
}

// raiseMergeConflictCheckpoint hands an unmergeable branch to the user.
// The merge is already aborted; the workspace is clean for manual work.
func (r *Reactor) raiseMergeConflictCheckpoint(ctx context.Context, task *models.Task, files []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge conflict when integrating '%s' (branch `%s`).\n\n", task.Title, task.BranchName)
	b.WriteString("**Conflicted files:**\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\nResolve the conflicts in `/workspace` (the working branch), then approve this checkpoint to continue.")

	if _, err := r.checkpoints.Create(ctx, task.ID,
		"Merge conflict: "+task.Title, b.String(), models.SourceMergeConflict); err != nil {
		slog.Error("Failed to create merge-conflict checkpoint",
			"task_id", task.ID, "error", err)
	}
	slog.Warn("Merge conflict requires manual resolution",
		"task_id", task.ID, "branch", task.BranchName, "files", len(files))
}

// cleanupWorktree reclaims a sub-task's worktree and branch. Each step is
// independent and best-effort.
func (r *Reactor) cleanupWorktree(ctx context.Context, path, branch string) {
	if r.git == nil {
		return
	}
	if err := r.git.RemoveWorktree(ctx, path); err != nil {
		slog.Warn("Failed to remove worktree", "path", path, "error", err)
	}
	if err := r.git.DeleteBranch(ctx, branch); err != nil {
		slog.Warn("Failed to delete branch", "branch", branch, "error", err)
	}
}

func (r *Reactor) removeWorktreeOnly(ctx context.Context, path string) {
	if err := r.git.RemoveWorktree(ctx, path); err != nil {
		slog.Warn("Failed to remove worktree", "path", path, "error", err)
	}
}

func (r *Reactor) abortMerge(ctx context.Context) {
	if err := r.git.AbortMerge(ctx); err != nil {
		slog.Warn("Failed to abort merge", "error", err)
	}
}

// onCampaignDone finishes a campaign whose sub-tasks are all done: fold the
// campaign branch back, then run the campaign-level gate (review or QA) or
// complete the parent outright.
func (r *Reactor) onCampaignDone(ctx context.Context, parentID string) {
	parent, err := r.tasks.Get(ctx, parentID)
	if err != nil {
		slog.Error("Campaign finished but parent not loadable",
			"parent_id", parentID, "error", err)
		return
	}
	// An abandoned campaign can still see its last sub-task finish.
	if parent.Status.IsTerminal() {
		return
	}

	r.finalizeCampaignBranch(ctx, parent)

	switch {
	case r.reviewerEnabled() && r.reviewMode() == config.ReviewModePerCampaign:
		r.aggregateChildOutputs(ctx, parent)
		updated, err := r.tasks.UpdateStatus(ctx, parentID, models.TaskStatusReview,
			"orchestrator", "all sub-tasks done, campaign review")
		if err != nil {
			slog.Error("Failed to route campaign to review",
				"parent_id", parentID, "error", err)
			return
		}
		r.spawnReviewer(ctx, updated)

	case r.qaEnabled() && r.qaMode() == config.ReviewModePerCampaign:
		r.aggregateChildOutputs(ctx, parent)
		updated, err := r.tasks.UpdateStatus(ctx, parentID, models.TaskStatusTesting,
			"orchestrator", "all sub-tasks done, campaign QA")
		if err != nil {
			slog.Error("Failed to route campaign to QA",
				"parent_id", parentID, "error", err)
			return
		}
		r.spawnQA(ctx, updated)

	default:
		if _, err := r.tasks.UpdateStatus(ctx, parentID, models.TaskStatusReview,
			"orchestrator", "all sub-tasks completed"); err != nil {
			slog.Error("Failed to complete campaign",
				"parent_id", parentID, "error", err)
			return
		}
		if _, err := r.tasks.UpdateStatus(ctx, parentID, models.TaskStatusDone,
			"orchestrator", "all sub-tasks done"); err != nil {
			slog.Error("Failed to complete campaign",
				"parent_id", parentID, "error", err)
			return
		}
		slog.Info("Campaign completed", "task_id", parentID)
	}
}

// finalizeCampaignBranch merges the campaign branch back into the branch
// the workspace was on before parallel dispatch. Conflicts leave both
// branches in place for the user.
func (r *Reactor) finalizeCampaignBranch(ctx context.Context, parent *models.Task) {
	original := parent.AgentOutputs["_original_branch"]
	if original == "" || r.git == nil {
		return
	}
	campaignBranch := fmt.Sprintf("%s/campaign-%s", parent.BranchPrefix(), parent.ID)

	if err := r.git.Checkout(ctx, original); err != nil {
		slog.Error("Failed to check out original branch",
			"branch", original, "error", err)
		return
	}

	res, err := r.git.MergeBranch(ctx, campaignBranch,
		fmt.Sprintf("legatus: campaign %s (%s)", parent.Title, parent.ID))
	if err != nil {
		slog.Error("Failed to merge campaign branch",
			"branch", campaignBranch, "error", err)
		return
	}
	if res.Merged {
		slog.Info("Merged campaign branch",
			"branch", campaignBranch, "into", original, "commit", res.Hash)
		if derr := r.git.DeleteBranch(ctx, campaignBranch); derr != nil {
			slog.Warn("Failed to delete campaign branch",
				"branch", campaignBranch, "error", derr)
		}
		return
	}

	slog.Error("Campaign branch merge did not complete",
		"branch", campaignBranch, "conflicts", len(res.ConflictFiles))
	if len(res.ConflictFiles) > 0 {
		// Leave both branches for the user to reconcile.
		r.abortMerge(ctx)
	}
}

// aggregateChildOutputs collects the sub-tasks' dev outputs onto the parent
// so a campaign-level reviewer or QA agent sees the whole body of work.
func (r *Reactor) aggregateChildOutputs(ctx context.Context, parent *models.Task) {
	var sections []string
	for _, childID := range parent.SubtaskIDs {
		child, err := r.tasks.Get(ctx, childID)
		if err != nil {
			continue
		}
		if out := child.AgentOutputs["dev"]; out != "" {
			sections = append(sections, fmt.Sprintf("### Sub-task: %s\n%s", child.Title, out))
		}
	}
	if len(sections) == 0 {
		return
	}

	parent.SetAgentOutput("dev", strings.Join(sections, "\n\n"))
	if err := r.tasks.Update(ctx, parent); err != nil {
		slog.Error("Failed to store aggregated dev output",
			"task_id", parent.ID, "error", err)
	}
}
