package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
)

// OnCheckpointApproved resumes the flow that raised a checkpoint after the
// user approved it. The checkpoint service has already unblocked the task.
func (r *Reactor) OnCheckpointApproved(ctx context.Context, taskID string, source models.CheckpointSource) error {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	switch source {
	case models.SourceMergeConflict:
		return r.approveMergeConflict(ctx, task)
	case models.SourceQA:
		return r.approveQAVerdict(ctx, task)
	case models.SourceAgentFailed:
		// The checkpoint sat on the campaign itself: skip the failed
		// sub-task and keep going with the rest.
		outcome, err := r.dispatcher.OnSubtaskComplete(ctx, taskID)
		if err != nil {
			return err
		}
		if outcome == services.OutcomeAllDone {
			r.onCampaignDone(ctx, taskID)
		}
		return nil
	case models.SourceReviewer:
		return r.approveReviewVerdict(ctx, task)
	}

	// PM and architect approvals release the decomposition for dispatch.
	if len(task.SubtaskIDs) == 0 {
		return nil
	}
	if source == models.SourcePM && r.architectReviewEnabled() {
		agent, err := r.spawner.SpawnAgent(ctx, task, models.AgentRoleArchitect)
		if err != nil {
			slog.Error("Failed to spawn architect, dispatching directly",
				"task_id", taskID, "error", err)
			r.dispatchInitial(ctx, taskID)
			return nil
		}
		if serr := r.state.SetAgent(ctx, agent); serr != nil {
			slog.Warn("Failed to register architect agent",
				"agent_id", agent.ID, "error", serr)
		}
		slog.Info("Spawned architect for design review",
			"task_id", taskID, "agent_id", agent.ID)
		return nil
	}
	r.dispatchInitial(ctx, taskID)
	return nil
}

// OnCheckpointRejected unwinds the flow that raised a checkpoint after the
// user rejected it.
func (r *Reactor) OnCheckpointRejected(ctx context.Context, taskID string, source models.CheckpointSource) error {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	switch source {
	case models.SourceMergeConflict:
		if r.git != nil {
			r.abortMerge(ctx)
		}
		if task.BranchName != "" {
			r.cleanupWorktree(ctx, r.worktreePath(task.ID), task.BranchName)
		}
		if task.IsSubtask() {
			// The sub-task stays done; the campaign re-evaluates without
			// the rejected merge.
			outcome, err := r.dispatcher.OnSubtaskComplete(ctx, task.ParentID)
			if err != nil {
				return err
			}
			if outcome == services.OutcomeAllDone {
				r.onCampaignDone(ctx, task.ParentID)
			}
		}
		return nil

	case models.SourceQA:
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusTesting,
			"user", "QA checkpoint rejected"); err != nil {
			return err
		}
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusRejected,
			"user", "rejected after QA"); err != nil {
			return err
		}
		r.failParentForSubtask(ctx, task,
			fmt.Sprintf("sub-task %s QA rejected", task.ID), "sub-task QA failure")
		return nil

	case models.SourceAgentFailed:
		// The checkpoint sat on the campaign itself: abandon it.
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusReview,
			"user", "agent failure checkpoint rejected"); err != nil {
			return err
		}
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusRejected,
			"user", "campaign abandoned after agent failure"); err != nil {
			return err
		}
		return nil

	case models.SourceReviewer:
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusReview,
			"user", "reviewer checkpoint rejected"); err != nil {
			return err
		}
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusRejected,
			"user", "rejected after review"); err != nil {
			return err
		}
		r.failParentForSubtask(ctx, task,
			fmt.Sprintf("sub-task %s review rejected", task.ID), "sub-task review failure")
		return nil
	}

	// PM and architect rejections abandon the decomposition.
	if len(task.SubtaskIDs) > 0 {
		if err := r.dispatcher.CleanupSubtasks(ctx, taskID); err != nil {
			slog.Error("Failed to clean up sub-tasks",
				"task_id", taskID, "error", err)
		}
	}

	detail := "plan rejected by user"
	if source == models.SourceArchitect {
		detail = "design rejected by user"
	}
	if task.Status == models.TaskStatusActive {
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusReview, "user", detail); err != nil {
			return err
		}
		if _, err := r.tasks.UpdateStatus(ctx, taskID, models.TaskStatusRejected, "user", detail); err != nil {
			return err
		}
	}
	return nil
}

// approveMergeConflict commits the user's manual resolution and folds the
// sub-task back into the campaign.
func (r *Reactor) approveMergeConflict(ctx context.Context, task *models.Task) error {
	if r.git != nil {
		hash, err := r.git.CommitMergeResolution(ctx,
			fmt.Sprintf("merge resolution: %s (%s)", task.Title, task.ID))
		if err != nil || hash == "" {
			slog.Warn("Merge resolution commit failed or empty",
				"task_id", task.ID, "error", err)
		} else {
			slog.Info("Committed merge resolution",
				"task_id", task.ID, "commit", hash)
		}
	}
	if task.BranchName != "" {
		r.cleanupWorktree(ctx, r.worktreePath(task.ID), task.BranchName)
	}

	if task.IsSubtask() {
		outcome, err := r.dispatcher.OnSubtaskComplete(ctx, task.ParentID)
		if err != nil {
			return err
		}
		if outcome == services.OutcomeAllDone {
			r.onCampaignDone(ctx, task.ParentID)
		}
	}
	return nil
}

// approveQAVerdict accepts work whose QA retries were exhausted: the user
// chose to ship it anyway.
func (r *Reactor) approveQAVerdict(ctx context.Context, task *models.Task) error {
	if _, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusTesting,
		"user", "QA checkpoint approved"); err != nil {
		return err
	}
	updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusDone,
		"user", "approved after QA")
	if err != nil {
		return err
	}
	r.handleSubtaskDone(ctx, updated)
	return nil
}

// approveReviewVerdict accepts work the reviewer kept rejecting (or flagged
// for security). A configured QA gate still applies afterwards.
func (r *Reactor) approveReviewVerdict(ctx context.Context, task *models.Task) error {
	qaGated := r.qaEnabled() &&
		((r.qaMode() == config.ReviewModePerSubtask && task.IsSubtask()) ||
			(r.qaMode() == config.ReviewModePerCampaign && !task.IsSubtask()))

	if qaGated {
		updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusTesting,
			"user", "reviewer checkpoint approved, routing to QA")
		if err != nil {
			return err
		}
		r.spawnQA(ctx, updated)
		return nil
	}

	if _, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusReview,
		"user", "reviewer checkpoint approved"); err != nil {
		return err
	}
	updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusDone,
		"user", "approved after review")
	if err != nil {
		return err
	}
	r.handleSubtaskDone(ctx, updated)
	return nil
}

// failParentForSubtask walks an ACTIVE campaign to REJECTED after the user
// rejected one of its sub-task verdicts.
func (r *Reactor) failParentForSubtask(ctx context.Context, task *models.Task, hopDetail, finalDetail string) {
	if !task.IsSubtask() {
		return
	}
	parent, err := r.tasks.Get(ctx, task.ParentID)
	if err != nil || parent.Status != models.TaskStatusActive {
		return
	}
	if _, err := r.tasks.UpdateStatus(ctx, parent.ID, models.TaskStatusReview,
		"orchestrator", hopDetail); err != nil {
		slog.Error("Failed to fail campaign", "parent_id", parent.ID, "error", err)
		return
	}
	if _, err := r.tasks.UpdateStatus(ctx, parent.ID, models.TaskStatusRejected,
		"orchestrator", finalDetail); err != nil {
		slog.Error("Failed to fail campaign", "parent_id", parent.ID, "error", err)
	}
}

// dispatchInitial starts the first wave of dev agents for an approved
// decomposition. Parallel mode first records the branch the workspace is
// on and cuts the campaign branch every sub-task worktree forks from.
func (r *Reactor) dispatchInitial(ctx context.Context, parentID string) {
	if !r.parallelEnabled() {
		if _, err := r.dispatcher.DispatchNext(ctx, parentID); err != nil {
			slog.Error("Dispatch failed", "parent_id", parentID, "error", err)
		}
		return
	}

	parent, err := r.tasks.Get(ctx, parentID)
	if err != nil {
		slog.Error("Cannot dispatch campaign, parent not loadable",
			"parent_id", parentID, "error", err)
		return
	}

	if r.git != nil {
		if original, berr := r.git.CurrentBranch(ctx); berr != nil {
			slog.Error("Failed to read current branch",
				"parent_id", parentID, "error", berr)
		} else {
			// Remember where to merge the campaign back when it finishes.
			parent.SetAgentOutput("_original_branch", original)
			if uerr := r.tasks.Update(ctx, parent); uerr != nil {
				slog.Error("Failed to save original branch",
					"task_id", parentID, "error", uerr)
			}
		}

		branch := fmt.Sprintf("%s/campaign-%s", parent.BranchPrefix(), parent.ID)
		if berr := r.git.EnsureWorkingBranch(ctx, branch); berr != nil {
			slog.Error("Failed to create campaign branch",
				"branch", branch, "error", berr)
		}
	}

	count, err := r.dispatcher.DispatchAllReady(ctx, parentID)
	if err != nil {
		slog.Error("Parallel dispatch failed", "parent_id", parentID, "error", err)
		return
	}
	slog.Info("Parallel dispatch", "parent_id", parentID, "count", count)
}
