package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/legatus-hq/legatus/pkg/agentout"
	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/models"
)

// spawnReviewer puts a reviewer agent on a task awaiting review. When the
// container cannot start the verdict defaults to approval: a missing
// reviewer must not strand the task in REVIEW forever.
func (r *Reactor) spawnReviewer(ctx context.Context, task *models.Task) {
	agent, err := r.spawner.SpawnAgent(ctx, task, models.AgentRoleReviewer)
	if err != nil {
		slog.Error("Failed to spawn reviewer, auto-approving",
			"task_id", task.ID, "error", err)
		r.reviewerApprove(ctx, task)
		return
	}
	if serr := r.state.SetAgent(ctx, agent); serr != nil {
		slog.Warn("Failed to register reviewer agent",
			"agent_id", agent.ID, "error", serr)
	}
	slog.Info("Spawned reviewer", "task_id", task.ID, "agent_id", agent.ID)
}

// spawnQA puts a QA agent on a task awaiting verification, defaulting to a
// pass when the container cannot start.
func (r *Reactor) spawnQA(ctx context.Context, task *models.Task) {
	agent, err := r.spawner.SpawnAgent(ctx, task, models.AgentRoleQA)
	if err != nil {
		slog.Error("Failed to spawn QA agent, auto-passing",
			"task_id", task.ID, "error", err)
		r.qaApprove(ctx, task)
		return
	}
	if serr := r.state.SetAgent(ctx, agent); serr != nil {
		slog.Warn("Failed to register QA agent",
			"agent_id", agent.ID, "error", serr)
	}
	slog.Info("Spawned QA agent", "task_id", task.ID, "agent_id", agent.ID)
}

// onReviewerComplete applies the reviewer's verdict. Security concerns
// always go to the user, whatever the verdict; an unparseable review
// counts as approval.
func (r *Reactor) onReviewerComplete(ctx context.Context, task *models.Task, output string) {
	task.SetAgentOutput("reviewer", output)
	if err := r.tasks.Update(ctx, task); err != nil {
		slog.Error("Failed to store reviewer output",
			"task_id", task.ID, "error", err)
	}

	result, err := agentout.ParseReviewer(output)
	if err != nil {
		slog.Warn("Reviewer output not parseable, treating as approval",
			"task_id", task.ID, "error", err)
	}

	if result != nil && len(result.SecurityConcerns) > 0 {
		r.raiseSecurityCheckpoint(ctx, task, result)
		return
	}
	if result == nil || result.Approved() {
		r.reviewerApprove(ctx, task)
		return
	}
	r.reviewerReject(ctx, task, result)
}

// reviewerApprove moves an approved task onward: to QA when a QA gate
// applies, otherwise to DONE.
func (r *Reactor) reviewerApprove(ctx context.Context, task *models.Task) {
	switch {
	case r.qaEnabled() && r.qaMode() == config.ReviewModePerSubtask && task.IsSubtask():
		updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusTesting,
			"reviewer", "reviewer approved, awaiting QA")
		if err != nil {
			slog.Error("Failed to route approved task to QA",
				"task_id", task.ID, "error", err)
			return
		}
		r.spawnQA(ctx, updated)

	case r.qaEnabled() && r.qaMode() == config.ReviewModePerCampaign && !task.IsSubtask():
		updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusTesting,
			"reviewer", "reviewer approved, awaiting campaign QA")
		if err != nil {
			slog.Error("Failed to route approved campaign to QA",
				"task_id", task.ID, "error", err)
			return
		}
		r.spawnQA(ctx, updated)

	default:
		updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusDone,
			"reviewer", "reviewer approved")
		if err != nil {
			slog.Error("Failed to mark task done after review",
				"task_id", task.ID, "error", err)
			return
		}
		r.handleSubtaskDone(ctx, updated)
	}
}

// reviewerReject sends the task back to the dev agent with the reviewer's
// feedback, until retries run out and the verdict goes to the user.
func (r *Reactor) reviewerReject(ctx context.Context, task *models.Task, result *agentout.ReviewResult) {
	maxRetries := r.reviewerMaxRetries()
	retries := outputCount(task, "reviewer_retry_count")

	if retries < maxRetries {
		task.SetAgentOutput("reviewer_feedback", result.Summary)
		task.SetAgentOutput("reviewer_retry_count", strconv.Itoa(retries+1))
		if err := r.tasks.Update(ctx, task); err != nil {
			slog.Error("Failed to store reviewer feedback",
				"task_id", task.ID, "error", err)
		}

		detail := fmt.Sprintf("rejected (retry %d/%d): %s",
			retries+1, maxRetries, clip(result.Summary, 200))
		if _, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusRejected, "reviewer", detail); err != nil {
			slog.Error("Failed to reject task for retry", "task_id", task.ID, "error", err)
			return
		}
		planned, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusPlanned,
			"orchestrator", "queued for retry")
		if err != nil {
			slog.Error("Failed to queue task for retry", "task_id", task.ID, "error", err)
			return
		}
		if _, err := r.dispatcher.DispatchSingle(ctx, planned); err != nil {
			slog.Error("Failed to re-dispatch task after review",
				"task_id", task.ID, "error", err)
		}
		return
	}

	r.walkToActive(ctx, task.ID, "review verdict needs user decision")
	desc := reviewExhaustedDescription(task, result, maxRetries)
	if _, err := r.checkpoints.Create(ctx, task.ID,
		"Review failed: "+task.Title, desc, models.SourceReviewer); err != nil {
		slog.Error("Failed to create review checkpoint",
			"task_id", task.ID, "error", err)
	}
}

// raiseSecurityCheckpoint always puts security findings in front of the
// user, bypassing the retry loop.
func (r *Reactor) raiseSecurityCheckpoint(ctx context.Context, task *models.Task, result *agentout.ReviewResult) {
	slog.Warn("Reviewer raised security concerns",
		"task_id", task.ID, "count", len(result.SecurityConcerns))
	r.walkToActive(ctx, task.ID, "security concerns need user decision")

	lines := []string{
		fmt.Sprintf("Reviewer found security concerns in '%s':", task.Title),
		"",
		"**Verdict**: " + result.Verdict,
		"**Summary**: " + result.Summary,
		"",
		"**Security Concerns:**",
	}
	for _, c := range result.SecurityConcerns {
		lines = append(lines, "- "+c)
	}
	lines = append(lines, "")
	lines = append(lines, findingLines(result.Findings)...)

	if _, err := r.checkpoints.Create(ctx, task.ID,
		"Security review: "+task.Title, strings.Join(lines, "\n"), models.SourceReviewer); err != nil {
		slog.Error("Failed to create security checkpoint",
			"task_id", task.ID, "error", err)
	}
}

// onQAComplete applies the QA verdict. Test files are committed even when
// the verdict fails; an unparseable result counts as a pass.
func (r *Reactor) onQAComplete(ctx context.Context, task *models.Task, output string) {
	task.SetAgentOutput("qa", output)
	if err := r.tasks.Update(ctx, task); err != nil {
		slog.Error("Failed to store QA output", "task_id", task.ID, "error", err)
	}

	r.commitWork(ctx, task, fmt.Sprintf("legatus: QA tests for %s (%s)", task.Title, task.ID))

	result, err := agentout.ParseQA(output)
	if err != nil {
		slog.Warn("QA output not parseable, treating as pass",
			"task_id", task.ID, "error", err)
	}
	if result == nil || result.Passed() {
		r.qaApprove(ctx, task)
		return
	}
	r.qaReject(ctx, task, result)
}

// qaApprove finishes a task that passed QA.
func (r *Reactor) qaApprove(ctx context.Context, task *models.Task) {
	updated, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusDone, "qa", "QA passed")
	if err != nil {
		slog.Error("Failed to mark task done after QA",
			"task_id", task.ID, "error", err)
		return
	}
	r.handleSubtaskDone(ctx, updated)
}

// qaReject sends the task back to the dev agent with the QA failures,
// until retries run out and the verdict goes to the user.
func (r *Reactor) qaReject(ctx context.Context, task *models.Task, result *agentout.QAResult) {
	maxRetries := r.qaMaxRetries()
	retries := outputCount(task, "qa_retry_count")

	if retries < maxRetries {
		task.SetAgentOutput("qa_feedback", qaFeedback(result))
		task.SetAgentOutput("qa_retry_count", strconv.Itoa(retries+1))
		if err := r.tasks.Update(ctx, task); err != nil {
			slog.Error("Failed to store QA feedback",
				"task_id", task.ID, "error", err)
		}

		detail := fmt.Sprintf("QA failed (retry %d/%d): %s",
			retries+1, maxRetries, clip(result.Summary, 200))
		if _, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusRejected, "qa", detail); err != nil {
			slog.Error("Failed to reject task for retry", "task_id", task.ID, "error", err)
			return
		}
		planned, err := r.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusPlanned,
			"orchestrator", "queued for retry after QA failure")
		if err != nil {
			slog.Error("Failed to queue task for retry", "task_id", task.ID, "error", err)
			return
		}
		if _, err := r.dispatcher.DispatchSingle(ctx, planned); err != nil {
			slog.Error("Failed to re-dispatch task after QA",
				"task_id", task.ID, "error", err)
		}
		return
	}

	r.walkToActive(ctx, task.ID, "QA verdict needs user decision")
	desc := qaExhaustedDescription(task, result, maxRetries)
	if _, err := r.checkpoints.Create(ctx, task.ID,
		"QA failed: "+task.Title, desc, models.SourceQA); err != nil {
		slog.Error("Failed to create QA checkpoint",
			"task_id", task.ID, "error", err)
	}
}

// walkToActive returns a task to ACTIVE along valid transitions so the
// checkpoint that follows can block it and its resolution can transition
// it onward. REVIEW and TESTING hop back through REJECTED and PLANNED.
func (r *Reactor) walkToActive(ctx context.Context, taskID, detail string) {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Error("Cannot walk task back to active",
			"task_id", taskID, "error", err)
		return
	}

	hops := map[models.TaskStatus]models.TaskStatus{
		models.TaskStatusReview:   models.TaskStatusRejected,
		models.TaskStatusTesting:  models.TaskStatusRejected,
		models.TaskStatusRejected: models.TaskStatusPlanned,
		models.TaskStatusPlanned:  models.TaskStatusActive,
		models.TaskStatusBlocked:  models.TaskStatusActive,
	}
	for task.Status != models.TaskStatusActive {
		next, ok := hops[task.Status]
		if !ok {
			return
		}
		task, err = r.tasks.UpdateStatus(ctx, taskID, next, "orchestrator", detail)
		if err != nil {
			slog.Error("Failed to walk task back to active",
				"task_id", taskID, "error", err)
			return
		}
	}
}

// qaFeedback condenses a failed QA result into the feedback the retried
// dev agent receives.
func qaFeedback(result *agentout.QAResult) string {
	parts := []string{result.Summary}
	if result.FailureDetails != "" {
		parts = append(parts, result.FailureDetails)
	}
	for _, tr := range result.TestResults {
		if tr.Status == "fail" || tr.Status == "error" {
			parts = append(parts, fmt.Sprintf("- %s (%s): %s", tr.Name, tr.Status, clip(tr.Output, 300)))
		}
	}
	return strings.Join(parts, "\n")
}

// reviewExhaustedDescription renders the checkpoint body for a review
// rejection that survived all dev retries.
func reviewExhaustedDescription(task *models.Task, result *agentout.ReviewResult, maxRetries int) string {
	lines := []string{
		fmt.Sprintf("Reviewer rejected task '%s' after %d DEV retry(ies).", task.Title, maxRetries),
		"",
		"**Summary**: " + result.Summary,
		"",
	}
	lines = append(lines, findingLines(result.Findings)...)
	lines = append(lines, nextSteps(
		"- **Approve** to accept the code as-is and continue the campaign.",
		"- **Reject** to abandon this task. The campaign will be marked as failed.",
	)...)
	return strings.Join(lines, "\n")
}

// qaExhaustedDescription renders the checkpoint body for a QA failure that
// survived all dev retries.
func qaExhaustedDescription(task *models.Task, result *agentout.QAResult, maxRetries int) string {
	lines := []string{
		fmt.Sprintf("QA failed for task '%s' after %d DEV retry(ies).", task.Title, maxRetries),
		"",
		"**Summary**: " + result.Summary,
		"",
	}
	if len(result.TestResults) > 0 {
		lines = append(lines, "**Test Results:**")
		for _, tr := range result.TestResults {
			lines = append(lines, fmt.Sprintf("- %s: %s", tr.Name, tr.Status))
			if tr.Output != "" {
				lines = append(lines, "  "+clip(tr.Output, 200))
			}
		}
		lines = append(lines, "")
	}
	if result.FailureDetails != "" {
		lines = append(lines, "**Failure Details:**", clip(result.FailureDetails, 500), "")
	}
	lines = append(lines, nextSteps(
		"- **Approve** to accept the code as-is and continue the campaign.",
		"- **Reject** to abandon this task. The campaign will be marked as failed.",
	)...)
	return strings.Join(lines, "\n")
}

// findingLines renders reviewer findings as checkpoint body lines, or nil
// when there are none.
func findingLines(findings []agentout.ReviewFinding) []string {
	if len(findings) == 0 {
		return nil
	}
	lines := []string{"**Findings:**"}
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s): %s",
			f.Severity, f.Category, f.File, f.Description))
	}
	return append(lines, "")
}

func nextSteps(approve, reject string) []string {
	return []string{"**Next steps:**", approve, reject, ""}
}

// outputCount reads a numeric counter from a task's agent outputs.
func outputCount(task *models.Task, key string) int {
	n, err := strconv.Atoi(task.AgentOutputs[key])
	if err != nil {
		return 0
	}
	return n
}
