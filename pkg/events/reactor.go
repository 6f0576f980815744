// Package events is the orchestrator's reactive core. The Reactor consumes
// agent reports from the Redis agent channel, advances tasks through their
// lifecycle, raises checkpoints for human decisions, and mirrors every event
// to connected WebSocket clients through the Hub.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/gitops"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/spawner"
	"github.com/legatus-hq/legatus/pkg/store"
)

// logTailRunes bounds how much of a finished agent's container output is
// written to the debug log.
const logTailRunes = 2000

// Deps collects everything the Reactor needs. Git may be nil when no
// workspace is configured; Hub and Warnings may be nil when no UI is
// attached.
type Deps struct {
	PubSub      *store.PubSub
	Tasks       *store.TaskStore
	State       *store.StateStore
	TaskService *services.TaskService
	Checkpoints *services.CheckpointService
	Dispatcher  *services.Dispatcher
	Costs       *services.CostService
	Spawner     spawner.Spawner
	Git         gitops.Operator
	Settings    *config.Settings
	Hub         *Hub
	Warnings    *services.SystemWarningsService
}

// Reactor drives the orchestration loop. It is the single consumer of the
// agent channel, so task transitions triggered by agent reports are
// naturally serialized. It also implements services.ResolutionHooks to
// resume flows after checkpoint decisions.
type Reactor struct {
	pubsub      *store.PubSub
	tasks       *store.TaskStore
	state       *store.StateStore
	taskSvc     *services.TaskService
	checkpoints *services.CheckpointService
	dispatcher  *services.Dispatcher
	costs       *services.CostService
	spawner     spawner.Spawner
	git         gitops.Operator
	settings    *config.Settings
	hub         *Hub
	warnings    *services.SystemWarningsService

	// cancelLoop and loopDone coordinate graceful shutdown of the
	// consume loop.
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewReactor creates a Reactor. Callers must register it on the checkpoint
// service with SetHooks before serving requests.
func NewReactor(deps Deps) *Reactor {
	return &Reactor{
		pubsub:      deps.PubSub,
		tasks:       deps.Tasks,
		state:       deps.State,
		taskSvc:     deps.TaskService,
		checkpoints: deps.Checkpoints,
		dispatcher:  deps.Dispatcher,
		costs:       deps.Costs,
		spawner:     deps.Spawner,
		git:         deps.Git,
		settings:    deps.Settings,
		hub:         deps.Hub,
		warnings:    deps.Warnings,
	}
}

// Start subscribes to the agent channel and begins consuming events. The
// loop runs until Stop is called or ctx ends.
func (r *Reactor) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)

	sub, err := r.pubsub.Subscribe(loopCtx, store.ChannelAgent)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to agent events: %w", err)
	}

	r.cancelLoop = cancel
	r.loopDone = make(chan struct{})
	go func() {
		defer close(r.loopDone)
		for msg := range sub.C {
			r.handleAgentMessage(loopCtx, msg)
		}
	}()

	slog.Info("Event reactor started", "channel", store.ChannelAgent)
	return nil
}

// Stop ends the consume loop and waits for the in-flight event to finish.
func (r *Reactor) Stop() {
	if r.cancelLoop == nil {
		return
	}
	r.cancelLoop()
	<-r.loopDone
	slog.Info("Event reactor stopped")
}

// handleAgentMessage is the single entry point for agent reports. Every
// message lands in the activity log and is mirrored to the Hub; completion
// and failure reports additionally drive orchestration.
func (r *Reactor) handleAgentMessage(ctx context.Context, msg *models.Message) {
	slog.Info("Agent event",
		"type", msg.Type, "task_id", msg.TaskID, "agent_id", msg.AgentID)

	if err := r.state.AppendLog(ctx, messageLogEntry(msg)); err != nil {
		slog.Warn("Failed to append activity log", "error", err)
	}

	if msg.AgentID != "" {
		r.updateAgentStatus(ctx, msg)
	}

	switch msg.Type {
	case models.MessageTypeTaskComplete:
		r.onTaskComplete(ctx, msg)
	case models.MessageTypeTaskFailed:
		r.onTaskFailed(ctx, msg)
	case models.MessageTypeLogEntry, models.MessageTypeTaskUpdate:
		// Already in the activity log; nothing to orchestrate.
	default:
		slog.Warn("Unhandled agent message type", "type", msg.Type)
	}

	if r.hub != nil {
		r.hub.Broadcast(msg)
	}
}

// onTaskComplete routes a completion report by the reporting agent's role.
// The container is cleaned up whatever happens next.
func (r *Reactor) onTaskComplete(ctx context.Context, msg *models.Message) {
	if msg.TaskID == "" || msg.AgentID == "" {
		slog.Warn("task_complete without task or agent ID",
			"task_id", msg.TaskID, "agent_id", msg.AgentID)
		return
	}
	defer r.cleanupAgent(ctx, msg.AgentID)

	role := models.AgentRoleDev
	if agent, err := r.state.GetAgent(ctx, msg.AgentID); err == nil && agent.Role != "" {
		role = agent.Role
	}

	task, err := r.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		slog.Error("task_complete for unknown task",
			"task_id", msg.TaskID, "error", err)
		return
	}

	r.recordCost(ctx, task, role, msg)

	output := msg.DataString("output")
	switch role {
	case models.AgentRolePM:
		r.onPMComplete(ctx, task, output)
	case models.AgentRoleArchitect:
		r.onArchitectComplete(ctx, task, output)
	case models.AgentRoleReviewer:
		r.onReviewerComplete(ctx, task, output)
	case models.AgentRoleQA:
		r.onQAComplete(ctx, task, output)
	default:
		r.onDevComplete(ctx, task, output)
	}
}

// onTaskFailed rejects the task, reclaims its worktree, and, for sub-tasks,
// asks the user whether the campaign should continue without it.
func (r *Reactor) onTaskFailed(ctx context.Context, msg *models.Message) {
	if msg.TaskID == "" {
		return
	}
	errMsg := msg.DataString("error")
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	slog.Error("Agent reported failure", "task_id", msg.TaskID, "error", errMsg)

	if _, err := r.taskSvc.FailTask(ctx, msg.TaskID, errMsg); err != nil {
		slog.Error("Failed to reject task", "task_id", msg.TaskID, "error", err)
	}

	task, err := r.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		slog.Error("Failed task no longer loadable",
			"task_id", msg.TaskID, "error", err)
	} else {
		if task.BranchName != "" {
			r.cleanupWorktree(ctx, r.worktreePath(task.ID), task.BranchName)
		}
		if task.IsSubtask() {
			r.raiseAgentFailedCheckpoint(ctx, task, errMsg)
		}
	}

	if msg.AgentID != "" {
		r.cleanupAgent(ctx, msg.AgentID)
	}
}

// raiseAgentFailedCheckpoint blocks the campaign on a skip-or-abandon
// decision. When even the checkpoint cannot be created the campaign is
// failed outright so it cannot hang.
func (r *Reactor) raiseAgentFailedCheckpoint(ctx context.Context, task *models.Task, errMsg string) {
	parent, err := r.tasks.Get(ctx, task.ParentID)
	if err != nil || parent.Status != models.TaskStatusActive {
		return
	}

	desc := fmt.Sprintf("Agent failed for task '%s'.\n\n**Error**: %s\n\n", task.Title, clip(errMsg, 500)) +
		"**Next steps:**\n" +
		"- **Approve** to skip this task and continue the campaign with the remaining tasks.\n" +
		"- **Reject** to abandon the campaign.\n"

	_, cerr := r.checkpoints.Create(ctx, parent.ID, "Agent failed: "+task.Title, desc, models.SourceAgentFailed)
	if cerr == nil {
		return
	}
	slog.Error("Failed to create agent-failure checkpoint",
		"task_id", task.ID, "parent_id", parent.ID, "error", cerr)

	parent, err = r.tasks.Get(ctx, parent.ID)
	if err != nil || parent.Status != models.TaskStatusActive {
		return
	}
	if _, err := r.tasks.UpdateStatus(ctx, parent.ID, models.TaskStatusReview, "orchestrator",
		fmt.Sprintf("sub-task %s failed: %s", task.ID, errMsg)); err != nil {
		slog.Error("Failed to fail campaign", "parent_id", parent.ID, "error", err)
		return
	}
	if _, err := r.tasks.UpdateStatus(ctx, parent.ID, models.TaskStatusRejected, "orchestrator",
		"sub-task failure: "+errMsg); err != nil {
		slog.Error("Failed to fail campaign", "parent_id", parent.ID, "error", err)
	}
}

// updateAgentStatus advances the reporting agent's registry entry: the
// first report from a starting agent marks it active, completion and
// failure reports mark it stopping.
func (r *Reactor) updateAgentStatus(ctx context.Context, msg *models.Message) {
	agent, err := r.state.GetAgent(ctx, msg.AgentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to load agent for status update",
				"agent_id", msg.AgentID, "error", err)
		}
		return
	}

	switch {
	case msg.Type == models.MessageTypeTaskComplete || msg.Type == models.MessageTypeTaskFailed:
		agent.Status = models.AgentStatusStopping
	case agent.Status == models.AgentStatusStarting:
		agent.Status = models.AgentStatusActive
	default:
		return
	}

	if err := r.state.SetAgent(ctx, agent); err != nil {
		slog.Warn("Failed to update agent status",
			"agent_id", agent.ID, "error", err)
	}
}

// cleanupAgent collects the agent's container logs, removes the container,
// and drops the registry entry. Every step is best-effort.
func (r *Reactor) cleanupAgent(ctx context.Context, agentID string) {
	agent, err := r.state.GetAgent(ctx, agentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Failed to load agent for cleanup",
			"agent_id", agentID, "error", err)
	}

	if agent != nil && agent.ContainerID != "" {
		logs, lerr := r.spawner.CollectLogsAndRemove(ctx, agent.ContainerID)
		if lerr != nil {
			slog.Warn("Failed to collect agent container logs",
				"agent_id", agentID, "error", lerr)
		}
		if logs != "" {
			runes := []rune(logs)
			if len(runes) > logTailRunes {
				runes = runes[len(runes)-logTailRunes:]
			}
			slog.Debug("Agent container logs",
				"agent_id", agentID, "tail", string(runes))
		}
	}

	if err := r.state.RemoveAgent(ctx, agentID); err != nil {
		slog.Warn("Failed to remove agent record",
			"agent_id", agentID, "error", err)
	}
}

// recordCost books the cost an agent reported for its run, when it did.
func (r *Reactor) recordCost(ctx context.Context, task *models.Task, role models.AgentRole, msg *models.Message) {
	cost, ok := msg.DataFloat("cost")
	if !ok {
		return
	}
	if err := r.costs.RecordTaskCost(ctx, task, role, cost); err != nil {
		slog.Warn("Failed to record task cost",
			"task_id", task.ID, "role", role, "error", err)
	}
}

// ResumeDispatch re-evaluates every running campaign, picking up sub-tasks
// that became ready while dispatch was paused. Called when the user resumes
// the system.
func (r *Reactor) ResumeDispatch(ctx context.Context) {
	all, err := r.tasks.ListAll(ctx)
	if err != nil {
		slog.Error("Failed to list tasks for resume", "error", err)
		return
	}

	for _, task := range all {
		if task.Status != models.TaskStatusActive || len(task.SubtaskIDs) == 0 {
			continue
		}
		outcome, err := r.dispatcher.OnSubtaskComplete(ctx, task.ID)
		if err != nil {
			slog.Error("Resume dispatch failed for campaign",
				"task_id", task.ID, "error", err)
			continue
		}
		if outcome == services.OutcomeAllDone {
			r.onCampaignDone(ctx, task.ID)
		}
	}
}

func (r *Reactor) reviewerEnabled() bool {
	return r.settings != nil && r.settings.Agent.ReviewerEnabled
}

func (r *Reactor) reviewMode() config.ReviewMode {
	if r.settings == nil || r.settings.Agent.ReviewMode == "" {
		return config.ReviewModePerSubtask
	}
	return r.settings.Agent.ReviewMode
}

func (r *Reactor) reviewerMaxRetries() int {
	if r.settings == nil {
		return 1
	}
	return r.settings.Agent.ReviewerMaxRetries
}

func (r *Reactor) qaEnabled() bool {
	return r.settings != nil && r.settings.Agent.QAEnabled
}

func (r *Reactor) qaMode() config.ReviewMode {
	if r.settings == nil || r.settings.Agent.QAMode == "" {
		return config.ReviewModePerSubtask
	}
	return r.settings.Agent.QAMode
}

func (r *Reactor) qaMaxRetries() int {
	if r.settings == nil {
		return 1
	}
	return r.settings.Agent.QAMaxRetries
}

func (r *Reactor) parallelEnabled() bool {
	return r.settings != nil && r.settings.Agent.ParallelEnabled
}

func (r *Reactor) architectReviewEnabled() bool {
	return r.settings == nil || r.settings.Agent.ArchitectReviewEnabled()
}

func (r *Reactor) worktreeBase() string {
	if r.settings != nil && r.settings.Agent.WorktreeBase != "" {
		return r.settings.Agent.WorktreeBase
	}
	return "/workspace-worktrees"
}

func (r *Reactor) worktreePath(taskID string) string {
	return path.Join(r.worktreeBase(), "task-"+taskID)
}

// messageLogEntry shapes a message for the activity log.
func messageLogEntry(msg *models.Message) map[string]any {
	entry := map[string]any{
		"type":      string(msg.Type),
		"timestamp": msg.Timestamp.Format(time.RFC3339Nano),
		"data":      msg.Data,
	}
	if msg.TaskID != "" {
		entry["task_id"] = msg.TaskID
	}
	if msg.AgentID != "" {
		entry["agent_id"] = msg.AgentID
	}
	return entry
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
