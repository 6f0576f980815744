package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/spawner"
	"github.com/legatus-hq/legatus/pkg/store"
)

// maxTitleRunes caps auto-derived campaign titles.
const maxTitleRunes = 80

// TaskService owns campaign creation and the compound lifecycle moves
// (complete, fail) that span several single status transitions.
type TaskService struct {
	tasks   *store.TaskStore
	state   *store.StateStore
	spawner spawner.Spawner
}

// NewTaskService creates a new TaskService.
func NewTaskService(tasks *store.TaskStore, state *store.StateStore, sp spawner.Spawner) *TaskService {
	return &TaskService{tasks: tasks, state: state, spawner: sp}
}

// CreateCampaignRequest is the input for CreateCampaign.
type CreateCampaignRequest struct {
	Prompt  string `json:"prompt"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`

	// Direct skips PM decomposition and puts a dev agent straight on
	// the campaign task.
	Direct bool `json:"direct,omitempty"`
}

// CreateCampaign creates a root task from a user prompt and spawns its
// first agent: a PM to decompose the work, or a dev when the request asks
// for direct dispatch. The task is left ACTIVE and assigned to the agent.
func (s *TaskService) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*models.Task, error) {
	if req.Prompt == "" {
		return nil, NewValidationError("prompt", "must not be empty")
	}

	title := req.Title
	if title == "" {
		title = truncateRunes(req.Prompt, maxTitleRunes)
	}

	task := models.NewTask(title, req.Prompt)
	task.Prompt = req.Prompt
	task.Project = req.Project
	task.RecordEvent("created", "user", "")
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	planDetail := "queued for planning"
	role := models.AgentRolePM
	if req.Direct {
		planDetail = "auto-planned (direct dispatch)"
		role = models.AgentRoleDev
	}
	task, err := s.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusPlanned, "orchestrator", planDetail)
	if err != nil {
		return nil, err
	}

	agent, err := s.spawner.SpawnAgent(ctx, task, role)
	if err != nil {
		slog.Error("Failed to spawn agent for new campaign",
			"task_id", task.ID, "role", role, "error", err)
		if werr := walkToRejected(ctx, s.tasks, task.ID, "orchestrator", fmt.Sprintf("spawn failed: %v", err)); werr != nil {
			slog.Error("Failed to mark campaign rejected after spawn failure",
				"task_id", task.ID, "error", werr)
		}
		return nil, fmt.Errorf("failed to spawn %s agent for task %s: %w", role, task.ID, err)
	}
	if err := s.state.SetAgent(ctx, agent); err != nil {
		return nil, err
	}

	task, err = s.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusActive, "orchestrator", "agent="+agent.ID)
	if err != nil {
		return nil, err
	}
	task.AssignedTo = agent.ID
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get loads one task by ID.
func (s *TaskService) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return s.tasks.Get(ctx, taskID)
}

// List returns all tasks in creation order.
func (s *TaskService) List(ctx context.Context) ([]*models.Task, error) {
	return s.tasks.ListAll(ctx)
}

// History returns finished tasks (DONE or REJECTED), most recently updated
// first. A non-positive limit returns all of them.
func (s *TaskService) History(ctx context.Context, limit int) ([]*models.Task, error) {
	all, err := s.tasks.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	finished := make([]*models.Task, 0, len(all))
	for _, task := range all {
		if task.Status.IsTerminal() {
			finished = append(finished, task)
		}
	}
	sort.SliceStable(finished, func(i, j int) bool {
		return finished[i].UpdatedAt.After(finished[j].UpdatedAt)
	})
	if limit > 0 && len(finished) > limit {
		finished = finished[:limit]
	}
	return finished, nil
}

// CompleteTask finishes a task that has no review gates configured:
// ACTIVE -> REVIEW -> DONE.
func (s *TaskService) CompleteTask(ctx context.Context, taskID string) (*models.Task, error) {
	if _, err := s.tasks.UpdateStatus(ctx, taskID, models.TaskStatusReview, "agent", "task completed"); err != nil {
		return nil, err
	}
	return s.tasks.UpdateStatus(ctx, taskID, models.TaskStatusDone, "orchestrator", "auto-approved")
}

// FailTask walks a task to REJECTED along valid transitions, whatever its
// current status. Intermediate hops are attributed to the agent that
// reported the failure; the final hop records the bare error.
func (s *TaskService) FailTask(ctx context.Context, taskID, errMsg string) (*models.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for !task.Status.IsTerminal() {
		next, ok := rejectPath[task.Status]
		if !ok {
			return nil, fmt.Errorf("no path to rejected from status %s for task %s", task.Status, taskID)
		}
		by, detail := "agent", "failed: "+errMsg
		if next == models.TaskStatusRejected {
			by, detail = "orchestrator", errMsg
		}
		task, err = s.tasks.UpdateStatus(ctx, taskID, next, by, detail)
		if err != nil {
			return nil, err
		}
	}
	return task, nil
}

// rejectPath gives the next hop toward REJECTED from each non-terminal
// status. Compound moves must follow it so every hop stays inside the
// transition table.
var rejectPath = map[models.TaskStatus]models.TaskStatus{
	models.TaskStatusCreated: models.TaskStatusPlanned,
	models.TaskStatusPlanned: models.TaskStatusActive,
	models.TaskStatusBlocked: models.TaskStatusActive,
	models.TaskStatusActive:  models.TaskStatusReview,
	models.TaskStatusReview:  models.TaskStatusRejected,
	models.TaskStatusTesting: models.TaskStatusRejected,
}

// walkToRejected advances a task hop by hop until it reaches REJECTED,
// attributing every hop to the same actor and detail. Already-terminal
// tasks are left alone.
func walkToRejected(ctx context.Context, tasks *store.TaskStore, taskID, by, detail string) error {
	task, err := tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	for !task.Status.IsTerminal() {
		next, ok := rejectPath[task.Status]
		if !ok {
			return fmt.Errorf("no path to rejected from status %s for task %s", task.Status, taskID)
		}
		task, err = tasks.UpdateStatus(ctx, taskID, next, by, detail)
		if err != nil {
			return err
		}
	}
	return nil
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
