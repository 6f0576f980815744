package models

import "time"

// TaskStatus defines the lifecycle states of a task
type TaskStatus string

const (
	// TaskStatusCreated is the initial state before planning
	TaskStatusCreated TaskStatus = "created"
	// TaskStatusPlanned means the task is ready for dispatch
	TaskStatusPlanned TaskStatus = "planned"
	// TaskStatusActive means an agent is working on the task
	TaskStatusActive TaskStatus = "active"
	// TaskStatusBlocked means the task is waiting on a human checkpoint
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusReview means agent work is done and awaiting review
	TaskStatusReview TaskStatus = "review"
	// TaskStatusTesting means the task is undergoing QA verification
	TaskStatusTesting TaskStatus = "testing"
	// TaskStatusDone is the terminal success state
	TaskStatusDone TaskStatus = "done"
	// TaskStatusRejected means the task failed or was declined; it may be re-planned
	TaskStatusRejected TaskStatus = "rejected"
)

// IsValid checks if the task status is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusCreated,
		TaskStatusPlanned,
		TaskStatusActive,
		TaskStatusBlocked,
		TaskStatusReview,
		TaskStatusTesting,
		TaskStatusDone,
		TaskStatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further work happens in this status.
// REJECTED is terminal for the current attempt but may still be re-planned.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusRejected
}

// validTransitions is the complete task state machine. update paths must
// go through TaskStore.UpdateStatus, which enforces this table.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusCreated:  {TaskStatusPlanned},
	TaskStatusPlanned:  {TaskStatusActive},
	TaskStatusActive:   {TaskStatusReview, TaskStatusBlocked, TaskStatusTesting},
	TaskStatusBlocked:  {TaskStatusActive},
	TaskStatusReview:   {TaskStatusDone, TaskStatusRejected, TaskStatusTesting},
	TaskStatusTesting:  {TaskStatusDone, TaskStatusRejected},
	TaskStatusRejected: {TaskStatusPlanned},
	TaskStatusDone:     {},
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s TaskStatus) []TaskStatus {
	return validTransitions[s]
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TaskType classifies the kind of work a task represents
type TaskType string

const (
	TaskTypeFeature  TaskType = "feature"
	TaskTypeBugFix   TaskType = "bug_fix"
	TaskTypeRefactor TaskType = "refactor"
	TaskTypeDocs     TaskType = "docs"
	TaskTypeTest     TaskType = "test"
)

// IsValid checks if the task type is valid
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeFeature, TaskTypeBugFix, TaskTypeRefactor, TaskTypeDocs, TaskTypeTest:
		return true
	default:
		return false
	}
}

// TaskEvent is one entry in a task's append-only history
type TaskEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	By        string    `json:"by,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Task is the unit of work tracked by the orchestrator. A task created from
// a user prompt is a campaign; the PM agent decomposes it into sub-tasks
// that reference their parent via ParentID.
type Task struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Description        string            `json:"description,omitempty"`
	Type               TaskType          `json:"type"`
	Status             TaskStatus        `json:"status"`
	Priority           int               `json:"priority"` // 1 (highest) to 5 (lowest)
	CreatedBy          string            `json:"created_by"`
	AssignedTo         string            `json:"assigned_to,omitempty"`
	DependsOn          []string          `json:"depends_on,omitempty"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty"`
	History            []TaskEvent       `json:"history"`
	ParentID           string            `json:"parent_id,omitempty"`
	SubtaskIDs         []string          `json:"subtask_ids,omitempty"`
	Project            string            `json:"project,omitempty"`
	Prompt             string            `json:"prompt,omitempty"`
	BranchName         string            `json:"branch_name,omitempty"`
	AgentOutputs       map[string]string `json:"agent_outputs,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// NewTask builds a task with generated ID and defaults. Callers record the
// initial "created" history event themselves so they can attribute it.
func NewTask(title, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:           NewTaskID(),
		Title:        title,
		Description:  description,
		Type:         TaskTypeFeature,
		Status:       TaskStatusCreated,
		Priority:     3,
		CreatedBy:    "user",
		History:      []TaskEvent{},
		AgentOutputs: map[string]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RecordEvent appends a history entry without touching status.
func (t *Task) RecordEvent(event, by, detail string) {
	t.History = append(t.History, TaskEvent{
		Timestamp: time.Now().UTC(),
		Event:     event,
		By:        by,
		Detail:    detail,
	})
}

// SetAgentOutput stores an agent's raw output under its role key. The map
// round-trips through JSON as nil when empty, so writes go through here.
func (t *Task) SetAgentOutput(key, value string) {
	if t.AgentOutputs == nil {
		t.AgentOutputs = map[string]string{}
	}
	t.AgentOutputs[key] = value
}

// IsSubtask reports whether the task belongs to a campaign.
func (t *Task) IsSubtask() bool {
	return t.ParentID != ""
}

// BranchPrefix returns the git branch namespace for this task's branches:
// the project name when set, otherwise "legatus".
func (t *Task) BranchPrefix() string {
	if t.Project != "" {
		return t.Project
	}
	return "legatus"
}
