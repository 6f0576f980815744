package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"created to planned", TaskStatusCreated, TaskStatusPlanned, true},
		{"created to active skips planning", TaskStatusCreated, TaskStatusActive, false},
		{"planned to active", TaskStatusPlanned, TaskStatusActive, true},
		{"planned to done skips work", TaskStatusPlanned, TaskStatusDone, false},
		{"active to review", TaskStatusActive, TaskStatusReview, true},
		{"active to blocked", TaskStatusActive, TaskStatusBlocked, true},
		{"active to testing", TaskStatusActive, TaskStatusTesting, true},
		{"active straight to done", TaskStatusActive, TaskStatusDone, false},
		{"active straight to rejected", TaskStatusActive, TaskStatusRejected, false},
		{"blocked to active", TaskStatusBlocked, TaskStatusActive, true},
		{"blocked to review", TaskStatusBlocked, TaskStatusReview, false},
		{"blocked to done", TaskStatusBlocked, TaskStatusDone, false},
		{"review to done", TaskStatusReview, TaskStatusDone, true},
		{"review to rejected", TaskStatusReview, TaskStatusRejected, true},
		{"review to testing", TaskStatusReview, TaskStatusTesting, true},
		{"review back to active", TaskStatusReview, TaskStatusActive, false},
		{"testing to done", TaskStatusTesting, TaskStatusDone, true},
		{"testing to rejected", TaskStatusTesting, TaskStatusRejected, true},
		{"testing back to review", TaskStatusTesting, TaskStatusReview, false},
		{"rejected to planned for retry", TaskStatusRejected, TaskStatusPlanned, true},
		{"rejected to active", TaskStatusRejected, TaskStatusActive, false},
		{"done is terminal", TaskStatusDone, TaskStatusPlanned, false},
		{"done to rejected", TaskStatusDone, TaskStatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusDone.IsTerminal())
	assert.True(t, TaskStatusRejected.IsTerminal())
	assert.False(t, TaskStatusCreated.IsTerminal())
	assert.False(t, TaskStatusActive.IsTerminal())
	assert.False(t, TaskStatusBlocked.IsTerminal())
	assert.False(t, TaskStatusTesting.IsTerminal())
}

func TestAllowedTransitions(t *testing.T) {
	assert.ElementsMatch(t,
		[]TaskStatus{TaskStatusReview, TaskStatusBlocked, TaskStatusTesting},
		AllowedTransitions(TaskStatusActive))
	assert.Empty(t, AllowedTransitions(TaskStatusDone))
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("Add pagination", "Paginate the /items endpoint")

	assert.True(t, strings.HasPrefix(task.ID, "task_"))
	assert.Len(t, task.ID, len("task_")+8)
	assert.Equal(t, TaskStatusCreated, task.Status)
	assert.Equal(t, TaskTypeFeature, task.Type)
	assert.Equal(t, 3, task.Priority)
	assert.Equal(t, "user", task.CreatedBy)
	assert.Empty(t, task.History)
	assert.NotNil(t, task.AgentOutputs)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestNewTaskIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewTaskID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRecordEvent(t *testing.T) {
	task := NewTask("x", "")
	task.RecordEvent("created", "user", "")
	task.RecordEvent("status_change:planned", "pm_agent", "planned by PM")

	require.Len(t, task.History, 2)
	assert.Equal(t, "created", task.History[0].Event)
	assert.Equal(t, "user", task.History[0].By)
	assert.Equal(t, "status_change:planned", task.History[1].Event)
	assert.Equal(t, "planned by PM", task.History[1].Detail)
	assert.False(t, task.History[1].Timestamp.IsZero())
}

func TestTaskBranchPrefix(t *testing.T) {
	task := NewTask("x", "")
	assert.Equal(t, "legatus", task.BranchPrefix())

	task.Project = "webshop"
	assert.Equal(t, "webshop", task.BranchPrefix())
}

func TestTaskIsSubtask(t *testing.T) {
	task := NewTask("x", "")
	assert.False(t, task.IsSubtask())
	task.ParentID = "task_aabbccdd"
	assert.True(t, task.IsSubtask())
}

func TestTaskJSONRoundTrip(t *testing.T) {
	task := NewTask("Fix login", "Session cookie expires too early")
	task.Project = "webshop"
	task.ParentID = "task_11223344"
	task.DependsOn = []string{"task_55667788"}
	task.AgentOutputs["dev"] = `{"summary": "done"}`
	task.RecordEvent("created", "pm_agent", "sub-task 1/3")

	raw, err := json.Marshal(task)
	require.NoError(t, err)

	// Wire format uses snake_case keys.
	assert.Contains(t, string(raw), `"created_by"`)
	assert.Contains(t, string(raw), `"parent_id"`)
	assert.Contains(t, string(raw), `"agent_outputs"`)

	var got Task
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, TaskStatusCreated, got.Status)
	assert.Equal(t, task.AgentOutputs, got.AgentOutputs)
	require.Len(t, got.History, 1)
	assert.Equal(t, "sub-task 1/3", got.History[0].Detail)
}

func TestTaskTypeIsValid(t *testing.T) {
	assert.True(t, TaskTypeFeature.IsValid())
	assert.True(t, TaskTypeBugFix.IsValid())
	assert.False(t, TaskType("chore").IsValid())
}
