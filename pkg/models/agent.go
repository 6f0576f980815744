package models

import "time"

// AgentRole identifies which kind of agent a container runs
type AgentRole string

const (
	// AgentRoleDev implements tasks in the workspace
	AgentRoleDev AgentRole = "dev"
	// AgentRolePM decomposes campaigns into sub-tasks
	AgentRolePM AgentRole = "pm"
	// AgentRoleArchitect reviews plans and produces design guidance
	AgentRoleArchitect AgentRole = "architect"
	// AgentRoleReviewer reviews completed dev work
	AgentRoleReviewer AgentRole = "reviewer"
	// AgentRoleQA writes and runs tests against completed work
	AgentRoleQA AgentRole = "qa"
	// AgentRoleDocs updates documentation
	AgentRoleDocs AgentRole = "docs"
)

// IsValid checks if the agent role is valid
func (r AgentRole) IsValid() bool {
	switch r {
	case AgentRoleDev, AgentRolePM, AgentRoleArchitect, AgentRoleReviewer, AgentRoleQA, AgentRoleDocs:
		return true
	default:
		return false
	}
}

// AgentStatus tracks the container lifecycle of a spawned agent
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusStarting AgentStatus = "starting"
	AgentStatusActive   AgentStatus = "active"
	AgentStatusStopping AgentStatus = "stopping"
	AgentStatusFailed   AgentStatus = "failed"
)

// IsValid checks if the agent status is valid
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusStarting, AgentStatusActive, AgentStatusStopping, AgentStatusFailed:
		return true
	default:
		return false
	}
}

// AgentRecord is the registry entry for a spawned agent container.
type AgentRecord struct {
	ID          string      `json:"id"`
	Role        AgentRole   `json:"role"`
	Status      AgentStatus `json:"status"`
	ContainerID string      `json:"container_id,omitempty"`
	TaskID      string      `json:"task_id,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// NewAgentID generates an agent identifier of the form "<role>_ab12cd34",
// e.g. "dev_ab12cd34". The ID doubles as the container name suffix.
func NewAgentID(role AgentRole) string {
	return shortID(string(role))
}
