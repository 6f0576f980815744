// Package spawner runs agent roles as ephemeral Docker containers. Each
// agent gets the shared workspace (and, for sub-tasks, its own worktree)
// bind-mounted plus its assignment via environment variables, and reports
// back over Redis pub/sub.
package spawner

import (
	"context"

	"github.com/legatus-hq/legatus/pkg/models"
)

// Spawner is the container lifecycle surface the orchestrator depends on.
type Spawner interface {
	// SpawnAgent starts a container for the given role working on task
	// and returns its record in starting state.
	SpawnAgent(ctx context.Context, task *models.Task, role models.AgentRole) (*models.AgentRecord, error)

	// StopAgent stops and removes the agent's container. An already
	// removed container is not an error.
	StopAgent(ctx context.Context, agent *models.AgentRecord) error

	// CollectLogsAndRemove fetches the container's combined output and
	// removes the container. Returns "" when the container is already
	// gone.
	CollectLogsAndRemove(ctx context.Context, containerID string) (string, error)

	// ContainerStatus returns the container's state (running, exited,
	// ...), or "" when it no longer exists.
	ContainerStatus(ctx context.Context, containerID string) (string, error)
}
