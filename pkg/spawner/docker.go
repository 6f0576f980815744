package spawner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/models"
)

// Planning roles get tighter budgets than coding roles: they talk, they
// don't build.
const (
	plannerTimeoutCap  = 300
	plannerMaxTurnsCap = 30
)

const stopGraceSeconds = 10

// dockerAPI is the slice of the Docker client the spawner uses, split out so
// tests can substitute a fake.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
}

// DockerSpawner implements Spawner against the local Docker daemon.
type DockerSpawner struct {
	cli      dockerAPI
	settings *config.Settings
}

var _ Spawner = (*DockerSpawner)(nil)

// NewDockerSpawner connects to the daemon using the standard DOCKER_*
// environment with API version negotiation.
func NewDockerSpawner(settings *config.Settings) (*DockerSpawner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}
	return &DockerSpawner{cli: cli, settings: settings}, nil
}

// NewDockerSpawnerFromClient wires an existing client, used by tests.
func NewDockerSpawnerFromClient(cli dockerAPI, settings *config.Settings) *DockerSpawner {
	return &DockerSpawner{cli: cli, settings: settings}
}

// SpawnAgent starts an agent container for role on task. The workspace is
// always mounted at /workspace; when the task carries a branch its worktree
// is mounted too, at the same path the orchestrator created it under, so the
// worktree's gitdir references stay valid, and WORKSPACE_PATH points the
// agent there instead.
func (s *DockerSpawner) SpawnAgent(ctx context.Context, task *models.Task, role models.AgentRole) (*models.AgentRecord, error) {
	agentID := models.NewAgentID(role)
	agent := s.settings.Agent

	timeout := agent.Timeout
	maxTurns := agent.MaxTurns
	if role == models.AgentRolePM || role == models.AgentRoleArchitect {
		timeout = min(timeout, plannerTimeoutCap)
		maxTurns = min(maxTurns, plannerMaxTurnsCap)
	}

	workspacePath := "/workspace"
	binds := []string{agent.EffectiveHostWorkspacePath(s.settings.WorkspacePath) + ":/workspace:rw"}
	if task.BranchName != "" {
		worktree := path.Join(agent.WorktreeBase, "task-"+task.ID)
		hostWorktree := path.Join(agent.EffectiveHostWorktreeBase(), "task-"+task.ID)
		binds = append(binds, hostWorktree+":"+worktree+":rw")
		workspacePath = worktree
	}

	env := map[string]string{}
	for k, v := range agent.Env {
		env[k] = v
	}
	env["TASK_ID"] = task.ID
	env["AGENT_ID"] = agentID
	env["AGENT_ROLE"] = string(role)
	env["AGENT_TIMEOUT"] = strconv.Itoa(timeout)
	env["AGENT_MAX_TURNS"] = strconv.Itoa(maxTurns)
	env["REDIS_URL"] = s.settings.Redis.URL
	env["MEMORY_URL"] = s.settings.Memory.URL
	env["WORKSPACE_PATH"] = workspacePath
	env["PROJECT_ID"] = task.Project

	networkName, err := s.resolveNetwork(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("Spawning agent container",
		"role", role,
		"agent_id", agentID,
		"task_id", task.ID,
		"image", agent.Image,
	)

	created, err := s.cli.ContainerCreate(ctx,
		&container.Config{
			Image: agent.Image,
			Env:   envList(env),
			Labels: map[string]string{
				"legatus.agent_id": agentID,
				"legatus.task_id":  task.ID,
				"legatus.role":     string(role),
			},
		},
		&container.HostConfig{
			Binds:       binds,
			NetworkMode: container.NetworkMode(networkName),
		},
		nil, nil, "legatus-agent-"+agentID)
	if err != nil {
		return nil, fmt.Errorf("creating agent container: %w", err)
	}
	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = s.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("starting agent container: %w", err)
	}

	now := time.Now().UTC()
	return &models.AgentRecord{
		ID:          agentID,
		Role:        role,
		Status:      models.AgentStatusStarting,
		ContainerID: created.ID,
		TaskID:      task.ID,
		StartedAt:   &now,
	}, nil
}

// resolveNetwork validates the configured network, falling back to any
// network whose name mentions legatus (compose prefixes the project name).
func (s *DockerSpawner) resolveNetwork(ctx context.Context) (string, error) {
	name := s.settings.Agent.Network
	_, err := s.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return name, nil
	}
	if !cerrdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspecting docker network %q: %w", name, err)
	}

	matches, err := s.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", "legatus")),
	})
	if err != nil {
		return "", fmt.Errorf("listing docker networks: %w", err)
	}
	if len(matches) > 0 {
		slog.Warn("Configured docker network not found, using discovered network",
			"configured", name,
			"discovered", matches[0].Name,
		)
		return matches[0].Name, nil
	}

	all, listErr := s.cli.NetworkList(ctx, network.ListOptions{})
	available := make([]string, 0, len(all))
	if listErr == nil {
		for _, n := range all {
			available = append(available, n.Name)
		}
	}
	return "", fmt.Errorf("docker network %q not found, is the compose stack running? available: %v", name, available)
}

// StopAgent stops and removes the agent's container.
func (s *DockerSpawner) StopAgent(ctx context.Context, agent *models.AgentRecord) error {
	if agent.ContainerID == "" {
		return nil
	}
	grace := stopGraceSeconds
	if err := s.cli.ContainerStop(ctx, agent.ContainerID, container.StopOptions{Timeout: &grace}); err != nil {
		if cerrdefs.IsNotFound(err) {
			slog.Debug("Container already removed", "container_id", agent.ContainerID)
			return nil
		}
		return fmt.Errorf("stopping agent container: %w", err)
	}
	if err := s.cli.ContainerRemove(ctx, agent.ContainerID, container.RemoveOptions{}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("removing agent container: %w", err)
	}
	return nil
}

// CollectLogsAndRemove fetches combined stdout/stderr from a finished
// container and force-removes it.
func (s *DockerSpawner) CollectLogsAndRemove(ctx context.Context, containerID string) (string, error) {
	rc, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading agent container logs: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("demultiplexing agent container logs: %w", err)
	}
	if err := s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return "", fmt.Errorf("removing agent container: %w", err)
	}
	return buf.String(), nil
}

// ContainerStatus reports the container's state, or "" when it is gone.
func (s *DockerSpawner) ContainerStatus(ctx context.Context, containerID string) (string, error) {
	info, err := s.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("inspecting agent container: %w", err)
	}
	if info.State == nil {
		return "", nil
	}
	return info.State.Status, nil
}

// envList flattens the env map into docker's K=V form, sorted so container
// definitions are deterministic.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
