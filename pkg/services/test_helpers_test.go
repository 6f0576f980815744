package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/store"
	"github.com/legatus-hq/legatus/test/util"
)

// testStores bundles the store handles service tests wire together.
type testStores struct {
	client      *store.Client
	tasks       *store.TaskStore
	state       *store.StateStore
	checkpoints *store.CheckpointStore
	costs       *store.CostStore
}

func setupStores(t *testing.T) *testStores {
	client := util.SetupTestRedis(t)
	return &testStores{
		client:      client,
		tasks:       store.NewTaskStore(client),
		state:       store.NewStateStore(client),
		checkpoints: store.NewCheckpointStore(client),
		costs:       store.NewCostStore(client),
	}
}

// testSettings returns settings with every optional agent stage disabled,
// the baseline most dispatcher tests start from.
func testSettings() *config.Settings {
	s := config.DefaultSettings()
	s.Agent.ReviewerEnabled = false
	s.Agent.QAEnabled = false
	s.Agent.ParallelEnabled = false
	return s
}

// spawnCall records one SpawnAgent invocation.
type spawnCall struct {
	taskID string
	role   models.AgentRole
}

// fakeSpawner implements spawner.Spawner without touching Docker. Spawn
// failures can be injected per task ID.
type fakeSpawner struct {
	mu      sync.Mutex
	spawned []spawnCall
	failFor map[string]error
	stopped []string
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{failFor: map[string]error{}}
}

func (f *fakeSpawner) failTask(taskID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[taskID] = err
}

func (f *fakeSpawner) SpawnAgent(_ context.Context, task *models.Task, role models.AgentRole) (*models.AgentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[task.ID]; err != nil {
		return nil, err
	}
	f.spawned = append(f.spawned, spawnCall{taskID: task.ID, role: role})
	now := time.Now().UTC()
	return &models.AgentRecord{
		ID:          models.NewAgentID(role),
		Role:        role,
		Status:      models.AgentStatusStarting,
		ContainerID: "ctr-" + task.ID,
		TaskID:      task.ID,
		StartedAt:   &now,
	}, nil
}

func (f *fakeSpawner) StopAgent(_ context.Context, agent *models.AgentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, agent.ID)
	return nil
}

func (f *fakeSpawner) CollectLogsAndRemove(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeSpawner) ContainerStatus(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeSpawner) calls() []spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]spawnCall, len(f.spawned))
	copy(out, f.spawned)
	return out
}

// mustStatus fetches a task and fails the test unless it has the wanted
// status.
func mustStatus(t *testing.T, tasks *store.TaskStore, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	task, err := tasks.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task %s: %v", taskID, err)
	}
	if task.Status != want {
		t.Fatalf("task %s status = %s, want %s", taskID, task.Status, want)
	}
	return task
}
