package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/events"
	"github.com/legatus-hq/legatus/pkg/memory"
	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/store"
	"github.com/legatus-hq/legatus/test/util"
)

// testServer bundles the handler under test with the stores behind it so
// tests can seed and inspect state directly.
type testServer struct {
	handler     http.Handler
	client      *store.Client
	tasks       *store.TaskStore
	state       *store.StateStore
	checkpoints *store.CheckpointStore
	costs       *store.CostStore
	taskSvc     *services.TaskService
	checkSvc    *services.CheckpointService
	warnings    *services.SystemWarningsService
	spawner     *fakeSpawner
	hub         *events.Hub
}

// newTestServer wires a Server against a clean Redis. mem may be nil for
// tests that do not touch the memory routes.
func newTestServer(t *testing.T, mem *memory.Client) *testServer {
	client := util.SetupTestRedis(t)

	tasks := store.NewTaskStore(client)
	state := store.NewStateStore(client)
	checkpoints := store.NewCheckpointStore(client)
	costs := store.NewCostStore(client)

	sp := newFakeSpawner()
	taskSvc := services.NewTaskService(tasks, state, sp)
	checkSvc := services.NewCheckpointService(checkpoints, tasks)
	costSvc := services.NewCostService(costs)
	warnings := services.NewSystemWarningsService()
	hub := events.NewHub(0)

	srv := NewServer(Deps{
		Redis:       client,
		State:       state,
		Tasks:       taskSvc,
		Checkpoints: checkSvc,
		Costs:       costSvc,
		Warnings:    warnings,
		Hub:         hub,
		Memory:      mem,
		Settings:    config.DefaultSettings(),
	})

	return &testServer{
		handler:     srv.Handler(),
		client:      client,
		tasks:       tasks,
		state:       state,
		checkpoints: checkpoints,
		costs:       costs,
		taskSvc:     taskSvc,
		checkSvc:    checkSvc,
		warnings:    warnings,
		spawner:     sp,
		hub:         hub,
	}
}

// do issues one request against the handler and returns the recorder.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals the response body into out.
func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
		"body: %s", rec.Body.String())
}

// seedTask persists a task directly, bypassing the service layer.
func (ts *testServer) seedTask(t *testing.T, title string) *models.Task {
	task := models.NewTask(title, title)
	require.NoError(t, ts.tasks.Create(context.Background(), task))
	return task
}

// seedCheckpoint persists a pending checkpoint for the given task.
func (ts *testServer) seedCheckpoint(t *testing.T, taskID, title string) *models.Checkpoint {
	cp, err := ts.checkSvc.Create(context.Background(), taskID, title, "details", models.SourcePM)
	require.NoError(t, err)
	return cp
}

// fakeSpawner implements spawner.Spawner without touching Docker.
type fakeSpawner struct {
	mu      sync.Mutex
	spawned []models.AgentRole
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{}
}

func (f *fakeSpawner) SpawnAgent(_ context.Context, task *models.Task, role models.AgentRole) (*models.AgentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, role)
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

func (f *fakeSpawner) StopAgent(_ context.Context, _ *models.AgentRecord) error {
	return nil
}

func (f *fakeSpawner) CollectLogsAndRemove(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeSpawner) ContainerStatus(_ context.Context, _ string) (string, error) {
	return "exited", nil
}

func (f *fakeSpawner) spawnedRoles() []models.AgentRole {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AgentRole(nil), f.spawned...)
}
