package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/store"
	"github.com/legatus-hq/legatus/test/util"
)

func TestTaskStoreCreateAndGet(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	task := models.NewTask("Add pagination", "Paginate the /items endpoint")
	task.RecordEvent("created", "user", "")
	require.NoError(t, tasks.Create(ctx, task))

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "Add pagination", got.Title)
	assert.Equal(t, models.TaskStatusCreated, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, "created", got.History[0].Event)
}

func TestTaskStoreGetUnknown(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)

	_, err := tasks.Get(context.Background(), "task_00000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskStoreListAllKeepsCreationOrder(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	first := models.NewTask("first", "")
	second := models.NewTask("second", "")
	second.CreatedAt = first.CreatedAt.Add(10 * time.Millisecond)
	third := models.NewTask("third", "")
	third.CreatedAt = first.CreatedAt.Add(20 * time.Millisecond)

	// Insert out of order; the index sorts by creation time.
	require.NoError(t, tasks.Create(ctx, third))
	require.NoError(t, tasks.Create(ctx, first))
	require.NoError(t, tasks.Create(ctx, second))

	all, err := tasks.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Title)
	assert.Equal(t, "second", all[1].Title)
	assert.Equal(t, "third", all[2].Title)
}

func TestTaskStoreUpdateStatus(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	task := models.NewTask("x", "")
	require.NoError(t, tasks.Create(ctx, task))

	updated, err := tasks.UpdateStatus(ctx, task.ID, models.TaskStatusPlanned, "pm_agent", "planned by PM")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPlanned, updated.Status)
	require.Len(t, updated.History, 1)
	assert.Equal(t, "status_change:planned", updated.History[0].Event)
	assert.Equal(t, "pm_agent", updated.History[0].By)
	assert.Equal(t, "planned by PM", updated.History[0].Detail)
	assert.True(t, updated.UpdatedAt.After(task.CreatedAt) || updated.UpdatedAt.Equal(task.CreatedAt))

	// The change persisted
	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPlanned, got.Status)
}

func TestTaskStoreUpdateStatusRejectsIllegalTransition(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	task := models.NewTask("x", "")
	require.NoError(t, tasks.Create(ctx, task))

	_, err := tasks.UpdateStatus(ctx, task.ID, models.TaskStatusDone, "user", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Status unchanged, no history appended
	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCreated, got.Status)
	assert.Empty(t, got.History)
}

func TestTaskStoreGetByStatus(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	a := models.NewTask("a", "")
	b := models.NewTask("b", "")
	require.NoError(t, tasks.Create(ctx, a))
	require.NoError(t, tasks.Create(ctx, b))
	_, err := tasks.UpdateStatus(ctx, b.ID, models.TaskStatusPlanned, "", "")
	require.NoError(t, err)

	planned, err := tasks.GetByStatus(ctx, models.TaskStatusPlanned)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, b.ID, planned[0].ID)
}

func TestTaskStoreGetNextReady(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	mustPlanned := func(task *models.Task) {
		t.Helper()
		require.NoError(t, tasks.Create(ctx, task))
		_, err := tasks.UpdateStatus(ctx, task.ID, models.TaskStatusPlanned, "", "")
		require.NoError(t, err)
	}

	urgent := models.NewTask("urgent", "")
	urgent.Priority = 1
	casual := models.NewTask("casual", "")
	casual.Priority = 5
	mustPlanned(casual)
	mustPlanned(urgent)

	next, err := tasks.GetNextReady(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "urgent", next.Title, "lower priority number wins")
}

func TestTaskStoreGetNextReadySkipsUnmetDependencies(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)
	ctx := context.Background()

	dep := models.NewTask("dep", "")
	require.NoError(t, tasks.Create(ctx, dep))

	blocked := models.NewTask("needs dep", "")
	blocked.Priority = 1
	blocked.DependsOn = []string{dep.ID}
	require.NoError(t, tasks.Create(ctx, blocked))
	_, err := tasks.UpdateStatus(ctx, blocked.ID, models.TaskStatusPlanned, "", "")
	require.NoError(t, err)

	free := models.NewTask("independent", "")
	free.Priority = 4
	require.NoError(t, tasks.Create(ctx, free))
	_, err = tasks.UpdateStatus(ctx, free.ID, models.TaskStatusPlanned, "", "")
	require.NoError(t, err)

	// Dependency not DONE, so the lower-priority independent task wins.
	next, err := tasks.GetNextReady(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "independent", next.Title)

	// Walk the dependency to DONE, then the priority-1 task is ready.
	for _, status := range []models.TaskStatus{
		models.TaskStatusPlanned, models.TaskStatusActive,
		models.TaskStatusReview, models.TaskStatusDone,
	} {
		_, err := tasks.UpdateStatus(ctx, dep.ID, status, "", "")
		require.NoError(t, err)
	}

	next, err = tasks.GetNextReady(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "needs dep", next.Title)
}

func TestTaskStoreGetNextReadyEmpty(t *testing.T) {
	client := util.SetupTestRedis(t)
	tasks := store.NewTaskStore(client)

	next, err := tasks.GetNextReady(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}
