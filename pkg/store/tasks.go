package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legatus-hq/legatus/pkg/models"
)

const (
	taskKeyPrefix = "task"
	taskIndexKey  = "tasks:all"
)

// TaskStore is the CRUD layer for tasks. Status changes must go through
// UpdateStatus, which is the only writer that validates transitions and
// appends history.
type TaskStore struct {
	client *Client
}

// NewTaskStore creates a task store on the shared client.
func NewTaskStore(client *Client) *TaskStore {
	return &TaskStore{client: client}
}

func taskKey(taskID string) string {
	return fmt.Sprintf("%s:%s", taskKeyPrefix, taskID)
}

// unixScore converts a timestamp to a sorted-set score with sub-second
// precision, so records created in the same second keep their order.
func unixScore(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Create persists a new task and indexes it by creation time.
func (s *TaskStore) Create(ctx context.Context, task *models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	rdb := s.client.Redis()
	if err := rdb.Set(ctx, taskKey(task.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.ID, err)
	}
	if err := rdb.ZAdd(ctx, taskIndexKey, redis.Z{
		Score:  unixScore(task.CreatedAt),
		Member: task.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index task %s: %w", task.ID, err)
	}
	return nil
}

// Get loads one task. Returns ErrNotFound when the ID is unknown.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	data, err := s.client.Redis().Get(ctx, taskKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// ListAll returns every task in creation order.
func (s *TaskStore) ListAll(ctx context.Context) ([]*models.Task, error) {
	ids, err := s.client.Redis().ZRange(ctx, taskIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // index entry outlived the record
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Update persists a modified task and bumps its updated_at stamp.
func (s *TaskStore) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	if err := s.client.Redis().Set(ctx, taskKey(task.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateStatus validates and executes a status transition, recording a
// "status_change:<status>" history event attributed to by/detail.
func (s *TaskStore) UpdateStatus(ctx context.Context, taskID string, newStatus models.TaskStatus, by, detail string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.Status.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s (allowed: %v)",
			ErrInvalidTransition, task.Status, newStatus, models.AllowedTransitions(task.Status))
	}

	task.Status = newStatus
	task.RecordEvent(fmt.Sprintf("status_change:%s", newStatus), by, detail)

	if err := s.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// GetByStatus returns all tasks currently in the given status.
func (s *TaskStore) GetByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.Task
	for _, task := range all {
		if task.Status == status {
			matched = append(matched, task)
		}
	}
	return matched, nil
}

// GetNextReady returns the highest-priority PLANNED task whose dependencies
// are all DONE, or nil when nothing is ready. Lower priority number wins.
func (s *TaskStore) GetNextReady(ctx context.Context) (*models.Task, error) {
	planned, err := s.GetByStatus(ctx, models.TaskStatusPlanned)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].Priority < planned[j].Priority
	})

	for _, task := range planned {
		ready, err := s.DependenciesDone(ctx, task)
		if err != nil {
			return nil, err
		}
		if ready {
			return task, nil
		}
	}
	return nil, nil
}

// DependenciesDone reports whether every task in DependsOn is DONE. A
// missing dependency counts as not done.
func (s *TaskStore) DependenciesDone(ctx context.Context, task *models.Task) (bool, error) {
	for _, depID := range task.DependsOn {
		dep, err := s.Get(ctx, depID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if dep.Status != models.TaskStatusDone {
			return false, nil
		}
	}
	return true, nil
}
