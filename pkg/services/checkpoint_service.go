package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/store"
)

// ResolutionHooks receives checkpoint decisions after the checkpoint and
// its task have been updated in the store. The event reactor implements
// this to route each decision by the checkpoint's source role.
type ResolutionHooks interface {
	OnCheckpointApproved(ctx context.Context, taskID string, source models.CheckpointSource) error
	OnCheckpointRejected(ctx context.Context, taskID string, source models.CheckpointSource) error
}

// CheckpointService owns the checkpoint lifecycle: create (which blocks
// the task), approve, and reject (which unblock it and fire a hook).
type CheckpointService struct {
	checkpoints *store.CheckpointStore
	tasks       *store.TaskStore
	hooks       ResolutionHooks
}

// NewCheckpointService creates a new CheckpointService.
func NewCheckpointService(checkpoints *store.CheckpointStore, tasks *store.TaskStore) *CheckpointService {
	return &CheckpointService{checkpoints: checkpoints, tasks: tasks}
}

// SetHooks registers the resolution hooks. Must be called during wiring,
// before the service handles requests.
func (s *CheckpointService) SetHooks(hooks ResolutionHooks) {
	s.hooks = hooks
}

// Create persists a pending checkpoint and blocks its task. The block is
// applied only when the task is currently ACTIVE; flows that raise
// checkpoints from other states (a merged sub-task already DONE, say)
// keep their status, and the pending checkpoint alone pauses the campaign.
// The checkpoint is returned even when blocking fails; it is persisted
// first and stays resolvable.
func (s *CheckpointService) Create(ctx context.Context, taskID, title, description string, source models.CheckpointSource) (*models.Checkpoint, error) {
	cp := models.NewCheckpoint(taskID, title, description, source)
	if err := s.checkpoints.Create(ctx, cp); err != nil {
		return nil, err
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return cp, fmt.Errorf("checkpoint %s created but task lookup failed: %w", cp.ID, err)
	}
	if task.Status != models.TaskStatusActive {
		slog.Debug("Checkpoint created without blocking task",
			"checkpoint_id", cp.ID, "task_id", taskID, "task_status", task.Status)
		return cp, nil
	}

	detail := fmt.Sprintf("checkpoint=%s: %s", cp.ID, title)
	if _, err := s.tasks.UpdateStatus(ctx, taskID, models.TaskStatusBlocked, "checkpoint", detail); err != nil {
		return cp, fmt.Errorf("checkpoint %s created but task %s could not be blocked: %w", cp.ID, taskID, err)
	}
	return cp, nil
}

// Get loads one checkpoint by ID.
func (s *CheckpointService) Get(ctx context.Context, checkpointID string) (*models.Checkpoint, error) {
	return s.checkpoints.Get(ctx, checkpointID)
}

// ListPending returns unresolved checkpoints, oldest first.
func (s *CheckpointService) ListPending(ctx context.Context) ([]*models.Checkpoint, error) {
	return s.checkpoints.ListPending(ctx)
}

// Approve marks a checkpoint approved, unblocks its task, and fires the
// approval hook. Approving a resolved checkpoint returns ErrAlreadyResolved.
func (s *CheckpointService) Approve(ctx context.Context, checkpointID string) (*models.Checkpoint, error) {
	return s.resolve(ctx, checkpointID, models.CheckpointStatusApproved, "")
}

// Reject marks a checkpoint rejected with an optional reason, unblocks its
// task, and fires the rejection hook.
func (s *CheckpointService) Reject(ctx context.Context, checkpointID, reason string) (*models.Checkpoint, error) {
	return s.resolve(ctx, checkpointID, models.CheckpointStatusRejected, reason)
}

func (s *CheckpointService) resolve(ctx context.Context, checkpointID string, decision models.CheckpointStatus, reason string) (*models.Checkpoint, error) {
	cp, err := s.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.Status != models.CheckpointStatusPending {
		return cp, fmt.Errorf("%w: checkpoint %s is %s", ErrAlreadyResolved, cp.ID, cp.Status)
	}

	now := time.Now().UTC()
	cp.Status = decision
	cp.ResolvedAt = &now
	cp.ResolvedBy = "user"
	cp.RejectionReason = reason
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return nil, err
	}
	if err := s.checkpoints.RemovePending(ctx, cp.ID); err != nil {
		return nil, err
	}

	s.unblockTask(ctx, cp, decision, reason)

	// The hook drives follow-on orchestration (dispatch, merges, more
	// agents). Its failures are logged, not surfaced: the decision
	// itself is already durable.
	if s.hooks != nil {
		var hookErr error
		if decision == models.CheckpointStatusApproved {
			hookErr = s.hooks.OnCheckpointApproved(ctx, cp.TaskID, cp.SourceRole)
		} else {
			hookErr = s.hooks.OnCheckpointRejected(ctx, cp.TaskID, cp.SourceRole)
		}
		if hookErr != nil {
			slog.Error("Checkpoint resolution hook failed",
				"checkpoint_id", cp.ID, "task_id", cp.TaskID,
				"source_role", cp.SourceRole, "decision", decision, "error", hookErr)
		}
	}
	return cp, nil
}

// unblockTask moves the checkpoint's task BLOCKED -> ACTIVE so the
// resolution hook can transition it further. Tasks that were never
// blocked (see Create) are left alone.
func (s *CheckpointService) unblockTask(ctx context.Context, cp *models.Checkpoint, decision models.CheckpointStatus, reason string) {
	task, err := s.tasks.Get(ctx, cp.TaskID)
	if err != nil {
		slog.Warn("Resolved checkpoint references unknown task",
			"checkpoint_id", cp.ID, "task_id", cp.TaskID, "error", err)
		return
	}
	if task.Status != models.TaskStatusBlocked {
		return
	}

	detail := fmt.Sprintf("checkpoint %s approved", cp.ID)
	if decision == models.CheckpointStatusRejected {
		detail = fmt.Sprintf("checkpoint %s rejected: %s", cp.ID, reason)
	}
	if _, err := s.tasks.UpdateStatus(ctx, cp.TaskID, models.TaskStatusActive, "user", detail); err != nil {
		slog.Error("Failed to unblock task after checkpoint resolution",
			"checkpoint_id", cp.ID, "task_id", cp.TaskID, "error", err)
	}
}
