package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/legatus-hq/legatus/pkg/models"
)

const (
	checkpointKeyPrefix = "checkpoint"
	pendingIndexKey     = "checkpoints:pending"
)

// CheckpointStore persists checkpoints and maintains the pending index,
// a sorted set scored by creation time.
type CheckpointStore struct {
	client *Client
}

// NewCheckpointStore creates a checkpoint store on the shared client.
func NewCheckpointStore(client *Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

func checkpointKey(checkpointID string) string {
	return fmt.Sprintf("%s:%s", checkpointKeyPrefix, checkpointID)
}

// Create persists a new checkpoint and adds it to the pending index.
func (s *CheckpointStore) Create(ctx context.Context, cp *models.Checkpoint) error {
	if err := s.Save(ctx, cp); err != nil {
		return err
	}
	if err := s.client.Redis().ZAdd(ctx, pendingIndexKey, redis.Z{
		Score:  unixScore(cp.CreatedAt),
		Member: cp.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// Save persists the checkpoint record without touching the pending index.
func (s *CheckpointStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %s: %w", cp.ID, err)
	}
	if err := s.client.Redis().Set(ctx, checkpointKey(cp.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// Get loads one checkpoint. Returns ErrNotFound for unknown IDs.
func (s *CheckpointStore) Get(ctx context.Context, checkpointID string) (*models.Checkpoint, error) {
	data, err := s.client.Redis().Get(ctx, checkpointKey(checkpointID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", checkpointID, err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", checkpointID, err)
	}
	return &cp, nil
}

// RemovePending drops a checkpoint from the pending index. The record
// itself stays for history.
func (s *CheckpointStore) RemovePending(ctx context.Context, checkpointID string) error {
	if err := s.client.Redis().ZRem(ctx, pendingIndexKey, checkpointID).Err(); err != nil {
		return fmt.Errorf("failed to unindex checkpoint %s: %w", checkpointID, err)
	}
	return nil
}

// ListPending returns pending checkpoints oldest first. Index entries whose
// record is gone or already resolved are skipped.
func (s *CheckpointStore) ListPending(ctx context.Context) ([]*models.Checkpoint, error) {
	ids, err := s.client.Redis().ZRange(ctx, pendingIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending checkpoints: %w", err)
	}

	pending := make([]*models.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cp.Status == models.CheckpointStatusPending {
			pending = append(pending, cp)
		}
	}
	return pending, nil
}
