package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/legatus-hq/legatus/pkg/models"
)

const (
	agentKeyPrefix = "agent"
	agentIndexKey  = "agents:all"
	activityLogKey = "logs:activity"
	pausedKey      = "system:paused"

	// activityLogCap bounds the activity log; older entries are trimmed.
	activityLogCap = 1000
)

// StateStore tracks agent registry entries, the rolling activity log, and
// the dispatch pause flag.
type StateStore struct {
	client *Client
}

// NewStateStore creates a state store on the shared client.
func NewStateStore(client *Client) *StateStore {
	return &StateStore{client: client}
}

func agentKey(agentID string) string {
	return fmt.Sprintf("%s:%s", agentKeyPrefix, agentID)
}

// SetAgent registers or updates an agent record.
func (s *StateStore) SetAgent(ctx context.Context, agent *models.AgentRecord) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to marshal agent %s: %w", agent.ID, err)
	}

	rdb := s.client.Redis()
	if err := rdb.Set(ctx, agentKey(agent.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store agent %s: %w", agent.ID, err)
	}
	if err := rdb.SAdd(ctx, agentIndexKey, agent.ID).Err(); err != nil {
		return fmt.Errorf("failed to index agent %s: %w", agent.ID, err)
	}
	return nil
}

// GetAgent loads one agent record. Returns ErrNotFound for unknown IDs.
func (s *StateStore) GetAgent(ctx context.Context, agentID string) (*models.AgentRecord, error) {
	data, err := s.client.Redis().Get(ctx, agentKey(agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}

	var agent models.AgentRecord
	if err := json.Unmarshal([]byte(data), &agent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent %s: %w", agentID, err)
	}
	return &agent, nil
}

// ListAgents returns all registered agents.
func (s *StateStore) ListAgents(ctx context.Context) ([]*models.AgentRecord, error) {
	ids, err := s.client.Redis().SMembers(ctx, agentIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	agents := make([]*models.AgentRecord, 0, len(ids))
	for _, id := range ids {
		agent, err := s.GetAgent(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// RemoveAgent deletes an agent record and its index entry.
func (s *StateStore) RemoveAgent(ctx context.Context, agentID string) error {
	rdb := s.client.Redis()
	if err := rdb.Del(ctx, agentKey(agentID)).Err(); err != nil {
		return fmt.Errorf("failed to delete agent %s: %w", agentID, err)
	}
	if err := rdb.SRem(ctx, agentIndexKey, agentID).Err(); err != nil {
		return fmt.Errorf("failed to unindex agent %s: %w", agentID, err)
	}
	return nil
}

// AppendLog pushes an entry onto the activity log, stamping it when the
// caller did not, and trims the log to its cap.
func (s *StateStore) AppendLog(ctx context.Context, entry map[string]any) error {
	if _, ok := entry["timestamp"]; !ok {
		entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	rdb := s.client.Redis()
	if err := rdb.LPush(ctx, activityLogKey, data).Err(); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	if err := rdb.LTrim(ctx, activityLogKey, 0, activityLogCap-1).Err(); err != nil {
		return fmt.Errorf("failed to trim activity log: %w", err)
	}
	return nil
}

// RecentLogs returns the newest limit entries, newest first.
func (s *StateStore) RecentLogs(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.client.Redis().LRange(ctx, activityLogKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}

	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		var entry map[string]any
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue // skip unparseable entries rather than failing the read
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SetPaused toggles the dispatch pause flag.
func (s *StateStore) SetPaused(ctx context.Context, paused bool) error {
	rdb := s.client.Redis()
	if paused {
		if err := rdb.Set(ctx, pausedKey, "1", 0).Err(); err != nil {
			return fmt.Errorf("failed to set pause flag: %w", err)
		}
		return nil
	}
	if err := rdb.Del(ctx, pausedKey).Err(); err != nil {
		return fmt.Errorf("failed to clear pause flag: %w", err)
	}
	return nil
}

// IsPaused reports whether task dispatch is paused.
func (s *StateStore) IsPaused(ctx context.Context) (bool, error) {
	n, err := s.client.Redis().Exists(ctx, pausedKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}
	return n > 0, nil
}
