package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/legatus-hq/legatus/pkg/models"
)

const costKeyPrefix = "costs"

// CostStore tracks API spend per project: a list of entries plus a running
// INCRBYFLOAT total.
type CostStore struct {
	client *Client
}

// NewCostStore creates a cost store on the shared client.
func NewCostStore(client *Client) *CostStore {
	return &CostStore{client: client}
}

func costKey(projectID string) string {
	if projectID == "" {
		projectID = "default"
	}
	return fmt.Sprintf("%s:%s", costKeyPrefix, projectID)
}

// Record stores a cost entry and updates the project's running total.
func (s *CostStore) Record(ctx context.Context, projectID string, entry models.CostEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cost entry: %w", err)
	}

	key := costKey(projectID)
	rdb := s.client.Redis()
	if err := rdb.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to record cost entry: %w", err)
	}
	if err := rdb.IncrByFloat(ctx, key+":total", entry.Cost).Err(); err != nil {
		return fmt.Errorf("failed to update cost total: %w", err)
	}
	return nil
}

// Breakdown returns the total, a per-role aggregation, and all entries for
// a project, newest first.
func (s *CostStore) Breakdown(ctx context.Context, projectID string) (*models.CostBreakdown, error) {
	key := costKey(projectID)
	rdb := s.client.Redis()

	total := 0.0
	totalRaw, err := rdb.Get(ctx, key+":total").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read cost total: %w", err)
	}
	if totalRaw != "" {
		if parsed, err := strconv.ParseFloat(totalRaw, 64); err == nil {
			total = parsed
		}
	}

	raw, err := rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cost entries: %w", err)
	}

	entries := make([]models.CostEntry, 0, len(raw))
	byRole := map[string]float64{}
	for _, item := range raw {
		var entry models.CostEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
		role := entry.AgentRole
		if role == "" {
			role = "unknown"
		}
		byRole[role] += entry.Cost
	}

	return &models.CostBreakdown{
		Total:   total,
		ByRole:  byRole,
		Entries: entries,
	}, nil
}
