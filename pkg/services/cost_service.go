package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/store"
)

// CostService aggregates API spend reported by agents, grouped by project.
type CostService struct {
	costs *store.CostStore
}

// NewCostService creates a CostService.
func NewCostService(costs *store.CostStore) *CostService {
	return &CostService{costs: costs}
}

// RecordTaskCost books the spend an agent reported for a task. Tasks
// without a project land in the "default" bucket.
func (s *CostService) RecordTaskCost(ctx context.Context, task *models.Task, role models.AgentRole, cost float64) error {
	project := task.Project
	if project == "" {
		project = "default"
	}
	entry := models.CostEntry{
		TaskID:    task.ID,
		AgentRole: string(role),
		Cost:      cost,
		Timestamp: time.Now().UTC(),
	}
	if err := s.costs.Record(ctx, project, entry); err != nil {
		return err
	}
	slog.Debug("Recorded task cost",
		"task_id", task.ID, "role", string(role), "cost", cost, "project", project)
	return nil
}

// Breakdown returns the spend summary for a project ("" means "default").
func (s *CostService) Breakdown(ctx context.Context, projectID string) (*models.CostBreakdown, error) {
	return s.costs.Breakdown(ctx, projectID)
}
