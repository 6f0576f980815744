package models

import "time"

// CostEntry records the API spend of one agent run.
type CostEntry struct {
	TaskID    string    `json:"task_id"`
	AgentRole string    `json:"agent_role"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// CostBreakdown summarises spend for a project.
type CostBreakdown struct {
	Total   float64            `json:"total"`
	ByRole  map[string]float64 `json:"by_role"`
	Entries []CostEntry        `json:"entries"`
}
