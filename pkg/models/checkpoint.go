package models

import "time"

// CheckpointStatus tracks whether a human has resolved a checkpoint
type CheckpointStatus string

const (
	CheckpointStatusPending  CheckpointStatus = "pending"
	CheckpointStatusApproved CheckpointStatus = "approved"
	CheckpointStatusRejected CheckpointStatus = "rejected"
)

// IsValid checks if the checkpoint status is valid
func (s CheckpointStatus) IsValid() bool {
	switch s {
	case CheckpointStatusPending, CheckpointStatusApproved, CheckpointStatusRejected:
		return true
	default:
		return false
	}
}

// CheckpointSource identifies which flow raised a checkpoint. The resolution
// router dispatches on it, so every producer must use one of these values.
type CheckpointSource string

const (
	// SourcePM is a decomposition plan awaiting approval
	SourcePM CheckpointSource = "pm"
	// SourceArchitect is a design review awaiting approval
	SourceArchitect CheckpointSource = "architect"
	// SourceReviewer is a code review verdict or security concern
	SourceReviewer CheckpointSource = "reviewer"
	// SourceQA is a QA verdict after retries were exhausted
	SourceQA CheckpointSource = "qa"
	// SourceMergeConflict is a branch merge that needs manual resolution
	SourceMergeConflict CheckpointSource = "merge_conflict"
	// SourceAgentFailed is a sub-task agent failure surfaced on the parent
	SourceAgentFailed CheckpointSource = "agent_failed"
	// SourcePMAcceptance is a PM acceptance verdict on a finished campaign
	SourcePMAcceptance CheckpointSource = "pm_acceptance"
)

// IsValid checks if the checkpoint source is valid
func (s CheckpointSource) IsValid() bool {
	switch s {
	case SourcePM, SourceArchitect, SourceReviewer, SourceQA,
		SourceMergeConflict, SourceAgentFailed, SourcePMAcceptance:
		return true
	default:
		return false
	}
}

// Checkpoint is a human decision point. While one is pending the associated
// task is blocked; approving or rejecting it resumes the flow that raised it.
type Checkpoint struct {
	ID              string           `json:"id"`
	TaskID          string           `json:"task_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Status          CheckpointStatus `json:"status"`
	SourceRole      CheckpointSource `json:"source_role,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy      string           `json:"resolved_by,omitempty"`
}

// NewCheckpoint builds a pending checkpoint with a generated ID.
func NewCheckpoint(taskID, title, description string, source CheckpointSource) *Checkpoint {
	return &Checkpoint{
		ID:          NewCheckpointID(),
		TaskID:      taskID,
		Title:       title,
		Description: description,
		Status:      CheckpointStatusPending,
		SourceRole:  source,
		CreatedAt:   time.Now().UTC(),
	}
}
