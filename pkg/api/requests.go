package api

// CreateTaskRequest is the HTTP request body for POST /tasks.
type CreateTaskRequest struct {
	Prompt  string `json:"prompt" binding:"required"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`

	// Direct skips PM decomposition and dispatches a dev agent straight
	// onto the task.
	Direct bool `json:"direct,omitempty"`
}

// RejectCheckpointRequest is the optional HTTP request body for
// POST /checkpoints/:id/reject. The reason may also arrive as a query
// parameter; the body wins when both are present.
type RejectCheckpointRequest struct {
	Reason string `json:"reason,omitempty"`
}
