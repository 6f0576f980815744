package models

import (
	"fmt"

	"github.com/google/uuid"
)

// shortID returns "<prefix>_<8 hex chars>" using the first four bytes of a
// random UUID. Short enough for branch names and container names, random
// enough to never collide within one deployment.
func shortID(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%x", prefix, u[:4])
}

// NewTaskID generates a task identifier of the form "task_ab12cd34".
func NewTaskID() string {
	return shortID("task")
}

// NewCheckpointID generates a checkpoint identifier of the form "cp_ab12cd34".
func NewCheckpointID() string {
	return shortID("cp")
}
