package api

import (
	"github.com/legatus-hq/legatus/pkg/services"
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is the status of a single dependency.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PauseResponse is returned by POST /system/pause and /system/resume.
type PauseResponse struct {
	Paused bool `json:"paused"`
}

// SystemStatusResponse is returned by GET /system/status.
type SystemStatusResponse struct {
	Paused      bool                      `json:"paused"`
	Connections int                       `json:"ws_connections"`
	Warnings    []*services.SystemWarning `json:"warnings,omitempty"`
}

// DeleteMemoryResponse is returned by DELETE /memory/:id.
type DeleteMemoryResponse struct {
	Deleted string `json:"deleted"`
}
