package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legatus-hq/legatus/pkg/services"
)

func TestPauseResume(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/system/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PauseResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Paused)

	var status SystemStatusResponse
	rec = ts.do(t, http.MethodGet, "/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.True(t, status.Paused)

	rec = ts.do(t, http.MethodPost, "/system/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.False(t, resp.Paused)

	rec = ts.do(t, http.MethodGet, "/system/status", nil)
	decode(t, rec, &status)
	assert.False(t, status.Paused)
}

func TestSystemStatusSurfacesWarnings(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.warnings.AddWarning(services.WarningCategoryMerge,
		"Failed to merge branch dev/task-x", "exit status 128", "task_x")

	rec := ts.do(t, http.MethodGet, "/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatusResponse
	decode(t, rec, &status)
	require.Len(t, status.Warnings, 1)
	assert.Equal(t, services.WarningCategoryMerge, status.Warnings[0].Category)
	assert.Equal(t, "task_x", status.Warnings[0].TaskID)
}
