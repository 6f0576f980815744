package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeDefaultsWhenFileMissing(t *testing.T) {
	settings, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", settings.Redis.URL)
	assert.Equal(t, "http://localhost:8000", settings.Memory.URL)
	assert.Equal(t, "0.0.0.0", settings.Orchestrator.Host)
	assert.Equal(t, 8420, settings.Orchestrator.RESTPort)
	assert.Equal(t, "legatus-agent:latest", settings.Agent.Image)
	assert.Equal(t, 600, settings.Agent.Timeout)
	assert.Equal(t, 50, settings.Agent.MaxTurns)
	assert.Equal(t, "legatus_default", settings.Agent.Network)
	assert.Equal(t, "/workspace-worktrees", settings.Agent.WorktreeBase)
	assert.True(t, settings.Agent.ArchitectReviewEnabled())
	assert.False(t, settings.Agent.ReviewerEnabled)
	assert.Equal(t, ReviewModePerSubtask, settings.Agent.ReviewMode)
	assert.Equal(t, 1, settings.Agent.ReviewerMaxRetries)
	assert.False(t, settings.Agent.QAEnabled)
	assert.False(t, settings.Agent.ParallelEnabled)
	assert.Equal(t, "/workspace", settings.WorkspacePath)
}

func TestInitializeMergesFileOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
redis:
  url: redis://redis:6379
agent:
  image: legatus-agent:v2
  reviewer_enabled: true
  review_mode: per_campaign
  parallel_enabled: true
  env:
    ANTHROPIC_API_KEY: sk-test
`)

	settings, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Overridden
	assert.Equal(t, "redis://redis:6379", settings.Redis.URL)
	assert.Equal(t, "legatus-agent:v2", settings.Agent.Image)
	assert.True(t, settings.Agent.ReviewerEnabled)
	assert.Equal(t, ReviewModePerCampaign, settings.Agent.ReviewMode)
	assert.True(t, settings.Agent.ParallelEnabled)
	assert.Equal(t, "sk-test", settings.Agent.Env["ANTHROPIC_API_KEY"])

	// Unset fields keep defaults
	assert.Equal(t, "http://localhost:8000", settings.Memory.URL)
	assert.Equal(t, 600, settings.Agent.Timeout)
	assert.Equal(t, 8420, settings.Orchestrator.RESTPort)
}

func TestInitializeArchitectReviewExplicitFalse(t *testing.T) {
	dir := writeConfig(t, `
agent:
  architect_review: false
`)

	settings, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, settings.Agent.ArchitectReviewEnabled())
}

func TestInitializeEnvTemplateExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_HOST", "redis.internal")
	dir := writeConfig(t, `
redis:
  url: redis://{{.TEST_REDIS_HOST}}:6379
`)

	settings, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "redis://redis.internal:6379", settings.Redis.URL)
}

func TestInitializeEnvOverrides(t *testing.T) {
	t.Setenv("LEGATUS_REDIS__URL", "redis://envhost:6380")
	t.Setenv("LEGATUS_ORCHESTRATOR__REST_PORT", "9000")
	t.Setenv("LEGATUS_AGENT__QA_ENABLED", "true")
	t.Setenv("LEGATUS_AGENT__ARCHITECT_REVIEW", "false")
	t.Setenv("LEGATUS_WORKSPACE_PATH", "/srv/workspace")

	settings, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "redis://envhost:6380", settings.Redis.URL)
	assert.Equal(t, 9000, settings.Orchestrator.RESTPort)
	assert.True(t, settings.Agent.QAEnabled)
	assert.False(t, settings.Agent.ArchitectReviewEnabled())
	assert.Equal(t, "/srv/workspace", settings.WorkspacePath)
}

func TestInitializeEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("LEGATUS_AGENT__IMAGE", "legatus-agent:env")
	dir := writeConfig(t, `
agent:
  image: legatus-agent:file
`)

	settings, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "legatus-agent:env", settings.Agent.Image)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "redis: [unclosed")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ConfigFileName, loadErr.File)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		section string
		field   string
	}{
		{
			name:    "bad redis scheme",
			yaml:    "redis:\n  url: http://localhost:6379\n",
			section: "redis",
			field:   "url",
		},
		{
			name:    "bad review mode",
			yaml:    "agent:\n  review_mode: always\n",
			section: "agent",
			field:   "review_mode",
		},
		{
			name:    "bad qa mode",
			yaml:    "agent:\n  qa_mode: nightly\n",
			section: "agent",
			field:   "qa_mode",
		},
		{
			name:    "negative timeout",
			yaml:    "agent:\n  timeout: -5\n",
			section: "agent",
			field:   "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)

			var valErr *ValidationError
			require.True(t, errors.As(err, &valErr))
			assert.Equal(t, tt.section, valErr.Section)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
}

func TestEffectiveHostPaths(t *testing.T) {
	agent := AgentSettings{WorktreeBase: "/workspace-worktrees"}
	assert.Equal(t, "/workspace", agent.EffectiveHostWorkspacePath("/workspace"))
	assert.Equal(t, "/workspace-worktrees", agent.EffectiveHostWorktreeBase())

	agent.HostWorkspacePath = "/srv/repo"
	agent.HostWorktreeBase = "/srv/worktrees"
	assert.Equal(t, "/srv/repo", agent.EffectiveHostWorkspacePath("/workspace"))
	assert.Equal(t, "/srv/worktrees", agent.EffectiveHostWorktreeBase())
}

func TestReviewModeIsValid(t *testing.T) {
	assert.True(t, ReviewModePerSubtask.IsValid())
	assert.True(t, ReviewModePerCampaign.IsValid())
	assert.False(t, ReviewMode("per_commit").IsValid())
}
