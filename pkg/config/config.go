package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file Initialize looks for inside the config
// directory. The file is optional: a missing file means defaults plus
// LEGATUS_* environment overrides.
const ConfigFileName = "legatus.yaml"

// Settings is the root orchestrator configuration.
type Settings struct {
	Redis         RedisSettings        `yaml:"redis"`
	Memory        MemorySettings       `yaml:"memory"`
	Orchestrator  OrchestratorSettings `yaml:"orchestrator"`
	Agent         AgentSettings        `yaml:"agent"`
	WorkspacePath string               `yaml:"workspace_path"`
}

// RedisSettings configures the Redis connection used for both storage and
// pub/sub channels.
type RedisSettings struct {
	URL string `yaml:"url"`
}

// MemorySettings configures the external memory service.
type MemorySettings struct {
	URL string `yaml:"url"`
}

// OrchestratorSettings configures the HTTP/WebSocket listener.
type OrchestratorSettings struct {
	Host     string `yaml:"host"`
	RESTPort int    `yaml:"rest_port"`
}

// AgentSettings configures agent containers and the review/QA pipeline.
type AgentSettings struct {
	// Image is the container image every agent role runs.
	Image string `yaml:"image"`

	// Timeout is the per-agent budget in seconds. Planning roles (pm,
	// architect) are clamped to at most 300 at spawn time.
	Timeout int `yaml:"timeout"`

	// MaxTurns is the per-agent conversation turn budget. Planning roles
	// are clamped to at most 30 at spawn time.
	MaxTurns int `yaml:"max_turns"`

	// Network is the container network agents join. When it does not
	// exist the spawner falls back to the first network whose name
	// contains "legatus".
	Network string `yaml:"network"`

	// HostWorkspacePath is the host-side path of the shared workspace,
	// needed because the orchestrator itself runs in a container and
	// bind mounts resolve on the host. Empty means WorkspacePath.
	HostWorkspacePath string `yaml:"host_workspace_path"`

	// WorktreeBase is where per-task git worktrees are created
	// (orchestrator-side path).
	WorktreeBase string `yaml:"worktree_base"`

	// HostWorktreeBase is the host-side path of WorktreeBase for bind
	// mounting worktrees into agent containers. Empty means WorktreeBase.
	HostWorktreeBase string `yaml:"host_worktree_base"`

	// ArchitectReview routes approved plans through an architect agent
	// before dispatch. Defaults to true; use a pointer so an explicit
	// "false" in YAML survives merging.
	ArchitectReview *bool `yaml:"architect_review"`

	ReviewerEnabled    bool       `yaml:"reviewer_enabled"`
	ReviewMode         ReviewMode `yaml:"review_mode"`
	ReviewerMaxRetries int        `yaml:"reviewer_max_retries"`

	QAEnabled    bool       `yaml:"qa_enabled"`
	QAMode       ReviewMode `yaml:"qa_mode"`
	QAMaxRetries int        `yaml:"qa_max_retries"`

	// ParallelEnabled dispatches independent sub-tasks concurrently on
	// isolated worktree branches instead of one at a time.
	ParallelEnabled bool `yaml:"parallel_enabled"`

	// Env is extra environment passed verbatim to every agent container,
	// e.g. provider API keys.
	Env map[string]string `yaml:"env"`
}

// ArchitectReviewEnabled reports whether approved plans go through the
// architect. Unset means enabled.
func (a AgentSettings) ArchitectReviewEnabled() bool {
	return a.ArchitectReview == nil || *a.ArchitectReview
}

// EffectiveHostWorkspacePath returns the host path to bind mount for
// whole-workspace agents.
func (a AgentSettings) EffectiveHostWorkspacePath(workspacePath string) string {
	if a.HostWorkspacePath != "" {
		return a.HostWorkspacePath
	}
	return workspacePath
}

// EffectiveHostWorktreeBase returns the host path under which per-task
// worktrees are bind mounted.
func (a AgentSettings) EffectiveHostWorktreeBase() string {
	if a.HostWorktreeBase != "" {
		return a.HostWorktreeBase
	}
	return a.WorktreeBase
}

// DefaultSettings returns the built-in defaults. They describe the
// docker-compose deployment: everything on one host, agents on the
// legatus_default network.
func DefaultSettings() *Settings {
	return &Settings{
		Redis:  RedisSettings{URL: "redis://localhost:6379"},
		Memory: MemorySettings{URL: "http://localhost:8000"},
		Orchestrator: OrchestratorSettings{
			Host:     "0.0.0.0",
			RESTPort: 8420,
		},
		Agent: AgentSettings{
			Image:              "legatus-agent:latest",
			Timeout:            600,
			MaxTurns:           50,
			Network:            "legatus_default",
			WorktreeBase:       "/workspace-worktrees",
			ReviewMode:         ReviewModePerSubtask,
			ReviewerMaxRetries: 1,
			QAMode:             ReviewModePerSubtask,
			QAMaxRetries:       1,
			Env:                map[string]string{},
		},
		WorkspacePath: "/workspace",
	}
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load legatus.yaml from configDir when present
//  3. Expand {{.VAR}} environment templates in the file
//  4. Merge file values over defaults
//  5. Apply LEGATUS_* environment overrides
//  6. Validate the result
func Initialize(ctx context.Context, configDir string) (*Settings, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	settings, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(settings)

	if err := validate(settings); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"redis_url", settings.Redis.URL,
		"rest_port", settings.Orchestrator.RESTPort,
		"agent_image", settings.Agent.Image,
		"parallel", settings.Agent.ParallelEnabled)

	return settings, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Settings, error) {
	settings := DefaultSettings()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No configuration file found, using defaults", "path", path)
			return settings, nil
		}
		return nil, NewLoadError(ConfigFileName, err)
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution
	// errors, letting the YAML parser surface a clearer error message.
	data = ExpandEnv(data)

	var fileSettings Settings
	if err := yaml.Unmarshal(data, &fileSettings); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	// File values override defaults; unset (zero) fields keep defaults.
	if err := mergo.Merge(settings, &fileSettings, mergo.WithOverride); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("failed to merge configuration: %w", err))
	}

	return settings, nil
}

// applyEnvOverrides applies LEGATUS_* environment variables on top of the
// merged settings. Names follow the "LEGATUS_<SECTION>__<FIELD>" scheme so
// existing deployments keep working without a YAML file.
func applyEnvOverrides(s *Settings) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("Ignoring non-integer environment override", "key", key, "value", v)
			return
		}
		*target = n
	}
	setBool := func(key string, target *bool) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("Ignoring non-boolean environment override", "key", key, "value", v)
			return
		}
		*target = b
	}

	setString("LEGATUS_REDIS__URL", &s.Redis.URL)
	setString("LEGATUS_MEMORY__URL", &s.Memory.URL)
	setString("LEGATUS_ORCHESTRATOR__HOST", &s.Orchestrator.Host)
	setInt("LEGATUS_ORCHESTRATOR__REST_PORT", &s.Orchestrator.RESTPort)

	setString("LEGATUS_AGENT__IMAGE", &s.Agent.Image)
	setInt("LEGATUS_AGENT__TIMEOUT", &s.Agent.Timeout)
	setInt("LEGATUS_AGENT__MAX_TURNS", &s.Agent.MaxTurns)
	setString("LEGATUS_AGENT__NETWORK", &s.Agent.Network)
	setString("LEGATUS_AGENT__HOST_WORKSPACE_PATH", &s.Agent.HostWorkspacePath)
	setString("LEGATUS_AGENT__WORKTREE_BASE", &s.Agent.WorktreeBase)
	setString("LEGATUS_AGENT__HOST_WORKTREE_BASE", &s.Agent.HostWorktreeBase)
	if v := os.Getenv("LEGATUS_AGENT__ARCHITECT_REVIEW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Agent.ArchitectReview = &b
		} else {
			slog.Warn("Ignoring non-boolean environment override",
				"key", "LEGATUS_AGENT__ARCHITECT_REVIEW", "value", v)
		}
	}
	setBool("LEGATUS_AGENT__REVIEWER_ENABLED", &s.Agent.ReviewerEnabled)
	if v := os.Getenv("LEGATUS_AGENT__REVIEW_MODE"); v != "" {
		s.Agent.ReviewMode = ReviewMode(v)
	}
	setInt("LEGATUS_AGENT__REVIEWER_MAX_RETRIES", &s.Agent.ReviewerMaxRetries)
	setBool("LEGATUS_AGENT__QA_ENABLED", &s.Agent.QAEnabled)
	if v := os.Getenv("LEGATUS_AGENT__QA_MODE"); v != "" {
		s.Agent.QAMode = ReviewMode(v)
	}
	setInt("LEGATUS_AGENT__QA_MAX_RETRIES", &s.Agent.QAMaxRetries)
	setBool("LEGATUS_AGENT__PARALLEL_ENABLED", &s.Agent.ParallelEnabled)

	setString("LEGATUS_WORKSPACE_PATH", &s.WorkspacePath)
}

// validate performs validation on loaded configuration
func validate(s *Settings) error {
	if s.Redis.URL == "" {
		return NewValidationError("redis", "url", ErrMissingRequiredField)
	}
	if !strings.HasPrefix(s.Redis.URL, "redis://") && !strings.HasPrefix(s.Redis.URL, "rediss://") {
		return NewValidationError("redis", "url",
			fmt.Errorf("%w: must start with redis:// or rediss://", ErrInvalidValue))
	}
	if s.Memory.URL == "" {
		return NewValidationError("memory", "url", ErrMissingRequiredField)
	}
	if s.Orchestrator.RESTPort < 1 || s.Orchestrator.RESTPort > 65535 {
		return NewValidationError("orchestrator", "rest_port",
			fmt.Errorf("%w: must be between 1 and 65535", ErrInvalidValue))
	}
	if s.Agent.Image == "" {
		return NewValidationError("agent", "image", ErrMissingRequiredField)
	}
	if s.Agent.Timeout <= 0 {
		return NewValidationError("agent", "timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.Agent.MaxTurns <= 0 {
		return NewValidationError("agent", "max_turns",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if !s.Agent.ReviewMode.IsValid() {
		return NewValidationError("agent", "review_mode",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Agent.ReviewMode))
	}
	if !s.Agent.QAMode.IsValid() {
		return NewValidationError("agent", "qa_mode",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Agent.QAMode))
	}
	if s.Agent.ReviewerMaxRetries < 0 {
		return NewValidationError("agent", "reviewer_max_retries",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if s.Agent.QAMaxRetries < 0 {
		return NewValidationError("agent", "qa_max_retries",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if s.WorkspacePath == "" {
		return NewValidationError("settings", "workspace_path", ErrMissingRequiredField)
	}
	return nil
}
