// Legatus orchestrator server. Serves the HTTP API, consumes agent
// events, and drives campaigns through planning, dispatch, and merge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/legatus-hq/legatus/pkg/api"
	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/events"
	"github.com/legatus-hq/legatus/pkg/gitops"
	"github.com/legatus-hq/legatus/pkg/memory"
	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/spawner"
	"github.com/legatus-hq/legatus/pkg/store"
	"github.com/legatus-hq/legatus/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting legatus orchestrator",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect Redis
	redisClient, err := store.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "url", cfg.Redis.URL, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "url", cfg.Redis.URL)

	taskStore := store.NewTaskStore(redisClient)
	stateStore := store.NewStateStore(redisClient)
	checkpointStore := store.NewCheckpointStore(redisClient)
	costStore := store.NewCostStore(redisClient)
	pubsub := store.NewPubSub(redisClient)

	// 3. Prepare the shared workspace repository
	workspace := gitops.NewWorkspace(cfg.WorkspacePath)
	workspace.InitRepo(ctx)
	slog.Info("Workspace ready", "path", cfg.WorkspacePath)

	// 4. Memory service client (optional; agents degrade without it)
	var memoryClient *memory.Client
	if cfg.Memory.URL != "" {
		memoryClient = memory.NewClient(cfg.Memory.URL)
		slog.Info("Memory service configured", "url", cfg.Memory.URL)
	}

	// 5. Agent spawner
	dockerSpawner, err := spawner.NewDockerSpawner(cfg)
	if err != nil {
		slog.Error("Failed to initialize Docker spawner", "error", err)
		os.Exit(1)
	}

	// 6. Domain services
	warningsService := services.NewSystemWarningsService()
	taskService := services.NewTaskService(taskStore, stateStore, dockerSpawner)
	checkpointService := services.NewCheckpointService(checkpointStore, taskStore)
	costService := services.NewCostService(costStore)
	dispatcher := services.NewDispatcher(taskStore, stateStore, dockerSpawner, workspace, cfg)
	slog.Info("Services initialized")

	// 7. Event hub and reactor
	hub := events.NewHub(0)
	reactor := events.NewReactor(events.Deps{
		PubSub:      pubsub,
		Tasks:       taskStore,
		State:       stateStore,
		TaskService: taskService,
		Checkpoints: checkpointService,
		Dispatcher:  dispatcher,
		Costs:       costService,
		Spawner:     dockerSpawner,
		Git:         workspace,
		Settings:    cfg,
		Hub:         hub,
		Warnings:    warningsService,
	})
	checkpointService.SetHooks(reactor)

	if err := reactor.Start(ctx); err != nil {
		slog.Error("Failed to start event reactor", "error", err)
		os.Exit(1)
	}
	slog.Info("Event reactor started", "channel", store.ChannelAgent)

	// 8. Create HTTP server
	httpServer := api.NewServer(api.Deps{
		Redis:       redisClient,
		State:       stateStore,
		Tasks:       taskService,
		Checkpoints: checkpointService,
		Costs:       costService,
		Warnings:    warningsService,
		Reactor:     reactor,
		Hub:         hub,
		Memory:      memoryClient,
		Settings:    cfg,
	})

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Orchestrator.Host, cfg.Orchestrator.RESTPort)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Legatus started successfully",
		"rest_port", cfg.Orchestrator.RESTPort,
		"agent_image", cfg.Agent.Image,
		"parallel", cfg.Agent.ParallelEnabled)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop consuming agent events first so no
	// transition lands mid-teardown, then drain HTTP.
	reactorDone := make(chan struct{})
	go func() {
		reactor.Stop()
		close(reactorDone)
	}()

	reactorCtx, reactorCancel := context.WithTimeout(ctx, 10*time.Second)
	defer reactorCancel()
	select {
	case <-reactorDone:
		slog.Info("Event reactor stopped gracefully")
	case <-reactorCtx.Done():
		slog.Warn("Event reactor shutdown timeout exceeded")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
