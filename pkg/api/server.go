// Package api is the orchestrator's HTTP facade: a REST surface for the
// CLI plus a WebSocket endpoint for live event streaming. Handlers stay
// thin; orchestration lives in pkg/services and pkg/events.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/config"
	"github.com/legatus-hq/legatus/pkg/events"
	"github.com/legatus-hq/legatus/pkg/memory"
	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownGrace     = 10 * time.Second
)

// Deps carries the wired services the HTTP layer exposes. Memory, Reactor,
// Hub, and Warnings are optional; their routes degrade gracefully when nil.
type Deps struct {
	Redis       *store.Client
	State       *store.StateStore
	Tasks       *services.TaskService
	Checkpoints *services.CheckpointService
	Costs       *services.CostService
	Warnings    *services.SystemWarningsService
	Reactor     *events.Reactor
	Hub         *events.Hub
	Memory      *memory.Client
	Settings    *config.Settings
}

// Server is the orchestrator's HTTP server.
type Server struct {
	redis       *store.Client
	state       *store.StateStore
	tasks       *services.TaskService
	checkpoints *services.CheckpointService
	costs       *services.CostService
	warnings    *services.SystemWarningsService
	reactor     *events.Reactor
	hub         *events.Hub
	memory      *memory.Client
	settings    *config.Settings

	httpServer *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(deps Deps) *Server {
	return &Server{
		redis:       deps.Redis,
		state:       deps.State,
		tasks:       deps.Tasks,
		checkpoints: deps.Checkpoints,
		costs:       deps.Costs,
		warnings:    deps.Warnings,
		reactor:     deps.Reactor,
		hub:         deps.Hub,
		memory:      deps.Memory,
		settings:    deps.Settings,
	}
}

// Handler builds the gin engine with all routes registered. Exposed for
// tests, which drive it through httptest.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders())

	router.GET("/health", s.healthHandler)

	tasks := router.Group("/tasks")
	{
		tasks.POST("", s.createTaskHandler)
		tasks.GET("", s.listTasksHandler)
		tasks.GET("/history", s.taskHistoryHandler)
		tasks.GET("/:id", s.getTaskHandler)
	}

	router.GET("/agents", s.listAgentsHandler)

	checkpoints := router.Group("/checkpoints")
	{
		checkpoints.GET("", s.listCheckpointsHandler)
		checkpoints.GET("/:id", s.getCheckpointHandler)
		checkpoints.POST("/:id/approve", s.approveCheckpointHandler)
		checkpoints.POST("/:id/reject", s.rejectCheckpointHandler)
	}

	router.GET("/logs", s.logsHandler)
	router.GET("/costs", s.costsHandler)

	mem := router.Group("/memory")
	{
		mem.GET("", s.listMemoriesHandler)
		mem.GET("/search", s.searchMemoriesHandler)
		mem.DELETE("/:id", s.deleteMemoryHandler)
	}

	system := router.Group("/system")
	{
		system.POST("/pause", s.pauseHandler)
		system.POST("/resume", s.resumeHandler)
		system.GET("/status", s.systemStatusHandler)
	}

	router.GET("/ws", s.wsHandler)

	return router
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called; a clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("HTTP server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, bounded by shutdownGrace when the
// caller's context has no earlier deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
