package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"

	healthCheckTimeout = 5 * time.Second
)

// healthHandler handles GET /health.
// Redis failing makes the orchestrator unhealthy: nothing works without the
// store. The memory service only degrades it, since agents keep functioning
// without recall.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.redis.Redis().Ping(reqCtx).Err(); err != nil {
		status = healthStatusUnhealthy
		checks["redis"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["redis"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.memory != nil {
		if err := s.memory.Ping(reqCtx); err != nil {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["memory"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
			if s.warnings != nil {
				s.warnings.AddWarning(services.WarningCategoryMemory,
					"Memory service unreachable", err.Error(), "")
			}
		} else {
			checks["memory"] = HealthCheck{Status: healthStatusHealthy}
			if s.warnings != nil {
				s.warnings.ClearByTask(services.WarningCategoryMemory, "")
			}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
