package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// pauseHandler handles POST /system/pause. Running agents finish, but no
// new tasks are dispatched until resume.
func (s *Server) pauseHandler(c *gin.Context) {
	if err := s.state.SetPaused(c.Request.Context(), true); err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, PauseResponse{Paused: true})
}

// resumeHandler handles POST /system/resume. Clears the pause flag and
// catches up on work that queued while paused.
func (s *Server) resumeHandler(c *gin.Context) {
	if err := s.state.SetPaused(c.Request.Context(), false); err != nil {
		mapServiceError(c, err)
		return
	}
	if s.reactor != nil {
		s.reactor.ResumeDispatch(c.Request.Context())
	}
	c.JSON(http.StatusOK, PauseResponse{Paused: false})
}

// systemStatusHandler handles GET /system/status.
func (s *Server) systemStatusHandler(c *gin.Context) {
	paused, err := s.state.IsPaused(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}

	resp := SystemStatusResponse{Paused: paused}
	if s.hub != nil {
		resp.Connections = s.hub.ActiveConnections()
	}
	if s.warnings != nil {
		resp.Warnings = s.warnings.GetWarnings()
	}
	c.JSON(http.StatusOK, resp)
}
