package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/models"
)

// listCheckpointsHandler handles GET /checkpoints. Returns pending
// checkpoints, oldest first.
func (s *Server) listCheckpointsHandler(c *gin.Context) {
	checkpoints, err := s.checkpoints.ListPending(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if checkpoints == nil {
		checkpoints = []*models.Checkpoint{}
	}
	c.JSON(http.StatusOK, checkpoints)
}

// getCheckpointHandler handles GET /checkpoints/:id.
func (s *Server) getCheckpointHandler(c *gin.Context) {
	cp, err := s.checkpoints.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// approveCheckpointHandler handles POST /checkpoints/:id/approve. The
// resolution hook resumes the blocked flow before this returns.
func (s *Server) approveCheckpointHandler(c *gin.Context) {
	cp, err := s.checkpoints.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// rejectCheckpointHandler handles POST /checkpoints/:id/reject.
func (s *Server) rejectCheckpointHandler(c *gin.Context) {
	reason := c.Query("reason")
	var req RejectCheckpointRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Reason != "" {
		reason = req.Reason
	}

	cp, err := s.checkpoints.Reject(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}
