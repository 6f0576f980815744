package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultLogLimit = 50

// logsHandler handles GET /logs. Returns recent activity log entries,
// newest first.
func (s *Server) logsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLogLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		return
	}

	entries, err := s.state.RecentLogs(c.Request.Context(), limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	c.JSON(http.StatusOK, entries)
}
