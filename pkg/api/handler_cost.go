package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// costsHandler handles GET /costs. Without project_id it reports the
// "default" bucket, where tasks with no project land.
func (s *Server) costsHandler(c *gin.Context) {
	breakdown, err := s.costs.Breakdown(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}
