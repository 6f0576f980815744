package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/models"
)

// listAgentsHandler handles GET /agents. Returns active and recently
// finished agents.
func (s *Server) listAgentsHandler(c *gin.Context) {
	agents, err := s.state.ListAgents(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if agents == nil {
		agents = []*models.AgentRecord{}
	}
	c.JSON(http.StatusOK, agents)
}
