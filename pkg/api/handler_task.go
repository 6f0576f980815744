package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/services"
)

const defaultHistoryLimit = 20

// createTaskHandler handles POST /tasks. It creates a campaign from a user
// prompt and spawns its first agent.
func (s *Server) createTaskHandler(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	task, err := s.tasks.CreateCampaign(c.Request.Context(), services.CreateCampaignRequest{
		Prompt:  req.Prompt,
		Title:   req.Title,
		Project: req.Project,
		Direct:  req.Direct,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// listTasksHandler handles GET /tasks.
func (s *Server) listTasksHandler(c *gin.Context) {
	tasks, err := s.tasks.List(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// taskHistoryHandler handles GET /tasks/history. Returns terminal tasks,
// most recently updated first.
func (s *Server) taskHistoryHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		return
	}

	tasks, err := s.tasks.History(c.Request.Context(), limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// getTaskHandler handles GET /tasks/:id.
func (s *Server) getTaskHandler(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
