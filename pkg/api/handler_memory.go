package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/memory"
)

const defaultSearchLimit = 10

// memoryScope resolves the namespace/project_id query parameters to a
// memory scope. Project is the default namespace, matching the CLI.
func memoryScope(c *gin.Context) memory.Scope {
	if c.DefaultQuery("namespace", "project") == "global" {
		return memory.GlobalScope()
	}
	project := c.Query("project_id")
	if project == "" {
		project = "default"
	}
	return memory.ProjectScope(project)
}

// listMemoriesHandler handles GET /memory.
func (s *Server) listMemoriesHandler(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "memory service not configured"})
		return
	}

	records, err := s.memory.List(c.Request.Context(), memoryScope(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// searchMemoriesHandler handles GET /memory/search.
func (s *Server) searchMemoriesHandler(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "memory service not configured"})
		return
	}

	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query must not be empty"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultSearchLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		return
	}

	records, err := s.memory.Search(c.Request.Context(), query, memoryScope(c), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// deleteMemoryHandler handles DELETE /memory/:id.
func (s *Server) deleteMemoryHandler(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "memory service not configured"})
		return
	}

	id := c.Param("id")
	if err := s.memory.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, DeleteMemoryResponse{Deleted: id})
}
