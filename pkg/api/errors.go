package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legatus-hq/legatus/pkg/services"
	"github.com/legatus-hq/legatus/pkg/store"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validErr.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "resource not found"})
		return
	}
	if errors.Is(err, services.ErrAlreadyResolved) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "checkpoint already resolved"})
		return
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
