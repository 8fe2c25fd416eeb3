package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/services"
)

// respondError maps service errors onto HTTP responses
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "fields": verr.Fields})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrUnknownSource):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook source"})
	case errors.Is(err, services.ErrUnknownCompany):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown company"})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger := logging.FromContext(c.Request.Context(), "http")
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
