package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/services"
)

const maxBodySize = 1 << 20 // 1MB

// WebhookHandler receives GHL and Calendly webhooks
type WebhookHandler struct {
	ingest *services.IngestService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingest *services.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// HandleWebhook stores and applies one webhook. Deliveries that were stored
// are acknowledged with 202 whatever their outcome, so the sender does not
// retry events that failed on our side; the outcome stays on the event row.
func (wh *WebhookHandler) HandleWebhook(c *gin.Context) {
	source, ok := models.ParseEventSource(c.Param("source"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook source"})
		return
	}

	// Read request body with size limit (regardless of Content-Length header)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	truncated := len(body) > maxBodySize
	if truncated {
		body = body[:maxBodySize]
	}

	result, err := wh.ingest.Ingest(c.Request.Context(), services.IngestRequest{
		Source:     source,
		Body:       body,
		Header:     c.Request.Header,
		CompanyRef: c.Param("company_id"),
		Truncated:  truncated,
	})
	switch {
	case errors.Is(err, services.ErrUnknownSource):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook source"})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event could not be stored, retry later"})
		return
	}

	switch result.Status {
	case services.IngestRejected:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature", "event_id": result.EventID})
		return
	case services.IngestTooLarge:
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large (max 1MB)", "event_id": result.EventID})
		return
	}
	c.JSON(http.StatusAccepted, result)
}
