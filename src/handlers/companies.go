package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/khabaroff/pcn-tracker/src/middleware"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/services"
)

// CompanyHandler serves per-company settings and the audit trail
type CompanyHandler struct {
	companies *services.CompanyService
	events    *services.EventService
}

// NewCompanyHandler creates a new company handler
func NewCompanyHandler(companies *services.CompanyService, events *services.EventService) *CompanyHandler {
	return &CompanyHandler{companies: companies, events: events}
}

// HandleUpdateAttribution replaces the company's attribution strategy
func (h *CompanyHandler) HandleUpdateAttribution(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
		return
	}
	companyID, ok := uuidParam(c, "company_id")
	if !ok {
		return
	}

	var cfg models.AttributionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	updated, err := h.companies.UpdateAttribution(c.Request.Context(), companyID, cfg, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attribution": updated})
}

// HandleListEvents returns the company's recent webhook events
func (h *CompanyHandler) HandleListEvents(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
		return
	}
	companyID, ok := uuidParam(c, "company_id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := h.events.ListEvents(c.Request.Context(), companyID, models.EventStatus(c.Query("status")), limit, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
