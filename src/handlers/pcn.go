package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/middleware"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/services"
)

// PCNHandler accepts post-call notes from closers
type PCNHandler struct {
	pcns *services.PCNService
}

// NewPCNHandler creates a new PCN handler
func NewPCNHandler(pcns *services.PCNService) *PCNHandler {
	return &PCNHandler{pcns: pcns}
}

// HandleSubmit files a PCN for the appointment in the path
func (h *PCNHandler) HandleSubmit(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
		return
	}

	companyID, ok := uuidParam(c, "company_id")
	if !ok {
		return
	}
	appointmentID, ok := uuidParam(c, "appointment_id")
	if !ok {
		return
	}

	var in models.PCNSubmission
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	result, err := h.pcns.Submit(c.Request.Context(), appointmentID, companyID, in, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// uuidParam parses a path parameter, answering 400 itself when it is malformed
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
