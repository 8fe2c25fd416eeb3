package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

const (
	defaultEventListLimit = 50
	maxEventListLimit     = 500
)

// EventService exposes the webhook audit trail to company members
type EventService struct {
	events repositories.EventRepository
}

// NewEventService creates a new event service
func NewEventService(events repositories.EventRepository) *EventService {
	return &EventService{events: events}
}

// ListEvents returns the newest events of companyID, optionally filtered by status
func (s *EventService) ListEvents(ctx context.Context, companyID uuid.UUID, status models.EventStatus, limit int, actor models.Actor) ([]models.WebhookEvent, error) {
	if !actor.CanAccess(companyID) {
		return nil, ErrForbidden
	}

	switch status {
	case "", models.EventStatusPending, models.EventStatusProcessed, models.EventStatusFailed:
	default:
		return nil, NewValidationError("invalid event filter", map[string]string{
			"status": "must be one of: pending, processed, failed",
		})
	}

	if limit <= 0 {
		limit = defaultEventListLimit
	}
	if limit > maxEventListLimit {
		limit = maxEventListLimit
	}

	events, err := s.events.List(ctx, repositories.EventFilter{CompanyID: &companyID, Status: status, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %w", ErrInfrastructure, err)
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}
	return events, nil
}
