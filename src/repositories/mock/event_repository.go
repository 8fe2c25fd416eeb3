package mock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// EventRepository is a mock implementation of repositories.EventRepository
type EventRepository struct {
	// Function stubs that can be overridden in tests
	CreateFunc        func(ctx context.Context, event *models.WebhookEvent) error
	GetByIDFunc       func(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error)
	ListFunc          func(ctx context.Context, filter repositories.EventFilter) ([]models.WebhookEvent, error)
	MarkProcessedFunc func(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID, detail string) error
	FailStaleFunc     func(ctx context.Context, olderThan time.Time, detail string) (int64, error)

	// Call tracking
	Calls map[string][]interface{}
}

// NewEventRepository creates a new mock event repository
func NewEventRepository() *EventRepository {
	return &EventRepository{
		Calls: make(map[string][]interface{}),
	}
}

func (m *EventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	m.Calls["Create"] = append(m.Calls["Create"], event)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return nil
}

func (m *EventRepository) GetByID(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error) {
	m.Calls["GetByID"] = append(m.Calls["GetByID"], eventID)
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, eventID)
	}
	return nil, repositories.ErrNotFound
}

func (m *EventRepository) List(ctx context.Context, filter repositories.EventFilter) ([]models.WebhookEvent, error) {
	m.Calls["List"] = append(m.Calls["List"], filter)
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

func (m *EventRepository) MarkProcessed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID) error {
	m.Calls["MarkProcessed"] = append(m.Calls["MarkProcessed"], eventID)
	if m.MarkProcessedFunc != nil {
		return m.MarkProcessedFunc(ctx, eventID, companyID)
	}
	return nil
}

func (m *EventRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID, detail string) error {
	m.Calls["MarkFailed"] = append(m.Calls["MarkFailed"], []interface{}{eventID, detail})
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, eventID, companyID, detail)
	}
	return nil
}

func (m *EventRepository) FailStale(ctx context.Context, olderThan time.Time, detail string) (int64, error) {
	m.Calls["FailStale"] = append(m.Calls["FailStale"], olderThan)
	if m.FailStaleFunc != nil {
		return m.FailStaleFunc(ctx, olderThan, detail)
	}
	return 0, nil
}

// Ensure EventRepository implements the interface
var _ repositories.EventRepository = (*EventRepository)(nil)
