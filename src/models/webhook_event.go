package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the audit record of one inbound webhook request
type WebhookEvent struct {
	ID          uuid.UUID   `json:"id"`
	CompanyID   *uuid.UUID  `json:"company_id,omitempty"`
	Source      EventSource `json:"source"`
	EventType   string      `json:"event_type"`
	ExternalID  string      `json:"external_id,omitempty"`
	Payload     []byte      `json:"-"`
	Status      EventStatus `json:"status"`
	Error       *string     `json:"error,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

// IsTerminal returns true once the event reached processed or failed
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == EventStatusProcessed || e.Status == EventStatusFailed
}
