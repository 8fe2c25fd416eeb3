package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is the authoritative record of one sales appointment
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	CompanyID       uuid.UUID         `json:"company_id"`
	ExternalID      string            `json:"external_id"`
	ContactID       *uuid.UUID        `json:"contact_id,omitempty"`
	CloserID        *string           `json:"closer_id,omitempty"`
	CalendarID      *string           `json:"calendar_id,omitempty"`
	Title           string            `json:"title"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	Status          AppointmentStatus `json:"status"`
	Outcome         *string           `json:"outcome,omitempty"`
	PCNSubmitted    bool              `json:"pcn_submitted"`
	PCNSubmittedAt  *time.Time        `json:"pcn_submitted_at,omitempty"`
	PCNSubmittedBy  *string           `json:"pcn_submitted_by,omitempty"`
	InclusionFlag   InclusionFlag     `json:"inclusion_flag"`
	CashCollected   *float64          `json:"cash_collected,omitempty"`
	SourceUpdatedAt time.Time         `json:"source_updated_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsCancelled is true when either the status or a stale outcome says cancelled
func (a *Appointment) IsCancelled() bool {
	if a.Status == AppointmentCancelled {
		return true
	}
	return a.Outcome != nil && IsCancellationOutcome(*a.Outcome)
}

// AppointmentUpdate carries the fields present in one source event.
// A nil field was absent from the payload and never touches the record.
type AppointmentUpdate struct {
	ExternalID  string
	EventAt     time.Time
	ContactID   *uuid.UUID
	CloserID    *string
	CalendarID  *string
	Title       *string
	ScheduledAt *time.Time
	Status      *AppointmentStatus
}

// NewAppointment builds the initial record for an external appointment seen for the first time
func NewAppointment(companyID uuid.UUID, u AppointmentUpdate) *Appointment {
	a := &Appointment{
		ID:            uuid.New(),
		CompanyID:     companyID,
		ExternalID:    u.ExternalID,
		Status:        AppointmentScheduled,
		InclusionFlag: InclusionUnknown,
	}
	a.Merge(u)
	return a
}

// Merge applies u using event time, not arrival order. Fields present in an event at
// least as new as the record overwrite; fields from an older event only fill blanks.
// Returns true if any field changed.
func (a *Appointment) Merge(u AppointmentUpdate) bool {
	newer := a.SourceUpdatedAt.IsZero() || !u.EventAt.Before(a.SourceUpdatedAt)

	changed := false
	changed = mergePtr(&a.ContactID, u.ContactID, newer) || changed
	changed = mergePtr(&a.CloserID, u.CloserID, newer) || changed
	changed = mergePtr(&a.CalendarID, u.CalendarID, newer) || changed
	changed = mergeVal(&a.Title, u.Title, newer) || changed
	changed = mergeVal(&a.Status, u.Status, newer) || changed

	if u.ScheduledAt != nil && (newer || a.ScheduledAt.IsZero()) && !a.ScheduledAt.Equal(*u.ScheduledAt) {
		a.ScheduledAt = u.ScheduledAt.UTC()
		changed = true
	}

	if newer && !u.EventAt.IsZero() && !u.EventAt.Equal(a.SourceUpdatedAt) {
		a.SourceUpdatedAt = u.EventAt.UTC()
	}
	return changed
}

func mergePtr[T comparable](dst **T, src *T, newer bool) bool {
	if src == nil {
		return false
	}
	if *dst != nil && (!newer || **dst == *src) {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func mergeVal[T comparable](dst *T, src *T, newer bool) bool {
	var zero T
	if src == nil || *dst == *src {
		return false
	}
	if !newer && *dst != zero {
		return false
	}
	*dst = *src
	return true
}
