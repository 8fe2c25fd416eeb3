package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")

	// ErrAlreadyTerminal is returned when an event already left the pending state
	ErrAlreadyTerminal = errors.New("event already in terminal state")
)

// EventRepository is the append-only audit trail of inbound webhooks
type EventRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	GetByID(ctx context.Context, eventID uuid.UUID) (*models.WebhookEvent, error)
	List(ctx context.Context, filter EventFilter) ([]models.WebhookEvent, error)
	// MarkProcessed and MarkFailed only move pending events; terminal rows are immutable
	MarkProcessed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID) error
	MarkFailed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID, detail string) error
	// FailStale marks events pending since before olderThan as failed
	FailStale(ctx context.Context, olderThan time.Time, detail string) (int64, error)
}

// EventFilter narrows event listings
type EventFilter struct {
	CompanyID *uuid.UUID
	Status    models.EventStatus
	Limit     int
}

// CompanyRepository reads and configures companies
type CompanyRepository interface {
	GetByID(ctx context.Context, companyID uuid.UUID) (*models.Company, error)
	GetByLocationID(ctx context.Context, locationID string) (*models.Company, error)
	GetByCalendlyOrganization(ctx context.Context, organization string) (*models.Company, error)
	List(ctx context.Context) ([]models.Company, error)
	UpdateAttribution(ctx context.Context, companyID uuid.UUID, cfg models.AttributionConfig) error
}

// AppointmentRepository holds the non-locking reads over appointments
type AppointmentRepository interface {
	GetByID(ctx context.Context, companyID, appointmentID uuid.UUID) (*models.Appointment, error)
	// ListIDs pages appointment ids in id order, starting after AfterID
	ListIDs(ctx context.Context, page AppointmentPage) ([]AppointmentRef, error)
	// ListOverdue returns candidates for a PCN reminder, keyset-paged by id
	ListOverdue(ctx context.Context, query OverdueQuery) ([]models.Appointment, error)
	// Summarize aggregates appointments scheduled in [from, to)
	Summarize(ctx context.Context, companyID uuid.UUID, from, to time.Time) (*models.WeeklySummary, error)
}

// AppointmentRef identifies an appointment for batch jobs
type AppointmentRef struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
}

// AppointmentPage is one keyset page request
type AppointmentPage struct {
	CompanyID *uuid.UUID
	AfterID   uuid.UUID
	Limit     int
}

// OverdueQuery selects appointments without a PCN scheduled at or before ScheduledBefore
type OverdueQuery struct {
	CompanyID       *uuid.UUID
	ScheduledBefore time.Time
	AfterID         uuid.UUID
	Limit           int
}

// NotificationRepository stores reminder and digest markers
type NotificationRepository interface {
	// ClaimReminder sets the appointment's marker to now when it is unset or at/before
	// staleBefore, and reports whether this caller won the claim
	ClaimReminder(ctx context.Context, appointmentID uuid.UUID, now, staleBefore time.Time) (bool, *time.Time, error)
	// ReleaseReminder restores the marker seen before a failed delivery
	ReleaseReminder(ctx context.Context, appointmentID uuid.UUID, previous *time.Time) error
	ClaimDigest(ctx context.Context, companyID uuid.UUID, weekStart, now time.Time) (bool, error)
	ReleaseDigest(ctx context.Context, companyID uuid.UUID, weekStart time.Time) error
}

// Store runs a unit of work against the appointment lifecycle tables atomically
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of lifecycle operations available inside one transaction.
// Lock* methods hold the appointment row until the transaction ends.
type Tx interface {
	LockAppointment(ctx context.Context, companyID, appointmentID uuid.UUID) (*models.Appointment, error)
	LockAppointmentByExternalID(ctx context.Context, companyID uuid.UUID, externalID string) (*models.Appointment, error)
	// LockOrCreateAppointment inserts seed when (company, external id) is new, then locks the row
	LockOrCreateAppointment(ctx context.Context, seed *models.Appointment) (*models.Appointment, bool, error)
	SaveAppointment(ctx context.Context, appointment *models.Appointment) error

	GetContact(ctx context.Context, contactID uuid.UUID) (*models.Contact, error)
	// LockOrCreateContact inserts seed when (company, external id) is new, then locks the row
	LockOrCreateContact(ctx context.Context, seed *models.Contact) (*models.Contact, bool, error)
	SaveContact(ctx context.Context, contact *models.Contact) error

	GetPCN(ctx context.Context, appointmentID uuid.UUID) (*models.PCNRecord, error)
	SavePCN(ctx context.Context, record *models.PCNRecord) error
}
