// Package memory is an in-process implementation of every repository, used by
// service and handler tests and by local runs without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// DB holds all tables. Transactions are serialized, which stands in for row locks.
type DB struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	events       map[uuid.UUID]models.WebhookEvent
	companies    map[uuid.UUID]models.Company
	appointments map[uuid.UUID]models.Appointment
	contacts     map[uuid.UUID]models.Contact
	pcns         map[uuid.UUID]models.PCNRecord
	reminders    map[uuid.UUID]models.NotificationDispatch
	digests      map[string]time.Time

	// SaveAppointmentHook, when set, runs before every appointment write and can fail it
	SaveAppointmentHook func(a *models.Appointment) error
}

// New creates an empty database
func New() *DB {
	return &DB{
		events:       make(map[uuid.UUID]models.WebhookEvent),
		companies:    make(map[uuid.UUID]models.Company),
		appointments: make(map[uuid.UUID]models.Appointment),
		contacts:     make(map[uuid.UUID]models.Contact),
		pcns:         make(map[uuid.UUID]models.PCNRecord),
		reminders:    make(map[uuid.UUID]models.NotificationDispatch),
		digests:      make(map[string]time.Time),
	}
}

// Events returns the EventRepository view
func (db *DB) Events() repositories.EventRepository { return (*eventRepo)(db) }

// Companies returns the CompanyRepository view
func (db *DB) Companies() repositories.CompanyRepository { return (*companyRepo)(db) }

// Appointments returns the AppointmentRepository view
func (db *DB) Appointments() repositories.AppointmentRepository { return (*appointmentRepo)(db) }

// Notifications returns the NotificationRepository view
func (db *DB) Notifications() repositories.NotificationRepository { return (*notificationRepo)(db) }

// PutCompany inserts or replaces a company
func (db *DB) PutCompany(c models.Company) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	db.companies[c.ID] = c
}

// PutAppointment inserts or replaces an appointment without any validation
func (db *DB) PutAppointment(a models.Appointment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.appointments[a.ID] = a
}

// Appointment returns a copy of a stored appointment
func (db *DB) Appointment(id uuid.UUID) (models.Appointment, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	a, ok := db.appointments[id]
	return a, ok
}

// AppointmentByExternalID returns a copy of the appointment with the given external id
func (db *DB) AppointmentByExternalID(companyID uuid.UUID, externalID string) (models.Appointment, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, a := range db.appointments {
		if a.CompanyID == companyID && a.ExternalID == externalID {
			return a, true
		}
	}
	return models.Appointment{}, false
}

// CountAppointments returns the number of stored appointments
func (db *DB) CountAppointments() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.appointments)
}

// ContactByExternalID returns a copy of the contact with the given external id
func (db *DB) ContactByExternalID(companyID uuid.UUID, externalID string) (models.Contact, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, c := range db.contacts {
		if c.CompanyID == companyID && c.ExternalID == externalID {
			return c, true
		}
	}
	return models.Contact{}, false
}

// PCN returns a copy of the PCN filed for an appointment
func (db *DB) PCN(appointmentID uuid.UUID) (models.PCNRecord, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.pcns[appointmentID]
	return p, ok
}

// Reminder returns the reminder marker of an appointment
func (db *DB) Reminder(appointmentID uuid.UUID) (models.NotificationDispatch, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.reminders[appointmentID]
	return d, ok
}

// InTx runs fn with exclusive access and restores the lifecycle tables if it fails
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.RLock()
	appointments := cloneMap(db.appointments)
	contacts := cloneMap(db.contacts)
	pcns := cloneMap(db.pcns)
	db.mu.RUnlock()

	if err := fn(ctx, (*lifecycleTx)(db)); err != nil {
		db.mu.Lock()
		db.appointments, db.contacts, db.pcns = appointments, contacts, pcns
		db.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// eventRepo

type eventRepo DB

func (r *eventRepo) Create(_ context.Context, event *models.WebhookEvent) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if _, exists := db.events[event.ID]; exists {
		return repositories.ErrDuplicate
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = models.EventStatusPending
	}
	db.events[event.ID] = *event
	return nil
}

func (r *eventRepo) GetByID(_ context.Context, eventID uuid.UUID) (*models.WebhookEvent, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.events[eventID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &e, nil
}

func (r *eventRepo) List(_ context.Context, filter repositories.EventFilter) ([]models.WebhookEvent, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []models.WebhookEvent
	for _, e := range db.events {
		if filter.CompanyID != nil && (e.CompanyID == nil || *e.CompanyID != *filter.CompanyID) {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID) error {
	return r.transition(eventID, companyID, models.EventStatusProcessed, nil)
}

func (r *eventRepo) MarkFailed(ctx context.Context, eventID uuid.UUID, companyID *uuid.UUID, detail string) error {
	return r.transition(eventID, companyID, models.EventStatusFailed, &detail)
}

func (r *eventRepo) transition(eventID uuid.UUID, companyID *uuid.UUID, status models.EventStatus, detail *string) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	e, ok := db.events[eventID]
	if !ok {
		return repositories.ErrNotFound
	}
	if e.IsTerminal() {
		return repositories.ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	e.Status = status
	e.ProcessedAt = &now
	e.Error = detail
	if companyID != nil {
		id := *companyID
		e.CompanyID = &id
	}
	db.events[eventID] = e
	return nil
}

func (r *eventRepo) FailStale(_ context.Context, olderThan time.Time, detail string) (int64, error) {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for id, e := range db.events {
		if e.Status != models.EventStatusPending || !e.ReceivedAt.Before(olderThan) {
			continue
		}
		d := detail
		e.Status = models.EventStatusFailed
		e.Error = &d
		e.ProcessedAt = &now
		db.events[id] = e
		n++
	}
	return n, nil
}

// companyRepo

type companyRepo DB

func (r *companyRepo) GetByID(_ context.Context, companyID uuid.UUID) (*models.Company, error) {
	return r.find(func(c models.Company) bool { return c.ID == companyID })
}

func (r *companyRepo) GetByLocationID(_ context.Context, locationID string) (*models.Company, error) {
	return r.find(func(c models.Company) bool { return locationID != "" && c.LocationID == locationID })
}

func (r *companyRepo) GetByCalendlyOrganization(_ context.Context, organization string) (*models.Company, error) {
	return r.find(func(c models.Company) bool {
		return organization != "" && c.CalendlyOrganization == organization
	})
}

func (r *companyRepo) List(_ context.Context) ([]models.Company, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]models.Company, 0, len(db.companies))
	for _, c := range db.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *companyRepo) UpdateAttribution(_ context.Context, companyID uuid.UUID, cfg models.AttributionConfig) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.companies[companyID]
	if !ok {
		return repositories.ErrNotFound
	}
	c.Attribution = cfg
	db.companies[companyID] = c
	return nil
}

func (r *companyRepo) find(match func(models.Company) bool) (*models.Company, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, c := range db.companies {
		if match(c) {
			return &c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// appointmentRepo

type appointmentRepo DB

func (r *appointmentRepo) GetByID(_ context.Context, companyID, appointmentID uuid.UUID) (*models.Appointment, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	a, ok := db.appointments[appointmentID]
	if !ok || a.CompanyID != companyID {
		return nil, repositories.ErrNotFound
	}
	return &a, nil
}

func (r *appointmentRepo) ListIDs(_ context.Context, page repositories.AppointmentPage) ([]repositories.AppointmentRef, error) {
	var refs []repositories.AppointmentRef
	for _, a := range r.sortedAfter(page.AfterID) {
		if page.CompanyID != nil && a.CompanyID != *page.CompanyID {
			continue
		}
		refs = append(refs, repositories.AppointmentRef{ID: a.ID, CompanyID: a.CompanyID})
		if len(refs) == limitOrDefault(page.Limit) {
			break
		}
	}
	return refs, nil
}

func (r *appointmentRepo) ListOverdue(_ context.Context, q repositories.OverdueQuery) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, a := range r.sortedAfter(q.AfterID) {
		if q.CompanyID != nil && a.CompanyID != *q.CompanyID {
			continue
		}
		if a.PCNSubmitted || a.ScheduledAt.After(q.ScheduledBefore) || a.IsCancelled() ||
			a.InclusionFlag == models.InclusionExcluded {
			continue
		}
		out = append(out, a)
		if len(out) == limitOrDefault(q.Limit) {
			break
		}
	}
	return out, nil
}

func (r *appointmentRepo) Summarize(_ context.Context, companyID uuid.UUID, from, to time.Time) (*models.WeeklySummary, error) {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	var s models.WeeklySummary
	for _, a := range db.appointments {
		if a.CompanyID != companyID || a.ScheduledAt.Before(from) || !a.ScheduledAt.Before(to) {
			continue
		}
		s.Add(a)
	}
	return &s, nil
}

func (r *appointmentRepo) sortedAfter(after uuid.UUID) []models.Appointment {
	db := (*DB)(r)
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]models.Appointment, 0, len(db.appointments))
	for _, a := range db.appointments {
		if strings.Compare(a.ID.String(), after.String()) > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

// notificationRepo

type notificationRepo DB

func (r *notificationRepo) ClaimReminder(_ context.Context, appointmentID uuid.UUID, now, staleBefore time.Time) (bool, *time.Time, error) {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	d, exists := db.reminders[appointmentID]
	if exists && !d.LastNotifiedAt.IsZero() && d.LastNotifiedAt.After(staleBefore) {
		return false, nil, nil
	}

	var previous *time.Time
	if exists && !d.LastNotifiedAt.IsZero() {
		p := d.LastNotifiedAt
		previous = &p
	}
	db.reminders[appointmentID] = models.NotificationDispatch{
		AppointmentID:  appointmentID,
		LastNotifiedAt: now,
		NotifyCount:    d.NotifyCount + 1,
	}
	return true, previous, nil
}

func (r *notificationRepo) ReleaseReminder(_ context.Context, appointmentID uuid.UUID, previous *time.Time) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	d, ok := db.reminders[appointmentID]
	if !ok {
		return nil
	}
	d.LastNotifiedAt = time.Time{}
	if previous != nil {
		d.LastNotifiedAt = *previous
	}
	if d.NotifyCount > 0 {
		d.NotifyCount--
	}
	db.reminders[appointmentID] = d
	return nil
}

func (r *notificationRepo) ClaimDigest(_ context.Context, companyID uuid.UUID, weekStart, now time.Time) (bool, error) {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()

	key := digestKey(companyID, weekStart)
	if _, exists := db.digests[key]; exists {
		return false, nil
	}
	db.digests[key] = now
	return true, nil
}

func (r *notificationRepo) ReleaseDigest(_ context.Context, companyID uuid.UUID, weekStart time.Time) error {
	db := (*DB)(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.digests, digestKey(companyID, weekStart))
	return nil
}

func digestKey(companyID uuid.UUID, weekStart time.Time) string {
	return companyID.String() + "/" + weekStart.UTC().Format("2006-01-02")
}

var (
	_ repositories.EventRepository        = (*eventRepo)(nil)
	_ repositories.CompanyRepository      = (*companyRepo)(nil)
	_ repositories.AppointmentRepository  = (*appointmentRepo)(nil)
	_ repositories.NotificationRepository = (*notificationRepo)(nil)
	_ repositories.Store                  = (*DB)(nil)
)
