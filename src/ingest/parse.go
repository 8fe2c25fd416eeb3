package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned for bodies that are not a JSON object
var ErrMalformedPayload = errors.New("malformed payload")

// Kind says which domain handler an event is routed to
type Kind int

const (
	KindIgnored Kind = iota
	KindAppointment
	KindContact
)

func (k Kind) String() string {
	switch k {
	case KindAppointment:
		return "appointment"
	case KindContact:
		return "contact"
	}
	return "ignored"
}

// Event is the source-independent view of one webhook
type Event struct {
	Source       models.EventSource
	Type         string
	Kind         Kind
	ExternalID   string
	LocationID   string
	Organization string
	// At is the source-side change time, zero when the payload carries none
	At          time.Time
	Appointment *AppointmentFields
	Contact     *ContactFields
}

// AppointmentFields holds the appointment attributes present in the payload
type AppointmentFields struct {
	ExternalID  string
	ScheduledAt *time.Time
	Status      *models.AppointmentStatus
	CalendarID  *string
	CloserID    *string
	Title       *string
}

// ContactFields holds the contact attributes present in the payload
type ContactFields struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
}

// Update converts the appointment fields into a merge request; fallback stands in
// for the event time when the payload has none.
func (e *Event) Update(fallback time.Time) models.AppointmentUpdate {
	at := e.At
	if at.IsZero() {
		at = fallback.UTC()
	}
	u := models.AppointmentUpdate{EventAt: at}
	if a := e.Appointment; a != nil {
		u.ExternalID = a.ExternalID
		u.ScheduledAt = a.ScheduledAt
		u.Status = a.Status
		u.CalendarID = a.CalendarID
		u.CloserID = a.CloserID
		u.Title = a.Title
	}
	return u
}

// Parse extracts the event for source from payload
func Parse(source models.EventSource, payload []byte) (*Event, error) {
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return nil, ErrMalformedPayload
	}

	switch source {
	case models.SourceGHL:
		return parseGHL(payload), nil
	case models.SourceCalendly:
		return parseCalendly(payload), nil
	}
	return nil, fmt.Errorf("no extraction rules for source %q", source)
}

// GoHighLevel

var (
	ghlType       = Field{"type", []string{"type", "event", "eventType"}}
	ghlLocation   = Field{"location", []string{"locationId", "location_id", "location.id", "appointment.locationId"}}
	ghlEventTime  = Field{"event_time", []string{"appointment.dateUpdated", "dateUpdated", "updatedAt", "date_updated", "timestamp", "appointment.dateAdded", "dateAdded"}}
	ghlApptID     = Field{"appointment_id", []string{"appointment.id", "appointmentId", "appointment_id", "calendar.appointmentId", "id"}}
	ghlStart      = Field{"start_time", []string{"appointment.startTime", "startTime", "calendar.startTime", "start_time"}}
	ghlApptStatus = Field{"status", []string{"appointment.appointmentStatus", "appointmentStatus", "calendar.status", "status"}}
	ghlCalendar   = Field{"calendar_id", []string{"appointment.calendarId", "calendarId", "calendar.id", "calendar_id"}}
	ghlCloser     = Field{"closer_id", []string{"appointment.assignedUserId", "assignedUserId", "assigned_user_id", "user.id"}}
	ghlTitle      = Field{"title", []string{"appointment.title", "title", "calendar.title"}}

	ghlContactID    = Field{"contact_id", []string{"contact.id", "appointment.contactId", "contactId", "contact_id"}}
	ghlContactName  = Field{"contact_name", []string{"contact.name", "full_name", "contact.fullName", "name"}}
	ghlContactEmail = Field{"contact_email", []string{"contact.email", "email"}}
	ghlContactPhone = Field{"contact_phone", []string{"contact.phone", "phone"}}
)

// ghlStatuses maps the platform's appointment statuses onto the lifecycle
var ghlStatuses = map[string]models.AppointmentStatus{
	"new":         models.AppointmentScheduled,
	"booked":      models.AppointmentScheduled,
	"scheduled":   models.AppointmentScheduled,
	"confirmed":   models.AppointmentConfirmed,
	"showed":      models.AppointmentCompleted,
	"completed":   models.AppointmentCompleted,
	"noshow":      models.AppointmentNoShow,
	"no_show":     models.AppointmentNoShow,
	"no-show":     models.AppointmentNoShow,
	"cancelled":   models.AppointmentCancelled,
	"canceled":    models.AppointmentCancelled,
	"invalid":     models.AppointmentCancelled,
	"rescheduled": models.AppointmentRescheduled,
}

func parseGHL(payload []byte) *Event {
	ev := &Event{Source: models.SourceGHL}
	ev.Type, _ = ghlType.String(payload)
	ev.LocationID, _ = ghlLocation.String(payload)
	ev.At, _ = ghlEventTime.Time(payload)

	lowered := strings.ToLower(ev.Type)
	switch {
	case strings.HasPrefix(lowered, "appointment"):
		ev.Kind = KindAppointment
	case strings.HasPrefix(lowered, "contact"):
		ev.Kind = KindContact
	default:
		return ev
	}

	if ev.Kind == KindContact {
		c := ghlContact(payload, Field{"contact_id", append([]string{"id"}, ghlContactID.Paths...)})
		if c != nil {
			ev.ExternalID = c.ExternalID
			ev.Contact = c
		}
		return ev
	}

	a := &AppointmentFields{
		CalendarID: ghlCalendar.Ptr(payload),
		CloserID:   ghlCloser.Ptr(payload),
		Title:      ghlTitle.Ptr(payload),
	}
	a.ExternalID, _ = ghlApptID.String(payload)
	if t, ok := ghlStart.Time(payload); ok {
		a.ScheduledAt = &t
	}
	if raw, ok := ghlApptStatus.String(payload); ok {
		if s, known := ghlStatuses[strings.ToLower(raw)]; known {
			a.Status = &s
		}
	}
	if lowered == "appointmentdelete" {
		s := models.AppointmentCancelled
		a.Status = &s
	}
	ev.ExternalID = a.ExternalID
	ev.Appointment = a
	ev.Contact = ghlContact(payload, ghlContactID)
	return ev
}

func ghlContact(payload []byte, id Field) *ContactFields {
	externalID, ok := id.String(payload)
	if !ok {
		return nil
	}
	c := &ContactFields{ExternalID: externalID}
	c.Name, _ = ghlContactName.String(payload)
	if c.Name == "" {
		first := Field{"first_name", []string{"contact.firstName", "firstName", "first_name"}}
		last := Field{"last_name", []string{"contact.lastName", "lastName", "last_name"}}
		f, _ := first.String(payload)
		l, _ := last.String(payload)
		c.Name = strings.TrimSpace(f + " " + l)
	}
	c.Email, _ = ghlContactEmail.String(payload)
	c.Phone, _ = ghlContactPhone.String(payload)
	return c
}

// Calendly

var (
	calendlyType         = Field{"type", []string{"event"}}
	calendlyOrganization = Field{"organization", []string{"payload.scheduled_event.organization", "organization", "created_by"}}
	calendlyEventTime    = Field{"event_time", []string{"payload.updated_at", "created_at", "payload.created_at"}}
	calendlyEventURI     = Field{"scheduled_event", []string{"payload.scheduled_event.uri", "payload.event"}}
	calendlyStart        = Field{"start_time", []string{"payload.scheduled_event.start_time"}}
	calendlyEventType    = Field{"event_type", []string{"payload.scheduled_event.event_type"}}
	calendlyHost         = Field{"host", []string{"payload.scheduled_event.event_memberships.0.user", "payload.scheduled_event.event_memberships.0.user_email"}}
	calendlyTitle        = Field{"title", []string{"payload.scheduled_event.name"}}
	calendlyInvitee      = Field{"invitee", []string{"payload.email", "payload.uri"}}
	calendlyName         = Field{"name", []string{"payload.name"}}
	calendlyPhone        = Field{"phone", []string{"payload.text_reminder_number"}}
)

func parseCalendly(payload []byte) *Event {
	ev := &Event{Source: models.SourceCalendly}
	ev.Type, _ = calendlyType.String(payload)
	ev.Organization, _ = calendlyOrganization.String(payload)
	ev.At, _ = calendlyEventTime.Time(payload)

	var status models.AppointmentStatus
	switch ev.Type {
	case "invitee.created":
		status = models.AppointmentScheduled
	case "invitee.canceled":
		status = models.AppointmentCancelled
		if gjson.GetBytes(payload, "payload.rescheduled").Bool() {
			status = models.AppointmentRescheduled
		}
	default:
		return ev
	}
	ev.Kind = KindAppointment

	a := &AppointmentFields{
		Status:     &status,
		CalendarID: calendlyEventType.Ptr(payload),
		CloserID:   calendlyHost.Ptr(payload),
		Title:      calendlyTitle.Ptr(payload),
	}
	a.ExternalID, _ = calendlyEventURI.String(payload)
	if t, ok := calendlyStart.Time(payload); ok {
		a.ScheduledAt = &t
	}
	ev.ExternalID = a.ExternalID
	ev.Appointment = a

	if invitee, ok := calendlyInvitee.String(payload); ok {
		c := &ContactFields{ExternalID: strings.ToLower(invitee)}
		c.Name, _ = calendlyName.String(payload)
		c.Email, _ = Field{"email", []string{"payload.email"}}.String(payload)
		c.Phone, _ = calendlyPhone.String(payload)
		ev.Contact = c
	}
	return ev
}
