package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/attribution"
	"github.com/khabaroff/pcn-tracker/src/eligibility"
	"github.com/khabaroff/pcn-tracker/src/ingest"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
	"github.com/khabaroff/pcn-tracker/src/signature"
)

// IngestStatus is how one webhook ended
type IngestStatus string

const (
	IngestProcessed IngestStatus = "processed"
	IngestFailed    IngestStatus = "failed"
	IngestIgnored   IngestStatus = "ignored"
	IngestRejected  IngestStatus = "rejected"
	IngestTooLarge  IngestStatus = "too_large"
)

// DefaultHandlerTimeout bounds one domain handler run
const DefaultHandlerTimeout = 10 * time.Second

// IngestRequest is one inbound webhook as received. CompanyRef is the raw
// company id from the route, if any. Truncated marks a body cut at the size
// limit; it is stored for the audit trail and never applied.
type IngestRequest struct {
	Source     models.EventSource
	Body       []byte
	Header     http.Header
	CompanyRef string
	Truncated  bool
}

// IngestResult reports the stored event and its outcome
type IngestResult struct {
	EventID uuid.UUID    `json:"event_id"`
	Status  IngestStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
}

type eventHandler func(ctx context.Context, company *models.Company, ev *ingest.Event, payload []byte, receivedAt time.Time) error

// IngestService persists every inbound webhook, verifies it and applies it to the lifecycle store
type IngestService struct {
	events    repositories.EventRepository
	store     repositories.Store
	companies *CompanyService
	verifiers *signature.Registry
	analytics *AnalyticsService
	timeout   time.Duration
	handlers  map[ingest.Kind]eventHandler
	now       func() time.Time
}

// NewIngestService creates a new ingestion service
func NewIngestService(
	events repositories.EventRepository,
	store repositories.Store,
	companies *CompanyService,
	verifiers *signature.Registry,
	analytics *AnalyticsService,
	timeout time.Duration,
) *IngestService {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	s := &IngestService{
		events:    events,
		store:     store,
		companies: companies,
		verifiers: verifiers,
		analytics: analytics,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.handlers = map[ingest.Kind]eventHandler{
		ingest.KindAppointment: s.handleAppointment,
		ingest.KindContact:     s.handleContact,
	}
	return s
}

// Ingest records the webhook as pending, then verifies and dispatches it.
// Only a failure to persist the event is returned as an error; every other
// outcome is stored on the event row and reported in the result.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	verifier, ok := s.verifiers.Lookup(req.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}

	logger := logging.FromContext(ctx, "ingest")
	receivedAt := s.now()

	var (
		ev       *ingest.Event
		parseErr error
	)
	if !req.Truncated {
		ev, parseErr = ingest.Parse(req.Source, req.Body)
	}
	company, companyErr := s.resolveCompany(ctx, req, ev)

	event := &models.WebhookEvent{
		ID:         uuid.New(),
		Source:     req.Source,
		Payload:    req.Body,
		Status:     models.EventStatusPending,
		ReceivedAt: receivedAt,
	}
	if ev != nil {
		event.EventType = ev.Type
		event.ExternalID = ev.ExternalID
	}
	if company != nil {
		id := company.ID
		event.CompanyID = &id
	}

	if err := s.events.Create(ctx, event); err != nil {
		logger.Error().Err(err).Str("source", string(req.Source)).Msg("Failed to persist webhook event")
		return nil, fmt.Errorf("%w: persist webhook event: %w", ErrInfrastructure, err)
	}

	// Terminal transitions must land even if the caller goes away
	markCtx := context.WithoutCancel(ctx)
	result := &IngestResult{EventID: event.ID}
	defer func() {
		s.analytics.TrackWebhookReceived(markCtx, event.CompanyID, string(req.Source), string(result.Status), len(req.Body))
	}()

	if req.Truncated {
		s.fail(markCtx, event, result, IngestTooLarge, fmt.Sprintf("payload larger than %d bytes, stored truncated", len(req.Body)))
		return result, nil
	}

	if err := verifier.Verify(req.Body, req.Header); err != nil {
		s.fail(markCtx, event, result, IngestRejected, "invalid signature: "+err.Error())
		return result, nil
	}

	switch {
	case parseErr != nil:
		s.fail(markCtx, event, result, IngestFailed, parseErr.Error())
		return result, nil
	case ev.Kind == ingest.KindIgnored:
		s.succeed(markCtx, event, result, IngestIgnored)
		return result, nil
	case companyErr != nil:
		s.fail(markCtx, event, result, IngestFailed, companyErr.Error())
		return result, nil
	}

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.handlers[ev.Kind](hctx, company, ev, req.Body, receivedAt)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = fmt.Sprintf("handler timed out after %s", s.timeout)
		}
		s.fail(markCtx, event, result, IngestFailed, detail)
		return result, nil
	}

	s.succeed(markCtx, event, result, IngestProcessed)
	return result, nil
}

func (s *IngestService) resolveCompany(ctx context.Context, req IngestRequest, ev *ingest.Event) (*models.Company, error) {
	if req.CompanyRef != "" {
		id, err := uuid.Parse(req.CompanyRef)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid company id %q", ErrUnknownCompany, req.CompanyRef)
		}
		return s.companies.Get(ctx, id)
	}
	if ev == nil {
		return nil, ErrUnknownCompany
	}
	switch {
	case ev.LocationID != "":
		return s.companies.GetByLocationID(ctx, ev.LocationID)
	case ev.Organization != "":
		return s.companies.GetByCalendlyOrganization(ctx, ev.Organization)
	}
	return nil, ErrUnknownCompany
}

func (s *IngestService) succeed(ctx context.Context, event *models.WebhookEvent, result *IngestResult, status IngestStatus) {
	result.Status = status
	if err := s.events.MarkProcessed(ctx, event.ID, event.CompanyID); err != nil {
		logger := logging.FromContext(ctx, "ingest")
		logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to mark event processed")
	}
}

func (s *IngestService) fail(ctx context.Context, event *models.WebhookEvent, result *IngestResult, status IngestStatus, detail string) {
	result.Status = status
	result.Error = detail

	logger := logging.FromContext(ctx, "ingest")
	logger.Warn().
		Str("event_id", event.ID.String()).
		Str("source", string(event.Source)).
		Str("event_type", event.EventType).
		Str("status", string(status)).
		Str("error", detail).
		Msg("Webhook not applied")

	if err := s.events.MarkFailed(ctx, event.ID, event.CompanyID, detail); err != nil {
		logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to mark event failed")
	}
}

func (s *IngestService) handleContact(ctx context.Context, company *models.Company, ev *ingest.Event, payload []byte, receivedAt time.Time) error {
	if ev.Contact == nil {
		return errors.New("contact event without contact id")
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		_, err := s.upsertContact(ctx, tx, company, ev.Contact, payload, receivedAt)
		return err
	})
}

func (s *IngestService) handleAppointment(ctx context.Context, company *models.Company, ev *ingest.Event, payload []byte, receivedAt time.Time) error {
	update := ev.Update(receivedAt)
	if update.ExternalID == "" {
		return errors.New("appointment event without appointment id")
	}

	return s.store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if ev.Contact != nil {
			contact, err := s.upsertContact(ctx, tx, company, ev.Contact, payload, receivedAt)
			if err != nil {
				return err
			}
			update.ContactID = &contact.ID
		}

		appointment, created, err := s.lockOrCreate(ctx, tx, company.ID, update)
		if err != nil {
			return err
		}

		changed := false
		if !created {
			changed = appointment.Merge(update)
		}
		flagChanged, err := eligibility.Apply(appointment, s.now())
		if err != nil {
			return err
		}
		if !changed && !flagChanged {
			return nil
		}
		if err := tx.SaveAppointment(ctx, appointment); err != nil {
			return fmt.Errorf("save appointment %s: %w", appointment.ExternalID, err)
		}
		return nil
	})
}

// lockOrCreate locks the appointment for update, creating it when the event
// carries enough to do so. Creation needs a start time.
func (s *IngestService) lockOrCreate(ctx context.Context, tx repositories.Tx, companyID uuid.UUID, update models.AppointmentUpdate) (*models.Appointment, bool, error) {
	if update.ScheduledAt == nil {
		a, err := tx.LockAppointmentByExternalID(ctx, companyID, update.ExternalID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, false, fmt.Errorf("appointment %s is unknown and the event has no start time", update.ExternalID)
		}
		return a, false, err
	}

	seed := models.NewAppointment(companyID, update)
	if _, err := eligibility.Apply(seed, s.now()); err != nil {
		return nil, false, err
	}
	return tx.LockOrCreateAppointment(ctx, seed)
}

func (s *IngestService) upsertContact(ctx context.Context, tx repositories.Tx, company *models.Company, fields *ingest.ContactFields, payload []byte, at time.Time) (*models.Contact, error) {
	seed := &models.Contact{
		ID:         uuid.New(),
		CompanyID:  company.ID,
		ExternalID: fields.ExternalID,
		Name:       fields.Name,
		Email:      fields.Email,
		Phone:      fields.Phone,
	}
	contact, created, err := tx.LockOrCreateContact(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", fields.ExternalID, err)
	}

	changed := false
	if !created {
		changed = fillString(&contact.Name, fields.Name) || changed
		changed = fillString(&contact.Email, fields.Email) || changed
		changed = fillString(&contact.Phone, fields.Phone) || changed
	}
	source := attribution.Resolve(payload, company.Attribution)
	if contact.ResolveAttribution(source, company.Attribution.Strategy, at) {
		changed = true
	}

	if changed {
		if err := tx.SaveContact(ctx, contact); err != nil {
			return nil, fmt.Errorf("save contact %s: %w", fields.ExternalID, err)
		}
	}
	return contact, nil
}

func fillString(dst *string, v string) bool {
	if v == "" || *dst == v {
		return false
	}
	*dst = v
	return true
}
