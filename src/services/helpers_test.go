package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/notify"
	"github.com/khabaroff/pcn-tracker/src/repositories/memory"
	"github.com/khabaroff/pcn-tracker/src/signature"
)

const testSecret = "ghl-test-secret"

// fixture wires the services against one in-memory database and a fixed clock
type fixture struct {
	db        *memory.DB
	company   models.Company
	companies *CompanyService
	ingest    *IngestService
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := memory.New()
	company := models.Company{
		ID:         uuid.New(),
		Name:       "Acme Sales",
		LocationID: "loc_1",
		Attribution: models.AttributionConfig{
			Strategy:    models.StrategyGHLFields,
			SourceField: models.DefaultSourceField,
		},
		Timezone: "UTC",
	}
	db.PutCompany(company)

	companies := NewCompanyService(db.Companies(), 0)
	registry := signature.NewDefaultRegistry(signature.Options{Enabled: true, GHLSecret: testSecret})

	f := &fixture{
		db:        db,
		company:   company,
		companies: companies,
		clock:     time.Date(2025, 11, 14, 12, 0, 0, 0, time.UTC),
	}
	f.ingest = NewIngestService(db.Events(), db, companies, registry, nil, time.Second)
	f.ingest.now = func() time.Time { return f.clock }
	return f
}

func signedRequest(body []byte) IngestRequest {
	header := http.Header{}
	header.Set(signature.GHLHeader, "sha256="+signature.Sign(testSecret, body, signature.Hex))
	return IngestRequest{Source: models.SourceGHL, Body: body, Header: header}
}

func ghlAppointment(id, status, start, updated, source string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "AppointmentUpdate",
		"locationId": "loc_1",
		"appointment": {
			"id": %q,
			"calendarId": "cal_1",
			"contactId": "ct_1",
			"title": "Discovery call",
			"startTime": %q,
			"appointmentStatus": %q,
			"dateUpdated": %q
		},
		"contact": {"id": "ct_1", "name": "Ada Lovelace", "source": %q}
	}`, id, start, status, updated, source))
}

func seedAppointment(db *memory.DB, companyID uuid.UUID, scheduledAt time.Time, mutate func(a *models.Appointment)) models.Appointment {
	a := models.Appointment{
		ID:            uuid.New(),
		CompanyID:     companyID,
		ExternalID:    "apt_" + uuid.NewString()[:8],
		Title:         "Discovery call",
		ScheduledAt:   scheduledAt,
		Status:        models.AppointmentScheduled,
		InclusionFlag: models.InclusionUnknown,
	}
	if mutate != nil {
		mutate(&a)
	}
	db.PutAppointment(a)
	return a
}

type sentMessage struct {
	Channel notify.Channel
	Message notify.Message
}

// capturingNotifier records deliveries and fails while failWith is set
type capturingNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failWith error
}

func (n *capturingNotifier) Send(_ context.Context, ch notify.Channel, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.sent = append(n.sent, sentMessage{Channel: ch, Message: msg})
	return nil
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func ptr[T any](v T) *T {
	return &v
}
