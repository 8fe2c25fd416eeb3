package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories/memory"
	"github.com/khabaroff/pcn-tracker/src/repositories/mock"
	"github.com/khabaroff/pcn-tracker/src/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestService_CreatesAppointmentAndContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	body := ghlAppointment("apt_1", "confirmed", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")
	result, err := f.ingest.Ingest(ctx, signedRequest(body))
	require.NoError(t, err)
	assert.Equal(t, IngestProcessed, result.Status)

	a, ok := f.db.AppointmentByExternalID(f.company.ID, "apt_1")
	require.True(t, ok)
	assert.Equal(t, models.AppointmentConfirmed, a.Status)
	assert.Equal(t, time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC), a.ScheduledAt)
	assert.Equal(t, models.InclusionUnknown, a.InclusionFlag, "future appointments are not judged yet")
	require.NotNil(t, a.ContactID)

	c, ok := f.db.ContactByExternalID(f.company.ID, "ct_1")
	require.True(t, ok)
	assert.Equal(t, *a.ContactID, c.ID)
	require.NotNil(t, c.Attribution)
	assert.Equal(t, "facebook", *c.Attribution)
	assert.Equal(t, models.StrategyGHLFields, *c.AttributionStrategy)

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, event.Status)
	assert.Equal(t, "AppointmentUpdate", event.EventType)
	assert.Equal(t, "apt_1", event.ExternalID)
	require.NotNil(t, event.CompanyID)
	assert.Equal(t, f.company.ID, *event.CompanyID)
}

func TestIngestService_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	body := ghlAppointment("apt_1", "confirmed", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")

	first, err := f.ingest.Ingest(ctx, signedRequest(body))
	require.NoError(t, err)
	before, _ := f.db.AppointmentByExternalID(f.company.ID, "apt_1")

	second, err := f.ingest.Ingest(ctx, signedRequest(body))
	require.NoError(t, err)

	assert.Equal(t, IngestProcessed, first.Status)
	assert.Equal(t, IngestProcessed, second.Status)
	assert.NotEqual(t, first.EventID, second.EventID, "every delivery is audited")
	assert.Equal(t, 1, f.db.CountAppointments())

	after, _ := f.db.AppointmentByExternalID(f.company.ID, "apt_1")
	assert.Equal(t, before, after)
}

func TestIngestService_OutOfOrderEventsMergeByEventTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")
	b := ghlAppointment("apt_1", "cancelled", "", "2025-11-14T10:05:00Z", "")
	c := ghlAppointment("apt_1", "confirmed", "2025-11-14T18:30:00Z", "2025-11-14T10:02:00Z", "")

	for _, body := range [][]byte{a, b, c} {
		result, err := f.ingest.Ingest(ctx, signedRequest(body))
		require.NoError(t, err)
		require.Equal(t, IngestProcessed, result.Status, result.Error)
	}

	got, ok := f.db.AppointmentByExternalID(f.company.ID, "apt_1")
	require.True(t, ok)
	assert.Equal(t, models.AppointmentCancelled, got.Status)
	assert.Equal(t, models.InclusionExcluded, got.InclusionFlag)
	assert.Equal(t, time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC), got.ScheduledAt, "late event must not move the start time")
	assert.Equal(t, time.Date(2025, 11, 14, 10, 5, 0, 0, time.UTC), got.SourceUpdatedAt)
}

func TestIngestService_AttributionIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ingest.Ingest(ctx, signedRequest(ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")))
	require.NoError(t, err)
	_, err = f.ingest.Ingest(ctx, signedRequest(ghlAppointment("apt_2", "scheduled", "2025-11-15T18:00:00Z", "2025-11-14T11:00:00Z", "google")))
	require.NoError(t, err)

	c, ok := f.db.ContactByExternalID(f.company.ID, "ct_1")
	require.True(t, ok)
	assert.Equal(t, "facebook", *c.Attribution)
}

func TestIngestService_InvalidSignatureIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	body := ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")
	req := signedRequest(body)
	req.Header.Set(signature.GHLHeader, "sha256=deadbeef")

	result, err := f.ingest.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, IngestRejected, result.Status)
	assert.Equal(t, 0, f.db.CountAppointments())

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	require.NotNil(t, event.Error)
	assert.True(t, strings.HasPrefix(*event.Error, "invalid signature: "))
}

func TestIngestService_MissingSignatureIsRejected(t *testing.T) {
	f := newFixture(t)
	body := ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")

	result, err := f.ingest.Ingest(context.Background(), IngestRequest{Source: models.SourceGHL, Body: body, Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, IngestRejected, result.Status)
	assert.Contains(t, result.Error, signature.ErrMissingSignature.Error())
}

func TestIngestService_UnknownSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.Ingest(context.Background(), IngestRequest{Source: "stripe", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestIngestService_PersistFailureIsInfrastructure(t *testing.T) {
	f := newFixture(t)
	events := mock.NewEventRepository()
	events.CreateFunc = func(ctx context.Context, event *models.WebhookEvent) error {
		return errors.New("connection refused")
	}
	svc := NewIngestService(events, f.db, f.companies, signature.NewDefaultRegistry(signature.Options{Enabled: false}), nil, time.Second)

	_, err := svc.Ingest(context.Background(), IngestRequest{Source: models.SourceGHL, Body: []byte(`{"type":"AppointmentCreate"}`)})
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Empty(t, events.Calls["MarkProcessed"])
	assert.Empty(t, events.Calls["MarkFailed"])
}

func TestIngestService_UnknownCompanyFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	body := []byte(`{"type":"AppointmentCreate","locationId":"loc_unknown","appointment":{"id":"apt_9","startTime":"2025-11-14T18:00:00Z"}}`)
	result, err := f.ingest.Ingest(ctx, signedRequest(body))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, result.Status)

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	assert.Nil(t, event.CompanyID)
}

func TestIngestService_RouteCompanyWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	body := []byte(`{"type":"AppointmentCreate","appointment":{"id":"apt_9","startTime":"2025-11-14T18:00:00Z"}}`)
	req := signedRequest(body)
	req.CompanyRef = f.company.ID.String()

	result, err := f.ingest.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, IngestProcessed, result.Status, result.Error)

	_, ok := f.db.AppointmentByExternalID(f.company.ID, "apt_9")
	assert.True(t, ok)
}

func TestIngestService_MalformedRouteCompanyIsStoredAndFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	body := []byte(`{"type":"AppointmentCreate","locationId":"loc_1","appointment":{"id":"apt_9","startTime":"2025-11-14T18:00:00Z"}}`)
	req := signedRequest(body)
	req.CompanyRef = "not-a-uuid"

	result, err := f.ingest.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, result.Status)
	assert.Contains(t, result.Error, `invalid company id "not-a-uuid"`)
	assert.Equal(t, 0, f.db.CountAppointments())

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	assert.Nil(t, event.CompanyID)
}

func TestIngestService_TruncatedBodyIsStoredAndNeverApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	body := ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")
	req := signedRequest(body)
	req.Truncated = true

	result, err := f.ingest.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, IngestTooLarge, result.Status)
	assert.Equal(t, 0, f.db.CountAppointments())

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	assert.Equal(t, body, event.Payload)
	require.NotNil(t, event.Error)
	assert.Contains(t, *event.Error, "stored truncated")
}

func TestIngestService_IgnoredEventIsProcessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.ingest.Ingest(ctx, signedRequest([]byte(`{"type":"InboundMessage","locationId":"loc_1"}`)))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, result.Status)

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, event.Status)
}

func TestIngestService_MalformedPayloadIsFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.ingest.Ingest(ctx, signedRequest([]byte(`not json`)))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, result.Status)

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
}

func TestIngestService_HandlerErrorRollsBackAndFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.db.SaveAppointmentHook = func(a *models.Appointment) error {
		return errors.New("disk full")
	}

	result, err := f.ingest.Ingest(ctx, signedRequest(ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "facebook")))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, result.Status)
	assert.Contains(t, result.Error, "disk full")

	assert.Equal(t, 0, f.db.CountAppointments())
	_, ok := f.db.ContactByExternalID(f.company.ID, "ct_1")
	assert.False(t, ok, "contact upsert shares the failed transaction")

	event, err := f.db.Events().GetByID(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
}

func TestIngestService_CancelForUnknownAppointmentFails(t *testing.T) {
	f := newFixture(t)

	result, err := f.ingest.Ingest(context.Background(), signedRequest([]byte(`{"type":"AppointmentDelete","locationId":"loc_1","appointment":{"id":"apt_never_seen"}}`)))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, result.Status)
	assert.Contains(t, result.Error, "no start time")
}

func TestIngestService_ContactEvent(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"type":"ContactCreate","locationId":"loc_1","id":"ct_5","firstName":"Grace","lastName":"Hopper","email":"g@example.com","contact":{"source":"webinar"}}`)

	result, err := f.ingest.Ingest(context.Background(), signedRequest(body))
	require.NoError(t, err)
	assert.Equal(t, IngestProcessed, result.Status, result.Error)

	c, ok := f.db.ContactByExternalID(f.company.ID, "ct_5")
	require.True(t, ok)
	assert.Equal(t, "Grace Hopper", c.Name)
	require.NotNil(t, c.Attribution)
	assert.Equal(t, "webinar", *c.Attribution)
}

func TestIngestService_HandlerTimeout(t *testing.T) {
	f := newFixture(t)
	f.ingest.timeout = 10 * time.Millisecond
	f.db.SaveAppointmentHook = func(a *models.Appointment) error {
		time.Sleep(50 * time.Millisecond)
		return context.DeadlineExceeded
	}

	result, err := f.ingest.Ingest(context.Background(), signedRequest(ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "")))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, result.Status)
	assert.Contains(t, result.Error, "timed out")
}

func TestIngestService_ConcurrentDeliveriesCreateOneRow(t *testing.T) {
	db := memory.New()
	company := models.Company{ID: uuid.New(), Name: "Acme", LocationID: "loc_1", Attribution: models.AttributionConfig{Strategy: models.StrategyNone}}
	db.PutCompany(company)
	svc := NewIngestService(db.Events(), db, NewCompanyService(db.Companies(), time.Minute),
		signature.NewDefaultRegistry(signature.Options{Enabled: false}), nil, time.Second)

	body := ghlAppointment("apt_1", "scheduled", "2025-11-14T18:00:00Z", "2025-11-14T10:00:00Z", "")
	done := make(chan *IngestResult, 8)
	for i := 0; i < 8; i++ {
		go func() {
			result, _ := svc.Ingest(context.Background(), IngestRequest{Source: models.SourceGHL, Body: body, Header: http.Header{}})
			done <- result
		}()
	}
	for i := 0; i < 8; i++ {
		result := <-done
		require.NotNil(t, result)
		assert.Equal(t, IngestProcessed, result.Status)
	}
	assert.Equal(t, 1, db.CountAppointments())
}
