package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPCNFixture(t *testing.T, policy models.ResubmitPolicy) (*PCNService, *memory.DB, models.Appointment, models.Actor) {
	t.Helper()
	db := memory.New()
	companyID := uuid.New()
	db.PutCompany(models.Company{ID: companyID, Name: "Acme"})

	appointment := seedAppointment(db, companyID, time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC), func(a *models.Appointment) {
		a.InclusionFlag = models.InclusionIncluded
	})

	svc := NewPCNService(db, policy, nil)
	svc.now = func() time.Time { return time.Date(2025, 11, 14, 19, 0, 0, 0, time.UTC) }

	actor := models.Actor{UserID: "closer_7", Name: "Closer", Role: "closer", CompanyIDs: []uuid.UUID{companyID}}
	return svc, db, appointment, actor
}

func TestPCNService_SubmitWon(t *testing.T) {
	svc, db, appointment, actor := newPCNFixture(t, models.ResubmitReject)

	result, err := svc.Submit(context.Background(), appointment.ID, appointment.CompanyID,
		models.PCNSubmission{Outcome: "won", CashCollected: ptr(1500.0), Notes: "paid in full"}, actor)
	require.NoError(t, err)

	assert.Equal(t, "won", result.Outcome)
	assert.Equal(t, models.InclusionIncluded, result.InclusionFlag)
	assert.Equal(t, 1, result.Revision)
	assert.False(t, result.Resubmitted)

	stored, _ := db.Appointment(appointment.ID)
	assert.True(t, stored.PCNSubmitted)
	assert.Equal(t, models.AppointmentCompleted, stored.Status)
	require.NotNil(t, stored.Outcome)
	assert.Equal(t, "won", *stored.Outcome)
	assert.Equal(t, 1500.0, *stored.CashCollected)
	assert.Equal(t, "closer_7", *stored.PCNSubmittedBy)
	assert.Equal(t, time.Date(2025, 11, 14, 19, 0, 0, 0, time.UTC), *stored.PCNSubmittedAt)

	record, ok := db.PCN(appointment.ID)
	require.True(t, ok)
	assert.Equal(t, "paid in full", record.Notes)
	assert.Equal(t, "closer_7", record.SubmittedBy)
}

func TestPCNService_WonWithoutCashIsRejectedBeforeWrite(t *testing.T) {
	svc, db, appointment, actor := newPCNFixture(t, models.ResubmitReject)

	_, err := svc.Submit(context.Background(), appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "won"}, actor)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "cash_collected")

	stored, _ := db.Appointment(appointment.ID)
	assert.Equal(t, appointment, stored)
	_, ok := db.PCN(appointment.ID)
	assert.False(t, ok)
}

func TestPCNService_ValidationErrors(t *testing.T) {
	svc, _, appointment, actor := newPCNFixture(t, models.ResubmitReject)

	tests := []struct {
		name  string
		input models.PCNSubmission
		field string
	}{
		{"missing outcome", models.PCNSubmission{}, "outcome"},
		{"unknown outcome", models.PCNSubmission{Outcome: "maybe"}, "outcome"},
		{"negative cash", models.PCNSubmission{Outcome: "won", CashCollected: ptr(-5.0)}, "cash_collected"},
		{"follow up without notes", models.PCNSubmission{Outcome: "follow_up", Notes: "   "}, "notes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), appointment.ID, appointment.CompanyID, tt.input, actor)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestPCNService_Authorization(t *testing.T) {
	svc, _, appointment, _ := newPCNFixture(t, models.ResubmitReject)
	ctx := context.Background()
	in := models.PCNSubmission{Outcome: "lost"}

	outsider := models.Actor{UserID: "u2", CompanyIDs: []uuid.UUID{uuid.New()}}
	_, err := svc.Submit(ctx, appointment.ID, appointment.CompanyID, in, outsider)
	assert.ErrorIs(t, err, ErrForbidden)

	admin := models.Actor{UserID: "root", Role: models.RoleCrossCompany}
	_, err = svc.Submit(ctx, appointment.ID, appointment.CompanyID, in, admin)
	assert.NoError(t, err)
}

func TestPCNService_AppointmentNotFound(t *testing.T) {
	svc, _, appointment, actor := newPCNFixture(t, models.ResubmitReject)

	_, err := svc.Submit(context.Background(), uuid.New(), appointment.CompanyID, models.PCNSubmission{Outcome: "lost"}, actor)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPCNService_ResubmitPolicyReject(t *testing.T) {
	svc, db, appointment, actor := newPCNFixture(t, models.ResubmitReject)
	ctx := context.Background()

	_, err := svc.Submit(ctx, appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "lost"}, actor)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "won", CashCollected: ptr(100.0)}, actor)
	assert.ErrorIs(t, err, ErrConflict)
	record, _ := db.PCN(appointment.ID)
	assert.Equal(t, "lost", record.Outcome)

	result, err := svc.Submit(ctx, appointment.ID, appointment.CompanyID,
		models.PCNSubmission{Outcome: "won", CashCollected: ptr(100.0), Resubmit: true}, actor)
	require.NoError(t, err)
	assert.True(t, result.Resubmitted)
	assert.Equal(t, 2, result.Revision)
}

func TestPCNService_ResubmitPolicyOverwrite(t *testing.T) {
	svc, db, appointment, actor := newPCNFixture(t, models.ResubmitOverwrite)
	ctx := context.Background()

	_, err := svc.Submit(ctx, appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "lost"}, actor)
	require.NoError(t, err)
	result, err := svc.Submit(ctx, appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "no_show"}, actor)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Revision)
	stored, _ := db.Appointment(appointment.ID)
	assert.Equal(t, models.AppointmentNoShow, stored.Status)
}

func TestPCNService_CancelledOutcomeExcludes(t *testing.T) {
	svc, db, appointment, actor := newPCNFixture(t, models.ResubmitReject)

	result, err := svc.Submit(context.Background(), appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "Cancelled"}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.InclusionExcluded, result.InclusionFlag)

	stored, _ := db.Appointment(appointment.ID)
	assert.Equal(t, models.AppointmentCancelled, stored.Status)
	assert.Equal(t, models.InclusionExcluded, stored.InclusionFlag)
}

func TestPCNService_AppointmentWriteFailureRollsBackPCN(t *testing.T) {
	svc, db, appointment, actor := newPCNFixture(t, models.ResubmitReject)
	db.SaveAppointmentHook = func(*models.Appointment) error { return errors.New("connection reset") }

	_, err := svc.Submit(context.Background(), appointment.ID, appointment.CompanyID, models.PCNSubmission{Outcome: "lost"}, actor)
	assert.ErrorIs(t, err, ErrInfrastructure)

	_, ok := db.PCN(appointment.ID)
	assert.False(t, ok, "PCN and appointment update commit together")
	stored, _ := db.Appointment(appointment.ID)
	assert.False(t, stored.PCNSubmitted)
}

func TestPCNService_SnapshotsContactAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingest.Ingest(ctx, signedRequest(ghlAppointment("apt_1", "scheduled", "2025-11-14T11:00:00Z", "2025-11-14T10:00:00Z", "facebook")))
	require.NoError(t, err)
	appointment, ok := f.db.AppointmentByExternalID(f.company.ID, "apt_1")
	require.True(t, ok)

	svc := NewPCNService(f.db, models.ResubmitReject, nil)
	actor := models.Actor{UserID: "closer_7", CompanyIDs: []uuid.UUID{f.company.ID}}
	_, err = svc.Submit(ctx, appointment.ID, f.company.ID, models.PCNSubmission{Outcome: "lost"}, actor)
	require.NoError(t, err)

	record, _ := f.db.PCN(appointment.ID)
	require.NotNil(t, record.AttributionSnapshot)
	assert.Equal(t, "facebook", *record.AttributionSnapshot)
}
