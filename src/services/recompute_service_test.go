package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeService_IsolatesCorruptRecords(t *testing.T) {
	db := memory.New()
	companyID := uuid.New()
	past := time.Date(2025, 11, 10, 15, 0, 0, 0, time.UTC)

	const n = 7
	var corrupt models.Appointment
	for i := 0; i < n; i++ {
		a := seedAppointment(db, companyID, past.Add(time.Duration(i)*time.Hour), nil)
		if i == 3 {
			a.Status = "archived"
			db.PutAppointment(a)
			corrupt = a
		}
	}

	svc := NewRecomputeService(db.Appointments(), db, 2, time.Minute)
	svc.now = func() time.Time { return time.Date(2025, 11, 14, 12, 0, 0, 0, time.UTC) }

	result, err := svc.RecomputeAll(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, n, result.Total)
	assert.Equal(t, n-1, result.Updated)
	assert.Equal(t, 0, result.Unchanged)
	assert.Equal(t, 1, result.Errors)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, corrupt.ID, result.Failures[0].AppointmentID)
	assert.False(t, result.Truncated)

	again, err := svc.RecomputeAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Updated)
	assert.Equal(t, n-1, again.Unchanged)
	assert.Equal(t, 1, again.Errors)
}

func TestRecomputeService_CompanyScopeAndFutureAppointments(t *testing.T) {
	db := memory.New()
	companyA, companyB := uuid.New(), uuid.New()
	now := time.Date(2025, 11, 14, 12, 0, 0, 0, time.UTC)

	past := seedAppointment(db, companyA, now.Add(-time.Hour), nil)
	future := seedAppointment(db, companyA, now.Add(time.Hour), nil)
	other := seedAppointment(db, companyB, now.Add(-time.Hour), nil)
	cancelled := seedAppointment(db, companyA, now.Add(-2*time.Hour), func(a *models.Appointment) {
		a.Outcome = ptr("canceled")
		a.InclusionFlag = models.InclusionIncluded
	})

	svc := NewRecomputeService(db.Appointments(), db, 100, 0)
	svc.now = func() time.Time { return now }

	result, err := svc.RecomputeAll(context.Background(), &companyA)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 1, result.Unchanged)

	got, _ := db.Appointment(past.ID)
	assert.Equal(t, models.InclusionIncluded, got.InclusionFlag)
	got, _ = db.Appointment(future.ID)
	assert.Equal(t, models.InclusionUnknown, got.InclusionFlag)
	got, _ = db.Appointment(cancelled.ID)
	assert.Equal(t, models.InclusionExcluded, got.InclusionFlag)
	got, _ = db.Appointment(other.ID)
	assert.Equal(t, models.InclusionUnknown, got.InclusionFlag, "other companies are out of scope")
}

func TestRecomputeService_CancelledContextTruncates(t *testing.T) {
	db := memory.New()
	seedAppointment(db, uuid.New(), time.Now().Add(-time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewRecomputeService(db.Appointments(), db, 10, 0).RecomputeAll(ctx, nil)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 0, result.Total)
}
