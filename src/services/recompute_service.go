package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/eligibility"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// RecomputeFailure names one appointment the batch could not recompute
type RecomputeFailure struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Error         string    `json:"error"`
}

// RecomputeResult aggregates one recompute run
type RecomputeResult struct {
	Total     int                `json:"total"`
	Updated   int                `json:"updated"`
	Unchanged int                `json:"unchanged"`
	Errors    int                `json:"errors"`
	Failures  []RecomputeFailure `json:"failures,omitempty"`
	Truncated bool               `json:"truncated"`
}

// maxReportedFailures caps the failure list returned to callers; Errors still counts all
const maxReportedFailures = 100

// RecomputeService re-evaluates inclusion flags in bulk
type RecomputeService struct {
	appointments repositories.AppointmentRepository
	store        repositories.Store
	batchSize    int
	maxDuration  time.Duration
	now          func() time.Time
}

// NewRecomputeService creates a new recompute service
func NewRecomputeService(appointments repositories.AppointmentRepository, store repositories.Store, batchSize int, maxDuration time.Duration) *RecomputeService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &RecomputeService{
		appointments: appointments,
		store:        store,
		batchSize:    batchSize,
		maxDuration:  maxDuration,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RecomputeAll walks every appointment of companyID (all companies when nil).
// Each record is recomputed under its own row lock; a failing record is counted
// and the walk continues.
func (s *RecomputeService) RecomputeAll(ctx context.Context, companyID *uuid.UUID) (RecomputeResult, error) {
	var result RecomputeResult
	logger := logging.FromContext(ctx, "recompute")

	if s.maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxDuration)
		defer cancel()
	}

	page := repositories.AppointmentPage{CompanyID: companyID, Limit: s.batchSize}
	for {
		if ctx.Err() != nil {
			result.Truncated = true
			break
		}

		refs, err := s.appointments.ListIDs(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				result.Truncated = true
				break
			}
			return result, fmt.Errorf("%w: list appointments: %w", ErrInfrastructure, err)
		}

		for _, ref := range refs {
			if ctx.Err() != nil {
				result.Truncated = true
				break
			}
			result.Total++

			updated, err := s.recomputeOne(ctx, ref)
			switch {
			case err != nil:
				result.Errors++
				if len(result.Failures) < maxReportedFailures {
					result.Failures = append(result.Failures, RecomputeFailure{AppointmentID: ref.ID, Error: err.Error()})
				}
				logger.Warn().Err(err).Str("appointment_id", ref.ID.String()).Msg("Recompute failed for appointment")
			case updated:
				result.Updated++
			default:
				result.Unchanged++
			}
		}

		if result.Truncated || len(refs) < s.batchSize {
			break
		}
		page.AfterID = refs[len(refs)-1].ID
	}

	logger.Info().
		Int("total", result.Total).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("errors", result.Errors).
		Bool("truncated", result.Truncated).
		Msg("Recompute completed")
	return result, nil
}

func (s *RecomputeService) recomputeOne(ctx context.Context, ref repositories.AppointmentRef) (bool, error) {
	updated := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		appointment, err := tx.LockAppointment(ctx, ref.CompanyID, ref.ID)
		if err != nil {
			return err
		}
		changed, err := eligibility.Apply(appointment, s.now())
		if err != nil || !changed {
			return err
		}
		if err := tx.SaveAppointment(ctx, appointment); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if errors.Is(err, repositories.ErrNotFound) {
		// deleted between listing and locking
		return false, nil
	}
	return updated, err
}
