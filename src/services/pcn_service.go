package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/eligibility"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// SubmissionResult is what a caller learns after filing a PCN
type SubmissionResult struct {
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Outcome       string               `json:"outcome"`
	InclusionFlag models.InclusionFlag `json:"inclusion_flag"`
	Revision      int                  `json:"revision"`
	Resubmitted   bool                 `json:"resubmitted"`
}

// outcomeRequirements lists the submission fields each outcome cannot do without
var outcomeRequirements = map[string][]string{
	models.OutcomeWon:      {"cash_collected"},
	models.OutcomeFollowUp: {"notes"},
}

// PCNService files post-call notes against appointments
type PCNService struct {
	store     repositories.Store
	policy    models.ResubmitPolicy
	analytics *AnalyticsService
	now       func() time.Time
}

// NewPCNService creates a new PCN service
func NewPCNService(store repositories.Store, policy models.ResubmitPolicy, analytics *AnalyticsService) *PCNService {
	return &PCNService{
		store:     store,
		policy:    policy,
		analytics: analytics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit authorizes and validates the submission, then writes the PCN, the
// appointment update and the recomputed inclusion flag in one transaction.
func (s *PCNService) Submit(ctx context.Context, appointmentID, companyID uuid.UUID, in models.PCNSubmission, actor models.Actor) (*SubmissionResult, error) {
	if !actor.CanAccess(companyID) {
		return nil, ErrForbidden
	}

	in.Outcome = strings.ToLower(strings.TrimSpace(in.Outcome))
	in.Notes = strings.TrimSpace(in.Notes)
	if err := validateSubmission(in); err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx, "pcn")
	now := s.now()
	var result *SubmissionResult

	err := s.store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		appointment, err := tx.LockAppointment(ctx, companyID, appointmentID)
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock appointment: %w", err)
		}

		existing, err := tx.GetPCN(ctx, appointmentID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("load pcn: %w", err)
		}
		if existing != nil && s.policy == models.ResubmitReject && !in.Resubmit {
			return fmt.Errorf("%w: a PCN was already submitted for this appointment", ErrConflict)
		}

		record := &models.PCNRecord{
			AppointmentID: appointmentID,
			CompanyID:     companyID,
			SubmittedBy:   actor.UserID,
			SubmittedAt:   now,
			Outcome:       in.Outcome,
			CashCollected: in.CashCollected,
			Notes:         in.Notes,
			Revision:      1,
		}
		if existing != nil {
			record.Revision = existing.Revision + 1
		}
		if appointment.ContactID != nil {
			contact, err := tx.GetContact(ctx, *appointment.ContactID)
			if err != nil && !errors.Is(err, repositories.ErrNotFound) {
				return fmt.Errorf("load contact: %w", err)
			}
			if contact != nil {
				record.AttributionSnapshot = contact.Attribution
			}
		}

		if err := tx.SavePCN(ctx, record); err != nil {
			return fmt.Errorf("save pcn: %w", err)
		}

		outcome := in.Outcome
		submittedBy := actor.UserID
		appointment.Outcome = &outcome
		appointment.CashCollected = in.CashCollected
		appointment.Status = models.StatusForOutcome(outcome)
		appointment.PCNSubmitted = true
		appointment.PCNSubmittedAt = &now
		appointment.PCNSubmittedBy = &submittedBy
		if _, err := eligibility.Apply(appointment, now); err != nil {
			return err
		}

		if err := tx.SaveAppointment(ctx, appointment); err != nil {
			logger.Error().Err(err).
				Str("appointment_id", appointmentID.String()).
				Msg("Appointment update failed after PCN write; rolling back")
			return fmt.Errorf("save appointment: %w", err)
		}

		result = &SubmissionResult{
			AppointmentID: appointmentID,
			Outcome:       outcome,
			InclusionFlag: appointment.InclusionFlag,
			Revision:      record.Revision,
			Resubmitted:   existing != nil,
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return nil, err
	default:
		logger.Error().Err(err).
			Str("appointment_id", appointmentID.String()).
			Str("company_id", companyID.String()).
			Msg("PCN submission not committed")
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("outcome", result.Outcome).
		Str("inclusion_flag", string(result.InclusionFlag)).
		Int("revision", result.Revision).
		Str("actor", actor.UserID).
		Msg("PCN submitted")
	s.analytics.TrackPCNSubmitted(ctx, companyID, result.Outcome, result.Resubmitted)
	return result, nil
}

func validateSubmission(in models.PCNSubmission) error {
	if err := validateStruct("invalid PCN submission", in); err != nil {
		return err
	}

	missing := map[string]string{}
	for _, field := range outcomeRequirements[in.Outcome] {
		switch field {
		case "cash_collected":
			if in.CashCollected == nil {
				missing[field] = "required when outcome is " + in.Outcome
			}
		case "notes":
			if in.Notes == "" {
				missing[field] = "required when outcome is " + in.Outcome
			}
		}
	}
	if len(missing) > 0 {
		return NewValidationError("invalid PCN submission", missing)
	}
	return nil
}
