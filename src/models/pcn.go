package models

import (
	"time"

	"github.com/google/uuid"
)

// PCNRecord is the Post-Call Note filed for an appointment (one per appointment)
type PCNRecord struct {
	AppointmentID       uuid.UUID `json:"appointment_id"`
	CompanyID           uuid.UUID `json:"company_id"`
	SubmittedBy         string    `json:"submitted_by"`
	SubmittedAt         time.Time `json:"submitted_at"`
	Outcome             string    `json:"outcome"`
	CashCollected       *float64  `json:"cash_collected,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	AttributionSnapshot *string   `json:"attribution_snapshot,omitempty"`
	Revision            int       `json:"revision"`
}

// PCNSubmission is the payload an actor posts to file a PCN
type PCNSubmission struct {
	Outcome       string   `json:"outcome" validate:"required,oneof=won lost no_show cancelled rescheduled follow_up"`
	CashCollected *float64 `json:"cash_collected" validate:"omitempty,gte=0"`
	Notes         string   `json:"notes" validate:"max=5000"`
	Resubmit      bool     `json:"resubmit"`
}

// StatusForOutcome maps a PCN outcome onto the appointment lifecycle
func StatusForOutcome(outcome string) AppointmentStatus {
	switch outcome {
	case OutcomeNoShow:
		return AppointmentNoShow
	case OutcomeCancelled:
		return AppointmentCancelled
	case OutcomeRescheduled:
		return AppointmentRescheduled
	default:
		return AppointmentCompleted
	}
}
