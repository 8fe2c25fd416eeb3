// Package eligibility decides whether an appointment counts toward commission and reporting.
package eligibility

import (
	"errors"
	"fmt"
	"time"

	"github.com/khabaroff/pcn-tracker/src/models"
)

// ErrMalformed is returned for records the rules cannot judge
var ErrMalformed = errors.New("malformed appointment")

// Rule is one row of the decision table. Applies reports whether the rule decides a.
type Rule struct {
	Name    string
	Applies func(a *models.Appointment, now time.Time) bool
	Flag    models.InclusionFlag
}

// Rules is evaluated top to bottom; the first rule that applies decides.
var Rules = []Rule{
	{
		Name:    "status_cancelled",
		Applies: func(a *models.Appointment, _ time.Time) bool { return a.Status == models.AppointmentCancelled },
		Flag:    models.InclusionExcluded,
	},
	{
		Name: "outcome_cancelled",
		Applies: func(a *models.Appointment, _ time.Time) bool {
			return a.Outcome != nil && models.IsCancellationOutcome(*a.Outcome)
		},
		Flag: models.InclusionExcluded,
	},
	{
		Name:    "in_future",
		Applies: func(a *models.Appointment, now time.Time) bool { return a.ScheduledAt.After(now) },
		Flag:    models.InclusionUnknown,
	},
	{
		Name:    "default",
		Applies: func(*models.Appointment, time.Time) bool { return true },
		Flag:    models.InclusionIncluded,
	},
}

// Evaluate returns the inclusion flag for a at now. It has no side effects.
func Evaluate(a *models.Appointment, now time.Time) (models.InclusionFlag, error) {
	if a == nil {
		return "", fmt.Errorf("%w: nil appointment", ErrMalformed)
	}
	if a.ScheduledAt.IsZero() {
		return "", fmt.Errorf("%w: %s has no scheduled time", ErrMalformed, a.ID)
	}
	if !a.Status.Valid() {
		return "", fmt.Errorf("%w: %s has unknown status %q", ErrMalformed, a.ID, a.Status)
	}

	for _, rule := range Rules {
		if rule.Applies(a, now) {
			return rule.Flag, nil
		}
	}
	return models.InclusionIncluded, nil
}

// Apply evaluates a and stores the result on it, reporting whether the flag changed
func Apply(a *models.Appointment, now time.Time) (bool, error) {
	flag, err := Evaluate(a, now)
	if err != nil {
		return false, err
	}
	if a.InclusionFlag == flag {
		return false, nil
	}
	a.InclusionFlag = flag
	return true, nil
}
