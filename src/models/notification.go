package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationDispatch is the per-appointment reminder marker
type NotificationDispatch struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
	NotifyCount    int       `json:"notify_count"`
}

// WeekStart returns Monday 00:00 in loc of the ISO week containing t
func WeekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WeekKey is the calendar date of a local week start as UTC midnight, the form
// digest markers are stored under
func WeekKey(weekStart time.Time) time.Time {
	y, m, d := weekStart.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeeklySummary aggregates a company's appointments scheduled in one week
type WeeklySummary struct {
	Total         int     `json:"total"`
	Included      int     `json:"included"`
	Excluded      int     `json:"excluded"`
	Unknown       int     `json:"unknown"`
	Submitted     int     `json:"pcn_submitted"`
	Missing       int     `json:"pcn_missing"`
	CashCollected float64 `json:"cash_collected"`
}

// Add counts a into the summary
func (s *WeeklySummary) Add(a Appointment) {
	s.Total++
	switch a.InclusionFlag {
	case InclusionIncluded:
		s.Included++
	case InclusionExcluded:
		s.Excluded++
	default:
		s.Unknown++
	}
	if a.PCNSubmitted {
		s.Submitted++
	} else if a.InclusionFlag == InclusionIncluded {
		s.Missing++
	}
	if a.CashCollected != nil {
		s.CashCollected += *a.CashCollected
	}
}
