package models

import "strings"

// EventSource identifies the platform that sent a webhook
type EventSource string

const (
	// SourceGHL is the CRM/calendar platform (GoHighLevel)
	SourceGHL EventSource = "ghl"
	// SourceCalendly is the booking platform
	SourceCalendly EventSource = "calendly"
)

// ParseEventSource normalizes a route parameter into a known source
func ParseEventSource(s string) (EventSource, bool) {
	switch EventSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceGHL:
		return SourceGHL, true
	case SourceCalendly:
		return SourceCalendly, true
	}
	return "", false
}

// EventStatus is the processing state of a stored webhook event
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusFailed    EventStatus = "failed"
)

// AppointmentStatus is the lifecycle state of an appointment
type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "scheduled"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentNoShow      AppointmentStatus = "no_show"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

// Valid reports whether s is one of the known appointment statuses
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentCompleted,
		AppointmentCancelled, AppointmentNoShow, AppointmentRescheduled:
		return true
	}
	return false
}

// InclusionFlag says whether an appointment counts toward commission and reporting
type InclusionFlag string

const (
	InclusionIncluded InclusionFlag = "included"
	InclusionExcluded InclusionFlag = "excluded"
	// InclusionUnknown means not yet eligible for a judgment (future appointment or never computed)
	InclusionUnknown InclusionFlag = "unknown"
)

// AttributionStrategy selects how a contact's lead source is derived
type AttributionStrategy string

const (
	StrategyGHLFields AttributionStrategy = "ghl_fields"
	StrategyCalendars AttributionStrategy = "calendars"
	StrategyHyros     AttributionStrategy = "hyros"
	StrategyTags      AttributionStrategy = "tags"
	StrategyNone      AttributionStrategy = "none"
)

// AttributionStrategies lists every accepted strategy
var AttributionStrategies = []AttributionStrategy{
	StrategyGHLFields, StrategyCalendars, StrategyHyros, StrategyTags, StrategyNone,
}

// Valid reports whether s is one of the five accepted strategies
func (s AttributionStrategy) Valid() bool {
	for _, v := range AttributionStrategies {
		if s == v {
			return true
		}
	}
	return false
}

// PCN outcomes
const (
	OutcomeWon         = "won"
	OutcomeLost        = "lost"
	OutcomeNoShow      = "no_show"
	OutcomeCancelled   = "cancelled"
	OutcomeRescheduled = "rescheduled"
	OutcomeFollowUp    = "follow_up"
)

// cancellationSynonyms are outcome values treated as a cancellation
var cancellationSynonyms = map[string]bool{
	"cancelled": true,
	"canceled":  true,
	"cancel":    true,
}

// IsCancellationOutcome reports whether an outcome value means the appointment was cancelled
func IsCancellationOutcome(outcome string) bool {
	return cancellationSynonyms[strings.ToLower(strings.TrimSpace(outcome))]
}

// ResubmitPolicy decides what happens when a PCN already exists for an appointment
type ResubmitPolicy string

const (
	// ResubmitReject rejects a second submission unless the caller explicitly asks to resubmit
	ResubmitReject ResubmitPolicy = "reject"
	// ResubmitOverwrite always replaces the existing PCN
	ResubmitOverwrite ResubmitPolicy = "overwrite"
)

// ParseResubmitPolicy falls back to ResubmitReject for unknown values
func ParseResubmitPolicy(s string) ResubmitPolicy {
	if ResubmitPolicy(strings.ToLower(s)) == ResubmitOverwrite {
		return ResubmitOverwrite
	}
	return ResubmitReject
}
