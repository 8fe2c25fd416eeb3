package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSourceField is read when ghl_fields is configured without a field
const DefaultSourceField = "contact.source"

// AttributionConfig is a company's active attribution strategy
type AttributionConfig struct {
	Strategy        AttributionStrategy `json:"strategy" validate:"required"`
	SourceField     string              `json:"source_field,omitempty" validate:"max=200"`
	CalendarSources map[string]string   `json:"calendar_sources,omitempty"`
}

// CalendarBased is derived: true iff the strategy is calendars
func (c AttributionConfig) CalendarBased() bool {
	return c.Strategy == StrategyCalendars
}

// Company owns appointments, contacts and notification channels
type Company struct {
	ID                   uuid.UUID         `json:"id"`
	Name                 string            `json:"name"`
	LocationID           string            `json:"location_id,omitempty"`
	CalendlyOrganization string            `json:"calendly_organization,omitempty"`
	Attribution          AttributionConfig `json:"attribution"`
	SlackWebhookURL      string            `json:"slack_webhook_url,omitempty"`
	DigestEmail          string            `json:"digest_email,omitempty"`
	Timezone             string            `json:"timezone"`
	CreatedAt            time.Time         `json:"created_at"`
}

// Location returns the company's timezone, UTC when unset or invalid
func (c *Company) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
