package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is the lead an appointment belongs to
type Contact struct {
	ID                    uuid.UUID            `json:"id"`
	CompanyID             uuid.UUID            `json:"company_id"`
	ExternalID            string               `json:"external_id"`
	Name                  string               `json:"name"`
	Email                 string               `json:"email,omitempty"`
	Phone                 string               `json:"phone,omitempty"`
	Attribution           *string              `json:"attribution,omitempty"`
	AttributionStrategy   *AttributionStrategy `json:"attribution_strategy,omitempty"`
	AttributionResolvedAt *time.Time           `json:"attribution_resolved_at,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// HasAttribution reports whether a source was already resolved for this contact
func (c *Contact) HasAttribution() bool {
	return c.Attribution != nil
}

// ResolveAttribution records value unless an attribution already exists.
// Attribution is forward-only: strategy changes never rewrite history.
func (c *Contact) ResolveAttribution(value *string, strategy AttributionStrategy, at time.Time) bool {
	if c.HasAttribution() || value == nil || *value == "" {
		return false
	}
	v := *value
	s := strategy
	t := at.UTC()
	c.Attribution = &v
	c.AttributionStrategy = &s
	c.AttributionResolvedAt = &t
	return true
}
