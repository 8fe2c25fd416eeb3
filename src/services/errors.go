package services

import (
	"errors"
	"sort"
	"strings"
)

// Sentinel errors for explicit error handling
// These errors allow callers to distinguish between different failure modes
// using errors.Is() instead of string matching

var (
	// ErrNotFound indicates the requested appointment or company does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the write collides with existing state (e.g. a PCN already filed)
	ErrConflict = errors.New("conflict")

	// ErrForbidden indicates the actor may not act on the company
	ErrForbidden = errors.New("forbidden")

	// ErrInfrastructure indicates the store or a collaborator failed
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrUnknownSource indicates a webhook arrived for a source without a handler
	ErrUnknownSource = errors.New("unknown webhook source")

	// ErrUnknownCompany indicates a webhook could not be matched to a company
	ErrUnknownCompany = errors.New("unknown company")
)

// ValidationError reports rejected input before any write happens
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// NewValidationError creates a ValidationError with an optional single field
func NewValidationError(message string, fields map[string]string) *ValidationError {
	if fields == nil {
		fields = map[string]string{}
	}
	return &ValidationError{Message: message, Fields: fields}
}
