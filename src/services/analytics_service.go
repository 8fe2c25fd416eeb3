package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog/log"
)

// systemDistinctID owns events not attributable to one company
const systemDistinctID = "pcn-tracker"

// AnalyticsService sends product analytics to PostHog, grouped by company.
// A nil or disabled *AnalyticsService tracks nothing.
type AnalyticsService struct {
	client      posthog.Client
	environment string
}

type posthogCallback struct{}

func (posthogCallback) Success(m posthog.APIMessage) {
	log.Debug().Str("type", fmt.Sprintf("%T", m)).Msg("PostHog event delivered")
}

func (posthogCallback) Failure(m posthog.APIMessage, err error) {
	log.Error().Err(err).Str("type", fmt.Sprintf("%T", m)).Msg("PostHog delivery failed")
}

// AnalyticsConfig holds analytics configuration
type AnalyticsConfig struct {
	PostHogAPIKey string
	PostHogHost   string
	Enabled       bool
	Environment   string
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(cfg AnalyticsConfig) (*AnalyticsService, error) {
	if !cfg.Enabled || cfg.PostHogAPIKey == "" {
		return &AnalyticsService{}, nil
	}

	client, err := posthog.NewWithConfig(cfg.PostHogAPIKey, posthog.Config{
		Endpoint:  cfg.PostHogHost,
		Interval:  30 * time.Second,
		BatchSize: 100,
		Callback:  posthogCallback{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &AnalyticsService{client: client, environment: cfg.Environment}, nil
}

// Close flushes pending events
func (s *AnalyticsService) Close() error {
	if !s.enabled() {
		return nil
	}
	return s.client.Close()
}

func (s *AnalyticsService) enabled() bool {
	return s != nil && s.client != nil
}

// capture builds the PostHog message for one event. Company events are sent
// with the company as both distinct id and group so per-company dashboards work.
func (s *AnalyticsService) capture(companyID *uuid.UUID, event string, props posthog.Properties) posthog.Capture {
	if props == nil {
		props = posthog.NewProperties()
	}
	props.Set("environment", s.environment)

	msg := posthog.Capture{
		DistinctId: systemDistinctID,
		Event:      event,
		Timestamp:  time.Now().UTC(),
		Properties: props,
	}
	if companyID != nil {
		msg.DistinctId = "company_" + companyID.String()
		msg.Groups = posthog.NewGroups().Set("company", companyID.String())
	}
	return msg
}

func (s *AnalyticsService) track(ctx context.Context, companyID *uuid.UUID, event string, props posthog.Properties) {
	if !s.enabled() {
		return
	}
	if err := s.client.Enqueue(s.capture(companyID, event, props)); err != nil {
		logger := logging.FromContext(ctx, "analytics")
		logger.Error().Err(err).Str("event", event).Msg("PostHog enqueue failed")
	}
}

// TrackWebhookReceived tracks one ingested webhook and how it ended
func (s *AnalyticsService) TrackWebhookReceived(ctx context.Context, companyID *uuid.UUID, source, status string, payloadSize int) {
	s.track(ctx, companyID, "webhook_received", posthog.NewProperties().
		Set("source", source).
		Set("status", status).
		Set("payload_size_bytes", payloadSize))
}

// TrackPCNSubmitted tracks a filed post-call note
func (s *AnalyticsService) TrackPCNSubmitted(ctx context.Context, companyID uuid.UUID, outcome string, resubmitted bool) {
	s.track(ctx, &companyID, "pcn_submitted", posthog.NewProperties().
		Set("outcome", outcome).
		Set("resubmitted", resubmitted))
}

func (s *AnalyticsService) TrackSweepCompleted(ctx context.Context, result SweepResult) {
	s.track(ctx, nil, "sweep_completed", posthog.NewProperties().
		Set("checked", result.Checked).
		Set("notified", result.Notified).
		Set("skipped", result.Skipped).
		Set("errors", result.Errors).
		Set("truncated", result.Truncated))
}

func (s *AnalyticsService) TrackDigestCompleted(ctx context.Context, result DigestResult) {
	s.track(ctx, nil, "weekly_digest_completed", posthog.NewProperties().
		Set("companies", result.Companies).
		Set("sent", result.Sent).
		Set("skipped", result.Skipped).
		Set("errors", result.Errors))
}
