package services

import (
	"context"
	"fmt"
	"time"

	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/repositories"
)

// staleEventDetail is recorded on events that never reached a terminal state
const staleEventDetail = "processing interrupted"

// StaleEventService fails webhook events left pending after a crash between
// persisting and processing them. Events are never deleted.
type StaleEventService struct {
	events repositories.EventRepository
	after  time.Duration
	now    func() time.Time
}

// NewStaleEventService creates a new reaper for events pending longer than after
func NewStaleEventService(events repositories.EventRepository, after time.Duration) *StaleEventService {
	if after <= 0 {
		after = time.Hour
	}
	return &StaleEventService{
		events: events,
		after:  after,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reap marks stale pending events failed and returns how many it moved
func (s *StaleEventService) Reap(ctx context.Context) (int64, error) {
	logger := logging.FromContext(ctx, "reaper")

	n, err := s.events.FailStale(ctx, s.now().Add(-s.after), staleEventDetail)
	if err != nil {
		logger.Error().Err(err).Msg("Stale event reap failed")
		return 0, fmt.Errorf("%w: fail stale events: %w", ErrInfrastructure, err)
	}

	if n > 0 {
		logger.Warn().Int64("events", n).Dur("older_than", s.after).Msg("Marked stale pending events as failed")
	}
	return n, nil
}
