package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/models"
	"github.com/khabaroff/pcn-tracker/src/notify"
	"github.com/khabaroff/pcn-tracker/src/repositories"
	"github.com/khabaroff/pcn-tracker/src/templates"
	"golang.org/x/sync/errgroup"
)

// SweepConfig tunes the reminder sweep and the weekly digest
type SweepConfig struct {
	// Interval is one sweep cycle; an appointment is reminded at most once per cycle
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
	MaxDuration time.Duration
	BaseURL     string
	// FallbackChannel is used for companies without their own channel
	FallbackChannel   notify.Channel
	DigestConcurrency int
}

// DefaultSweepConfig returns the defaults used when nothing is configured
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:          15 * time.Minute,
		GracePeriod:       10 * time.Minute,
		BatchSize:         200,
		MaxDuration:       5 * time.Minute,
		FallbackChannel:   notify.Channel{Kind: notify.ChannelLog},
		DigestConcurrency: 4,
	}
}

// SweepResult aggregates one sweep run
type SweepResult struct {
	Checked   int  `json:"checked"`
	Notified  int  `json:"notified"`
	Skipped   int  `json:"skipped"`
	Errors    int  `json:"errors"`
	Truncated bool `json:"truncated"`
}

// DigestResult aggregates one weekly digest run
type DigestResult struct {
	Companies int `json:"companies"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// SweepService reminds closers about missing PCNs and sends the weekly company digest
type SweepService struct {
	appointments  repositories.AppointmentRepository
	notifications repositories.NotificationRepository
	companies     *CompanyService
	notifier      notify.Notifier
	messages      *templates.Config
	analytics     *AnalyticsService
	cfg           SweepConfig
	now           func() time.Time
}

// NewSweepService creates a new sweep service
func NewSweepService(
	appointments repositories.AppointmentRepository,
	notifications repositories.NotificationRepository,
	companies *CompanyService,
	notifier notify.Notifier,
	messages *templates.Config,
	analytics *AnalyticsService,
	cfg SweepConfig,
) *SweepService {
	defaults := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FallbackChannel.Kind == "" {
		cfg.FallbackChannel = defaults.FallbackChannel
	}
	if cfg.DigestConcurrency <= 0 {
		cfg.DigestConcurrency = defaults.DigestConcurrency
	}
	return &SweepService{
		appointments:  appointments,
		notifications: notifications,
		companies:     companies,
		notifier:      notifier,
		messages:      messages,
		analytics:     analytics,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// IsOverdue reports whether a is missing a PCN it should have by now
func IsOverdue(a *models.Appointment, now time.Time, grace time.Duration) bool {
	switch {
	case a.PCNSubmitted:
		return false
	case a.ScheduledAt.IsZero() || a.ScheduledAt.After(now.Add(-grace)):
		return false
	case a.IsCancelled():
		return false
	case a.InclusionFlag == models.InclusionExcluded:
		return false
	}
	return true
}

// Sweep sends one reminder per overdue appointment per cycle. Delivery failures
// are counted and release the claim so the next run retries. When the run
// deadline is hit the partial counts are returned with Truncated set.
func (s *SweepService) Sweep(ctx context.Context, companyID *uuid.UUID) (SweepResult, error) {
	var result SweepResult
	logger := logging.FromContext(ctx, "sweep")
	now := s.now()

	if s.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxDuration)
		defer cancel()
	}

	companies := map[uuid.UUID]*models.Company{}
	query := repositories.OverdueQuery{
		CompanyID:       companyID,
		ScheduledBefore: now.Add(-s.cfg.GracePeriod),
		Limit:           s.cfg.BatchSize,
	}

	for !result.Truncated {
		if ctx.Err() != nil {
			result.Truncated = true
			break
		}

		batch, err := s.appointments.ListOverdue(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				result.Truncated = true
				break
			}
			return result, fmt.Errorf("%w: list overdue appointments: %w", ErrInfrastructure, err)
		}

		for i := range batch {
			if ctx.Err() != nil {
				result.Truncated = true
				break
			}
			a := &batch[i]
			result.Checked++

			if !IsOverdue(a, now, s.cfg.GracePeriod) {
				result.Skipped++
				continue
			}

			company, ok := companies[a.CompanyID]
			if !ok {
				company, err = s.companies.Get(ctx, a.CompanyID)
				if err != nil {
					result.Errors++
					logger.Error().Err(err).Str("company_id", a.CompanyID.String()).Msg("Failed to load company for reminder")
					continue
				}
				companies[a.CompanyID] = company
			}

			sent, err := s.remind(ctx, company, a, now)
			switch {
			case err != nil:
				result.Errors++
				logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("Reminder not delivered")
			case sent:
				result.Notified++
			default:
				result.Skipped++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
		query.AfterID = batch[len(batch)-1].ID
	}

	logger.Info().
		Int("checked", result.Checked).
		Int("notified", result.Notified).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Bool("truncated", result.Truncated).
		Msg("Sweep completed")
	s.analytics.TrackSweepCompleted(ctx, result)
	return result, nil
}

// remind claims the appointment for this cycle and delivers one reminder
func (s *SweepService) remind(ctx context.Context, company *models.Company, a *models.Appointment, now time.Time) (bool, error) {
	claimed, previous, err := s.notifications.ClaimReminder(ctx, a.ID, now, now.Add(-s.reminderWindow()))
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	if !claimed {
		return false, nil
	}

	msg, err := s.reminderMessage(company, a, now)
	if err == nil {
		err = s.notifier.Send(ctx, s.reminderChannel(company), *msg)
	}
	if err != nil {
		if releaseErr := s.notifications.ReleaseReminder(context.WithoutCancel(ctx), a.ID, previous); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("release reminder: %w", releaseErr))
		}
		return false, err
	}
	return true, nil
}

// reminderWindow is how long a reminder claim lasts. Two runs closer than half
// an interval apart fall in the same cycle; a run started slightly early by
// scheduler jitter still starts a new one.
func (s *SweepService) reminderWindow() time.Duration {
	return s.cfg.Interval / 2
}

func (s *SweepService) reminderChannel(company *models.Company) notify.Channel {
	if company.SlackWebhookURL != "" {
		return notify.Channel{Kind: notify.ChannelSlack, Target: company.SlackWebhookURL}
	}
	return s.cfg.FallbackChannel
}

func (s *SweepService) reminderMessage(company *models.Company, a *models.Appointment, now time.Time) (*notify.Message, error) {
	title := a.Title
	if title == "" {
		title = "appointment " + a.ExternalID
	}
	data := templates.ReminderData{
		BrandName:        s.messages.Branding.Name,
		CompanyName:      company.Name,
		AppointmentTitle: title,
		ScheduledAt:      a.ScheduledAt.In(company.Location()).Format("Mon 2 Jan 15:04 MST"),
		OverdueFor:       shortDuration(now.Sub(a.ScheduledAt)),
		PCNURL:           fmt.Sprintf("%s/companies/%s/appointments/%s/pcn", strings.TrimRight(s.cfg.BaseURL, "/"), company.ID, a.ID),
	}
	if a.CloserID != nil {
		data.CloserID = *a.CloserID
	}

	rendered, err := s.messages.RenderReminder(data)
	if err != nil {
		return nil, err
	}
	return &notify.Message{Subject: rendered.Subject, Text: rendered.Text}, nil
}

// WeeklyDigest sends last week's summary to every company (or only companyID), once per company per week
func (s *SweepService) WeeklyDigest(ctx context.Context, companyID *uuid.UUID) (DigestResult, error) {
	var result DigestResult
	logger := logging.FromContext(ctx, "digest")
	now := s.now()

	var companies []models.Company
	if companyID != nil {
		c, err := s.companies.Get(ctx, *companyID)
		if err != nil {
			return result, err
		}
		companies = []models.Company{*c}
	} else {
		var err error
		if companies, err = s.companies.List(ctx); err != nil {
			return result, err
		}
	}
	result.Companies = len(companies)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.DigestConcurrency)

	for i := range companies {
		company := &companies[i]
		g.Go(func() error {
			sent, err := s.digestOne(gctx, company, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors++
				logger.Warn().Err(err).Str("company_id", company.ID.String()).Msg("Weekly digest not delivered")
			case sent:
				result.Sent++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info().
		Int("companies", result.Companies).
		Int("sent", result.Sent).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("Weekly digest completed")
	s.analytics.TrackDigestCompleted(ctx, result)
	return result, nil
}

// digestOne reports the company's previous local week, Monday to Sunday in its timezone
func (s *SweepService) digestOne(ctx context.Context, company *models.Company, now time.Time) (bool, error) {
	weekStart := models.WeekStart(now, company.Location()).AddDate(0, 0, -7)
	weekEnd := weekStart.AddDate(0, 0, 7)

	claimed, err := s.notifications.ClaimDigest(ctx, company.ID, models.WeekKey(weekStart), now)
	if err != nil {
		return false, fmt.Errorf("claim digest: %w", err)
	}
	if !claimed {
		return false, nil
	}

	err = s.sendDigest(ctx, company, weekStart, weekEnd)
	if err != nil {
		if releaseErr := s.notifications.ReleaseDigest(context.WithoutCancel(ctx), company.ID, models.WeekKey(weekStart)); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("release digest: %w", releaseErr))
		}
		return false, err
	}
	return true, nil
}

func (s *SweepService) sendDigest(ctx context.Context, company *models.Company, weekStart, weekEnd time.Time) error {
	summary, err := s.appointments.Summarize(ctx, company.ID, weekStart, weekEnd)
	if err != nil {
		return fmt.Errorf("summarize week: %w", err)
	}

	rendered, err := s.messages.RenderDigest(templates.DigestData{
		BrandName:     s.messages.Branding.Name,
		CompanyName:   company.Name,
		DashboardURL:  s.cfg.BaseURL,
		WeekStart:     weekStart.Format("2006-01-02"),
		WeekEnd:       weekEnd.AddDate(0, 0, -1).Format("2006-01-02"),
		Total:         summary.Total,
		Included:      summary.Included,
		Excluded:      summary.Excluded,
		Unknown:       summary.Unknown,
		Submitted:     summary.Submitted,
		Missing:       summary.Missing,
		CashCollected: summary.CashCollected,
	})
	if err != nil {
		return err
	}

	return s.notifier.Send(ctx, s.digestChannel(company), notify.Message{
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	})
}

func (s *SweepService) digestChannel(company *models.Company) notify.Channel {
	if company.DigestEmail != "" {
		return notify.Channel{Kind: notify.ChannelEmail, Target: company.DigestEmail}
	}
	return s.reminderChannel(company)
}

// shortDuration formats d to the minute, e.g. "15m" or "2h5m"
func shortDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "under a minute"
	}
	return strings.TrimSuffix(d.String(), "0s")
}
