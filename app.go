package main

import (
	"context"
	"fmt"
	"time"

	"github.com/khabaroff/pcn-tracker/src/config"
	"github.com/khabaroff/pcn-tracker/src/crypto"
	"github.com/khabaroff/pcn-tracker/src/database"
	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/khabaroff/pcn-tracker/src/notify"
	"github.com/khabaroff/pcn-tracker/src/repositories/postgres"
	"github.com/khabaroff/pcn-tracker/src/services"
	"github.com/khabaroff/pcn-tracker/src/signature"
	"github.com/khabaroff/pcn-tracker/src/templates"
	"github.com/rs/zerolog/log"
)

// calendlyTolerance bounds clock skew on Calendly signature timestamps
const calendlyTolerance = 3 * time.Minute

// app holds every long-lived component shared by serve and the one-shot jobs
type app struct {
	cfg       *config.Config
	db        *database.Database
	analytics *services.AnalyticsService

	companies *services.CompanyService
	events    *services.EventService
	ingest    *services.IngestService
	pcns      *services.PCNService
	recompute *services.RecomputeService
	sweep     *services.SweepService
	reaper    *services.StaleEventService
}

// loadConfig reads configuration and sets up the global logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	return cfg, nil
}

// newApp connects to the database and wires services. Callers must close it.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := database.New(connectCtx, cfg.DatabaseURL, database.DefaultOptions())
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info().Msg("database connected")

	// Initialize encryption (optional, empty key disables)
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	if encryptor != nil {
		log.Info().Msg("webhook payload encryption enabled (AES-256-GCM)")
	} else {
		log.Info().Msg("webhook payload encryption disabled (ENCRYPTION_KEY not set)")
	}

	analytics, err := services.NewAnalyticsService(services.AnalyticsConfig{
		PostHogAPIKey: cfg.PostHogAPIKey,
		PostHogHost:   cfg.PostHogHost,
		Enabled:       cfg.PostHogEnabled,
		Environment:   cfg.Environment,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize analytics service: %w", err)
	}

	messages, err := templates.LoadConfig()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load notification templates: %w", err)
	}

	pool := db.GetPool()
	eventRepo := postgres.NewEventRepository(pool, encryptor)
	appointmentRepo := postgres.NewAppointmentRepository(pool)
	store := postgres.NewStore(pool)

	registry := signature.NewDefaultRegistry(signature.Options{
		Enabled:                cfg.EnableWebhookSignatureVerification,
		GHLSecret:              cfg.GHLWebhookSecret,
		GHLPreviousSecret:      cfg.GHLWebhookSecretPrevious,
		CalendlySecret:         cfg.CalendlyWebhookSecret,
		CalendlyPreviousSecret: cfg.CalendlyWebhookSecretPrevious,
		CalendlyTolerance:      calendlyTolerance,
	})

	companies := services.NewCompanyService(postgres.NewCompanyRepository(pool), cfg.CompanyCacheTTL)

	a := &app{
		cfg:       cfg,
		db:        db,
		analytics: analytics,
		companies: companies,
		events:    services.NewEventService(eventRepo),
		ingest:    services.NewIngestService(eventRepo, store, companies, registry, analytics, cfg.WebhookHandlerTimeout),
		pcns:      services.NewPCNService(store, cfg.PCNResubmitPolicy, analytics),
		recompute: services.NewRecomputeService(appointmentRepo, store, cfg.RecomputeBatchSize, cfg.RecomputeMaxDuration),
		reaper:    services.NewStaleEventService(eventRepo, cfg.StaleEventAfter),
	}

	notifier, fallback := newNotifier(cfg)
	a.sweep = services.NewSweepService(
		appointmentRepo,
		postgres.NewNotificationRepository(pool),
		companies,
		notifier,
		messages,
		analytics,
		services.SweepConfig{
			Interval:        cfg.SweepInterval,
			GracePeriod:     cfg.SweepGracePeriod,
			BatchSize:       cfg.SweepBatchSize,
			MaxDuration:     cfg.SweepMaxDuration,
			BaseURL:         cfg.AppBaseURL,
			FallbackChannel: fallback,
		},
	)
	return a, nil
}

// newNotifier registers every configured delivery channel
func newNotifier(cfg *config.Config) (*notify.Router, notify.Channel) {
	router := notify.NewRouter()
	router.Register(notify.ChannelSlack, notify.NewSlackNotifier(cfg.SlackDefaultWebhookURL, 10*time.Second))

	if cfg.MailgunAPIKey != "" && cfg.MailgunDomain != "" {
		router.Register(notify.ChannelEmail, notify.NewEmailNotifier(notify.EmailConfig{
			Domain:    cfg.MailgunDomain,
			APIKey:    cfg.MailgunAPIKey,
			FromEmail: cfg.MailgunFromEmail,
			FromName:  cfg.MailgunFromName,
			EU:        cfg.MailgunEU,
		}))
		log.Info().Str("domain", cfg.MailgunDomain).Msg("Mailgun email delivery initialized")
	} else {
		router.Register(notify.ChannelEmail, notify.LogNotifier{})
		log.Warn().Msg("Mailgun credentials not configured - digest emails are logged only")
	}

	fallback := notify.Channel{Kind: notify.ChannelLog}
	if cfg.SlackDefaultWebhookURL != "" {
		fallback = notify.Channel{Kind: notify.ChannelSlack}
	}
	return router, fallback
}

func (a *app) Close() {
	if err := a.analytics.Close(); err != nil {
		log.Warn().Err(err).Msg("analytics flush failed")
	}
	a.db.Close()
}
