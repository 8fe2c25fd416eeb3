package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/khabaroff/pcn-tracker/src/config"
	"github.com/khabaroff/pcn-tracker/src/handlers"
	"github.com/khabaroff/pcn-tracker/src/middleware"
	"github.com/khabaroff/pcn-tracker/src/scheduler"
	"github.com/khabaroff/pcn-tracker/src/services"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port (overrides PORT)")
	return cmd
}

func runServe(cfg *config.Config) error {
	if err := middleware.CheckSecret(cfg.JWTSecret); err != nil {
		return err
	}

	log.Info().
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("starting server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware("/health", "/ready"))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	// Manual runs take the same job locks whether or not schedules fire here
	sched, closeLocker, err := newScheduler(cfg, a)
	if err != nil {
		return err
	}
	defer closeLocker()
	setupRoutes(router, a, sched)

	// Create HTTP server with timeouts (protect from Slowloris)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.WebhookHandlerTimeout + 20*time.Second,
	}

	if !cfg.EnableScheduler {
		log.Warn().Msg("scheduler disabled - trigger jobs via /internal/jobs or the job command")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.EnableScheduler {
		sched.Start()
		log.Info().
			Dur("sweep_interval", cfg.SweepInterval).
			Dur("recompute_interval", cfg.RecomputeInterval).
			Str("weekly_digest", cfg.WeeklyDigestSchedule).
			Msg("scheduler started")

		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			log.Info().Msg("scheduler stopped")
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server shut down successfully")
	return nil
}

// newScheduler registers the recurring jobs. Replicas sharing REDIS_URL take
// turns through redsync; otherwise jobs are only serialized in-process.
func newScheduler(cfg *config.Config, a *app) (*scheduler.Scheduler, func(), error) {
	var locker scheduler.Locker
	closeLocker := func() {}

	if cfg.RedisURL != "" {
		redisLocker, client, err := scheduler.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		locker = redisLocker
		closeLocker = func() { _ = client.Close() }
		log.Info().Msg("scheduler using redis job locks")
	}

	sched := scheduler.New(locker)
	tasks := []*scheduler.Task{
		{
			Name:         services.JobSweep,
			InitialDelay: 30 * time.Second,
			Interval:     cfg.SweepInterval,
			Timeout:      cfg.SweepMaxDuration + time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.sweep.Sweep(ctx, nil)
				return err
			},
		},
		{
			Name:         services.JobRecompute,
			InitialDelay: time.Minute,
			Interval:     cfg.RecomputeInterval,
			Timeout:      cfg.RecomputeMaxDuration + time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.recompute.RecomputeAll(ctx, nil)
				return err
			},
		},
		{
			Name:    services.JobWeeklyDigest,
			Spec:    cfg.WeeklyDigestSchedule,
			Timeout: 30 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.sweep.WeeklyDigest(ctx, nil)
				return err
			},
		},
		{
			Name:         services.JobReapEvents,
			InitialDelay: 10 * time.Second,
			Interval:     cfg.StaleEventAfter / 2,
			Timeout:      5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.reaper.Reap(ctx)
				return err
			},
		},
	}
	for _, task := range tasks {
		if err := sched.AddTask(task); err != nil {
			closeLocker()
			return nil, nil, err
		}
	}
	return sched, closeLocker, nil
}

func corsConfig(allowedOrigins string) cors.Config {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func setupRoutes(router *gin.Engine, a *app, jobRunner handlers.JobRunner) {
	cfg := a.cfg

	healthHandler := handlers.NewHealthHandler(a.db)
	webhookHandler := handlers.NewWebhookHandler(a.ingest)
	pcnHandler := handlers.NewPCNHandler(a.pcns)
	companyHandler := handlers.NewCompanyHandler(a.companies, a.events)
	jobsHandler := handlers.NewJobsHandler(jobRunner, a.sweep, a.recompute, a.reaper)

	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/ready", healthHandler.HandleReady)
	router.GET("/info", healthHandler.HandleInfo)

	// Providers retry 5xx with backoff; 4xx is kept for signature failures
	webhookLimiter := middleware.NewRateLimitingMiddleware(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.WebhookRatePerMinute,
		RejectStatus:      http.StatusServiceUnavailable,
	}, middleware.WebhookKey)
	webhooks := router.Group("/webhooks", webhookLimiter)
	{
		webhooks.POST("/:source", webhookHandler.HandleWebhook)
		webhooks.POST("/:source/:company_id", webhookHandler.HandleWebhook)
	}

	api := router.Group("/api", middleware.ActorAuth(cfg.JWTSecret))
	{
		api.POST("/companies/:company_id/appointments/:appointment_id/pcn", pcnHandler.HandleSubmit)
		api.PUT("/companies/:company_id/attribution", companyHandler.HandleUpdateAttribution)
		api.GET("/companies/:company_id/events", companyHandler.HandleListEvents)
	}

	jobs := router.Group("/internal/jobs",
		middleware.NewRateLimitingMiddleware(middleware.RateLimitConfig{RequestsPerMinute: 30, Burst: 5}, middleware.ClientIPKey),
		middleware.JobAuth(cfg.JobToken, cfg.JWTSecret),
	)
	{
		jobs.POST("/sweep", jobsHandler.HandleSweep)
		jobs.POST("/recompute", jobsHandler.HandleRecompute)
		jobs.POST("/weekly-digest", jobsHandler.HandleWeeklyDigest)
		jobs.POST("/reap-events", jobsHandler.HandleReapEvents)
	}
}
