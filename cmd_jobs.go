package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/services"
	"github.com/spf13/cobra"
)

func jobCmd() *cobra.Command {
	var companyFlag string

	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run one batch job and print its result as JSON",
		Long: `Run one batch job against the configured database and exit.

Examples:
  pcn-tracker job sweep
  pcn-tracker job recompute --company 6f1c...
  pcn-tracker job weekly-digest
  pcn-tracker job reap-events`,
	}
	cmd.PersistentFlags().StringVar(&companyFlag, "company", "", "limit the job to one company id")

	run := func(name string, fn func(ctx context.Context, a *app, companyID *uuid.UUID) (interface{}, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			var companyID *uuid.UUID
			if companyFlag != "" {
				id, err := uuid.Parse(companyFlag)
				if err != nil {
					return fmt.Errorf("invalid --company: %w", err)
				}
				companyID = &id
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, closeLocker, err := newScheduler(cfg, a)
			if err != nil {
				return err
			}
			defer closeLocker()

			var result interface{}
			ran, err := sched.Exclusive(ctx, name, func(ctx context.Context) error {
				var err error
				result, err = fn(ctx, a, companyID)
				return err
			})
			if err != nil {
				return err
			}
			if !ran {
				return fmt.Errorf("job %s is already running", name)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sweep",
			Short: "Remind closers about overdue PCNs",
			Args:  cobra.NoArgs,
			RunE: run(services.JobSweep, func(ctx context.Context, a *app, companyID *uuid.UUID) (interface{}, error) {
				return a.sweep.Sweep(ctx, companyID)
			}),
		},
		&cobra.Command{
			Use:   "recompute",
			Short: "Re-evaluate every appointment's inclusion flag",
			Args:  cobra.NoArgs,
			RunE: run(services.JobRecompute, func(ctx context.Context, a *app, companyID *uuid.UUID) (interface{}, error) {
				return a.recompute.RecomputeAll(ctx, companyID)
			}),
		},
		&cobra.Command{
			Use:   "weekly-digest",
			Short: "Send last week's digest to companies that have not received it",
			Args:  cobra.NoArgs,
			RunE: run(services.JobWeeklyDigest, func(ctx context.Context, a *app, companyID *uuid.UUID) (interface{}, error) {
				return a.sweep.WeeklyDigest(ctx, companyID)
			}),
		},
		&cobra.Command{
			Use:   "reap-events",
			Short: "Fail webhook events stuck in pending",
			Args:  cobra.NoArgs,
			RunE: run(services.JobReapEvents, func(ctx context.Context, a *app, _ *uuid.UUID) (interface{}, error) {
				n, err := a.reaper.Reap(ctx)
				return map[string]int64{"failed": n}, err
			}),
		},
	)
	return cmd
}
