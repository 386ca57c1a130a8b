package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/dataset"
	"github.com/sells-group/boletin-cli/internal/monitoring"
	"github.com/sells-group/boletin-cli/internal/scheduler"
)

var (
	scheduleAt  string
	scheduleNow bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline daily, retrying hourly while work is pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if scheduleAt != "" {
			cfg.Schedule.At = scheduleAt
		}
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}

		st := initStore()
		s, err := scheduler.New(scheduledRun, scheduler.Options{
			At:          cfg.Schedule.At,
			Timezone:    cfg.Schedule.Timezone,
			RetryHourly: cfg.Schedule.RetryHourly,
			Pending:     func() bool { return latestPending(st) },
			RunAtStart:  scheduleNow,
		})
		if err != nil {
			return eris.Wrap(err, "schedule")
		}

		if cfg.Monitoring.WebhookURL != "" {
			led, err := initLedger(ctx)
			if err != nil {
				return err
			}
			defer led.Close() //nolint:errcheck
			checker := monitoring.NewChecker(
				monitoring.NewCollector(led, st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		zap.L().Info("scheduler started",
			zap.String("at", cfg.Schedule.At),
			zap.String("timezone", cfg.Schedule.Timezone),
			zap.Bool("retry_hourly", cfg.Schedule.RetryHourly),
		)
		return s.Run(ctx)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleAt, "at", "", "daily run time HH:MM (default from config)")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "also run once immediately")
	rootCmd.AddCommand(scheduleCmd)
}

// scheduledRun builds a fresh orchestrator for every trigger so each run
// reads the current files and opens its own ledger connection.
func scheduledRun(ctx context.Context) error {
	env, err := initPipeline(ctx, "schedule", false)
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := env.Orchestrator.Run(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("scheduled run finished",
		zap.String("date", result.Date),
		zap.String("status", string(result.Status)),
	)
	return nil
}

// latestPending reports whether the newest stored date still has a sidecar.
func latestPending(st *dataset.Store) bool {
	dates, err := st.ListDates()
	if err != nil || len(dates) == 0 {
		return false
	}
	pending, err := st.HasPending(dates[len(dates)-1])
	if err != nil {
		zap.L().Warn("schedule: check pending", zap.Error(err))
		return false
	}
	return pending
}
