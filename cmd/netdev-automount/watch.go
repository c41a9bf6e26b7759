package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MacJediWizard/netdev-automount/internal/agent"
	"github.com/MacJediWizard/netdev-automount/internal/command"
	"github.com/MacJediWizard/netdev-automount/internal/invocation"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile on a schedule until interrupted",
		Long: `Runs a direct reconciliation immediately and then on a cron schedule
until SIGINT or SIGTERM. A run that is still in progress when the next one
is due causes that next run to be skipped.

Schedules use standard cron syntax or descriptors such as "@every 1m".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := a.load()
			if err != nil {
				return err
			}

			rec, err := newRecorder(s)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			ag := agent.New(s, command.NewExec(logger), rec, os.Stdout, logger)
			return runWatch(ctx, ag, schedule, logger)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "@every 1m", "Cron schedule for reconciliation runs")

	return cmd
}

// runWatch reconciles on schedule until ctx is done, then waits for the
// run in progress to finish.
func runWatch(ctx context.Context, ag *agent.Agent, schedule string, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "watch").Logger()
	cl := cronLogger{logger: logger}

	direct := invocation.Context{Mode: invocation.ModeDirect}
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(
		cron.FuncJob(func() {
			if _, err := ag.Run(ctx, direct); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("scheduled reconciliation failed")
			}
		}),
	)

	c := cron.New(cron.WithLogger(cl))
	if _, err := c.AddJob(schedule, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logger.Info().Str("schedule", schedule).Msg("watching")

	job.Run()
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's log output through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
