// Package agent runs one invocation end to end: it plans the passes for the
// invocation context, reads the mount table and reconciles it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MacJediWizard/netdev-automount/internal/automount"
	"github.com/MacJediWizard/netdev-automount/internal/command"
	"github.com/MacJediWizard/netdev-automount/internal/config"
	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/MacJediWizard/netdev-automount/internal/invocation"
	"github.com/MacJediWizard/netdev-automount/internal/metrics"
	"github.com/MacJediWizard/netdev-automount/internal/probe"
	"github.com/rs/zerolog"
)

// Options configures an Agent.
type Options struct {
	FstabPath   string
	HostsPath   string
	Tries       invocation.Tries
	MetricsFile string
}

// Agent ties the components together for one or more runs.
type Agent struct {
	reconciler *automount.Reconciler
	metrics    *metrics.Recorder
	out        io.Writer
	opts       Options
	logger     zerolog.Logger
}

// NewProber creates the prober described by settings.
func NewProber(s *config.Settings, runner command.Runner, logger zerolog.Logger) *probe.Prober {
	return probe.New(runner, probe.Options{
		Commands: probe.Commands{
			Resolver:   s.Commands.Resolver,
			Pinger:     s.Commands.Pinger,
			Mountpoint: s.Commands.Mountpoint,
		},
		Timeout: s.CommandTimeout,
		Backoff: s.RetryBackoff,
	}, logger)
}

// New creates an Agent from settings. Status lines are written to out.
// rec may be nil to disable metrics.
func New(s *config.Settings, runner command.Runner, rec *metrics.Recorder, out io.Writer, logger zerolog.Logger) *Agent {
	prober := NewProber(s, runner, logger)

	executor := automount.NewExecutor(prober, runner, automount.ExecutorOptions{
		Commands: automount.Commands{
			Mount:  s.Commands.Mount,
			Umount: s.Commands.Umount,
		},
		Timeout: s.CommandTimeout,
		DryRun:  s.DryRun,
	}, logger)

	var recorder automount.Recorder
	if rec != nil {
		recorder = rec
	}

	return &Agent{
		reconciler: automount.NewReconciler(executor, recorder, logger),
		metrics:    rec,
		out:        out,
		opts: Options{
			FstabPath: s.FstabPath,
			HostsPath: s.HostsPath,
			Tries: invocation.Tries{
				Direct:     s.DirectTries,
				Dispatcher: s.DispatcherTries,
			},
			MetricsFile: s.MetricsFile,
		},
		logger: logger.With().Str("component", "agent").Logger(),
	}
}

// Run plans and executes the passes for ictx. Passes run one after another
// and each finishes completely before the next starts. An unconfigured
// dispatcher connection or an ignored event is not an error: Run returns
// no outcomes and a nil error.
func (a *Agent) Run(ctx context.Context, ictx invocation.Context) ([]automount.Outcome, error) {
	logger := a.logger.With().Stringer("mode", ictx.Mode).Logger()
	if ictx.Mode == invocation.ModeDispatcher {
		logger = logger.With().
			Str("connection", ictx.ConnectionID).
			Str("connection_uuid", ictx.ConnectionUUID).
			Str("interface", ictx.Interface).
			Str("event", ictx.Event).
			Logger()
	}

	hosts, err := a.loadHosts(ictx, logger)
	if err != nil {
		return nil, err
	}

	plan, err := invocation.Plan(ictx, hosts, a.opts.Tries)
	if errors.Is(err, invocation.ErrNotConfigured) {
		logger.Info().Err(err).Msg("nothing to do")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		logger.Info().Msg("event ignored")
		return nil, nil
	}

	entries, err := fstab.Load(a.opts.FstabPath)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("entries", len(entries)).Str("path", a.opts.FstabPath).Msg("read mount table")

	var all []automount.Outcome
	for _, policy := range plan {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		outcomes := a.reconciler.Reconcile(ctx, policy, entries)
		for _, o := range outcomes {
			fmt.Fprintln(a.out, o.String())
		}
		all = append(all, outcomes...)
	}

	a.writeMetrics(logger)
	return all, nil
}

// loadHosts reads the connection host file. Only dispatcher runs need it;
// the file is created from the template on first use.
func (a *Agent) loadHosts(ictx invocation.Context, logger zerolog.Logger) (config.Hosts, error) {
	if ictx.Mode != invocation.ModeDispatcher {
		return nil, nil
	}

	created, err := config.EnsureExists(a.opts.HostsPath, config.HostsTemplate)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info().Str("path", a.opts.HostsPath).Msg("created host config template")
	}

	return config.LoadHosts(a.opts.HostsPath)
}

func (a *Agent) writeMetrics(logger zerolog.Logger) {
	if a.metrics == nil || a.opts.MetricsFile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.opts.MetricsFile); err != nil {
		logger.Warn().Err(err).Msg("failed to write metrics")
	}
}
