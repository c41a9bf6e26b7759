package automount

import (
	"context"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/command"
	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/rs/zerolog"
)

// Prober answers the two questions every decision depends on.
type Prober interface {
	Reachable(ctx context.Context, host string, tries int) bool
	Mounted(ctx context.Context, path string) bool
}

// Commands names the programs that change mount state.
type Commands struct {
	// Mount is run as "<mount> <mountpoint>", relying on the fstab entry.
	Mount string
	// Umount is run as "<umount> [flags] <mountpoint>".
	Umount string
}

// DefaultCommands returns the standard mount and umount binaries.
func DefaultCommands() Commands {
	return Commands{Mount: "mount", Umount: "umount"}
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Commands Commands
	Timeout  time.Duration
	// DryRun decides and reports without issuing mount or umount.
	DryRun bool
}

// DefaultExecutorOptions returns the standard commands with a 5s timeout.
func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		Commands: DefaultCommands(),
		Timeout:  command.DefaultTimeout,
	}
}

// Executor performs the mount or unmount decision for a single entry.
// A failure is terminal for the entry in the current pass.
type Executor struct {
	prober Prober
	runner command.Runner
	opts   ExecutorOptions
	logger zerolog.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(prober Prober, runner command.Runner, opts ExecutorOptions, logger zerolog.Logger) *Executor {
	return &Executor{
		prober: prober,
		runner: runner,
		opts:   opts,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// PerformMount mounts entry unless it is already mounted or, when tries is
// positive, its host stays unreachable for tries attempts.
func (e *Executor) PerformMount(ctx context.Context, entry fstab.Entry, tries int) Outcome {
	out := Outcome{Entry: entry, Action: ActionMount}
	logger := e.entryLogger(entry, ActionMount)

	mounted := e.prober.Mounted(ctx, entry.Mountpoint)
	if e.interrupted(ctx, &out, logger) {
		return out
	}
	if mounted {
		out.Status = StatusAlreadyMounted
		logger.Debug().Msg("already mounted")
		return out
	}

	if tries > 0 && !e.prober.Reachable(ctx, entry.Host, tries) {
		if e.interrupted(ctx, &out, logger) {
			return out
		}
		out.Status = StatusUnreachable
		logger.Info().Int("tries", tries).Msg("host unreachable, not mounting")
		return out
	}

	if e.opts.DryRun {
		out.Status = StatusWouldMount
		logger.Info().Msg("dry run, not mounting")
		return out
	}

	attempt := e.run(ctx, LevelPlain, e.opts.Commands.Mount, entry.Mountpoint)
	out.Attempts = []Attempt{attempt}

	switch {
	case attempt.Succeeded():
		out.Status = StatusMounted
		logger.Info().Msg("mounted")
	case attempt.TimedOut:
		out.Status = StatusMountTimedOut
		logger.Warn().Dur("timeout", e.opts.Timeout).Msg("mount timed out")
	default:
		out.Status = StatusMountFailed
		logger.Warn().Err(attempt.Err).Int("exit_code", attempt.ExitCode).Msg("mount failed")
	}
	return out
}

// PerformUnmount unmounts entry unless it is already unmounted or, when
// tries is positive, its host answers within tries attempts. Unmounting
// escalates from plain to forced to lazy+forced and stops at the first
// success.
func (e *Executor) PerformUnmount(ctx context.Context, entry fstab.Entry, tries int) Outcome {
	out := Outcome{Entry: entry, Action: ActionUnmount}
	logger := e.entryLogger(entry, ActionUnmount)

	mounted := e.prober.Mounted(ctx, entry.Mountpoint)
	if e.interrupted(ctx, &out, logger) {
		return out
	}
	if !mounted {
		out.Status = StatusAlreadyUnmounted
		logger.Debug().Msg("already unmounted")
		return out
	}

	if tries > 0 && e.prober.Reachable(ctx, entry.Host, tries) {
		out.Status = StatusReachable
		logger.Debug().Msg("host reachable, not unmounting")
		return out
	}
	if e.interrupted(ctx, &out, logger) {
		return out
	}

	if e.opts.DryRun {
		out.Status = StatusWouldUnmount
		logger.Info().Msg("dry run, not unmounting")
		return out
	}

	for _, level := range Levels {
		args := append(level.flags(), entry.Mountpoint)
		attempt := e.run(ctx, level, e.opts.Commands.Umount, args...)
		out.Attempts = append(out.Attempts, attempt)

		if attempt.Succeeded() {
			out.Status = StatusUnmounted
			logger.Info().Stringer("level", level).Msg("unmounted")
			return out
		}

		logger.Warn().
			Err(attempt.Err).
			Stringer("level", level).
			Int("exit_code", attempt.ExitCode).
			Bool("timed_out", attempt.TimedOut).
			Msg("unmount attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	out.Status = StatusUnmountFailed
	logger.Error().Int("attempts", len(out.Attempts)).Msg("unmount failed at every level")
	return out
}

// interrupted marks out as an error when ctx is done. A check that ran
// under a canceled context answered nothing.
func (e *Executor) interrupted(ctx context.Context, out *Outcome, logger zerolog.Logger) bool {
	err := ctx.Err()
	if err == nil {
		return false
	}
	out.Status = StatusError
	out.Err = err
	logger.Warn().Err(err).Msg("interrupted before acting")
	return true
}

func (e *Executor) run(ctx context.Context, level Level, name string, args ...string) Attempt {
	res, err := e.runner.Run(ctx, e.opts.Timeout, name, args...)
	return Attempt{
		Level:    level,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Err:      err,
	}
}

func (e *Executor) entryLogger(entry fstab.Entry, action Action) zerolog.Logger {
	return e.logger.With().
		Str("action", string(action)).
		Str("host", entry.Host).
		Str("mountpoint", entry.Mountpoint).
		Logger()
}
