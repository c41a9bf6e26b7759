// Package command runs external programs under a hard timeout.
//
// The exit code is the only success signal. Output still held open by a
// leftover child after the program exits is cut off, not waited for. A
// program that outlives its
// timeout is reported as timed out and abandoned: a process stuck in an
// uninterruptible wait on a dead network share cannot be reaped, so the
// caller never blocks on it.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every probe and mount operation.
const DefaultTimeout = 5 * time.Second

// outputGrace is how long output is still collected after the program has
// exited. Mount helpers such as sshfs leave a child holding stderr.
const outputGrace = 500 * time.Millisecond

// Result is the outcome of one program invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Success reports whether the program exited 0 before its timeout.
func (r Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Runner runs an external program.
//
// Run returns an error only when the program could not be started or the
// parent context was canceled; non-zero exits and timeouts are reported in
// the Result.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// Exec runs programs with os/exec.
type Exec struct {
	logger zerolog.Logger
}

// NewExec creates a new Exec runner.
func NewExec(logger zerolog.Logger) *Exec {
	return &Exec{
		logger: logger.With().Str("component", "command").Logger(),
	}
}

// Run starts name with args and waits at most timeout for it to exit.
func (e *Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = outputGrace

	e.logger.Debug().
		Str("command", Line(name, args...)).
		Dur("timeout", timeout).
		Msg("running command")

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		res := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err == nil {
			return res, nil
		}
		// The program exited on its own; a copy error or ErrWaitDelay
		// only means a leftover child still held its output.
		if runCtx.Err() == nil && cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
			if !errors.Is(err, exec.ErrWaitDelay) && !isExitError(err) {
				e.logger.Debug().Err(err).Str("command", Line(name, args...)).Msg("incomplete command output")
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{ExitCode: -1}, ctx.Err()
		}
		if runCtx.Err() != nil {
			e.logTimeout(name, args, timeout)
			return Result{ExitCode: -1, TimedOut: true}, nil
		}
		return Result{ExitCode: -1}, fmt.Errorf("wait %s: %w", name, err)

	case <-runCtx.Done():
		// The wait goroutine finishes once the killed process is reaped,
		// or never for one stuck on a dead share; the buffers belong to
		// it until then.
		if ctx.Err() != nil {
			return Result{ExitCode: -1}, ctx.Err()
		}
		e.logTimeout(name, args, timeout)
		return Result{ExitCode: -1, TimedOut: true}, nil
	}
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func (e *Exec) logTimeout(name string, args []string, timeout time.Duration) {
	e.logger.Warn().
		Str("command", Line(name, args...)).
		Dur("timeout", timeout).
		Msg("command timed out")
}

// Line joins a program name and its arguments for logs and matching.
func Line(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
