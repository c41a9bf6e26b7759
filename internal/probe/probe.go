// Package probe checks host reachability and mount status through external
// commands, each bounded by its own timeout.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/command"
	"github.com/rs/zerolog"
)

// ErrUnresolved is returned when a host name does not resolve to an address.
var ErrUnresolved = errors.New("host did not resolve")

// DefaultBackoff is the pause between failed reachability attempts.
const DefaultBackoff = 3 * time.Second

// Commands names the programs used for probing.
type Commands struct {
	// Resolver is run as "<resolver> ahosts <host>" (getent semantics).
	Resolver string
	// Pinger is run as "<pinger> -c 1 -W <seconds> <address>".
	Pinger string
	// Mountpoint is run as "<mountpoint> -q <path>".
	Mountpoint string
}

// DefaultCommands returns the standard Linux probe commands.
func DefaultCommands() Commands {
	return Commands{
		Resolver:   "getent",
		Pinger:     "ping",
		Mountpoint: "mountpoint",
	}
}

// Options configures a Prober.
type Options struct {
	Commands Commands
	Timeout  time.Duration
	Backoff  time.Duration
}

// DefaultOptions returns 5s command timeouts and a 3s retry backoff.
func DefaultOptions() Options {
	return Options{
		Commands: DefaultCommands(),
		Timeout:  command.DefaultTimeout,
		Backoff:  DefaultBackoff,
	}
}

// Prober answers reachability and mount status questions. Nothing is
// cached: every call runs fresh commands.
type Prober struct {
	runner command.Runner
	opts   Options
	logger zerolog.Logger
}

// New creates a new Prober.
func New(runner command.Runner, opts Options, logger zerolog.Logger) *Prober {
	return &Prober{
		runner: runner,
		opts:   opts,
		logger: logger.With().Str("component", "probe").Logger(),
	}
}

// Resolve returns the first address the resolver reports for host. IP
// literals are returned as-is.
func (p *Prober) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	res, err := p.runner.Run(ctx, p.opts.Timeout, p.opts.Commands.Resolver, "ahosts", host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	if res.TimedOut {
		return "", fmt.Errorf("resolve %s: timed out after %s", host, p.opts.Timeout)
	}
	if !res.Success() {
		return "", fmt.Errorf("resolve %s: %w (exit %d)", host, ErrUnresolved, res.ExitCode)
	}

	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && net.ParseIP(fields[0]) != nil {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("resolve %s: %w", host, ErrUnresolved)
}

// Reachable reports whether host answers a liveness probe within tries
// attempts. Name resolution runs separately from the probe so a slow
// resolver does not eat into the probe's own timeout. Callers that have
// disabled the check must not call Reachable; tries below 1 are treated
// as a single attempt.
func (p *Prober) Reachable(ctx context.Context, host string, tries int) bool {
	if tries < 1 {
		tries = 1
	}
	logger := p.logger.With().Str("host", host).Logger()

	for attempt := 1; attempt <= tries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(p.opts.Backoff):
			}
		}

		ok, err := p.ping(ctx, host)
		if ok {
			logger.Debug().Int("attempt", attempt).Msg("host reachable")
			return true
		}
		logger.Debug().Err(err).Int("attempt", attempt).Int("tries", tries).Msg("reachability attempt failed")
	}

	logger.Info().Int("tries", tries).Msg("host unreachable")
	return false
}

func (p *Prober) ping(ctx context.Context, host string) (bool, error) {
	addr, err := p.Resolve(ctx, host)
	if err != nil {
		return false, err
	}

	wait := int(p.opts.Timeout / time.Second)
	if wait < 1 {
		wait = 1
	}
	res, err := p.runner.Run(ctx, p.opts.Timeout, p.opts.Commands.Pinger, "-c", "1", "-W", strconv.Itoa(wait), addr)
	if err != nil {
		return false, fmt.Errorf("ping %s: %w", addr, err)
	}
	if res.TimedOut {
		return false, fmt.Errorf("ping %s: timed out", addr)
	}
	if !res.Success() {
		return false, fmt.Errorf("ping %s: exit %d", addr, res.ExitCode)
	}
	return true, nil
}

// Mounted reports whether path is currently a mount point. A check that
// times out counts as mounted: only a hanging network mount makes
// mountpoint hang.
func (p *Prober) Mounted(ctx context.Context, path string) bool {
	res, err := p.runner.Run(ctx, p.opts.Timeout, p.opts.Commands.Mountpoint, "-q", path)
	if err != nil {
		p.logger.Error().Err(err).Str("mountpoint", path).Msg("mount status check failed")
		return false
	}
	if res.TimedOut {
		p.logger.Warn().Str("mountpoint", path).Msg("mount status check timed out, assuming mounted")
		return true
	}
	return res.ExitCode == 0
}
