// Package main is the entrypoint for the netdev-automount CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/agent"
	"github.com/MacJediWizard/netdev-automount/internal/command"
	"github.com/MacJediWizard/netdev-automount/internal/config"
	"github.com/MacJediWizard/netdev-automount/internal/invocation"
	"github.com/MacJediWizard/netdev-automount/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the settings shared by every subcommand.
type app struct {
	v            *viper.Viper
	settingsFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:   "netdev-automount [interface event]",
		Short: "Mount network shares whose host is reachable, unmount the rest",
		Long: `netdev-automount reconciles the network shares declared in /etc/fstab
with the reachability of their hosts.

Run directly, it mounts every share whose host answers and then unmounts
every share whose host does not. Installed as (or linked from) a
NetworkManager dispatcher script, it acts only on the hosts configured for
the connection that triggered the event: "up" mounts them, "down" and
"pre-down" unmount them.`,
		Version:      Version,
		SilenceUsage: true,
		Args:         cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOnce(cmd.Context(), args)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.settingsFile, "settings", "", "Settings file (YAML or TOML)")
	flags.String("fstab", "", "Mount table path (default /etc/fstab)")
	flags.String("hosts-file", "", "Connection host config path (default "+config.DefaultHostsPath+")")
	flags.Bool("dry-run", false, "Decide and report without mounting or unmounting")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: json, console")
	flags.String("metrics-file", "", "Write Prometheus textfile metrics to this path")

	for key, flag := range map[string]string{
		"fstab_path":   "fstab",
		"hosts_path":   "hosts-file",
		"dry_run":      "dry-run",
		"log_level":    "log-level",
		"log_format":   "log-format",
		"metrics_file": "metrics-file",
	} {
		// Lookup never fails for flags defined above.
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("netdev-automount %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// load reads settings and builds the logger.
func (a *app) load() (*config.Settings, zerolog.Logger, error) {
	s, err := config.LoadSettings(a.v, a.settingsFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return s, newLogger(os.Stderr, s.LogLevel, s.LogFormat), nil
}

// runOnce handles a direct run or a dispatcher callback.
func (a *app) runOnce(ctx context.Context, args []string) error {
	s, logger, err := a.load()
	if err != nil {
		return err
	}

	ictx := invocation.Resolve(invocation.ExecutablePath(os.Args[0]), s.DispatcherDir, os.Getenv, args)
	if ictx.Mode == invocation.ModeDirect && len(args) > 0 {
		logger.Warn().Strs("args", args).Msg("ignoring arguments outside the dispatcher directory")
	}

	rec, err := newRecorder(s)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	ag := agent.New(s, command.NewExec(logger), rec, os.Stdout, logger)
	_, err = ag.Run(ctx, ictx)
	return err
}

// newRecorder returns nil unless a metrics file is configured.
func newRecorder(s *config.Settings) (*metrics.Recorder, error) {
	if s.MetricsFile == "" {
		return nil, nil
	}
	return metrics.NewRecorder(prometheus.NewRegistry())
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
