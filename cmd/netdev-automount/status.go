package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MacJediWizard/netdev-automount/internal/agent"
	"github.com/MacJediWizard/netdev-automount/internal/command"
	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/MacJediWizard/netdev-automount/internal/health"
	"github.com/MacJediWizard/netdev-automount/internal/output"
	"github.com/spf13/cobra"
)

// statusReport is the status command's result.
type statusReport []health.EntryStatus

func (r statusReport) Headers() []string {
	return []string{"Host", "Mountpoint", "Mounted", "Reachable", "State", "Fstype"}
}

func (r statusReport) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, s := range r {
		reachable := "-"
		if s.Reachable != nil {
			reachable = strconv.FormatBool(*s.Reachable)
		}
		rows = append(rows, []string{
			s.Host,
			s.Mountpoint,
			strconv.FormatBool(s.Mounted),
			reachable,
			string(s.State),
			s.Fstype,
		})
	}
	return rows
}

// summaryLine counts entries per state, omitting states with none.
func summaryLine(statuses []health.EntryStatus) string {
	counts := health.Summary(statuses)

	var parts []string
	for _, state := range []health.State{
		health.StateMounted, health.StateStale, health.StatePending, health.StateUnmounted,
	} {
		if n := counts[state]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, state))
		}
	}
	return fmt.Sprintf("%d shares: %s", len(statuses), strings.Join(parts, ", "))
}

func newStatusCmd(a *app) *cobra.Command {
	var probeHosts bool
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live state of every network share in the mount table",
		Long: `Lists every network share in the mount table with its live mount state,
read from the kernel mount table without touching the share.

With --probe each host is also checked once for reachability, showing which
shares the next reconciliation would mount (pending) or unmount (stale).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			s, logger, err := a.load()
			if err != nil {
				return err
			}

			entries, err := fstab.Load(s.FstabPath)
			if err != nil {
				return err
			}

			var reach health.ReachFunc
			if probeHosts {
				prober := agent.NewProber(s, command.NewExec(logger), logger)
				reach = func(ctx context.Context, host string) bool {
					return prober.Reachable(ctx, host, 1)
				}
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			statuses, err := health.NewInspector(logger).Snapshot(ctx, entries, reach)
			if err != nil {
				return err
			}

			if f == output.FormatTable && len(statuses) == 0 {
				fmt.Println("No network shares in", s.FstabPath)
				return nil
			}
			if err := output.Print(os.Stdout, f, statusReport(statuses)); err != nil {
				return err
			}
			if f == output.FormatTable {
				fmt.Println()
				fmt.Println(summaryLine(statuses))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeHosts, "probe", false, "Check each host's reachability")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}
