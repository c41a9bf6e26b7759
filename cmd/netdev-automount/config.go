package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/MacJediWizard/netdev-automount/internal/config"
	"github.com/MacJediWizard/netdev-automount/internal/output"
	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the connection host config",
	}

	cmd.AddCommand(
		newConfigInitCmd(a),
		newConfigShowCmd(a),
	)

	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the host config from a commented template if it is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := a.load()
			if err != nil {
				return err
			}

			created, err := config.EnsureExists(s.HostsPath, config.HostsTemplate)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Created %s\n", s.HostsPath)
			} else {
				fmt.Printf("%s already exists, left unchanged\n", s.HostsPath)
			}
			return nil
		},
	}
}

// hostsView is the config show command's result.
type hostsView config.Hosts

func (h hostsView) Headers() []string {
	return []string{"Connection", "Hosts"}
}

func (h hostsView) Rows() [][]string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		hosts := strings.Join(h[k], ", ")
		if hosts == "" {
			hosts = "(none)"
		}
		rows = append(rows, []string{k, hosts})
	}
	return rows
}

func newConfigShowCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective paths and the configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			s, _, err := a.load()
			if err != nil {
				return err
			}

			hosts, err := config.LoadHosts(s.HostsPath)
			if err != nil {
				return err
			}

			if f != output.FormatTable {
				return output.Print(os.Stdout, f, hosts)
			}
			return printConfig(os.Stdout, s, hosts)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}

func printConfig(w io.Writer, s *config.Settings, hosts config.Hosts) error {
	fmt.Fprintf(w, "Mount table:     %s\n", s.FstabPath)
	fmt.Fprintf(w, "Host config:     %s\n", s.HostsPath)
	fmt.Fprintf(w, "Dispatcher dir:  %s\n", s.DispatcherDir)
	fmt.Fprintf(w, "Command timeout: %s\n", s.CommandTimeout)
	fmt.Fprintf(w, "Tries:           direct %d, dispatcher %d\n", s.DirectTries, s.DispatcherTries)
	fmt.Fprintln(w)

	if len(hosts) == 0 {
		fmt.Fprintln(w, "No connections configured.")
		return nil
	}
	output.PrintTable(w, hostsView(hosts))
	return nil
}
