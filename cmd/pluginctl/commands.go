package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/julianshen/pluginhost/pkg/plugins"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		Long:  "Display a table of all plugins in the plugin directory with their state, version and aliases.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tVERSION\tPROVIDES")
			for _, name := range m.PluginList() {
				md := m.Metadata(name)
				version := md.Version()
				if version == "" {
					version = "-"
				}
				provides := strings.Join(md.Provides(), ", ")
				if provides == "" {
					provides = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, m.LoadState(name), version, provides)
			}
			return w.Flush()
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show plugin metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			md := m.Metadata(args[0])
			if md == nil {
				return fmt.Errorf("plugin %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:     %s\n", md.Name())
			fmt.Fprintf(out, "State:    %s\n", m.LoadState(args[0]))
			if md.Version() != "" {
				fmt.Fprintf(out, "Version:  %s\n", md.Version())
			}
			if md.Compat() != "" {
				fmt.Fprintf(out, "Compat:   %s\n", md.Compat())
			}
			if provides := md.Provides(); len(provides) != 0 {
				fmt.Fprintf(out, "Provides: %s\n", strings.Join(provides, ", "))
			}
			if depends := md.Depends(); len(depends) != 0 {
				fmt.Fprintf(out, "Depends:  %s\n", strings.Join(depends, ", "))
			}
			if usedBy := md.UsedBy(); len(usedBy) != 0 {
				fmt.Fprintf(out, "Used by:  %s\n", strings.Join(usedBy, ", "))
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check NAME...",
		Short: "Verify plugins load",
		Long:  "Load each named plugin, report the resulting load state and unload it again. The outcome of the unload is not reported.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			failed := 0
			for _, name := range args {
				state := m.Load(name)
				if !state.Is(plugins.Loaded | plugins.Static) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAIL (%s)\n", name, state)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%s)\n", name, state)
				m.Unload(name)
			}
			if failed != 0 {
				return fmt.Errorf("%d of %d plugins failed to load", failed, len(args))
			}
			return nil
		},
	}
}
