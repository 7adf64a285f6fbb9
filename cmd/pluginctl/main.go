// cmd/pluginctl/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/julianshen/pluginhost/internal/config"
	"github.com/julianshen/pluginhost/pkg/plugins"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pluginctl",
		Short:        "Inspect and verify plugins",
		Long:         "List discovered plugins, show their metadata and verify they load against the configured interface.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to config file (default: ~/.config/pluginctl/config.toml)")
	cmd.PersistentFlags().String("dir", "", "plugin directory (overrides config)")
	cmd.PersistentFlags().String("interface", "", "plugin interface string (overrides config)")

	cmd.AddCommand(listCmd())
	cmd.AddCommand(infoCmd())
	cmd.AddCommand(checkCmd())

	return cmd
}

// newManager builds a manager from the config file layered under any
// command-line overrides and loads the configured preload plugins.
func newManager(cmd *cobra.Command) (*plugins.Manager, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.PluginDir = dir
	}
	if iface, _ := cmd.Flags().GetString("interface"); iface != "" {
		cfg.Interface = iface
	}

	var opts []plugins.Option
	if cfg.HostVersion != "" {
		opts = append(opts, plugins.WithHostVersion(cfg.HostVersion))
	}

	m := plugins.NewManager(cfg.Interface, cfg.PluginDir, opts...)
	for _, name := range cfg.Preload {
		if state := m.Load(name); !state.Is(plugins.Loaded | plugins.Static) {
			m.Close()
			return nil, fmt.Errorf("preload %s: %s", name, state)
		}
	}
	return m, nil
}
