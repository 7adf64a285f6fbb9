// Package config loads the pluginctl tool configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the top-level pluginctl configuration.
type Config struct {
	// PluginDir is the directory dynamic plugins are discovered in.
	PluginDir string `toml:"plugin_dir"`

	// Interface is the interface string plugins must report.
	Interface string `toml:"interface"`

	// HostVersion is checked against descriptor compat constraints.
	HostVersion string `toml:"host_version"`

	// Preload lists plugins loaded before any command runs.
	Preload []string `toml:"preload"`
}

// DefaultConfig returns a Config populated with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		PluginDir: "plugins",
		Interface: "com.example.pluginhost.Plugin/1.0",
	}
}

// DefaultPath returns the default config file location,
// ~/.config/pluginctl/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pluginctl", "config.toml"), nil
}

// Load reads the config file at path, layered over the defaults. A missing
// file is not an error and yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}
