package plugins

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the read-only descriptor of a plugin, parsed from the
// <name>.conf file next to its module (or from an embedded resource for
// static plugins). Recognized keys are name, version, compat, provides and
// depends; anything else is preserved verbatim in the extra table for the
// plugin's own use.
type Metadata struct {
	name     string
	version  string
	compat   string
	provides []string
	depends  []string
	extra    map[string]string

	// usedBy is maintained by the runtime only, never declared in the
	// descriptor. Non-empty usedBy blocks unload.
	usedBy []string
}

// descriptor mirrors the recognized top-level keys of a .conf file.
type descriptor struct {
	Name     string   `yaml:"name"`
	Version  string   `yaml:"version"`
	Compat   string   `yaml:"compat"`
	Provides []string `yaml:"provides"`
	Depends  []string `yaml:"depends"`
}

var recognizedKeys = map[string]bool{
	"name":     true,
	"version":  true,
	"compat":   true,
	"provides": true,
	"depends":  true,
}

// parseMetadata parses descriptor bytes for the plugin with the given name.
// The name is authoritative (it comes from the module filename or the static
// registration); a descriptor carrying a different name is rejected.
func parseMetadata(name string, data []byte) (*Metadata, error) {
	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor for %q: %w", name, err)
	}
	if d.Name != "" && d.Name != name {
		return nil, fmt.Errorf("descriptor name %q does not match plugin %q", d.Name, name)
	}
	for _, alias := range d.Provides {
		if alias == name {
			return nil, fmt.Errorf("plugin %q lists itself in provides", name)
		}
	}

	m := &Metadata{
		name:     name,
		version:  d.Version,
		compat:   d.Compat,
		provides: d.Provides,
		depends:  d.Depends,
	}

	// Preserve unrecognized top-level keys verbatim.
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err == nil {
		for key, node := range raw {
			if recognizedKeys[key] {
				continue
			}
			if m.extra == nil {
				m.extra = make(map[string]string)
			}
			if node.Kind == yaml.ScalarNode {
				m.extra[key] = node.Value
			} else if out, err := yaml.Marshal(&node); err == nil {
				m.extra[key] = strings.TrimRight(string(out), "\n")
			}
		}
	}

	return m, nil
}

// Name returns the plugin's unique, case-sensitive identifier.
func (m *Metadata) Name() string { return m.name }

// Version returns the informational version string from the descriptor, if
// any. It is not interpreted by the runtime; compatibility gating uses the
// compat constraint instead.
func (m *Metadata) Version() string { return m.version }

// Compat returns the semver constraint the host version must satisfy for
// this plugin to load, or an empty string when the descriptor declares none.
func (m *Metadata) Compat() string { return m.compat }

// Provides returns the alias names this plugin can be looked up by.
func (m *Metadata) Provides() []string {
	return append([]string(nil), m.provides...)
}

// Depends returns the names of plugins that must be loaded before this one.
func (m *Metadata) Depends() []string {
	return append([]string(nil), m.depends...)
}

// UsedBy returns the names of plugins currently depending on this one. The
// list is maintained by the runtime; while it is non-empty the plugin
// cannot be unloaded.
func (m *Metadata) UsedBy() []string {
	return append([]string(nil), m.usedBy...)
}

// Extra returns the value of an unrecognized descriptor key, preserved for
// plugin-specific use.
func (m *Metadata) Extra(key string) (string, bool) {
	v, ok := m.extra[key]
	return v, ok
}

func (m *Metadata) addUsedBy(name string) {
	m.usedBy = append(m.usedBy, name)
}

func (m *Metadata) removeUsedBy(name string) {
	for i, u := range m.usedBy {
		if u == name {
			m.usedBy = append(m.usedBy[:i], m.usedBy[i+1:]...)
			return
		}
	}
}
