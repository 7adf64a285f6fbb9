package plugins

import (
	"fmt"
	"strings"
)

// LoadState describes the outcome of a load or unload operation, or the
// current state of a plugin record. Each value is a distinct bit so that a
// group of related states can be tested with a single mask via Is.
type LoadState uint16

const (
	// NotFound means the plugin is not static and no module file for it was
	// found in the manager's plugin directory.
	NotFound LoadState = 1 << iota
	// WrongMetadataFile means the descriptor file next to the module is
	// missing or failed to parse. The plugin cannot be loaded until the
	// directory is rescanned with a fixed descriptor.
	WrongMetadataFile
	// WrongPluginVersion means the module was built against a different
	// runtime version than Version, or its compat constraint rejects the
	// host version.
	WrongPluginVersion
	// WrongInterfaceVersion means the module's interface string does not
	// match the interface the manager was constructed with.
	WrongInterfaceVersion
	// UnresolvedDependency means a plugin named in depends is unknown, has
	// no associated manager, or failed to load.
	UnresolvedDependency
	// LoadFailed means the module could not be opened or is missing one of
	// the required entry points.
	LoadFailed
	// Static marks a compile-time-registered plugin. Static plugins are
	// always ready to use and are never truly unloaded.
	Static
	// Loaded means the module is open and its instancer is available.
	Loaded
	// NotLoaded means the plugin is known but currently not loaded.
	NotLoaded
	// UnloadFailed means closing the module handle failed. The record is
	// left in NotLoaded state.
	UnloadFailed
	// Required means the plugin cannot be unloaded because other loaded
	// plugins depend on it.
	Required
	// Used means the plugin has live instances that refused deletion.
	Used
)

var loadStateNames = []struct {
	state LoadState
	name  string
}{
	{NotFound, "NotFound"},
	{WrongMetadataFile, "WrongMetadataFile"},
	{WrongPluginVersion, "WrongPluginVersion"},
	{WrongInterfaceVersion, "WrongInterfaceVersion"},
	{UnresolvedDependency, "UnresolvedDependency"},
	{LoadFailed, "LoadFailed"},
	{Static, "Static"},
	{Loaded, "Loaded"},
	{NotLoaded, "NotLoaded"},
	{UnloadFailed, "UnloadFailed"},
	{Required, "Required"},
	{Used, "Used"},
}

// Is reports whether the state shares at least one bit with mask. It is the
// idiomatic way to test a state against a group, e.g.
// state.Is(Static | Loaded).
func (s LoadState) Is(mask LoadState) bool { return s&mask != 0 }

// String returns the human-readable name of the state. Combined masks render
// as the individual names joined with "|".
func (s LoadState) String() string {
	if s == 0 {
		return "LoadState(0)"
	}
	var parts []string
	rest := s
	for _, ls := range loadStateNames {
		if rest&ls.state != 0 {
			parts = append(parts, ls.name)
			rest &^= ls.state
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("LoadState(%#x)", uint16(rest)))
	}
	return strings.Join(parts, "|")
}
