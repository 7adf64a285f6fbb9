package plugins

import "fmt"

// Version is the ABI version compiled into both the runtime and every
// plugin. A module whose PluginVersion entry point reports a different
// value is refused with WrongPluginVersion; a static registration carrying
// a different value panics at startup.
const Version = 2

// resourceGroupPrefix is the resource group under which a static plugin's
// descriptor is registered, followed by the plugin name.
const resourceGroupPrefix = "StaticPlugin_"

// staticPlugin is a pending compile-time registration, queued until the
// first manager construction drains the registry.
type staticPlugin struct {
	name        string
	iface       string
	instancer   Instancer
	initializer func()
	finalizer   func()
}

var (
	staticPending []*staticPlugin
	staticDrained bool
)

// RegisterStatic queues a compile-time plugin for adoption by the first
// manager constructed with a matching interface string. It is meant to be
// called from a plugin package's init function, before any manager exists.
// The version must equal Version; registering after the first manager has
// been constructed is a programmer error and panics.
func RegisterStatic(name string, version int, iface string, instancer Instancer, initializer, finalizer func()) {
	if version != Version {
		panic(fmt.Sprintf("plugins: wrong version of static plugin %s, got %d but expected %d", name, version, Version))
	}
	if staticDrained {
		panic(fmt.Sprintf("plugins: too late to register static plugin %s", name))
	}
	staticPending = append(staticPending, &staticPlugin{
		name:        name,
		iface:       iface,
		instancer:   instancer,
		initializer: initializer,
		finalizer:   finalizer,
	})
}

// resources holds embedded blobs keyed by group and entry name. Static
// plugin descriptors live under group "StaticPlugin_<name>", entry
// "<name>.conf".
var resources = map[string]map[string][]byte{}

// RegisterResource stores an embedded resource under the given group and
// entry name. Static plugin packages call it from init alongside
// RegisterStatic to supply their descriptor.
func RegisterResource(group, entry string, data []byte) {
	g, ok := resources[group]
	if !ok {
		g = make(map[string][]byte)
		resources[group] = g
	}
	g[entry] = data
}

func resource(group, entry string) ([]byte, bool) {
	g, ok := resources[group]
	if !ok {
		return nil, false
	}
	data, ok := g[entry]
	return data, ok
}
