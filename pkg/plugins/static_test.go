package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerStaticEcho registers a static test plugin with counters and a
// descriptor resource, the way generated static-plugin code would from init.
func registerStaticEcho(t *testing.T, initialized, finalized *int) {
	t.Helper()
	RegisterResource(resourceGroupPrefix+"Echo", "Echo.conf", []byte("provides: [Loud]\n"))
	RegisterStatic("Echo", Version, testInterface,
		func(m *Manager, name string) (Instance, error) {
			return newTestAnimal(m, name, true), nil
		},
		func() { *initialized++ },
		func() { *finalized++ },
	)
}

func TestStaticPluginLifecycle(t *testing.T) {
	env := newTestEnv(t)
	var initialized, finalized int
	registerStaticEcho(t, &initialized, &finalized)

	m := env.manager(t.TempDir())

	// The first manager with a matching interface adopts and initializes
	// the static plugin.
	assert.Equal(t, 1, initialized)
	assert.Equal(t, Static, m.LoadState("Echo"))
	assert.Equal(t, Static, m.LoadState("Loud"))
	assert.Equal(t, []string{"Echo"}, m.PluginList())

	// Load and unload are no-ops on a static plugin.
	assert.Equal(t, Static, m.Load("Echo"))
	assert.Equal(t, Static, m.Unload("Echo"))

	// Instances work without an explicit load, through aliases too.
	inst, err := m.Instance("Loud")
	require.NoError(t, err)
	animal := inst.(*testAnimal)
	assert.Equal(t, "Echo", animal.Name())
	require.NoError(t, inst.Dispose())

	// Teardown finalizes the plugin and orphans the record for the next
	// manager to adopt.
	m.Close()
	assert.Equal(t, 1, finalized)

	m2 := env.manager(t.TempDir())
	defer m2.Close()
	assert.Equal(t, 2, initialized)
	assert.Equal(t, Static, m2.LoadState("Echo"))
}

func TestStaticPluginInterfaceMismatch(t *testing.T) {
	env := newTestEnv(t)
	RegisterResource(resourceGroupPrefix+"Echo", "Echo.conf", nil)
	RegisterStatic("Echo", Version, "com.example.pluginhost.Test.Mineral/1.0",
		func(m *Manager, name string) (Instance, error) {
			return newTestAnimal(m, name, true), nil
		}, nil, nil)

	m := env.manager(t.TempDir())
	defer m.Close()

	// The plugin stays orphaned; this manager cannot see it.
	assert.Equal(t, NotFound, m.LoadState("Echo"))
	assert.Empty(t, m.PluginList())
}

func TestStaticPluginAsDependency(t *testing.T) {
	env := newTestEnv(t)
	var initialized, finalized int
	registerStaticEcho(t, &initialized, &finalized)

	dir := t.TempDir()
	env.addPlugin(t, dir, "Parrot", "depends: [Echo]\n", testModule())

	m := env.manager(dir)

	assert.Equal(t, Loaded, m.Load("Parrot"))
	assert.Equal(t, []string{"Parrot"}, m.Metadata("Echo").UsedBy())

	assert.Equal(t, NotLoaded, m.Unload("Parrot"))
	assert.Empty(t, m.Metadata("Echo").UsedBy())
	m.Close()
}

func TestStaticPluginMissingDescriptorResource(t *testing.T) {
	env := newTestEnv(t)
	RegisterStatic("Echo", Version, testInterface,
		func(m *Manager, name string) (Instance, error) {
			return newTestAnimal(m, name, true), nil
		}, nil, nil)

	m := env.manager(t.TempDir())
	defer m.Close()

	// A static plugin without a descriptor resource still registers, with
	// bare metadata.
	assert.Equal(t, Static, m.LoadState("Echo"))
	md := m.Metadata("Echo")
	require.NotNil(t, md)
	assert.Empty(t, md.Provides())
}

func TestRegisterStaticWrongVersionPanics(t *testing.T) {
	newTestEnv(t)
	assert.Panics(t, func() {
		RegisterStatic("Echo", Version+1, testInterface, nil, nil, nil)
	})
}

func TestRegisterStaticAfterDrainPanics(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager(t.TempDir())
	defer m.Close()

	assert.Panics(t, func() {
		RegisterStatic("Late", Version, testInterface, nil, nil, nil)
	})
}

func TestStaticDrainHappensOnce(t *testing.T) {
	env := newTestEnv(t)
	var initialized, finalized int
	registerStaticEcho(t, &initialized, &finalized)

	m1 := env.manager(t.TempDir())
	defer m1.Close()

	// A second manager neither re-drains nor re-adopts a plugin that
	// already has an owner.
	m2 := env.manager(t.TempDir())
	defer m2.Close()

	assert.Equal(t, 1, initialized)
	assert.Equal(t, Static, m1.LoadState("Echo"))
	assert.Equal(t, NotFound, m2.LoadState("Echo"))
}
