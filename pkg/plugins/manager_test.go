package plugins

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterface = "com.example.pluginhost.Test.Animal/1.0"

type fakeModule struct {
	symbols  map[string]any
	closed   int
	closeErr error
}

func (m *fakeModule) Lookup(symbol string) (any, error) {
	if s, ok := m.symbols[symbol]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("symbol %s not found", symbol)
}

func (m *fakeModule) Close() error {
	m.closed++
	return m.closeErr
}

type fakeLoader struct {
	modules map[string]*fakeModule
	openErr map[string]error
}

func (l *fakeLoader) Open(path string) (Module, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".so")
	if err := l.openErr[name]; err != nil {
		return nil, err
	}
	m, ok := l.modules[name]
	if !ok {
		return nil, fmt.Errorf("cannot open %s", path)
	}
	return m, nil
}

// testModule builds a module exporting all well-known entry points with a
// default instancer.
func testModule() *fakeModule {
	return testModuleWith(func(m *Manager, name string) (Instance, error) {
		return newTestAnimal(m, name, true), nil
	})
}

func testModuleWith(instancer Instancer) *fakeModule {
	return &fakeModule{symbols: map[string]any{
		symbolVersion:     func() int { return Version },
		symbolInterface:   func() string { return testInterface },
		symbolInstancer:   instancer,
		symbolInitializer: func() {},
		symbolFinalizer:   func() {},
	}}
}

type testAnimal struct {
	*Base
	deletable bool
	disposed  func()
}

func newTestAnimal(m *Manager, name string, deletable bool) *testAnimal {
	a := &testAnimal{deletable: deletable}
	a.Base = NewBase(m, name, a)
	return a
}

func (a *testAnimal) CanBeDeleted() bool { return a.deletable }

func (a *testAnimal) Dispose() error {
	if a.disposed != nil {
		a.disposed()
	}
	return a.Base.Dispose()
}

type testEnv struct {
	loader *fakeLoader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	resetForTesting()
	SetDiagnosticOutput(io.Discard)
	t.Cleanup(func() { SetDiagnosticOutput(os.Stderr) })
	return &testEnv{loader: &fakeLoader{
		modules: make(map[string]*fakeModule),
		openErr: make(map[string]error),
	}}
}

// addPlugin drops a module file and a descriptor into dir and wires the
// fake module under the plugin's name. An empty conf is a valid descriptor.
func (e *testEnv) addPlugin(t *testing.T, dir, name, conf string, mod *fakeModule) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".so"), []byte("\x7fELF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".conf"), []byte(conf), 0o644))
	if mod != nil {
		e.loader.modules[name] = mod
	}
}

func (e *testEnv) manager(dir string) *Manager {
	return NewManager(testInterface, dir, WithLoader(e.loader), WithSuffix(".so"))
}

func TestManagerDiscovery(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "provides: [Pet]\n", testModule())
	env.addPlugin(t, dir, "Cat", "", testModule())

	// Dotfiles, subdirectories and files without the module suffix are
	// not plugins.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.so"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Sub.so"), 0o755))

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, []string{"Cat", "Dog"}, m.PluginList())
	assert.Equal(t, NotLoaded, m.LoadState("Dog"))
	assert.Equal(t, NotLoaded, m.LoadState("Pet"))
	assert.Equal(t, NotFound, m.LoadState("Fox"))

	md := m.Metadata("Dog")
	require.NotNil(t, md)
	assert.Equal(t, "Dog", md.Name())
	assert.Equal(t, []string{"Pet"}, md.Provides())
}

func TestManagerLoadUnloadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	initialized, finalized := 0, 0
	mod := testModule()
	mod.symbols[symbolInitializer] = func() { initialized++ }
	mod.symbols[symbolFinalizer] = func() { finalized++ }
	env.addPlugin(t, dir, "Dog", "", mod)

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, Loaded, m.Load("Dog"))
	assert.Equal(t, Loaded, m.LoadState("Dog"))
	assert.Equal(t, 1, initialized)

	assert.Equal(t, NotLoaded, m.Unload("Dog"))
	assert.Equal(t, NotLoaded, m.LoadState("Dog"))
	assert.Equal(t, 1, finalized)
	assert.Equal(t, 1, mod.closed)

	// Round trip back to Loaded.
	assert.Equal(t, Loaded, m.Load("Dog"))
	assert.Equal(t, 2, initialized)
}

func TestManagerLoadIdempotent(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	initialized := 0
	mod := testModule()
	mod.symbols[symbolInitializer] = func() { initialized++ }
	env.addPlugin(t, dir, "Dog", "", mod)

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, Loaded, m.Load("Dog"))
	assert.Equal(t, Loaded, m.Load("Dog"))
	assert.Equal(t, 1, initialized)
}

func TestManagerLoadNotFound(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager(t.TempDir())
	defer m.Close()

	assert.Equal(t, NotFound, m.Load("Ghost"))
	assert.Equal(t, NotFound, m.Unload("Ghost"))
}

func TestManagerWrongMetadataFile(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Broken", "depends: [unclosed\n", testModule())

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, WrongMetadataFile, m.LoadState("Broken"))
	assert.Equal(t, WrongMetadataFile, m.Load("Broken"))
	assert.Equal(t, WrongMetadataFile, m.Unload("Broken"))
}

func TestManagerMissingDescriptor(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Stray.so"), []byte("\x7fELF"), 0o644))

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, WrongMetadataFile, m.LoadState("Stray"))
}

func TestManagerWrongPluginVersion(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	mod := testModule()
	mod.symbols[symbolVersion] = func() int { return Version + 1 }
	env.addPlugin(t, dir, "Dog", "", mod)

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, WrongPluginVersion, m.Load("Dog"))
	assert.Equal(t, NotLoaded, m.LoadState("Dog"))
	assert.Equal(t, 1, mod.closed)
}

func TestManagerWrongInterfaceVersion(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	mod := testModule()
	mod.symbols[symbolInterface] = func() string { return "com.example.pluginhost.Test.Mineral/1.0" }
	env.addPlugin(t, dir, "Dog", "", mod)

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, WrongInterfaceVersion, m.Load("Dog"))
	assert.Equal(t, 1, mod.closed)
}

func TestManagerMissingEntryPoint(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	mod := testModule()
	delete(mod.symbols, symbolInstancer)
	env.addPlugin(t, dir, "Dog", "", mod)

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, LoadFailed, m.Load("Dog"))
	assert.Equal(t, NotLoaded, m.LoadState("Dog"))
	assert.Equal(t, 1, mod.closed)
}

func TestManagerOpenFailure(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "", nil)
	env.loader.openErr["Dog"] = errors.New("bad ELF header")

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, LoadFailed, m.Load("Dog"))
	assert.Equal(t, NotLoaded, m.LoadState("Dog"))
}

func TestManagerAlias(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	var instancedAs string
	mod := testModuleWith(func(m *Manager, name string) (Instance, error) {
		instancedAs = name
		return newTestAnimal(m, name, true), nil
	})
	env.addPlugin(t, dir, "Dog", "provides: [Pet, GoodBoy]\n", mod)

	m := env.manager(dir)
	defer m.Close()

	// Load through an alias, instantiate through another; the instancer
	// always sees the original name.
	assert.Equal(t, Loaded, m.Load("Pet"))
	inst, err := m.Instance("GoodBoy")
	require.NoError(t, err)
	assert.Equal(t, "Dog", instancedAs)

	require.NoError(t, inst.Dispose())
	assert.Equal(t, NotLoaded, m.Unload("Dog"))
}

func TestManagerAliasCollisionAcrossManagers(t *testing.T) {
	env := newTestEnv(t)
	dir1, dir2 := t.TempDir(), t.TempDir()
	env.addPlugin(t, dir1, "Dog", "provides: [Default]\n", testModule())
	env.addPlugin(t, dir2, "Cat", "provides: [Default]\n", testModule())

	m1 := env.manager(dir1)
	defer m1.Close()
	m2 := env.manager(dir2)
	defer m2.Close()

	// Both managers legally provide the same alias; each resolves it to
	// its own plugin.
	assert.Equal(t, "Dog", m1.Metadata("Default").Name())
	assert.Equal(t, "Cat", m2.Metadata("Default").Name())
}

func TestManagerInstanceNotLoaded(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "", testModule())

	m := env.manager(dir)
	defer m.Close()

	_, err := m.Instance("Dog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
}

func TestManagerCrossManagerDependency(t *testing.T) {
	env := newTestEnv(t)
	dir1, dir2 := t.TempDir(), t.TempDir()
	env.addPlugin(t, dir1, "Engine", "", testModule())
	env.addPlugin(t, dir2, "Car", "depends: [Engine]\n", testModule())

	m1 := env.manager(dir1)
	defer m1.Close()
	m2 := env.manager(dir2)
	defer m2.Close()

	// Loading Car pulls Engine in through its own manager.
	assert.Equal(t, Loaded, m2.Load("Car"))
	assert.Equal(t, Loaded, m1.LoadState("Engine"))
	assert.Equal(t, []string{"Car"}, m1.Metadata("Engine").UsedBy())

	// Engine is pinned by Car.
	assert.Equal(t, Required, m1.Unload("Engine"))

	// Unloading the dependent releases the dependency.
	assert.Equal(t, NotLoaded, m2.Unload("Car"))
	assert.Empty(t, m1.Metadata("Engine").UsedBy())
	assert.Equal(t, NotLoaded, m1.Unload("Engine"))
}

func TestManagerMissingDependency(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Car", "depends: [Missing]\n", testModule())

	m := env.manager(dir)
	defer m.Close()

	assert.Equal(t, UnresolvedDependency, m.Load("Car"))
	assert.Equal(t, NotLoaded, m.LoadState("Car"))
}

func TestManagerFailedDependencyLeavesNoUsedBy(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Engine", "", testModule())
	env.addPlugin(t, dir, "Car", "depends: [Engine, Missing]\n", testModule())

	m := env.manager(dir)
	defer m.Close()

	// Engine loads as a side effect, but the failed Car load must not
	// register itself with it.
	assert.Equal(t, UnresolvedDependency, m.Load("Car"))
	assert.Equal(t, Loaded, m.LoadState("Engine"))
	assert.Empty(t, m.Metadata("Engine").UsedBy())
	assert.Equal(t, NotLoaded, m.Unload("Engine"))
}

func TestManagerUsedInstanceBlocksUnload(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "", testModuleWith(func(m *Manager, name string) (Instance, error) {
		return newTestAnimal(m, name, false), nil
	}))

	m := env.manager(dir)
	defer m.Close()

	require.Equal(t, Loaded, m.Load("Dog"))
	inst, err := m.Instance("Dog")
	require.NoError(t, err)

	assert.Equal(t, Used, m.Unload("Dog"))

	require.NoError(t, inst.Dispose())
	assert.Equal(t, NotLoaded, m.Unload("Dog"))
}

func TestManagerInstancesDestroyedInReverseOrder(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "", testModule())

	m := env.manager(dir)
	defer m.Close()

	require.Equal(t, Loaded, m.Load("Dog"))

	var order []int
	for i := 0; i < 3; i++ {
		inst, err := m.Instance("Dog")
		require.NoError(t, err)
		i := i
		inst.(*testAnimal).disposed = func() { order = append(order, i) }
	}

	assert.Equal(t, NotLoaded, m.Unload("Dog"))
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestManagerRegisterInstanceWrongManagerPanics(t *testing.T) {
	env := newTestEnv(t)
	dir1, dir2 := t.TempDir(), t.TempDir()
	env.addPlugin(t, dir1, "Dog", "", testModule())

	m1 := env.manager(dir1)
	defer m1.Close()
	m2 := env.manager(dir2)
	defer m2.Close()

	require.Equal(t, Loaded, m1.Load("Dog"))
	assert.Panics(t, func() { newTestAnimal(m2, "Dog", true) })
}

func TestManagerUnloadFailed(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	mod := testModule()
	mod.closeErr = errors.New("still referenced")
	env.addPlugin(t, dir, "Dog", "", mod)

	m := env.manager(dir)

	require.Equal(t, Loaded, m.Load("Dog"))
	assert.Equal(t, UnloadFailed, m.Unload("Dog"))
	assert.Equal(t, NotLoaded, m.LoadState("Dog"))

	// The plugin can be loaded again after a failed close.
	mod.closeErr = nil
	assert.Equal(t, Loaded, m.Load("Dog"))
	assert.Equal(t, NotLoaded, m.Unload("Dog"))
	m.Close()
}

func TestManagerCompatGate(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	mod := testModule()
	env.addPlugin(t, dir, "Dog", "compat: \">=2.0\"\n", mod)

	m := NewManager(testInterface, dir,
		WithLoader(env.loader), WithSuffix(".so"), WithHostVersion("1.4.0"))
	defer m.Close()

	assert.Equal(t, WrongPluginVersion, m.Load("Dog"))
	assert.Equal(t, 0, mod.closed)

	// Without a declared host version the gate is skipped.
	resetForTesting()
	m2 := env.manager(dir)
	defer m2.Close()
	assert.Equal(t, Loaded, m2.Load("Dog"))
}

func TestManagerReloadPluginDirectory(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "", testModule())
	env.addPlugin(t, dir, "Cat", "", testModule())

	m := env.manager(dir)
	defer m.Close()

	require.Equal(t, Loaded, m.Load("Dog"))

	// A removed module disappears on rescan; the loaded one survives.
	require.NoError(t, os.Remove(filepath.Join(dir, "Cat.so")))
	m.ReloadPluginDirectory()

	assert.Equal(t, []string{"Dog"}, m.PluginList())
	assert.Equal(t, Loaded, m.LoadState("Dog"))
	assert.Equal(t, NotFound, m.LoadState("Cat"))
}

func TestManagerReloadPurgesAliases(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "provides: [Pet]\n", testModule())

	m := env.manager(dir)
	defer m.Close()

	require.NoError(t, os.Remove(filepath.Join(dir, "Dog.so")))
	m.ReloadPluginDirectory()

	assert.Equal(t, NotFound, m.LoadState("Pet"))
	assert.Equal(t, NotFound, m.LoadState("Dog"))
}

func TestManagerCloseRemovesDynamicRecords(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "provides: [Pet]\n", testModule())

	m := env.manager(dir)
	require.Equal(t, Loaded, m.Load("Dog"))
	m.Close()

	// A fresh manager rediscovers the plugin from scratch.
	m2 := env.manager(dir)
	defer m2.Close()
	assert.Equal(t, NotLoaded, m2.LoadState("Dog"))
	assert.Equal(t, NotLoaded, m2.LoadState("Pet"))
}

func TestManagerCloseUnloadsRecursively(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Engine", "", testModule())
	env.addPlugin(t, dir, "Car", "depends: [Engine]\n", testModule())
	env.addPlugin(t, dir, "Truck", "depends: [Engine]\n", testModule())

	m := env.manager(dir)
	require.Equal(t, Loaded, m.Load("Car"))
	require.Equal(t, Loaded, m.Load("Truck"))

	// Dependents go first, then the dependency; nothing is left behind.
	m.Close()

	m2 := env.manager(dir)
	defer m2.Close()
	assert.Equal(t, NotLoaded, m2.LoadState("Engine"))
	assert.Equal(t, NotLoaded, m2.LoadState("Car"))
	assert.Equal(t, NotLoaded, m2.LoadState("Truck"))
}

func TestManagerSecondManagerSkipsForeignRecords(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	env.addPlugin(t, dir, "Dog", "", testModule())

	m1 := env.manager(dir)
	defer m1.Close()

	// A second manager over the same directory must not reassociate the
	// already known plugin.
	m2 := env.manager(dir)
	defer m2.Close()

	assert.Equal(t, []string{"Dog"}, m1.PluginList())
	assert.Empty(t, m2.PluginList())
	assert.Equal(t, NotFound, m2.LoadState("Dog"))
}
