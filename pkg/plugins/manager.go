package plugins

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// diag receives the runtime's diagnostic messages for non-fatal conditions
// (unresolved dependencies, version mismatches, missing finalizers).
var diag = log.New(os.Stderr, "", 0)

// SetDiagnosticOutput redirects diagnostic messages. Pass io.Discard to
// silence them.
func SetDiagnosticOutput(w io.Writer) { diag.SetOutput(w) }

// liveInstance is one currently constructed instance of a plugin, tracked
// under the plugin's name.
type liveInstance struct {
	token string
	inst  Instance
}

// Manager controls a set of plugins that share an interface string and a
// plugin directory. Plugin records live in the process-wide storage and are
// owned by exactly one manager; dependencies may cross manager boundaries.
//
// All operations are single-threaded by contract: callers must externally
// serialize access to every manager in the process.
type Manager struct {
	iface       string
	dir         string
	suffix      string
	hostVersion string
	loader      ModuleLoader
	plugins     *globalStorage
	instances   map[string][]liveInstance
	closed      bool
}

// Option configures a Manager during construction.
type Option func(*Manager)

// WithLoader replaces the platform module loader. Tests and embedders use
// it to inject fakes.
func WithLoader(l ModuleLoader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithSuffix overrides the module filename suffix used during discovery and
// load. The default is DefaultSuffix.
func WithSuffix(suffix string) Option {
	return func(m *Manager) { m.suffix = suffix }
}

// WithHostVersion declares the host application version checked against
// descriptor compat constraints. Without it the compat gate is skipped.
func WithHostVersion(version string) Option {
	return func(m *Manager) { m.hostVersion = version }
}

// NewManager constructs a manager for plugins implementing the given
// interface string, discovering dynamic plugins in dir. The first manager
// constructed in the process drains the static plugin registry; static
// plugins whose interface matches and that are not yet associated with a
// manager are adopted and initialized.
func NewManager(iface, dir string, opts ...Option) *Manager {
	m := &Manager{
		iface:     iface,
		suffix:    DefaultSuffix,
		instances: make(map[string][]liveInstance),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.loader == nil {
		m.loader = defaultLoader()
	}

	m.plugins = initGlobalStorage()

	// Adopt orphaned static plugins with a matching interface.
	for _, name := range m.sortedNames() {
		r := m.plugins.byName[name]
		if r.static != nil && r.manager == nil && r.static.iface == m.iface {
			r.manager = m
			if r.static.initializer != nil {
				r.static.initializer()
			}
		}
	}

	m.SetPluginDirectory(dir)
	return m
}

// PluginInterface returns the interface string plugins of this manager must
// report.
func (m *Manager) PluginInterface() string { return m.iface }

// PluginDirectory returns the directory dynamic plugins are discovered in.
func (m *Manager) PluginDirectory() string { return m.dir }

// SetPluginDirectory changes the plugin directory and rescans it. Records
// owned by this manager that are not loaded (or have a broken descriptor)
// are dropped first, aliases before records, and rediscovered from the new
// directory. Records under a name already present in the process-wide
// storage are left untouched, whoever owns them.
func (m *Manager) SetPluginDirectory(dir string) {
	m.dir = dir

	// Aliases of purgeable records must go before the records themselves,
	// otherwise the alias table would hold dangling references.
	purgeable := func(r *record) bool {
		return r.manager == m && r.loadState.Is(NotLoaded|WrongMetadataFile)
	}
	for alias, recs := range m.plugins.aliases {
		kept := recs[:0]
		for _, r := range recs {
			if !purgeable(r) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(m.plugins.aliases, alias)
		} else {
			m.plugins.aliases[alias] = kept
		}
	}
	for name, r := range m.plugins.byName {
		if purgeable(r) {
			delete(m.plugins.byName, name)
		}
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		// An absent or unreadable directory simply yields no dynamic
		// plugins; embedded targets run with static plugins only.
		return
	}

	for _, entry := range entries {
		filename := entry.Name()
		if entry.IsDir() || strings.HasPrefix(filename, ".") {
			continue
		}
		if !strings.HasSuffix(filename, m.suffix) {
			continue
		}
		name := strings.TrimSuffix(filename, m.suffix)

		// Already known to the process, whoever owns it.
		if _, ok := m.plugins.byName[name]; ok {
			continue
		}

		r := &record{manager: m}
		data, err := os.ReadFile(filepath.Join(m.dir, name+".conf"))
		if err == nil {
			if md, perr := parseMetadata(name, data); perr == nil {
				r.metadata = *md
				r.loadState = NotLoaded
			} else {
				diag.Printf("plugins: %v", perr)
				r.metadata = Metadata{name: name}
				r.loadState = WrongMetadataFile
			}
		} else {
			diag.Printf("plugins: cannot read descriptor of plugin %s: %v", name, err)
			r.metadata = Metadata{name: name}
			r.loadState = WrongMetadataFile
		}

		m.plugins.byName[name] = r
		m.plugins.registerAliases(r)
	}
}

// ReloadPluginDirectory rescans the current plugin directory.
func (m *Manager) ReloadPluginDirectory() {
	m.SetPluginDirectory(m.dir)
}

// PluginList returns the names of plugins owned by this manager, sorted.
func (m *Manager) PluginList() []string {
	var names []string
	for name, r := range m.plugins.byName {
		if r.manager == m {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.plugins.byName))
	for name := range m.plugins.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the metadata of the named (or aliased) plugin, or nil if
// the plugin is not known to this manager.
func (m *Manager) Metadata(name string) *Metadata {
	if r := m.plugins.findWithAlias(m, name); r != nil {
		return &r.metadata
	}
	return nil
}

// LoadState returns the current state of the named (or aliased) plugin, or
// NotFound if the plugin is not known to this manager.
func (m *Manager) LoadState(name string) LoadState {
	if r := m.plugins.findWithAlias(m, name); r != nil {
		return r.loadState
	}
	return NotFound
}

// Load loads the named (or aliased) plugin and its dependencies. Loading an
// already loaded or static plugin is a no-op returning the current state.
func (m *Manager) Load(name string) LoadState {
	if r := m.plugins.findWithAlias(m, name); r != nil {
		return m.loadInternal(r)
	}
	diag.Printf("plugins: plugin %s is not static and was not found in %s", name, m.dir)
	return NotFound
}

func (m *Manager) loadInternal(r *record) LoadState {
	// Only NotLoaded plugins are ready to load. Loaded and static plugins
	// succeed idempotently, everything else is a reported no-op.
	if r.loadState != NotLoaded {
		if !r.loadState.Is(Static | Loaded) {
			diag.Printf("plugins: plugin %s is not ready to load: %s", r.metadata.name, r.loadState)
		}
		return r.loadState
	}

	// Load dependencies first and remember them; their usedBy lists are
	// only touched after the plugin itself loaded fine. A dependency may be
	// owned by a different manager, so the load is dispatched through its
	// own manager.
	deps := make([]*record, 0, len(r.metadata.depends))
	for _, depName := range r.metadata.depends {
		dep, ok := m.plugins.byName[depName]
		if !ok || dep.manager == nil || !dep.manager.loadInternal(dep).Is(Loaded|Static) {
			diag.Printf("plugins: unresolved dependency %s of plugin %s", depName, r.metadata.name)
			return UnresolvedDependency
		}
		deps = append(deps, dep)
	}

	// Compat gate, before touching the module at all.
	if r.metadata.compat != "" && m.hostVersion != "" {
		ok, err := CompatibleWith(r.metadata.compat, m.hostVersion)
		if err != nil {
			diag.Printf("plugins: plugin %s: %v", r.metadata.name, err)
			return WrongPluginVersion
		}
		if !ok {
			diag.Printf("plugins: plugin %s requires host version %s but the host is %s", r.metadata.name, r.metadata.compat, m.hostVersion)
			return WrongPluginVersion
		}
	}

	path := filepath.Join(m.dir, r.metadata.name+m.suffix)
	module, err := m.loader.Open(path)
	if err != nil {
		diag.Printf("plugins: cannot open plugin file %q: %v", path, err)
		return LoadFailed
	}

	version, state := lookupFunc[func() int](module, symbolVersion, r.metadata.name, "version")
	if state != 0 {
		module.Close()
		return state
	}
	if v := version(); v != Version {
		diag.Printf("plugins: wrong version of plugin %s, expected %d but got %d", r.metadata.name, Version, v)
		module.Close()
		return WrongPluginVersion
	}

	iface, state := lookupFunc[func() string](module, symbolInterface, r.metadata.name, "interface string")
	if state != 0 {
		module.Close()
		return state
	}
	if got := iface(); got != m.iface {
		diag.Printf("plugins: wrong interface string of plugin %s, expected %q but got %q", r.metadata.name, m.iface, got)
		module.Close()
		return WrongInterfaceVersion
	}

	sym, err := module.Lookup(symbolInstancer)
	if err != nil {
		diag.Printf("plugins: cannot get instancer of plugin %s: %v", r.metadata.name, err)
		module.Close()
		return LoadFailed
	}
	instancer, ok := resolveInstancer(sym)
	if !ok {
		diag.Printf("plugins: instancer of plugin %s has unexpected type %T", r.metadata.name, sym)
		module.Close()
		return LoadFailed
	}

	initializer, state := lookupFunc[func()](module, symbolInitializer, r.metadata.name, "initializer")
	if state != 0 {
		module.Close()
		return state
	}
	initializer()

	// Everything went well, register this plugin with each dependency.
	for _, dep := range deps {
		if dep.manager != nil {
			dep.manager.addUsedBy(dep.metadata.name, r.metadata.name)
		} else {
			dep.metadata.addUsedBy(r.metadata.name)
		}
	}

	r.loadState = Loaded
	r.module = module
	r.instancer = instancer
	return Loaded
}

// lookupFunc resolves a well-known entry point and asserts its signature.
// It returns a zero LoadState on success and LoadFailed otherwise.
func lookupFunc[F any](module Module, symbol, plugin, what string) (F, LoadState) {
	var zero F
	sym, err := module.Lookup(symbol)
	if err != nil {
		diag.Printf("plugins: cannot get %s of plugin %s: %v", what, plugin, err)
		return zero, LoadFailed
	}
	fn, ok := sym.(F)
	if !ok {
		diag.Printf("plugins: %s of plugin %s has unexpected type %T", what, plugin, sym)
		return zero, LoadFailed
	}
	return fn, 0
}

// Unload unloads the named (or aliased) plugin. Unloading a static, not
// loaded or metadata-broken plugin is a no-op returning the current state.
// Unload fails with Required while other plugins depend on this one and
// with Used while a live instance refuses deletion.
func (m *Manager) Unload(name string) LoadState {
	if r := m.plugins.findWithAlias(m, name); r != nil {
		return m.unloadInternal(r)
	}
	diag.Printf("plugins: plugin %s was not found", name)
	return NotFound
}

func (m *Manager) unloadInternal(r *record) LoadState {
	if r.loadState != Loaded {
		if !r.loadState.Is(Static | NotLoaded | WrongMetadataFile) {
			diag.Printf("plugins: plugin %s is not ready to unload: %s", r.metadata.name, r.loadState)
		}
		return r.loadState
	}

	if len(r.metadata.usedBy) != 0 {
		diag.Printf("plugins: plugin %s is required by other plugins: %v", r.metadata.name, r.metadata.usedBy)
		return Required
	}

	// Destroy live instances, unless one of them is still in use. They
	// self-deregister on Dispose, so iterate a snapshot in reverse
	// construction order.
	if insts := m.instances[r.metadata.name]; len(insts) != 0 {
		for _, li := range insts {
			if !li.inst.CanBeDeleted() {
				diag.Printf("plugins: plugin %s is currently used and cannot be deleted", r.metadata.name)
				return Used
			}
		}
		snapshot := append([]liveInstance(nil), insts...)
		for i := len(snapshot) - 1; i >= 0; i-- {
			if err := snapshot[i].inst.Dispose(); err != nil {
				diag.Printf("plugins: disposing instance of plugin %s: %v", r.metadata.name, err)
			}
		}
	}

	// Drop this plugin from the usedBy list of each dependency, through the
	// dependency's own manager when it has one.
	for _, depName := range r.metadata.depends {
		dep, ok := m.plugins.byName[depName]
		if !ok {
			continue
		}
		if dep.manager != nil {
			dep.manager.removeUsedBy(depName, r.metadata.name)
		} else {
			dep.metadata.removeUsedBy(r.metadata.name)
		}
	}

	// The finalizer is optional; a module without one just gets closed.
	if sym, err := r.module.Lookup(symbolFinalizer); err != nil {
		diag.Printf("plugins: cannot get finalizer of plugin %s: %v", r.metadata.name, err)
	} else if finalizer, ok := sym.(func()); ok {
		finalizer()
	} else {
		diag.Printf("plugins: finalizer of plugin %s has unexpected type %T", r.metadata.name, sym)
	}

	if err := r.module.Close(); err != nil {
		diag.Printf("plugins: cannot unload plugin %s: %v", r.metadata.name, err)
		r.loadState = NotLoaded
		r.module = nil
		r.instancer = nil
		return UnloadFailed
	}

	r.loadState = NotLoaded
	r.module = nil
	r.instancer = nil
	return NotLoaded
}

// unloadRecursive unloads every plugin depending on the named one before
// the plugin itself. Used during manager teardown, where anything but a
// terminal state is fatal.
func (m *Manager) unloadRecursive(name string) LoadState {
	r, ok := m.plugins.byName[name]
	if !ok {
		panic(fmt.Sprintf("plugins: unloadRecursive: unknown plugin %s", name))
	}
	return m.unloadRecursiveInternal(r)
}

func (m *Manager) unloadRecursiveInternal(r *record) LoadState {
	// A dependent owned by another manager cannot be touched from here; the
	// parent unload will fail loudly on the Required state.
	if r.manager != m {
		return NotFound
	}

	if r.loadState != Static {
		for _, user := range append([]string(nil), r.metadata.usedBy...) {
			m.unloadRecursive(user)
		}
	}

	after := m.unloadInternal(r)
	if !after.Is(Static | NotLoaded | WrongMetadataFile) {
		panic(fmt.Sprintf("plugins: cannot unload plugin %s on manager teardown: %s", r.metadata.name, after))
	}
	return after
}

// Close tears the manager down: every owned plugin is recursively unloaded,
// static plugins are finalized and released for adoption by a future
// manager, dynamic records and their aliases are removed from the
// process-wide storage.
//
// Closing a manager while instances of its plugins are still alive is
// undefined; the host must dispose of instances first.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true

	var removed []string
	for _, name := range m.sortedNames() {
		r := m.plugins.byName[name]
		if r.manager != m {
			continue
		}

		state := m.unloadRecursiveInternal(r)

		// Static plugins stay in the storage for a future manager to adopt;
		// dynamic ones are scheduled for removal.
		if state == Static {
			r.manager = nil
			if r.static.finalizer != nil {
				r.static.finalizer()
			}
		} else {
			removed = append(removed, name)
		}
	}

	// Aliases first, then records. Static records had their back-reference
	// cleared above, so only this manager's dynamic records match here.
	for alias, recs := range m.plugins.aliases {
		kept := recs[:0]
		for _, r := range recs {
			if !(r.manager == m && r.loadState != Static) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(m.plugins.aliases, alias)
		} else {
			m.plugins.aliases[alias] = kept
		}
	}
	for _, name := range removed {
		delete(m.plugins.byName, name)
	}
}

// Instance constructs a new instance of the named (or aliased) plugin. The
// plugin must be loaded or static. The instancer always receives the
// plugin's original name, never the alias it was looked up by.
func (m *Manager) Instance(name string) (Instance, error) {
	r := m.plugins.findWithAlias(m, name)
	if r == nil || !r.loadState.Is(Loaded|Static) {
		return nil, fmt.Errorf("plugin %s is not loaded", name)
	}
	return r.instancer(m, r.metadata.name)
}

// registerInstance records a freshly constructed instance under the
// plugin's name and returns the metadata pointer for the instance to hold.
// Called from NewBase.
func (m *Manager) registerInstance(name, token string, inst Instance) *Metadata {
	r, ok := m.plugins.byName[name]
	if !ok || r.manager != m {
		panic(fmt.Sprintf("plugins: attempt to register instance of plugin %s not known to given manager", name))
	}
	m.instances[name] = append(m.instances[name], liveInstance{token: token, inst: inst})
	return &r.metadata
}

// unregisterInstance removes a disposed instance; the per-plugin list is
// dropped entirely when it becomes empty. Called from Base.Dispose.
func (m *Manager) unregisterInstance(name, token string) {
	r, ok := m.plugins.byName[name]
	if !ok || r.manager != m {
		panic(fmt.Sprintf("plugins: attempt to unregister instance of plugin %s not known to given manager", name))
	}

	insts := m.instances[name]
	for i, li := range insts {
		if li.token == token {
			insts = append(insts[:i], insts[i+1:]...)
			if len(insts) == 0 {
				delete(m.instances, name)
			} else {
				m.instances[name] = insts
			}
			return
		}
	}
	panic(fmt.Sprintf("plugins: attempt to unregister unknown instance of plugin %s", name))
}

func (m *Manager) addUsedBy(name, usedBy string) {
	r, ok := m.plugins.byName[name]
	if !ok {
		panic(fmt.Sprintf("plugins: addUsedBy: unknown plugin %s", name))
	}
	r.metadata.addUsedBy(usedBy)
}

func (m *Manager) removeUsedBy(name, usedBy string) {
	r, ok := m.plugins.byName[name]
	if !ok {
		return
	}
	r.metadata.removeUsedBy(usedBy)
}
