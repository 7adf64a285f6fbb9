package plugins

// record is the runtime shadow of a plugin in the global storage.
type record struct {
	metadata  Metadata
	loadState LoadState

	// manager is a non-owning back-reference; nil iff the plugin is static
	// with no manager currently associated. It changes at most once in each
	// direction: static adoption sets it, manager teardown clears it.
	manager *Manager

	instancer Instancer

	// static is non-nil iff the record was built from a static registration.
	static *staticPlugin

	// module is non-nil iff loadState == Loaded.
	module Module
}

// globalStorage is the process-wide plugin table shared by every manager.
// It is created lazily on first manager construction and lives until the
// process exits. All access is single-threaded by contract.
type globalStorage struct {
	byName  map[string]*record
	aliases map[string][]*record
}

var storage *globalStorage

// initGlobalStorage returns the process-wide storage, creating it on first
// use and draining the static plugin registry exactly once.
func initGlobalStorage() *globalStorage {
	if storage == nil {
		storage = &globalStorage{
			byName:  make(map[string]*record),
			aliases: make(map[string][]*record),
		}
	}

	if !staticDrained {
		for _, sp := range staticPending {
			data, ok := resource(resourceGroupPrefix+sp.name, sp.name+".conf")
			if !ok {
				diag.Printf("plugins: no descriptor resource for static plugin %s", sp.name)
			}
			md, err := parseMetadata(sp.name, data)
			if err != nil {
				diag.Printf("plugins: invalid descriptor of static plugin %s: %v", sp.name, err)
				md = &Metadata{name: sp.name}
			}

			r := &record{
				metadata:  *md,
				loadState: Static,
				instancer: sp.instancer,
				static:    sp,
			}
			storage.byName[sp.name] = r
			storage.registerAliases(r)
		}
		staticPending = nil
		staticDrained = true
	}

	return storage
}

// registerAliases adds the record under each of its provides names. Alias
// collisions across managers are permitted; lookup disambiguates by owner.
func (s *globalStorage) registerAliases(r *record) {
	for _, alias := range r.metadata.provides {
		s.aliases[alias] = append(s.aliases[alias], r)
	}
}

// findWithAlias resolves a query against the storage on behalf of a manager.
// The exact name is tried first, then the aliases; in both cases only
// records owned by the querying manager are visible.
func (s *globalStorage) findWithAlias(m *Manager, query string) *record {
	if r, ok := s.byName[query]; ok {
		if r.manager == m {
			return r
		}
		return nil
	}
	for _, r := range s.aliases[query] {
		if r.manager == m {
			return r
		}
	}
	return nil
}

// resetForTesting discards the process-wide storage and re-opens the static
// registry so tests can run against a clean slate.
func resetForTesting() {
	storage = nil
	staticPending = nil
	staticDrained = false
	resources = map[string]map[string][]byte{}
}
