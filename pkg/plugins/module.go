package plugins

// Well-known entry points every dynamic plugin module must export. The
// finalizer is resolved only at unload and its absence is non-fatal.
const (
	symbolVersion     = "PluginVersion"
	symbolInterface   = "PluginInterface"
	symbolInstancer   = "PluginInstancer"
	symbolInitializer = "PluginInitializer"
	symbolFinalizer   = "PluginFinalizer"
)

// Module is an opened native plugin module.
type Module interface {
	// Lookup resolves an exported symbol by name.
	Lookup(symbol string) (any, error)

	// Close releases the module handle. Whether the module's code is
	// actually evicted is platform-defined.
	Close() error
}

// ModuleLoader abstracts platform shared-library loading. The production
// loader is selected per platform at build time; tests and embedders may
// inject their own through WithLoader.
type ModuleLoader interface {
	Open(path string) (Module, error)
}

// resolveInstancer normalizes the shapes a PluginInstancer symbol can take:
// an exported function, an exported variable of type Instancer (the symbol
// resolves to a pointer), or an Instancer value from an injected loader.
func resolveInstancer(sym any) (Instancer, bool) {
	switch v := sym.(type) {
	case func(*Manager, string) (Instance, error):
		return Instancer(v), true
	case Instancer:
		return v, true
	case *Instancer:
		if *v == nil {
			return nil, false
		}
		return *v, true
	}
	return nil, false
}
