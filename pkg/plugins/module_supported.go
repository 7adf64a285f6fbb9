//go:build linux || darwin || freebsd

package plugins

import "plugin"

// DefaultSuffix is the filename suffix plugin modules carry on this
// platform. Files without it are ignored during directory discovery.
const DefaultSuffix = ".so"

// dlLoader loads native modules through the runtime's dynamic linker. The
// linker opens modules with global symbol visibility, so a plugin can
// resolve symbols exported by plugins loaded before it.
type dlLoader struct{}

func (dlLoader) Open(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return dlModule{p: p}, nil
}

type dlModule struct {
	p *plugin.Plugin
}

func (m dlModule) Lookup(symbol string) (any, error) {
	return m.p.Lookup(symbol)
}

// Close releases the manager's handle. The Go runtime never evicts loaded
// code, so the module itself stays mapped until the process exits.
func (dlModule) Close() error { return nil }

func defaultLoader() ModuleLoader { return dlLoader{} }
