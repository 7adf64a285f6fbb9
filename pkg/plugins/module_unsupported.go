//go:build !(linux || darwin || freebsd)

package plugins

import "errors"

// DefaultSuffix is the filename suffix plugin modules carry on this
// platform. Files without it are ignored during directory discovery.
const DefaultSuffix = ".so"

// unsupportedLoader is used on platforms without native module loading.
// Only static plugins are usable there, matching hosts that embed the
// runtime on such targets.
type unsupportedLoader struct{}

func (unsupportedLoader) Open(string) (Module, error) {
	return nil, errors.New("native plugin loading is not supported on this platform")
}

func defaultLoader() ModuleLoader { return unsupportedLoader{} }
