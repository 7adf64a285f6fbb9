// Package plugins implements a plugin-management runtime for host
// applications: discovery of dynamic plugin modules in a directory,
// compile-time registration of static plugins, dependency-aware load and
// unload, interface and version compatibility checking, and tracking of
// live plugin instances.
//
// Plugin records live in a process-wide storage shared by every Manager, so
// a plugin owned by one manager can satisfy a dependency of a plugin owned
// by another. The storage is created lazily on first manager construction
// and lives for the rest of the process.
//
// The runtime makes no thread-safety guarantees. Callers must externally
// serialize all operations on managers and, transitively, on the shared
// storage.
package plugins
