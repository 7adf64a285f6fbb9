package plugins

import "github.com/google/uuid"

// Instance is the protocol every constructed plugin instance obeys. Concrete
// plugin types embed *Base, which provides the bookkeeping half, and
// override CanBeDeleted when they support manager-driven deletion.
type Instance interface {
	// CanBeDeleted reports whether the host holds no references to the
	// instance besides the manager's own bookkeeping, so the manager may
	// destroy it during unload. The Base implementation reports false.
	CanBeDeleted() bool

	// Dispose releases the instance and deregisters it from its manager.
	// Implementations overriding Dispose must call Base.Dispose last.
	Dispose() error
}

// Instancer constructs a fresh instance of the named plugin. The name passed
// in is always the plugin's original name, never an alias.
type Instancer func(m *Manager, name string) (Instance, error)

// Base carries the manager link, metadata pointer and registration token a
// plugin instance needs. It is created through NewBase from the concrete
// plugin's constructor.
type Base struct {
	manager  *Manager
	name     string
	token    string
	metadata *Metadata
}

// NewBase registers self as a live instance of the named plugin and returns
// the bookkeeping base to embed. Registering an instance of a plugin not
// owned by the manager is a programmer error and panics.
func NewBase(m *Manager, name string, self Instance) *Base {
	b := &Base{
		manager: m,
		name:    name,
		token:   uuid.NewString(),
	}
	b.metadata = m.registerInstance(name, b.token, self)
	return b
}

// Name returns the plugin name this instance belongs to.
func (b *Base) Name() string { return b.name }

// Metadata returns the plugin's descriptor metadata.
func (b *Base) Metadata() *Metadata { return b.metadata }

// Manager returns the manager this instance is registered with.
func (b *Base) Manager() *Manager { return b.manager }

// CanBeDeleted reports false. Plugins whose instances may be destroyed by
// the manager during unload shadow this method.
func (b *Base) CanBeDeleted() bool { return false }

// Dispose deregisters the instance from its manager. It must be called
// exactly once, either by the host when it is done with the instance or by
// the manager when it destroys instances during unload.
func (b *Base) Dispose() error {
	b.manager.unregisterInstance(b.name, b.token)
	return nil
}
