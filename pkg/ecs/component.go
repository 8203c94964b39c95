package ecs

import (
	"reflect"
	"sync"

	"github.com/argus-labs/archecs/pkg/assert"
	"github.com/rotisserie/eris"
)

// Component is the interface that all components must implement.
// Components are pure data containers that can be attached to entities.
type Component interface { //nolint:iface // We may add more methods in the future.
	// Name returns a unique string identifier for the component type.
	// This should be consistent across program executions.
	Name() string
}

// ComponentID is the identifier assigned to a component type when it is registered. IDs are dense
// and start at 0, in registration order.
type ComponentID = uint32

// ComponentInfo describes a registered component type.
type ComponentInfo struct {
	ID    ComponentID
	Name  string
	Type  reflect.Type
	Size  uintptr
	Align uintptr
	Tag   bool // Zero-size marker type
}

// componentManager is the registration table of component types. Lookups may happen from worker
// goroutines, registration only from the goroutine that owns the world.
type componentManager struct {
	mu        sync.RWMutex
	catalog   map[string]ComponentID // Component name -> component ID
	infos     []ComponentInfo        // Component ID -> metadata
	factories []columnFactory        // Component ID -> column factory
}

// newComponentManager creates a new component manager.
func newComponentManager() *componentManager {
	return &componentManager{
		catalog:   make(map[string]ComponentID),
		infos:     make([]ComponentInfo, 0),
		factories: make([]columnFactory, 0),
	}
}

// register registers a new component type and returns its ID.
// If the component is already registered with the same Go type, no-op.
func (cm *componentManager) register(name string, typ reflect.Type, factory columnFactory) (ComponentID, error) {
	if name == "" {
		return 0, eris.New("component name cannot be empty")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cid, exists := cm.catalog[name]; exists {
		if cm.infos[cid].Type != typ {
			return 0, eris.Errorf("component name %q is already used by %s", name, cm.infos[cid].Type)
		}
		return cid, nil
	}

	cid := ComponentID(len(cm.infos))
	cm.catalog[name] = cid
	cm.infos = append(cm.infos, ComponentInfo{
		ID:    cid,
		Name:  name,
		Type:  typ,
		Size:  typ.Size(),
		Align: uintptr(typ.Align()),
		Tag:   typ.Size() == 0,
	})
	cm.factories = append(cm.factories, factory)
	assert.That(len(cm.infos) == len(cm.factories), "component id doesn't match number of factories")

	return cid, nil
}

// getID returns a component's ID given a name.
func (cm *componentManager) getID(name string) (ComponentID, error) {
	cm.mu.RLock()
	id, exists := cm.catalog[name]
	cm.mu.RUnlock()

	if !exists {
		return 0, eris.Wrapf(ErrUnregisteredComponentType, "component %s", name)
	}
	return id, nil
}

// info returns the metadata of a registered component.
func (cm *componentManager) info(id ComponentID) (ComponentInfo, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if int(id) >= len(cm.infos) {
		return ComponentInfo{}, eris.Wrapf(ErrUnregisteredComponentType, "component id %d", id)
	}
	return cm.infos[id], nil
}

// factory returns the column factory for a registered component.
func (cm *componentManager) factory(id ComponentID) columnFactory {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	assert.That(int(id) < len(cm.factories), "component %d is not registered", id)
	return cm.factories[id]
}

// registered reports whether id refers to a registered component.
func (cm *componentManager) registered(id ComponentID) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return int(id) < len(cm.infos)
}

// count returns the number of registered components.
func (cm *componentManager) count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.infos)
}

// -------------------------------------------------------------------------------------------------
// Public API
// -------------------------------------------------------------------------------------------------

// RegisterComponent adds T to the world's component table and returns its ID. Registering the
// same type twice returns the existing ID. Registration is rejected while jobs are in flight.
func RegisterComponent[T Component](w *World) (ComponentID, error) {
	if w.scheduler.pending() > 0 {
		return 0, eris.Wrap(ErrConcurrentStructuralChange, "cannot register components while jobs are running")
	}

	var zero T
	typ := reflect.TypeOf(zero)
	id, err := w.components.register(zero.Name(), typ, newColumnFactory[T]())
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ComponentIDOf returns the ID of an already registered component type.
func ComponentIDOf[T Component](w *World) (ComponentID, error) {
	var zero T
	return w.components.getID(zero.Name())
}

// ComponentInfo returns the metadata of a registered component ID.
func (w *World) ComponentInfo(id ComponentID) (ComponentInfo, error) {
	return w.components.info(id)
}

// ComponentTypes returns a map of component names to their reflect.Type.
func (w *World) ComponentTypes() map[string]reflect.Type {
	w.components.mu.RLock()
	defer w.components.mu.RUnlock()

	types := make(map[string]reflect.Type, len(w.components.infos))
	for _, info := range w.components.infos {
		types[info.Name] = info.Type
	}
	return types
}
