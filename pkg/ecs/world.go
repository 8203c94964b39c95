package ecs

import (
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/argus-labs/archecs/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// World owns the component table, the archetype store, the entities, the job scheduler and the
// registered systems. A World is not a global: every operation takes it explicitly.
//
// Structural changes (create, destroy, add or remove a component) must happen on the goroutine that
// owns the world. They fail with ErrConcurrentStructuralChange while a query iteration is running or
// while a scheduled job still depends on an affected archetype. Jobs record structural changes into
// a CommandBuffer instead.
type World struct {
	components *componentManager
	store      archetypeStore
	entities   entityManager
	scheduler  *Scheduler
	systems    systemManager
	commands   *CommandBuffer // Deferred buffer played back at the end of each hook

	iterating atomic.Int32 // Number of active query iterations
	tick      uint64

	options WorldOptions
	logger  zerolog.Logger
}

// NewWorld creates a new World and starts its worker pool. Call Shutdown to stop it.
func NewWorld(opts WorldOptions) (*World, error) {
	cfg, err := loadWorldConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load world options env vars")
	}
	options := newDefaultWorldOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid world options")
	}

	logger := telemetry.GetGlobalLogger("ecs")
	if options.Logger != nil {
		logger = options.Logger.With().Str("component", "ecs").Logger()
	}

	w := &World{
		components: newComponentManager(),
		entities:   newEntityManager(),
		systems:    newSystemManager(),
		options:    options,
		logger:     logger,
	}
	w.store = newArchetypeStore(w.components, options.ChunkCapacity, &w.logger)
	w.scheduler = newScheduler(w, options.Workers, &w.logger)
	w.commands = w.NewCommandBuffer()

	w.logger.Debug().
		Int("workers", options.Workers).
		Int("chunk_capacity", options.ChunkCapacity).
		Msg("world created")
	return w, nil
}

// Scheduler returns the world's job scheduler.
func (w *World) Scheduler() *Scheduler {
	return w.scheduler
}

// Logger returns the world logger.
func (w *World) Logger() *zerolog.Logger {
	return &w.logger
}

// Tick returns the number of completed updates.
func (w *World) Tick() uint64 {
	return w.tick
}

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int {
	return w.entities.alive
}

// Archetypes returns every archetype created so far, in creation order.
func (w *World) Archetypes() []*Archetype {
	return slices.Clone(w.store.archetypes)
}

// checkStructuralChange rejects a structural change touching archs while the world is locked.
func (w *World) checkStructuralChange(archs ...*Archetype) error {
	if w.iterating.Load() > 0 {
		return eris.Wrap(ErrConcurrentStructuralChange, "query iteration in progress")
	}
	for _, arch := range archs {
		if w.scheduler.busy(arch.id) {
			return eris.Wrapf(ErrConcurrentStructuralChange, "archetype %d is used by a scheduled job", arch.id)
		}
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// Entity operations
// -------------------------------------------------------------------------------------------------

// Create creates an entity with zero-valued components of the given types.
func (w *World) Create(ids ...ComponentID) (Entity, error) {
	arch, err := w.store.getOrCreateArchetype(ids)
	if err != nil {
		return Entity{}, eris.Wrap(err, "failed to create entity")
	}
	return w.CreateIn(arch)
}

// CreateIn creates an entity with zero-valued components in an existing archetype.
func (w *World) CreateIn(arch *Archetype) (Entity, error) {
	if arch == nil || arch.id >= len(w.store.archetypes) || w.store.archetypes[arch.id] != arch {
		return Entity{}, eris.New("archetype doesn't belong to this world")
	}
	if err := w.checkStructuralChange(arch); err != nil {
		return Entity{}, err
	}

	e, err := w.entities.create()
	if err != nil {
		return Entity{}, err
	}
	chunk, row := arch.allocateRow(e)
	w.entities.setLocation(e, entityLocation{arch: arch, chunk: chunk, row: row})
	return e, nil
}

// Spawn creates an entity with the given component values. If a component type appears more than
// once the last value wins.
func (w *World) Spawn(components ...Component) (Entity, error) {
	ids, err := w.componentIDs(components)
	if err != nil {
		return Entity{}, eris.Wrap(err, "failed to spawn entity")
	}

	e, err := w.Create(ids...)
	if err != nil {
		return Entity{}, err
	}

	loc := w.entities.slots[e.Index].loc
	for i, component := range components {
		loc.chunk.column(ids[i]).setAbstract(loc.row, component)
	}
	return e, nil
}

// Destroy removes an entity and all of its components. The entity's index is recycled with a new
// generation.
func (w *World) Destroy(e Entity) error {
	loc, err := w.entities.location(e)
	if err != nil {
		return err
	}
	if err := w.checkStructuralChange(loc.arch); err != nil {
		return err
	}

	w.freeRow(loc)
	w.entities.destroy(e)
	return nil
}

// Exists reports whether e refers to a live entity.
func (w *World) Exists(e Entity) bool {
	return w.entities.exists(e)
}

// AddComponent moves the entity to the archetype that also has the component, with a zero value.
func (w *World) AddComponent(e Entity, id ComponentID) error {
	_, err := w.addComponent(e, id)
	return err
}

// RemoveComponent moves the entity to the archetype without the component.
func (w *World) RemoveComponent(e Entity, id ComponentID) error {
	loc, err := w.entities.location(e)
	if err != nil {
		return err
	}
	if !w.components.registered(id) {
		return eris.Wrapf(ErrUnregisteredComponentType, "component id %d", id)
	}
	if !loc.arch.Has(id) {
		return eris.Wrapf(ErrComponentNotFound, "%s component %d", e, id)
	}

	dst, err := w.store.without(loc.arch, id)
	if err != nil {
		return err
	}
	if err := w.checkStructuralChange(loc.arch, dst); err != nil {
		return err
	}
	w.moveEntity(e, loc, dst)
	return nil
}

// HasComponent reports whether a live entity has the component.
func (w *World) HasComponent(e Entity, id ComponentID) bool {
	loc, err := w.entities.location(e)
	if err != nil {
		return false
	}
	return loc.arch.Has(id)
}

// ArchetypeOf returns the archetype the entity currently belongs to.
func (w *World) ArchetypeOf(e Entity) (*Archetype, error) {
	loc, err := w.entities.location(e)
	if err != nil {
		return nil, err
	}
	return loc.arch, nil
}

// Components returns boxed copies of every component of the entity, in component ID order.
func (w *World) Components(e Entity) ([]Component, error) {
	loc, err := w.entities.location(e)
	if err != nil {
		return nil, err
	}
	components := make([]Component, len(loc.chunk.columns))
	for i, col := range loc.chunk.columns {
		components[i] = col.getAbstract(loc.row)
	}
	return components, nil
}

func (w *World) addComponent(e Entity, id ComponentID) (entityLocation, error) {
	loc, err := w.entities.location(e)
	if err != nil {
		return entityLocation{}, err
	}
	if !w.components.registered(id) {
		return entityLocation{}, eris.Wrapf(ErrUnregisteredComponentType, "component id %d", id)
	}
	if loc.arch.Has(id) {
		return entityLocation{}, eris.Wrapf(ErrComponentExists, "%s component %d", e, id)
	}

	dst, err := w.store.with(loc.arch, id)
	if err != nil {
		return entityLocation{}, err
	}
	if err := w.checkStructuralChange(loc.arch, dst); err != nil {
		return entityLocation{}, err
	}
	return w.moveEntity(e, loc, dst), nil
}

// moveEntity moves an entity's row into dst. The components present in both archetypes are copied,
// the rest are zero-valued, then the source row is freed.
func (w *World) moveEntity(e Entity, src entityLocation, dst *Archetype) entityLocation {
	chunk, row := dst.allocateRow(e)
	for i, id := range dst.ids {
		if srcCol := src.chunk.column(id); srcCol != nil {
			chunk.columns[i].copyRow(row, srcCol, src.row)
		}
	}
	w.freeRow(src)

	loc := entityLocation{arch: dst, chunk: chunk, row: row}
	w.entities.setLocation(e, loc)
	return loc
}

// freeRow releases a row and re-points the entity that was swapped into it.
func (w *World) freeRow(loc entityLocation) {
	moved, ok := loc.arch.freeRow(loc.chunk, loc.row)
	if ok {
		w.entities.setLocation(moved, loc)
	}
}

// componentIDs resolves the IDs of component values and checks their Go types match registration.
func (w *World) componentIDs(components []Component) ([]ComponentID, error) {
	ids := make([]ComponentID, len(components))
	for i, component := range components {
		if component == nil {
			return nil, eris.New("component cannot be nil")
		}
		id, err := w.components.getID(component.Name())
		if err != nil {
			return nil, err
		}
		info, _ := w.components.info(id)
		if typ := reflect.TypeOf(component); typ != info.Type {
			return nil, eris.Errorf("component %s registered as %s, got %s", info.Name, info.Type, typ)
		}
		ids[i] = id
	}
	return ids, nil
}

// -------------------------------------------------------------------------------------------------
// Typed component access
// -------------------------------------------------------------------------------------------------

// Add adds a component with a value to the entity, moving it to a new archetype.
func Add[T Component](w *World, e Entity, component T) error {
	id, err := ComponentIDOf[T](w)
	if err != nil {
		return err
	}
	loc, err := w.addComponent(e, id)
	if err != nil {
		return err
	}
	loc.chunk.column(id).(*column[T]).set(loc.row, component) //nolint:errcheck // type is guaranteed by id
	return nil
}

// Remove removes the component T from the entity, moving it to a new archetype.
func Remove[T Component](w *World, e Entity) error {
	id, err := ComponentIDOf[T](w)
	if err != nil {
		return err
	}
	return w.RemoveComponent(e, id)
}

// Get returns a copy of the entity's component T.
func Get[T Component](w *World, e Entity) (T, error) {
	var zero T
	col, row, err := locateColumn[T](w, e)
	if err != nil {
		return zero, err
	}
	return col.get(row), nil
}

// Set overwrites the entity's component T. It is not a structural change, the entity must already
// have the component.
func Set[T Component](w *World, e Entity, component T) error {
	col, row, err := locateColumn[T](w, e)
	if err != nil {
		return err
	}
	col.set(row, component)
	return nil
}

// Has reports whether a live entity has component T.
func Has[T Component](w *World, e Entity) bool {
	id, err := ComponentIDOf[T](w)
	if err != nil {
		return false
	}
	return w.HasComponent(e, id)
}

func locateColumn[T Component](w *World, e Entity) (*column[T], int, error) {
	id, err := ComponentIDOf[T](w)
	if err != nil {
		return nil, 0, err
	}
	loc, err := w.entities.location(e)
	if err != nil {
		return nil, 0, err
	}
	col := loc.chunk.column(id)
	if col == nil {
		var zero T
		return nil, 0, eris.Wrapf(ErrComponentNotFound, "%s component %s", e, zero.Name())
	}
	return col.(*column[T]), loc.row, nil //nolint:errcheck // type is guaranteed by id
}
