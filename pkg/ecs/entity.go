package ecs

import (
	"fmt"
	"math"

	"github.com/argus-labs/archecs/pkg/assert"
	"github.com/rotisserie/eris"
)

// Entity is an opaque handle made of a slot index and a generation. The index is reused after the
// entity is destroyed and the generation is bumped, so handles to the old entity become stale. The
// zero value never refers to a live entity.
type Entity struct {
	Index      uint32 `json:"index"`
	Generation uint32 `json:"generation"`
}

// MaxEntities is the maximum number of entity slots.
const MaxEntities = math.MaxUint32

func (e Entity) String() string {
	return fmt.Sprintf("entity(%d:%d)", e.Index, e.Generation)
}

// IsZero reports whether e is the zero handle.
func (e Entity) IsZero() bool {
	return e == Entity{}
}

// entityLocation is where an entity's row currently lives. It is rewritten on every structural
// change that moves the row.
type entityLocation struct {
	arch  *Archetype
	chunk *Chunk
	row   int
}

type entitySlot struct {
	generation uint32
	alive      bool
	loc        entityLocation
}

// entityManager allocates entity handles and maps them to their rows. All methods that accept a
// location expect non-nil pointers. Locations are internal, and if we were to find a nil pointer it
// means we have made a mistake somewhere.
type entityManager struct {
	slots []entitySlot // Entity index -> slot
	free  []uint32     // A queue of free indices
	alive int
}

// newEntityManager creates an empty entity manager.
func newEntityManager() entityManager {
	return entityManager{
		slots: make([]entitySlot, 0),
		free:  make([]uint32, 0),
	}
}

// create returns a handle for a new entity. Freed indices are reused in FIFO order so that an index
// goes through as many other allocations as possible before it's reused.
func (em *entityManager) create() (Entity, error) {
	var index uint32
	if len(em.free) > 0 {
		index = em.free[0]
		em.free = em.free[1:]
	} else {
		if uint64(len(em.slots)) >= MaxEntities {
			return Entity{}, eris.New("max number of entities exceeded")
		}
		index = uint32(len(em.slots)) //nolint:gosec // checked above
		em.slots = append(em.slots, entitySlot{generation: 0})
	}

	slot := &em.slots[index]
	assert.That(!slot.alive, "allocated a live slot %d", index)

	slot.generation++
	if slot.generation == 0 { // Generation 0 is reserved for the zero handle
		slot.generation = 1
	}
	slot.alive = true
	em.alive++

	return Entity{Index: index, Generation: slot.generation}, nil
}

// destroy releases the entity's slot. The generation is bumped on the next create.
func (em *entityManager) destroy(e Entity) {
	assert.That(em.exists(e), "destroying stale %s", e)

	slot := &em.slots[e.Index]
	slot.alive = false
	slot.loc = entityLocation{}
	em.free = append(em.free, e.Index)
	em.alive--
}

// exists checks that the entity is alive and that its generation matches the slot.
func (em *entityManager) exists(e Entity) bool {
	if int(e.Index) >= len(em.slots) {
		return false
	}
	slot := &em.slots[e.Index]
	return slot.alive && slot.generation == e.Generation
}

// location returns the entity's current row, or ErrStaleEntity.
func (em *entityManager) location(e Entity) (entityLocation, error) {
	if !em.exists(e) {
		return entityLocation{}, eris.Wrapf(ErrStaleEntity, "%s", e)
	}
	return em.slots[e.Index].loc, nil
}

// setLocation points a live entity at a new row.
func (em *entityManager) setLocation(e Entity, loc entityLocation) {
	assert.That(em.exists(e), "setting location of stale %s", e)
	assert.That(loc.arch != nil && loc.chunk != nil, "location must not be nil")
	em.slots[e.Index].loc = loc
}

// reset drops every entity.
func (em *entityManager) reset() {
	em.slots = em.slots[:0]
	em.free = em.free[:0]
	em.alive = 0
}
