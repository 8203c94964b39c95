package ecs

import (
	"slices"

	"github.com/argus-labs/archecs/pkg/assert"
	"github.com/kelindar/bitmap"
)

// archetypeID is the index of the archetype in the store. Archetypes are never deleted.
type archetypeID = int

// Archetype groups every entity that has exactly the same set of component types. Its entities
// live in a list of chunks where every chunk except the last one is full.
// NOTE: We keep the sorted ID list and a column index next to the bitmap because counting and
// ranging over bits is slower than a slice lookup for the small component counts we expect.
type Archetype struct {
	id         archetypeID
	components bitmap.Bitmap   // Bitmap of components contained in this archetype
	ids        []ComponentID   // Sorted component IDs, same order as chunk columns
	colIndex   []int           // Component ID -> column index, -1 when absent
	factories  []columnFactory // Column factories, same order as ids
	capacity   int             // Rows per chunk
	chunks     []*Chunk
	count      int // Number of entities across all chunks
}

// newArchetype creates an archetype for the given component types.
func newArchetype(aid archetypeID, ids []ComponentID, factories []columnFactory, capacity int) *Archetype {
	assert.That(len(ids) == len(factories), "mismatched number of columns and components")
	assert.That(slices.IsSorted(ids), "archetype component ids must be sorted")
	assert.That(capacity > 0, "chunk capacity must be positive")

	var components bitmap.Bitmap
	colIndex := make([]int, 0)
	for i, id := range ids {
		components.Set(id)
		for int(id) >= len(colIndex) {
			colIndex = append(colIndex, -1)
		}
		colIndex[id] = i
	}

	return &Archetype{
		id:         aid,
		components: components,
		ids:        ids,
		colIndex:   colIndex,
		factories:  factories,
		capacity:   capacity,
		chunks:     make([]*Chunk, 0),
	}
}

// ID returns the archetype's index in the store.
func (a *Archetype) ID() int {
	return a.id
}

// Components returns a copy of the archetype's sorted component IDs.
func (a *Archetype) Components() []ComponentID {
	return slices.Clone(a.ids)
}

// Has reports whether the archetype contains the component.
func (a *Archetype) Has(id ComponentID) bool {
	return a.columnIndex(id) >= 0
}

// Len returns the number of entities in the archetype.
func (a *Archetype) Len() int {
	return a.count
}

// ChunkCount returns the number of allocated chunks.
func (a *Archetype) ChunkCount() int {
	return len(a.chunks)
}

func (a *Archetype) columnIndex(id ComponentID) int {
	if int(id) >= len(a.colIndex) {
		return -1
	}
	return a.colIndex[id]
}

// exact returns true if the given components matches the archetype's exactly.
func (a *Archetype) exact(components bitmap.Bitmap) bool {
	if len(a.ids) != components.Count() {
		return false
	}
	return a.contains(components)
}

// contains returns true if the archetype contains all of the components in the given components.
func (a *Archetype) contains(components bitmap.Bitmap) bool {
	return containsAll(a.components, components)
}

// intersects returns true if the archetype contains at least one of the given components.
func (a *Archetype) intersects(components bitmap.Bitmap) bool {
	return overlaps(components, a.components)
}

// -------------------------------------------------------------------------------------------------
// Row operations
// -------------------------------------------------------------------------------------------------

// allocateRow appends a zero-valued row for the entity, opening a new chunk when the last one is
// full.
func (a *Archetype) allocateRow(e Entity) (*Chunk, int) {
	if len(a.chunks) == 0 || a.chunks[len(a.chunks)-1].full() {
		a.chunks = append(a.chunks, newChunk(a))
	}
	chunk := a.chunks[len(a.chunks)-1]
	row := chunk.push(e)
	a.count++
	return chunk, row
}

// freeRow removes a row by moving the archetype's last row (last row of the last chunk) into it.
// It returns the entity that was moved so the caller can update its location; ok is false when the
// freed row was the last row and nothing moved. Trailing empty chunks are released.
func (a *Archetype) freeRow(chunk *Chunk, row int) (Entity, bool) {
	assert.That(chunk.arch == a, "chunk doesn't belong to archetype")
	assert.That(row < chunk.Len(), "row %d out of range", row)

	last := a.chunks[len(a.chunks)-1]
	lastRow := last.Len() - 1

	var moved Entity
	ok := false
	if last != chunk || lastRow != row {
		chunk.copyRow(row, last, lastRow)
		moved, ok = chunk.entities[row], true
	}
	last.pop()
	a.count--

	if last.Len() == 0 {
		a.chunks[len(a.chunks)-1] = nil
		a.chunks = a.chunks[:len(a.chunks)-1]
	}
	return moved, ok
}
