package ecs

import "github.com/argus-labs/archecs/pkg/assert"

// Chunk is a fixed-capacity block of rows belonging to one archetype. Row i of every column holds
// the component data of entities[i]. Rows are not stable across structural changes.
type Chunk struct {
	arch     *Archetype
	entities []Entity
	columns  []abstractColumn // Same order as the archetype's component IDs
}

// newChunk creates an empty chunk with one column per component of the archetype.
func newChunk(arch *Archetype) *Chunk {
	columns := make([]abstractColumn, len(arch.factories))
	for i, factory := range arch.factories {
		columns[i] = factory(arch.capacity)
	}
	return &Chunk{
		arch:     arch,
		entities: make([]Entity, 0, arch.capacity),
		columns:  columns,
	}
}

// Len returns the number of occupied rows.
func (c *Chunk) Len() int {
	return len(c.entities)
}

// Capacity returns the maximum number of rows.
func (c *Chunk) Capacity() int {
	return cap(c.entities)
}

// Entities returns the entities stored in the chunk, indexed by row. The slice must not be modified.
func (c *Chunk) Entities() []Entity {
	return c.entities
}

// Archetype returns the archetype the chunk belongs to.
func (c *Chunk) Archetype() *Archetype {
	return c.arch
}

// Has reports whether the chunk stores the component.
func (c *Chunk) Has(id ComponentID) bool {
	return c.arch.Has(id)
}

// column returns the column of a component, or nil if the chunk doesn't store it.
func (c *Chunk) column(id ComponentID) abstractColumn {
	idx := c.arch.columnIndex(id)
	if idx < 0 {
		return nil
	}
	return c.columns[idx]
}

func (c *Chunk) full() bool {
	return len(c.entities) == cap(c.entities)
}

// push appends a zero-valued row for the entity and returns its index.
func (c *Chunk) push(e Entity) int {
	assert.That(!c.full(), "push on a full chunk")

	c.entities = append(c.entities, e)
	for _, col := range c.columns {
		col.extend()
		assert.That(col.len() == len(c.entities), "column %s length doesn't match entities", col.name())
	}
	return len(c.entities) - 1
}

// pop removes the last row.
func (c *Chunk) pop() {
	last := len(c.entities) - 1
	assert.That(last >= 0, "pop on an empty chunk")

	c.entities[last] = Entity{}
	c.entities = c.entities[:last]
	for _, col := range c.columns {
		col.pop()
	}
}

// copyRow overwrites dstRow with the contents of src[srcRow]. Both chunks must belong to the same
// archetype.
func (c *Chunk) copyRow(dstRow int, src *Chunk, srcRow int) {
	assert.That(c.arch == src.arch, "copyRow across archetypes")

	c.entities[dstRow] = src.entities[srcRow]
	for i, col := range c.columns {
		col.copyRow(dstRow, src.columns[i], srcRow)
	}
}
