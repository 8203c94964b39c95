package ecs

import (
	"unsafe"

	"github.com/argus-labs/archecs/pkg/assert"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// columnFactory creates an empty column able to hold capacity rows.
type columnFactory func(capacity int) abstractColumn

// abstractColumn is an internal interface for generic column operations.
type abstractColumn interface {
	len() int
	name() string
	extend()
	pop()

	setAbstract(row int, component Component)
	getAbstract(row int) Component
	copyRow(dstRow int, src abstractColumn, srcRow int)

	rawBytes() []byte

	encodeRow(row int) (json.RawMessage, error)
	decodeRow(row int, data json.RawMessage) error
}

var _ abstractColumn = &column[Component]{}

// column stores the component data of the entities in a chunk. The length of the components slice
// always matches the number of entities in the chunk, and its capacity is fixed to the chunk
// capacity so the backing array never moves while the chunk is alive.
type column[T Component] struct {
	compName   string // The name of the component stored in this column
	components []T    // Array containing the component data
}

// newColumn creates a new column with the specified type.
func newColumn[T Component](capacity int) column[T] {
	var zero T
	return column[T]{
		compName:   zero.Name(),
		components: make([]T, 0, capacity),
	}
}

// newColumnFactory returns a function that constructs a new column of type T.
func newColumnFactory[T Component]() columnFactory {
	return func(capacity int) abstractColumn {
		col := newColumn[T](capacity)
		return &col
	}
}

// len returns the length of the components slice.
func (c *column[T]) len() int {
	return len(c.components)
}

// name returns the name of the component type.
func (c *column[T]) name() string {
	return c.compName
}

// extend adds a new row initialized with the zero value.
func (c *column[T]) extend() {
	assert.That(len(c.components) < cap(c.components), "column %s is full", c.compName)

	var zero T
	c.components = append(c.components, zero)
}

// rawBytes returns the memory of the occupied rows. It aliases the column.
func (c *column[T]) rawBytes() []byte {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(c.components) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&c.components[0])), size*len(c.components))
}

// pop drops the last row. The slot is zeroed so the chunk doesn't keep references alive.
func (c *column[T]) pop() {
	assert.That(len(c.components) > 0, "pop on empty column %s", c.compName)

	var zero T
	last := len(c.components) - 1
	c.components[last] = zero
	c.components = c.components[:last]
}

// set sets the component in a given row. Whenever possible prefer this method over setAbstract since
// it avoids the type assertion and avoids boxing the component data, which does allocations.
func (c *column[T]) set(row int, component T) {
	assert.That(row < len(c.components), "row %d out of range in column %s", row, c.compName)
	c.components[row] = component
}

// setAbstract sets the component in a given row. Use this method only when you don't know the
// concrete type of the component.
func (c *column[T]) setAbstract(row int, component Component) {
	concrete, ok := component.(T)
	assert.That(ok, "tried to set the wrong component type")
	c.set(row, concrete)
}

// get gets the value from a given row. Expects the caller to make sure the row is inside the column.
func (c *column[T]) get(row int) T {
	assert.That(row < len(c.components), "row %d out of range in column %s", row, c.compName)
	return c.components[row]
}

// getAbstract gets the value from a given row, boxed as a Component.
func (c *column[T]) getAbstract(row int) Component {
	return c.get(row)
}

// copyRow copies src[srcRow] into dstRow. Both columns must store the same component type.
func (c *column[T]) copyRow(dstRow int, src abstractColumn, srcRow int) {
	typed, ok := src.(*column[T])
	assert.That(ok, "copying between columns %s and %s", c.compName, src.name())
	c.components[dstRow] = typed.components[srcRow]
}

// encodeRow serializes a single row to JSON.
func (c *column[T]) encodeRow(row int) (json.RawMessage, error) {
	data, err := json.Marshal(c.get(row))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to serialize %s at row %d", c.compName, row)
	}
	return data, nil
}

// decodeRow deserializes a single row from JSON into an existing row.
func (c *column[T]) decodeRow(row int, data json.RawMessage) error {
	var component T
	if err := json.Unmarshal(data, &component); err != nil {
		return eris.Wrapf(err, "failed to deserialize %s at row %d", c.compName, row)
	}
	c.set(row, component)
	return nil
}
