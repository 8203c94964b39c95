package testutils

// Components shared by the ecs tests. Values are chosen to cover plain scalars, nested arrays, a
// string, and a zero-size tag.

type Position struct {
	X, Y float64
}

func (Position) Name() string {
	return "position"
}

type Velocity struct {
	X, Y float64
}

func (Velocity) Name() string {
	return "velocity"
}

type Health struct {
	Value int
}

func (Health) Name() string {
	return "health"
}

type Label struct {
	Text string
}

func (Label) Name() string {
	return "label"
}

type Buffer struct {
	Values  [8]int32
	Counter uint16
}

func (Buffer) Name() string {
	return "buffer"
}

// Frozen is a tag component. It carries no data.
type Frozen struct{}

func (Frozen) Name() string {
	return "frozen"
}
