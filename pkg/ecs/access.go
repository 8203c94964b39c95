package ecs

import (
	"bytes"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// Access declares the component types a job reads and writes. Writing a type implies reading it.
// The zero value declares nothing.
type Access struct {
	read  bitmap.Bitmap
	write bitmap.Bitmap
}

// Read returns a copy of the access that also reads the given components.
func (a Access) Read(ids ...ComponentID) Access {
	a.read = a.read.Clone(nil)
	for _, id := range ids {
		a.read.Set(id)
	}
	return a
}

// Write returns a copy of the access that also writes the given components.
func (a Access) Write(ids ...ComponentID) Access {
	a.write = a.write.Clone(nil)
	for _, id := range ids {
		a.write.Set(id)
	}
	return a
}

// CanRead reports whether the component was declared as read or written.
func (a Access) CanRead(id ComponentID) bool {
	return a.read.Contains(id) || a.write.Contains(id)
}

// CanWrite reports whether the component was declared as written.
func (a Access) CanWrite(id ComponentID) bool {
	return a.write.Contains(id)
}

// Conflicts reports whether two jobs with these accesses must not run concurrently: one of them
// writes a type the other reads or writes.
func (a Access) Conflicts(b Access) bool {
	return overlaps(a.write, b.read) || overlaps(a.write, b.write) || overlaps(b.write, a.read)
}

// touched returns every component that is read or written, in ascending order.
func (a Access) touched() []ComponentID {
	all := a.read.Clone(nil)
	a.write.Range(func(x uint32) {
		all.Set(x)
	})
	return toIDs(all)
}

// writes returns the written components in ascending order.
func (a Access) writes() []ComponentID {
	return toIDs(a.write)
}

// readOnly returns the components that are read but not written, in ascending order.
func (a Access) readOnly() []ComponentID {
	ids := make([]ComponentID, 0, a.read.Count())
	a.read.Range(func(x uint32) {
		if !a.write.Contains(x) {
			ids = append(ids, x)
		}
	})
	return ids
}

// Bitmap Or/And/AndNot index the operand's first word and panic when it is empty. The helpers
// below only use Range and Contains.

// overlaps reports whether x and y share at least one bit.
func overlaps(x, y bitmap.Bitmap) bool {
	found := false
	x.Range(func(v uint32) {
		if !found && y.Contains(v) {
			found = true
		}
	})
	return found
}

// containsAll reports whether every bit of sub is set in set.
func containsAll(set, sub bitmap.Bitmap) bool {
	all := true
	sub.Range(func(v uint32) {
		if all && !set.Contains(v) {
			all = false
		}
	})
	return all
}

func toIDs(b bitmap.Bitmap) []ComponentID {
	ids := make([]ComponentID, 0, b.Count())
	b.Range(func(x uint32) {
		ids = append(ids, x)
	})
	return ids
}

// -------------------------------------------------------------------------------------------------
// Column access
// -------------------------------------------------------------------------------------------------

// ReadColumn returns the chunk's T values, indexed by row. The job must have declared T as read or
// written. The slice aliases chunk memory and must not be written to; checked builds fail the job
// with ErrAccessViolation if a read-only column changed while it ran. Returns nil if the chunk
// doesn't store T.
func ReadColumn[T Component](jc *JobContext, c *Chunk) []T {
	id := mustComponentID[T](jc.world)
	if accessChecks && !jc.job.access.CanRead(id) {
		var zero T
		panic(eris.Wrapf(ErrAccessViolation, "job %s reads undeclared component %s", jc.job.name, zero.Name()))
	}
	return columnSlice[T](c, id)
}

// WriteColumn returns the chunk's T values for in-place updates. The job must have declared T as
// written. Returns nil if the chunk doesn't store T.
func WriteColumn[T Component](jc *JobContext, c *Chunk) []T {
	id := mustComponentID[T](jc.world)
	if accessChecks && !jc.job.access.CanWrite(id) {
		var zero T
		panic(eris.Wrapf(ErrAccessViolation, "job %s writes undeclared component %s", jc.job.name, zero.Name()))
	}
	return columnSlice[T](c, id)
}

// Column returns the chunk's T values without access checks. Use it on the goroutine that owns the
// world, outside of jobs. Returns nil if T is unregistered or not stored in the chunk.
func Column[T Component](w *World, c *Chunk) []T {
	id, err := ComponentIDOf[T](w)
	if err != nil {
		return nil
	}
	return columnSlice[T](c, id)
}

// readGuard is a copy of a read-only column taken before a job runs on a chunk.
type readGuard struct {
	col    abstractColumn
	before []byte
}

// guardReadOnly copies every column of the chunk the access declares as read but not written.
func guardReadOnly(a Access, c *Chunk) []readGuard {
	var guards []readGuard
	for _, id := range a.readOnly() {
		if col := c.column(id); col != nil {
			guards = append(guards, readGuard{col: col, before: bytes.Clone(col.rawBytes())})
		}
	}
	return guards
}

// verifyReadOnly fails if a guarded column no longer matches its copy.
func (jc *JobContext) verifyReadOnly(guards []readGuard) error {
	for _, g := range guards {
		if !bytes.Equal(g.before, g.col.rawBytes()) {
			return eris.Wrapf(ErrAccessViolation, "job %s wrote read-only component %s", jc.job.name, g.col.name())
		}
	}
	return nil
}

func columnSlice[T Component](c *Chunk, id ComponentID) []T {
	col := c.column(id)
	if col == nil {
		return nil
	}
	return col.(*column[T]).components //nolint:errcheck // type is guaranteed by id
}

func mustComponentID[T Component](w *World) ComponentID {
	id, err := ComponentIDOf[T](w)
	if err != nil {
		panic(err)
	}
	return id
}
