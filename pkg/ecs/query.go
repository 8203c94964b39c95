package ecs

import (
	"iter"
	"sync"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// QueryDesc is a component filter. A matching archetype has every All type, at least one Any type
// when Any is not empty, and no None type.
type QueryDesc struct {
	All  []ComponentID
	Any  []ComponentID
	None []ComponentID
}

// Query resolves a QueryDesc to archetypes and chunks lazily. Archetypes are immutable and never
// deleted, so the matched list only ever grows: each evaluation tests the archetypes created since
// the previous one.
type Query struct {
	world *World
	all   bitmap.Bitmap
	any   bitmap.Bitmap
	none  bitmap.Bitmap

	mu      sync.Mutex
	matched []*Archetype
	checked int    // Number of store archetypes already tested
	epoch   uint64 // Store epoch the matched list was built against
}

// Query creates a query over the world. Every referenced component must be registered.
func (w *World) Query(desc QueryDesc) (*Query, error) {
	q := &Query{world: w, epoch: w.store.epoch}

	sets := []struct {
		ids []ComponentID
		dst *bitmap.Bitmap
	}{
		{desc.All, &q.all},
		{desc.Any, &q.any},
		{desc.None, &q.none},
	}
	for _, set := range sets {
		for _, id := range set.ids {
			if !w.components.registered(id) {
				return nil, eris.Wrapf(ErrUnregisteredComponentType, "query component id %d", id)
			}
			set.dst.Set(id)
		}
	}
	return q, nil
}

// Matches reports whether the archetype passes the query filter.
func (q *Query) Matches(arch *Archetype) bool {
	if !arch.contains(q.all) {
		return false
	}
	if q.any.Count() > 0 && !arch.intersects(q.any) {
		return false
	}
	return !arch.intersects(q.none)
}

// Archetypes evaluates the query and returns the matching archetypes in creation order.
func (q *Query) Archetypes() []*Archetype {
	q.mu.Lock()
	defer q.mu.Unlock()

	store := &q.world.store
	if q.epoch != store.epoch { // The store was reset by a snapshot restore
		q.matched = q.matched[:0]
		q.checked = 0
		q.epoch = store.epoch
	}
	archetypes := store.archetypes
	for _, arch := range archetypes[q.checked:] {
		if q.Matches(arch) {
			q.matched = append(q.matched, arch)
		}
	}
	q.checked = len(archetypes)

	out := make([]*Archetype, len(q.matched))
	copy(out, q.matched)
	return out
}

// Chunks returns a lazy, restartable sequence of the non-empty chunks of every matching archetype.
// The archetype list is re-evaluated each time the sequence is ranged over. While the range loop
// runs, structural changes on the world fail with ErrConcurrentStructuralChange.
func (q *Query) Chunks() iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		q.world.iterating.Add(1)
		defer q.world.iterating.Add(-1)

		for _, arch := range q.Archetypes() {
			for _, chunk := range arch.chunks {
				if chunk.Len() == 0 {
					continue
				}
				if !yield(chunk) {
					return
				}
			}
		}
	}
}

// Entities returns a lazy sequence of every entity matched by the query.
func (q *Query) Entities() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for chunk := range q.Chunks() {
			for _, e := range chunk.entities {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Count returns the number of entities matched by the query.
func (q *Query) Count() int {
	count := 0
	for _, arch := range q.Archetypes() {
		count += arch.count
	}
	return count
}

// chunks resolves the query to its current chunk list without locking the world.
func (q *Query) chunks() []*Chunk {
	var chunks []*Chunk
	for _, arch := range q.Archetypes() {
		for _, chunk := range arch.chunks {
			if chunk.Len() > 0 {
				chunks = append(chunks, chunk)
			}
		}
	}
	return chunks
}
