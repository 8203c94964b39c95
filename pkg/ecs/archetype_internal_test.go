package ecs

import (
	"reflect"
	"testing"

	. "github.com/argus-labs/archecs/pkg/testutils"
	"github.com/kelindar/bitmap"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a store with Health, Position and Velocity registered as 0, 1 and 2.
func newTestStore(t *testing.T, capacity int) *archetypeStore {
	t.Helper()

	cm := newComponentManager()
	_, err := cm.register("health", reflect.TypeFor[Health](), newColumnFactory[Health]())
	require.NoError(t, err)
	_, err = cm.register("position", reflect.TypeFor[Position](), newColumnFactory[Position]())
	require.NoError(t, err)
	_, err = cm.register("velocity", reflect.TypeFor[Velocity](), newColumnFactory[Velocity]())
	require.NoError(t, err)

	logger := zerolog.Nop()
	store := newArchetypeStore(cm, capacity, &logger)
	return &store
}

func bitmapOf(ids ...ComponentID) bitmap.Bitmap {
	var b bitmap.Bitmap
	for _, id := range ids {
		b.Set(id)
	}
	return b
}

func TestArchetypeStore_GetOrCreate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		first   []ComponentID
		second  []ComponentID
		same    bool
		wantErr bool
	}{
		{name: "exact match", first: []ComponentID{0, 1}, second: []ComponentID{0, 1}, same: true},
		{name: "different order same components", first: []ComponentID{1, 0}, second: []ComponentID{0, 1}, same: true},
		{name: "duplicates are ignored", first: []ComponentID{2, 2, 0}, second: []ComponentID{0, 2}, same: true},
		{name: "subset is a different archetype", first: []ComponentID{0, 1}, second: []ComponentID{0}},
		{name: "empty set", first: []ComponentID{}, second: nil, same: true},
		{name: "unregistered component", first: []ComponentID{0, 9}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newTestStore(t, 4)
			a, err := store.getOrCreateArchetype(tt.first)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnregisteredComponentType)
				assert.Empty(t, store.archetypes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sortedIDs(tt.first), a.Components())

			b, err := store.getOrCreateArchetype(tt.second)
			require.NoError(t, err)
			if tt.same {
				assert.Same(t, a, b)
				assert.Len(t, store.archetypes, 1)
			} else {
				assert.NotSame(t, a, b)
				assert.Len(t, store.archetypes, 2)
				assert.Equal(t, 1, b.ID())
			}
			assert.True(t, a.exact(bitmapOf(tt.first...)))
		})
	}
}

func TestArchetypeStore_WithWithout(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 4)
	base, err := store.getOrCreateArchetype([]ComponentID{0})
	require.NoError(t, err)

	more, err := store.with(base, 2)
	require.NoError(t, err)
	assert.Equal(t, []ComponentID{0, 2}, more.Components())

	back, err := store.without(more, 2)
	require.NoError(t, err)
	assert.Same(t, base, back)

	// Property: the source archetype's ID list is not modified.
	assert.Equal(t, []ComponentID{0}, base.ids)
}

func TestArchetype_Filters(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 4)
	arch, err := store.getOrCreateArchetype([]ComponentID{0, 2})
	require.NoError(t, err)

	tests := []struct {
		name       string
		components bitmap.Bitmap
		exact      bool
		contains   bool
		intersects bool
	}{
		{name: "same set", components: bitmapOf(0, 2), exact: true, contains: true, intersects: true},
		{name: "subset", components: bitmapOf(2), contains: true, intersects: true},
		{name: "superset", components: bitmapOf(0, 1, 2), intersects: true},
		{name: "disjoint", components: bitmapOf(1)},
		{name: "empty", components: bitmapOf(), contains: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.exact, arch.exact(tt.components))
			assert.Equal(t, tt.contains, arch.contains(tt.components))
			assert.Equal(t, tt.intersects, arch.intersects(tt.components))
		})
	}

	assert.True(t, arch.Has(0))
	assert.False(t, arch.Has(1))
	assert.False(t, arch.Has(1000))

	// An archetype without components only contains the empty set.
	bare, err := store.getOrCreateArchetype(nil)
	require.NoError(t, err)
	assert.True(t, bare.exact(bitmapOf()))
	assert.False(t, bare.contains(bitmapOf(1)))
	assert.False(t, bare.intersects(bitmapOf(0, 2)))
}

// -------------------------------------------------------------------------------------------------
// Model-based fuzzing row allocation
// -------------------------------------------------------------------------------------------------
// The model is a flat slice of (entity, health) rows where free swaps in the last element. The
// archetype must hold the same rows in the same order once its chunks are concatenated, and report
// the moved entity the same way the model does.
// -------------------------------------------------------------------------------------------------

func TestArchetype_RowModelFuzz(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)

	const (
		opsMax   = 1 << 14 // 16_384 iterations
		capacity = 5
	)

	type row struct {
		entity Entity
		health Health
	}

	store := newTestStore(t, capacity)
	arch, err := store.getOrCreateArchetype([]ComponentID{0, 1})
	require.NoError(t, err)

	var model []row
	next := uint32(1)

	locate := func(i int) (*Chunk, int) {
		return arch.chunks[i/capacity], i % capacity
	}

	for range opsMax {
		op := RandWeightedOp(prng, rowOps)
		switch op {
		case r_allocate:
			e := Entity{Index: next, Generation: 1}
			next++
			chunk, r := arch.allocateRow(e)
			hp := Health{Value: prng.Int()}
			chunk.column(0).setAbstract(r, hp)
			model = append(model, row{entity: e, health: hp})

			// Property: rows are appended to the last chunk.
			assert.Same(t, arch.chunks[len(arch.chunks)-1], chunk)
			assert.Equal(t, Position{}, chunk.column(1).getAbstract(r), "new rows must be zero")

		case r_free:
			if len(model) == 0 {
				continue
			}
			i := prng.IntN(len(model))
			chunk, r := locate(i)
			moved, ok := arch.freeRow(chunk, r)

			last := len(model) - 1
			if i == last {
				// Property: freeing the last row moves nothing.
				assert.False(t, ok)
			} else {
				// Property: the archetype's last row is swapped into the freed one.
				require.True(t, ok)
				assert.Equal(t, model[last].entity, moved)
				model[i] = model[last]
			}
			model = model[:last]

		case r_check:
			if len(model) == 0 {
				continue
			}
			i := prng.IntN(len(model))
			chunk, r := locate(i)
			assert.Equal(t, model[i].entity, chunk.entities[r])
			assert.Equal(t, model[i].health, chunk.column(0).getAbstract(r))

		default:
			panic("unreachable")
		}

		// Property: chunk count is the minimum needed for the rows.
		require.Equal(t, (len(model)+capacity-1)/capacity, arch.ChunkCount())
		require.Equal(t, len(model), arch.Len())
	}

	for i, want := range model {
		chunk, r := locate(i)
		assert.Equal(t, want.entity, chunk.entities[r], "row %d entity mismatch", i)
		assert.Equal(t, want.health, chunk.column(0).getAbstract(r), "row %d health mismatch", i)
	}
}

type rowOp uint8

const (
	r_allocate rowOp = 45
	r_free     rowOp = 35
	r_check    rowOp = 20
)

var rowOps = []rowOp{r_allocate, r_free, r_check}

func TestChunk_Accessors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 2)
	arch, err := store.getOrCreateArchetype([]ComponentID{2})
	require.NoError(t, err)

	chunk, _ := arch.allocateRow(Entity{Index: 1, Generation: 1})
	assert.Equal(t, 1, chunk.Len())
	assert.Equal(t, 2, chunk.Capacity())
	assert.Same(t, arch, chunk.Archetype())
	assert.True(t, chunk.Has(2))
	assert.False(t, chunk.Has(0))
	assert.Nil(t, chunk.column(0))
	assert.Equal(t, []Entity{{Index: 1, Generation: 1}}, chunk.Entities())

	arch.allocateRow(Entity{Index: 2, Generation: 1})
	assert.True(t, chunk.full())
	other, _ := arch.allocateRow(Entity{Index: 3, Generation: 1})
	assert.NotSame(t, chunk, other)
	assert.Equal(t, 2, arch.ChunkCount())
}
