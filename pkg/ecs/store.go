package ecs

import (
	"encoding/binary"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// archetypeStore owns every archetype in the world. The index is keyed by the archetype's sorted
// component IDs so exact lookups don't scan the archetype list.
type archetypeStore struct {
	components *componentManager
	archetypes []*Archetype          // Index is the archetype ID
	index      map[string]*Archetype // Component set key -> archetype
	capacity   int                   // Rows per chunk
	epoch      uint64                // Bumped every time the store is reset
	logger     *zerolog.Logger
}

// newArchetypeStore creates an empty store.
func newArchetypeStore(components *componentManager, capacity int, logger *zerolog.Logger) archetypeStore {
	return archetypeStore{
		components: components,
		archetypes: make([]*Archetype, 0),
		index:      make(map[string]*Archetype),
		capacity:   capacity,
		logger:     logger,
	}
}

// getOrCreateArchetype returns the archetype whose type set is exactly ids, creating it if needed.
// ids may be unsorted and contain duplicates.
func (s *archetypeStore) getOrCreateArchetype(ids []ComponentID) (*Archetype, error) {
	sorted := sortedIDs(ids)
	key := componentSetKey(sorted)
	if arch, ok := s.index[key]; ok {
		return arch, nil
	}

	factories := make([]columnFactory, len(sorted))
	for i, id := range sorted {
		if !s.components.registered(id) {
			return nil, eris.Wrapf(ErrUnregisteredComponentType, "component id %d", id)
		}
		factories[i] = s.components.factory(id)
	}

	arch := newArchetype(len(s.archetypes), sorted, factories, s.capacity)
	s.archetypes = append(s.archetypes, arch)
	s.index[key] = arch

	s.logger.Debug().Int("archetype", arch.id).Uints32("components", sorted).Msg("archetype created")
	return arch, nil
}

// with returns the archetype of arch plus id.
func (s *archetypeStore) with(arch *Archetype, id ComponentID) (*Archetype, error) {
	return s.getOrCreateArchetype(append(slices.Clone(arch.ids), id))
}

// without returns the archetype of arch minus id.
func (s *archetypeStore) without(arch *Archetype, id ComponentID) (*Archetype, error) {
	ids := slices.DeleteFunc(slices.Clone(arch.ids), func(x ComponentID) bool { return x == id })
	return s.getOrCreateArchetype(ids)
}

// reset drops every archetype.
func (s *archetypeStore) reset() {
	s.archetypes = make([]*Archetype, 0)
	s.index = make(map[string]*Archetype)
	s.epoch++
}

// sortedIDs returns a sorted copy of ids without duplicates.
func sortedIDs(ids []ComponentID) []ComponentID {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// componentSetKey encodes a sorted ID list as a map key.
func componentSetKey(ids []ComponentID) string {
	buf := make([]byte, 0, len(ids)*4)
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint32(buf, id)
	}
	return string(buf)
}
