package ecs

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// worldSnapshot is the serialized form of the world state. Components, systems and the scheduler
// are recreated on startup, only entities and component data are stored.
type worldSnapshot struct {
	Tick       uint64              `json:"tick"`
	Slots      []slotSnapshot      `json:"slots"`
	Free       []uint32            `json:"free"`
	Archetypes []archetypeSnapshot `json:"archetypes"`
}

type slotSnapshot struct {
	Generation uint32 `json:"generation"`
	Alive      bool   `json:"alive"`
}

type archetypeSnapshot struct {
	Components []string            `json:"components"`
	Entities   []Entity            `json:"entities"`
	Columns    [][]json.RawMessage `json:"columns"` // Component -> row -> value
}

// Serialize converts the world state to JSON. It fails if jobs are still running.
func (w *World) Serialize() ([]byte, error) {
	if w.scheduler.pending() > 0 {
		return nil, eris.Wrap(ErrConcurrentStructuralChange, "cannot serialize while jobs are running")
	}

	snap := worldSnapshot{
		Tick:       w.tick,
		Slots:      make([]slotSnapshot, len(w.entities.slots)),
		Free:       w.entities.free,
		Archetypes: make([]archetypeSnapshot, len(w.store.archetypes)),
	}
	for i, slot := range w.entities.slots {
		snap.Slots[i] = slotSnapshot{Generation: slot.generation, Alive: slot.alive}
	}

	for i, arch := range w.store.archetypes {
		as := archetypeSnapshot{
			Components: make([]string, len(arch.ids)),
			Entities:   make([]Entity, 0, arch.count),
			Columns:    make([][]json.RawMessage, len(arch.ids)),
		}
		for j, id := range arch.ids {
			info, err := w.components.info(id)
			if err != nil {
				return nil, err
			}
			as.Components[j] = info.Name
			as.Columns[j] = make([]json.RawMessage, 0, arch.count)
		}

		for _, chunk := range arch.chunks {
			as.Entities = append(as.Entities, chunk.entities...)
			for j, col := range chunk.columns {
				for row := range chunk.Len() {
					data, err := col.encodeRow(row)
					if err != nil {
						return nil, eris.Wrapf(err, "failed to serialize archetype %d", i)
					}
					as.Columns[j] = append(as.Columns[j], data)
				}
			}
		}
		snap.Archetypes[i] = as
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal snapshot")
	}
	return data, nil
}

// Deserialize replaces the world state with a snapshot produced by Serialize. Every component in the
// snapshot must be registered. The snapshot is decoded into a fresh store, so on error the world is
// left unchanged. Systems are not touched: Init still runs OnCreate if it hasn't yet.
func (w *World) Deserialize(data []byte) error {
	if err := w.checkStructuralChange(w.store.archetypes...); err != nil {
		return err
	}
	if w.scheduler.pending() > 0 {
		return eris.Wrap(ErrConcurrentStructuralChange, "cannot deserialize while jobs are running")
	}

	var snap worldSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return eris.Wrap(err, "failed to unmarshal snapshot")
	}

	archIDs, err := w.validateSnapshot(&snap)
	if err != nil {
		return eris.Wrap(err, "invalid snapshot")
	}

	store := newArchetypeStore(w.components, w.store.capacity, w.store.logger)
	store.epoch = w.store.epoch + 1
	entities := newEntityManager()
	for _, slot := range snap.Slots {
		entities.slots = append(entities.slots, entitySlot{generation: slot.Generation, alive: slot.Alive})
		if slot.Alive {
			entities.alive++
		}
	}
	entities.free = append(entities.free, snap.Free...)

	for i, as := range snap.Archetypes {
		arch, err := store.getOrCreateArchetype(archIDs[i])
		if err != nil {
			return eris.Wrapf(err, "failed to restore archetype %d", i)
		}
		for r, e := range as.Entities {
			chunk, row := arch.allocateRow(e)
			for j, id := range archIDs[i] {
				col := chunk.columns[arch.columnIndex(id)]
				if err := col.decodeRow(row, as.Columns[j][r]); err != nil {
					return eris.Wrapf(err, "failed to restore archetype %d", i)
				}
			}
			entities.setLocation(e, entityLocation{arch: arch, chunk: chunk, row: row})
		}
	}

	w.store = store
	w.entities = entities
	w.tick = snap.Tick
	return nil
}

// validateSnapshot checks the snapshot is consistent and resolves component names to IDs.
func (w *World) validateSnapshot(snap *worldSnapshot) ([][]ComponentID, error) {
	placed := make([]bool, len(snap.Slots))
	archIDs := make([][]ComponentID, len(snap.Archetypes))
	seen := make(map[string]struct{}, len(snap.Archetypes))

	for i, as := range snap.Archetypes {
		if len(as.Columns) != len(as.Components) {
			return nil, eris.Errorf("archetype %d has %d columns for %d components", i, len(as.Columns), len(as.Components))
		}

		ids := make([]ComponentID, len(as.Components))
		for j, name := range as.Components {
			id, err := w.components.getID(name)
			if err != nil {
				return nil, err
			}
			ids[j] = id
			if len(as.Columns[j]) != len(as.Entities) {
				return nil, eris.Errorf("archetype %d column %s has %d rows for %d entities",
					i, name, len(as.Columns[j]), len(as.Entities))
			}
		}
		archIDs[i] = ids

		sorted := sortedIDs(ids)
		if len(sorted) != len(ids) {
			return nil, eris.Errorf("archetype %d has duplicated components", i)
		}
		key := componentSetKey(sorted)
		if _, ok := seen[key]; ok {
			return nil, eris.Errorf("archetype %d is duplicated", i)
		}
		seen[key] = struct{}{}

		for _, e := range as.Entities {
			if int(e.Index) >= len(snap.Slots) {
				return nil, eris.Errorf("%s is out of range", e)
			}
			slot := snap.Slots[e.Index]
			if !slot.Alive || slot.Generation != e.Generation || placed[e.Index] {
				return nil, eris.Errorf("%s doesn't match its slot", e)
			}
			placed[e.Index] = true
		}
	}

	for i, slot := range snap.Slots {
		if slot.Alive != placed[i] {
			return nil, eris.Errorf("slot %d alive=%t but placed=%t", i, slot.Alive, placed[i])
		}
	}
	freed := make([]bool, len(snap.Slots))
	for _, index := range snap.Free {
		if int(index) >= len(snap.Slots) || snap.Slots[index].Alive {
			return nil, eris.Errorf("free index %d is invalid", index)
		}
		if freed[index] {
			return nil, eris.Errorf("free index %d is listed twice", index)
		}
		freed[index] = true
	}
	return archIDs, nil
}
