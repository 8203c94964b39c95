package ecs

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argus-labs/archecs/pkg/statsd"
	"github.com/rotisserie/eris"
)

type commandKind uint8

const (
	cmdSpawn commandKind = iota
	cmdAdd
	cmdSet
	cmdRemove
	cmdDestroy
)

func (k commandKind) String() string {
	switch k {
	case cmdSpawn:
		return "spawn"
	case cmdAdd:
		return "add"
	case cmdSet:
		return "set"
	case cmdRemove:
		return "remove"
	case cmdDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// command is a recorded structural change.
type command struct {
	seq        uint64 // Global recording order
	kind       commandKind
	entity     Entity
	id         ComponentID
	value      Component   // Add/set value, nil adds the zero value
	components []Component // Spawn values
}

type commandShard struct {
	mu  sync.Mutex // Only used by the shared writer
	ops []command
}

// CommandBuffer records structural changes from jobs and replays them on the goroutine that owns the
// world. Each worker records into its own shard without locking, other goroutines use the shared,
// mutex-guarded shard. Every record takes a number from a global counter and playback applies the
// merged records in that order, so operations on the same entity replay in recording order.
type CommandBuffer struct {
	world   *World
	seq     atomic.Uint64
	shards  []commandShard  // One per worker, then the shared shard
	writers []CommandWriter // Writer i records into shards[i]
}

// NewCommandBuffer creates an empty command buffer for the world.
func (w *World) NewCommandBuffer() *CommandBuffer {
	n := w.scheduler.Workers() + 1
	cb := &CommandBuffer{
		world:   w,
		shards:  make([]commandShard, n),
		writers: make([]CommandWriter, n),
	}
	for i := range cb.writers {
		cb.writers[i] = CommandWriter{buffer: cb, shard: &cb.shards[i], locked: i == n-1}
	}
	return cb
}

// Writer returns the writer of the worker running jc. It must only be used inside that job call.
func (cb *CommandBuffer) Writer(jc *JobContext) *CommandWriter {
	return &cb.writers[jc.workerID]
}

// Shared returns a writer that is safe for concurrent use from any goroutine.
func (cb *CommandBuffer) Shared() *CommandWriter {
	return &cb.writers[len(cb.writers)-1]
}

// Len returns the number of recorded commands. Only call it when no job is recording.
func (cb *CommandBuffer) Len() int {
	n := 0
	for i := range cb.shards {
		n += len(cb.shards[i].ops)
	}
	return n
}

// CommandWriter appends commands to one shard of a CommandBuffer.
type CommandWriter struct {
	buffer *CommandBuffer
	shard  *commandShard
	locked bool
}

func (cw *CommandWriter) record(cmd command) {
	cmd.seq = cw.buffer.seq.Add(1)
	if cw.locked {
		cw.shard.mu.Lock()
		defer cw.shard.mu.Unlock()
	}
	cw.shard.ops = append(cw.shard.ops, cmd)
}

// RecordSpawn records the creation of an entity with the given component values.
func (cw *CommandWriter) RecordSpawn(components ...Component) {
	cw.record(command{kind: cmdSpawn, components: slices.Clone(components)})
}

// RecordAddComponent records adding a zero-valued component.
func (cw *CommandWriter) RecordAddComponent(e Entity, id ComponentID) {
	cw.record(command{kind: cmdAdd, entity: e, id: id})
}

// RecordRemoveComponent records removing a component.
func (cw *CommandWriter) RecordRemoveComponent(e Entity, id ComponentID) {
	cw.record(command{kind: cmdRemove, entity: e, id: id})
}

// RecordDestroy records destroying an entity.
func (cw *CommandWriter) RecordDestroy(e Entity) {
	cw.record(command{kind: cmdDestroy, entity: e})
}

// RecordAdd records adding component T with a value. If the entity already has T when the buffer is
// played back, the value is overwritten.
func RecordAdd[T Component](cw *CommandWriter, e Entity, component T) error {
	id, err := ComponentIDOf[T](cw.buffer.world)
	if err != nil {
		return err
	}
	cw.record(command{kind: cmdAdd, entity: e, id: id, value: component})
	return nil
}

// RecordSet records overwriting component T.
func RecordSet[T Component](cw *CommandWriter, e Entity, component T) error {
	id, err := ComponentIDOf[T](cw.buffer.world)
	if err != nil {
		return err
	}
	cw.record(command{kind: cmdSet, entity: e, id: id, value: component})
	return nil
}

// RecordRemove records removing component T.
func RecordRemove[T Component](cw *CommandWriter, e Entity) error {
	id, err := ComponentIDOf[T](cw.buffer.world)
	if err != nil {
		return err
	}
	cw.record(command{kind: cmdRemove, entity: e, id: id})
	return nil
}

// -------------------------------------------------------------------------------------------------
// Playback
// -------------------------------------------------------------------------------------------------

// PlaybackResult summarizes a playback.
type PlaybackResult struct {
	Applied int      // Commands applied
	Skipped int      // Commands targeting stale entities or already satisfied
	Created []Entity // Entities created by spawn commands, in recording order
}

// Playback applies every recorded command sequentially on the calling goroutine, in recording
// order, then empties the buffer. Commands on entities that are stale by the time they're applied,
// removals of missing components and zero-value adds of present components are skipped. Any other
// error stops the playback and the remaining commands are dropped.
func (cb *CommandBuffer) Playback() (PlaybackResult, error) {
	start := time.Now()
	defer statsd.EmitTickStat(start, "playback")

	ops := cb.drain()
	result := PlaybackResult{}
	logger := cb.world.Logger()

	for i, op := range ops {
		err := cb.apply(op, &result)
		switch {
		case err == nil:
			result.Applied++
		case eris.Is(err, ErrStaleEntity), eris.Is(err, ErrComponentNotFound), eris.Is(err, ErrComponentExists):
			result.Skipped++
			logger.Debug().Err(err).Str("command", op.kind.String()).Stringer("entity", op.entity).
				Msg("skipped command")
		default:
			return result, eris.Wrapf(err, "failed to play back %s command %d of %d", op.kind, i+1, len(ops))
		}
	}

	if len(ops) > 0 {
		logger.Debug().Int("applied", result.Applied).Int("skipped", result.Skipped).Msg("command buffer played back")
	}
	return result, nil
}

// drain merges the shards in recording order and empties them.
func (cb *CommandBuffer) drain() []command {
	ops := make([]command, 0, cb.Len())
	for i := range cb.shards {
		shard := &cb.shards[i]
		shard.mu.Lock()
		ops = append(ops, shard.ops...)
		clear(shard.ops)
		shard.ops = shard.ops[:0]
		shard.mu.Unlock()
	}
	slices.SortFunc(ops, func(a, b command) int { return cmp.Compare(a.seq, b.seq) })
	return ops
}

func (cb *CommandBuffer) apply(op command, result *PlaybackResult) error {
	w := cb.world
	switch op.kind {
	case cmdSpawn:
		e, err := w.Spawn(op.components...)
		if err != nil {
			return err
		}
		result.Created = append(result.Created, e)
		return nil

	case cmdAdd:
		if op.value == nil {
			return w.AddComponent(op.entity, op.id)
		}
		if w.HasComponent(op.entity, op.id) {
			return w.setAbstract(op.entity, op.id, op.value)
		}
		loc, err := w.addComponent(op.entity, op.id)
		if err != nil {
			return err
		}
		loc.chunk.column(op.id).setAbstract(loc.row, op.value)
		return nil

	case cmdSet:
		return w.setAbstract(op.entity, op.id, op.value)

	case cmdRemove:
		return w.RemoveComponent(op.entity, op.id)

	case cmdDestroy:
		return w.Destroy(op.entity)

	default:
		return eris.Errorf("unknown command kind %d", op.kind)
	}
}

// setAbstract overwrites a component of a live entity with a boxed value.
func (w *World) setAbstract(e Entity, id ComponentID, value Component) error {
	loc, err := w.entities.location(e)
	if err != nil {
		return err
	}
	col := loc.chunk.column(id)
	if col == nil {
		return eris.Wrapf(ErrComponentNotFound, "%s component %d", e, id)
	}
	col.setAbstract(loc.row, value)
	return nil
}
