package ecs

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/argus-labs/archecs/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnHealth(t *testing.T, w *World, n int, extra ...Component) []Entity {
	t.Helper()
	entities := make([]Entity, n)
	for i := range n {
		e, err := w.Spawn(append([]Component{Health{Value: i}}, extra...)...)
		require.NoError(t, err)
		entities[i] = e
	}
	return entities
}

func TestScheduler_Schedule_Validation(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 4)
	other, _ := newTestWorld(t, 1, 4)

	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)
	foreign, err := other.Query(QueryDesc{})
	require.NoError(t, err)

	noop := func(*JobContext, *Chunk) error { return nil }

	_, err = w.Scheduler().Schedule(Job{Query: q})
	require.Error(t, err, "nil run")
	_, err = w.Scheduler().Schedule(Job{Run: noop})
	require.Error(t, err, "nil query")
	_, err = w.Scheduler().Schedule(Job{Query: foreign, Run: noop})
	require.Error(t, err, "foreign query")

	require.Error(t, w.Scheduler().Complete(JobHandle{}))
}

func TestScheduler_RunsEveryChunk(t *testing.T) {
	t.Parallel()

	const (
		workers  = 4
		entities = 1000
	)

	w, ids := newTestWorld(t, workers, 16)
	spawnHealth(t, w, entities/2)
	spawnHealth(t, w, entities/2, Label{})

	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)

	var chunks atomic.Int32
	var badWorker atomic.Bool
	h, err := w.Scheduler().Schedule(Job{
		Name:   "increment",
		Query:  q,
		Access: Access{}.Write(ids.health),
		Run: func(jc *JobContext, c *Chunk) error {
			chunks.Add(1)
			if jc.WorkerID() < 0 || jc.WorkerID() >= workers {
				badWorker.Store(true)
			}
			health := WriteColumn[Health](jc, c)
			for i := range health {
				health[i].Value += 1000
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Scheduler().Complete(h))
	assert.True(t, h.Done())
	assert.NotZero(t, h.ID())

	// Property: the job ran once per non-empty chunk.
	assert.Equal(t, int32(len(q.chunks())), chunks.Load())
	assert.False(t, badWorker.Load())

	total := 0
	for e := range q.Entities() {
		hp, err := Get[Health](w, e)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, hp.Value, 1000)
		total++
	}
	assert.Equal(t, entities, total)
}

func TestScheduler_EmptyQuery(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 4)
	q, err := w.Query(QueryDesc{All: []ComponentID{ids.buffer}})
	require.NoError(t, err)

	h, err := w.Scheduler().Schedule(Job{Query: q, Run: func(*JobContext, *Chunk) error {
		return errors.New("must not run")
	}})
	require.NoError(t, err)

	// Property: a job with no chunks finishes without running.
	assert.True(t, h.Done())
	require.NoError(t, w.Scheduler().Complete(h))
}

// -------------------------------------------------------------------------------------------------
// Dependency ordering property test
// -------------------------------------------------------------------------------------------------
// Random jobs with random read/write sets are scheduled back to back. Every chunk invocation takes
// a start and an end timestamp from a shared logical clock. For every pair of jobs where the later
// one conflicts with the earlier one, all of the earlier job's chunks must end before any of the
// later job's chunks start.
// -------------------------------------------------------------------------------------------------

func TestScheduler_DependencyOrder(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)

	const (
		rounds  = 20
		jobsMax = 12
	)

	w, ids := newTestWorld(t, 4, 8)
	spawnHealth(t, w, 64, Position{}, Velocity{})

	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)
	universe := []ComponentID{ids.position, ids.velocity, ids.health}

	type span struct {
		mu    sync.Mutex
		start int64
		end   int64
	}

	for range rounds {
		var clock atomic.Int64
		n := 2 + prng.IntN(jobsMax-1)
		accesses := make([]Access, n)
		spans := make([]*span, n)

		for i := range n {
			access := Access{}.
				Read(RandSubset(prng, universe, 0.4)...).
				Write(RandSubset(prng, universe, 0.3)...)
			accesses[i] = access
			s := &span{start: -1, end: -1}
			spans[i] = s

			_, err := w.Scheduler().Schedule(Job{
				Query:  q,
				Access: access,
				Run: func(*JobContext, *Chunk) error {
					start := clock.Add(1)
					runtime.Gosched()
					end := clock.Add(1)

					s.mu.Lock()
					if s.start < 0 || start < s.start {
						s.start = start
					}
					if end > s.end {
						s.end = end
					}
					s.mu.Unlock()
					return nil
				},
			})
			require.NoError(t, err)
		}
		require.NoError(t, w.Scheduler().CompleteAll())

		for j := range n {
			for i := range j {
				if !accesses[i].Conflicts(accesses[j]) {
					continue
				}
				// Property: conflicting jobs run in scheduling order.
				assert.Less(t, spans[i].end, spans[j].start,
					"job %d must finish before job %d starts", i, j)
			}
		}
	}
}

func TestScheduler_ReadersRunConcurrently(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 64)
	spawnHealth(t, w, 4)

	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)
	require.Len(t, q.chunks(), 1)

	// Each reader waits for the other to start. If they were serialized, neither could proceed.
	started := [2]chan struct{}{make(chan struct{}), make(chan struct{})}
	handles := make([]JobHandle, 2)
	for i := range 2 {
		handles[i], err = w.Scheduler().Schedule(Job{
			Query:  q,
			Access: Access{}.Read(ids.health),
			Run: func(jc *JobContext, c *Chunk) error {
				_ = ReadColumn[Health](jc, c)
				close(started[i])
				select {
				case <-started[1-i]:
					return nil
				case <-time.After(5 * time.Second):
					return errors.New("readers did not overlap")
				}
			},
		})
		require.NoError(t, err)
	}
	for _, h := range handles {
		require.NoError(t, w.Scheduler().Complete(h))
	}
}

func TestScheduler_ReadOnlyJobs(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 4)
	spawnHealth(t, w, 10)
	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		access Access
	}{
		{name: "read only", access: Access{}.Read(ids.health)},
		{name: "no access", access: Access{}},
		{name: "read and write", access: Access{}.Read(ids.position).Write(ids.health)},
		{name: "read after write", access: Access{}.Read(ids.health)},
	}
	for _, tt := range tests {
		var rows atomic.Int32
		h, err := w.Scheduler().Schedule(Job{
			Name:   tt.name,
			Query:  q,
			Access: tt.access,
			Run: func(_ *JobContext, c *Chunk) error {
				rows.Add(int32(c.Len())) //nolint:gosec // small
				return nil
			},
		})
		require.NoError(t, err, tt.name)
		require.NoError(t, w.Scheduler().Complete(h), tt.name)
		assert.Equal(t, int32(10), rows.Load(), tt.name)
	}
	require.NoError(t, w.Scheduler().CompleteAll())
	assert.Zero(t, w.Scheduler().pending())
}

func TestScheduler_AccessViolation(t *testing.T) {
	t.Parallel()
	if !accessChecks {
		t.Skip("access checks are compiled out")
	}

	w, ids := newTestWorld(t, 2, 4)
	spawnHealth(t, w, 4, Position{})

	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		access Access
		run    JobFunc
	}{
		{
			name:   "write declared as read",
			access: Access{}.Read(ids.health),
			run: func(jc *JobContext, c *Chunk) error {
				WriteColumn[Health](jc, c)[0].Value = 1
				return nil
			},
		},
		{
			name:   "write through read column",
			access: Access{}.Read(ids.health),
			run: func(jc *JobContext, c *Chunk) error {
				ReadColumn[Health](jc, c)[0].Value = 999
				return nil
			},
		},
		{
			name:   "read undeclared",
			access: Access{}.Write(ids.health),
			run: func(jc *JobContext, c *Chunk) error {
				_ = ReadColumn[Position](jc, c)
				return nil
			},
		},
	}
	for _, tt := range tests {
		h, err := w.Scheduler().Schedule(Job{Name: tt.name, Query: q, Access: tt.access, Run: tt.run})
		require.NoError(t, err)
		err = w.Scheduler().Complete(h)
		require.ErrorIs(t, err, ErrAccessViolation, tt.name)
	}

	// Property: a reader that leaves its columns alone passes the check.
	var seen atomic.Int32
	h, err := w.Scheduler().Schedule(Job{
		Name:   "reader",
		Query:  q,
		Access: Access{}.Read(ids.health),
		Run: func(jc *JobContext, c *Chunk) error {
			seen.Add(int32(len(ReadColumn[Health](jc, c)))) //nolint:gosec // small
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Scheduler().Complete(h))
	assert.Equal(t, int32(4), seen.Load())

	// Property: write access implies read access.
	access := Access{}.Write(ids.health)
	assert.True(t, access.CanRead(ids.health))
	assert.False(t, access.CanRead(ids.position))
}

func TestScheduler_Errors(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 4)
	spawnHealth(t, w, 8)
	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)

	errBoom := errors.New("boom")
	failing := func(*JobContext, *Chunk) error { return errBoom }
	panicking := func(*JobContext, *Chunk) error { panic("kaboom") }

	// Complete returns the job's own error, and CompleteAll doesn't report it again.
	h, err := w.Scheduler().Schedule(Job{Name: "failing", Query: q, Run: failing})
	require.NoError(t, err)
	require.ErrorIs(t, w.Scheduler().Complete(h), errBoom)
	require.NoError(t, w.Scheduler().CompleteAll())

	// Unobserved errors are reported by CompleteAll.
	_, err = w.Scheduler().Schedule(Job{Name: "failing", Query: q, Run: failing})
	require.NoError(t, err)
	err = w.Scheduler().CompleteAll()
	require.ErrorIs(t, err, errBoom)
	require.NoError(t, w.Scheduler().CompleteAll())

	// Panics are recovered into job errors.
	h, err = w.Scheduler().Schedule(Job{Name: "panicking", Query: q, Run: panicking})
	require.NoError(t, err)
	err = w.Scheduler().Complete(h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// Several failed jobs are joined.
	for range 2 {
		_, err = w.Scheduler().Schedule(Job{Name: "failing", Query: q, Run: failing})
		require.NoError(t, err)
	}
	err = w.Scheduler().CompleteAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 jobs returned an error")
}

func TestScheduler_StructuralGuard(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 4)
	busy := spawnHealth(t, w, 2)
	free, err := w.Spawn(Label{Text: "free"})
	require.NoError(t, err)

	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)

	release := make(chan struct{})
	h, err := w.Scheduler().Schedule(Job{
		Query:  q,
		Access: Access{}.Read(ids.health),
		Run: func(*JobContext, *Chunk) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	// Property: structural changes on archetypes used by an unfinished job are rejected.
	require.ErrorIs(t, w.Destroy(busy[0]), ErrConcurrentStructuralChange)
	require.ErrorIs(t, w.AddComponent(busy[1], ids.position), ErrConcurrentStructuralChange)
	_, err = w.Spawn(Health{Value: 9})
	require.ErrorIs(t, err, ErrConcurrentStructuralChange)
	require.ErrorIs(t, w.RemoveComponent(busy[1], ids.health), ErrConcurrentStructuralChange)
	_, err = RegisterComponent[unregistered](w)
	require.ErrorIs(t, err, ErrConcurrentStructuralChange)
	_, err = w.Serialize()
	require.ErrorIs(t, err, ErrConcurrentStructuralChange)

	// Property: archetypes not touched by a job can still change.
	require.NoError(t, w.AddComponent(free, ids.position))
	other, err := w.Spawn(Velocity{})
	require.NoError(t, err)
	require.NoError(t, w.Destroy(other))

	close(release)
	require.NoError(t, w.Scheduler().Complete(h))
	require.NoError(t, w.Destroy(busy[0]))
}

func TestScheduler_Close(t *testing.T) {
	t.Parallel()

	w, ids := newTestWorld(t, 2, 4)
	q, err := w.Query(QueryDesc{All: []ComponentID{ids.health}})
	require.NoError(t, err)

	require.NoError(t, w.scheduler.close())
	require.NoError(t, w.scheduler.close())

	_, err = w.Scheduler().Schedule(Job{Query: q, Run: func(*JobContext, *Chunk) error { return nil }})
	require.Error(t, err)
}
