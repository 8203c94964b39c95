package ecs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argus-labs/archecs/pkg/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// JobFunc processes one chunk. It runs on a worker goroutine and must only touch the component
// types declared in the job's Access. Structural changes go through a CommandBuffer.
type JobFunc func(jc *JobContext, chunk *Chunk) error

// Job is a unit of parallel work: a query, a per-chunk function and the declared access.
type Job struct {
	Name   string
	Query  *Query
	Access Access
	Run    JobFunc
}

// JobHandle refers to a scheduled job.
type JobHandle struct {
	job *jobState
}

// ID returns the job's sequence number.
func (h JobHandle) ID() uint64 {
	return h.job.id
}

// Done reports whether the job has finished without blocking.
func (h JobHandle) Done() bool {
	select {
	case <-h.job.done:
		return true
	default:
		return false
	}
}

// JobContext is passed to every JobFunc invocation.
type JobContext struct {
	world    *World
	job      *jobState
	workerID int
}

// WorkerID returns the index of the worker running the chunk, in [0, workers).
func (jc *JobContext) WorkerID() int {
	return jc.workerID
}

// JobName returns the name of the running job.
func (jc *JobContext) JobName() string {
	return jc.job.name
}

// Access returns the access declared by the running job.
func (jc *JobContext) Access() Access {
	return jc.job.access
}

// jobState tracks a scheduled job until it completes.
type jobState struct {
	id     uint64
	name   string
	access Access
	run    JobFunc
	chunks []*Chunk
	archs  []archetypeID // Distinct archetypes of chunks

	pending    atomic.Int32 // Unfinished dependencies, plus one while the job is being scheduled
	remaining  atomic.Int32 // Chunks not processed yet
	dependents []*jobState  // Jobs waiting on this one, guarded by Scheduler.mu
	done       chan struct{}

	errMu    sync.Mutex
	errs     []error
	observed atomic.Bool // Error already returned by Complete

	scheduled time.Time
	span      trace.Span
}

func (js *jobState) addErr(err error) {
	js.errMu.Lock()
	js.errs = append(js.errs, err)
	js.errMu.Unlock()
}

func (js *jobState) err() error {
	js.errMu.Lock()
	defer js.errMu.Unlock()

	switch len(js.errs) {
	case 0:
		return nil
	case 1:
		return js.errs[0]
	default:
		return errors.Join(js.errs...)
	}
}

type task struct {
	job   *jobState
	chunk *Chunk
}

// Scheduler runs jobs on a fixed pool of worker goroutines. A job depends on every earlier,
// unfinished job it conflicts with: the last writer of each type it reads or writes, and every
// reader since that write for each type it writes. Jobs that only share reads run concurrently.
// Chunks are the unit of parallelism: once a job's dependencies are done, each of its chunks is
// queued to the pool as one task.
//
// Schedule, Complete and CompleteAll are meant to be called from the goroutine that owns the world.
type Scheduler struct {
	world   *World
	workers int
	tasks   chan task
	group   *errgroup.Group

	mu         sync.Mutex
	closed     bool
	nextID     uint64
	inflight   map[uint64]*jobState        // Scheduled and not finished
	lastWriter map[ComponentID]*jobState   // Last job that declared a write
	readers    map[ComponentID][]*jobState // Read-only jobs since the last write
	archBusy   map[archetypeID]int         // Archetype -> number of unfinished jobs using it
	failed     []*jobState                 // Finished jobs with errors, drained by CompleteAll

	logger *zerolog.Logger
	tracer trace.Tracer
}

// newScheduler creates a scheduler and starts its workers.
func newScheduler(w *World, workers int, logger *zerolog.Logger) *Scheduler {
	s := &Scheduler{
		world:      w,
		workers:    workers,
		tasks:      make(chan task, workers*4),
		group:      new(errgroup.Group),
		inflight:   make(map[uint64]*jobState),
		lastWriter: make(map[ComponentID]*jobState),
		readers:    make(map[ComponentID][]*jobState),
		archBusy:   make(map[archetypeID]int),
		logger:     logger,
		tracer:     otel.Tracer("ecs.scheduler"),
	}

	for i := range workers {
		s.group.Go(func() error {
			s.work(i)
			return nil
		})
	}
	return s
}

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Schedule resolves the job's query to its current chunks, records its dependencies and queues it.
// The returned handle is passed to Complete.
func (s *Scheduler) Schedule(job Job) (JobHandle, error) {
	return s.ScheduleContext(context.Background(), job)
}

// ScheduleContext is Schedule with the job's span parented to ctx.
func (s *Scheduler) ScheduleContext(ctx context.Context, job Job) (JobHandle, error) {
	if job.Run == nil {
		return JobHandle{}, eris.New("job function cannot be nil")
	}
	if job.Query == nil || job.Query.world != s.world {
		return JobHandle{}, eris.New("job query must belong to the scheduler's world")
	}
	if job.Name == "" {
		job.Name = "job"
	}

	chunks := job.Query.chunks()
	js := &jobState{
		name:      job.Name,
		access:    job.Access,
		run:       job.Run,
		chunks:    chunks,
		archs:     distinctArchetypes(chunks),
		done:      make(chan struct{}),
		scheduled: time.Now(),
	}
	js.pending.Store(1)
	js.remaining.Store(int32(len(chunks))) //nolint:gosec // chunk count fits

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return JobHandle{}, eris.New("scheduler is closed")
	}
	s.nextID++
	js.id = s.nextID
	deps := s.link(js)
	s.inflight[js.id] = js
	for _, aid := range js.archs {
		s.archBusy[aid]++
	}
	s.mu.Unlock()

	_, js.span = s.tracer.Start(ctx, "job."+js.name, trace.WithAttributes(
		attribute.Int64("job.id", int64(js.id)), //nolint:gosec // ids are small
		attribute.Int("job.chunks", len(chunks)),
		attribute.Int("job.dependencies", deps),
	))

	s.logger.Debug().
		Str("job", js.name).
		Uint64("id", js.id).
		Int("chunks", len(chunks)).
		Int("dependencies", deps).
		Msg("job scheduled")

	// Release the scheduling hold. If every dependency already finished, the job is ready.
	if js.pending.Add(-1) == 0 {
		s.dispatch(js)
	}
	return JobHandle{job: js}, nil
}

// link adds dependency edges from the unfinished jobs js conflicts with, then records js as the
// latest reader or writer of its types. Returns the number of dependencies. Expects s.mu held.
func (s *Scheduler) link(js *jobState) int {
	deps := make(map[*jobState]struct{})
	addDep := func(dep *jobState) {
		if dep == nil {
			return
		}
		if _, ok := s.inflight[dep.id]; !ok {
			return
		}
		if _, ok := deps[dep]; ok {
			return
		}
		deps[dep] = struct{}{}
		dep.dependents = append(dep.dependents, js)
		js.pending.Add(1)
	}

	for _, id := range js.access.touched() {
		addDep(s.lastWriter[id])
	}
	for _, id := range js.access.writes() {
		for _, reader := range s.readers[id] {
			addDep(reader)
		}
		s.lastWriter[id] = js
		delete(s.readers, id)
	}
	for _, id := range js.access.readOnly() {
		readers := s.readers[id][:0]
		for _, reader := range s.readers[id] {
			if _, ok := s.inflight[reader.id]; ok {
				readers = append(readers, reader)
			}
		}
		s.readers[id] = append(readers, js)
	}
	return len(deps)
}

// dispatch queues every chunk of a ready job. Sending happens on its own goroutine so that a worker
// finishing a job never blocks on a full queue.
func (s *Scheduler) dispatch(js *jobState) {
	if len(js.chunks) == 0 {
		s.finish(js)
		return
	}
	go func() {
		for _, chunk := range js.chunks {
			s.tasks <- task{job: js, chunk: chunk}
		}
	}()
}

// work is the worker loop.
func (s *Scheduler) work(workerID int) {
	for t := range s.tasks {
		jc := &JobContext{world: s.world, job: t.job, workerID: workerID}
		if err := runChunk(jc, t.chunk); err != nil {
			t.job.addErr(eris.Wrapf(err, "job %s failed", t.job.name))
		}
		if t.job.remaining.Add(-1) == 0 {
			s.finish(t.job)
		}
	}
}

// runChunk runs the job function on a chunk, turning panics into errors. Checked builds also verify
// that read-only columns were left untouched.
func runChunk(jc *JobContext, chunk *Chunk) (err error) {
	var guards []readGuard
	if accessChecks {
		guards = guardReadOnly(jc.job.access, chunk)
	}
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = eris.Wrap(rerr, "job panicked")
			} else {
				err = eris.Errorf("job panicked: %v", r)
			}
		}
	}()
	if err := jc.job.run(jc, chunk); err != nil {
		return err
	}
	return jc.verifyReadOnly(guards)
}

// finish marks a job as done and releases its dependents.
func (s *Scheduler) finish(js *jobState) {
	statsd.EmitJobStat(js.scheduled, js.name)

	err := js.err()
	if err != nil {
		js.span.SetStatus(codes.Error, eris.ToString(err, false))
		js.span.RecordError(err)
	}
	js.span.End()

	s.mu.Lock()
	delete(s.inflight, js.id)
	for _, aid := range js.archs {
		s.archBusy[aid]--
		if s.archBusy[aid] == 0 {
			delete(s.archBusy, aid)
		}
	}
	if err != nil {
		s.failed = append(s.failed, js)
	}
	dependents := js.dependents
	js.dependents = nil
	s.mu.Unlock()

	close(js.done)

	for _, dependent := range dependents {
		if dependent.pending.Add(-1) == 0 {
			s.dispatch(dependent)
		}
	}
}

// Complete blocks until the job and, transitively, everything it depends on have finished. It
// returns the job's error.
func (s *Scheduler) Complete(h JobHandle) error {
	if h.job == nil {
		return eris.New("invalid job handle")
	}
	<-h.job.done
	h.job.observed.Store(true)
	return h.job.err()
}

// CompleteAll blocks until every scheduled job has finished. It returns the errors of the failed
// jobs whose error wasn't already returned by Complete.
func (s *Scheduler) CompleteAll() error {
	for {
		s.mu.Lock()
		pending := make([]*jobState, 0, len(s.inflight))
		for _, js := range s.inflight {
			pending = append(pending, js)
		}
		s.mu.Unlock()

		if len(pending) == 0 {
			break
		}
		for _, js := range pending {
			<-js.done
		}
	}

	s.mu.Lock()
	failed := s.failed
	s.failed = nil
	clear(s.lastWriter)
	clear(s.readers)
	s.mu.Unlock()

	var errs []error
	for _, js := range failed {
		if !js.observed.Swap(true) {
			errs = append(errs, js.err())
		}
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return eris.Wrap(errs[0], "job returned an error")
	default:
		return eris.Wrapf(errors.Join(errs...), "%d jobs returned an error", len(errs))
	}
}

// pending returns the number of unfinished jobs.
func (s *Scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// busy reports whether an unfinished job holds chunks of the archetype.
func (s *Scheduler) busy(aid archetypeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archBusy[aid] > 0
}

// close waits for every job, then stops the workers.
func (s *Scheduler) close() error {
	err := s.CompleteAll()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return err
	}
	s.closed = true
	s.mu.Unlock()

	close(s.tasks)
	if werr := s.group.Wait(); werr != nil {
		return eris.Wrap(werr, "failed to stop workers")
	}
	return err
}

func distinctArchetypes(chunks []*Chunk) []archetypeID {
	archs := make([]archetypeID, 0)
	for i, chunk := range chunks {
		// Chunks of an archetype are contiguous in a resolved query.
		if i == 0 || chunks[i-1].arch != chunk.arch {
			archs = append(archs, chunk.arch.id)
		}
	}
	return archs
}
