package ecs

import (
	"context"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/argus-labs/archecs/pkg/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// System contains game logic run once per update.
type System interface {
	OnUpdate(ctx *SystemContext) error
}

// SystemCreator is implemented by systems that need setup before their first update.
type SystemCreator interface {
	OnCreate(ctx *SystemContext) error
}

// SystemDestroyer is implemented by systems that need cleanup when the world shuts down.
type SystemDestroyer interface {
	OnDestroy(ctx *SystemContext) error
}

// SystemFunc adapts a plain function to the System interface.
type SystemFunc func(ctx *SystemContext) error

// OnUpdate calls f(ctx).
func (f SystemFunc) OnUpdate(ctx *SystemContext) error {
	return f(ctx)
}

// SystemHook defines when a system should be executed in the update cycle.
type SystemHook uint8

const (
	// PreUpdate runs before the main update.
	PreUpdate SystemHook = 0
	// Update runs during the main update phase.
	Update SystemHook = 1
	// PostUpdate runs after the main update.
	PostUpdate SystemHook = 2

	hookCount = 3
)

func (h SystemHook) String() string {
	switch h {
	case PreUpdate:
		return "pre_update"
	case Update:
		return "update"
	case PostUpdate:
		return "post_update"
	default:
		return "unknown"
	}
}

// systemConfig holds all configurable options for system registration.
type systemConfig struct {
	hook SystemHook // When the system runs in the update cycle
	name string     // Overrides the name derived from the system's type
}

// newSystemConfig creates a new system config with default values.
func newSystemConfig() systemConfig {
	return systemConfig{hook: Update}
}

// SystemOption is a function that configures a systemConfig.
type SystemOption func(*systemConfig)

// WithHook returns an option to set the system hook.
func WithHook(hook SystemHook) SystemOption {
	return func(cfg *systemConfig) { cfg.hook = hook }
}

// WithName returns an option to set the system name.
func WithName(name string) SystemOption {
	return func(cfg *systemConfig) { cfg.name = name }
}

type registeredSystem struct {
	name   string
	hook   SystemHook
	system System
}

// systemManager keeps the registered systems per hook, and in registration order for the
// create/destroy lifecycle.
type systemManager struct {
	hooks     [hookCount][]registeredSystem
	order     []registeredSystem
	created   bool
	destroyed bool
	tracer    trace.Tracer
}

func newSystemManager() systemManager {
	return systemManager{
		order:  make([]registeredSystem, 0),
		tracer: otel.Tracer("system"),
	}
}

// RegisterSystem registers a system. Its name defaults to the function name for SystemFunc and to
// the type name otherwise, and must be unique within the world.
func RegisterSystem(w *World, system System, opts ...SystemOption) error {
	cfg := newSystemConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = systemName(system)
	}
	return w.systems.register([]registeredSystem{{name: cfg.name, hook: cfg.hook, system: system}})
}

// RegisterSystems registers several systems in the given hook. If there is a duplicate system name,
// an error is returned and none of the systems are registered.
func RegisterSystems(w *World, hook SystemHook, systems ...System) error {
	toRegister := make([]registeredSystem, 0, len(systems))
	for _, system := range systems {
		toRegister = append(toRegister, registeredSystem{name: systemName(system), hook: hook, system: system})
	}
	return w.systems.register(toRegister)
}

func (m *systemManager) register(systems []registeredSystem) error {
	if m.created {
		return eris.New("cannot register systems after the world is initialized")
	}

	for i, sys := range systems {
		if sys.system == nil {
			return eris.New("system cannot be nil")
		}
		if sys.hook >= hookCount {
			return eris.Errorf("invalid hook %d for system %q", sys.hook, sys.name)
		}
		if slices.ContainsFunc(systems[:i], func(s registeredSystem) bool { return s.name == sys.name }) {
			return eris.Errorf("duplicate system %q in slice", sys.name)
		}
		if slices.ContainsFunc(m.order, func(s registeredSystem) bool { return s.name == sys.name }) {
			return eris.Errorf("system %q is already registered", sys.name)
		}
	}

	for _, sys := range systems {
		m.hooks[sys.hook] = append(m.hooks[sys.hook], sys)
		m.order = append(m.order, sys)
	}
	return nil
}

// Systems returns the names of the registered systems in registration order.
func (w *World) Systems() []string {
	names := make([]string, len(w.systems.order))
	for i, sys := range w.systems.order {
		names[i] = sys.name
	}
	return names
}

func systemName(system System) string {
	if system == nil {
		return ""
	}
	if fn, ok := system.(SystemFunc); ok {
		return filepath.Base(runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name())
	}
	typ := reflect.TypeOf(system)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ.String()
}

// -------------------------------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------------------------------

// Init calls OnCreate on every system in registration order, then completes the jobs and plays back
// the commands they produced. Once it succeeds it doesn't run again; Update calls it if it hasn't
// succeeded yet. After a failure the next call starts over from the first system.
func (w *World) Init(ctx context.Context) error {
	if w.systems.created {
		return nil
	}

	for _, sys := range w.systems.order {
		creator, ok := sys.system.(SystemCreator)
		if !ok {
			continue
		}
		if err := creator.OnCreate(w.newSystemContext(ctx, sys.name, 0)); err != nil {
			w.abortHook()
			return eris.Wrapf(err, "system %s OnCreate failed", sys.name)
		}
	}
	if err := w.syncPoint("init"); err != nil {
		return err
	}

	w.systems.created = true
	return nil
}

// Update runs one frame: every hook in order, and within a hook every system sequentially on the
// calling goroutine. Systems schedule jobs through their context. At the end of each hook all jobs
// are completed and the deferred command buffer is played back. If a system fails, its hook's jobs
// are completed, its pending commands are dropped and the error is returned.
func (w *World) Update(ctx context.Context, dt time.Duration) error {
	if err := w.Init(ctx); err != nil {
		return err
	}

	start := time.Now()
	defer statsd.EmitTickStat(start, "update")

	ctx, span := w.systems.tracer.Start(ctx, "ecs.update")
	defer span.End()

	for hook := range SystemHook(hookCount) {
		if err := w.runHook(ctx, hook, dt); err != nil {
			span.SetStatus(codes.Error, eris.ToString(err, false))
			span.RecordError(err)
			return err
		}
	}

	w.tick++
	return nil
}

func (w *World) runHook(ctx context.Context, hook SystemHook, dt time.Duration) error {
	for _, sys := range w.systems.hooks[hook] {
		sctx, span := w.systems.tracer.Start(ctx, "system.run."+sys.name)
		if err := sys.system.OnUpdate(w.newSystemContext(sctx, sys.name, dt)); err != nil {
			span.SetStatus(codes.Error, eris.ToString(err, false))
			span.RecordError(err)
			span.End()
			w.abortHook()
			return eris.Wrapf(err, "system %s failed", sys.name)
		}
		span.End()
	}
	return w.syncPoint(hook.String())
}

// syncPoint completes every job and plays back the deferred commands.
func (w *World) syncPoint(stage string) error {
	if err := w.scheduler.CompleteAll(); err != nil {
		w.commands.drain()
		return eris.Wrapf(err, "jobs failed during %s", stage)
	}
	if _, err := w.commands.Playback(); err != nil {
		return eris.Wrapf(err, "failed to play back commands during %s", stage)
	}
	return nil
}

// abortHook waits for the running jobs and drops the deferred commands.
func (w *World) abortHook() {
	if err := w.scheduler.CompleteAll(); err != nil {
		w.logger.Error().Err(err).Msg("job failed while aborting update")
	}
	w.commands.drain()
}

// Shutdown completes every job, calls OnDestroy on the systems in reverse registration order and
// stops the worker pool. The world must not be used afterwards.
func (w *World) Shutdown(ctx context.Context) error {
	var errs []error
	if err := w.scheduler.CompleteAll(); err != nil {
		errs = append(errs, err)
	}

	if w.systems.created && !w.systems.destroyed {
		w.systems.destroyed = true
		for _, sys := range slices.Backward(w.systems.order) {
			destroyer, ok := sys.system.(SystemDestroyer)
			if !ok {
				continue
			}
			if err := destroyer.OnDestroy(w.newSystemContext(ctx, sys.name, 0)); err != nil {
				errs = append(errs, eris.Wrapf(err, "system %s OnDestroy failed", sys.name))
			}
		}
		if err := w.syncPoint("shutdown"); err != nil {
			errs = append(errs, err)
		}
	}

	if err := w.scheduler.close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return eris.Wrap(errs[0], "world shutdown failed")
	}
	return nil
}

// -------------------------------------------------------------------------------------------------
// System context
// -------------------------------------------------------------------------------------------------

// SystemContext is passed to system lifecycle methods.
type SystemContext struct {
	ctx    context.Context //nolint:containedctx // scoped to a single system call
	world  *World
	name   string
	logger zerolog.Logger
	dt     time.Duration
}

func (w *World) newSystemContext(ctx context.Context, name string, dt time.Duration) *SystemContext {
	return &SystemContext{
		ctx:    ctx,
		world:  w,
		name:   name,
		logger: w.logger.With().Str("system", name).Logger(),
		dt:     dt,
	}
}

// Context returns the context of the current update.
func (c *SystemContext) Context() context.Context {
	return c.ctx
}

// World returns the world the system runs in.
func (c *SystemContext) World() *World {
	return c.world
}

// Name returns the system name.
func (c *SystemContext) Name() string {
	return c.name
}

// Logger returns a logger tagged with the system name.
func (c *SystemContext) Logger() *zerolog.Logger {
	return &c.logger
}

// Tick returns the number of completed updates.
func (c *SystemContext) Tick() uint64 {
	return c.world.tick
}

// DeltaTime returns the time elapsed since the previous update.
func (c *SystemContext) DeltaTime() time.Duration {
	return c.dt
}

// Commands returns the deferred command buffer played back at the end of the current hook.
func (c *SystemContext) Commands() *CommandBuffer {
	return c.world.commands
}

// Schedule schedules a job under the system's span. Jobs without a name are named after the system.
func (c *SystemContext) Schedule(job Job) (JobHandle, error) {
	if job.Name == "" {
		job.Name = c.name
	}
	return c.world.scheduler.ScheduleContext(c.ctx, job)
}

// Complete blocks until the job has finished and returns its error.
func (c *SystemContext) Complete(h JobHandle) error {
	return c.world.scheduler.Complete(h)
}
