// Package engine drives an ecs.World from a host process: it owns the tick loop, periodic snapshots
// and the process-wide telemetry.
package engine

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-labs/archecs/pkg/ecs"
	"github.com/argus-labs/archecs/pkg/snapshot"
	"github.com/argus-labs/archecs/pkg/statsd"
	"github.com/argus-labs/archecs/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs a world at a fixed tick rate and persists snapshots of it.
type Engine struct {
	world   *ecs.World
	storage snapshot.Storage
	redis   *redis.Client // Set when the engine created the redis connection

	lastTick time.Time // Timestamp of the previous tick, zero before the first one

	options Options
	tel     telemetry.Telemetry
	logger  zerolog.Logger
}

// New creates an engine for the world. The world's components and systems must be registered
// before the engine runs.
func New(world *ecs.World, opts Options) (*Engine, error) {
	if world == nil {
		return nil, eris.New("world cannot be nil")
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load engine options env vars")
	}
	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid engine options")
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: "archecs"})
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize telemetry")
	}

	e := &Engine{
		world:   world,
		options: options,
		tel:     tel,
		logger:  tel.GetLogger("engine"),
	}

	if options.StatsdAddress != "" {
		if err := statsd.Init(options.StatsdAddress, nil); err != nil {
			return nil, eris.Wrap(err, "failed to initialize statsd")
		}
	}

	if err := e.setupStorage(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) setupStorage() error {
	if e.options.SnapshotStorage != nil {
		e.storage = e.options.SnapshotStorage
		return nil
	}

	switch e.options.SnapshotStorageType {
	case snapshot.StorageTypeNop:
		e.storage = snapshot.NewNopStorage()
	case snapshot.StorageTypeRedis:
		e.redis = redis.NewClient(&redis.Options{
			Addr:     e.options.RedisAddress,
			Password: e.options.RedisPassword,
		})
		storage, err := snapshot.NewRedisStorage(snapshot.RedisStorageOptions{
			Client: e.redis,
			Key:    e.options.RedisKey,
		})
		if err != nil {
			return eris.Wrap(err, "failed to create redis snapshot storage")
		}
		e.storage = storage
	case snapshot.StorageTypeUndefined:
		return eris.New("invalid snapshot storage type")
	}
	return nil
}

// World returns the world driven by the engine.
func (e *Engine) World() *ecs.World {
	return e.world
}

// StartGame restores the latest snapshot, then ticks the world until the process receives SIGINT or
// SIGTERM.
func (e *Engine) StartGame() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Run(ctx); err != nil && !eris.Is(err, context.Canceled) {
		e.logger.Error().Err(err).Msg("failed running world")
	}

	// Create a timeout context for shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.logger.Error().Err(err).Msg("shutdown error")
	}
}

// Run restores the latest snapshot, initializes the world's systems and runs the tick loop until
// ctx is done or a tick fails.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		return eris.Wrap(err, "failed to restore snapshot")
	}
	if err := e.world.Init(ctx); err != nil {
		return eris.Wrap(err, "failed to initialize systems")
	}

	e.logger.Info().
		Float64("tick_rate", e.options.TickRate).
		Uint64("tick", e.world.Tick()).
		Str("storage", e.options.SnapshotStorageType.String()).
		Msg("starting tick loop")

	ticker := time.NewTicker(time.Duration(float64(time.Second) / e.options.TickRate))
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if err := e.Tick(ctx, now); err != nil {
				return eris.Wrap(err, "failed to run tick")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick runs one world update. The delta time is the time since the previous tick, or the nominal
// tick interval for the first one. A snapshot is stored every SnapshotFrequency ticks.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	ctx, span := e.tel.Tracer.Start(ctx, "engine.tick", trace.WithAttributes(
		attribute.Int64("tick", int64(e.world.Tick())), //nolint:gosec // tick heights are small
	))
	defer span.End()

	dt := time.Duration(float64(time.Second) / e.options.TickRate)
	if !e.lastTick.IsZero() {
		dt = now.Sub(e.lastTick)
	}
	e.lastTick = now

	if err := e.world.Update(ctx, dt); err != nil {
		span.SetStatus(codes.Error, eris.ToString(err, false))
		span.RecordError(err)
		return err
	}
	statsd.EmitGauge("entities", float64(e.world.EntityCount()))

	if e.world.Tick()%uint64(e.options.SnapshotFrequency) == 0 {
		if err := e.Snapshot(ctx, now); err != nil {
			// A failed snapshot doesn't stop the loop.
			e.logger.Warn().Err(err).Uint64("tick", e.world.Tick()).Msg("failed to store snapshot")
		}
	}
	return nil
}

// Snapshot serializes the world and stores it.
func (e *Engine) Snapshot(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer statsd.EmitTickStat(start, "snapshot")

	data, err := e.world.Serialize()
	if err != nil {
		return eris.Wrap(err, "failed to serialize world")
	}
	snap := snapshot.New(e.world.Tick(), now, data)
	if err := e.storage.Store(ctx, snap); err != nil {
		return eris.Wrap(err, "failed to store snapshot")
	}

	e.logger.Debug().Uint64("tick", snap.TickHeight).Int("bytes", len(data)).Msg("snapshot stored")
	return nil
}

// restore loads the latest snapshot into the world, if there is one.
func (e *Engine) restore(ctx context.Context) error {
	exists, err := e.storage.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		e.logger.Info().Msg("no snapshot found, starting from an empty world")
		return nil
	}

	snap, err := e.storage.Load(ctx)
	if err != nil {
		return err
	}
	if err := snap.Verify(); err != nil {
		return err
	}
	if err := e.world.Deserialize(snap.Data); err != nil {
		return err
	}

	e.logger.Info().Uint64("tick", snap.TickHeight).Time("timestamp", snap.Timestamp).Msg("restored snapshot")
	return nil
}

// Shutdown stores a final snapshot, shuts the world down and releases the engine's connections.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("shutting down engine")

	var errs []error
	if err := e.Snapshot(ctx, time.Now()); err != nil {
		errs = append(errs, err)
	}
	if err := e.world.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			errs = append(errs, eris.Wrap(err, "failed to close redis client"))
		}
	}
	if err := statsd.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		for _, err := range errs[1:] {
			e.logger.Error().Err(err).Msg("shutdown error")
		}
		return eris.Wrap(errs[0], "engine shutdown failed")
	}
	e.logger.Info().Msg("engine shutdown complete")
	return nil
}
