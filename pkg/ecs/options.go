package ecs

import (
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	// DefaultChunkCapacity is the number of rows per chunk when none is configured.
	DefaultChunkCapacity = 128
	maxChunkCapacity     = 1 << 16
)

// worldConfig holds the world configuration that can be set via environment variables.
type worldConfig struct {
	// Number of job workers. 0 uses GOMAXPROCS.
	Workers int `env:"ECS_WORKERS" envDefault:"0"`

	// Number of rows per chunk.
	ChunkCapacity int `env:"ECS_CHUNK_CAPACITY" envDefault:"128"`
}

// loadWorldConfig loads the world configuration from environment variables.
func loadWorldConfig() (worldConfig, error) {
	cfg := worldConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse ecs config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate ecs config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *worldConfig) validate() error {
	if cfg.Workers < 0 {
		return eris.New("workers cannot be negative")
	}
	if cfg.ChunkCapacity <= 0 || cfg.ChunkCapacity > maxChunkCapacity {
		return eris.Errorf("chunk capacity must be between 1 and %d", maxChunkCapacity)
	}
	return nil
}

// applyToOptions applies the configuration values to the given WorldOptions.
func (cfg *worldConfig) applyToOptions(opt *WorldOptions) {
	opt.Workers = cfg.Workers
	opt.ChunkCapacity = cfg.ChunkCapacity
}

// WorldOptions configures a World. Zero fields fall back to the environment, then to defaults.
type WorldOptions struct {
	Workers       int             // Size of the job worker pool
	ChunkCapacity int             // Rows per chunk
	Logger        *zerolog.Logger // Optional logger, defaults to the global logger
}

// newDefaultWorldOptions creates WorldOptions with default values.
func newDefaultWorldOptions() WorldOptions {
	return WorldOptions{
		Workers:       0,
		ChunkCapacity: DefaultChunkCapacity,
		Logger:        nil,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *WorldOptions) apply(newOpt WorldOptions) {
	if newOpt.Workers != 0 {
		opt.Workers = newOpt.Workers
	}
	if newOpt.ChunkCapacity != 0 {
		opt.ChunkCapacity = newOpt.ChunkCapacity
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
}

// validate checks that all options are valid and resolves the worker count.
func (opt *WorldOptions) validate() error {
	if opt.Workers < 0 {
		return eris.New("workers cannot be negative")
	}
	if opt.Workers == 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}
	if opt.ChunkCapacity <= 0 || opt.ChunkCapacity > maxChunkCapacity {
		return eris.Errorf("chunk capacity must be between 1 and %d", maxChunkCapacity)
	}
	return nil
}
