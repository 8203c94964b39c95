package engine

import (
	"github.com/argus-labs/archecs/pkg/snapshot"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

const (
	defaultTickRate          = 30
	defaultSnapshotFrequency = 300
)

// engineConfig holds the engine configuration that can be set via environment variables.
type engineConfig struct {
	// Number of ticks per second.
	TickRate float64 `env:"ENGINE_TICK_RATE" envDefault:"30"`

	// Snapshot storage type ("NOP", "REDIS").
	SnapshotStorage string `env:"ENGINE_SNAPSHOT_STORAGE" envDefault:"NOP"`

	// Number of ticks between snapshots.
	SnapshotFrequency uint32 `env:"ENGINE_SNAPSHOT_FREQUENCY" envDefault:"300"`

	// Redis connection used by the REDIS snapshot storage.
	RedisAddress  string `env:"ENGINE_REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"ENGINE_REDIS_PASSWORD"`
	RedisKey      string `env:"ENGINE_REDIS_KEY"`

	// DogStatsD agent address. Metrics are disabled when empty.
	StatsdAddress string `env:"ENGINE_STATSD_ADDRESS"`
}

// loadConfig loads the engine configuration from environment variables.
func loadConfig() (engineConfig, error) {
	cfg := engineConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse engine config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate engine config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *engineConfig) validate() error {
	if cfg.TickRate <= 0 {
		return eris.New("tick rate must be positive")
	}
	if _, err := snapshot.ParseStorageType(cfg.SnapshotStorage); err != nil {
		return err
	}
	if cfg.SnapshotFrequency == 0 {
		return eris.New("snapshot frequency cannot be 0")
	}
	return nil
}

// applyToOptions applies the configuration values to the given Options.
func (cfg *engineConfig) applyToOptions(opt *Options) {
	opt.TickRate = cfg.TickRate
	opt.SnapshotStorageType, _ = snapshot.ParseStorageType(cfg.SnapshotStorage)
	opt.SnapshotFrequency = cfg.SnapshotFrequency
	opt.RedisAddress = cfg.RedisAddress
	opt.RedisPassword = cfg.RedisPassword
	opt.RedisKey = cfg.RedisKey
	opt.StatsdAddress = cfg.StatsdAddress
}

// Options configures an Engine. Zero fields fall back to the environment, then to defaults.
type Options struct {
	TickRate            float64              // Number of ticks per second
	SnapshotStorageType snapshot.StorageType // Snapshot storage backend
	SnapshotStorage     snapshot.Storage     // Optional storage, overrides SnapshotStorageType
	SnapshotFrequency   uint32               // Number of ticks between snapshots
	RedisAddress        string               // Redis address for the REDIS storage
	RedisPassword       string               // Redis password for the REDIS storage
	RedisKey            string               // Redis key for the REDIS storage
	StatsdAddress       string               // DogStatsD agent address, empty disables metrics
}

// newDefaultOptions creates Options with default values.
func newDefaultOptions() Options {
	return Options{
		TickRate:            defaultTickRate,
		SnapshotStorageType: snapshot.StorageTypeNop,
		SnapshotStorage:     nil,
		SnapshotFrequency:   defaultSnapshotFrequency,
		RedisAddress:        "",
		RedisPassword:       "",
		RedisKey:            "",
		StatsdAddress:       "",
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.TickRate != 0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.SnapshotStorageType != snapshot.StorageTypeUndefined {
		opt.SnapshotStorageType = newOpt.SnapshotStorageType
	}
	if newOpt.SnapshotStorage != nil {
		opt.SnapshotStorage = newOpt.SnapshotStorage
	}
	if newOpt.SnapshotFrequency != 0 {
		opt.SnapshotFrequency = newOpt.SnapshotFrequency
	}
	if newOpt.RedisAddress != "" {
		opt.RedisAddress = newOpt.RedisAddress
	}
	if newOpt.RedisPassword != "" {
		opt.RedisPassword = newOpt.RedisPassword
	}
	if newOpt.RedisKey != "" {
		opt.RedisKey = newOpt.RedisKey
	}
	if newOpt.StatsdAddress != "" {
		opt.StatsdAddress = newOpt.StatsdAddress
	}
}

// validate checks that all options are valid.
func (opt *Options) validate() error {
	if opt.TickRate <= 0 {
		return eris.New("tick rate must be positive")
	}
	if opt.SnapshotFrequency == 0 {
		return eris.New("snapshot frequency cannot be 0")
	}
	if opt.SnapshotStorage == nil && !opt.SnapshotStorageType.IsValid() {
		return eris.New("invalid snapshot storage type")
	}
	if opt.SnapshotStorage == nil && opt.SnapshotStorageType == snapshot.StorageTypeRedis && opt.RedisAddress == "" {
		return eris.New("redis address cannot be empty")
	}
	return nil
}
