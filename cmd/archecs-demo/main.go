package main

import (
	"math/rand/v2"
	"time"

	"github.com/argus-labs/archecs/internal/samples"
	"github.com/argus-labs/archecs/pkg/ecs"
	"github.com/argus-labs/archecs/pkg/engine"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type demoConfig struct {
	// Optional YAML file with the initial population. The default population is used when empty.
	PopulationFile string `env:"DEMO_POPULATION_FILE"`

	// Seed of the population PRNG. 0 seeds from the clock.
	Seed uint64 `env:"DEMO_SEED" envDefault:"0"`
}

func main() {
	var cfg demoConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse demo config")
	}

	counts := samples.DefaultCounts
	if cfg.PopulationFile != "" {
		var err error
		if counts, err = samples.LoadCounts(cfg.PopulationFile); err != nil {
			log.Fatal().Err(err).Msg("failed to load population")
		}
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano()) //nolint:gosec // demo population
	}

	world, err := ecs.NewWorld(ecs.WorldOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create world")
	}
	if err := samples.Register(world); err != nil {
		log.Fatal().Err(err).Msg("failed to register samples")
	}

	// A stored snapshot replaces this population when the engine starts.
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)) //nolint:gosec // demo population
	if err := samples.Populate(world, rng, counts); err != nil {
		log.Fatal().Err(err).Msg("failed to populate world")
	}
	log.Info().Uint64("seed", cfg.Seed).Int("entities", world.EntityCount()).Msg("populated world")

	e, err := engine.New(world, engine.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}
	e.StartGame()
}
