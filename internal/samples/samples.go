// Package samples holds a small simulation used by the demo binary and the engine tests: spinning
// rotators, seekers chasing the nearest target, and spawners emitting short-lived targets.
package samples

import (
	"math"
	"math/rand/v2"
	"os"

	"github.com/argus-labs/archecs/pkg/ecs"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Counts is the number of entities of each kind Populate creates.
type Counts struct {
	Rotators int `yaml:"rotators"`
	Seekers  int `yaml:"seekers"`
	Targets  int `yaml:"targets"`
	Spawners int `yaml:"spawners"`
}

// DefaultCounts is the population of the demo world.
var DefaultCounts = Counts{Rotators: 10_000, Seekers: 200, Targets: 50, Spawners: 4}

// LoadCounts reads a population from a YAML file. Missing fields are zero.
func LoadCounts(path string) (Counts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Counts{}, eris.Wrap(err, "failed to read population file")
	}

	var counts Counts
	if err := yaml.Unmarshal(data, &counts); err != nil {
		return Counts{}, eris.Wrap(err, "failed to parse population file")
	}
	if counts.Rotators < 0 || counts.Seekers < 0 || counts.Targets < 0 || counts.Spawners < 0 {
		return Counts{}, eris.New("population counts cannot be negative")
	}
	return counts, nil
}

// WorldSize is the side length of the square the entities are placed in.
const WorldSize = 100.0

// Register registers the sample components and systems on the world.
func Register(w *ecs.World) error {
	ids, err := registerComponents(w)
	if err != nil {
		return eris.Wrap(err, "failed to register sample components")
	}

	if err := ecs.RegisterSystem(w, &SpawnerSystem{ids: ids}, ecs.WithHook(ecs.PreUpdate)); err != nil {
		return eris.Wrap(err, "failed to register spawner system")
	}
	if err := ecs.RegisterSystems(w, ecs.Update, &RotatorSystem{ids: ids}, &SeekerSystem{ids: ids}); err != nil {
		return eris.Wrap(err, "failed to register update systems")
	}
	if err := ecs.RegisterSystem(w, &LifetimeSystem{ids: ids}, ecs.WithHook(ecs.PostUpdate)); err != nil {
		return eris.Wrap(err, "failed to register lifetime system")
	}
	return nil
}

// Populate spawns the initial entities. Register must have been called on the world.
func Populate(w *ecs.World, rng *rand.Rand, counts Counts) error {
	randomPosition := func() Position {
		return Position{X: rng.Float64() * WorldSize, Y: rng.Float64() * WorldSize}
	}

	for range counts.Rotators {
		_, err := w.Spawn(
			randomPosition(),
			Rotation{Angle: rng.Float64() * 2 * math.Pi},
			RotationSpeed{RadiansPerSecond: rng.Float64()*2 - 1},
		)
		if err != nil {
			return eris.Wrap(err, "failed to spawn rotator")
		}
	}
	for range counts.Seekers {
		if _, err := w.Spawn(randomPosition(), Seeker{}, Nearest{}); err != nil {
			return eris.Wrap(err, "failed to spawn seeker")
		}
	}
	for range counts.Targets {
		if _, err := w.Spawn(randomPosition(), Target{}); err != nil {
			return eris.Wrap(err, "failed to spawn target")
		}
	}
	for range counts.Spawners {
		spawner := Spawner{
			Interval:  uint32(10 + rng.IntN(20)), //nolint:gosec // small
			Remaining: 100,
			Lifetime:  60,
		}
		if _, err := w.Spawn(randomPosition(), spawner); err != nil {
			return eris.Wrap(err, "failed to spawn spawner")
		}
	}
	return nil
}
