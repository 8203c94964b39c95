package samples

import "github.com/argus-labs/archecs/pkg/ecs"

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Position) Name() string { return "position" }

type Rotation struct {
	Angle float64 `json:"angle"` // Radians, kept in [0, 2π)
}

func (Rotation) Name() string { return "rotation" }

type RotationSpeed struct {
	RadiansPerSecond float64 `json:"radians_per_second"`
}

func (RotationSpeed) Name() string { return "rotation_speed" }

// Seeker marks entities that track the nearest target.
type Seeker struct{}

func (Seeker) Name() string { return "seeker" }

// Target marks entities that seekers look for.
type Target struct{}

func (Target) Name() string { return "target" }

// Nearest holds the closest target found for a seeker during the last update.
type Nearest struct {
	Target ecs.Entity `json:"target"`
	DistSq float64    `json:"dist_sq"`
	Found  bool       `json:"found"`
}

func (Nearest) Name() string { return "nearest" }

// Spawner emits a target every Interval ticks until Remaining reaches zero.
type Spawner struct {
	Interval  uint32 `json:"interval"`
	Remaining uint32 `json:"remaining"`
	Cooldown  uint32 `json:"cooldown"`
	Lifetime  uint32 `json:"lifetime"` // Lifetime of spawned targets in ticks
}

func (Spawner) Name() string { return "spawner" }

// Lifetime is the number of ticks an entity has left before it is destroyed.
type Lifetime struct {
	Ticks uint32 `json:"ticks"`
}

func (Lifetime) Name() string { return "lifetime" }

// ids caches the component IDs of a world.
type ids struct {
	position      ecs.ComponentID
	rotation      ecs.ComponentID
	rotationSpeed ecs.ComponentID
	seeker        ecs.ComponentID
	target        ecs.ComponentID
	nearest       ecs.ComponentID
	spawner       ecs.ComponentID
	lifetime      ecs.ComponentID
}

func registerComponents(w *ecs.World) (ids, error) {
	var (
		out ids
		err error
	)
	register := func(dst *ecs.ComponentID, fn func(*ecs.World) (ecs.ComponentID, error)) {
		if err != nil {
			return
		}
		*dst, err = fn(w)
	}
	register(&out.position, ecs.RegisterComponent[Position])
	register(&out.rotation, ecs.RegisterComponent[Rotation])
	register(&out.rotationSpeed, ecs.RegisterComponent[RotationSpeed])
	register(&out.seeker, ecs.RegisterComponent[Seeker])
	register(&out.target, ecs.RegisterComponent[Target])
	register(&out.nearest, ecs.RegisterComponent[Nearest])
	register(&out.spawner, ecs.RegisterComponent[Spawner])
	register(&out.lifetime, ecs.RegisterComponent[Lifetime])
	return out, err
}
