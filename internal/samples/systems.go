package samples

import (
	"math"
	"sync"

	"github.com/argus-labs/archecs/pkg/ecs"
)

// SeekerSpeed is how far a seeker moves toward its target per second.
const SeekerSpeed = 2.0

// RotatorSystem spins every entity with a rotation speed.
type RotatorSystem struct {
	ids   ids
	query *ecs.Query
}

func (s *RotatorSystem) OnCreate(ctx *ecs.SystemContext) error {
	q, err := ctx.World().Query(ecs.QueryDesc{All: []ecs.ComponentID{s.ids.rotation, s.ids.rotationSpeed}})
	if err != nil {
		return err
	}
	s.query = q
	return nil
}

func (s *RotatorSystem) OnUpdate(ctx *ecs.SystemContext) error {
	dt := ctx.DeltaTime().Seconds()
	_, err := ctx.Schedule(ecs.Job{
		Query:  s.query,
		Access: ecs.Access{}.Read(s.ids.rotationSpeed).Write(s.ids.rotation),
		Run: func(jc *ecs.JobContext, c *ecs.Chunk) error {
			rotations := ecs.WriteColumn[Rotation](jc, c)
			speeds := ecs.ReadColumn[RotationSpeed](jc, c)
			for i := range rotations {
				rotations[i].Angle = wrapAngle(rotations[i].Angle + speeds[i].RadiansPerSecond*dt)
			}
			return nil
		},
	})
	return err
}

func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// SeekerSystem finds the nearest target of every seeker and moves the seeker toward it.
type SeekerSystem struct {
	ids     ids
	targets *ecs.Query
	seekers *ecs.Query
}

func (s *SeekerSystem) OnCreate(ctx *ecs.SystemContext) error {
	var err error
	s.targets, err = ctx.World().Query(ecs.QueryDesc{All: []ecs.ComponentID{s.ids.position, s.ids.target}})
	if err != nil {
		return err
	}
	s.seekers, err = ctx.World().Query(ecs.QueryDesc{
		All: []ecs.ComponentID{s.ids.position, s.ids.seeker, s.ids.nearest},
	})
	return err
}

type targetPosition struct {
	entity ecs.Entity
	pos    Position
}

func (s *SeekerSystem) OnUpdate(ctx *ecs.SystemContext) error {
	var (
		mu      sync.Mutex
		targets []targetPosition
	)
	collect, err := ctx.Schedule(ecs.Job{
		Name:   "seeker.collect",
		Query:  s.targets,
		Access: ecs.Access{}.Read(s.ids.position, s.ids.target),
		Run: func(jc *ecs.JobContext, c *ecs.Chunk) error {
			positions := ecs.ReadColumn[Position](jc, c)
			local := make([]targetPosition, len(positions))
			for i, e := range c.Entities() {
				local[i] = targetPosition{entity: e, pos: positions[i]}
			}
			mu.Lock()
			targets = append(targets, local...)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		return err
	}
	// The seek job reads the collected targets, which the scheduler doesn't track.
	if err := ctx.Complete(collect); err != nil {
		return err
	}

	step := SeekerSpeed * ctx.DeltaTime().Seconds()
	_, err = ctx.Schedule(ecs.Job{
		Name:   "seeker.seek",
		Query:  s.seekers,
		Access: ecs.Access{}.Read(s.ids.seeker).Write(s.ids.position, s.ids.nearest),
		Run: func(jc *ecs.JobContext, c *ecs.Chunk) error {
			positions := ecs.WriteColumn[Position](jc, c)
			nearest := ecs.WriteColumn[Nearest](jc, c)
			for i := range positions {
				nearest[i] = findNearest(positions[i], targets)
				if nearest[i].Found {
					positions[i] = moveToward(positions[i], targets, nearest[i], step)
				}
			}
			return nil
		},
	})
	return err
}

func findNearest(from Position, targets []targetPosition) Nearest {
	best := Nearest{DistSq: math.Inf(1)}
	for _, t := range targets {
		dx, dy := t.pos.X-from.X, t.pos.Y-from.Y
		if d := dx*dx + dy*dy; d < best.DistSq {
			best = Nearest{Target: t.entity, DistSq: d, Found: true}
		}
	}
	if !best.Found {
		best.DistSq = 0
	}
	return best
}

func moveToward(from Position, targets []targetPosition, n Nearest, step float64) Position {
	for _, t := range targets {
		if t.entity != n.Target {
			continue
		}
		dist := math.Sqrt(n.DistSq)
		if dist <= step {
			return t.pos
		}
		return Position{
			X: from.X + (t.pos.X-from.X)/dist*step,
			Y: from.Y + (t.pos.Y-from.Y)/dist*step,
		}
	}
	return from
}

// SpawnerSystem emits targets from spawners through the deferred command buffer.
type SpawnerSystem struct {
	ids   ids
	query *ecs.Query
}

func (s *SpawnerSystem) OnCreate(ctx *ecs.SystemContext) error {
	q, err := ctx.World().Query(ecs.QueryDesc{All: []ecs.ComponentID{s.ids.spawner, s.ids.position}})
	if err != nil {
		return err
	}
	s.query = q
	return nil
}

func (s *SpawnerSystem) OnUpdate(ctx *ecs.SystemContext) error {
	commands := ctx.Commands()
	_, err := ctx.Schedule(ecs.Job{
		Query:  s.query,
		Access: ecs.Access{}.Read(s.ids.position).Write(s.ids.spawner),
		Run: func(jc *ecs.JobContext, c *ecs.Chunk) error {
			writer := commands.Writer(jc)
			spawners := ecs.WriteColumn[Spawner](jc, c)
			positions := ecs.ReadColumn[Position](jc, c)
			for i := range spawners {
				sp := &spawners[i]
				if sp.Remaining == 0 {
					continue
				}
				if sp.Cooldown > 0 {
					sp.Cooldown--
					continue
				}
				if sp.Interval > 0 {
					sp.Cooldown = sp.Interval - 1
				}
				sp.Remaining--
				writer.RecordSpawn(positions[i], Target{}, Lifetime{Ticks: sp.Lifetime})
			}
			return nil
		},
	})
	return err
}

// LifetimeSystem counts down lifetimes and destroys the entities that run out.
type LifetimeSystem struct {
	ids   ids
	query *ecs.Query
}

func (s *LifetimeSystem) OnCreate(ctx *ecs.SystemContext) error {
	q, err := ctx.World().Query(ecs.QueryDesc{All: []ecs.ComponentID{s.ids.lifetime}})
	if err != nil {
		return err
	}
	s.query = q
	return nil
}

func (s *LifetimeSystem) OnUpdate(ctx *ecs.SystemContext) error {
	commands := ctx.Commands()
	_, err := ctx.Schedule(ecs.Job{
		Query:  s.query,
		Access: ecs.Access{}.Write(s.ids.lifetime),
		Run: func(jc *ecs.JobContext, c *ecs.Chunk) error {
			writer := commands.Writer(jc)
			lifetimes := ecs.WriteColumn[Lifetime](jc, c)
			for i, e := range c.Entities() {
				if lifetimes[i].Ticks > 0 {
					lifetimes[i].Ticks--
				}
				if lifetimes[i].Ticks == 0 {
					writer.RecordDestroy(e)
				}
			}
			return nil
		},
	})
	return err
}
