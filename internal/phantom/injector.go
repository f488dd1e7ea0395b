// Package phantom spawns decoy props around the ego actor and records
// them as extra annotation entries.
package phantom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// BaseType is recorded for every phantom entry.
const BaseType = "static"

// candidateHalfSize is the footprint assumed for a prop before it is
// spawned and its real extent known.
const candidateHalfSize = 0.5

// Config holds the randomisation ranges.
type Config struct {
	Min         int
	Max         int
	RangeMin    float64
	RangeMax    float64
	RotationMin float64
	RotationMax float64
	// PersistMin and PersistMax bound the lifetime in frames. 1..1 keeps a
	// phantom for the frame it was spawned in only.
	PersistMin   int
	PersistMax   int
	Allowed      []string
	AvoidOverlap bool
}

// Validate checks the ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Min < 0 || c.Max < c.Min {
		errs = append(errs, fmt.Errorf("spawn count range [%d,%d] is invalid", c.Min, c.Max))
	}
	if c.RangeMin < 0 || c.RangeMax < c.RangeMin {
		errs = append(errs, fmt.Errorf("spawn distance range [%g,%g] is invalid", c.RangeMin, c.RangeMax))
	}
	if c.RotationMax < c.RotationMin {
		errs = append(errs, fmt.Errorf("spawn rotation range [%g,%g] is invalid", c.RotationMin, c.RotationMax))
	}
	if c.PersistMin < 1 || c.PersistMax < c.PersistMin {
		errs = append(errs, fmt.Errorf("persist range [%d,%d] is invalid", c.PersistMin, c.PersistMax))
	}
	if c.Max > 0 && len(c.Allowed) == 0 {
		errs = append(errs, errors.New("no allowed objects configured"))
	}
	return errors.Join(errs...)
}

// Enabled reports whether any phantom can be spawned.
func (c Config) Enabled() bool { return c.Max > 0 }

type phantom struct {
	actor     sim.Actor
	entry     core.BoundingBox
	lastFrame int
}

// Injector owns the phantom actors of one instance.
type Injector struct {
	world  sim.World
	cfg    Config
	rng    *rand.Rand
	logger *slog.Logger
	alive  []*phantom
}

// New returns an Injector. rng drives every random choice.
func New(world sim.World, cfg Config, rng *rand.Rand, logger *slog.Logger) (*Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Injector{world: world, cfg: cfg, rng: rng, logger: logger}, nil
}

// Result is what Inject produced for one frame.
type Result struct {
	// Entries are the annotation entries of every phantom alive in the
	// frame, older phantoms first.
	Entries []core.BoundingBox
	Spawned int
	Failed  int
}

// Inject spawns this frame's phantoms around ego. annotated are the
// frame's recorded boxes, used for overlap avoidance.
func (in *Injector) Inject(ctx context.Context, frameIdx int, ego core.Transform, annotated []core.BoundingBox) (Result, error) {
	var res Result
	for _, p := range in.alive {
		res.Entries = append(res.Entries, p.entry)
	}
	if !in.cfg.Enabled() {
		return res, nil
	}

	var occupied *overlapIndex
	if in.cfg.AvoidOverlap {
		occupied = in.occupied(annotated)
	}

	count := in.cfg.Min + in.rng.IntN(in.cfg.Max-in.cfg.Min+1)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		distance := in.uniform(in.cfg.RangeMin, in.cfg.RangeMax)
		angle := in.rng.Float64() * 2 * math.Pi
		yaw := in.uniform(in.cfg.RotationMin, in.cfg.RotationMax)
		bp := in.cfg.Allowed[in.rng.IntN(len(in.cfg.Allowed))]

		pose := core.Transform{
			Location: r3.Vector{
				X: ego.Location.X + distance*math.Cos(angle),
				Y: ego.Location.Y + distance*math.Sin(angle),
				Z: ego.Location.Z,
			},
			Rotation: core.Rotation{Yaw: yaw},
		}

		if occupied != nil {
			fp, err := Footprint(pose.Location, r3.Vector{X: candidateHalfSize, Y: candidateHalfSize}, yaw)
			if err == nil && occupied.hits(fp) {
				in.logger.Debug("Skipping overlapping phantom", "frame", frameIdx, "index", i)
				continue
			}
		}

		actor, err := in.world.TrySpawn(ctx, bp, pose)
		if err != nil {
			in.logger.Debug("Failed to spawn phantom", "blueprint", bp, "error", err)
			res.Failed++
			continue
		}
		if err := in.world.SetSimulatePhysics(ctx, actor.ID, false); err != nil {
			in.logger.Debug("Failed to disable phantom physics", "actor", actor.ID, "error", err)
			_ = in.world.Destroy(ctx, actor.ID)
			res.Failed++
			continue
		}

		extent := actor.Extent
		p := &phantom{
			actor: actor,
			entry: core.BoundingBox{
				Class:    core.ClassRandomObject,
				ID:       fmt.Sprintf("random_%d_%d", frameIdx, i),
				TypeID:   bp,
				BaseType: BaseType,
				Location: pose.Location,
				Rotation: pose.Rotation,
				Extent:   &extent,
			},
			lastFrame: frameIdx + in.lifetime() - 1,
		}
		in.alive = append(in.alive, p)
		res.Entries = append(res.Entries, p.entry)
		res.Spawned++

		if occupied != nil {
			if fp, err := Footprint(pose.Location, extent, yaw); err == nil {
				occupied.add(fp)
			}
		}
	}
	return res, nil
}

func (in *Injector) occupied(annotated []core.BoundingBox) *overlapIndex {
	idx := &overlapIndex{}
	for _, bb := range annotated {
		if bb.Extent == nil {
			continue
		}
		if fp, err := Footprint(bb.Location, *bb.Extent, bb.Rotation.Yaw); err == nil {
			idx.add(fp)
		}
	}
	for _, p := range in.alive {
		if fp, err := Footprint(p.entry.Location, *p.entry.Extent, p.entry.Rotation.Yaw); err == nil {
			idx.add(fp)
		}
	}
	return idx
}

func (in *Injector) uniform(lo, hi float64) float64 {
	return lo + in.rng.Float64()*(hi-lo)
}

func (in *Injector) lifetime() int {
	return in.cfg.PersistMin + in.rng.IntN(in.cfg.PersistMax-in.cfg.PersistMin+1)
}

// Alive returns the number of phantoms currently in the world.
func (in *Injector) Alive() int { return len(in.alive) }

// Expire destroys the phantoms whose lifetime ends with frameIdx.
func (in *Injector) Expire(ctx context.Context, frameIdx int) error {
	var errs error
	kept := in.alive[:0]
	for _, p := range in.alive {
		if p.lastFrame > frameIdx {
			kept = append(kept, p)
			continue
		}
		if err := in.world.Destroy(ctx, p.actor.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("phantom %s: %w", p.entry.ID, err))
		}
	}
	clear(in.alive[len(kept):])
	in.alive = kept
	return errs
}

// Close destroys every phantom still alive.
func (in *Injector) Close(ctx context.Context) error {
	return in.Expire(ctx, math.MaxInt)
}
