// Package replay drives the simulator through recorded instances: the
// Reconciler keeps the world's actors in step with each frame and the
// Runner walks a dataset frame by frame.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/internal/blueprint"
	"github.com/b2d-phantom/recorder/internal/cache"
	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// CollisionLift is how far a blocked spawn is raised before the retry.
const CollisionLift = 2.0

// Reconciler maps annotation ids onto live simulator actors.
type Reconciler struct {
	world    sim.World
	resolver *blueprint.Resolver
	actors   *cache.ActorCache
	logger   *slog.Logger

	// OnEgoSpawned runs once for every ego actor spawned. An error is
	// logged and does not fail the frame.
	OnEgoSpawned func(ctx context.Context, ego sim.Actor) error
}

func NewReconciler(world sim.World, resolver *blueprint.Resolver, actors *cache.ActorCache, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		world:    world,
		resolver: resolver,
		actors:   actors,
		logger:   logger,
	}
}

// Result summarises one Apply call.
type Result struct {
	Spawned int
	Updated int
	Removed int
	// Failed counts ids that entered the failed set during this frame.
	Failed int
	// Ego is the recorded ego pose, valid when HasEgo is set.
	Ego    core.Transform
	HasEgo bool
}

// Apply brings the world in line with frame f. The returned error is fatal
// for the instance; per-actor spawn failures are not errors.
func (r *Reconciler) Apply(ctx context.Context, f *core.Frame) (Result, error) {
	var res Result

	for _, bb := range f.BoundingBoxes {
		if r.actors.IsFailed(bb.ID) {
			continue
		}
		if a, ok := r.actors.Get(bb.ID); ok {
			if err := r.world.SetTransform(ctx, a.ID, bb.Transform()); err != nil {
				return res, fmt.Errorf("failed to move actor %s: %w", bb.ID, err)
			}
			res.Updated++
			continue
		}

		spawned, err := r.spawn(ctx, bb)
		if err != nil {
			return res, err
		}
		if spawned {
			res.Spawned++
		} else {
			res.Failed++
		}
	}

	present := f.PresentIDs()
	for _, id := range r.actors.Absent(present) {
		a, _ := r.actors.Remove(id)
		if err := r.world.Destroy(ctx, a.ID); err != nil {
			r.logger.Warn("Failed to destroy actor", "id", id, "actor", a.ID, "error", err)
		}
		res.Removed++
	}

	if ego, ok := f.Ego(); ok {
		res.Ego = ego.Transform()
		res.HasEgo = true
		if _, live := r.actors.Get(ego.ID); live {
			if err := r.world.SetSpectatorTransform(ctx, core.ChaseCamera(res.Ego)); err != nil {
				r.logger.Warn("Failed to move spectator", "error", err)
			}
		}
	}

	if err := r.world.SetWeather(ctx, f.Weather); err != nil {
		return res, fmt.Errorf("failed to set weather: %w", err)
	}
	return res, nil
}

// spawn creates the actor for bb. It reports false when the id was moved
// to the failed set; the error is reserved for cancellation.
func (r *Reconciler) spawn(ctx context.Context, bb core.BoundingBox) (bool, error) {
	res := r.resolver.Explain(bb.Class, bb.TypeID)
	pose := bb.Transform()

	a, err := r.world.TrySpawn(ctx, res.Blueprint, pose)
	if errors.Is(err, sim.ErrSpawnCollision) {
		a, err = r.world.TrySpawn(ctx, res.Blueprint, pose.Raised(CollisionLift))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		r.fail(bb, res, err)
		return false, nil
	}

	if err := r.settle(ctx, a, pose); err != nil {
		if dErr := r.world.Destroy(ctx, a.ID); dErr != nil {
			r.logger.Debug("Failed to destroy half-spawned actor", "actor", a.ID, "error", dErr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		r.fail(bb, res, err)
		return false, nil
	}

	r.actors.Add(bb.ID, a)
	r.logger.Debug("Spawned actor",
		"id", bb.ID,
		"class", bb.Class,
		"blueprint", res.Blueprint,
		"strategy", res.Strategy,
		"actor", a.ID)

	if bb.Class == core.ClassEgoVehicle && r.OnEgoSpawned != nil {
		if err := r.OnEgoSpawned(ctx, a); err != nil {
			r.logger.Warn("Ego spawn hook failed", "id", bb.ID, "error", err)
		}
	}
	return true, nil
}

// settle freezes a fresh actor at the exact recorded pose.
func (r *Reconciler) settle(ctx context.Context, a sim.Actor, pose core.Transform) error {
	if err := r.world.SetSimulatePhysics(ctx, a.ID, false); err != nil {
		return fmt.Errorf("disable physics: %w", err)
	}
	if err := r.world.SetTransform(ctx, a.ID, pose); err != nil {
		return fmt.Errorf("set transform: %w", err)
	}
	return nil
}

func (r *Reconciler) fail(bb core.BoundingBox, res blueprint.Resolution, err error) {
	r.actors.MarkFailed(bb.ID)
	r.logger.Warn("Failed to spawn actor",
		"id", bb.ID,
		"class", bb.Class,
		"typeId", bb.TypeID,
		"blueprint", res.Blueprint,
		"error", err)
}

// Close destroys every live actor. All destroys are attempted.
func (r *Reconciler) Close(ctx context.Context) error {
	var errs error
	for _, id := range r.actors.IDs() {
		a, _ := r.actors.Remove(id)
		if err := r.world.Destroy(ctx, a.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("actor %s: %w", id, err))
		}
	}
	return errs
}
