package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2d-phantom/recorder/internal/blueprint"
	"github.com/b2d-phantom/recorder/internal/cache"
	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/internal/sim/memsim"
	"github.com/b2d-phantom/recorder/pkg/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func box(class, id, typeID string, x, y float64) core.BoundingBox {
	return core.BoundingBox{
		Class:    class,
		ID:       id,
		TypeID:   typeID,
		Location: r3.Vector{X: x, Y: y, Z: 0.5},
	}
}

func frameOf(cloudiness float64, boxes ...core.BoundingBox) *core.Frame {
	return &core.Frame{BoundingBoxes: boxes, Weather: core.Weather{Cloudiness: cloudiness}}
}

func newReconciler(t *testing.T, w *memsim.World) (*Reconciler, *cache.ActorCache) {
	t.Helper()
	names, err := w.Blueprints(context.Background())
	require.NoError(t, err)
	actors := cache.NewActorCache()
	return NewReconciler(w, blueprint.NewResolver(blueprint.NewSet(names...)), actors, quietLogger()), actors
}

func TestReconciler_FollowsFrames(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	rec, actors := newReconciler(t, w)

	a := box(core.ClassVehicle, "A", "vehicle.tesla.model3", 0, 0)
	b := box(core.ClassVehicle, "B", "vehicle.tesla.model3", 10, 0)
	c := box(core.ClassWalker, "C", "", 20, 0)

	res, err := rec.Apply(ctx, frameOf(10, a, b))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Spawned)
	assert.Equal(t, []string{"A", "B"}, actors.IDs())

	moved := b
	moved.Location.X = 12
	res, err = rec.Apply(ctx, frameOf(20, moved))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, []string{"B"}, actors.IDs())

	liveB, ok := actors.Get("B")
	require.True(t, ok)
	state, ok := w.Actor(liveB.ID)
	require.True(t, ok)
	assert.Equal(t, 12.0, state.Transform.Location.X)
	assert.False(t, state.Physics)

	res, err = rec.Apply(ctx, frameOf(30, moved, c))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Spawned)
	assert.Equal(t, []string{"B", "C"}, actors.IDs())
	assert.Len(t, w.Actors(), 2)

	weather, set := w.Weather()
	require.True(t, set)
	assert.Equal(t, 30.0, weather.Cloudiness)
	assert.False(t, res.HasEgo)
}

func TestReconciler_FailedIDsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	attempts := 0
	w.OnSpawn(func(bp string, _ core.Transform) error {
		if bp == blueprint.Pedestrian {
			attempts++
			return errors.New("no navmesh")
		}
		return nil
	})
	rec, actors := newReconciler(t, w)

	walker := box(core.ClassWalker, "W", "", 5, 5)
	car := box(core.ClassVehicle, "V", "vehicle.tesla.model3", 0, 0)

	for i := 0; i < 3; i++ {
		res, err := rec.Apply(ctx, frameOf(0, walker, car))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, 1, res.Failed)
		} else {
			assert.Zero(t, res.Failed)
		}
	}

	assert.Equal(t, 1, attempts)
	assert.True(t, actors.IsFailed("W"))
	assert.Equal(t, []string{"V"}, actors.IDs())
	assert.Equal(t, 1, actors.FailedCount())
}

func TestReconciler_CollisionRetry(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	var tried []float64
	w.OnSpawn(func(_ string, tr core.Transform) error {
		tried = append(tried, tr.Location.Z)
		if tr.Location.Z < 1 {
			return sim.ErrSpawnCollision
		}
		return nil
	})
	rec, actors := newReconciler(t, w)

	res, err := rec.Apply(ctx, frameOf(0, box(core.ClassVehicle, "A", "vehicle.tesla.model3", 1, 2)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Spawned)
	assert.Equal(t, []float64{0.5, 2.5}, tried)

	a, ok := actors.Get("A")
	require.True(t, ok)
	state, _ := w.Actor(a.ID)
	assert.Equal(t, 0.5, state.Transform.Location.Z, "actor is put back at the recorded pose")
}

func TestReconciler_MeshPathBlueprint(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	rec, actors := newReconciler(t, w)

	_, err := rec.Apply(ctx, frameOf(0,
		box(core.ClassVehicle, "L", "/Game/Carla/Static/Car/4Wheeled/Lincoln/SM_LincolnParked.SM_LincolnParked", 0, 0),
		box(core.ClassVehicle, "X", "/Game/Carla/Static/Car/Unknown/SM_Thing", 10, 0),
	))
	require.NoError(t, err)

	l, _ := actors.Get("L")
	x, _ := actors.Get("X")
	assert.Equal(t, "vehicle.lincoln.mkz_2020", l.TypeID)
	assert.Equal(t, blueprint.GenericVehicle, x.TypeID)
}

func TestReconciler_EgoSpectatorAndHook(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	rec, _ := newReconciler(t, w)

	var hooked []uint32
	rec.OnEgoSpawned = func(_ context.Context, ego sim.Actor) error {
		hooked = append(hooked, ego.ID)
		return errors.New("sensor unavailable")
	}

	ego := box(core.ClassEgoVehicle, "E", blueprint.EgoVehicle, 3, 4)
	ego.Rotation.Yaw = 90
	for i := 0; i < 2; i++ {
		res, err := rec.Apply(ctx, frameOf(0, ego))
		require.NoError(t, err, "hook errors do not fail the frame")
		assert.True(t, res.HasEgo)
		assert.Equal(t, ego.Transform(), res.Ego)
	}

	assert.Len(t, hooked, 1)
	assert.Equal(t, core.ChaseCamera(ego.Transform()), w.Spectator())
}

func TestReconciler_DestroyErrorsStillRemove(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	rec, actors := newReconciler(t, w)

	_, err := rec.Apply(ctx, frameOf(0, box(core.ClassVehicle, "A", "vehicle.tesla.model3", 0, 0)))
	require.NoError(t, err)

	w.OnDestroy(func(uint32) error { return errors.New("actor busy") })
	res, err := rec.Apply(ctx, frameOf(0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, actors.Len())
}

func TestReconciler_Close(t *testing.T) {
	ctx := context.Background()
	w := memsim.NewWorld("Town01", memsim.Options{})
	rec, actors := newReconciler(t, w)

	_, err := rec.Apply(ctx, frameOf(0,
		box(core.ClassVehicle, "A", "vehicle.tesla.model3", 0, 0),
		box(core.ClassVehicle, "B", "vehicle.tesla.model3", 10, 0),
	))
	require.NoError(t, err)

	require.NoError(t, rec.Close(ctx))
	assert.Zero(t, actors.Len())
	assert.Empty(t, w.Actors())
	assert.NoError(t, rec.Close(ctx))
}

func TestReconciler_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := memsim.NewWorld("Town01", memsim.Options{})
	rec, actors := newReconciler(t, w)

	_, err := rec.Apply(ctx, frameOf(0, box(core.ClassVehicle, "A", "vehicle.tesla.model3", 0, 0)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, actors.IsFailed("A"), "cancellation does not mark ids failed")
}
