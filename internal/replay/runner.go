package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/internal/anno"
	"github.com/b2d-phantom/recorder/internal/blueprint"
	"github.com/b2d-phantom/recorder/internal/cache"
	"github.com/b2d-phantom/recorder/internal/capture"
	"github.com/b2d-phantom/recorder/internal/phantom"
	"github.com/b2d-phantom/recorder/internal/session"
	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/internal/storage"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// DefaultFixedDelta is the simulated time per tick in synchronous mode.
const DefaultFixedDelta = 0.05

// DefaultProgressEvery is how often, in frames, progress is logged.
const DefaultProgressEvery = 50

// Options configure a Runner.
type Options struct {
	FixedDelta float64
	// SensorEnabled attaches a lidar to the ego actor.
	SensorEnabled bool
	Capture       capture.Config
	Phantoms      phantom.Config
	// Seed drives phantom randomisation. Zero picks a time-based seed.
	Seed          uint64
	ProgressEvery int
	Validate      bool
}

// ReplayOptions returns options for plain path replay: no sensor, no
// phantoms.
func ReplayOptions(fixedDelta float64) Options {
	return Options{FixedDelta: fixedDelta, ProgressEvery: DefaultProgressEvery, Validate: true}
}

// Runner replays dataset instances against a simulator.
type Runner struct {
	client  sim.Client
	store   storage.Backend
	opts    Options
	reader  *anno.Reader
	session *session.Context
	metrics *Metrics
	logger  *slog.Logger
}

// NewRunner builds a Runner. store may be nil for no output; sess and
// metrics may be nil.
func NewRunner(client sim.Client, store storage.Backend, opts Options, sess *session.Context, metrics *Metrics, logger *slog.Logger) (*Runner, error) {
	if opts.FixedDelta <= 0 {
		opts.FixedDelta = DefaultFixedDelta
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Phantoms.Enabled() {
		if err := opts.Phantoms.Validate(); err != nil {
			return nil, fmt.Errorf("invalid phantom config: %w", err)
		}
	}
	if store == nil {
		store = storage.Nop{}
	}
	if sess == nil {
		sess = session.NewContext("")
	}
	if metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		metrics = m
	}

	reader, err := anno.NewReader(opts.Validate)
	if err != nil {
		return nil, err
	}

	return &Runner{
		client:  client,
		store:   store,
		opts:    opts,
		reader:  reader,
		session: sess,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Run replays every instance found under root. A failing instance is
// logged and skipped; cancellation stops the batch and is returned.
func (r *Runner) Run(ctx context.Context, root string) ([]core.InstanceSummary, error) {
	instances, err := anno.Discover(root)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Starting replay", "root", root, "instances", len(instances), "run", r.session.RunID())

	var summaries []core.InstanceSummary
	for i, inst := range instances {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Replay interrupted", "remaining", len(instances)-i)
			return summaries, err
		}

		sum := r.RunInstance(ctx, inst)
		summaries = append(summaries, sum)
		if sum.Err != nil {
			if errors.Is(sum.Err, context.Canceled) {
				return summaries, sum.Err
			}
			r.logger.Error("Instance failed", "instance", inst.Name, "error", sum.Err)
			continue
		}
		r.logger.Info("Instance done",
			"instance", inst.Name,
			"frames", sum.Frames,
			"scans", sum.Scans,
			"scansDropped", sum.ScansDropped,
			"spawnFailed", sum.SpawnFailed,
			"phantoms", sum.Phantoms,
			"duration", sum.Duration)
	}
	return summaries, nil
}

// RunInstance replays one instance. Errors fatal to the instance are
// reported in the summary's Err.
func (r *Runner) RunInstance(ctx context.Context, inst core.Instance) (sum core.InstanceSummary) {
	sum = core.InstanceSummary{
		RunID:     r.session.RunID(),
		Instance:  inst.Name,
		StartedAt: time.Now(),
	}
	defer func() {
		sum.Duration = time.Since(sum.StartedAt)
	}()

	frames, err := anno.ListFrames(inst.AnnoDir)
	if err != nil {
		sum.Err = err
		return sum
	}
	if inst.MapName == "" {
		if inst.MapName, err = anno.MapName(inst.Name); err != nil {
			sum.Err = err
			return sum
		}
	}
	sum.MapName = inst.MapName

	r.session.StartInstance(inst.Name, inst.MapName)
	defer r.session.EndInstance()

	world, err := r.client.LoadWorld(ctx, inst.MapName)
	if err != nil {
		sum.Err = fmt.Errorf("failed to load world %s: %w", inst.MapName, err)
		return sum
	}
	original, err := world.Settings(ctx)
	if err != nil {
		sum.Err = fmt.Errorf("failed to read world settings: %w", err)
		return sum
	}
	if err := world.ApplySettings(ctx, sim.Settings{
		SynchronousMode:   true,
		FixedDeltaSeconds: r.opts.FixedDelta,
		NoRenderingMode:   original.NoRenderingMode,
	}); err != nil {
		sum.Err = fmt.Errorf("failed to enable synchronous mode: %w", err)
		r.restore(world, original)
		return sum
	}

	if err := r.store.StartInstance(sum.RunID, inst); err != nil {
		r.logger.Warn("Storage failed to start instance", "error", err)
	}

	st := &instanceState{world: world, actors: cache.NewActorCache()}
	defer func() {
		sum.Duration = time.Since(sum.StartedAt)
		st.cleanup(r.logger)
		r.restore(world, original)
		sum.SpawnFailed = st.actors.FailedCount()
		if err := r.store.EndInstance(sum); err != nil {
			r.logger.Warn("Storage failed to end instance", "error", err)
		}
	}()

	if err := r.prepare(ctx, st); err != nil {
		sum.Err = err
		return sum
	}

	r.logger.Info("Replaying instance", "instance", inst.Name, "map", inst.MapName, "frames", len(frames))
	for i, path := range frames {
		if err := ctx.Err(); err != nil {
			sum.Err = err
			return sum
		}
		if err := r.step(ctx, st, i, path, &sum); err != nil {
			sum.Err = err
			return sum
		}
		if (i+1)%r.opts.ProgressEvery == 0 {
			r.logger.Info("Progress", "frame", i+1, "of", len(frames), "live", st.actors.Len())
		}
	}
	return sum
}

// instanceState is what one instance owns in the world.
type instanceState struct {
	world    sim.World
	actors   *cache.ActorCache
	rec      *Reconciler
	adapter  *capture.Adapter
	injector *phantom.Injector
}

func (r *Runner) prepare(ctx context.Context, st *instanceState) error {
	names, err := st.world.Blueprints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list blueprints: %w", err)
	}
	resolver := blueprint.NewResolver(blueprint.NewSet(names...))
	st.rec = NewReconciler(st.world, resolver, st.actors, r.logger)

	if r.opts.SensorEnabled {
		st.adapter = capture.NewAdapter(st.world, r.opts.Capture, r.logger)
		st.rec.OnEgoSpawned = func(ctx context.Context, ego sim.Actor) error {
			if st.adapter.Attached() {
				return nil
			}
			return st.adapter.Attach(ctx, ego)
		}
	}

	if r.opts.Phantoms.Enabled() {
		seed := r.opts.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		st.injector, err = phantom.New(st.world, r.opts.Phantoms, rand.New(rand.NewPCG(seed, seed>>1)), r.logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) step(ctx context.Context, st *instanceState, i int, path string, sum *core.InstanceSummary) error {
	start := time.Now()
	r.session.SetFrame(i)

	frame, err := r.reader.ReadFrame(path)
	if err != nil {
		return err
	}
	if err := r.store.RecordOriginal(i, frame); err != nil {
		r.logger.Warn("Failed to record original frame", "error", err)
	}

	res, err := st.rec.Apply(ctx, frame)
	if err != nil {
		return err
	}

	stats := core.FrameStats{
		Index:   i,
		Boxes:   len(frame.BoundingBoxes),
		Spawned: res.Spawned,
		Removed: res.Removed,
		Failed:  res.Failed,
	}

	var extra []core.BoundingBox
	if st.injector != nil && res.HasEgo {
		pr, err := st.injector.Inject(ctx, i, res.Ego, frame.BoundingBoxes)
		if err != nil {
			return fmt.Errorf("failed to inject phantoms: %w", err)
		}
		extra = pr.Entries
		stats.Phantoms = pr.Spawned
		sum.Phantoms += pr.Spawned
	}

	if stats.SimFrame, err = st.world.Tick(ctx); err != nil {
		return fmt.Errorf("failed to tick: %w", err)
	}

	if st.adapter != nil && st.adapter.Attached() {
		if s, ok := st.adapter.Collect(ctx); ok {
			stats.ScanPoints = s.Len()
			if err := r.store.RecordScan(i, &s); err != nil {
				r.logger.Warn("Failed to record scan", "frame", i, "error", err)
			} else {
				stats.ScanSaved = true
			}
		} else {
			r.logger.Debug("Scan not ready", "frame", i)
		}
		if stats.ScanSaved {
			sum.Scans++
		} else {
			sum.ScansDropped++
		}
	}

	stats.Live = st.actors.Len()
	stats.StepTime = time.Since(start)
	if err := r.store.RecordFrame(i, frame.WithExtra(extra...), stats); err != nil {
		r.logger.Warn("Failed to record frame", "frame", i, "error", err)
	}

	if st.injector != nil {
		if err := st.injector.Expire(ctx, i); err != nil {
			r.logger.Warn("Failed to remove phantoms", "frame", i, "error", err)
		}
	}

	sum.Frames++
	r.metrics.frame(ctx, sum.Instance, frameCounts{
		scanSaved:    stats.ScanSaved,
		scanExpected: st.adapter != nil && st.adapter.Attached(),
		failed:       stats.Failed,
		phantoms:     stats.Phantoms,
	})
	return nil
}

// cleanup releases everything the instance spawned. Every step runs; errors
// are logged.
func (st *instanceState) cleanup(logger *slog.Logger) {
	ctx := context.Background()
	var errs error
	if st.adapter != nil {
		errs = multierr.Append(errs, st.adapter.Close(ctx))
	}
	if st.injector != nil {
		errs = multierr.Append(errs, st.injector.Close(ctx))
	}
	if st.rec != nil {
		errs = multierr.Append(errs, st.rec.Close(ctx))
	}
	for _, err := range multierr.Errors(errs) {
		logger.Warn("Cleanup error", "error", err)
	}
}

func (r *Runner) restore(world sim.World, original sim.Settings) {
	if err := world.ApplySettings(context.Background(), original); err != nil {
		r.logger.Warn("Failed to restore world settings", "error", err)
	}
}
