// Package memsim is an in-process simulator world. It backs the tests and
// the dry-run mode that walks a dataset without a simulator.
package memsim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/b2d-phantom/recorder/internal/blueprint"
	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// DefaultExtent is used for prototypes without a configured extent.
var DefaultExtent = r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}

// Options configure a simulated world.
type Options struct {
	// Blueprints is the prototype library. Empty means DefaultBlueprints.
	Blueprints []string
	Extents    map[string]r3.Vector
	// PointsPerScan is the number of returns in each synthetic lidar sample.
	PointsPerScan int
	// SyncSensor delivers lidar samples inside Tick instead of from a
	// separate goroutine.
	SyncSensor bool
	// SensorDelay delays asynchronous delivery.
	SensorDelay time.Duration
}

// DefaultBlueprints covers the prototypes referenced by the resolver and
// the phantom injector.
func DefaultBlueprints() []string {
	names := []string{
		blueprint.GenericVehicle,
		blueprint.EgoVehicle,
		blueprint.Pedestrian,
		blueprint.SignProp,
		blueprint.Fallback,
		blueprint.Lidar,
		"static.prop.trafficcone01",
		"static.prop.trafficwarning",
		"static.prop.streetbarrier",
		"static.prop.constructioncone",
	}
	for _, e := range blueprint.MeshTable {
		names = append(names, e.Blueprint)
	}
	return names
}

// Client hands out worlds.
type Client struct {
	mu      sync.Mutex
	opts    Options
	world   *World
	loaded  []string
	loadErr map[string]error
	closed  bool
}

var _ sim.Client = (*Client)(nil)

func NewClient(opts Options) *Client {
	return &Client{opts: opts, loadErr: make(map[string]error)}
}

// FailLoad makes LoadWorld fail for mapName.
func (c *Client) FailLoad(mapName string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadErr[mapName] = err
}

// LoadWorld creates a fresh world for mapName.
func (c *Client) LoadWorld(ctx context.Context, mapName string) (sim.World, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client closed")
	}
	c.loaded = append(c.loaded, mapName)
	if err, ok := c.loadErr[mapName]; ok {
		return nil, err
	}
	c.world = NewWorld(mapName, c.opts)
	return c.world, nil
}

// World returns the most recently loaded world.
func (c *Client) World() *World {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.world
}

// Loaded returns the map names requested so far.
func (c *Client) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.loaded...)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ActorState is the world-side record of an actor.
type ActorState struct {
	sim.Actor
	Blueprint string
	Transform core.Transform
	Physics   bool
	Parent    uint32
}

// Counters count world calls.
type Counters struct {
	SpawnAttempts int
	Spawned       int
	Destroyed     int
	Transforms    int
	Ticks         int
}

// World is an in-memory sim.World.
type World struct {
	mu         sync.Mutex
	mapName    string
	opts       Options
	library    blueprint.Set
	settings   sim.Settings
	applied    []sim.Settings
	nextID     uint32
	actors     map[uint32]*ActorState
	sensors    map[uint32]*Sensor
	weather    core.Weather
	weatherSet bool
	spectator  core.Transform
	frame      uint64
	counters   Counters

	spawnHook   func(bp string, t core.Transform) error
	destroyHook func(id uint32) error
	wg          sync.WaitGroup
}

var _ sim.World = (*World)(nil)

// NewWorld builds a world directly, bypassing a Client.
func NewWorld(mapName string, opts Options) *World {
	names := opts.Blueprints
	if len(names) == 0 {
		names = DefaultBlueprints()
	}
	if opts.PointsPerScan <= 0 {
		opts.PointsPerScan = 32
	}
	return &World{
		mapName: mapName,
		opts:    opts,
		library: blueprint.NewSet(names...),
		nextID:  100,
		actors:  make(map[uint32]*ActorState),
		sensors: make(map[uint32]*Sensor),
	}
}

// MapName returns the loaded map.
func (w *World) MapName() string { return w.mapName }

// OnSpawn installs a hook consulted on every spawn attempt; a non-nil error
// fails the attempt.
func (w *World) OnSpawn(fn func(bp string, t core.Transform) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spawnHook = fn
}

// OnDestroy installs a hook consulted on every destroy.
func (w *World) OnDestroy(fn func(id uint32) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.destroyHook = fn
}

func (w *World) Settings(ctx context.Context) (sim.Settings, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings, ctx.Err()
}

func (w *World) ApplySettings(ctx context.Context, s sim.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings = s
	w.applied = append(w.applied, s)
	return nil
}

// AppliedSettings returns every settings value applied, in order.
func (w *World) AppliedSettings() []sim.Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sim.Settings(nil), w.applied...)
}

func (w *World) Blueprints(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.library.Names(), nil
}

func (w *World) TrySpawn(ctx context.Context, bp string, t core.Transform) (sim.Actor, error) {
	if err := ctx.Err(); err != nil {
		return sim.Actor{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnLocked(bp, t, 0)
}

func (w *World) spawnLocked(bp string, t core.Transform, parent uint32) (sim.Actor, error) {
	w.counters.SpawnAttempts++
	if !w.library.Has(bp) {
		return sim.Actor{}, fmt.Errorf("blueprint %q: %w", bp, sim.ErrNotFound)
	}
	if w.spawnHook != nil {
		if err := w.spawnHook(bp, t); err != nil {
			return sim.Actor{}, err
		}
	}

	extent, ok := w.opts.Extents[bp]
	if !ok {
		extent = DefaultExtent
	}
	w.nextID++
	a := sim.Actor{ID: w.nextID, TypeID: bp, Extent: extent}
	w.actors[a.ID] = &ActorState{Actor: a, Blueprint: bp, Transform: t, Physics: true, Parent: parent}
	w.counters.Spawned++
	return a, nil
}

func (w *World) SetTransform(ctx context.Context, id uint32, t core.Transform) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("actor %d: %w", id, sim.ErrNotFound)
	}
	a.Transform = t
	w.counters.Transforms++
	return nil
}

func (w *World) SetSimulatePhysics(ctx context.Context, id uint32, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	if !ok {
		return fmt.Errorf("actor %d: %w", id, sim.ErrNotFound)
	}
	a.Physics = enabled
	return nil
}

func (w *World) Destroy(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyHook != nil {
		if err := w.destroyHook(id); err != nil {
			return err
		}
	}
	if _, ok := w.actors[id]; !ok {
		return fmt.Errorf("actor %d: %w", id, sim.ErrNotFound)
	}
	delete(w.actors, id)
	delete(w.sensors, id)
	w.counters.Destroyed++
	return nil
}

func (w *World) SetWeather(ctx context.Context, weather core.Weather) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weather = weather
	w.weatherSet = true
	return nil
}

// Weather returns the weather last applied.
func (w *World) Weather() (core.Weather, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weather, w.weatherSet
}

func (w *World) SetSpectatorTransform(ctx context.Context, t core.Transform) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spectator = t
	return nil
}

// Spectator returns the spectator pose last applied.
func (w *World) Spectator() core.Transform {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spectator
}

// Tick advances one frame and fires listening sensors.
func (w *World) Tick(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.frame++
	w.counters.Ticks++
	frame := w.frame
	type delivery struct {
		fn func(sim.Measurement)
		m  sim.Measurement
	}
	var out []delivery
	for _, s := range w.sensors {
		if fn := s.callback(); fn != nil {
			out = append(out, delivery{fn: fn, m: w.scanLocked(s, frame)})
		}
	}
	w.mu.Unlock()

	for _, d := range out {
		if w.opts.SyncSensor {
			d.fn(d.m)
			continue
		}
		w.wg.Add(1)
		go func(d delivery) {
			defer w.wg.Done()
			if w.opts.SensorDelay > 0 {
				time.Sleep(w.opts.SensorDelay)
			}
			d.fn(d.m)
		}(d)
	}
	return frame, nil
}

// Wait blocks until asynchronous sensor deliveries have finished.
func (w *World) Wait() { w.wg.Wait() }

// scanLocked builds a ring of returns in sensor-local coordinates whose
// radius varies with the frame.
func (w *World) scanLocked(s *Sensor, frame uint64) sim.Measurement {
	n := w.opts.PointsPerScan
	radius := math.Min(5+float64(frame%5), s.cfg.Range)
	pts := make([]float32, 0, n*4)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		pts = append(pts,
			float32(radius*math.Cos(angle)),
			float32(radius*math.Sin(angle)),
			float32(-s.mount.Location.Z),
			float32(i%10)/10,
		)
	}
	return sim.Measurement{Frame: frame, Points: pts}
}

func (w *World) SpawnLidar(ctx context.Context, cfg sim.LidarConfig, mount core.Transform, parent uint32) (sim.Sensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.actors[parent]; !ok {
		return nil, fmt.Errorf("parent %d: %w", parent, sim.ErrNotFound)
	}
	a, err := w.spawnLocked(blueprint.Lidar, mount, parent)
	if err != nil {
		return nil, err
	}
	s := &Sensor{world: w, id: a.ID, cfg: cfg, mount: mount}
	w.sensors[a.ID] = s
	return s, nil
}

// Actor returns the world-side state of id.
func (w *World) Actor(id uint32) (ActorState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	if !ok {
		return ActorState{}, false
	}
	return *a, true
}

// Actors returns every actor sorted by id.
func (w *World) Actors() []ActorState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ActorState, 0, len(w.actors))
	for _, a := range w.actors {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counters returns a snapshot of the call counters.
func (w *World) Counters() Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}

// Sensor is an in-memory lidar.
type Sensor struct {
	world *World
	id    uint32
	cfg   sim.LidarConfig
	mount core.Transform

	mu      sync.Mutex
	fn      func(sim.Measurement)
	stopped bool
}

var _ sim.Sensor = (*Sensor)(nil)

func (s *Sensor) ID() uint32 { return s.id }

// Config returns the attributes the sensor was spawned with.
func (s *Sensor) Config() sim.LidarConfig { return s.cfg }

func (s *Sensor) Listen(fn func(sim.Measurement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	s.stopped = false
	return nil
}

func (s *Sensor) callback() func(sim.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	return s.fn
}

func (s *Sensor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return ctx.Err()
}

func (s *Sensor) Destroy(ctx context.Context) error {
	return s.world.Destroy(ctx, s.id)
}
