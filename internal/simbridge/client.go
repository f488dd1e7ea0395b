// Package simbridge implements sim.Client over the simulator bridge's
// WebSocket protocol: JSON request/result envelopes plus binary sensor
// frames.
package simbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang/geo/r3"

	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/bridge"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// Config configures the bridge client.
type Config struct {
	URL string
	// Timeout bounds every call. Zero means no per-call limit.
	Timeout      time.Duration
	DialAttempts int
	DialBackoff  time.Duration
}

// URL builds the bridge address from host and port.
func URL(host string, port int) string {
	return fmt.Sprintf("ws://%s:%d/bridge", host, port)
}

// Client is a connected bridge session.
type Client struct {
	conn    *connection
	timeout time.Duration
	logger  *slog.Logger
}

var _ sim.Client = (*Client)(nil)

// Dial connects to the bridge.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = time.Second
	}
	conn := newConnection(logger)
	if err := conn.dial(ctx, cfg.URL, cfg.DialAttempts, cfg.DialBackoff); err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: cfg.Timeout, logger: logger}, nil
}

func (c *Client) call(ctx context.Context, typ string, payload, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.call(ctx, typ, payload, out)
}

// LoadWorld asks the simulator to load mapName and returns the new world.
func (c *Client) LoadWorld(ctx context.Context, mapName string) (sim.World, error) {
	if err := c.call(ctx, bridge.TypeLoadWorld, bridge.LoadWorldPayload{Map: mapName}, nil); err != nil {
		return nil, fmt.Errorf("load world %s: %w", mapName, err)
	}
	return &World{client: c, mapName: mapName}, nil
}

func (c *Client) Close() error {
	return c.conn.close()
}

// World is a loaded bridge world.
type World struct {
	client  *Client
	mapName string
}

var _ sim.World = (*World)(nil)

// MapName returns the loaded map.
func (w *World) MapName() string { return w.mapName }

func (w *World) Settings(ctx context.Context) (sim.Settings, error) {
	var p bridge.SettingsPayload
	if err := w.client.call(ctx, bridge.TypeGetSettings, nil, &p); err != nil {
		return sim.Settings{}, err
	}
	return sim.Settings{
		SynchronousMode:   p.SynchronousMode,
		FixedDeltaSeconds: p.FixedDeltaSeconds,
		NoRenderingMode:   p.NoRenderingMode,
	}, nil
}

func (w *World) ApplySettings(ctx context.Context, s sim.Settings) error {
	return w.client.call(ctx, bridge.TypeApplySettings, bridge.SettingsPayload{
		SynchronousMode:   s.SynchronousMode,
		FixedDeltaSeconds: s.FixedDeltaSeconds,
		NoRenderingMode:   s.NoRenderingMode,
	}, nil)
}

func (w *World) Blueprints(ctx context.Context) ([]string, error) {
	var p bridge.BlueprintsPayload
	if err := w.client.call(ctx, bridge.TypeListBlueprints, nil, &p); err != nil {
		return nil, err
	}
	return p.Blueprints, nil
}

func (w *World) TrySpawn(ctx context.Context, blueprint string, t core.Transform) (sim.Actor, error) {
	var p bridge.ActorPayload
	err := w.client.call(ctx, bridge.TypeTrySpawn, bridge.SpawnPayload{
		Blueprint: blueprint,
		Transform: bridge.FromCore(t),
	}, &p)
	if err != nil {
		return sim.Actor{}, err
	}
	return actorFromPayload(p), nil
}

func actorFromPayload(p bridge.ActorPayload) sim.Actor {
	return sim.Actor{
		ID:     p.ID,
		TypeID: p.TypeID,
		Extent: r3.Vector{X: p.Extent[0], Y: p.Extent[1], Z: p.Extent[2]},
	}
}

func (w *World) SetTransform(ctx context.Context, id uint32, t core.Transform) error {
	return w.client.call(ctx, bridge.TypeSetTransform, bridge.ActorTransformPayload{
		ActorID:   id,
		Transform: bridge.FromCore(t),
	}, nil)
}

func (w *World) SetSimulatePhysics(ctx context.Context, id uint32, enabled bool) error {
	return w.client.call(ctx, bridge.TypeSetPhysics, bridge.PhysicsPayload{ActorID: id, Enabled: enabled}, nil)
}

func (w *World) Destroy(ctx context.Context, id uint32) error {
	return w.client.call(ctx, bridge.TypeDestroy, bridge.ActorRefPayload{ActorID: id}, nil)
}

func (w *World) SetWeather(ctx context.Context, weather core.Weather) error {
	return w.client.call(ctx, bridge.TypeSetWeather, bridge.WeatherPayload{Weather: weather}, nil)
}

func (w *World) SetSpectatorTransform(ctx context.Context, t core.Transform) error {
	return w.client.call(ctx, bridge.TypeSetSpectator, bridge.TransformPayload{Transform: bridge.FromCore(t)}, nil)
}

func (w *World) Tick(ctx context.Context) (uint64, error) {
	var p bridge.TickPayload
	if err := w.client.call(ctx, bridge.TypeTick, nil, &p); err != nil {
		return 0, err
	}
	return p.Frame, nil
}

func (w *World) SpawnLidar(ctx context.Context, cfg sim.LidarConfig, mount core.Transform, parent uint32) (sim.Sensor, error) {
	var p bridge.ActorPayload
	err := w.client.call(ctx, bridge.TypeSpawnLidar, bridge.LidarPayload{
		ParentID:          parent,
		Mount:             bridge.FromCore(mount),
		Channels:          cfg.Channels,
		PointsPerSecond:   cfg.PointsPerSecond,
		RotationFrequency: cfg.RotationFrequency,
		Range:             cfg.Range,
		UpperFov:          cfg.UpperFov,
		LowerFov:          cfg.LowerFov,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &Sensor{client: w.client, id: p.ID}, nil
}

// Sensor is a lidar spawned through the bridge.
type Sensor struct {
	client *Client
	id     uint32
}

var _ sim.Sensor = (*Sensor)(nil)

func (s *Sensor) ID() uint32 { return s.id }

// Listen registers fn for the sensor's binary frames and tells the bridge
// to start streaming. fn runs on the connection's read goroutine.
func (s *Sensor) Listen(fn func(sim.Measurement)) error {
	s.client.conn.listen(s.id, fn)
	ctx := context.Background()
	if err := s.client.call(ctx, bridge.TypeSensorListen, bridge.ActorRefPayload{ActorID: s.id}, nil); err != nil {
		s.client.conn.listen(s.id, nil)
		return err
	}
	return nil
}

func (s *Sensor) Stop(ctx context.Context) error {
	s.client.conn.listen(s.id, nil)
	return s.client.call(ctx, bridge.TypeSensorStop, bridge.ActorRefPayload{ActorID: s.id}, nil)
}

func (s *Sensor) Destroy(ctx context.Context) error {
	s.client.conn.listen(s.id, nil)
	return s.client.call(ctx, bridge.TypeDestroy, bridge.ActorRefPayload{ActorID: s.id}, nil)
}
