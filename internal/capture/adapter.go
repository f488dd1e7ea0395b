// Package capture attaches the lidar to the ego actor and hands the most
// recent measurement to the replay loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/internal/scan"
	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/bridge"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// DefaultSettleDelay is the pause after a tick that lets the sensor
// callback fire.
const DefaultSettleDelay = 50 * time.Millisecond

var ErrAlreadyAttached = errors.New("sensor already attached")

// Config configures the adapter.
type Config struct {
	Lidar       sim.LidarConfig
	MountZ      float64
	SettleDelay time.Duration
}

// Adapter owns one lidar for the duration of an instance.
type Adapter struct {
	world  sim.World
	cfg    Config
	slot   *Slot[sim.Measurement]
	sensor sim.Sensor
	logger *slog.Logger
}

func NewAdapter(world sim.World, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Adapter{
		world:  world,
		cfg:    cfg,
		slot:   NewSlot[sim.Measurement](),
		logger: logger,
	}
}

// Attached reports whether the lidar has been spawned.
func (a *Adapter) Attached() bool { return a.sensor != nil }

// Sensor returns the spawned lidar, or nil.
func (a *Adapter) Sensor() sim.Sensor { return a.sensor }

// Attach spawns the lidar on ego at (0, 0, MountZ) and starts listening.
func (a *Adapter) Attach(ctx context.Context, ego sim.Actor) error {
	if a.sensor != nil {
		return ErrAlreadyAttached
	}
	mount := core.Transform{Location: r3.Vector{Z: a.cfg.MountZ}}
	s, err := a.world.SpawnLidar(ctx, a.cfg.Lidar, mount, ego.ID)
	if err != nil {
		return fmt.Errorf("failed to spawn lidar: %w", err)
	}
	if err := s.Listen(a.slot.Offer); err != nil {
		_ = s.Destroy(ctx)
		return fmt.Errorf("failed to listen on lidar: %w", err)
	}
	a.sensor = s
	a.logger.Info("Lidar attached",
		"sensor", s.ID(),
		"ego", ego.ID,
		"channels", a.cfg.Lidar.Channels,
		"pointsPerSecond", a.cfg.Lidar.PointsPerSecond)
	return nil
}

// Collect waits the settle delay and returns the latest measurement as a
// scan. false means nothing arrived and the frame's scan is skipped.
func (a *Adapter) Collect(ctx context.Context) (core.Scan, bool) {
	if a.sensor == nil {
		return core.Scan{}, false
	}
	if a.cfg.SettleDelay > 0 {
		timer := time.NewTimer(a.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.Scan{}, false
		case <-timer.C:
		}
	}

	m, ok := a.slot.Poll()
	if !ok {
		return core.Scan{}, false
	}
	s, err := scan.FromRaw(m.Points, bridge.PointStride)
	if err != nil {
		a.logger.Warn("Discarding malformed measurement", "frame", m.Frame, "error", err)
		return core.Scan{}, false
	}
	s.Frame = m.Frame
	return s, true
}

// Close stops and destroys the lidar. Both steps run even if the first fails.
func (a *Adapter) Close(ctx context.Context) error {
	if a.sensor == nil {
		return nil
	}
	s := a.sensor
	a.sensor = nil
	return multierr.Combine(
		s.Stop(ctx),
		s.Destroy(ctx),
	)
}
