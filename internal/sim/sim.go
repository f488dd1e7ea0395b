// Package sim describes the driving simulator the replay loop talks to.
package sim

import (
	"context"
	"errors"

	"github.com/golang/geo/r3"

	"github.com/b2d-phantom/recorder/pkg/core"
)

var (
	// ErrSpawnCollision is returned by TrySpawn when the pose is blocked.
	ErrSpawnCollision = errors.New("spawn blocked by collision")
	// ErrNotFound is returned for unknown actors or blueprints.
	ErrNotFound = errors.New("not found")
)

// Settings are the world stepping settings.
type Settings struct {
	SynchronousMode   bool
	FixedDeltaSeconds float64
	NoRenderingMode   bool
}

// Actor is a handle to a simulator-side actor.
type Actor struct {
	ID     uint32
	TypeID string
	// Extent is the half size of the actor's bounding box.
	Extent r3.Vector
}

// LidarConfig are the ray-cast lidar blueprint attributes.
type LidarConfig struct {
	Channels          int
	PointsPerSecond   int
	RotationFrequency float64
	Range             float64
	UpperFov          float64
	LowerFov          float64
}

// Measurement is one lidar sample. Points is a flat x,y,z,intensity buffer.
type Measurement struct {
	Frame  uint64
	Points []float32
}

// Sensor is a spawned sensor actor.
type Sensor interface {
	ID() uint32
	// Listen registers the callback invoked for every measurement. The
	// callback may run on another goroutine.
	Listen(fn func(Measurement)) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// World is a loaded simulator map.
type World interface {
	Settings(ctx context.Context) (Settings, error)
	ApplySettings(ctx context.Context, s Settings) error
	Blueprints(ctx context.Context) ([]string, error)
	TrySpawn(ctx context.Context, blueprint string, t core.Transform) (Actor, error)
	SetTransform(ctx context.Context, id uint32, t core.Transform) error
	SetSimulatePhysics(ctx context.Context, id uint32, enabled bool) error
	Destroy(ctx context.Context, id uint32) error
	SetWeather(ctx context.Context, w core.Weather) error
	SetSpectatorTransform(ctx context.Context, t core.Transform) error
	Tick(ctx context.Context) (uint64, error)
	SpawnLidar(ctx context.Context, cfg LidarConfig, mount core.Transform, parent uint32) (Sensor, error)
}

// Client connects to a simulator and loads worlds.
type Client interface {
	LoadWorld(ctx context.Context, mapName string) (World, error)
	Close() error
}
