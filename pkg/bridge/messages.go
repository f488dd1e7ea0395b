package bridge

import (
	"encoding/json"

	"github.com/b2d-phantom/recorder/pkg/core"
)

// Request types understood by the simulator bridge.
const (
	TypeLoadWorld      = "load_world"
	TypeGetSettings    = "get_settings"
	TypeApplySettings  = "apply_settings"
	TypeListBlueprints = "list_blueprints"
	TypeTrySpawn       = "try_spawn"
	TypeSetTransform   = "set_transform"
	TypeSetPhysics     = "set_simulate_physics"
	TypeDestroy        = "destroy"
	TypeSetWeather     = "set_weather"
	TypeSetSpectator   = "set_spectator"
	TypeTick           = "tick"
	TypeSpawnLidar     = "spawn_lidar"
	TypeSensorListen   = "sensor_listen"
	TypeSensorStop     = "sensor_stop"

	// TypeResult is the type of every response.
	TypeResult = "result"
)

// Error codes returned by the bridge.
const (
	CodeSpawnCollision = "spawn_collision"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal"
)

// Envelope wraps every text message exchanged with the bridge.
type Envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the failure part of a result envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Transform is the wire form of core.Transform.
type Transform struct {
	Location [3]float64 `json:"location"`
	Rotation [3]float64 `json:"rotation"` // pitch, roll, yaw
}

// FromCore converts a core transform to its wire form.
func FromCore(t core.Transform) Transform {
	return Transform{
		Location: [3]float64{t.Location.X, t.Location.Y, t.Location.Z},
		Rotation: [3]float64{t.Rotation.Pitch, t.Rotation.Roll, t.Rotation.Yaw},
	}
}

// Core converts the wire transform back.
func (t Transform) Core() core.Transform {
	var out core.Transform
	out.Location.X, out.Location.Y, out.Location.Z = t.Location[0], t.Location[1], t.Location[2]
	out.Rotation = core.Rotation{Pitch: t.Rotation[0], Roll: t.Rotation[1], Yaw: t.Rotation[2]}
	return out
}

// LoadWorldPayload asks the bridge to load a map.
type LoadWorldPayload struct {
	Map string `json:"map"`
}

// SettingsPayload carries world stepping settings.
type SettingsPayload struct {
	SynchronousMode   bool    `json:"synchronous_mode"`
	FixedDeltaSeconds float64 `json:"fixed_delta_seconds"`
	NoRenderingMode   bool    `json:"no_rendering_mode"`
}

// BlueprintsPayload lists the spawnable prototypes.
type BlueprintsPayload struct {
	Blueprints []string `json:"blueprints"`
}

// SpawnPayload requests a spawn attempt.
type SpawnPayload struct {
	Blueprint string    `json:"blueprint"`
	Transform Transform `json:"transform"`
}

// ActorPayload describes a spawned actor.
type ActorPayload struct {
	ID     uint32     `json:"id"`
	TypeID string     `json:"type_id"`
	Extent [3]float64 `json:"extent"`
}

// ActorTransformPayload moves an actor.
type ActorTransformPayload struct {
	ActorID   uint32    `json:"actor_id"`
	Transform Transform `json:"transform"`
}

// PhysicsPayload toggles physics for an actor.
type PhysicsPayload struct {
	ActorID uint32 `json:"actor_id"`
	Enabled bool   `json:"enabled"`
}

// ActorRefPayload names an actor or sensor.
type ActorRefPayload struct {
	ActorID uint32 `json:"actor_id"`
}

// WeatherPayload replaces the world weather.
type WeatherPayload struct {
	Weather core.Weather `json:"weather"`
}

// TransformPayload carries a bare transform (spectator).
type TransformPayload struct {
	Transform Transform `json:"transform"`
}

// TickPayload is the result of a world tick.
type TickPayload struct {
	Frame uint64 `json:"frame"`
}

// LidarPayload spawns a ray-cast lidar attached to a parent actor.
type LidarPayload struct {
	ParentID          uint32    `json:"parent_id"`
	Mount             Transform `json:"mount"`
	Channels          int       `json:"channels"`
	PointsPerSecond   int       `json:"points_per_second"`
	RotationFrequency float64   `json:"rotation_frequency"`
	Range             float64   `json:"range"`
	UpperFov          float64   `json:"upper_fov"`
	LowerFov          float64   `json:"lower_fov"`
}
