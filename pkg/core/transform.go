// pkg/core/transform.go
package core

import (
	"math"

	"github.com/golang/geo/r3"
)

// Rotation is an orientation in degrees, in the simulator's left-handed
// convention (yaw around z, pitch around y, roll around x).
type Rotation struct {
	Pitch float64
	Roll  float64
	Yaw   float64
}

// Forward returns the unit vector the rotation points along.
func (r Rotation) Forward() r3.Vector {
	p := r.Pitch * math.Pi / 180
	y := r.Yaw * math.Pi / 180
	return r3.Vector{
		X: math.Cos(p) * math.Cos(y),
		Y: math.Cos(p) * math.Sin(y),
		Z: math.Sin(p),
	}
}

// Transform places an actor in the world.
type Transform struct {
	Location r3.Vector
	Rotation Rotation
}

// Raised returns a copy of t lifted dz units along z.
func (t Transform) Raised(dz float64) Transform {
	t.Location.Z += dz
	return t
}

// Chase camera placement relative to the ego actor.
const (
	ChaseDistance = 12.0
	ChaseHeight   = 6.0
	ChasePitch    = -20.0
)

// ChaseCamera derives a trailing, elevated viewpoint looking down at ego.
func ChaseCamera(ego Transform) Transform {
	loc := ego.Location.
		Sub(ego.Rotation.Forward().Mul(ChaseDistance)).
		Add(r3.Vector{Z: ChaseHeight})
	return Transform{
		Location: loc,
		Rotation: Rotation{Pitch: ChasePitch, Yaw: ego.Rotation.Yaw},
	}
}
