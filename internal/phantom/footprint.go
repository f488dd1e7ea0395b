package phantom

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/peterstace/simplefeatures/geom"
)

// Footprint returns the ground rectangle of a box centred at loc with the
// given half extent, rotated by yaw degrees.
func Footprint(loc r3.Vector, extent r3.Vector, yaw float64) (geom.Geometry, error) {
	rad := yaw * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	corners := [][2]float64{
		{extent.X, extent.Y},
		{-extent.X, extent.Y},
		{-extent.X, -extent.Y},
		{extent.X, -extent.Y},
		{extent.X, extent.Y},
	}

	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, c := range corners {
		if i > 0 {
			b.WriteString(",")
		}
		x := loc.X + c[0]*cos - c[1]*sin
		y := loc.Y + c[0]*sin + c[1]*cos
		fmt.Fprintf(&b, "%f %f", x, y)
	}
	b.WriteString("))")

	g, err := geom.UnmarshalWKT(b.String())
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("invalid footprint: %w", err)
	}
	return g, nil
}

// overlapIndex holds the footprints a candidate must not touch.
type overlapIndex struct {
	shapes []geom.Geometry
}

func (o *overlapIndex) add(g geom.Geometry) {
	o.shapes = append(o.shapes, g)
}

func (o *overlapIndex) hits(g geom.Geometry) bool {
	for _, s := range o.shapes {
		if geom.Intersects(s, g) {
			return true
		}
	}
	return false
}
