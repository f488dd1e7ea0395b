// pkg/core/scan.go
package core

// Point is one range-sensor return. Intensity is in [0,1] as delivered by
// the sensor.
type Point struct {
	X         float64
	Y         float64
	Z         float64
	Intensity float64
}

// Scan is the point buffer captured for one simulation frame.
type Scan struct {
	Frame        uint64
	Points       []Point
	HasIntensity bool
}

// Len returns the number of points in the scan.
func (s Scan) Len() int { return len(s.Points) }
