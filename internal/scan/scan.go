// Package scan writes and reads captured lidar scans as LAS point files.
package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"

	"github.com/b2d-phantom/recorder/pkg/core"
)

const (
	// Scale is the coordinate quantization step, one millimetre.
	Scale = 0.001
	// IntensityMax is the top of the 16-bit intensity range.
	IntensityMax = math.MaxUint16
	// Ext is the extension of scan files.
	Ext = ".las"
)

var ErrEmptyScan = errors.New("scan has no points")

// FileName returns the zero-padded scan file name for a frame.
func FileName(frameIdx int) string {
	return fmt.Sprintf("%05d%s", frameIdx, Ext)
}

// EncodeIntensity maps a sensor intensity in [0,1] to the 16-bit range,
// clamping out-of-range values.
func EncodeIntensity(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return IntensityMax
	}
	return uint16(math.Round(v * IntensityMax))
}

// DecodeIntensity is the inverse of EncodeIntensity.
func DecodeIntensity(v uint16) float64 {
	return float64(v) / IntensityMax
}

// MinCorner returns the per-axis minimum of the points.
func MinCorner(points []core.Point) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return r3.Vector{X: floats.Min(xs), Y: floats.Min(ys), Z: floats.Min(zs)}
}

// FromRaw builds a scan from a flat sensor buffer with 3 (x,y,z) or 4
// (x,y,z,intensity) values per point. Trailing partial points are dropped.
func FromRaw(raw []float32, stride int) (core.Scan, error) {
	if stride != 3 && stride != 4 {
		return core.Scan{}, fmt.Errorf("unsupported point stride %d", stride)
	}
	n := len(raw) / stride
	s := core.Scan{Points: make([]core.Point, n), HasIntensity: stride == 4}
	for i := 0; i < n; i++ {
		row := raw[i*stride : (i+1)*stride]
		p := core.Point{X: float64(row[0]), Y: float64(row[1]), Z: float64(row[2])}
		if stride == 4 {
			p.Intensity = float64(row[3])
		}
		s.Points[i] = p
	}
	return s, nil
}

// Write stores s as dir/<frame>.las using point format 0, millimetre
// scales and the scan's minimum corner as offset.
func Write(dir string, frameIdx int, s core.Scan) (path string, err error) {
	if len(s.Points) == 0 {
		return "", ErrEmptyScan
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scan directory: %w", err)
	}
	path = filepath.Join(dir, FileName(frameIdx))

	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return "", fmt.Errorf("failed to create scan file: %w", err)
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
		if err != nil {
			path = ""
		}
	}()

	offset := MinCorner(s.Points)
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: 0,
		XScaleFactor:  Scale,
		YScaleFactor:  Scale,
		ZScaleFactor:  Scale,
		XOffset:       offset.X,
		YOffset:       offset.Y,
		ZOffset:       offset.Z,
	}); err != nil {
		return path, fmt.Errorf("failed to write scan header: %w", err)
	}

	for _, p := range s.Points {
		rec := &lidario.PointRecord0{
			X: p.X,
			Y: p.Y,
			Z: p.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3),
			},
			PointSourceID: 1,
		}
		if s.HasIntensity {
			rec.Intensity = EncodeIntensity(p.Intensity)
		}
		if err = lf.AddLasPoint(rec); err != nil {
			return path, fmt.Errorf("failed to add point: %w", err)
		}
	}
	return path, nil
}

// Save writes the scan and reports success. Failures are logged, never
// returned.
func Save(logger *slog.Logger, dir string, frameIdx int, s core.Scan) bool {
	path, err := Write(dir, frameIdx, s)
	if err != nil {
		logger.Error("Failed to save scan", "frame", frameIdx, "points", len(s.Points), "error", err)
		return false
	}
	logger.Debug("Saved scan", "path", path, "points", len(s.Points))
	return true
}

// Read loads a scan file. Intensities come back in [0,1].
func Read(path string) (s core.Scan, err error) {
	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return core.Scan{}, fmt.Errorf("failed to open scan file: %w", err)
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	n := lf.Header.NumberPoints
	s.Points = make([]core.Point, 0, n)
	for i := 0; i < n; i++ {
		lp, perr := lf.LasPoint(i)
		if perr != nil {
			return core.Scan{}, fmt.Errorf("failed to read point %d: %w", i, perr)
		}
		d := lp.PointData()
		if d.Intensity != 0 {
			s.HasIntensity = true
		}
		s.Points = append(s.Points, core.Point{
			X:         d.X,
			Y:         d.Y,
			Z:         d.Z,
			Intensity: DecodeIntensity(d.Intensity),
		})
	}
	return s, nil
}
