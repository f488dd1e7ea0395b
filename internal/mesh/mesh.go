// Package mesh converts captured scans into a point mesh for 3D viewers.
package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/floats"

	"github.com/b2d-phantom/recorder/internal/scan"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// Colouring modes.
const (
	ColorByHeight    = "height"
	ColorByIntensity = "intensity"
	ColorByFile      = "file"
	ColorByNone      = "none"
)

var (
	ErrNoScans     = errors.New("no scan files found")
	ErrNotScanFile = errors.New("input is not a scan file")
	ErrNoPoints    = errors.New("no points loaded")
)

// Options control a conversion.
type Options struct {
	ColorBy  string
	Colormap string
	// Subsample caps the points kept per file. Zero keeps everything.
	Subsample int
	// Stack combines every file of a directory, offsetting file i by
	// i*Spacing in z. Without it only the first file is converted.
	Stack    bool
	Spacing  float64
	MaxFiles int
	// Rand drives subsampling. Nil uses a time-seeded source.
	Rand *rand.Rand
}

// DefaultOptions matches the converter's command line defaults.
func DefaultOptions() Options {
	return Options{ColorBy: ColorByHeight, Colormap: "rainbow", Spacing: 10}
}

// Cloud is a point set ready to be written. Colors is nil or has one entry
// per point.
type Cloud struct {
	Points []r3.Vector
	Colors []colorful.Color
}

// Len returns the number of points.
func (c *Cloud) Len() int { return len(c.Points) }

// Bounds returns the per-axis minimum and maximum.
func (c *Cloud) Bounds() (lo, hi r3.Vector) {
	if len(c.Points) == 0 {
		return lo, hi
	}
	xs, ys, zs := c.axes()
	lo = r3.Vector{X: floats.Min(xs), Y: floats.Min(ys), Z: floats.Min(zs)}
	hi = r3.Vector{X: floats.Max(xs), Y: floats.Max(ys), Z: floats.Max(zs)}
	return lo, hi
}

func (c *Cloud) axes() (xs, ys, zs []float64) {
	xs = make([]float64, len(c.Points))
	ys = make([]float64, len(c.Points))
	zs = make([]float64, len(c.Points))
	for i, p := range c.Points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return xs, ys, zs
}

// Inputs resolves the scan files to convert. A file must carry the scan
// extension; a directory yields its scan files in name order, capped at
// MaxFiles, and only the first one unless Stack is set.
func Inputs(input string, opts Options) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(input), scan.Ext) {
			return nil, fmt.Errorf("%s: %w", input, ErrNotScanFile)
		}
		return []string{input}, nil
	}

	files, err := filepath.Glob(filepath.Join(input, "*"+scan.Ext))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", input, ErrNoScans)
	}
	slices.Sort(files)
	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}
	if !opts.Stack {
		files = files[:1]
	}
	return files, nil
}

// Build loads paths into one cloud. Unreadable files are logged and
// skipped; an empty result is an error.
func Build(paths []string, opts Options, logger *slog.Logger) (*Cloud, error) {
	var cm Colormap
	switch opts.ColorBy {
	case ColorByHeight, ColorByIntensity:
		var err error
		if cm, err = LookupColormap(opts.Colormap); err != nil {
			return nil, err
		}
	case ColorByFile, ColorByNone:
	default:
		return nil, fmt.Errorf("unknown colour mode %q", opts.ColorBy)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	cloud := &Cloud{}
	colored := true
	for i, path := range paths {
		s, err := scan.Read(path)
		if err != nil {
			logger.Error("Failed to load scan", "path", path, "error", err)
			continue
		}
		points := subsample(s.Points, opts.Subsample, rng)
		logger.Info("Loaded scan",
			"file", fmt.Sprintf("%d/%d", i+1, len(paths)),
			"path", filepath.Base(path),
			"points", len(s.Points),
			"kept", len(points))

		zOffset := float64(i) * opts.Spacing
		start := len(cloud.Points)
		for _, p := range points {
			cloud.Points = append(cloud.Points, r3.Vector{X: p.X, Y: p.Y, Z: p.Z + zOffset})
		}

		colors := fileColors(cloud.Points[start:], points, s.HasIntensity, i, len(paths), opts.ColorBy, cm)
		if colors == nil {
			colored = false
			continue
		}
		cloud.Colors = append(cloud.Colors, colors...)
	}

	if len(cloud.Points) == 0 {
		return nil, ErrNoPoints
	}
	if !colored {
		cloud.Colors = nil
	}
	return cloud, nil
}

func fileColors(placed []r3.Vector, points []core.Point, hasIntensity bool, i, n int, colorBy string, cm Colormap) []colorful.Color {
	switch colorBy {
	case ColorByHeight:
		zs := make([]float64, len(placed))
		for j, p := range placed {
			zs[j] = p.Z
		}
		return colorize(zs, cm)
	case ColorByIntensity:
		if !hasIntensity {
			return nil
		}
		vs := make([]float64, len(points))
		for j, p := range points {
			vs[j] = p.Intensity
		}
		return colorize(vs, cm)
	case ColorByFile:
		c := fileColor(i, n)
		colors := make([]colorful.Color, len(placed))
		for j := range colors {
			colors[j] = c
		}
		return colors
	default:
		return nil
	}
}

// subsample picks limit points without replacement, keeping their order.
func subsample(points []core.Point, limit int, rng *rand.Rand) []core.Point {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	idx := rng.Perm(len(points))[:limit]
	slices.Sort(idx)
	out := make([]core.Point, limit)
	for i, j := range idx {
		out[i] = points[j]
	}
	return out
}

// Convert resolves input, builds the cloud and writes it to output as OBJ.
// It returns the number of points written.
func Convert(input, output string, opts Options, logger *slog.Logger) (int, error) {
	paths, err := Inputs(input, opts)
	if err != nil {
		return 0, err
	}
	if !opts.Stack && len(paths) == 1 {
		if info, err := os.Stat(input); err == nil && info.IsDir() {
			logger.Info("Converting first file of directory, use --stack to combine all files", "path", paths[0])
		}
	}

	cloud, err := Build(paths, opts, logger)
	if err != nil {
		return 0, err
	}
	lo, hi := cloud.Bounds()
	logger.Info("Combined point cloud",
		"points", cloud.Len(),
		"x", fmt.Sprintf("[%.2f, %.2f]", lo.X, hi.X),
		"y", fmt.Sprintf("[%.2f, %.2f]", lo.Y, hi.Y),
		"z", fmt.Sprintf("[%.2f, %.2f]", lo.Z, hi.Z))

	if err := WriteOBJFile(output, cloud); err != nil {
		return 0, err
	}
	logger.Info("Saved mesh", "path", output, "points", cloud.Len())
	return cloud.Len(), nil
}
