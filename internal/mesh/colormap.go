package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/floats"
)

// Colormap maps a normalised scalar in [0,1] to a colour.
type Colormap func(t float64) colorful.Color

var colormaps = map[string]Colormap{
	"gray": func(t float64) colorful.Color {
		return rgb(t, t, t)
	},
	"hot": func(t float64) colorful.Color {
		return rgb(3*t, 3*t-1, 3*t-2)
	},
	"viridis": func(t float64) colorful.Color {
		return rgb(math.Sqrt(t), t*t, 1-t)
	},
	"jet": func(t float64) colorful.Color {
		u := 4 * t
		return rgb(math.Min(u-1.5, 4.5-u), math.Min(u-0.5, 3.5-u), math.Min(u+0.5, 2.5-u))
	},
	"rainbow": func(t float64) colorful.Color {
		u := 5 * t
		return rgb(math.Min(u-1, 4-u), math.Min(u, 3-u), 2-u)
	},
	"terrain": func(t float64) colorful.Color {
		return rgb(0.5+0.5*t, 0.3+0.4*(1-t), 0.8*(1-t))
	},
	"ocean": func(t float64) colorful.Color {
		return rgb(0.2*t, 0.4+0.4*t, 0.6+0.4*t)
	},
}

func rgb(r, g, b float64) colorful.Color {
	return colorful.Color{R: r, G: g, B: b}.Clamped()
}

// LookupColormap returns the named colormap.
func LookupColormap(name string) (Colormap, error) {
	cm, ok := colormaps[name]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q", name)
	}
	return cm, nil
}

// ColormapNames lists the known colormaps, sorted.
func ColormapNames() []string {
	names := make([]string, 0, len(colormaps))
	for n := range colormaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// normalise rescales values to [0,1] by their min and max. A constant
// input maps to zero.
func normalise(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo + 1e-8
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

// colorize applies cm to every normalised value.
func colorize(values []float64, cm Colormap) []colorful.Color {
	norm := normalise(values)
	colors := make([]colorful.Color, len(norm))
	for i, t := range norm {
		colors[i] = cm(t)
	}
	return colors
}

// fileColor is the gradient colour of file i out of n.
func fileColor(i, n int) colorful.Color {
	t := float64(i) / float64(max(n-1, 1))
	return rgb(t, 1-t, 0.5)
}
