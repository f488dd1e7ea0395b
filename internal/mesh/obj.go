package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// WriteOBJ writes c as an OBJ point mesh: one vertex line per point, with
// an RGB triple when the cloud is coloured, followed by one point element
// per vertex.
func WriteOBJ(w io.Writer, c *Cloud) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Point cloud exported from scan files\n")
	fmt.Fprintf(bw, "# Points: %d\n\n", c.Len())

	colored := len(c.Colors) == len(c.Points)
	for i, p := range c.Points {
		if colored {
			col := c.Colors[i]
			fmt.Fprintf(bw, "v %.6f %.6f %.6f %.3f %.3f %.3f\n", p.X, p.Y, p.Z, col.R, col.G, col.B)
			continue
		}
		fmt.Fprintf(bw, "v %.6f %.6f %.6f\n", p.X, p.Y, p.Z)
	}

	fmt.Fprintf(bw, "\n# Points\n")
	for i := 1; i <= c.Len(); i++ {
		fmt.Fprintf(bw, "p %d\n", i)
	}
	return bw.Flush()
}

// WriteOBJFile writes c to path, replacing any existing file.
func WriteOBJFile(path string, c *Cloud) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mesh file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err := WriteOBJ(f, c); err != nil {
		return fmt.Errorf("failed to write mesh: %w", err)
	}
	return nil
}
