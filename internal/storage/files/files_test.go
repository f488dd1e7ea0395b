package files

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2d-phantom/recorder/internal/anno"
	"github.com/b2d-phantom/recorder/internal/scan"
	"github.com/b2d-phantom/recorder/internal/storage"
	"github.com/b2d-phantom/recorder/pkg/core"
)

var _ storage.Backend = (*Backend)(nil)

func newBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "out")
	b := New(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b, root
}

func testFrame() *core.Frame {
	return &core.Frame{
		BoundingBoxes: []core.BoundingBox{
			{Class: core.ClassEgoVehicle, ID: "1", TypeID: "vehicle.lincoln.mkz_2020", Location: r3.Vector{X: 1, Y: 2, Z: 0.5}},
		},
		Weather: core.Weather{Cloudiness: 20},
	}
}

func TestRecord_Layout(t *testing.T) {
	b, root := newBackend(t)
	inst := core.Instance{Name: "RouteScenario_1_Town01_Route1"}
	require.NoError(t, b.StartInstance("run-1", inst))
	dir := filepath.Join(root, inst.Name)
	assert.Equal(t, dir, b.InstanceDir())

	f := testFrame()
	ext := r3.Vector{X: 0.2, Y: 0.2, Z: 0.4}
	aug := f.WithExtra(core.BoundingBox{Class: core.ClassRandomObject, ID: "random_0_0", TypeID: "static.prop.trafficcone01", Extent: &ext})

	require.NoError(t, b.RecordOriginal(0, f))
	require.NoError(t, b.RecordFrame(0, aug, core.FrameStats{Index: 0}))
	require.NoError(t, b.RecordScan(0, &core.Scan{Points: []core.Point{{X: 1, Y: 2, Z: 3}}}))

	orig, err := anno.ReadFrame(filepath.Join(dir, OriginalDir, "00000.json.gz"))
	require.NoError(t, err)
	assert.Len(t, orig.BoundingBoxes, 1)

	got, err := anno.ReadFrame(filepath.Join(dir, AugmentedDir, "00000.json.gz"))
	require.NoError(t, err)
	require.Len(t, got.BoundingBoxes, 2)
	assert.Equal(t, "random_0_0", got.BoundingBoxes[1].ID)
	assert.Equal(t, 20.0, got.Weather.Cloudiness)

	s, err := scan.Read(filepath.Join(dir, LidarDir, "00000.las"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestRecordScan_EmptyScanNotSaved(t *testing.T) {
	b, _ := newBackend(t)
	require.NoError(t, b.StartInstance("run-1", core.Instance{Name: "inst"}))

	err := b.RecordScan(3, &core.Scan{})
	assert.ErrorIs(t, err, ErrScanNotSaved)
}

func TestRecord_WithoutInstance(t *testing.T) {
	b, _ := newBackend(t)
	assert.ErrorIs(t, b.RecordOriginal(0, testFrame()), ErrNoInstance)
	assert.ErrorIs(t, b.RecordScan(0, &core.Scan{}), ErrNoInstance)
	assert.ErrorIs(t, b.EndInstance(core.InstanceSummary{}), ErrNoInstance)
}

func TestEndInstance_WritesSummary(t *testing.T) {
	b, root := newBackend(t)
	require.NoError(t, b.StartInstance("run-7", core.Instance{Name: "inst"}))

	require.NoError(t, b.EndInstance(core.InstanceSummary{
		RunID:       "run-7",
		Instance:    "inst",
		MapName:     "Town01",
		Frames:      12,
		SpawnFailed: 1,
		StartedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
		Err:         errors.New("boom"),
	}))
	assert.Empty(t, b.InstanceDir())

	data, err := os.ReadFile(filepath.Join(root, "inst", SummaryFile))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "run-7", doc["runId"])
	assert.Equal(t, 12.0, doc["frames"])
	assert.Equal(t, 1.5, doc["durationSec"])
	assert.Equal(t, "boom", doc["error"])
}
