package gormstorage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/database"
	"github.com/b2d-phantom/recorder/internal/model"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// newTestBackend creates a Backend with no DB (queue-only mode for unit testing).
func newTestBackend() *Backend {
	return New(Dependencies{Logger: zerolog.Nop()})
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	m := database.NewManager(config.IndexConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "index.db"),
	}, zerolog.Nop())
	require.NoError(t, m.Connect())
	t.Cleanup(func() { _ = m.Close() })
	return m.DB
}

func augmentedFrame() *core.Frame {
	ext := r3.Vector{X: 0.2, Y: 0.2, Z: 0.4}
	return &core.Frame{BoundingBoxes: []core.BoundingBox{
		{Class: core.ClassEgoVehicle, ID: "1"},
		{Class: core.ClassVehicle, ID: "2"},
		{
			Class:    core.ClassRandomObject,
			ID:       "random_4_0",
			TypeID:   "static.prop.trafficcone01",
			Location: r3.Vector{X: 5, Y: 6, Z: 0.3},
			Rotation: core.Rotation{Yaw: 45},
			Extent:   &ext,
		},
	}}
}

func TestInitClose_QueueOnly(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	require.NotNil(t, b.queues)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestRecordFrame_QueuesRows(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartInstance("run", core.Instance{Name: "inst"}))
	require.NoError(t, b.RecordOriginal(4, augmentedFrame()))
	require.NoError(t, b.RecordFrame(4, augmentedFrame(), core.FrameStats{Index: 4, Phantoms: 1}))

	assert.Equal(t, 1, b.queues.Frames.Len())
	assert.Equal(t, 1, b.queues.Phantoms.Len())
	assert.Zero(t, b.queues.Scans.Len())

	p, ok := b.queues.Phantoms.Pop()
	require.True(t, ok)
	assert.Equal(t, "random_4_0", p.PhantomID)
	assert.Equal(t, 45.0, p.Yaw)
}

func TestRecordScan_ZRange(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.RecordScan(2, &core.Scan{
		Frame:  77,
		Points: []core.Point{{Z: -1.5}, {Z: 0.25}, {Z: 3}},
	}))
	row, ok := b.queues.Scans.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, row.Points)
	assert.Equal(t, uint64(77), row.SimFrame)
	assert.Equal(t, -1.5, row.MinZ)
	assert.Equal(t, 3.0, row.MaxZ)
}

func TestBackend_SQLite(t *testing.T) {
	db := openTestDB(t)
	b := New(Dependencies{DB: db, Logger: zerolog.Nop()})
	require.NoError(t, b.Init())

	require.NoError(t, b.StartInstance("run-1", core.Instance{Name: "RouteScenario_1_Town01", MapName: "Town01"}))
	require.NotZero(t, b.InstanceID())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.RecordFrame(i, augmentedFrame(), core.FrameStats{Index: i, StepTime: 20 * time.Millisecond}))
		require.NoError(t, b.RecordScan(i, &core.Scan{Points: []core.Point{{Z: 1}}}))
	}
	require.NoError(t, b.EndInstance(core.InstanceSummary{
		Frames:      3,
		Scans:       3,
		SpawnFailed: 2,
		Err:         errors.New("aborted"),
	}))
	assert.True(t, b.queues.Frames.Empty())

	var frames, phantoms, scans int64
	require.NoError(t, db.Model(&model.Frame{}).Count(&frames).Error)
	require.NoError(t, db.Model(&model.Phantom{}).Count(&phantoms).Error)
	require.NoError(t, db.Model(&model.Scan{}).Count(&scans).Error)
	assert.Equal(t, int64(3), frames)
	assert.Equal(t, int64(3), phantoms)
	assert.Equal(t, int64(3), scans)

	var inst model.Instance
	require.NoError(t, db.First(&inst, b.InstanceID()).Error)
	assert.Equal(t, "Town01", inst.MapName)
	assert.Equal(t, 3, inst.Frames)
	assert.Equal(t, 2, inst.SpawnFailed)
	assert.Equal(t, "aborted", inst.Error)

	// a second instance of the same run reuses the run row
	require.NoError(t, b.StartInstance("run-1", core.Instance{Name: "other"}))
	var runs int64
	require.NoError(t, db.Model(&model.Run{}).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)

	require.NoError(t, b.Close())
}

func TestBackend_WriterLoop(t *testing.T) {
	db := openTestDB(t)
	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartInstance("run-2", core.Instance{Name: "inst"}))
	require.NoError(t, b.RecordFrame(0, augmentedFrame(), core.FrameStats{}))

	assert.Eventually(t, func() bool {
		var n int64
		db.Model(&model.Frame{}).Count(&n)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}
