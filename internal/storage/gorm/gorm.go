// Package gormstorage indexes replay runs in a relational database through
// GORM. Rows are queued by the replay loop and written in batches by a
// background writer.
package gormstorage

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/b2d-phantom/recorder/internal/model"
	"github.com/b2d-phantom/recorder/internal/queue"
	"github.com/b2d-phantom/recorder/internal/storage"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB may be nil, in which case rows are only queued.
	DB            *gorm.DB
	Logger        zerolog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Frames   *queue.Queue[model.Frame]
	Phantoms *queue.Queue[model.Phantom]
	Scans    *queue.Queue[model.Scan]
}

func newQueues() *queues {
	return &queues{
		Frames:   queue.New[model.Frame](),
		Phantoms: queue.New[model.Phantom](),
		Scans:    queue.New[model.Scan](),
	}
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps       Dependencies
	queues     *queues
	instanceID atomic.Uint64
	flushMu    sync.Mutex
	stopChan   chan struct{}
	done       chan struct{}
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init creates the queues, migrates the schema and starts the writer.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB == nil {
		close(b.done)
		return nil
	}
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		close(b.done)
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if b.deps.FlushInterval <= 0 {
		close(b.done)
		return nil
	}
	go b.writerLoop()
	return nil
}

// Close stops the writer and flushes what is left.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return b.Flush()
}

func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error().Err(err).Msg("Index flush failed")
			}
		}
	}
}

// StartInstance get-or-creates the run row and inserts the instance row.
func (b *Backend) StartInstance(runID string, inst core.Instance) error {
	b.instanceID.Store(0)
	if b.deps.DB == nil {
		return nil
	}
	db := b.deps.DB

	run := model.Run{RunID: runID}
	if err := db.Where(model.Run{RunID: runID}).Attrs(model.Run{StartedAt: time.Now()}).FirstOrCreate(&run).Error; err != nil {
		return fmt.Errorf("failed to get or insert run: %w", err)
	}

	row := model.Instance{
		RunID:     run.ID,
		Name:      inst.Name,
		MapName:   inst.MapName,
		StartedAt: time.Now(),
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	b.instanceID.Store(uint64(row.ID))

	b.deps.Logger.Debug().Str("instance", inst.Name).Uint("id", row.ID).Msg("Indexed instance")
	return nil
}

// InstanceID returns the row id of the current instance, 0 when none.
func (b *Backend) InstanceID() uint {
	return uint(b.instanceID.Load())
}

// RecordOriginal is a no-op; only augmented frames are indexed.
func (b *Backend) RecordOriginal(int, *core.Frame) error {
	return nil
}

// RecordFrame queues the frame row and one row per phantom entry.
func (b *Backend) RecordFrame(frameIdx int, f *core.Frame, stats core.FrameStats) error {
	id := b.InstanceID()
	b.queues.Frames.Push(model.Frame{
		Time:       time.Now(),
		InstanceID: id,
		Index:      frameIdx,
		SimFrame:   stats.SimFrame,
		Boxes:      len(f.BoundingBoxes),
		Live:       stats.Live,
		Spawned:    stats.Spawned,
		Removed:    stats.Removed,
		Failed:     stats.Failed,
		Phantoms:   stats.Phantoms,
		ScanSaved:  stats.ScanSaved,
		StepTimeMs: float32(stats.StepTime.Seconds() * 1000),
	})

	for _, p := range storage.Phantoms(frameIdx, f) {
		b.queues.Phantoms.Push(model.Phantom{
			InstanceID: id,
			Frame:      p.Frame,
			PhantomID:  p.ID,
			Blueprint:  p.Blueprint,
			X:          p.Transform.Location.X,
			Y:          p.Transform.Location.Y,
			Z:          p.Transform.Location.Z,
			Yaw:        p.Transform.Rotation.Yaw,
		})
	}
	return nil
}

// RecordScan queues the scan's metadata.
func (b *Backend) RecordScan(frameIdx int, s *core.Scan) error {
	row := model.Scan{
		InstanceID:   b.InstanceID(),
		Frame:        frameIdx,
		SimFrame:     s.Frame,
		Points:       s.Len(),
		HasIntensity: s.HasIntensity,
	}
	if s.Len() > 0 {
		row.MinZ, row.MaxZ = math.Inf(1), math.Inf(-1)
		for _, p := range s.Points {
			row.MinZ = math.Min(row.MinZ, p.Z)
			row.MaxZ = math.Max(row.MaxZ, p.Z)
		}
	}
	b.queues.Scans.Push(row)
	return nil
}

// EndInstance flushes the queues and stores the summary on the instance row.
func (b *Backend) EndInstance(s core.InstanceSummary) error {
	flushErr := b.Flush()
	id := b.InstanceID()
	if b.deps.DB == nil || id == 0 {
		return flushErr
	}

	updates := map[string]interface{}{
		"frames":        s.Frames,
		"scans":         s.Scans,
		"scans_dropped": s.ScansDropped,
		"spawn_failed":  s.SpawnFailed,
		"phantoms":      s.Phantoms,
		"duration":      s.Duration,
	}
	if s.Err != nil {
		updates["error"] = s.Err.Error()
	}
	if err := b.deps.DB.Model(&model.Instance{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return flushErr
}

// Flush writes every queued row. Rows of a failed batch go back on their
// queue.
func (b *Backend) Flush() error {
	if b.deps.DB == nil || b.queues == nil {
		return nil
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	log := b.deps.Logger
	var firstErr error
	for _, err := range []error{
		writeQueue(b.deps.DB, b.queues.Frames, "frames", log),
		writeQueue(b.deps.DB, b.queues.Phantoms, "phantoms", log),
		writeQueue(b.deps.DB, b.queues.Scans, "scans", log),
	} {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain(0)
	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		q.Requeue(items...)
		log.Error().Err(err).Str("table", name).Int("rows", len(items)).Msg("Error writing rows")
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items...)
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	log.Debug().Str("table", name).Int("rows", len(items)).Msg("Wrote rows")
	return nil
}
