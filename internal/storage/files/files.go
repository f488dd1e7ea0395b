// Package files writes an instance's outputs to a directory tree:
//
//	<out>/<instance>/anno_original/00000.json.gz
//	<out>/<instance>/anno_new/00000.json.gz
//	<out>/<instance>/lidar/00000.las
//	<out>/<instance>/summary.json
package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/b2d-phantom/recorder/internal/anno"
	"github.com/b2d-phantom/recorder/internal/scan"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// Subdirectory names below an instance directory.
const (
	OriginalDir  = "anno_original"
	AugmentedDir = "anno_new"
	LidarDir     = "lidar"
	SummaryFile  = "summary.json"
)

// ErrNoInstance is returned when a record call arrives outside an instance.
var ErrNoInstance = errors.New("no instance started")

// ErrScanNotSaved is returned when a scan could not be written. The
// underlying cause has already been logged.
var ErrScanNotSaved = errors.New("scan not saved")

// Backend stores frames and scans as files under an output root.
type Backend struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	dir   string
	runID string
}

// New creates a files backend rooted at root.
func New(root string, logger *slog.Logger) *Backend {
	return &Backend{root: root, logger: logger}
}

// Init creates the output root.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("failed to create output root: %w", err)
	}
	return nil
}

func (b *Backend) Close() error { return nil }

// InstanceDir returns the directory of the current instance, or "".
func (b *Backend) InstanceDir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir
}

func (b *Backend) StartInstance(runID string, inst core.Instance) error {
	dir := filepath.Join(b.root, inst.Name)
	for _, sub := range []string{OriginalDir, AugmentedDir, LidarDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dir = dir
	b.runID = runID
	return nil
}

func (b *Backend) current() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dir == "" {
		return "", ErrNoInstance
	}
	return b.dir, nil
}

func (b *Backend) RecordOriginal(frameIdx int, f *core.Frame) error {
	dir, err := b.current()
	if err != nil {
		return err
	}
	return anno.WriteFrame(filepath.Join(dir, OriginalDir, anno.FrameFileName(frameIdx)), f)
}

func (b *Backend) RecordFrame(frameIdx int, f *core.Frame, _ core.FrameStats) error {
	dir, err := b.current()
	if err != nil {
		return err
	}
	return anno.WriteFrame(filepath.Join(dir, AugmentedDir, anno.FrameFileName(frameIdx)), f)
}

// RecordScan writes the scan as LAS. Failures are logged by the scan
// writer and reported as ErrScanNotSaved.
func (b *Backend) RecordScan(frameIdx int, s *core.Scan) error {
	dir, err := b.current()
	if err != nil {
		return err
	}
	if !scan.Save(b.logger, filepath.Join(dir, LidarDir), frameIdx, *s) {
		return fmt.Errorf("frame %d: %w", frameIdx, ErrScanNotSaved)
	}
	return nil
}

// summary is the JSON form of core.InstanceSummary.
type summary struct {
	RunID        string    `json:"runId"`
	Instance     string    `json:"instance"`
	MapName      string    `json:"mapName"`
	Frames       int       `json:"frames"`
	Scans        int       `json:"scans"`
	ScansDropped int       `json:"scansDropped"`
	SpawnFailed  int       `json:"spawnFailed"`
	Phantoms     int       `json:"phantoms"`
	StartedAt    time.Time `json:"startedAt"`
	DurationSec  float64   `json:"durationSec"`
	Error        string    `json:"error,omitempty"`
}

// EndInstance writes summary.json and closes the instance.
func (b *Backend) EndInstance(s core.InstanceSummary) error {
	dir, err := b.current()
	if err != nil {
		return err
	}
	defer func() {
		b.mu.Lock()
		b.dir = ""
		b.mu.Unlock()
	}()

	out := summary{
		RunID:        s.RunID,
		Instance:     s.Instance,
		MapName:      s.MapName,
		Frames:       s.Frames,
		Scans:        s.Scans,
		ScansDropped: s.ScansDropped,
		SpawnFailed:  s.SpawnFailed,
		Phantoms:     s.Phantoms,
		StartedAt:    s.StartedAt,
		DurationSec:  s.Duration.Seconds(),
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
