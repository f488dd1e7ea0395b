// Package influxstorage reports per-frame replay performance to InfluxDB.
// When the server cannot be reached, points are appended as gzip line
// protocol to a backup file instead.
package influxstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/storage"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// Measurement names.
const (
	MeasurementFrame    = "frame"
	MeasurementScan     = "scan"
	MeasurementInstance = "instance"
)

// pingTimeout bounds the health check in Init.
const pingTimeout = 5 * time.Second

// Backend writes replay performance points.
type Backend struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backupFile *os.File
	backup     *gzip.Writer
	valid      bool

	mu   sync.Mutex
	tags map[string]string
}

var _ storage.Backend = (*Backend)(nil)

// New creates an influx backend. Nothing is contacted before Init.
func New(cfg config.InfluxConfig, logger zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, logger: logger, tags: map[string]string{}}
}

// URL returns the server address built from the config.
func (b *Backend) URL() string {
	return fmt.Sprintf("%s://%s:%s", b.cfg.Protocol, b.cfg.Host, b.cfg.Port)
}

// Valid reports whether points go to the server rather than the backup.
func (b *Backend) Valid() bool { return b.valid }

// Init connects and prepares the bucket, or opens the backup file.
func (b *Backend) Init() error {
	b.client = influxdb2.NewClientWithOptions(
		b.URL(),
		b.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	running, err := b.client.Ping(ctx)

	if err != nil || !running {
		b.valid = false
		b.logger.Info().Str("backupPath", b.cfg.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return b.openBackup()
	}

	if err := b.setupOrganizationAndBucket(); err != nil {
		return err
	}
	b.createWriter()
	b.valid = true
	b.logger.Info().Str("url", b.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (b *Backend) openBackup() error {
	if b.backup != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.cfg.BackupPath), 0o755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(b.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	b.backupFile = file
	b.backup = gzip.NewWriter(file)
	return nil
}

func (b *Backend) setupOrganizationAndBucket() error {
	ctx := context.Background()
	orgs := b.client.OrganizationsAPI()

	// ensure org exists
	org, err := orgs.FindOrganizationByName(ctx, b.cfg.Org)
	if err != nil {
		b.logger.Info().Str("org", b.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, b.cfg.Org)
		if err != nil {
			return fmt.Errorf("error creating organization %s: %w", b.cfg.Org, err)
		}
	}

	// ensure bucket exists with 90 day retention
	if _, err := b.client.BucketsAPI().FindBucketByName(ctx, b.cfg.Bucket); err != nil {
		b.logger.Info().Str("bucket", b.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = b.client.BucketsAPI().CreateBucketWithName(ctx, org, b.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
		})
		if err != nil {
			return fmt.Errorf("error creating bucket %s: %w", b.cfg.Bucket, err)
		}
	}
	return nil
}

func (b *Backend) createWriter() {
	b.writer = b.client.WriteAPI(b.cfg.Org, b.cfg.Bucket)

	errorsCh := b.writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			b.logger.Error().Err(writeErr).Str("bucket", b.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}()
}

// Close flushes pending points and closes the backup file.
func (b *Backend) Close() error {
	var errs error
	if b.writer != nil {
		b.writer.Flush()
	}
	if b.client != nil {
		b.client.Close()
	}
	if b.backup != nil {
		errs = multierr.Append(errs, b.backup.Close())
		errs = multierr.Append(errs, b.backupFile.Close())
		b.backup = nil
	}
	return errs
}

// WritePoint writes a point to InfluxDB or the backup file.
func (b *Backend) WritePoint(point *influxdb2_write.Point) error {
	if b.valid {
		b.writer.WritePoint(point)
		return nil
	}
	if b.backup == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := b.backup.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

func (b *Backend) point(measurement string) *influxdb2_write.Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := influxdb2_write.NewPointWithMeasurement(measurement).SetTime(time.Now())
	for k, v := range b.tags {
		p.AddTag(k, v)
	}
	return p
}

func (b *Backend) StartInstance(runID string, inst core.Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags = map[string]string{
		"run":      runID,
		"instance": inst.Name,
	}
	if inst.MapName != "" {
		b.tags["map"] = inst.MapName
	}
	return nil
}

// RecordOriginal is a no-op.
func (b *Backend) RecordOriginal(int, *core.Frame) error { return nil }

func (b *Backend) RecordFrame(frameIdx int, f *core.Frame, stats core.FrameStats) error {
	p := b.point(MeasurementFrame).
		AddField("index", frameIdx).
		AddField("sim_frame", int64(stats.SimFrame)).
		AddField("boxes", len(f.BoundingBoxes)).
		AddField("live", stats.Live).
		AddField("spawned", stats.Spawned).
		AddField("removed", stats.Removed).
		AddField("failed", stats.Failed).
		AddField("phantoms", stats.Phantoms).
		AddField("scan_saved", stats.ScanSaved).
		AddField("step_ms", float64(stats.StepTime.Microseconds())/1000)
	return b.WritePoint(p)
}

func (b *Backend) RecordScan(frameIdx int, s *core.Scan) error {
	p := b.point(MeasurementScan).
		AddField("index", frameIdx).
		AddField("points", s.Len())
	return b.WritePoint(p)
}

func (b *Backend) EndInstance(s core.InstanceSummary) error {
	p := b.point(MeasurementInstance).
		AddField("frames", s.Frames).
		AddField("scans", s.Scans).
		AddField("scans_dropped", s.ScansDropped).
		AddField("spawn_failed", s.SpawnFailed).
		AddField("phantoms", s.Phantoms).
		AddField("duration_s", s.Duration.Seconds()).
		AddField("failed", s.Err != nil)
	if err := b.WritePoint(p); err != nil {
		return err
	}
	if b.valid {
		b.writer.Flush()
	} else if err := b.backup.Flush(); err != nil {
		return fmt.Errorf("error flushing InfluxDB backup file: %w", err)
	}
	return nil
}
