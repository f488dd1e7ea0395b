package replay

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics are the replay counters.
type Metrics struct {
	frames      metric.Int64Counter
	scansSaved  metric.Int64Counter
	scansDrop   metric.Int64Counter
	spawnFailed metric.Int64Counter
	phantoms    metric.Int64Counter
}

// NewMetrics registers the counters on meter. A nil meter yields no-op
// counters.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.Meter{}
	}

	var (
		m   Metrics
		err error
	)
	if m.frames, err = meter.Int64Counter("replay.frames",
		metric.WithDescription("Frames replayed"), metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if m.scansSaved, err = meter.Int64Counter("replay.scans.saved",
		metric.WithDescription("Range scans written"), metric.WithUnit("{scan}")); err != nil {
		return nil, err
	}
	if m.scansDrop, err = meter.Int64Counter("replay.scans.dropped",
		metric.WithDescription("Frames whose scan was not ready or not saved"), metric.WithUnit("{scan}")); err != nil {
		return nil, err
	}
	if m.spawnFailed, err = meter.Int64Counter("replay.spawn.failed",
		metric.WithDescription("Annotated actors that could not be spawned"), metric.WithUnit("{actor}")); err != nil {
		return nil, err
	}
	if m.phantoms, err = meter.Int64Counter("replay.phantoms",
		metric.WithDescription("Phantom objects injected"), metric.WithUnit("{object}")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) frame(ctx context.Context, instance string, stats frameCounts) {
	attrs := metric.WithAttributes(attribute.String("instance", instance))
	m.frames.Add(ctx, 1, attrs)
	if stats.scanSaved {
		m.scansSaved.Add(ctx, 1, attrs)
	} else if stats.scanExpected {
		m.scansDrop.Add(ctx, 1, attrs)
	}
	if stats.failed > 0 {
		m.spawnFailed.Add(ctx, int64(stats.failed), attrs)
	}
	if stats.phantoms > 0 {
		m.phantoms.Add(ctx, int64(stats.phantoms), attrs)
	}
}

type frameCounts struct {
	scanSaved    bool
	scanExpected bool
	failed       int
	phantoms     int
}
