package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type countingMeterProvider struct {
	noop.MeterProvider
	names []string
}

func (c *countingMeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	c.names = append(c.names, name)
	return c.MeterProvider.Meter(name, opts...)
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.IsType(t, noop.Meter{}, p.Meter("replay"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledNeedsOutput(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "phantom-recorder"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_EnabledWithWriter(t *testing.T) {
	var buf bytes.Buffer
	mp := &countingMeterProvider{}
	p, err := New(Config{
		Enabled:       true,
		ServiceName:    "phantom-recorder",
		ServiceVersion: "1.0.0",
		RunID:          "run-1",
		BatchTimeout:   time.Second,
		LogWriter:      &buf,
		MeterProvider:  mp,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	p.Meter("replay")
	assert.Equal(t, []string{"replay"}, mp.names)

	ctx := context.Background()
	assert.NoError(t, p.Flush(ctx))
	assert.NoError(t, p.Shutdown(ctx))
}

func TestMeter_NilProvider(t *testing.T) {
	var p *Provider
	assert.IsType(t, noop.Meter{}, p.Meter("replay"))
}
