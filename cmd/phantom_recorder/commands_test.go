package main

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/sim/memsim"
)

func TestNewApp_Commands(t *testing.T) {
	app := newApp()

	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"download", "record", "replay", "convert"}, names)

	record := app.Command("record")
	require.NotNil(t, record)
	flags := map[string]bool{}
	for _, f := range record.Flags {
		for _, n := range f.Names() {
			flags[n] = true
		}
	}
	for _, want := range []string{flagConfig, flagVerbose, flagDatasetPath, flagHost, flagSpawnPersistMax, flagAllowedObjects} {
		assert.True(t, flags[want], "record is missing --%s", want)
	}
}

func TestConnectSimulator(t *testing.T) {
	ctx := context.Background()

	client, err := connectSimulator(ctx, config.SimConfig{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &memsim.Client{}, client)
	assert.NoError(t, client.Close())

	_, err = connectSimulator(ctx, config.SimConfig{Backend: "carla-direct"})
	assert.ErrorContains(t, err, "unknown simulator backend")
}

func TestRecordOptions(t *testing.T) {
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	viper.Set("spawn.min", 0)
	viper.Set("spawn.max", 3)
	viper.Set("spawn.seed", 42)
	viper.Set("spawn.allowedObjects", []string{"static.prop.trafficcone01"})
	viper.Set("sensor.channels", 32)

	opts := recordOptions()
	assert.True(t, opts.SensorEnabled)
	assert.Equal(t, 0.05, opts.FixedDelta)
	assert.Equal(t, 32, opts.Capture.Lidar.Channels)
	assert.Equal(t, 2.0, opts.Capture.MountZ)
	assert.Equal(t, 3, opts.Phantoms.Max)
	assert.Equal(t, []string{"static.prop.trafficcone01"}, opts.Phantoms.Allowed)
	assert.Equal(t, uint64(42), opts.Seed)
	assert.Equal(t, 50, opts.ProgressEvery)
	assert.True(t, opts.Validate)
}
