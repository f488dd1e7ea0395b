package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/b2d-phantom/recorder/internal/capture"
	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/dataset"
	"github.com/b2d-phantom/recorder/internal/mesh"
	"github.com/b2d-phantom/recorder/internal/phantom"
	"github.com/b2d-phantom/recorder/internal/replay"
	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/internal/sim/memsim"
	"github.com/b2d-phantom/recorder/internal/simbridge"
	"github.com/b2d-phantom/recorder/internal/storage"
	"github.com/b2d-phantom/recorder/pkg/core"
)

// Simulator backends.
const (
	BackendBridge = "bridge"
	BackendMemory = "memory"
)

const dialAttempts = 5

func downloadAction(c *cli.Context) error {
	if err := initialize(c); err != nil {
		return err
	}
	sizeName := config.GetDatasetConfig().Size
	if c.IsSet(flagSize) || sizeName == "" {
		sizeName = c.String(flagSize)
	}
	size, err := dataset.ParseSize(sizeName)
	if err != nil {
		return err
	}

	sources := make(map[dataset.Size]dataset.Source, len(dataset.DefaultSources))
	for k, v := range dataset.DefaultSources {
		sources[k] = v
	}
	if base := config.GetDatasetConfig().BaseURL; base != "" {
		src := sources[size]
		src.BaseURL = base
		sources[size] = src
	}

	dir, err := dataset.NewDownloader(sources, Logger).Download(c.Context, c.String(flagDir), size)
	if err != nil {
		return err
	}
	Logger.Info("Dataset ready", "dir", dir)
	return nil
}

// connectSimulator returns the configured simulator client.
func connectSimulator(ctx context.Context, cfg config.SimConfig) (sim.Client, error) {
	switch cfg.Backend {
	case BackendMemory:
		Logger.Info("Using in-process world, nothing is rendered")
		return memsim.NewClient(memsim.Options{}), nil
	case BackendBridge, "":
		url := simbridge.URL(cfg.Host, cfg.Port)
		Logger.Info("Connecting to simulator", "url", url)
		client, err := simbridge.Dial(ctx, simbridge.Config{
			URL:          url,
			Timeout:      cfg.Timeout,
			DialAttempts: dialAttempts,
			DialBackoff:  time.Second,
		}, Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to simulator: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown simulator backend: %s", cfg.Backend)
	}
}

// recordOptions builds the runner options from the loaded config.
func recordOptions() replay.Options {
	simCfg := config.GetSimConfig()
	sensorCfg := config.GetSensorConfig()
	spawnCfg := config.GetSpawnConfig()

	return replay.Options{
		FixedDelta:    simCfg.FixedDelta,
		SensorEnabled: sensorCfg.Enabled,
		Capture: capture.Config{
			Lidar: sim.LidarConfig{
				Channels:          sensorCfg.Channels,
				PointsPerSecond:   sensorCfg.PointsPerSecond,
				RotationFrequency: sensorCfg.RotationFrequency,
				Range:             sensorCfg.Range,
				UpperFov:          sensorCfg.UpperFov,
				LowerFov:          sensorCfg.LowerFov,
			},
			MountZ:      sensorCfg.MountZ,
			SettleDelay: simCfg.SettleDelay,
		},
		Phantoms: phantom.Config{
			Min:          spawnCfg.Min,
			Max:          spawnCfg.Max,
			RangeMin:     spawnCfg.RangeMin,
			RangeMax:     spawnCfg.RangeMax,
			RotationMin:  spawnCfg.RotationMin,
			RotationMax:  spawnCfg.RotationMax,
			PersistMin:   spawnCfg.PersistMin,
			PersistMax:   spawnCfg.PersistMax,
			Allowed:      spawnCfg.AllowedObjects,
			AvoidOverlap: spawnCfg.AvoidOverlap,
		},
		Seed:          uint64(spawnCfg.Seed),
		ProgressEvery: viper.GetInt("progress.every"),
		Validate:      config.GetAnnotationConfig().Validate,
	}
}

func recordAction(c *cli.Context) error {
	if err := initialize(c); err != nil {
		return err
	}

	out, err := createStorage(config.GetStorageConfig(), config.GetInfluxConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			Logger.Error("Failed to close storage", "error", err)
		}
	}()

	return runReplay(c.Context, out.backend, recordOptions())
}

func replayAction(c *cli.Context) error {
	if err := initialize(c); err != nil {
		return err
	}
	opts := replay.ReplayOptions(config.GetSimConfig().FixedDelta)
	opts.Validate = config.GetAnnotationConfig().Validate
	opts.ProgressEvery = viper.GetInt("progress.every")
	return runReplay(c.Context, storage.Nop{}, opts)
}

func runReplay(ctx context.Context, store storage.Backend, opts replay.Options) error {
	client, err := connectSimulator(ctx, config.GetSimConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			Logger.Warn("Failed to close simulator connection", "error", err)
		}
	}()

	metrics, err := replay.NewMetrics(OTelProvider.Meter("phantom-recorder/replay"))
	if err != nil {
		return err
	}
	runner, err := replay.NewRunner(client, store, opts, Session, metrics, Logger)
	if err != nil {
		return err
	}

	root := config.GetDatasetConfig().Path
	summaries, err := runner.Run(ctx, root)
	logSummaries(summaries)
	if errors.Is(err, context.Canceled) {
		Logger.Warn("Interrupted, output produced so far is kept")
	}
	return err
}

func logSummaries(summaries []core.InstanceSummary) {
	var failed int
	for _, s := range summaries {
		if s.Err != nil {
			failed++
		}
	}
	Logger.Info("Run finished",
		"run", RunID,
		"instances", len(summaries),
		"failed", failed,
		"elapsed", time.Since(SessionStartTime))
}

func convertAction(c *cli.Context) error {
	if err := initialize(c); err != nil {
		return err
	}
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one input file or directory", 2)
	}

	opts := mesh.Options{
		ColorBy:   c.String(flagColorBy),
		Colormap:  c.String(flagColormap),
		Subsample: c.Int(flagSubsample),
		Stack:     c.Bool(flagStack),
		Spacing:   c.Float64(flagSpacing),
		MaxFiles:  c.Int(flagMaxFiles),
	}
	output := c.String(flagOutput)
	start := time.Now()
	n, err := mesh.Convert(c.Args().First(), output, opts, Logger)
	if err != nil {
		return err
	}
	SlogManager.Since(start, "Converted scans", "points", n)
	Logger.Info("Conversion complete, open the file in a 3D viewer", "path", output)
	return nil
}
