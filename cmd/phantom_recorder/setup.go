package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/logging"
	intOtel "github.com/b2d-phantom/recorder/internal/otel"
	"github.com/b2d-phantom/recorder/internal/session"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = slog.Default()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	// RunID identifies this invocation in outputs and logs
	RunID string

	// Session tracks the instance and frame being replayed for log records
	Session *session.Context

	LogFilePath string
	LogFile     *os.File

	SessionStartTime = time.Now()
)

// flagBinding maps a command line flag onto a config key.
type flagBinding struct {
	flag string
	key  string
}

var flagBindings = []flagBinding{
	{flagDatasetPath, "dataset.path"},
	{flagOutputPath, "storage.outputPath"},
	{flagHost, "sim.host"},
	{flagPort, "sim.port"},
	{flagBackend, "sim.backend"},
	{flagSeed, "spawn.seed"},

	{flagChannels, "sensor.channels"},
	{flagPointsPerSecond, "sensor.pointsPerSecond"},
	{flagRotationFrequency, "sensor.rotationFrequency"},
	{flagRange, "sensor.range"},
	{flagUpperFov, "sensor.upperFov"},
	{flagLowerFov, "sensor.lowerFov"},

	{flagSpawnMin, "spawn.min"},
	{flagSpawnMax, "spawn.max"},
	{flagSpawnRangeMin, "spawn.rangeMin"},
	{flagSpawnRangeMax, "spawn.rangeMax"},
	{flagSpawnRotationMin, "spawn.rotationMin"},
	{flagSpawnRotationMax, "spawn.rotationMax"},
	{flagSpawnPersistMin, "spawn.persistMin"},
	{flagSpawnPersistMax, "spawn.persistMax"},
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(c *cli.Context) {
	for _, b := range flagBindings {
		if c.IsSet(b.flag) {
			viper.Set(b.key, c.Value(b.flag))
		}
	}
	if c.IsSet(flagAllowedObjects) {
		viper.Set("spawn.allowedObjects", c.StringSlice(flagAllowedObjects))
	}
	if c.Bool(flagVerbose) {
		viper.Set("logLevel", "debug")
	}
}

// initialize loads the config, applies flag overrides and sets up logging
// and telemetry. It runs at the start of every command.
func initialize(c *cli.Context) error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Sinks{Console: os.Stdout}, viper.GetString("logLevel"))
	Logger = SlogManager.Logger()

	if err := config.Load(c.String(flagConfig)); err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return err
		}
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}
	applyFlags(c)

	RunID = uuid.NewString()
	Session = session.NewContext(RunID)

	var err error
	LogFilePath, LogFile, err = logging.OpenSessionLog(viper.GetString("logsDir"), AppName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var otelWriter io.Writer
		if LogFile != nil {
			otelWriter = LogFile
		}
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: Version,
			RunID:          RunID,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      otelWriter,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	SlogManager.SetContextProvider(Session.Attrs)

	sinks := logging.Sinks{Console: os.Stdout, OTel: otelLogProvider}
	if LogFile != nil {
		sinks.File = LogFile
	}
	SlogManager.Setup(sinks, viper.GetString("logLevel"))
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", Version)
	return nil
}

// shutdown flushes telemetry and closes the log file.
func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if SlogManager != nil {
		if err := SlogManager.Flush(ctx); err != nil {
			Logger.Warn("Failed to flush logs", "error", err)
		}
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}
