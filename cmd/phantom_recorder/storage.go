package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/database"
	"github.com/b2d-phantom/recorder/internal/logging"
	"github.com/b2d-phantom/recorder/internal/storage"
	"github.com/b2d-phantom/recorder/internal/storage/files"
	gormstorage "github.com/b2d-phantom/recorder/internal/storage/gorm"
	influxstorage "github.com/b2d-phantom/recorder/internal/storage/influx"
)

// IndexDumpFile is where an in-memory index is written on close.
const IndexDumpFile = "index.db"

// outputs is the storage assembled for a record run.
type outputs struct {
	backend storage.Backend
	index   *database.Manager
	dumpTo  string
}

// Close flushes and closes every backend, then the index connection. An
// in-memory index is dumped to disk first.
func (o *outputs) Close() error {
	errs := o.backend.Close()
	if o.index == nil {
		return errs
	}
	if o.dumpTo != "" {
		if err := o.index.DumpMemoryToDisk(o.dumpTo); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			Logger.Info("Index written", "path", o.dumpTo)
		}
	}
	return multierr.Append(errs, o.index.Close())
}

func zerologWriter() io.Writer {
	if LogFile != nil {
		return LogFile
	}
	return os.Stdout
}

// createStorage assembles the configured backends. Files output is the
// default; the index and influx sinks are opt-in.
func createStorage(storageCfg config.StorageConfig, influxCfg config.InfluxConfig) (*outputs, error) {
	level := viper.GetString("logLevel")
	out := &outputs{}
	var backends storage.Multi

	if storageCfg.Files.Enabled {
		backends = append(backends, files.New(storageCfg.OutputPath, Logger))
		Logger.Info("Files storage backend initialized", "root", storageCfg.OutputPath)
	}

	if storageCfg.Index.Enabled {
		zl := logging.NewZerolog(zerologWriter(), level, "index")
		manager := database.NewManager(storageCfg.Index, zl)
		if err := manager.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect index database: %w", err)
		}
		out.index = manager
		if err := manager.Setup(); err != nil {
			return nil, multierr.Append(err, manager.Close())
		}
		if manager.InMemory() {
			out.dumpTo = filepath.Join(storageCfg.OutputPath, IndexDumpFile)
		}
		backends = append(backends, gormstorage.New(gormstorage.Dependencies{
			DB:            manager.DB,
			Logger:        zl,
			FlushInterval: storageCfg.Index.FlushInterval,
		}))
		Logger.Info("Index storage backend initialized", "type", storageCfg.Index.Type, "local", manager.ShouldSaveLocal)
	}

	if influxCfg.Enabled {
		zl := logging.NewZerolog(zerologWriter(), level, "influx")
		b := influxstorage.New(influxCfg, zl)
		backends = append(backends, b)
		Logger.Info("Influx storage backend initialized", "url", b.URL())
	}

	switch len(backends) {
	case 0:
		out.backend = storage.Nop{}
	case 1:
		out.backend = backends[0]
	default:
		out.backend = backends
	}

	if err := out.backend.Init(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to initialize storage: %w", err), out.Close())
	}
	return out, nil
}
