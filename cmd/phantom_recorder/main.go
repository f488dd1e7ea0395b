// Command phantom_recorder replays recorded driving routes in the
// simulator, captures lidar scans with injected phantom props and converts
// scans to point meshes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/dataset"
	"github.com/b2d-phantom/recorder/internal/mesh"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"

	AppName = "phantom_recorder"
)

// Flags.
const (
	flagConfig  = "config"
	flagVerbose = "verbose"

	flagDatasetPath = "dataset-path"
	flagOutputPath  = "output-path"
	flagHost        = "host"
	flagPort        = "port"
	flagBackend     = "backend"
	flagSeed        = "seed"

	flagChannels          = "channels"
	flagPointsPerSecond   = "points-per-second"
	flagRotationFrequency = "rotation-frequency"
	flagRange             = "range"
	flagUpperFov          = "upper-fov"
	flagLowerFov          = "lower-fov"

	flagSpawnMin         = "spawn-min"
	flagSpawnMax         = "spawn-max"
	flagSpawnRangeMin    = "spawn-range-min"
	flagSpawnRangeMax    = "spawn-range-max"
	flagSpawnRotationMin = "spawn-rotation-min"
	flagSpawnRotationMax = "spawn-rotation-max"
	flagSpawnPersistMin  = "spawn-persist-min"
	flagSpawnPersistMax  = "spawn-persist-max"
	flagAllowedObjects   = "allowed-objects"

	flagDir  = "dir"
	flagSize = "size"

	flagOutput    = "output"
	flagColorBy   = "color-by"
	flagColormap  = "colormap"
	flagSubsample = "subsample"
	flagStack     = "stack"
	flagSpacing   = "spacing"
	flagMaxFiles  = "max-files"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagConfig,
			Value: ".",
			Usage: "directory holding " + config.FileName,
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			Usage:   "log at debug level",
		},
	}
}

func simFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagDatasetPath, Usage: "dataset root or single instance directory"},
		&cli.StringFlag{Name: flagHost, Usage: "simulator bridge host"},
		&cli.IntFlag{Name: flagPort, Usage: "simulator bridge port"},
		&cli.StringFlag{Name: flagBackend, Usage: "simulator backend: bridge or memory"},
	}
}

func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagOutputPath, Usage: "output root"},
		&cli.Int64Flag{Name: flagSeed, Usage: "phantom randomisation seed, 0 for time based"},

		&cli.IntFlag{Name: flagChannels, Usage: "lidar channels"},
		&cli.IntFlag{Name: flagPointsPerSecond, Usage: "lidar points per second"},
		&cli.Float64Flag{Name: flagRotationFrequency, Usage: "lidar rotation frequency (Hz)"},
		&cli.Float64Flag{Name: flagRange, Usage: "lidar range (m)"},
		&cli.Float64Flag{Name: flagUpperFov, Usage: "lidar upper field of view (deg)"},
		&cli.Float64Flag{Name: flagLowerFov, Usage: "lidar lower field of view (deg)"},

		&cli.IntFlag{Name: flagSpawnMin, Usage: "minimum phantoms per frame"},
		&cli.IntFlag{Name: flagSpawnMax, Usage: "maximum phantoms per frame, 0 disables injection"},
		&cli.Float64Flag{Name: flagSpawnRangeMin, Usage: "minimum phantom distance from ego (m)"},
		&cli.Float64Flag{Name: flagSpawnRangeMax, Usage: "maximum phantom distance from ego (m)"},
		&cli.Float64Flag{Name: flagSpawnRotationMin, Usage: "minimum phantom yaw (deg)"},
		&cli.Float64Flag{Name: flagSpawnRotationMax, Usage: "maximum phantom yaw (deg)"},
		&cli.IntFlag{Name: flagSpawnPersistMin, Usage: "minimum phantom lifetime (frames)"},
		&cli.IntFlag{Name: flagSpawnPersistMax, Usage: "maximum phantom lifetime (frames)"},
		&cli.StringSliceFlag{Name: flagAllowedObjects, Usage: "phantom prototypes to choose from"},
	}
}

func downloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagDir, Value: "data/Bench2Drive", Usage: "target directory, the size is appended"},
		&cli.StringFlag{Name: flagSize, Value: string(dataset.SizeMini), Usage: "dataset size: mini, base or full"},
	}
}

func convertFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Value: "output.obj", Usage: "output OBJ file"},
		&cli.StringFlag{Name: flagColorBy, Value: mesh.ColorByHeight, Usage: "height, intensity, file or none"},
		&cli.StringFlag{Name: flagColormap, Value: "rainbow", Usage: "gray, hot, viridis, jet, rainbow, terrain or ocean"},
		&cli.IntFlag{Name: flagSubsample, Usage: "maximum points per file"},
		&cli.BoolFlag{Name: flagStack, Usage: "stack every file of a directory vertically"},
		&cli.Float64Flag{Name: flagSpacing, Value: 10, Usage: "vertical spacing between stacked scans (m)"},
		&cli.IntFlag{Name: flagMaxFiles, Usage: "maximum number of files to process"},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    AppName,
		Usage:   "replay recorded routes and capture lidar with phantom objects",
		Version: fmt.Sprintf("%s (%s)", Version, BuildDate),
		Commands: []*cli.Command{
			{
				Name:   "download",
				Usage:  "download and validate the dataset",
				Flags:  append(commonFlags(), downloadFlags()...),
				Action: downloadAction,
			},
			{
				Name:   "record",
				Usage:  "replay the dataset, capture lidar and inject phantom objects",
				Flags:  append(append(commonFlags(), simFlags()...), recordFlags()...),
				Action: recordAction,
			},
			{
				Name:   "replay",
				Usage:  "replay the dataset paths without capturing",
				Flags:  append(commonFlags(), simFlags()...),
				Action: replayAction,
			},
			{
				Name:      "convert",
				Usage:     "convert scan files to an OBJ point mesh",
				ArgsUsage: "<scan file or directory>",
				Flags:     append(commonFlags(), convertFlags()...),
				Action:    convertAction,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp().RunContext(ctx, os.Args)
	shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		stop()
		os.Exit(1)
	}
}
