package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "phantom_recorder.cfg.json"

// ErrNotFound is wrapped by Load when the config file does not exist.
var ErrNotFound = errors.New("config file not found")

// DefaultAllowedObjects are the decoy props used when none are configured.
var DefaultAllowedObjects = []string{
	"static.prop.trafficcone01",
	"static.prop.trafficwarning",
	"static.prop.streetbarrier",
	"static.prop.constructioncone",
}

// SimConfig holds the simulator connection and stepping settings.
type SimConfig struct {
	Backend     string        `json:"backend" mapstructure:"backend"`
	Host        string        `json:"host" mapstructure:"host"`
	Port        int           `json:"port" mapstructure:"port"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	FixedDelta  float64       `json:"fixedDelta" mapstructure:"fixedDelta"`
	SettleDelay time.Duration `json:"settleDelay" mapstructure:"settleDelay"`
}

// SensorConfig holds the ray-cast lidar attributes.
type SensorConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled"`
	Channels          int     `json:"channels" mapstructure:"channels"`
	PointsPerSecond   int     `json:"pointsPerSecond" mapstructure:"pointsPerSecond"`
	RotationFrequency float64 `json:"rotationFrequency" mapstructure:"rotationFrequency"`
	Range             float64 `json:"range" mapstructure:"range"`
	UpperFov          float64 `json:"upperFov" mapstructure:"upperFov"`
	LowerFov          float64 `json:"lowerFov" mapstructure:"lowerFov"`
	MountZ            float64 `json:"mountZ" mapstructure:"mountZ"`
}

// SpawnConfig holds the phantom object randomisation ranges.
type SpawnConfig struct {
	Min            int      `json:"min" mapstructure:"min"`
	Max            int      `json:"max" mapstructure:"max"`
	RangeMin       float64  `json:"rangeMin" mapstructure:"rangeMin"`
	RangeMax       float64  `json:"rangeMax" mapstructure:"rangeMax"`
	RotationMin    float64  `json:"rotationMin" mapstructure:"rotationMin"`
	RotationMax    float64  `json:"rotationMax" mapstructure:"rotationMax"`
	PersistMin     int      `json:"persistMin" mapstructure:"persistMin"`
	PersistMax     int      `json:"persistMax" mapstructure:"persistMax"`
	AllowedObjects []string `json:"allowedObjects" mapstructure:"allowedObjects"`
	AvoidOverlap   bool     `json:"avoidOverlap" mapstructure:"avoidOverlap"`
	Seed           int64    `json:"seed" mapstructure:"seed"`
}

// FilesConfig holds the file output backend settings.
type FilesConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// IndexConfig holds the gorm index backend settings.
type IndexConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Type          string        `json:"type" mapstructure:"type"`
	Path          string        `json:"path" mapstructure:"path"`
	Host          string        `json:"host" mapstructure:"host"`
	Port          string        `json:"port" mapstructure:"port"`
	Username      string        `json:"username" mapstructure:"username"`
	Password      string        `json:"password" mapstructure:"password"`
	Database      string        `json:"database" mapstructure:"database"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
}

// StorageConfig holds output settings.
type StorageConfig struct {
	OutputPath string      `json:"outputPath" mapstructure:"outputPath"`
	Files      FilesConfig `json:"files" mapstructure:"files"`
	Index      IndexConfig `json:"index" mapstructure:"index"`
}

// InfluxConfig holds the InfluxDB performance metrics settings.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// AnnotationConfig controls how annotation files are read.
type AnnotationConfig struct {
	Validate bool `json:"validate" mapstructure:"validate"`
}

// DatasetConfig controls dataset location and download.
type DatasetConfig struct {
	Path    string `json:"path" mapstructure:"path"`
	Size    string `json:"size" mapstructure:"size"`
	BaseURL string `json:"baseUrl" mapstructure:"baseUrl"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("dataset.path", "data/Bench2Drive-mini/")
	viper.SetDefault("dataset.size", "mini")
	viper.SetDefault("dataset.baseUrl", "")

	viper.SetDefault("sim.backend", "bridge")
	viper.SetDefault("sim.host", "127.0.0.1")
	viper.SetDefault("sim.port", 2000)
	viper.SetDefault("sim.timeout", "200s")
	viper.SetDefault("sim.fixedDelta", 0.05)
	viper.SetDefault("sim.settleDelay", "50ms")

	viper.SetDefault("sensor.enabled", true)
	viper.SetDefault("sensor.channels", 64)
	viper.SetDefault("sensor.pointsPerSecond", 2240000)
	viper.SetDefault("sensor.rotationFrequency", 20.0)
	viper.SetDefault("sensor.range", 100.0)
	viper.SetDefault("sensor.upperFov", 10.0)
	viper.SetDefault("sensor.lowerFov", -30.0)
	viper.SetDefault("sensor.mountZ", 2.0)

	viper.SetDefault("spawn.min", 5)
	viper.SetDefault("spawn.max", 10)
	viper.SetDefault("spawn.rangeMin", 5.0)
	viper.SetDefault("spawn.rangeMax", 10.0)
	viper.SetDefault("spawn.rotationMin", -180.0)
	viper.SetDefault("spawn.rotationMax", 180.0)
	viper.SetDefault("spawn.persistMin", 1)
	viper.SetDefault("spawn.persistMax", 1)
	viper.SetDefault("spawn.allowedObjects", []string{})
	viper.SetDefault("spawn.avoidOverlap", false)
	viper.SetDefault("spawn.seed", 0)

	viper.SetDefault("storage.outputPath", "./data/recorded-lidar")
	viper.SetDefault("storage.files.enabled", true)
	viper.SetDefault("storage.index.enabled", false)
	viper.SetDefault("storage.index.type", "sqlite")
	viper.SetDefault("storage.index.path", "./data/recorded-lidar/index.db")
	viper.SetDefault("storage.index.host", "localhost")
	viper.SetDefault("storage.index.port", "5432")
	viper.SetDefault("storage.index.username", "postgres")
	viper.SetDefault("storage.index.password", "postgres")
	viper.SetDefault("storage.index.database", "phantom")
	viper.SetDefault("storage.index.flushInterval", "2s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "phantom-metrics")
	viper.SetDefault("influx.bucket", "replay_performance")
	viper.SetDefault("influx.backupPath", "./logs/influx_backup.log.gz")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "phantom-recorder")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("annotations.validate", true)
	viper.SetDefault("progress.every", 50)
}

// Load sets defaults and reads the JSON config file from configDir.
// A missing file yields an error wrapping ErrNotFound; defaults stay set.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", ErrNotFound)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetSimConfig returns the simulator settings.
func GetSimConfig() SimConfig {
	return SimConfig{
		Backend:     viper.GetString("sim.backend"),
		Host:        viper.GetString("sim.host"),
		Port:        viper.GetInt("sim.port"),
		Timeout:     viper.GetDuration("sim.timeout"),
		FixedDelta:  viper.GetFloat64("sim.fixedDelta"),
		SettleDelay: viper.GetDuration("sim.settleDelay"),
	}
}

// GetSensorConfig returns the lidar settings.
func GetSensorConfig() SensorConfig {
	return SensorConfig{
		Enabled:           viper.GetBool("sensor.enabled"),
		Channels:          viper.GetInt("sensor.channels"),
		PointsPerSecond:   viper.GetInt("sensor.pointsPerSecond"),
		RotationFrequency: viper.GetFloat64("sensor.rotationFrequency"),
		Range:             viper.GetFloat64("sensor.range"),
		UpperFov:          viper.GetFloat64("sensor.upperFov"),
		LowerFov:          viper.GetFloat64("sensor.lowerFov"),
		MountZ:            viper.GetFloat64("sensor.mountZ"),
	}
}

// GetSpawnConfig returns the phantom object settings. An empty allowed
// list falls back to DefaultAllowedObjects.
func GetSpawnConfig() SpawnConfig {
	allowed := viper.GetStringSlice("spawn.allowedObjects")
	if len(allowed) == 0 {
		allowed = append([]string(nil), DefaultAllowedObjects...)
	}
	return SpawnConfig{
		Min:            viper.GetInt("spawn.min"),
		Max:            viper.GetInt("spawn.max"),
		RangeMin:       viper.GetFloat64("spawn.rangeMin"),
		RangeMax:       viper.GetFloat64("spawn.rangeMax"),
		RotationMin:    viper.GetFloat64("spawn.rotationMin"),
		RotationMax:    viper.GetFloat64("spawn.rotationMax"),
		PersistMin:     viper.GetInt("spawn.persistMin"),
		PersistMax:     viper.GetInt("spawn.persistMax"),
		AllowedObjects: allowed,
		AvoidOverlap:   viper.GetBool("spawn.avoidOverlap"),
		Seed:           viper.GetInt64("spawn.seed"),
	}
}

// GetStorageConfig returns the output settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		OutputPath: viper.GetString("storage.outputPath"),
		Files: FilesConfig{
			Enabled: viper.GetBool("storage.files.enabled"),
		},
		Index: IndexConfig{
			Enabled:       viper.GetBool("storage.index.enabled"),
			Type:          viper.GetString("storage.index.type"),
			Path:          viper.GetString("storage.index.path"),
			Host:          viper.GetString("storage.index.host"),
			Port:          viper.GetString("storage.index.port"),
			Username:      viper.GetString("storage.index.username"),
			Password:      viper.GetString("storage.index.password"),
			Database:      viper.GetString("storage.index.database"),
			FlushInterval: viper.GetDuration("storage.index.flushInterval"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetAnnotationConfig returns the annotation reader settings.
func GetAnnotationConfig() AnnotationConfig {
	return AnnotationConfig{
		Validate: viper.GetBool("annotations.validate"),
	}
}

// GetDatasetConfig returns the dataset settings.
func GetDatasetConfig() DatasetConfig {
	return DatasetConfig{
		Path:    viper.GetString("dataset.path"),
		Size:    viper.GetString("dataset.size"),
		BaseURL: viper.GetString("dataset.baseUrl"),
	}
}
