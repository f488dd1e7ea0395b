// Package database opens the gorm connection behind the replay index.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/b2d-phantom/recorder/internal/config"
	"github.com/b2d-phantom/recorder/internal/model"
)

// MemoryPath opens SQLite in memory.
const MemoryPath = ":memory:"

const memoryDSN = "file::memory:?cache=shared"

// sqlitePragmas trade durability for write speed; the index can be rebuilt
// from the files output.
var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

// Manager handles the index connection.
type Manager struct {
	DB    *gorm.DB
	SqlDB *sql.DB
	// ShouldSaveLocal is set when the index ended up in SQLite, either by
	// choice or as the postgres fallback.
	ShouldSaveLocal bool
	Config          config.IndexConfig
	Logger          zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(cfg config.IndexConfig, log zerolog.Logger) *Manager {
	return &Manager{
		Config: cfg,
		Logger: log,
	}
}

// InMemory reports whether the SQLite index lives in memory and needs
// DumpMemoryToDisk to survive the run.
func (m *Manager) InMemory() bool {
	return m.ShouldSaveLocal && (m.Config.Path == "" || m.Config.Path == MemoryPath)
}

// Connect opens the configured database. A postgres index that cannot be
// reached falls back to SQLite at Config.Path.
func (m *Manager) Connect() error {
	switch m.Config.Type {
	case "postgres":
		err := m.connectPostgres()
		if err == nil {
			m.Logger.Info().Str("host", m.Config.Host).Msg("Connected to database")
			return nil
		}
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		return m.connectSqlite()
	case "sqlite", "":
		return m.connectSqlite()
	default:
		return fmt.Errorf("unknown index type: %s", m.Config.Type)
	}
}

func (m *Manager) connectPostgres() error {
	db, err := m.GetPostgresDB()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		return errors.Join(err, sqlDB.Close())
	}
	sqlDB.SetMaxOpenConns(10)
	m.DB, m.SqlDB = db, sqlDB
	return nil
}

func (m *Manager) connectSqlite() error {
	db, err := m.GetSqliteDB(m.Config.Path)
	if err != nil {
		return fmt.Errorf("failed to get local SQLite DB: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	m.DB, m.SqlDB = db, sqlDB
	m.ShouldSaveLocal = true
	return nil
}

func (m *Manager) postgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		m.Config.Host, m.Config.Port, m.Config.Username, m.Config.Password, m.Config.Database)
}

// GetPostgresDB opens, but does not ping, the Postgres index.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	m.Logger.Debug().Str("host", m.Config.Host).Str("database", m.Config.Database).Msg("Connecting to Postgres DB")
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  m.postgresDSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB opens a SQLite index. An empty path or MemoryPath uses a
// shared in-memory database.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := memoryDSN
	if path != "" && path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		dsn = path
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	m.Logger.Info().Str("dsn", dsn).Msg("Using local SQLite DB")
	return db, nil
}

// Setup migrates the index schema.
func (m *Manager) Setup() error {
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	m.Logger.Debug().Int("tables", len(model.DatabaseModels)).Msg("Index schema migrated")
	return nil
}

// DumpMemoryToDisk vacuums the database into path, replacing any file there.
func (m *Manager) DumpMemoryToDisk(path string) error {
	if path == "" {
		return errors.New("sqlite file path not set")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing existing DB file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	m.Logger.Debug().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped memory DB to disk")
	return nil
}

// Close closes the underlying connection.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}
