package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linkeye/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db   *gorm.DB
	once sync.Once
)

// Options selects the backing database.
type Options struct {
	Driver string // sqlite or postgres
	Path   string // sqlite file path or DSN
	DSN    string // postgres DSN
}

// Open connects to the database and migrates the schema.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "", "sqlite":
		if !strings.HasPrefix(opts.Path, "file:") && opts.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(opts.Path)
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate creates or updates every table the engine owns.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.CardMetric{},
		&models.LinkDefinition{},
		&models.Inhibition{},
		&models.Acknowledgment{},
		&models.LossHistory{},
		&models.Setting{},
		&models.Alert{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Initialize opens the process-wide connection once.
func Initialize(opts Options, logger *zap.Logger) error {
	var initErr error
	once.Do(func() {
		db, initErr = Open(opts)
		if initErr == nil {
			logger.Info("Database initialized", zap.String("driver", opts.Driver))
		}
	})
	return initErr
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	if db == nil {
		panic("Database not initialized. Call Initialize() first")
	}
	return db
}

// Close closes the database connection
func Close() error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	return sqlDB.Close()
}
