package db

import (
	"fmt"
	"os"
	"path/filepath"

	"dutlab/backend/app/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Config struct {
	Driver   string
	Path     string // sqlite file
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func Connect(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch cfg.Driver {
	case DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return gorm.Open(mysql.Open(dsn), gcfg)
	case DriverSQLite, "":
		return openSQLite(cfg.Path, gcfg)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}
}

// openSQLite serialises every statement through one connection so status
// transactions never interleave.
func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		path = "dutlab.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	gdb, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", "PRAGMA synchronous=FULL;"} {
		if err := gdb.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return gdb, nil
}

// Migrate creates the tables and seeds the job id counter.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.DeviceStatus{}, &models.LogRecord{}, &models.JobIDCounter{}, &models.Operator{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return gdb.Where(models.JobIDCounter{CounterID: 1}).
		Attrs(models.JobIDCounter{NextJobID: 1}).
		FirstOrCreate(&models.JobIDCounter{}).Error
}

// Close releases the pool behind gdb.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
