// Package datastore opens the coldwatch database and applies its schema.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/coldwatch/coldwatch/internal/conf"
	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
	"github.com/coldwatch/coldwatch/internal/logger"
)

const (
	// sqliteBusyTimeoutMs lets a blocked writer wait instead of failing with SQLITE_BUSY.
	sqliteBusyTimeoutMs = 5000
	mysqlMaxOpenConns   = 10
	mysqlMaxIdleConns   = 5
	mysqlConnMaxLife    = 30 * time.Minute
	slowQueryThreshold  = 500 * time.Millisecond
)

// Manager owns a database connection and its schema.
type Manager interface {
	// Initialize migrates the schema.
	Initialize() error
	DB() *gorm.DB
	Dialect() string
	Close() error
}

// Config selects the database for a Manager.
type Config struct {
	// Path is the SQLite file, or ":memory:".
	Path string
	// DSN is the MySQL data source name.
	DSN string
	// Debug logs every statement.
	Debug bool
	// Logger receives GORM warnings and slow queries. Nil discards them.
	Logger logger.Logger
}

type manager struct {
	db      *gorm.DB
	dialect string
}

// NewManager opens the database described by settings.
func NewManager(settings conf.DatabaseSettings, log logger.Logger) (Manager, error) {
	cfg := Config{Path: settings.Path, DSN: settings.DSN, Logger: log.Module("gorm")}
	var (
		mgr Manager
		err error
	)
	switch settings.Type {
	case "mysql":
		mgr, err = NewMySQLManager(cfg)
	case "sqlite", "":
		mgr, err = NewSQLiteManager(cfg)
	default:
		return nil, errors.Config("open database", fmt.Errorf("unsupported database type %q", settings.Type))
	}
	if err != nil {
		return nil, err
	}
	log.Info("database opened", logger.String("dialect", mgr.Dialect()))
	return mgr, nil
}

// NewSQLiteManager opens a SQLite database. Writers are serialized through a
// single connection.
func NewSQLiteManager(cfg Config) (Manager, error) {
	dsn := sqliteDSN(cfg.Path)
	if cfg.Path != "" && cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.Storage("create database directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, errors.Storage("open sqlite", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Storage("open sqlite", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return &manager{db: db, dialect: "sqlite"}, nil
}

// NewMySQLManager opens a MySQL database.
func NewMySQLManager(cfg Config) (Manager, error) {
	if cfg.DSN == "" {
		return nil, errors.Config("open mysql", fmt.Errorf("missing DSN"))
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig(cfg))
	if err != nil {
		return nil, errors.Storage("open mysql", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Storage("open mysql", err)
	}
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
	sqlDB.SetConnMaxLifetime(mysqlConnMaxLife)
	return &manager{db: db, dialect: "mysql"}, nil
}

// NewManagerFromDB wraps an already opened connection.
func NewManagerFromDB(db *gorm.DB) Manager {
	return &manager{db: db, dialect: db.Dialector.Name()}
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=ON"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=ON", path, sqliteBusyTimeoutMs)
}

func gormConfig(cfg Config) *gorm.Config {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	level := gorm_logger.Warn
	if cfg.Debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger: gorm_logger.New(
			gormWriter{log: log},
			gorm_logger.Config{
				SlowThreshold:             slowQueryThreshold,
				LogLevel:                  level,
				IgnoreRecordNotFoundError: true,
			},
		),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// gormWriter routes GORM's printf-style output through the package logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(fmt.Sprintf(format, args...))
}

func (m *manager) Initialize() error {
	if err := m.db.AutoMigrate(entities.All()...); err != nil {
		return errors.Storage("migrate schema", err)
	}
	return nil
}

func (m *manager) DB() *gorm.DB    { return m.db }
func (m *manager) Dialect() string { return m.dialect }

func (m *manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
