// Package persistence stores the measurement catalog in SQLite or PostgreSQL
// through gorm.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/config"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/logger"
)

// Database is an open catalog connection
type Database struct {
	DB     *gorm.DB
	Driver string
	conn   *sql.DB
}

// NewDatabase opens the catalog database described by cfg and verifies the
// connection. Statements are logged through zapLogger.
func NewDatabase(cfg *config.CatalogConfig, zapLogger *zap.Logger) (*Database, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}

	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN())
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewSQLLogger(zapLogger, logger.SQLLevel(cfg.LogLevel),
			logger.WithSlowThreshold(cfg.SlowThreshold)),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s catalog: %w", driver, err)
	}

	d, err := wrap(db, driver)
	if err != nil {
		return nil, err
	}
	configurePool(d.conn, driver, cfg)

	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to reach %s catalog: %w", driver, err)
	}
	return d, nil
}

func wrap(db *gorm.DB, driver string) (*Database, error) {
	conn, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog connection: %w", err)
	}
	return &Database{DB: db, Driver: driver, conn: conn}, nil
}

// configurePool sizes the connection pool. SQLite allows one writer, so
// import workers share a single connection instead of failing with SQLITE_BUSY.
func configurePool(conn *sql.DB, driver string, cfg *config.CatalogConfig) {
	if driver == config.DriverSQLite {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	conn.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	conn.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
}

// Conn returns the underlying connection pool, used by schema migrations
func (d *Database) Conn() *sql.DB {
	return d.conn
}

// Ping checks that the catalog is reachable
func (d *Database) Ping() error {
	return d.conn.Ping()
}

// Close closes the connection pool
func (d *Database) Close() error {
	return d.conn.Close()
}
