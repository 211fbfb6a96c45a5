// Package database provides the core functionality for creating and managing
// database connections in a clean, isolated manner.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
)

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	driver    string
	logger    *logging.ChanneledLogger
	slowQuery time.Duration
}

// Open builds the data source for the configured driver, applies the pool
// settings and verifies the connection.
func Open(cfg config.DatabaseConfig, logger *logging.ChanneledLogger) (*DB, error) {
	var dsn string
	switch cfg.Driver {
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		dsn = SQLiteDSN(cfg.Path)
	case DriverLibSQL:
		if cfg.TursoURL == "" {
			return nil, errors.New("libsql driver requires a database url")
		}
		dsn = cfg.TursoURL
		if cfg.TursoToken != "" {
			dsn = fmt.Sprintf("%s?authToken=%s", cfg.TursoURL, cfg.TursoToken)
		}
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := NewConnectionWithLogger(cfg.Driver, dsn, logger)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 && cfg.Driver != DriverSQLite {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	if cfg.SlowQueryThreshold > 0 {
		db.slowQuery = cfg.SlowQueryThreshold
	}
	return db, nil
}

// SQLiteDSN enables WAL, a busy timeout and foreign keys for a local file.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// NewConnectionWithLogger establishes a new database connection for the specified driver with logging.
func NewConnectionWithLogger(driverName, dataSourceName string, logger *logging.ChanneledLogger) (*DB, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	start := time.Now()
	logger.Database().Debug().Str("driverName", driverName).Msg("Creating new database connection")

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		logger.Database().Error().Err(err).Str("driverName", driverName).Msg("Failed to open database connection")
		return nil, errors.Wrap(err, "open database")
	}

	if err = db.Ping(); err != nil {
		logger.Database().Error().Err(err).Str("driverName", driverName).Msg("Database ping failed")
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	duration := time.Since(start)
	logger.Database().Info().Str("driverName", driverName).Dur("duration", duration).Msg("Database connection established")

	wrapped := &DB{DB: db, driver: driverName, logger: logger, slowQuery: 100 * time.Millisecond}
	if driverName == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	wrapped.CheckSlow("DATABASE_CONNECTION", duration, "system")
	return wrapped, nil
}

func (db *DB) Driver() string { return db.driver }

func (db *DB) Logger() *logging.ChanneledLogger { return db.logger }

// HealthCheck runs SELECT 1, the probe used by worker health checks.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Wrap(err, "health check query")
	}
	if one != 1 {
		return errors.Errorf("unexpected health check result: %d", one)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Database().Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}
