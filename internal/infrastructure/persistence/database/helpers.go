// Package database provides database helper functions
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// TestTursoConnectionWithLogger tests the Turso database connection with logging
func TestTursoConnectionWithLogger(databaseURL, authToken string, logger *logging.ChanneledLogger) error {
	start := time.Now()
	logger.Database().Debug().Str("databaseURL", databaseURL).Msg("Testing Turso database connection")

	connStr := fmt.Sprintf("%s?authToken=%s", databaseURL, authToken)
	db, err := sql.Open(DriverLibSQL, connStr)
	if err != nil {
		logger.Database().Error().Err(err).Str("databaseURL", databaseURL).Msg("Failed to open Turso connection")
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err != nil {
		logger.Database().Error().Err(err).Str("databaseURL", databaseURL).Msg("Turso connection test query failed")
		return fmt.Errorf("connection test query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: %d", result)
	}

	logger.Database().Info().Str("databaseURL", databaseURL).Dur("duration", time.Since(start)).Msg("Turso connection test successful")
	return nil
}

// CheckSlow logs query on the slow-query channel when duration exceeds the threshold.
func (db *DB) CheckSlow(query string, duration time.Duration, tenantID string) {
	threshold := db.slowQuery
	// bulk replays are expected to run long
	if strings.HasPrefix(query, "BULK_") {
		threshold *= 3
	}
	if duration > threshold {
		db.logger.LogSlowQuery(query, duration, tenantID)
	}
}

// Track is deferred by repositories: defer db.Track(query, time.Now(), tenantID)
func (db *DB) Track(query string, start time.Time, tenantID string) {
	db.CheckSlow(query, time.Since(start), tenantID)
}

// Execer is satisfied by *sql.DB, *sql.Tx and *DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ClaimJob records key in the processed-job ledger. It reports false when the
// key was already recorded, in which case the caller must skip its side effects.
// Run it inside the same transaction as those side effects.
func ClaimJob(ctx context.Context, tx Execer, key, jobType string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_jobs (job_key, job_type, processed_at) VALUES (?, ?, ?)`,
		key, jobType, Nanos(at))
	if err != nil {
		return false, errors.Wrap(err, "claim job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "claim job rows affected")
	}
	return n == 1, nil
}

// Timestamps are stored as INTEGER unix nanoseconds so ordering and
// last-write-wins comparisons are exact.

func Nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func FromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func NullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: Nanos(*t), Valid: true}
}

func FromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := FromNanos(n.Int64)
	return &t
}

func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func FromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func NullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func FromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// Placeholders returns "?, ?, ?" for n arguments.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}
