// Package dbtest opens throwaway sqlite databases with the full schema.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	schema "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/database"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Open returns a migrated database under t.TempDir, closed on cleanup.
func Open(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "livedesk.db"),
	}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, schema.NewTableCreator().CreateSchema(context.Background(), db.DB))
	return db
}
