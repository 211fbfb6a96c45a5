package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestCreateSchemaIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tc := NewTableCreator()
	ctx := context.Background()
	require.NoError(t, tc.CreateSchema(ctx, db))
	require.NoError(t, tc.CreateSchema(ctx, db))

	for _, table := range tc.Tables() {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestAgentStatusCapacityConstraint(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, NewTableCreator().CreateSchema(context.Background(), db))

	_, err = db.Exec(`INSERT INTO agent_status (user_id, tenant_id, status, current_chats, max_concurrent_chats, last_seen_at, updated_at) VALUES ('a', 't', 'BUSY', 3, 2, 0, 0)`)
	require.Error(t, err)
}
