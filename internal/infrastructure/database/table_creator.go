// Package database provides schema creation for the durable store
package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the database schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
// Every statement is idempotent so migrate can run on each start.
func (tc *TableCreator) CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

// Tables lists the tables CreateSchema builds.
func (tc *TableCreator) Tables() []string {
	return []string{
		"departments", "rooms", "participants", "agent_status", "messages", "session_history",
		"chat_analytics", "chat_response_marks", "visitor_sessions", "attributions", "security_events", "page_views",
		"widget_events", "session_engagement", "processed_jobs",
	}
}

// All timestamps are INTEGER unix nanoseconds. updated_at drives last-write-wins upserts.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS departments (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, name TEXT NOT NULL, email TEXT, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rooms (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, visitor_session_id TEXT NOT NULL, visitor_id TEXT NOT NULL, primary_agent_id TEXT, department_id TEXT, candidate_department_ids TEXT NOT NULL DEFAULT '[]', created_at INTEGER NOT NULL, last_activity_at INTEGER NOT NULL, ended_at INTEGER, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS participants (id TEXT PRIMARY KEY, room_id TEXT NOT NULL, tenant_id TEXT NOT NULL, role TEXT NOT NULL CHECK (role IN ('visitor', 'agent')), user_id TEXT NOT NULL, name TEXT, email TEXT, avatar_url TEXT, status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'OFFLINE')), joined_at INTEGER NOT NULL, left_at INTEGER, updated_at INTEGER NOT NULL, UNIQUE(room_id, role, user_id))`,
	`CREATE TABLE IF NOT EXISTS agent_status (user_id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, status TEXT NOT NULL CHECK (status IN ('ONLINE', 'BUSY', 'OFFLINE')), current_chats INTEGER NOT NULL DEFAULT 0, max_concurrent_chats INTEGER NOT NULL CHECK (max_concurrent_chats > 0), current_room_id TEXT, last_seen_at INTEGER NOT NULL, updated_at INTEGER NOT NULL, CHECK (current_chats >= 0 AND current_chats <= max_concurrent_chats))`,
	`CREATE TABLE IF NOT EXISTS messages (id TEXT PRIMARY KEY, room_id TEXT NOT NULL, tenant_id TEXT NOT NULL, sender_kind TEXT NOT NULL, sender_id TEXT, body TEXT NOT NULL, internal BOOLEAN NOT NULL DEFAULT 0, created_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS session_history (id TEXT PRIMARY KEY, room_id TEXT NOT NULL, tenant_id TEXT NOT NULL, session_type TEXT NOT NULL, participant_id TEXT NOT NULL, action TEXT NOT NULL, reason TEXT NOT NULL, started_at INTEGER NOT NULL, ended_at INTEGER, duration_seconds INTEGER, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS chat_analytics (room_id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, message_count INTEGER NOT NULL DEFAULT 0, visitor_message_count INTEGER NOT NULL DEFAULT 0, agent_message_count INTEGER NOT NULL DEFAULT 0, internal_message_count INTEGER NOT NULL DEFAULT 0, participant_count INTEGER NOT NULL DEFAULT 0, agent_count INTEGER NOT NULL DEFAULT 0, first_response_time_ms INTEGER, average_response_time_ms REAL NOT NULL DEFAULT 0, response_count INTEGER NOT NULL DEFAULT 0, chat_duration_seconds INTEGER, active_duration_seconds INTEGER, first_visitor_message_at INTEGER, pending_visitor_message_at INTEGER, first_message_at INTEGER, last_message_at INTEGER, frozen BOOLEAN NOT NULL DEFAULT 0, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS chat_response_marks (room_id TEXT NOT NULL, mark_id TEXT NOT NULL, kind TEXT NOT NULL CHECK (kind IN ('visitor', 'agent', 'agent_join')), at INTEGER NOT NULL, PRIMARY KEY (room_id, mark_id))`,
	`CREATE TABLE IF NOT EXISTS visitor_sessions (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, token TEXT NOT NULL UNIQUE, visitor_id TEXT NOT NULL, user_agent TEXT, ip_hash TEXT, started_at INTEGER NOT NULL, last_seen_at INTEGER NOT NULL, ended_at INTEGER, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS attributions (id TEXT PRIMARY KEY, session_id TEXT NOT NULL, tenant_id TEXT NOT NULL, source TEXT, medium TEXT, campaign TEXT, referrer TEXT, landing_url TEXT, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS security_events (id TEXT PRIMARY KEY, session_id TEXT NOT NULL, tenant_id TEXT NOT NULL, type TEXT NOT NULL, severity TEXT NOT NULL, detail TEXT, ip_hash TEXT, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS page_views (id TEXT PRIMARY KEY, session_id TEXT NOT NULL, tenant_id TEXT NOT NULL, url TEXT NOT NULL, title TEXT, duration_ms INTEGER NOT NULL DEFAULT 0, occurred_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS widget_events (id TEXT PRIMARY KEY, session_id TEXT NOT NULL, tenant_id TEXT NOT NULL, action TEXT NOT NULL, target TEXT, occurred_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS session_engagement (session_id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, page_views INTEGER NOT NULL, widget_events INTEGER NOT NULL, distinct_pages INTEGER NOT NULL, duration_seconds INTEGER NOT NULL, score REAL NOT NULL, computed_at INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS processed_jobs (job_key TEXT PRIMARY KEY, job_type TEXT NOT NULL, processed_at INTEGER NOT NULL)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_departments_tenant ON departments(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_tenant ON rooms(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_visitor_session ON rooms(visitor_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_response_marks_room_at ON chat_response_marks(room_id, at)`,
	`CREATE INDEX IF NOT EXISTS idx_session_history_room ON session_history(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_session_history_open ON session_history(room_id, participant_id, ended_at)`,
	`CREATE INDEX IF NOT EXISTS idx_visitor_sessions_visitor ON visitor_sessions(visitor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attributions_session ON attributions(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_session ON security_events(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(tenant_id, type)`,
	`CREATE INDEX IF NOT EXISTS idx_page_views_session ON page_views(session_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_widget_events_session ON widget_events(session_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_jobs_processed_at ON processed_jobs(processed_at)`,
}
