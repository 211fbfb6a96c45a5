// Package repositories defines the durable-store interfaces for the chat and
// visitor domains. Finders return an apperrors.ErrNotFound error when the row
// does not exist; the cache-first layer relies on that to tell a miss from a failure.
package repositories

import (
	"context"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
)

// Upserts are last-write-wins on updated_at. ApplyPatch reports applied=false
// when the stored row is newer than the patch or does not exist yet.

type RoomRepository interface {
	Upsert(ctx context.Context, room *chat.Room) error
	ApplyPatch(ctx context.Context, roomID string, patch chat.RoomPatch) (bool, error)
	FindByID(ctx context.Context, id string) (*chat.Room, error)
	FindByVisitorSession(ctx context.Context, sessionID string) ([]*chat.Room, error)
}

type ParticipantRepository interface {
	Upsert(ctx context.Context, p *chat.Participant) error
	ApplyPatch(ctx context.Context, id string, patch chat.ParticipantPatch) (bool, error)
	FindByID(ctx context.Context, id string) (*chat.Participant, error)
	FindByRoom(ctx context.Context, roomID string) ([]*chat.Participant, error)
}

type MessageRepository interface {
	// Insert ignores a message id that already exists.
	Insert(ctx context.Context, m *chat.Message) error
	// InsertBatch returns how many of ms were new.
	InsertBatch(ctx context.Context, ms []*chat.Message) (int, error)
	FindByID(ctx context.Context, id string) (*chat.Message, error)
	FindByRoom(ctx context.Context, roomID string) ([]*chat.Message, error)
}

type HistoryRepository interface {
	Insert(ctx context.Context, h *chat.HistoryEntry) error
	// Close patches a joined row once; later calls report false.
	Close(ctx context.Context, id string, patch chat.HistoryPatch) (bool, error)
	FindByID(ctx context.Context, id string) (*chat.HistoryEntry, error)
	FindByRoom(ctx context.Context, roomID string) ([]*chat.HistoryEntry, error)
	FindOpen(ctx context.Context, roomID, participantID string) (*chat.HistoryEntry, error)
}

type AgentStatusRepository interface {
	Upsert(ctx context.Context, s *chat.AgentStatus) error
	FindByID(ctx context.Context, userID string) (*chat.AgentStatus, error)
	// ApplyCapacityDelta mirrors one cache-side acquire or release, at most once per job key.
	ApplyCapacityDelta(ctx context.Context, key string, d jobs.AgentCapacityDelta) (bool, error)
	// TryAcquire is the synchronous bounded increment used when the cache is down.
	TryAcquire(ctx context.Context, userID, roomID string, at time.Time) (*chat.AgentStatus, error)
	Release(ctx context.Context, userID string, at time.Time) (*chat.AgentStatus, error)
}

type DepartmentRepository interface {
	Upsert(ctx context.Context, d *chat.Department) error
	FindByID(ctx context.Context, id string) (*chat.Department, error)
	FindByTenant(ctx context.Context, tenantID string) ([]*chat.Department, error)
}

// AnalyticsRepository applies one analytics job per call inside a transaction
// together with its processed-job ledger row. applied=false means a replay.
type AnalyticsRepository interface {
	Init(ctx context.Context, key string, j jobs.RoomOpened) (bool, error)
	RecordJoin(ctx context.Context, key string, j jobs.ParticipantJoined) (bool, error)
	RecordMessage(ctx context.Context, key string, j jobs.MessageRecorded) (bool, error)
	Finalize(ctx context.Context, key string, j jobs.RoomEnded) (bool, error)
	FindByRoom(ctx context.Context, roomID string) (*chat.Analytics, error)
}
