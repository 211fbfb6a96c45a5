package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.AgentStatusRepository = (*SQLAgentStatusRepository)(nil)

const agentStatusColumns = `user_id, tenant_id, status, current_chats, max_concurrent_chats, current_room_id, last_seen_at, updated_at`

// Bounded increment: the only statement that takes a capacity slot.
const acquireSlot = `
	UPDATE agent_status SET
		current_chats = current_chats + 1,
		status = CASE WHEN status = 'ONLINE' THEN 'BUSY' ELSE status END,
		current_room_id = ?,
		last_seen_at = MAX(last_seen_at, ?),
		updated_at = MAX(updated_at, ?)
	WHERE user_id = ? AND current_chats < max_concurrent_chats AND status != 'OFFLINE'`

const releaseSlot = `
	UPDATE agent_status SET
		current_chats = MAX(current_chats - 1, 0),
		status = CASE WHEN current_chats <= 1 AND status = 'BUSY' THEN 'ONLINE' ELSE status END,
		current_room_id = CASE WHEN current_chats <= 1 THEN NULL ELSE current_room_id END,
		last_seen_at = MAX(last_seen_at, ?),
		updated_at = MAX(updated_at, ?)
	WHERE user_id = ?`

// SQLAgentStatusRepository is the SQL-based implementation of the AgentStatusRepository.
type SQLAgentStatusRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLAgentStatusRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLAgentStatusRepository {
	return &SQLAgentStatusRepository{db: db, logger: logger}
}

// Upsert writes presence and capacity settings. current_chats is only set on
// insert; afterwards it moves exclusively through ApplyCapacityDelta and the
// synchronous fallbacks so a snapshot never double counts a delta.
func (r *SQLAgentStatusRepository) Upsert(ctx context.Context, s *chat.AgentStatus) error {
	const query = `
		INSERT INTO agent_status (` + agentStatusColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status = CASE WHEN excluded.status = 'OFFLINE' AND agent_status.current_chats > 0
				THEN agent_status.status ELSE excluded.status END,
			max_concurrent_chats = MAX(excluded.max_concurrent_chats, agent_status.current_chats),
			last_seen_at = MAX(agent_status.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= agent_status.updated_at`

	start := time.Now()
	defer r.db.Track("UPSERT_AGENT_STATUS", start, s.TenantID)

	_, err := r.db.ExecContext(ctx, query,
		s.UserID, s.TenantID, string(s.Status), s.CurrentChats, s.MaxConcurrentChats,
		database.NullString(s.CurrentRoomID), database.Nanos(s.LastSeenAt), database.Nanos(s.UpdatedAt))
	if err != nil {
		r.logger.Database().Error().Err(err).Str("agentId", s.UserID).Msg("Agent status upsert failed")
		return errors.Wrapf(err, "upsert agent status %s", s.UserID)
	}
	return nil
}

func (r *SQLAgentStatusRepository) FindByID(ctx context.Context, userID string) (*chat.AgentStatus, error) {
	start := time.Now()
	defer r.db.Track("SELECT_AGENT_STATUS", start, "")
	return r.find(ctx, r.db, userID)
}

func (r *SQLAgentStatusRepository) find(ctx context.Context, ex database.Execer, userID string) (*chat.AgentStatus, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+agentStatusColumns+` FROM agent_status WHERE user_id = ?`, userID)
	s, err := scanAgentStatus(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("agent status", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load agent status %s", userID)
	}
	return s, nil
}

// ApplyCapacityDelta applies d at most once per key. A missing row is a
// transient condition: the status upsert has not landed yet.
func (r *SQLAgentStatusRepository) ApplyCapacityDelta(ctx context.Context, key string, d jobs.AgentCapacityDelta) (bool, error) {
	start := time.Now()
	defer r.db.Track("APPLY_CAPACITY_DELTA", start, d.TenantID)

	applied := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		fresh, err := database.ClaimJob(ctx, tx, key, string(jobs.TypeAgentCapacity), d.At)
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}
		if _, err := r.find(ctx, tx, d.AgentID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.Transient(err)
			}
			return err
		}

		var res sql.Result
		if d.Delta > 0 {
			res, err = tx.ExecContext(ctx, acquireSlot, d.RoomID, database.Nanos(d.At), database.Nanos(d.At), d.AgentID)
		} else {
			res, err = tx.ExecContext(ctx, releaseSlot, database.Nanos(d.At), database.Nanos(d.At), d.AgentID)
		}
		if err != nil {
			return errors.Wrap(err, "apply capacity delta")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			r.logger.Database().Warn().
				Str("agentId", d.AgentID).
				Int("delta", d.Delta).
				Str("eventId", d.EventID).
				Msg("Capacity delta rejected by durable bound")
		}
		applied = true
		return nil
	})
	return applied, err
}

// TryAcquire takes a slot directly in the durable store.
func (r *SQLAgentStatusRepository) TryAcquire(ctx context.Context, userID, roomID string, at time.Time) (*chat.AgentStatus, error) {
	start := time.Now()
	defer r.db.Track("ACQUIRE_SLOT", start, "")

	var out *chat.AgentStatus
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, acquireSlot, roomID, database.Nanos(at), database.Nanos(at), userID)
		if err != nil {
			return errors.Wrap(err, "acquire slot")
		}
		n, _ := res.RowsAffected()
		s, err := r.find(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return &apperrors.CapacityError{AgentID: userID, Status: string(s.Status), Current: s.CurrentChats, Max: s.MaxConcurrentChats}
		}
		out = s
		return nil
	})
	return out, err
}

// Release gives back a slot directly in the durable store.
func (r *SQLAgentStatusRepository) Release(ctx context.Context, userID string, at time.Time) (*chat.AgentStatus, error) {
	start := time.Now()
	defer r.db.Track("RELEASE_SLOT", start, "")

	var out *chat.AgentStatus
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, releaseSlot, database.Nanos(at), database.Nanos(at), userID); err != nil {
			return errors.Wrap(err, "release slot")
		}
		s, err := r.find(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func scanAgentStatus(row database.Scanner) (*chat.AgentStatus, error) {
	var (
		s             chat.AgentStatus
		status        string
		room          sql.NullString
		seen, updated int64
	)
	if err := row.Scan(&s.UserID, &s.TenantID, &status, &s.CurrentChats, &s.MaxConcurrentChats, &room, &seen, &updated); err != nil {
		return nil, err
	}
	s.Status = chat.Presence(status)
	s.CurrentRoomID = database.FromNullString(room)
	s.LastSeenAt = database.FromNanos(seen)
	s.UpdatedAt = database.FromNanos(updated)
	return &s, nil
}
