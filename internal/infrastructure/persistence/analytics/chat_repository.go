// Package analytics provides the SQL implementation of the per-room chat
// analytics aggregate.
//
// Every mutation is a single UPDATE evaluated against the stored row, never a
// read-modify-write from Go, and runs in the same transaction as the
// processed-job ledger insert so a replayed job changes nothing.
package analytics

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

var _ repositories.AnalyticsRepository = (*SQLChatAnalyticsRepository)(nil)

const analyticsColumns = `room_id, tenant_id, message_count, visitor_message_count, agent_message_count,
	internal_message_count, participant_count, agent_count, first_response_time_ms, average_response_time_ms,
	response_count, chat_duration_seconds, active_duration_seconds, first_visitor_message_at,
	pending_visitor_message_at, first_message_at, last_message_at, frozen, created_at, updated_at`

// ensureRow creates the aggregate if a later job overtook RoomOpened. The
// earliest creation time wins so RoomOpened corrects a guessed created_at.
const ensureRow = `
	INSERT INTO chat_analytics (room_id, tenant_id, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(room_id) DO UPDATE SET
		created_at = MIN(chat_analytics.created_at, excluded.created_at)`

const recordJoin = `
	UPDATE chat_analytics SET
		participant_count = participant_count + ?,
		agent_count = agent_count + ?,
		updated_at = MAX(updated_at, ?)
	WHERE room_id = ?`

// Counters are commutative, so a job that lands after RoomEnded still counts.
const recordMessage = `
	UPDATE chat_analytics SET
		message_count = message_count + 1,
		visitor_message_count = visitor_message_count + ?,
		agent_message_count = agent_message_count + ?,
		internal_message_count = internal_message_count + ?,
		first_message_at = CASE WHEN ? = 1 THEN MIN(COALESCE(first_message_at, ?), ?) ELSE first_message_at END,
		last_message_at = CASE WHEN ? = 1 THEN MAX(COALESCE(last_message_at, ?), ?) ELSE last_message_at END,
		updated_at = MAX(updated_at, ?)
	WHERE room_id = ?`

// Response timing is derived from the room's marks rather than folded in
// per job, so the result does not depend on the order jobs are applied in.
const insertMark = `
	INSERT INTO chat_response_marks (room_id, mark_id, kind, at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(room_id, mark_id) DO NOTHING`

const (
	markVisitor   = "visitor"
	markAgent     = "agent"
	markAgentJoin = "agent_join"
)

// responseWaits yields one wait per answered visitor turn: from the oldest
// visitor message since the previous agent message to the agent message that
// answered it. A visitor message sorts before an agent message at the same
// instant.
const responseWaits = `
	WITH ordered AS (
		SELECT kind, at, COUNT(CASE WHEN kind = 'agent' THEN 1 END) OVER (
			ORDER BY at, kind DESC, mark_id ROWS BETWEEN UNBOUNDED PRECEDING AND 1 PRECEDING) AS turn
		FROM chat_response_marks WHERE room_id = ? AND kind IN ('visitor', 'agent')
	), asked AS (
		SELECT turn, MIN(at) AS at FROM ordered WHERE kind = 'visitor' GROUP BY turn
	)
	SELECT o.at - a.at AS wait FROM ordered o JOIN asked a ON a.turn = o.turn WHERE o.kind = 'agent'`

// refreshResponses recomputes first-response-time (earliest agent message or
// agent join at or after the first visitor message), the average over every
// answered turn and the oldest unanswered visitor message. Takes the room id
// eight times.
const refreshResponses = `
	UPDATE chat_analytics SET
		first_visitor_message_at = (
			SELECT MIN(at) FROM chat_response_marks WHERE room_id = ? AND kind = 'visitor'),
		first_response_time_ms = (
			SELECT (MIN(m.at) - f.at) / 1000000
			FROM chat_response_marks m,
				(SELECT MIN(at) AS at FROM chat_response_marks WHERE room_id = ? AND kind = 'visitor') f
			WHERE m.room_id = ? AND m.kind IN ('agent', 'agent_join') AND m.at >= f.at),
		response_count = (SELECT COUNT(*) FROM (` + responseWaits + `)),
		average_response_time_ms = (SELECT COALESCE(AVG(wait), 0) / 1000000.0 FROM (` + responseWaits + `)),
		pending_visitor_message_at = CASE WHEN frozen = 1 THEN NULL ELSE (
			SELECT MIN(at) FROM chat_response_marks
			WHERE room_id = ? AND kind = 'visitor' AND at > COALESCE(
				(SELECT MAX(at) FROM chat_response_marks WHERE room_id = ? AND kind = 'agent'), -1)) END
	WHERE room_id = ?`

const refreshResponsesRoomArgs = 8

// activeSpan is the first-to-last span of the room's visitor and agent
// messages, read from the messages table and widened by the tracked bounds of
// messages whose persist job has not run yet. Takes the room id twice.
const activeSpan = `COALESCE((
		MAX(COALESCE((SELECT MAX(created_at) FROM messages
			WHERE room_id = ? AND internal = 0 AND sender_kind IN ('visitor', 'agent')), last_message_at),
			COALESCE(last_message_at, -1))
		- MIN(COALESCE((SELECT MIN(created_at) FROM messages
			WHERE room_id = ? AND internal = 0 AND sender_kind IN ('visitor', 'agent')), first_message_at),
			COALESCE(first_message_at, 9223372036854775807))
	) / 1000000000, 0)`

const finalize = `
	UPDATE chat_analytics SET
		chat_duration_seconds = MAX((? - COALESCE(?, created_at, first_message_at)) / 1000000000, 0),
		active_duration_seconds = ` + activeSpan + `,
		pending_visitor_message_at = NULL,
		frozen = 1,
		updated_at = MAX(updated_at, ?)
	WHERE room_id = ? AND frozen = 0`

// A message that reaches a frozen row moves the active span with it.
const refreshActive = `
	UPDATE chat_analytics SET active_duration_seconds = ` + activeSpan + `
	WHERE room_id = ? AND frozen = 1`

// SQLChatAnalyticsRepository is the SQL-based implementation of the AnalyticsRepository.
type SQLChatAnalyticsRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLChatAnalyticsRepository creates a new instance of the repository.
func NewSQLChatAnalyticsRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLChatAnalyticsRepository {
	return &SQLChatAnalyticsRepository{db: db, logger: logger}
}

// Init creates the aggregate for a newly opened room.
func (r *SQLChatAnalyticsRepository) Init(ctx context.Context, key string, j jobs.RoomOpened) (bool, error) {
	start := time.Now()
	defer r.db.Track("ANALYTICS_INIT", start, j.TenantID)

	return r.apply(ctx, key, jobs.TypeRoomOpened, j.RoomID, j.At, func(tx *sql.Tx) error {
		return r.ensure(ctx, tx, j.RoomID, j.TenantID, j.At)
	})
}

// RecordJoin counts a participant the first time it joins. Every agent join
// is also a candidate first response.
func (r *SQLChatAnalyticsRepository) RecordJoin(ctx context.Context, key string, j jobs.ParticipantJoined) (bool, error) {
	start := time.Now()
	defer r.db.Track("ANALYTICS_RECORD_JOIN", start, j.TenantID)

	var participants, agents int
	if j.NewParticipant {
		participants = 1
		if j.Role == chat.RoleAgent {
			agents = 1
		}
	}
	at := database.Nanos(j.JoinedAt)

	return r.apply(ctx, key, jobs.TypeParticipantJoined, j.RoomID, j.JoinedAt, func(tx *sql.Tx) error {
		if err := r.ensure(ctx, tx, j.RoomID, j.TenantID, j.JoinedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, recordJoin, participants, agents, at, j.RoomID); err != nil {
			return errors.Wrap(err, "record join")
		}
		if j.Role != chat.RoleAgent {
			return nil
		}
		return r.mark(ctx, tx, j.RoomID, key, markAgentJoin, at)
	})
}

// RecordMessage folds one message into the counters and response timings.
// Internal notes and system messages move only the counters.
func (r *SQLChatAnalyticsRepository) RecordMessage(ctx context.Context, key string, j jobs.MessageRecorded) (bool, error) {
	start := time.Now()
	defer r.db.Track("ANALYTICS_RECORD_MESSAGE", start, j.TenantID)

	at := database.Nanos(j.CreatedAt)
	var visitorMsg, agentMsg, internalMsg, timed int
	kind := ""
	switch {
	case j.Internal:
		internalMsg = 1
	case j.SenderKind == chat.SenderVisitor:
		visitorMsg, timed, kind = 1, 1, markVisitor
	case j.SenderKind == chat.SenderAgent:
		agentMsg, timed, kind = 1, 1, markAgent
	}

	return r.apply(ctx, key, jobs.TypeMessageRecorded, j.RoomID, j.CreatedAt, func(tx *sql.Tx) error {
		if err := r.ensure(ctx, tx, j.RoomID, j.TenantID, j.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, recordMessage, visitorMsg, agentMsg, internalMsg,
			timed, at, at, timed, at, at, at, j.RoomID)
		if err != nil {
			return errors.Wrap(err, "record message")
		}
		if kind == "" {
			return nil
		}
		if err := r.mark(ctx, tx, j.RoomID, j.MessageID, kind, at); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, refreshActive, j.RoomID, j.RoomID, j.RoomID)
		return errors.Wrap(err, "refresh active duration")
	})
}

// Finalize computes the room durations and freezes the row. The active span
// comes from the messages table so messages whose analytics job is still
// queued are included.
func (r *SQLChatAnalyticsRepository) Finalize(ctx context.Context, key string, j jobs.RoomEnded) (bool, error) {
	start := time.Now()
	defer r.db.Track("ANALYTICS_FINALIZE", start, j.TenantID)

	var created sql.NullInt64
	if !j.CreatedAt.IsZero() {
		created = sql.NullInt64{Int64: database.Nanos(j.CreatedAt), Valid: true}
	}
	ended := database.Nanos(j.EndedAt)
	rowCreated := j.CreatedAt
	if rowCreated.IsZero() {
		rowCreated = j.EndedAt
	}

	return r.apply(ctx, key, jobs.TypeRoomEnded, j.RoomID, j.EndedAt, func(tx *sql.Tx) error {
		if err := r.ensure(ctx, tx, j.RoomID, j.TenantID, rowCreated); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, finalize, ended, created, j.RoomID, j.RoomID, ended, j.RoomID)
		if err != nil {
			return errors.Wrap(err, "finalize analytics")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			r.logger.Analytics().Warn().Str("roomId", j.RoomID).Msg("Analytics already frozen")
		}
		return nil
	})
}

func (r *SQLChatAnalyticsRepository) FindByRoom(ctx context.Context, roomID string) (*chat.Analytics, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+analyticsColumns+` FROM chat_analytics WHERE room_id = ?`, roomID)
	a, err := scanAnalytics(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("analytics", roomID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load analytics %s", roomID)
	}
	return a, nil
}

// apply claims key in the ledger and runs fn in the same transaction. It
// reports false without running fn when key was already processed.
func (r *SQLChatAnalyticsRepository) apply(ctx context.Context, key string, t jobs.Type, roomID string, at time.Time, fn func(*sql.Tx) error) (bool, error) {
	applied := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		fresh, err := database.ClaimJob(ctx, tx, key, string(t), at)
		if err != nil {
			return err
		}
		if !fresh {
			r.logger.Analytics().Debug().Str("jobKey", key).Str("roomId", roomID).Msg("Analytics job already applied")
			return nil
		}
		if err := fn(tx); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		r.logger.Analytics().Error().Err(err).Str("jobKey", key).Str("roomId", roomID).Msg("Analytics update failed")
		return false, err
	}
	return applied, nil
}

// mark stores one timing point and recomputes the response statistics.
func (r *SQLChatAnalyticsRepository) mark(ctx context.Context, tx *sql.Tx, roomID, markID, kind string, at int64) error {
	if _, err := tx.ExecContext(ctx, insertMark, roomID, markID, kind, at); err != nil {
		return errors.Wrap(err, "insert response mark")
	}
	args := make([]any, 0, refreshResponsesRoomArgs)
	for range refreshResponsesRoomArgs {
		args = append(args, roomID)
	}
	_, err := tx.ExecContext(ctx, refreshResponses, args...)
	return errors.Wrap(err, "refresh response times")
}

func (r *SQLChatAnalyticsRepository) ensure(ctx context.Context, tx *sql.Tx, roomID, tenantID string, at time.Time) error {
	n := database.Nanos(at)
	_, err := tx.ExecContext(ctx, ensureRow, roomID, tenantID, n, n)
	return errors.Wrap(err, "ensure analytics row")
}

func scanAnalytics(row database.Scanner) (*chat.Analytics, error) {
	var (
		a                                        chat.Analytics
		frt, chatDur, activeDur                  sql.NullInt64
		firstVisitor, pending, firstMsg, lastMsg sql.NullInt64
		created, updated                         int64
	)
	err := row.Scan(
		&a.RoomID, &a.TenantID, &a.MessageCount, &a.VisitorMessageCount, &a.AgentMessageCount,
		&a.InternalMessageCount, &a.ParticipantCount, &a.AgentCount, &frt, &a.AverageResponseTimeMs,
		&a.ResponseCount, &chatDur, &activeDur, &firstVisitor,
		&pending, &firstMsg, &lastMsg, &a.Frozen, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	a.FirstResponseTimeMs = database.FromNullInt64(frt)
	a.ChatDurationSeconds = database.FromNullInt64(chatDur)
	a.ActiveDurationSeconds = database.FromNullInt64(activeDur)
	a.FirstVisitorMessageAt = database.FromNullNanos(firstVisitor)
	a.PendingVisitorMessageAt = database.FromNullNanos(pending)
	a.FirstMessageAt = database.FromNullNanos(firstMsg)
	a.LastMessageAt = database.FromNullNanos(lastMsg)
	a.CreatedAt = database.FromNanos(created)
	a.UpdatedAt = database.FromNanos(updated)
	return &a, nil
}
