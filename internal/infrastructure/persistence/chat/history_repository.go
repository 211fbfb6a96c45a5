package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.HistoryRepository = (*SQLHistoryRepository)(nil)

const historyColumns = `id, room_id, tenant_id, session_type, participant_id, action, reason, started_at, ended_at, duration_seconds, updated_at`

// SQLHistoryRepository stores the append-only session history.
type SQLHistoryRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLHistoryRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLHistoryRepository {
	return &SQLHistoryRepository{db: db, logger: logger}
}

func (r *SQLHistoryRepository) Insert(ctx context.Context, h *chat.HistoryEntry) error {
	start := time.Now()
	defer r.db.Track("INSERT_HISTORY", start, h.TenantID)

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_history (`+historyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.RoomID, h.TenantID, string(h.SessionType), h.ParticipantID, string(h.Action), string(h.Reason),
		database.Nanos(h.StartedAt), database.NullNanos(h.EndedAt), database.NullInt64(h.DurationSeconds), database.Nanos(h.UpdatedAt),
	)
	if err != nil {
		r.logger.Database().Error().Err(err).Str("entryId", h.ID).Msg("History insert failed")
		return errors.Wrapf(err, "insert history %s", h.ID)
	}
	return nil
}

// Close sets ended_at and duration on a joined row that is still open.
func (r *SQLHistoryRepository) Close(ctx context.Context, id string, patch chat.HistoryPatch) (bool, error) {
	start := time.Now()
	defer r.db.Track("CLOSE_HISTORY", start, "")

	res, err := r.db.ExecContext(ctx, `
		UPDATE session_history SET ended_at = ?, duration_seconds = ?, updated_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		database.NullNanos(patch.EndedAt), database.NullInt64(patch.DurationSeconds), database.Nanos(patch.At), id)
	if err != nil {
		return false, errors.Wrapf(err, "close history %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "close history rows affected")
	}
	return n == 1, nil
}

func (r *SQLHistoryRepository) FindByID(ctx context.Context, id string) (*chat.HistoryEntry, error) {
	start := time.Now()
	defer r.db.Track("SELECT_HISTORY", start, "")

	row := r.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM session_history WHERE id = ?`, id)
	h, err := scanHistory(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("history entry", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load history %s", id)
	}
	return h, nil
}

func (r *SQLHistoryRepository) FindByRoom(ctx context.Context, roomID string) ([]*chat.HistoryEntry, error) {
	start := time.Now()
	defer r.db.Track("SELECT_HISTORY_BY_ROOM", start, "")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM session_history WHERE room_id = ? ORDER BY started_at, id`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []*chat.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

// FindOpen returns the most recent joined row of a participant that has not been closed.
func (r *SQLHistoryRepository) FindOpen(ctx context.Context, roomID, participantID string) (*chat.HistoryEntry, error) {
	start := time.Now()
	defer r.db.Track("SELECT_OPEN_HISTORY", start, "")

	row := r.db.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM session_history
		WHERE room_id = ? AND participant_id = ? AND action = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`,
		roomID, participantID, string(chat.ActionJoined))
	h, err := scanHistory(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("open history entry", participantID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load open history")
	}
	return h, nil
}

func scanHistory(row database.Scanner) (*chat.HistoryEntry, error) {
	var (
		h                           chat.HistoryEntry
		sessionType, action, reason string
		startedAt, updatedAt        int64
		endedAt, duration           sql.NullInt64
	)
	if err := row.Scan(&h.ID, &h.RoomID, &h.TenantID, &sessionType, &h.ParticipantID, &action, &reason,
		&startedAt, &endedAt, &duration, &updatedAt); err != nil {
		return nil, err
	}
	h.SessionType = chat.SessionType(sessionType)
	h.Action = chat.HistoryAction(action)
	h.Reason = chat.HistoryReason(reason)
	h.StartedAt = database.FromNanos(startedAt)
	h.EndedAt = database.FromNullNanos(endedAt)
	h.DurationSeconds = database.FromNullInt64(duration)
	h.UpdatedAt = database.FromNanos(updatedAt)
	return &h, nil
}
