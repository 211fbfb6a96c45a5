// Package chat provides the SQL implementations of the chat domain repositories.
package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.RoomRepository = (*SQLRoomRepository)(nil)

const roomColumns = `id, tenant_id, visitor_session_id, visitor_id, primary_agent_id, department_id,
	candidate_department_ids, created_at, last_activity_at, ended_at, updated_at`

// SQLRoomRepository is the SQL-based implementation of the RoomRepository.
type SQLRoomRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLRoomRepository creates a new instance of the repository.
func NewSQLRoomRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLRoomRepository {
	return &SQLRoomRepository{db: db, logger: logger}
}

// Upsert writes the room unless the stored row is newer.
func (r *SQLRoomRepository) Upsert(ctx context.Context, room *chat.Room) error {
	const query = `
		INSERT INTO rooms (` + roomColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			primary_agent_id = excluded.primary_agent_id,
			department_id = excluded.department_id,
			candidate_department_ids = excluded.candidate_department_ids,
			last_activity_at = excluded.last_activity_at,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= rooms.updated_at`

	start := time.Now()
	defer r.db.Track("UPSERT_ROOM", start, room.TenantID)

	return r.exec(ctx, r.db, query, room)
}

func (r *SQLRoomRepository) exec(ctx context.Context, ex database.Execer, query string, room *chat.Room) error {
	candidates, err := json.Marshal(nonNil(room.CandidateDepartmentIDs))
	if err != nil {
		return errors.Wrap(err, "encode candidate departments")
	}
	_, err = ex.ExecContext(ctx, query,
		room.ID,
		room.TenantID,
		room.VisitorSessionID,
		room.VisitorID,
		database.NullString(room.PrimaryAgentID),
		database.NullString(room.DepartmentID),
		string(candidates),
		database.Nanos(room.CreatedAt),
		database.Nanos(room.LastActivityAt),
		database.NullNanos(room.EndedAt),
		database.Nanos(room.UpdatedAt),
	)
	if err != nil {
		r.logger.Database().Error().Err(err).Str("roomId", room.ID).Msg("Room write failed")
		return errors.Wrapf(err, "write room %s", room.ID)
	}
	r.logger.Database().Debug().Str("roomId", room.ID).Msg("Room written")
	return nil
}

// ApplyPatch applies patch when the stored row is not newer than the patch.
func (r *SQLRoomRepository) ApplyPatch(ctx context.Context, roomID string, patch chat.RoomPatch) (bool, error) {
	start := time.Now()
	defer r.db.Track("PATCH_ROOM", start, "")

	applied := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		room, err := r.find(ctx, tx, roomID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if room.UpdatedAt.After(patch.At) {
			return nil
		}
		patch.Apply(room)
		room.UpdatedAt = patch.At

		const query = `
			UPDATE rooms SET primary_agent_id = ?, department_id = ?, candidate_department_ids = ?,
				last_activity_at = ?, ended_at = ?, updated_at = ?
			WHERE id = ? AND updated_at <= ?`
		candidates, err := json.Marshal(nonNil(room.CandidateDepartmentIDs))
		if err != nil {
			return errors.Wrap(err, "encode candidate departments")
		}
		res, err := tx.ExecContext(ctx, query,
			database.NullString(room.PrimaryAgentID),
			database.NullString(room.DepartmentID),
			string(candidates),
			database.Nanos(room.LastActivityAt),
			database.NullNanos(room.EndedAt),
			database.Nanos(room.UpdatedAt),
			roomID,
			database.Nanos(patch.At),
		)
		if err != nil {
			return errors.Wrapf(err, "patch room %s", roomID)
		}
		n, _ := res.RowsAffected()
		applied = n == 1
		return nil
	})
	return applied, err
}

func (r *SQLRoomRepository) FindByID(ctx context.Context, id string) (*chat.Room, error) {
	start := time.Now()
	defer r.db.Track("SELECT_ROOM", start, "")
	return r.find(ctx, r.db, id)
}

func (r *SQLRoomRepository) find(ctx context.Context, ex database.Execer, id string) (*chat.Room, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("room", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load room %s", id)
	}
	return room, nil
}

// FindByVisitorSession returns every room opened by a visitor session, oldest first.
func (r *SQLRoomRepository) FindByVisitorSession(ctx context.Context, sessionID string) ([]*chat.Room, error) {
	start := time.Now()
	defer r.db.Track("SELECT_ROOMS_BY_SESSION", start, "")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE visitor_session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query rooms by session")
	}
	defer rows.Close()

	var rooms []*chat.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		rooms = append(rooms, room)
	}
	return rooms, errors.Wrap(rows.Err(), "iterate rooms")
}

func scanRoom(row database.Scanner) (*chat.Room, error) {
	var (
		room                       chat.Room
		primary, department        sql.NullString
		candidates                 string
		created, activity, updated int64
		ended                      sql.NullInt64
	)
	if err := row.Scan(&room.ID, &room.TenantID, &room.VisitorSessionID, &room.VisitorID,
		&primary, &department, &candidates, &created, &activity, &ended, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(candidates), &room.CandidateDepartmentIDs); err != nil {
		return nil, errors.Wrap(err, "decode candidate departments")
	}
	if len(room.CandidateDepartmentIDs) == 0 {
		room.CandidateDepartmentIDs = nil
	}
	room.PrimaryAgentID = database.FromNullString(primary)
	room.DepartmentID = database.FromNullString(department)
	room.CreatedAt = database.FromNanos(created)
	room.LastActivityAt = database.FromNanos(activity)
	room.EndedAt = database.FromNullNanos(ended)
	room.UpdatedAt = database.FromNanos(updated)
	return &room, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
