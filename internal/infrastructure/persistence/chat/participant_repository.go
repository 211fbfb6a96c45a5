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

var _ repositories.ParticipantRepository = (*SQLParticipantRepository)(nil)

const participantColumns = `id, room_id, tenant_id, role, user_id, name, email, avatar_url, status, joined_at, left_at, updated_at`

// SQLParticipantRepository is the SQL-based implementation of the ParticipantRepository.
type SQLParticipantRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLParticipantRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLParticipantRepository {
	return &SQLParticipantRepository{db: db, logger: logger}
}

// Upsert writes the participant unless the stored row is newer. The
// (room, role, user) pair maps to one deterministic id, so a rejoin reuses the row.
func (r *SQLParticipantRepository) Upsert(ctx context.Context, p *chat.Participant) error {
	const query = `
		INSERT INTO participants (` + participantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			status = excluded.status,
			joined_at = excluded.joined_at,
			left_at = excluded.left_at,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= participants.updated_at`

	start := time.Now()
	defer r.db.Track("UPSERT_PARTICIPANT", start, p.TenantID)

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.RoomID, p.TenantID, string(p.Role), p.UserID,
		p.Profile.Name, p.Profile.Email, p.Profile.AvatarURL,
		string(p.Status), database.Nanos(p.JoinedAt), database.NullNanos(p.LeftAt), database.Nanos(p.UpdatedAt),
	)
	if err != nil {
		r.logger.Database().Error().Err(err).Str("participantId", p.ID).Msg("Participant upsert failed")
		return errors.Wrapf(err, "upsert participant %s", p.ID)
	}
	return nil
}

func (r *SQLParticipantRepository) ApplyPatch(ctx context.Context, id string, patch chat.ParticipantPatch) (bool, error) {
	start := time.Now()
	defer r.db.Track("PATCH_PARTICIPANT", start, "")

	applied := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := r.find(ctx, tx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.UpdatedAt.After(patch.At) {
			return nil
		}
		patch.Apply(p)
		p.UpdatedAt = patch.At

		res, err := tx.ExecContext(ctx, `
			UPDATE participants SET name = ?, email = ?, avatar_url = ?, status = ?, joined_at = ?, left_at = ?, updated_at = ?
			WHERE id = ? AND updated_at <= ?`,
			p.Profile.Name, p.Profile.Email, p.Profile.AvatarURL, string(p.Status),
			database.Nanos(p.JoinedAt), database.NullNanos(p.LeftAt), database.Nanos(p.UpdatedAt),
			id, database.Nanos(patch.At),
		)
		if err != nil {
			return errors.Wrapf(err, "patch participant %s", id)
		}
		n, _ := res.RowsAffected()
		applied = n == 1
		return nil
	})
	return applied, err
}

func (r *SQLParticipantRepository) FindByID(ctx context.Context, id string) (*chat.Participant, error) {
	start := time.Now()
	defer r.db.Track("SELECT_PARTICIPANT", start, "")
	return r.find(ctx, r.db, id)
}

func (r *SQLParticipantRepository) find(ctx context.Context, ex database.Execer, id string) (*chat.Participant, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("participant", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load participant %s", id)
	}
	return p, nil
}

// FindByRoom returns every participant of a room in join order.
func (r *SQLParticipantRepository) FindByRoom(ctx context.Context, roomID string) ([]*chat.Participant, error) {
	start := time.Now()
	defer r.db.Track("SELECT_PARTICIPANTS_BY_ROOM", start, "")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE room_id = ? ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "query participants")
	}
	defer rows.Close()

	var out []*chat.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan participant")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate participants")
}

func scanParticipant(row database.Scanner) (*chat.Participant, error) {
	var (
		p                   chat.Participant
		role, status        string
		name, email, avatar sql.NullString
		joined, updated     int64
		left                sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.RoomID, &p.TenantID, &role, &p.UserID, &name, &email, &avatar,
		&status, &joined, &left, &updated); err != nil {
		return nil, err
	}
	p.Role = chat.Role(role)
	p.Status = chat.ParticipantStatus(status)
	p.Profile = chat.Profile{Name: name.String, Email: email.String, AvatarURL: avatar.String}
	p.JoinedAt = database.FromNanos(joined)
	p.LeftAt = database.FromNullNanos(left)
	p.UpdatedAt = database.FromNanos(updated)
	return &p, nil
}
