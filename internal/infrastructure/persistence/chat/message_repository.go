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

var _ repositories.MessageRepository = (*SQLMessageRepository)(nil)

const (
	messageColumns = `id, room_id, tenant_id, sender_kind, sender_id, body, internal, created_at`
	insertMessage  = `INSERT OR IGNORE INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// SQLMessageRepository is the SQL-based implementation of the MessageRepository.
type SQLMessageRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLMessageRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLMessageRepository {
	return &SQLMessageRepository{db: db, logger: logger}
}

func (r *SQLMessageRepository) Insert(ctx context.Context, m *chat.Message) error {
	start := time.Now()
	defer r.db.Track("INSERT_MESSAGE", start, m.TenantID)

	if _, err := r.db.ExecContext(ctx, insertMessage, messageArgs(m)...); err != nil {
		r.logger.Database().Error().Err(err).Str("messageId", m.ID).Msg("Message insert failed")
		return errors.Wrapf(err, "insert message %s", m.ID)
	}
	return nil
}

// InsertBatch inserts messages in one transaction and returns how many were new.
func (r *SQLMessageRepository) InsertBatch(ctx context.Context, ms []*chat.Message) (int, error) {
	start := time.Now()
	defer r.db.Track("BULK_INSERT_MESSAGES", start, "")

	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertMessage)
		if err != nil {
			return errors.Wrap(err, "prepare message insert")
		}
		defer stmt.Close()
		for _, m := range ms {
			res, err := stmt.ExecContext(ctx, messageArgs(m)...)
			if err != nil {
				return errors.Wrapf(err, "insert message %s", m.ID)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Database().Info().Int("submitted", len(ms)).Int("inserted", inserted).Dur("duration", time.Since(start)).Msg("Message batch inserted")
	return inserted, nil
}

func messageArgs(m *chat.Message) []any {
	return []any{m.ID, m.RoomID, m.TenantID, string(m.SenderKind), m.SenderID, m.Body, m.Internal, database.Nanos(m.CreatedAt)}
}

func (r *SQLMessageRepository) FindByID(ctx context.Context, id string) (*chat.Message, error) {
	start := time.Now()
	defer r.db.Track("SELECT_MESSAGE", start, "")

	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("message", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load message %s", id)
	}
	return m, nil
}

// FindByRoom returns a room's transcript in send order.
func (r *SQLMessageRepository) FindByRoom(ctx context.Context, roomID string) ([]*chat.Message, error) {
	start := time.Now()
	defer r.db.Track("SELECT_MESSAGES_BY_ROOM", start, "")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = ? ORDER BY created_at, id`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}

func scanMessage(row database.Scanner) (*chat.Message, error) {
	var (
		m       chat.Message
		kind    string
		sender  sql.NullString
		created int64
	)
	if err := row.Scan(&m.ID, &m.RoomID, &m.TenantID, &kind, &sender, &m.Body, &m.Internal, &created); err != nil {
		return nil, err
	}
	m.SenderKind = chat.SenderKind(kind)
	m.SenderID = sender.String
	m.CreatedAt = database.FromNanos(created)
	return &m, nil
}
