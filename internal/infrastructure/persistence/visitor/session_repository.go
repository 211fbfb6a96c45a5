// Package visitor provides the SQL implementations of the visitor-side
// repositories: sessions, attribution, security events, interactions and
// derived engagement.
package visitor

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.VisitorSessionRepository = (*SQLSessionRepository)(nil)

const sessionColumns = `id, tenant_id, token, visitor_id, user_agent, ip_hash, started_at, last_seen_at, ended_at, updated_at`

// SQLSessionRepository is the SQL-based implementation of the VisitorSessionRepository.
type SQLSessionRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLSessionRepository creates a new instance of the repository.
func NewSQLSessionRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLSessionRepository {
	return &SQLSessionRepository{db: db, logger: logger}
}

// Upsert writes the session unless the stored row is newer.
func (r *SQLSessionRepository) Upsert(ctx context.Context, s *visitor.Session) error {
	const query = `
		INSERT INTO visitor_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_agent = excluded.user_agent,
			ip_hash = excluded.ip_hash,
			last_seen_at = MAX(visitor_sessions.last_seen_at, excluded.last_seen_at),
			ended_at = COALESCE(visitor_sessions.ended_at, excluded.ended_at),
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= visitor_sessions.updated_at`

	start := time.Now()
	defer r.db.Track("UPSERT_VISITOR_SESSION", start, s.TenantID)

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.TenantID, s.Token, s.VisitorID, s.UserAgent, s.IPHash,
		database.Nanos(s.StartedAt), database.Nanos(s.LastSeenAt), database.NullNanos(s.EndedAt), database.Nanos(s.UpdatedAt))
	if err != nil {
		r.logger.Database().Error().Err(err).Str("sessionId", s.ID).Msg("Visitor session write failed")
		return errors.Wrapf(err, "upsert visitor session %s", s.ID)
	}
	return nil
}

// ApplyPatch applies a touch or end patch when it is not older than the row.
func (r *SQLSessionRepository) ApplyPatch(ctx context.Context, id string, patch visitor.SessionPatch) (bool, error) {
	start := time.Now()
	defer r.db.Track("PATCH_VISITOR_SESSION", start, "")

	applied := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		s, err := r.find(ctx, tx, `id = ?`, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.UpdatedAt.After(patch.At) {
			return nil
		}
		patch.Apply(s)
		s.UpdatedAt = patch.At

		res, err := tx.ExecContext(ctx, `
			UPDATE visitor_sessions SET last_seen_at = ?, ended_at = ?, updated_at = ?
			WHERE id = ? AND updated_at <= ?`,
			database.Nanos(s.LastSeenAt), database.NullNanos(s.EndedAt), database.Nanos(s.UpdatedAt),
			id, database.Nanos(patch.At))
		if err != nil {
			return errors.Wrapf(err, "patch visitor session %s", id)
		}
		n, _ := res.RowsAffected()
		applied = n == 1
		return nil
	})
	return applied, err
}

func (r *SQLSessionRepository) FindByID(ctx context.Context, id string) (*visitor.Session, error) {
	return r.find(ctx, r.db, `id = ?`, id)
}

// FindByToken resolves the opaque session token handed to the widget.
func (r *SQLSessionRepository) FindByToken(ctx context.Context, token string) (*visitor.Session, error) {
	return r.find(ctx, r.db, `token = ?`, token)
}

func (r *SQLSessionRepository) find(ctx context.Context, ex database.Execer, where, arg string) (*visitor.Session, error) {
	start := time.Now()
	defer r.db.Track("SELECT_VISITOR_SESSION", start, "")

	row := ex.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM visitor_sessions WHERE `+where, arg)
	s, err := scanSession(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("visitor session", arg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load visitor session")
	}
	return s, nil
}

func scanSession(row database.Scanner) (*visitor.Session, error) {
	var (
		s                      visitor.Session
		userAgent, ipHash      sql.NullString
		started, seen, updated int64
		ended                  sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.Token, &s.VisitorID, &userAgent, &ipHash,
		&started, &seen, &ended, &updated); err != nil {
		return nil, err
	}
	s.UserAgent = userAgent.String
	s.IPHash = ipHash.String
	s.StartedAt = database.FromNanos(started)
	s.LastSeenAt = database.FromNanos(seen)
	s.EndedAt = database.FromNullNanos(ended)
	s.UpdatedAt = database.FromNanos(updated)
	return &s, nil
}
