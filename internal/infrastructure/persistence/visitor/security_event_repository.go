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

var _ repositories.SecurityEventRepository = (*SQLSecurityEventRepository)(nil)

const securityEventColumns = `id, session_id, tenant_id, type, severity, detail, ip_hash, created_at, updated_at`

type SQLSecurityEventRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLSecurityEventRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLSecurityEventRepository {
	return &SQLSecurityEventRepository{db: db, logger: logger}
}

func (r *SQLSecurityEventRepository) Insert(ctx context.Context, e *visitor.SecurityEvent) error {
	start := time.Now()
	defer r.db.Track("INSERT_SECURITY_EVENT", start, e.TenantID)

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO security_events (`+securityEventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.TenantID, e.Type, string(e.Severity), e.Detail, e.IPHash,
		database.Nanos(e.CreatedAt), database.Nanos(e.UpdatedAt))
	if err != nil {
		r.logger.Database().Error().Err(err).Str("eventId", e.ID).Msg("Security event insert failed")
		return errors.Wrapf(err, "insert security event %s", e.ID)
	}
	if e.Severity == visitor.SeverityCritical {
		r.logger.Auth().Warn().Str("tenantId", e.TenantID).Str("sessionId", e.SessionID).Str("type", e.Type).Msg("Critical security event stored")
	}
	return nil
}

func (r *SQLSecurityEventRepository) FindByID(ctx context.Context, id string) (*visitor.SecurityEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+securityEventColumns+` FROM security_events WHERE id = ?`, id)
	e, err := scanSecurityEvent(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("security event", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load security event %s", id)
	}
	return e, nil
}

func (r *SQLSecurityEventRepository) FindBySession(ctx context.Context, sessionID string) ([]*visitor.SecurityEvent, error) {
	return r.query(ctx, "SELECT_SECURITY_EVENTS_BY_SESSION", `session_id = ?`, sessionID)
}

// FindByType lists a tenant's events of one type, newest first.
func (r *SQLSecurityEventRepository) FindByType(ctx context.Context, tenantID, eventType string) ([]*visitor.SecurityEvent, error) {
	return r.query(ctx, "SELECT_SECURITY_EVENTS_BY_TYPE", `tenant_id = ? AND type = ?`, tenantID, eventType)
}

func (r *SQLSecurityEventRepository) query(ctx context.Context, op, where string, args ...any) ([]*visitor.SecurityEvent, error) {
	start := time.Now()
	defer r.db.Track(op, start, "")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+securityEventColumns+` FROM security_events WHERE `+where+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query security events")
	}
	defer rows.Close()

	var out []*visitor.SecurityEvent
	for rows.Next() {
		e, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan security event")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate security events")
}

func scanSecurityEvent(row database.Scanner) (*visitor.SecurityEvent, error) {
	var (
		e                visitor.SecurityEvent
		severity         string
		detail, ipHash   sql.NullString
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.TenantID, &e.Type, &severity, &detail, &ipHash, &created, &updated); err != nil {
		return nil, err
	}
	e.Severity = visitor.Severity(severity)
	e.Detail = detail.String
	e.IPHash = ipHash.String
	e.CreatedAt = database.FromNanos(created)
	e.UpdatedAt = database.FromNanos(updated)
	return &e, nil
}
