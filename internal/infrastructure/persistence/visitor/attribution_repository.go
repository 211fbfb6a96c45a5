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

var _ repositories.AttributionRepository = (*SQLAttributionRepository)(nil)

const attributionColumns = `id, session_id, tenant_id, source, medium, campaign, referrer, landing_url, created_at, updated_at`

// SQLAttributionRepository stores the campaign attribution captured when a session starts.
type SQLAttributionRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLAttributionRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLAttributionRepository {
	return &SQLAttributionRepository{db: db, logger: logger}
}

func (r *SQLAttributionRepository) Insert(ctx context.Context, a *visitor.Attribution) error {
	start := time.Now()
	defer r.db.Track("INSERT_ATTRIBUTION", start, a.TenantID)

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO attributions (`+attributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.TenantID, a.Source, a.Medium, a.Campaign, a.Referrer, a.LandingURL,
		database.Nanos(a.CreatedAt), database.Nanos(a.UpdatedAt))
	if err != nil {
		r.logger.Database().Error().Err(err).Str("attributionId", a.ID).Msg("Attribution insert failed")
		return errors.Wrapf(err, "insert attribution %s", a.ID)
	}
	return nil
}

func (r *SQLAttributionRepository) FindByID(ctx context.Context, id string) (*visitor.Attribution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+attributionColumns+` FROM attributions WHERE id = ?`, id)
	a, err := scanAttribution(row)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("attribution", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load attribution %s", id)
	}
	return a, nil
}

func (r *SQLAttributionRepository) FindBySession(ctx context.Context, sessionID string) ([]*visitor.Attribution, error) {
	start := time.Now()
	defer r.db.Track("SELECT_ATTRIBUTIONS_BY_SESSION", start, "")

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attributionColumns+` FROM attributions WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query attributions")
	}
	defer rows.Close()

	var out []*visitor.Attribution
	for rows.Next() {
		a, err := scanAttribution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan attribution")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate attributions")
}

func scanAttribution(row database.Scanner) (*visitor.Attribution, error) {
	var (
		a                                           visitor.Attribution
		source, medium, campaign, referrer, landing sql.NullString
		created, updated                            int64
	)
	if err := row.Scan(&a.ID, &a.SessionID, &a.TenantID, &source, &medium, &campaign, &referrer, &landing,
		&created, &updated); err != nil {
		return nil, err
	}
	a.Source = source.String
	a.Medium = medium.String
	a.Campaign = campaign.String
	a.Referrer = referrer.String
	a.LandingURL = landing.String
	a.CreatedAt = database.FromNanos(created)
	a.UpdatedAt = database.FromNanos(updated)
	return &a, nil
}
