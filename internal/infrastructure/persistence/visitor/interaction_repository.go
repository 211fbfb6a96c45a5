package visitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.InteractionRepository = (*SQLInteractionRepository)(nil)

// The union is read back through one projection over both tables.
const interactionSelect = `
	SELECT 'page_view', id, session_id, tenant_id, url, title, duration_ms, NULL, NULL, occurred_at, updated_at
	FROM page_views WHERE %[1]s
	UNION ALL
	SELECT 'widget_event', id, session_id, tenant_id, NULL, NULL, NULL, action, target, occurred_at, updated_at
	FROM widget_events WHERE %[1]s`

// SQLInteractionRepository stores page views and widget events, one table per variant.
type SQLInteractionRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLInteractionRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLInteractionRepository {
	return &SQLInteractionRepository{db: db, logger: logger}
}

func (r *SQLInteractionRepository) Insert(ctx context.Context, i *visitor.Interaction) error {
	if err := i.Validate(); err != nil {
		return apperrors.Validation("%v", err)
	}
	start := time.Now()
	defer r.db.Track("INSERT_INTERACTION", start, i.TenantID)

	var err error
	switch i.Kind {
	case visitor.KindPageView:
		_, err = r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO page_views (id, session_id, tenant_id, url, title, duration_ms, occurred_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i.ID, i.SessionID, i.TenantID, i.PageView.URL, i.PageView.Title, i.PageView.DurationMs,
			database.Nanos(i.OccurredAt), database.Nanos(i.UpdatedAt))
	case visitor.KindWidgetEvent:
		_, err = r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO widget_events (id, session_id, tenant_id, action, target, occurred_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			i.ID, i.SessionID, i.TenantID, i.WidgetEvent.Action, i.WidgetEvent.Target,
			database.Nanos(i.OccurredAt), database.Nanos(i.UpdatedAt))
	}
	if err != nil {
		r.logger.Database().Error().Err(err).Str("interactionId", i.ID).Str("kind", string(i.Kind)).Msg("Interaction insert failed")
		return errors.Wrapf(err, "insert %s %s", i.Kind, i.ID)
	}
	return nil
}

func (r *SQLInteractionRepository) FindByID(ctx context.Context, id string) (*visitor.Interaction, error) {
	out, err := r.query(ctx, "SELECT_INTERACTION", "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperrors.NotFound("interaction", id)
	}
	return out[0], nil
}

// FindBySession returns both variants interleaved in occurrence order.
func (r *SQLInteractionRepository) FindBySession(ctx context.Context, sessionID string) ([]*visitor.Interaction, error) {
	return r.query(ctx, "SELECT_INTERACTIONS_BY_SESSION", "session_id = ?", sessionID)
}

func (r *SQLInteractionRepository) query(ctx context.Context, op, where, arg string) ([]*visitor.Interaction, error) {
	start := time.Now()
	defer r.db.Track(op, start, "")

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(interactionSelect, where)+` ORDER BY 10, 2`, arg, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query interactions")
	}
	defer rows.Close()

	var out []*visitor.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan interaction")
		}
		out = append(out, i)
	}
	return out, errors.Wrap(rows.Err(), "iterate interactions")
}

func scanInteraction(row database.Scanner) (*visitor.Interaction, error) {
	var (
		i                          visitor.Interaction
		kind                       string
		url, title, action, target sql.NullString
		durationMs                 sql.NullInt64
		occurred, updated          int64
	)
	if err := row.Scan(&kind, &i.ID, &i.SessionID, &i.TenantID, &url, &title, &durationMs, &action, &target,
		&occurred, &updated); err != nil {
		return nil, err
	}
	i.Kind = visitor.InteractionKind(kind)
	switch i.Kind {
	case visitor.KindPageView:
		i.PageView = &visitor.PageView{URL: url.String, Title: title.String, DurationMs: durationMs.Int64}
	case visitor.KindWidgetEvent:
		i.WidgetEvent = &visitor.WidgetEvent{Action: action.String, Target: target.String}
	}
	i.OccurredAt = database.FromNanos(occurred)
	i.UpdatedAt = database.FromNanos(updated)
	return &i, nil
}
