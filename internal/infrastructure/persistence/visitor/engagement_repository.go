package visitor

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
)

var _ repositories.EngagementRepository = (*SQLEngagementRepository)(nil)

const aggregateInteractions = `
	SELECT
		(SELECT COUNT(*) FROM page_views WHERE session_id = ?),
		(SELECT COUNT(*) FROM widget_events WHERE session_id = ?),
		(SELECT COUNT(DISTINCT url) FROM page_views WHERE session_id = ?),
		MIN(occurred_at), MAX(occurred_at)
	FROM (
		SELECT occurred_at FROM page_views WHERE session_id = ?
		UNION ALL
		SELECT occurred_at FROM widget_events WHERE session_id = ?
	)`

// Engagement score weights. Time on site is capped so an idle tab cannot dominate.
const (
	pageViewWeight     = 1.0
	widgetEventWeight  = 2.0
	distinctPageWeight = 1.5
	maxScoredMinutes   = 30.0
)

// Score derives the engagement score from the aggregate counts.
func Score(e *visitor.Engagement) float64 {
	minutes := math.Min(float64(e.DurationSeconds)/60, maxScoredMinutes)
	score := float64(e.PageViews)*pageViewWeight +
		float64(e.WidgetEvents)*widgetEventWeight +
		float64(e.DistinctPages)*distinctPageWeight +
		minutes
	return math.Round(score*100) / 100
}

type SQLEngagementRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

func NewSQLEngagementRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLEngagementRepository {
	return &SQLEngagementRepository{db: db, logger: logger}
}

// Recompute aggregates the session's interactions and replaces the stored
// engagement row. Running it twice yields the same row.
func (r *SQLEngagementRepository) Recompute(ctx context.Context, sessionID, tenantID string) (*visitor.Engagement, error) {
	start := time.Now()
	defer r.db.Track("RECOMPUTE_ENGAGEMENT", start, tenantID)

	e := &visitor.Engagement{SessionID: sessionID, TenantID: tenantID, ComputedAt: time.Now().UTC()}
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var first, last sql.NullInt64
		err := tx.QueryRowContext(ctx, aggregateInteractions, sessionID, sessionID, sessionID, sessionID, sessionID).
			Scan(&e.PageViews, &e.WidgetEvents, &e.DistinctPages, &first, &last)
		if err != nil {
			return errors.Wrap(err, "aggregate interactions")
		}
		if first.Valid && last.Valid {
			e.DurationSeconds = (last.Int64 - first.Int64) / int64(time.Second)
		}
		e.Score = Score(e)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_engagement (session_id, tenant_id, page_views, widget_events, distinct_pages, duration_seconds, score, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				page_views = excluded.page_views,
				widget_events = excluded.widget_events,
				distinct_pages = excluded.distinct_pages,
				duration_seconds = excluded.duration_seconds,
				score = excluded.score,
				computed_at = excluded.computed_at`,
			e.SessionID, e.TenantID, e.PageViews, e.WidgetEvents, e.DistinctPages, e.DurationSeconds, e.Score,
			database.Nanos(e.ComputedAt))
		return errors.Wrap(err, "store engagement")
	})
	if err != nil {
		return nil, err
	}
	r.logger.Analytics().Debug().Str("sessionId", sessionID).Float64("score", e.Score).Msg("Engagement recomputed")
	return e, nil
}

func (r *SQLEngagementRepository) FindBySession(ctx context.Context, sessionID string) (*visitor.Engagement, error) {
	var (
		e        visitor.Engagement
		computed int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, tenant_id, page_views, widget_events, distinct_pages, duration_seconds, score, computed_at
		FROM session_engagement WHERE session_id = ?`, sessionID).
		Scan(&e.SessionID, &e.TenantID, &e.PageViews, &e.WidgetEvents, &e.DistinctPages, &e.DurationSeconds, &e.Score, &computed)
	if database.IsNoRows(err) {
		return nil, apperrors.NotFound("engagement", sessionID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load engagement %s", sessionID)
	}
	e.ComputedAt = database.FromNanos(computed)
	return &e, nil
}
