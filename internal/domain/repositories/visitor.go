package repositories

import (
	"context"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
)

type VisitorSessionRepository interface {
	Upsert(ctx context.Context, s *visitor.Session) error
	ApplyPatch(ctx context.Context, id string, patch visitor.SessionPatch) (bool, error)
	FindByID(ctx context.Context, id string) (*visitor.Session, error)
	FindByToken(ctx context.Context, token string) (*visitor.Session, error)
}

type AttributionRepository interface {
	Insert(ctx context.Context, a *visitor.Attribution) error
	FindByID(ctx context.Context, id string) (*visitor.Attribution, error)
	FindBySession(ctx context.Context, sessionID string) ([]*visitor.Attribution, error)
}

type SecurityEventRepository interface {
	Insert(ctx context.Context, e *visitor.SecurityEvent) error
	FindByID(ctx context.Context, id string) (*visitor.SecurityEvent, error)
	FindBySession(ctx context.Context, sessionID string) ([]*visitor.SecurityEvent, error)
	FindByType(ctx context.Context, tenantID, eventType string) ([]*visitor.SecurityEvent, error)
}

// InteractionRepository stores the Interaction union across the page_views
// and widget_events tables.
type InteractionRepository interface {
	Insert(ctx context.Context, i *visitor.Interaction) error
	FindByID(ctx context.Context, id string) (*visitor.Interaction, error)
	FindBySession(ctx context.Context, sessionID string) ([]*visitor.Interaction, error)
}

type EngagementRepository interface {
	// Recompute rebuilds a session's engagement from its interactions and stores it.
	Recompute(ctx context.Context, sessionID, tenantID string) (*visitor.Engagement, error)
	FindBySession(ctx context.Context, sessionID string) (*visitor.Engagement, error)
}
