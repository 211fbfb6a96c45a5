package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

type AttributionInput struct {
	Source     string `json:"source,omitempty"`
	Medium     string `json:"medium,omitempty"`
	Campaign   string `json:"campaign,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	LandingURL string `json:"landingUrl,omitempty"`
}

func (a AttributionInput) empty() bool {
	return a == AttributionInput{}
}

type StartSessionInput struct {
	TenantID    string            `json:"tenantId"`
	VisitorID   string            `json:"visitorId,omitempty"`
	UserAgent   string            `json:"userAgent,omitempty"`
	IP          string            `json:"-"`
	Attribution *AttributionInput `json:"attribution,omitempty"`
}

// SessionService manages visitor sessions and the families hanging off them:
// attribution, security events and interactions.
type SessionService struct {
	stores *Stores
	hasher *security.IPHasher
	clock  clock.Clock
	logger *logging.ChanneledLogger
}

func NewSessionService(stores *Stores, hasher *security.IPHasher, clk clock.Clock, logger *logging.ChanneledLogger) *SessionService {
	return &SessionService{stores: stores, hasher: hasher, clock: clk, logger: logger}
}

// StartSession opens a visitor session and records its attribution when any
// was supplied. The client address is kept only as a keyed hash.
func (s *SessionService) StartSession(ctx context.Context, in StartSessionInput) (visitor.Session, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return visitor.Session{}, apperrors.Validation("tenant id is required")
	}
	token, err := security.NewSessionToken()
	if err != nil {
		return visitor.Session{}, err
	}
	now := s.clock.Now()
	sess := visitor.Session{
		ID:         security.GenerateULID(),
		TenantID:   in.TenantID,
		Token:      token,
		VisitorID:  in.VisitorID,
		UserAgent:  in.UserAgent,
		IPHash:     s.hasher.Hash(in.IP),
		StartedAt:  now,
		LastSeenAt: now,
		UpdatedAt:  now,
	}
	if sess.VisitorID == "" {
		sess.VisitorID = security.GenerateULID()
	}
	if err := s.stores.Sessions.Write(ctx, sess); err != nil {
		return visitor.Session{}, fmt.Errorf("failed to start session: %w", err)
	}

	if in.Attribution != nil && !in.Attribution.empty() {
		a := visitor.Attribution{
			ID:         security.GenerateULID(),
			SessionID:  sess.ID,
			TenantID:   sess.TenantID,
			Source:     in.Attribution.Source,
			Medium:     in.Attribution.Medium,
			Campaign:   in.Attribution.Campaign,
			Referrer:   in.Attribution.Referrer,
			LandingURL: in.Attribution.LandingURL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.stores.Attributions.Write(ctx, a); err != nil {
			s.logger.Room().Warn().Err(err).Str("sessionId", sess.ID).Msg("Attribution write failed")
		}
	}

	s.logger.Room().Info().Str("tenantId", sess.TenantID).Str("sessionId", sess.ID).Str("visitorId", sess.VisitorID).Msg("Visitor session started")
	return sess, nil
}

func (s *SessionService) Session(ctx context.Context, sessionID string) (visitor.Session, error) {
	return s.stores.Sessions.Read(ctx, sessionID)
}

// SessionByToken resolves the widget token to its session.
func (s *SessionService) SessionByToken(ctx context.Context, token string) (visitor.Session, error) {
	if token == "" {
		return visitor.Session{}, apperrors.Validation("session token is required")
	}
	found, err := s.stores.Sessions.ReadByIndex(ctx, IndexByToken, token)
	if err != nil {
		return visitor.Session{}, err
	}
	if len(found) == 0 {
		return visitor.Session{}, apperrors.NotFound("visitor session", "token")
	}
	return found[0], nil
}

// Touch records visitor activity on an open session.
func (s *SessionService) Touch(ctx context.Context, sessionID string) (visitor.Session, error) {
	sess, err := s.openSession(ctx, sessionID)
	if err != nil {
		return visitor.Session{}, err
	}
	now := s.clock.Now()
	return s.stores.Sessions.Update(ctx, sess.ID, visitor.SessionPatch{LastSeenAt: &now, At: now})
}

// EndSession closes a session. Ending an ended session is a no-op.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (visitor.Session, error) {
	sess, err := s.stores.Sessions.Read(ctx, sessionID)
	if err != nil {
		return visitor.Session{}, err
	}
	if sess.EndedAt != nil {
		return sess, nil
	}
	now := s.clock.Now()
	sess, err = s.stores.Sessions.Update(ctx, sessionID, visitor.SessionPatch{LastSeenAt: &now, EndedAt: &now, At: now})
	if err != nil {
		return sess, err
	}
	s.logger.Room().Info().Str("sessionId", sessionID).Msg("Visitor session ended")
	return sess, nil
}

// RecordPageView appends a page view and touches the session.
func (s *SessionService) RecordPageView(ctx context.Context, sessionID string, pv visitor.PageView) (visitor.Interaction, error) {
	return s.recordInteraction(ctx, sessionID, func(sess visitor.Session) *visitor.Interaction {
		return visitor.NewPageView(security.GenerateULID(), sess.TenantID, sess.ID, pv, s.clock.Now())
	})
}

// RecordWidgetEvent appends a widget interaction and touches the session.
func (s *SessionService) RecordWidgetEvent(ctx context.Context, sessionID string, we visitor.WidgetEvent) (visitor.Interaction, error) {
	return s.recordInteraction(ctx, sessionID, func(sess visitor.Session) *visitor.Interaction {
		return visitor.NewWidgetEvent(security.GenerateULID(), sess.TenantID, sess.ID, we, s.clock.Now())
	})
}

func (s *SessionService) recordInteraction(ctx context.Context, sessionID string, build func(visitor.Session) *visitor.Interaction) (visitor.Interaction, error) {
	sess, err := s.openSession(ctx, sessionID)
	if err != nil {
		return visitor.Interaction{}, err
	}
	i := build(sess)
	if err := i.Validate(); err != nil {
		return visitor.Interaction{}, apperrors.Validation("%v", err)
	}
	if err := s.stores.Interactions.Write(ctx, *i); err != nil {
		return visitor.Interaction{}, fmt.Errorf("failed to record interaction: %w", err)
	}
	if _, err := s.stores.Sessions.Update(ctx, sess.ID, visitor.SessionPatch{LastSeenAt: &i.OccurredAt, At: i.OccurredAt}); err != nil {
		s.logger.Room().Warn().Err(err).Str("sessionId", sess.ID).Msg("Session touch failed")
	}
	return *i, nil
}

func (s *SessionService) Attributions(ctx context.Context, sessionID string) ([]visitor.Attribution, error) {
	if _, err := s.stores.Sessions.Read(ctx, sessionID); err != nil {
		return nil, err
	}
	out, err := s.stores.Attributions.ReadByIndex(ctx, IndexBySession, sessionID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b visitor.Attribution) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Interactions lists a session's interactions in the order they happened.
func (s *SessionService) Interactions(ctx context.Context, sessionID string) ([]visitor.Interaction, error) {
	if _, err := s.stores.Sessions.Read(ctx, sessionID); err != nil {
		return nil, err
	}
	out, err := s.stores.Interactions.ReadByIndex(ctx, IndexBySession, sessionID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b visitor.Interaction) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *SessionService) openSession(ctx context.Context, sessionID string) (visitor.Session, error) {
	sess, err := s.stores.Sessions.Read(ctx, sessionID)
	if err != nil {
		return visitor.Session{}, err
	}
	if sess.EndedAt != nil {
		return visitor.Session{}, apperrors.Validation("visitor session %s has ended", sessionID)
	}
	return sess, nil
}
