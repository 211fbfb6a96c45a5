package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

type SecurityEventInput struct {
	SessionID string           `json:"sessionId"`
	Type      string           `json:"type"`
	Severity  visitor.Severity `json:"severity"`
	Detail    string           `json:"detail,omitempty"`
	IP        string           `json:"-"`
}

// RecordSecurityEvent appends a security event to a session, ended or not.
// Critical events are logged at error level.
func (s *SessionService) RecordSecurityEvent(ctx context.Context, in SecurityEventInput) (visitor.SecurityEvent, error) {
	eventType := strings.TrimSpace(in.Type)
	if eventType == "" {
		return visitor.SecurityEvent{}, apperrors.Validation("security event type is required")
	}
	switch in.Severity {
	case visitor.SeverityInfo, visitor.SeverityWarning, visitor.SeverityCritical:
	case "":
		in.Severity = visitor.SeverityInfo
	default:
		return visitor.SecurityEvent{}, apperrors.Validation("unknown severity %q", in.Severity)
	}
	sess, err := s.stores.Sessions.Read(ctx, in.SessionID)
	if err != nil {
		return visitor.SecurityEvent{}, err
	}

	now := s.clock.Now()
	ev := visitor.SecurityEvent{
		ID:        security.GenerateULID(),
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		Type:      eventType,
		Severity:  in.Severity,
		Detail:    in.Detail,
		IPHash:    s.hasher.Hash(in.IP),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.stores.SecurityEvents.Write(ctx, ev); err != nil {
		return visitor.SecurityEvent{}, fmt.Errorf("failed to record security event: %w", err)
	}

	logEv := s.logger.Auth().Info()
	if ev.Severity == visitor.SeverityCritical {
		logEv = s.logger.Auth().Error()
	}
	logEv.Str("tenantId", ev.TenantID).Str("sessionId", ev.SessionID).Str("type", ev.Type).Str("severity", string(ev.Severity)).Msg("Security event recorded")
	return ev, nil
}

func (s *SessionService) SecurityEvents(ctx context.Context, sessionID string) ([]visitor.SecurityEvent, error) {
	if _, err := s.stores.Sessions.Read(ctx, sessionID); err != nil {
		return nil, err
	}
	out, err := s.stores.SecurityEvents.ReadByIndex(ctx, IndexBySession, sessionID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b visitor.SecurityEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}
