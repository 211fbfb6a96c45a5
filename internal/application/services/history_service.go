package services

import (
	"context"
	"errors"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/cachefirst"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

// HistoryService records one session-history row per participant transition.
// The open joined row of each participant is tracked by a cache pointer so a
// leave can close it before the durable insert has landed.
type HistoryService struct {
	entries *cachefirst.Repository[chat.HistoryEntry, chat.HistoryPatch]
	durable repositories.HistoryRepository
	cache   *caching.Cache
	ttl     time.Duration
	logger  *logging.ChanneledLogger
}

func NewHistoryService(entries *cachefirst.Repository[chat.HistoryEntry, chat.HistoryPatch], durable repositories.HistoryRepository, cache *caching.Cache, ttl time.Duration, logger *logging.ChanneledLogger) *HistoryService {
	return &HistoryService{entries: entries, durable: durable, cache: cache, ttl: ttl, logger: logger}
}

// Joined appends a joined row and remembers it as the participant's open row.
func (s *HistoryService) Joined(ctx context.Context, p chat.Participant, reason chat.HistoryReason, at time.Time) (chat.HistoryEntry, error) {
	entry := s.entry(p, chat.ActionJoined, reason, at)
	if err := s.entries.Write(ctx, entry); err != nil {
		return entry, err
	}
	s.cache.SetString(ctx, caching.OpenHistoryKey(p.RoomID, p.ID), entry.ID, s.ttl)
	return entry, nil
}

// Left appends a left row and closes the participant's open joined row once.
func (s *HistoryService) Left(ctx context.Context, p chat.Participant, reason chat.HistoryReason, at time.Time) (chat.HistoryEntry, error) {
	entry := s.entry(p, chat.ActionLeft, reason, at)
	if err := s.entries.Write(ctx, entry); err != nil {
		return entry, err
	}
	if err := s.closeOpen(ctx, p, at); err != nil {
		return entry, err
	}
	return entry, nil
}

// Transferred writes the paired rows of a primary hand-off.
func (s *HistoryService) Transferred(ctx context.Context, from, to chat.Participant, at time.Time) error {
	if _, err := s.Left(ctx, from, chat.ReasonAgentTransfer, at); err != nil {
		return err
	}
	_, err := s.Joined(ctx, to, chat.ReasonAgentTransfer, at)
	return err
}

// ForRoom lists a room's history ordered by start time.
func (s *HistoryService) ForRoom(ctx context.Context, roomID string) ([]chat.HistoryEntry, error) {
	entries, err := s.entries.ReadByIndex(ctx, IndexByRoom, roomID)
	if err != nil {
		return nil, err
	}
	sortHistory(entries)
	return entries, nil
}

func (s *HistoryService) entry(p chat.Participant, action chat.HistoryAction, reason chat.HistoryReason, at time.Time) chat.HistoryEntry {
	return chat.HistoryEntry{
		ID:            security.GenerateULID(),
		RoomID:        p.RoomID,
		TenantID:      p.TenantID,
		SessionType:   chat.SessionTypeFor(p.Role),
		ParticipantID: p.ID,
		Action:        action,
		Reason:        reason,
		StartedAt:     at,
		UpdatedAt:     at,
	}
}

func (s *HistoryService) closeOpen(ctx context.Context, p chat.Participant, at time.Time) error {
	pointer := caching.OpenHistoryKey(p.RoomID, p.ID)
	id, status := s.cache.GetString(ctx, pointer)
	if status != caching.Hit {
		open, err := s.durable.FindOpen(ctx, p.RoomID, p.ID)
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Room().Warn().Str("roomId", p.RoomID).Str("participantId", p.ID).Msg("No open history row to close")
			return nil
		}
		if err != nil {
			return apperrors.Unavailable("find open history", err)
		}
		id = open.ID
	}

	joined, err := s.entries.Read(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.cache.Delete(ctx, pointer)
		return nil
	}
	if err != nil {
		return err
	}
	if joined.EndedAt == nil {
		if _, err := s.entries.Update(ctx, id, chat.Close(joined.StartedAt, at)); err != nil {
			return err
		}
	}
	s.cache.Delete(ctx, pointer)
	return nil
}
