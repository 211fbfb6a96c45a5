package services

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
)

// TypingService keeps typing indicators as self-expiring cache entries
// listed under a per-room index set.
type TypingService struct {
	stores *Stores
	cache  *caching.Cache
	clock  clock.Clock
	ttl    time.Duration
}

func NewTypingService(stores *Stores, cache *caching.Cache, clk clock.Clock, ttl time.Duration) *TypingService {
	return &TypingService{stores: stores, cache: cache, clock: clk, ttl: ttl}
}

// SetTyping starts or stops the indicator of an active participant.
func (s *TypingService) SetTyping(ctx context.Context, roomID, participantID string, isTyping bool) (chat.TypingEvent, error) {
	room, err := s.stores.Rooms.Read(ctx, roomID)
	if err != nil {
		return chat.TypingEvent{}, err
	}
	if room.IsEnded() {
		return chat.TypingEvent{}, apperrors.Validation("room %s has ended", roomID)
	}
	p, err := s.stores.Participants.Read(ctx, participantID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return chat.TypingEvent{}, err
	}
	if err != nil || p.RoomID != roomID || !p.IsActive() {
		return chat.TypingEvent{}, apperrors.Validation("participant %s is not active in room %s", participantID, roomID)
	}

	now := s.clock.Now()
	ev := chat.TypingEvent{RoomID: roomID, ParticipantID: participantID, IsTyping: isTyping, CreatedAt: now, ExpiresAt: now}
	if !isTyping {
		s.clear(ctx, roomID, participantID)
		return ev, nil
	}
	ev.ExpiresAt = now.Add(s.ttl)
	if !s.cache.Set(ctx, caching.TypingKey(roomID, participantID), ev, s.ttl) {
		return ev, apperrors.Unavailable("set typing", errCacheUnavailable)
	}
	s.cache.AddMembers(ctx, caching.TypingIndexKey(roomID), s.ttl, participantID)
	return ev, nil
}

// Typing lists the unexpired indicators of a room. Expired members are pruned.
func (s *TypingService) Typing(ctx context.Context, roomID string) []chat.TypingEvent {
	members, status := s.cache.Members(ctx, caching.TypingIndexKey(roomID))
	if status != caching.Hit {
		return []chat.TypingEvent{}
	}
	now := s.clock.Now()
	out := make([]chat.TypingEvent, 0, len(members))
	for _, pid := range members {
		var ev chat.TypingEvent
		if s.cache.Get(ctx, caching.TypingKey(roomID, pid), &ev) != caching.Hit || ev.Expired(now) {
			s.cache.RemoveMembers(ctx, caching.TypingIndexKey(roomID), pid)
			continue
		}
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b chat.TypingEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *TypingService) clear(ctx context.Context, roomID, participantID string) {
	s.cache.Delete(ctx, caching.TypingKey(roomID, participantID))
	s.cache.RemoveMembers(ctx, caching.TypingIndexKey(roomID), participantID)
}

func (s *TypingService) clearRoom(ctx context.Context, roomID string) {
	members, status := s.cache.Members(ctx, caching.TypingIndexKey(roomID))
	if status != caching.Hit {
		return
	}
	keys := make([]string, 0, len(members)+1)
	for _, pid := range members {
		keys = append(keys, caching.TypingKey(roomID, pid))
	}
	keys = append(keys, caching.TypingIndexKey(roomID))
	s.cache.Delete(ctx, keys...)
}
