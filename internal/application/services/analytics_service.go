package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// AnalyticsService reads room aggregates and applies analytics jobs. All
// counter arithmetic happens inside the repository transaction; the cache
// only mirrors the latest durable row.
type AnalyticsService struct {
	repo       repositories.AnalyticsRepository
	engagement repositories.EngagementRepository
	cache      *caching.Cache
	ttl        time.Duration
	logger     *logging.ChanneledLogger
}

func NewAnalyticsService(repo repositories.AnalyticsRepository, engagement repositories.EngagementRepository, cache *caching.Cache, ttl time.Duration, logger *logging.ChanneledLogger) *AnalyticsService {
	return &AnalyticsService{repo: repo, engagement: engagement, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the aggregate for a room, cache first.
func (s *AnalyticsService) Get(ctx context.Context, roomID string) (chat.Analytics, error) {
	var a chat.Analytics
	if s.cache.Get(ctx, caching.AnalyticsKey(roomID), &a) == caching.Hit {
		return a, nil
	}
	row, err := s.repo.FindByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return chat.Analytics{}, err
		}
		return chat.Analytics{}, apperrors.Unavailable("load analytics", err)
	}
	s.cache.Set(ctx, caching.AnalyticsKey(roomID), row, s.ttl)
	return *row, nil
}

func (s *AnalyticsService) ApplyRoomOpened(ctx context.Context, key string, j jobs.RoomOpened) error {
	applied, err := s.repo.Init(ctx, key, j)
	return s.settle(ctx, "room_opened", key, j.RoomID, applied, err)
}

func (s *AnalyticsService) ApplyJoin(ctx context.Context, key string, j jobs.ParticipantJoined) error {
	applied, err := s.repo.RecordJoin(ctx, key, j)
	return s.settle(ctx, "participant_joined", key, j.RoomID, applied, err)
}

func (s *AnalyticsService) ApplyMessage(ctx context.Context, key string, j jobs.MessageRecorded) error {
	applied, err := s.repo.RecordMessage(ctx, key, j)
	return s.settle(ctx, "message_recorded", key, j.RoomID, applied, err)
}

func (s *AnalyticsService) ApplyRoomEnded(ctx context.Context, key string, j jobs.RoomEnded) error {
	applied, err := s.repo.Finalize(ctx, key, j)
	return s.settle(ctx, "room_ended", key, j.RoomID, applied, err)
}

func (s *AnalyticsService) settle(ctx context.Context, kind, key, roomID string, applied bool, err error) error {
	if err != nil {
		return fmt.Errorf("analytics %s for room %s: %w", kind, roomID, err)
	}
	if !applied {
		s.logger.Analytics().Debug().Str("kind", kind).Str("key", key).Str("roomId", roomID).Msg("Analytics job already applied")
		return nil
	}
	s.refresh(ctx, roomID)
	return nil
}

// refresh mirrors the committed row into the cache. Failures only cost a
// later cache miss.
func (s *AnalyticsService) refresh(ctx context.Context, roomID string) {
	row, err := s.repo.FindByRoom(ctx, roomID)
	if err != nil {
		s.cache.Delete(ctx, caching.AnalyticsKey(roomID))
		s.logger.Analytics().Warn().Err(err).Str("roomId", roomID).Msg("Analytics cache refresh failed")
		return
	}
	s.cache.Set(ctx, caching.AnalyticsKey(roomID), row, s.ttl)
}

// Engagement returns a visitor session's derived engagement, cache first.
func (s *AnalyticsService) Engagement(ctx context.Context, sessionID string) (visitor.Engagement, error) {
	var e visitor.Engagement
	if s.cache.Get(ctx, caching.EngagementKey(sessionID), &e) == caching.Hit {
		return e, nil
	}
	row, err := s.engagement.FindBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return visitor.Engagement{}, err
		}
		return visitor.Engagement{}, apperrors.Unavailable("load engagement", err)
	}
	s.cache.Set(ctx, caching.EngagementKey(sessionID), row, s.ttl)
	return *row, nil
}

// RecomputeEngagement rebuilds engagement from the persisted interactions.
// An interaction still waiting on its persist job is picked up by the
// recompute its own write enqueued.
func (s *AnalyticsService) RecomputeEngagement(ctx context.Context, j jobs.RecomputeEngagement) error {
	e, err := s.engagement.Recompute(ctx, j.SessionID, j.TenantID)
	if err != nil {
		return fmt.Errorf("recompute engagement for session %s: %w", j.SessionID, err)
	}
	s.cache.Set(ctx, caching.EngagementKey(j.SessionID), e, s.ttl)
	s.logger.Analytics().Debug().Str("sessionId", j.SessionID).Float64("score", e.Score).Msg("Engagement recomputed")
	return nil
}
