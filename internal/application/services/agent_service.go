package services

import (
	"context"
	"errors"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/repositories"
	domain "github.com/AtRiskMedia/livedesk-go/internal/domain/services"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
)

var (
	// errStatusEvicted means the cached status vanished between priming and the atomic update.
	errStatusEvicted = errors.New("agent status evicted")
	// errCacheUnavailable backs cache-only entities, which have no durable fallback.
	errCacheUnavailable = errors.New("cache unavailable")
)

// AgentService owns the AgentStatus singleton per agent. Capacity moves
// through one atomic cache update that re-runs admission; each slot taken or
// returned is mirrored to the durable row by an AgentCapacityDelta job.
type AgentService struct {
	cache      *caching.Cache
	durable    repositories.AgentStatusRepository
	queue      jobs.Enqueuer
	clock      clock.Clock
	ttl        time.Duration
	defaultMax int
	logger     *logging.ChanneledLogger
}

func NewAgentService(cache *caching.Cache, durable repositories.AgentStatusRepository, queue jobs.Enqueuer, clk clock.Clock, ttl time.Duration, defaultMax int, logger *logging.ChanneledLogger) *AgentService {
	return &AgentService{
		cache:      cache,
		durable:    durable,
		queue:      queue,
		clock:      clk,
		ttl:        ttl,
		defaultMax: defaultMax,
		logger:     logger,
	}
}

// Status returns the current status, cache first.
func (s *AgentService) Status(ctx context.Context, agentID string) (chat.AgentStatus, error) {
	var st chat.AgentStatus
	key := caching.AgentStatusKey(agentID)
	status := s.cache.Get(ctx, key, &st)
	if status == caching.Hit {
		return st, nil
	}
	loaded, err := s.durable.FindByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return st, err
		}
		return st, apperrors.Unavailable("read agent status", err)
	}
	if status == caching.Miss {
		s.cache.SetNX(ctx, key, loaded, s.ttl)
	}
	return *loaded, nil
}

// Acquire takes one capacity slot for roomID or returns a CapacityError.
func (s *AgentService) Acquire(ctx context.Context, agentID, roomID string) (chat.AgentStatus, error) {
	at := s.clock.Now()
	st, err := s.mutate(ctx, agentID, nil, func(cur chat.AgentStatus) (chat.AgentStatus, error) {
		return domain.Acquire(cur, roomID, at)
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		// an agent that never set a presence is offline
		return st, domain.Admit(chat.AgentStatus{UserID: agentID, Status: chat.PresenceOffline})
	case isDomainError(err):
		return st, err
	default:
		return s.acquireDurable(ctx, agentID, roomID, at, err)
	}

	if err := s.enqueueDelta(ctx, st, roomID, 1, at); err != nil {
		// keep cache and durable counts in step
		if _, rerr := s.mutate(ctx, agentID, nil, func(cur chat.AgentStatus) (chat.AgentStatus, error) {
			return domain.Release(cur, roomID, at), nil
		}); rerr != nil {
			s.logger.Room().Error().Err(rerr).Str("agentId", agentID).Msg("Failed to roll back capacity slot")
		}
		return st, apperrors.Unavailable("enqueue capacity delta", err)
	}
	s.logger.Room().Debug().Str("agentId", agentID).Str("roomId", roomID).Int("current", st.CurrentChats).Int("max", st.MaxConcurrentChats).Msg("Capacity slot taken")
	return st, nil
}

// Release returns one slot, flooring at zero.
func (s *AgentService) Release(ctx context.Context, agentID, roomID string) (chat.AgentStatus, error) {
	at := s.clock.Now()
	st, err := s.mutate(ctx, agentID, nil, func(cur chat.AgentStatus) (chat.AgentStatus, error) {
		return domain.Release(cur, roomID, at), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		return st, nil
	default:
		s.logger.Room().Warn().Err(err).Str("agentId", agentID).Msg("Cache capacity release failed; releasing in durable store")
		released, derr := s.durable.Release(ctx, agentID, at)
		if derr != nil {
			return st, apperrors.Unavailable("release capacity", derr)
		}
		s.cache.Set(ctx, caching.AgentStatusKey(agentID), released, s.ttl)
		return *released, nil
	}

	if err := s.enqueueDelta(ctx, st, roomID, -1, at); err != nil {
		return st, apperrors.Unavailable("enqueue capacity delta", err)
	}
	return st, nil
}

// SetPresence changes ONLINE/BUSY/OFFLINE. Going OFFLINE while holding chats is rejected.
func (s *AgentService) SetPresence(ctx context.Context, tenantID, agentID string, p chat.Presence) (chat.AgentStatus, error) {
	at := s.clock.Now()
	return s.configure(ctx, tenantID, agentID, at, func(cur chat.AgentStatus) (chat.AgentStatus, error) {
		return domain.SetPresence(cur, p, at)
	})
}

// SetCapacity changes the maximum concurrent chats.
func (s *AgentService) SetCapacity(ctx context.Context, tenantID, agentID string, limit int) (chat.AgentStatus, error) {
	at := s.clock.Now()
	return s.configure(ctx, tenantID, agentID, at, func(cur chat.AgentStatus) (chat.AgentStatus, error) {
		return domain.SetCapacity(cur, limit, at)
	})
}

// configure applies a presence or capacity change, creating the status on first use.
func (s *AgentService) configure(ctx context.Context, tenantID, agentID string, at time.Time, fn func(chat.AgentStatus) (chat.AgentStatus, error)) (chat.AgentStatus, error) {
	seed := &chat.AgentStatus{
		UserID:             agentID,
		TenantID:           tenantID,
		Status:             chat.PresenceOffline,
		MaxConcurrentChats: s.defaultMax,
		LastSeenAt:         at,
		UpdatedAt:          at,
	}
	st, err := s.mutate(ctx, agentID, seed, fn)
	switch {
	case err == nil:
	case isDomainError(err):
		return st, err
	default:
		s.logger.Room().Warn().Err(err).Str("agentId", agentID).Msg("Cache status update failed; writing durable store")
		cur, derr := s.durable.FindByID(ctx, agentID)
		if errors.Is(derr, apperrors.ErrNotFound) {
			cur, derr = seed, nil
		}
		if derr != nil {
			return st, apperrors.Unavailable("read agent status", derr)
		}
		next, ferr := fn(*cur)
		if ferr != nil {
			return next, ferr
		}
		if uerr := s.durable.Upsert(ctx, &next); uerr != nil {
			return next, apperrors.Unavailable("write agent status", uerr)
		}
		return next, nil
	}

	if _, err := s.queue.Enqueue(ctx, jobs.UpsertAgentStatus{Status: st}); err != nil {
		return st, apperrors.Transient(err)
	}
	s.logger.Room().Info().Str("agentId", agentID).Str("status", string(st.Status)).Int("max", st.MaxConcurrentChats).Msg("Agent status updated")
	return st, nil
}

// mutate primes the cache from the durable row and runs fn inside the atomic
// cache update. seed is used when neither store holds a status.
func (s *AgentService) mutate(ctx context.Context, agentID string, seed *chat.AgentStatus, fn func(chat.AgentStatus) (chat.AgentStatus, error)) (chat.AgentStatus, error) {
	key := caching.AgentStatusKey(agentID)
	codec := s.cache.Codec()

	var out chat.AgentStatus
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.prime(ctx, agentID, seed); err != nil {
			return out, err
		}
		err := s.cache.KV().Update(ctx, key, s.ttl, func(cur []byte, exists bool) ([]byte, error) {
			var st chat.AgentStatus
			switch {
			case exists:
				if err := codec.Unmarshal(cur, &st); err != nil {
					return nil, err
				}
			case seed != nil:
				st = *seed
			default:
				return nil, errStatusEvicted
			}
			next, err := fn(st)
			if err != nil {
				return nil, err
			}
			out = next
			return codec.Marshal(next)
		})
		if errors.Is(err, errStatusEvicted) {
			continue
		}
		return out, err
	}
	return out, errStatusEvicted
}

// prime loads the durable status into the cache when the key is absent.
func (s *AgentService) prime(ctx context.Context, agentID string, seed *chat.AgentStatus) error {
	key := caching.AgentStatusKey(agentID)
	var st chat.AgentStatus
	switch s.cache.Get(ctx, key, &st) {
	case caching.Hit:
		return nil
	case caching.Failed:
		return errCacheUnavailable
	}
	loaded, err := s.durable.FindByID(ctx, agentID)
	if errors.Is(err, apperrors.ErrNotFound) && seed != nil {
		return nil
	}
	if err != nil {
		return err
	}
	s.cache.SetNX(ctx, key, loaded, s.ttl)
	return nil
}

func (s *AgentService) acquireDurable(ctx context.Context, agentID, roomID string, at time.Time, cause error) (chat.AgentStatus, error) {
	s.logger.Room().Warn().Err(cause).Str("agentId", agentID).Msg("Cache capacity update failed; acquiring in durable store")
	st, err := s.durable.TryAcquire(ctx, agentID, roomID, at)
	if errors.Is(err, apperrors.ErrNotFound) {
		return chat.AgentStatus{}, domain.Admit(chat.AgentStatus{UserID: agentID, Status: chat.PresenceOffline})
	}
	if err != nil {
		if isDomainError(err) {
			return chat.AgentStatus{}, err
		}
		return chat.AgentStatus{}, apperrors.Unavailable("acquire capacity", err)
	}
	s.cache.Set(ctx, caching.AgentStatusKey(agentID), st, s.ttl)
	return *st, nil
}

func (s *AgentService) enqueueDelta(ctx context.Context, st chat.AgentStatus, roomID string, delta int, at time.Time) error {
	_, err := s.queue.Enqueue(ctx, jobs.AgentCapacityDelta{
		EventID:  security.GenerateULID(),
		AgentID:  st.UserID,
		TenantID: st.TenantID,
		RoomID:   roomID,
		Delta:    delta,
		At:       at,
	})
	return err
}

// isDomainError reports errors produced by a domain decision rather than infrastructure.
func isDomainError(err error) bool {
	return errors.Is(err, apperrors.ErrCapacityExceeded) ||
		errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrNotFound)
}
