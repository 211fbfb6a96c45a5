package services

import (
	"context"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/resilience"
)

const (
	notifyScope = "notify"

	// deliveryMarkTTL outlives every retry schedule of the notifications queue.
	deliveryMarkTTL = 24 * time.Hour
)

// NotificationService queues outbound notices on the request path and
// delivers them from the notifications worker.
type NotificationService struct {
	queue   jobs.Enqueuer
	kv      interfaces.KV
	sender  email.Sender
	breaker *resilience.Breaker
	limiter *resilience.FixedWindow
	logger  *logging.ChanneledLogger
}

func NewNotificationService(queue jobs.Enqueuer, kv interfaces.KV, sender email.Sender, breaker *resilience.Breaker, limiter *resilience.FixedWindow, logger *logging.ChanneledLogger) *NotificationService {
	return &NotificationService{queue: queue, kv: kv, sender: sender, breaker: breaker, limiter: limiter, logger: logger}
}

// Notify enqueues n. A notice without a recipient is skipped; enqueue
// failures are logged and never fail the transition that raised them.
func (s *NotificationService) Notify(ctx context.Context, n jobs.SendNotification) {
	if n.To == "" {
		s.logger.Notify().Debug().Str("kind", string(n.Kind)).Str("roomId", n.RoomID).Msg("Notification has no recipient; skipped")
		return
	}
	if _, err := s.queue.Enqueue(ctx, n); err != nil {
		s.logger.Notify().Warn().Err(err).Str("kind", string(n.Kind)).Str("tenantId", n.TenantID).Msg("Notification enqueue failed")
	}
}

// Deliver sends the notification carried by the job with the given delivery
// key. A key is sent at most once and charged against the tenant's rate limit
// at most once, however often the job is redelivered. Over-limit notices are
// dropped; send failures release the key and come back as errors so the job
// is retried.
func (s *NotificationService) Deliver(ctx context.Context, key string, n jobs.SendNotification) error {
	log := s.logger.Notify().With().Str("tenantId", n.TenantID).Str("kind", string(n.Kind)).Str("key", key).Logger()

	sentKey := caching.NotifySentKey(key)
	claimed, err := s.kv.SetNX(ctx, sentKey, []byte("1"), deliveryMarkTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Notification claim unavailable, sending unguarded")
		claimed = true
	}
	if !claimed {
		log.Debug().Msg("Notification already delivered; skipped")
		return nil
	}

	if !s.allow(ctx, key, n.TenantID) {
		log.Warn().Str("to", n.To).Msg("Notification rate limited; dropped")
		return nil
	}

	err = s.breaker.Do(func() error {
		return s.sender.Send(ctx, email.Message{To: n.To, Subject: n.Subject, Text: n.Text})
	})
	if err != nil {
		if derr := s.kv.Del(ctx, sentKey); derr != nil {
			log.Warn().Err(derr).Msg("Notification claim release failed")
		}
		log.Warn().Err(err).Str("breaker", s.breaker.State()).Msg("Notification delivery failed")
		return err
	}
	log.Info().Str("roomId", n.RoomID).Msg("Notification sent")
	return nil
}

// allow charges the limiter once per key and replays the stored verdict on
// later attempts.
func (s *NotificationService) allow(ctx context.Context, key, tenantID string) bool {
	verdictKey := caching.NotifyVerdictKey(key)
	if v, err := s.kv.Get(ctx, verdictKey); err == nil {
		return string(v) == "1"
	}
	ok := s.limiter.Allow(ctx, notifyScope, tenantID)
	verdict := "0"
	if ok {
		verdict = "1"
	}
	if err := s.kv.Set(ctx, verdictKey, []byte(verdict), deliveryMarkTTL); err != nil {
		s.logger.Notify().Warn().Err(err).Str("key", key).Msg("Rate limit verdict not stored")
	}
	return ok
}
