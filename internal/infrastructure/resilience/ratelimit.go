package resilience

import (
	"context"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// FixedWindow allows up to limit events per tenant and scope in each window.
// The counter expires with the window, so a burst at a window edge can reach
// twice the limit.
type FixedWindow struct {
	kv     interfaces.KV
	limit  int
	window time.Duration
	logger *logging.ChanneledLogger
}

func NewFixedWindow(kv interfaces.KV, limit int, window time.Duration, logger *logging.ChanneledLogger) *FixedWindow {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FixedWindow{kv: kv, limit: limit, window: window, logger: logger}
}

// Allow counts one event and reports whether it is within the limit. When
// the counter cannot be read the event is allowed.
func (l *FixedWindow) Allow(ctx context.Context, scope, tenantID string) bool {
	n, err := l.kv.IncrWindow(ctx, caching.RateLimitKey(scope, tenantID), l.window)
	if err != nil {
		l.logger.Notify().Warn().Err(err).Str("scope", scope).Str("tenantId", tenantID).Msg("Rate limit counter unavailable, allowing")
		return true
	}
	return n <= int64(l.limit)
}
