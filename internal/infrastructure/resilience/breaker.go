// Package resilience guards outbound side effects with a circuit breaker and
// a per-tenant fixed-window rate limit.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// Breaker opens after threshold consecutive failures and stays open for
// cooldown. Calls made while open fail fast with a retryable CircuitOpen.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *logging.ChanneledLogger
}

func NewBreaker(name string, threshold int, cooldown time.Duration, logger *logging.ChanneledLogger) *Breaker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	b := &Breaker{logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		// a rejected request means the provider is up
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := logger.Notify().Info()
			if to == gobreaker.StateOpen {
				event = logger.Notify().Warn()
			}
			event.Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return b
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Transient(apperrors.ErrCircuitOpen)
	}
	return err
}

// State is "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }
