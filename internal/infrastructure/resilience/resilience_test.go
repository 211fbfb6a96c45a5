package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
)

var errDown = errors.New("provider down")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("email", 3, 50*time.Millisecond, nil)
	calls := 0
	failing := func() error {
		calls++
		return errDown
	}

	for range 3 {
		require.ErrorIs(t, b.Do(failing), errDown)
	}
	require.Equal(t, "open", b.State())

	err := b.Do(failing)
	require.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	require.True(t, apperrors.IsRetryable(err))
	require.Equal(t, 3, calls)

	// after the cooldown a single probe closes it again
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }))
	require.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresRejections(t *testing.T) {
	b := NewBreaker("email", 2, time.Minute, nil)
	for range 5 {
		err := b.Do(func() error { return apperrors.Validation("bad recipient") })
		require.ErrorIs(t, err, apperrors.ErrValidation)
	}
	require.Equal(t, "closed", b.State())
}

func TestFixedWindowPerTenant(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewFixedWindow(stores.NewMemoryStore(clk, nil), 10, time.Minute, nil)

	for i := range 10 {
		require.True(t, l.Allow(ctx, "notify", "acme"), "event %d", i)
	}
	require.False(t, l.Allow(ctx, "notify", "acme"))
	require.True(t, l.Allow(ctx, "notify", "globex"))

	clk.Advance(time.Minute)
	require.True(t, l.Allow(ctx, "notify", "acme"))
}

func TestFixedWindowFailsOpen(t *testing.T) {
	store := stores.NewMemoryStore(clock.Real(), nil)
	require.NoError(t, store.Close())
	l := NewFixedWindow(store, 1, time.Minute, nil)
	require.True(t, l.Allow(context.Background(), "notify", "acme"))
	require.True(t, l.Allow(context.Background(), "notify", "acme"))
}
