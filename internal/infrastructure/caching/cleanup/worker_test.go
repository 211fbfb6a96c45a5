package cleanup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
)

func TestRunOnceRemovesExpiredKeys(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	store := stores.NewMemoryStore(clk, nil)
	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("y"), time.Hour))
	require.NoError(t, store.SetAdd(ctx, "idx", time.Second, "a"))

	var out bytes.Buffer
	w := NewWorker(store, &Config{CleanupInterval: time.Minute, VerboseReporting: true}, nil)
	w.reporter.out = &out

	clk.Advance(2 * time.Second)
	result := w.RunOnce()
	require.Equal(t, 2, result.Removed)
	require.Equal(t, 1, result.After.Values)
	require.Zero(t, result.After.Sets)
	require.Contains(t, out.String(), "2 expired keys removed")
}

func TestStartStopsOnCancel(t *testing.T) {
	store := stores.NewMemoryStore(clock.Real(), nil)
	w := NewWorker(store, &Config{CleanupInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
