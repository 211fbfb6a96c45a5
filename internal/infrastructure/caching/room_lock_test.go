package caching

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
)

func TestRoomLockerExcludes(t *testing.T) {
	kv := stores.NewMemoryStore(clock.Real(), nil)
	locker := NewRoomLocker(kv, time.Second, 2*time.Second, nil)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithRoom(ctx, "r1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestRoomLockerTimesOut(t *testing.T) {
	kv := stores.NewMemoryStore(clock.Real(), nil)
	locker := NewRoomLocker(kv, time.Minute, 50*time.Millisecond, nil)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = locker.Lock(ctx, "r1")
	require.ErrorIs(t, err, apperrors.ErrTransient)

	release()
	release2, err := locker.Lock(ctx, "r1")
	require.NoError(t, err)
	release2()
}

func TestRoomLockerStaleReleaseKeepsNewerLock(t *testing.T) {
	clk := clock.Fake(time.Now())
	kv := stores.NewMemoryStore(clk, nil)
	locker := NewRoomLocker(kv, time.Second, 0, nil)
	ctx := context.Background()

	staleRelease, ok, err := locker.TryLock(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(2 * time.Second)
	_, ok, err = locker.TryLock(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	staleRelease()
	_, ok, _ = locker.TryLock(ctx, "r1")
	require.False(t, ok, "stale holder must not free the newer lock")
}
