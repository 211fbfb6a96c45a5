package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, nil), mr
}

func TestRedisStoreValuesAndTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, interfaces.ErrMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, interfaces.ErrMiss)
}

func TestRedisStoreLockPrimitives(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.SetNX(ctx, "lock", []byte("a"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SetNX(ctx, "lock", []byte("b"), time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	deleted, err := store.DelIfValue(ctx, "lock", []byte("b"))
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = store.DelIfValue(ctx, "lock", []byte("a"))
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestRedisStoreSetsAndLists(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.SetAdd(ctx, "idx", time.Minute, "a", "b", "a"))
	members, err := store.SetMembers(ctx, "idx")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, store.SetRemove(ctx, "idx", "a"))
	members, err = store.SetMembers(ctx, "idx")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, store.ListPushTrim(ctx, "log", 2, []byte(v)))
	}
	vals, err := store.ListRange(ctx, "log", 0, -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("3"), []byte("2")}, vals)

	require.NoError(t, store.ListRemove(ctx, "log", []byte("3")))
	vals, err = store.ListRange(ctx, "log", 0, -1)
	require.NoError(t, err)
	require.Len(t, vals, 1)
}

func TestRedisStoreFixedWindow(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	for i := int64(1); i <= 3; i++ {
		n, err := store.IncrWindow(ctx, "rl", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}
	mr.FastForward(61 * time.Second)
	n, err := store.IncrWindow(ctx, "rl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRedisStoreUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, "counter", time.Minute, func(cur []byte, exists bool) ([]byte, error) {
				return append(cur, 'x'), nil
			})
			if err != nil && !errors.Is(err, interfaces.ErrConflict) {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.LessOrEqual(t, len(got), 10)

	abort := errors.New("abort")
	err = store.Update(ctx, "counter", time.Minute, func([]byte, bool) ([]byte, error) { return nil, abort })
	require.ErrorIs(t, err, abort)
}
