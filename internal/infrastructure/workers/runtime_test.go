package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/codec"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/queue"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

type harness struct {
	rt       *Runtime
	enqueuer *queue.Enqueuer
	log      *JobLog
}

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		Backend:     "memory",
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		Concurrency: map[string]int{
			jobs.QueueDurable:       2,
			jobs.QueueAnalytics:     2,
			jobs.QueueNotifications: 1,
		},
		CompletedRetention: 10,
		FailedRetention:    10,
	}
}

// start registers handlers, runs the runtime and waits until every worker subscribed.
func start(t *testing.T, register func(rt *Runtime)) *harness {
	t.Helper()
	cfg := testConfig()
	logger := logging.NewNopLogger()
	transport := queue.NewMemoryTransport(cfg, watermill.NopLogger{})
	enqueuer := queue.NewEnqueuer(transport, clock.Real(), logger)
	log := NewJobLog(stores.NewMemoryStore(clock.Real(), nil), codec.MustNew(0), cfg.CompletedRetention, cfg.FailedRetention)

	rt, err := NewRuntime(cfg, transport, log, enqueuer, clock.Real(), logger)
	require.NoError(t, err)
	register(rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = rt.Close()
		<-done
		_ = transport.Close()
	})

	select {
	case <-rt.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not start")
	}
	return &harness{rt: rt, enqueuer: enqueuer, log: log}
}

func opened(room string) jobs.RoomOpened {
	return jobs.RoomOpened{RoomID: room, TenantID: "acme", At: time.Now()}
}

func TestDispatchByTypeAndRecordCompletion(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	h := start(t, func(rt *Runtime) {
		rt.Handle(jobs.TypeRoomOpened, func(_ context.Context, d Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			seen[d.Job.(jobs.RoomOpened).RoomID] = d.Key
			return nil
		})
	})

	ctx := context.Background()
	for _, room := range []string{"r1", "r2", "r3"} {
		_, err := h.enqueuer.Enqueue(ctx, opened(room))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		recs, err := h.log.ListCompleted(ctx, jobs.QueueAnalytics, 0)
		return err == nil && len(recs) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "opened:r2", seen["r2"])
	require.Len(t, seen, 3)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	h := start(t, func(rt *Runtime) {
		rt.Handle(jobs.TypeRoomOpened, func(context.Context, Delivery) error {
			if calls.Add(1) == 1 {
				return apperrors.Transient(errors.New("database is locked"))
			}
			return nil
		})
	})

	ctx := context.Background()
	_, err := h.enqueuer.Enqueue(ctx, opened("r1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := h.log.ListCompleted(ctx, jobs.QueueAnalytics, 0)
		return err == nil && len(recs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	recs, err := h.log.ListCompleted(ctx, jobs.QueueAnalytics, 0)
	require.NoError(t, err)
	require.Equal(t, 2, recs[0].Attempts)
	require.Nil(t, recs[0].Payload)
}

func TestExhaustedRetriesLandInFailedLog(t *testing.T) {
	var calls atomic.Int32
	h := start(t, func(rt *Runtime) {
		rt.Handle(jobs.TypeRoomOpened, func(context.Context, Delivery) error {
			calls.Add(1)
			panic("boom")
		})
	})

	ctx := context.Background()
	id, err := h.enqueuer.Enqueue(ctx, opened("r1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := h.rt.Failed(ctx, 0)
		return err == nil && len(recs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	recs, err := h.rt.Failed(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, id, recs[0].ID)
	require.Equal(t, 3, recs[0].Attempts)
	require.Equal(t, string(jobs.TypeRoomOpened), recs[0].Type)
	require.NotEmpty(t, recs[0].Payload)
	require.EqualValues(t, 3, calls.Load())
}

func TestPermanentFailureSkipsRetryAndReplays(t *testing.T) {
	var calls atomic.Int32
	var keys sync.Map
	h := start(t, func(rt *Runtime) {
		rt.Handle(jobs.TypeSendNotification, func(_ context.Context, d Delivery) error {
			keys.Store(d.ID, d.Key)
			if calls.Add(1) == 1 {
				return apperrors.Permanent(errors.New("recipient rejected"))
			}
			return nil
		})
	})

	ctx := context.Background()
	job := jobs.SendNotification{TenantID: "acme", Kind: jobs.NotifyRoomEnded, To: "a@example.com", Subject: "Chat ended"}
	id, err := h.enqueuer.Enqueue(ctx, job)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := h.rt.Failed(ctx, 0)
		return err == nil && len(recs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	recs, err := h.rt.Failed(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, recs[0].Attempts)

	newID, err := h.rt.Replay(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, id, newID)

	require.Eventually(t, func() bool {
		recs, err := h.log.ListCompleted(ctx, jobs.QueueNotifications, 0)
		return err == nil && len(recs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	failed, err := h.rt.Failed(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, failed)

	completed, err := h.log.ListCompleted(ctx, jobs.QueueNotifications, 0)
	require.NoError(t, err)
	require.Equal(t, id, completed[0].ReplayOf)

	// the replay is handled under the original delivery id
	key, ok := keys.Load(newID)
	require.True(t, ok)
	require.Equal(t, id, key)

	_, err = h.rt.Replay(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUnknownJobTypeFailsPermanently(t *testing.T) {
	h := start(t, func(*Runtime) {})

	ctx := context.Background()
	_, err := h.enqueuer.Enqueue(ctx, opened("r1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := h.rt.Failed(ctx, 0)
		return err == nil && len(recs) == 1 && recs[0].Attempts == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDelayedJobsWaitForNotBefore(t *testing.T) {
	var ranAt atomic.Int64
	h := start(t, func(rt *Runtime) {
		rt.Handle(jobs.TypeRoomOpened, func(context.Context, Delivery) error {
			ranAt.Store(time.Now().UnixNano())
			return nil
		})
	})

	enqueuedAt := time.Now()
	_, err := h.enqueuer.Enqueue(context.Background(), opened("r1"), jobs.WithDelay(150*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ranAt.Load() != 0 }, 5*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, time.Unix(0, ranAt.Load()).Sub(enqueuedAt), 150*time.Millisecond)
}

func TestHealthTiers(t *testing.T) {
	health := newHealth(testConfig(), clock.Real(), logging.NewNopLogger())
	for _, q := range jobs.Queues {
		health.register(q+"-0", TierFor(q))
	}

	var down atomic.Bool
	health.AddProbe("database", func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	})

	require.Equal(t, time.Minute, health.Interval(TierCritical))
	require.Equal(t, 15*time.Minute, health.Interval(TierBackground))

	down.Store(true)
	health.CheckTier(context.Background(), TierCritical)
	require.False(t, health.Healthy())

	for _, w := range health.Snapshot() {
		if w.Tier == TierCritical {
			require.Equal(t, "durable-0", w.Name)
			require.False(t, w.Healthy)
			require.Contains(t, w.Error, "database")
		} else {
			require.True(t, w.Healthy)
		}
	}

	down.Store(false)
	health.CheckTier(context.Background(), TierCritical)
	require.True(t, health.Healthy())
	require.Len(t, health.Snapshot(), 3)
}
