package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func memoryConfig(workers int) config.QueueConfig {
	return config.QueueConfig{Backend: "memory", Concurrency: map[string]int{jobs.QueueAnalytics: workers}}
}

func TestMemoryTransportRoundRobinsShards(t *testing.T) {
	tr := NewMemoryTransport(memoryConfig(3), watermill.NopLogger{})
	defer tr.Close()

	var topics []string
	for range 4 {
		topics = append(topics, tr.PublishTopic(jobs.QueueAnalytics))
	}
	require.Equal(t, []string{
		"livedesk.jobs.analytics.0",
		"livedesk.jobs.analytics.1",
		"livedesk.jobs.analytics.2",
		"livedesk.jobs.analytics.0",
	}, topics)

	// queues without a configured pool use a single shard
	require.Equal(t, "livedesk.jobs.durable.0", tr.PublishTopic(jobs.QueueDurable))
}

func TestEnqueueStampsMetadata(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport(memoryConfig(1), watermill.NopLogger{})
	defer tr.Close()

	messages, err := tr.pubsub.Subscribe(ctx, tr.SubscribeTopic(jobs.QueueAnalytics, 0))
	require.NoError(t, err)

	e := NewEnqueuer(tr, clock.Fake(t0), logging.NewNopLogger())
	job := jobs.RoomOpened{RoomID: "room-1", TenantID: "acme", At: t0}
	id, err := e.Enqueue(ctx, job, jobs.WithDelay(5*time.Second))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case msg := <-messages:
		msg.Ack()
		require.Equal(t, id, msg.UUID)
		require.Equal(t, string(jobs.TypeRoomOpened), msg.Metadata.Get(MetaJobType))
		require.Equal(t, jobs.QueueAnalytics, msg.Metadata.Get(MetaQueue))
		require.True(t, NotBefore(msg).Equal(t0.Add(5*time.Second)))
		require.True(t, EnqueuedAt(msg).Equal(t0))

		decoded, err := jobs.Decode(jobs.TypeRoomOpened, msg.Payload)
		require.NoError(t, err)
		require.Equal(t, "room-1", decoded.(jobs.RoomOpened).RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestEnqueueRejectsInvalidJobs(t *testing.T) {
	tr := NewMemoryTransport(memoryConfig(1), watermill.NopLogger{})
	defer tr.Close()

	e := NewEnqueuer(tr, clock.Fake(t0), logging.NewNopLogger())
	_, err := e.Enqueue(context.Background(), jobs.RoomOpened{TenantID: "acme"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRepublishRejectsCorruptPayload(t *testing.T) {
	tr := NewMemoryTransport(memoryConfig(1), watermill.NopLogger{})
	defer tr.Close()

	e := NewEnqueuer(tr, clock.Fake(t0), logging.NewNopLogger())
	_, err := e.Republish(context.Background(), jobs.QueueAnalytics, jobs.TypeRoomOpened, []byte("{"), "old-id")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = e.Republish(context.Background(), jobs.QueueAnalytics, "nope", []byte("{}"), "old-id")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestNewTransportRejectsUnknownBackend(t *testing.T) {
	_, err := NewTransport(config.QueueConfig{Backend: "kafka"}, nil, watermill.NopLogger{})
	require.Error(t, err)
}
