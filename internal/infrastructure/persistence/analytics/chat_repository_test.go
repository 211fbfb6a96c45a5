package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database/dbtest"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *SQLChatAnalyticsRepository {
	return NewSQLChatAnalyticsRepository(dbtest.Open(t), logging.NewNopLogger())
}

func message(id string, kind chat.SenderKind, at time.Time) jobs.MessageRecorded {
	return jobs.MessageRecorded{RoomID: "room-1", TenantID: "acme", MessageID: id, SenderKind: kind, CreatedAt: at}
}

func record(t *testing.T, repo *SQLChatAnalyticsRepository, j jobs.MessageRecorded) {
	t.Helper()
	applied, err := repo.RecordMessage(context.Background(), j.IdempotencyKey(), j)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestFirstResponseTimeFromAgentMessage(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	opened := jobs.RoomOpened{RoomID: "room-1", TenantID: "acme", At: t0}
	_, err := repo.Init(ctx, opened.IdempotencyKey(), opened)
	require.NoError(t, err)

	record(t, repo, message("m1", chat.SenderVisitor, t0))
	record(t, repo, message("m2", chat.SenderAgent, t0.Add(5000*time.Millisecond)))
	record(t, repo, message("m3", chat.SenderAgent, t0.Add(9*time.Second)))

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, a.FirstResponseTimeMs)
	require.EqualValues(t, 5000, *a.FirstResponseTimeMs)
	require.Equal(t, 3, a.MessageCount)
	require.Equal(t, 1, a.VisitorMessageCount)
	require.Equal(t, 2, a.AgentMessageCount)
	// only the first agent message answered a pending visitor message
	require.Equal(t, 1, a.ResponseCount)
	require.InDelta(t, 5000, a.AverageResponseTimeMs, 0.001)
	require.Nil(t, a.PendingVisitorMessageAt)
}

func TestFirstResponseTimeFromAgentJoin(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	record(t, repo, message("m1", chat.SenderVisitor, t0))

	join := jobs.ParticipantJoined{RoomID: "room-1", TenantID: "acme", ParticipantID: "room-1:agent:a", Role: chat.RoleAgent, NewParticipant: true, JoinedAt: t0.Add(3 * time.Second)}
	applied, err := repo.RecordJoin(ctx, join.IdempotencyKey(), join)
	require.NoError(t, err)
	require.True(t, applied)

	record(t, repo, message("m2", chat.SenderAgent, t0.Add(8*time.Second)))

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.EqualValues(t, 3000, *a.FirstResponseTimeMs)
	require.Equal(t, 1, a.ParticipantCount)
	require.Equal(t, 1, a.AgentCount)
	require.InDelta(t, 8000, a.AverageResponseTimeMs, 0.001)
}

func TestRunningAverageResponseTime(t *testing.T) {
	repo := newRepo(t)

	record(t, repo, message("v1", chat.SenderVisitor, t0))
	record(t, repo, message("v2", chat.SenderVisitor, t0.Add(time.Second)))
	record(t, repo, message("a1", chat.SenderAgent, t0.Add(2*time.Second)))
	record(t, repo, message("v3", chat.SenderVisitor, t0.Add(10*time.Second)))
	record(t, repo, message("a2", chat.SenderAgent, t0.Add(14*time.Second)))

	a, err := repo.FindByRoom(context.Background(), "room-1")
	require.NoError(t, err)
	require.Equal(t, 2, a.ResponseCount)
	// samples: 2000ms from the oldest unanswered message, then 4000ms
	require.InDelta(t, 3000, a.AverageResponseTimeMs, 0.001)
}

func TestReplayedJobsAreNoops(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	j := message("m1", chat.SenderVisitor, t0)
	record(t, repo, j)

	applied, err := repo.RecordMessage(ctx, j.IdempotencyKey(), j)
	require.NoError(t, err)
	require.False(t, applied)

	join := jobs.ParticipantJoined{RoomID: "room-1", TenantID: "acme", ParticipantID: "room-1:visitor:v", Role: chat.RoleVisitor, NewParticipant: true, JoinedAt: t0}
	for range 3 {
		_, err := repo.RecordJoin(ctx, join.IdempotencyKey(), join)
		require.NoError(t, err)
	}

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 1, a.MessageCount)
	require.Equal(t, 1, a.ParticipantCount)
	require.Zero(t, a.AgentCount)
}

func TestInternalNotesDoNotAnswerVisitors(t *testing.T) {
	repo := newRepo(t)

	record(t, repo, message("v1", chat.SenderVisitor, t0))
	note := message("n1", chat.SenderAgent, t0.Add(time.Second))
	note.Internal = true
	record(t, repo, note)
	record(t, repo, message("s1", chat.SenderSystem, t0.Add(2*time.Second)))

	a, err := repo.FindByRoom(context.Background(), "room-1")
	require.NoError(t, err)
	require.Equal(t, 3, a.MessageCount)
	require.Equal(t, 1, a.InternalMessageCount)
	require.Zero(t, a.AgentMessageCount)
	require.Nil(t, a.FirstResponseTimeMs)
	require.NotNil(t, a.PendingVisitorMessageAt)
}

func TestFinalizeFreezesDurations(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	opened := jobs.RoomOpened{RoomID: "room-1", TenantID: "acme", At: t0}
	_, err := repo.Init(ctx, opened.IdempotencyKey(), opened)
	require.NoError(t, err)
	record(t, repo, message("m1", chat.SenderVisitor, t0.Add(10*time.Second)))
	record(t, repo, message("m2", chat.SenderAgent, t0.Add(70*time.Second)))

	ended := jobs.RoomEnded{RoomID: "room-1", TenantID: "acme", CreatedAt: t0, EndedAt: t0.Add(5 * time.Minute)}
	applied, err := repo.Finalize(ctx, ended.IdempotencyKey(), ended)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = repo.Finalize(ctx, "ended:again", ended)
	require.NoError(t, err)
	require.True(t, applied)

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.True(t, a.Frozen)
	require.EqualValues(t, 300, *a.ChatDurationSeconds)
	require.EqualValues(t, 60, *a.ActiveDurationSeconds)
	require.Equal(t, 2, a.MessageCount)
	require.Nil(t, a.PendingVisitorMessageAt)
	require.True(t, a.CreatedAt.Equal(t0))
}

func TestFinalizeReadsSpanFromMessages(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewSQLChatAnalyticsRepository(db, logging.NewNopLogger())

	for _, m := range []jobs.MessageRecorded{
		message("m1", chat.SenderVisitor, t0),
		message("m2", chat.SenderAgent, t0.Add(time.Minute)),
	} {
		_, err := db.ExecContext(ctx, `INSERT INTO messages (id, room_id, tenant_id, sender_kind, sender_id, body, internal, created_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			m.MessageID, m.RoomID, m.TenantID, string(m.SenderKind), "s", "hi", m.CreatedAt.UnixNano())
		require.NoError(t, err)
	}

	// only the first message's job has run when the room ends
	record(t, repo, message("m1", chat.SenderVisitor, t0))
	ended := jobs.RoomEnded{RoomID: "room-1", TenantID: "acme", CreatedAt: t0, EndedAt: t0.Add(2 * time.Minute)}
	_, err := repo.Finalize(ctx, ended.IdempotencyKey(), ended)
	require.NoError(t, err)

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.EqualValues(t, 60, *a.ActiveDurationSeconds)

	record(t, repo, message("m2", chat.SenderAgent, t0.Add(time.Minute)))

	a, err = repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.True(t, a.Frozen)
	require.Equal(t, 2, a.MessageCount)
	require.Equal(t, 1, a.AgentMessageCount)
	require.EqualValues(t, 60, *a.ActiveDurationSeconds)
	require.EqualValues(t, 120, *a.ChatDurationSeconds)
	require.EqualValues(t, 60000, *a.FirstResponseTimeMs)
	require.Nil(t, a.PendingVisitorMessageAt)
}

func TestLateMessageJobWidensActiveSpan(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	record(t, repo, message("m1", chat.SenderVisitor, t0.Add(10*time.Second)))
	record(t, repo, message("m2", chat.SenderAgent, t0.Add(70*time.Second)))
	ended := jobs.RoomEnded{RoomID: "room-1", TenantID: "acme", CreatedAt: t0, EndedAt: t0.Add(5 * time.Minute)}
	_, err := repo.Finalize(ctx, ended.IdempotencyKey(), ended)
	require.NoError(t, err)

	record(t, repo, message("m3", chat.SenderVisitor, t0.Add(4*time.Minute)))

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 3, a.MessageCount)
	require.Equal(t, 2, a.VisitorMessageCount)
	require.EqualValues(t, 230, *a.ActiveDurationSeconds)
	require.EqualValues(t, 300, *a.ChatDurationSeconds)
	require.Nil(t, a.PendingVisitorMessageAt)
}

func TestResponseTimesIgnoreJobOrder(t *testing.T) {
	conversation := []jobs.MessageRecorded{
		message("v1", chat.SenderVisitor, t0),
		message("v2", chat.SenderVisitor, t0.Add(time.Second)),
		message("a1", chat.SenderAgent, t0.Add(5*time.Second)),
		message("v3", chat.SenderVisitor, t0.Add(10*time.Second)),
		message("a2", chat.SenderAgent, t0.Add(13*time.Second)),
		message("a3", chat.SenderAgent, t0.Add(20*time.Second)),
	}
	orders := [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{2, 0, 4, 1, 5, 3},
		{4, 2, 3, 5, 0, 1},
	}
	for _, order := range orders {
		repo := newRepo(t)
		for _, i := range order {
			record(t, repo, conversation[i])
		}

		a, err := repo.FindByRoom(context.Background(), "room-1")
		require.NoError(t, err)
		require.NotNil(t, a.FirstResponseTimeMs, "order %v", order)
		require.EqualValues(t, 5000, *a.FirstResponseTimeMs, "order %v", order)
		require.Equal(t, 2, a.ResponseCount, "order %v", order)
		// samples: 5000ms for v1 and v2, 3000ms for v3
		require.InDelta(t, 4000, a.AverageResponseTimeMs, 0.001, "order %v", order)
		require.Nil(t, a.PendingVisitorMessageAt, "order %v", order)
		require.True(t, a.FirstVisitorMessageAt.Equal(t0), "order %v", order)
	}
}

func TestAgentReplyAppliedBeforeVisitorMessage(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	record(t, repo, message("a1", chat.SenderAgent, t0.Add(5*time.Second)))
	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Nil(t, a.FirstResponseTimeMs)

	record(t, repo, message("v1", chat.SenderVisitor, t0))
	a, err = repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.EqualValues(t, 5000, *a.FirstResponseTimeMs)
	require.Equal(t, 1, a.ResponseCount)
	require.Nil(t, a.PendingVisitorMessageAt)

	// the next reply has nothing left to answer
	record(t, repo, message("a2", chat.SenderAgent, t0.Add(time.Minute)))
	a, err = repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, 1, a.ResponseCount)
	require.InDelta(t, 5000, a.AverageResponseTimeMs, 0.001)
}

func TestAgentJoinAppliedBeforeVisitorMessage(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	join := jobs.ParticipantJoined{RoomID: "room-1", TenantID: "acme", ParticipantID: "room-1:agent:a", Role: chat.RoleAgent, NewParticipant: true, JoinedAt: t0.Add(3 * time.Second)}
	_, err := repo.RecordJoin(ctx, join.IdempotencyKey(), join)
	require.NoError(t, err)
	record(t, repo, message("v1", chat.SenderVisitor, t0))

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.EqualValues(t, 3000, *a.FirstResponseTimeMs)
	// a join is not a reply
	require.Zero(t, a.ResponseCount)
	require.NotNil(t, a.PendingVisitorMessageAt)
}

func TestInitCorrectsOvertakenCreationTime(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	record(t, repo, message("m1", chat.SenderVisitor, t0.Add(time.Minute)))
	opened := jobs.RoomOpened{RoomID: "room-1", TenantID: "acme", At: t0}
	applied, err := repo.Init(ctx, opened.IdempotencyKey(), opened)
	require.NoError(t, err)
	require.True(t, applied)

	a, err := repo.FindByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.True(t, a.CreatedAt.Equal(t0))
	require.Equal(t, 1, a.MessageCount)
}
