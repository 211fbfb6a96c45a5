package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	"github.com/AtRiskMedia/livedesk-go/internal/application/workers"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/entities/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs/jobstest"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/codec"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/analytics"
	chatrepo "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database/dbtest"
	visitorrepo "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/resilience"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
	rt "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

const tenant = "t1"

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type outbox struct {
	mu       sync.Mutex
	sent     []email.Message
	failures int
}

var errOutboxDown = errors.New("outbox down")

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failures > 0 {
		o.failures--
		return errOutboxDown
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) To(addr string) []email.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []email.Message
	for _, m := range o.sent {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

// harness wires every service against a migrated sqlite database, the
// in-process cache on a fake clock and a recording queue. pump plays the
// recorded jobs through the real handlers in enqueue order.
type harness struct {
	t     *testing.T
	ctx   context.Context
	cfg   *config.Config
	clock *clock.FakeClock
	store *stores.MemoryStore
	cache *caching.Cache
	queue *jobstest.Recorder
	mail  *outbox

	durable   services.Durable
	stores    *services.Stores
	agents    *services.AgentService
	history   *services.HistoryService
	typing    *services.TypingService
	rooms     *services.RoomService
	messages  *services.MessageService
	sessions  *services.SessionService
	analytics *services.AnalyticsService
	handlers  *workers.Handlers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.NewNopLogger()
	cfg := config.Defaults()
	db := dbtest.Open(t)
	clk := clock.Fake(start)
	store := stores.NewMemoryStore(clk, logger)
	cache := caching.New(store, codec.MustNew(cfg.Cache.CompressThreshold), logger)
	queue := jobstest.NewRecorder()
	mail := &outbox{}

	durable := services.Durable{
		Rooms:          chatrepo.NewSQLRoomRepository(db, logger),
		Participants:   chatrepo.NewSQLParticipantRepository(db, logger),
		Messages:       chatrepo.NewSQLMessageRepository(db, logger),
		History:        chatrepo.NewSQLHistoryRepository(db, logger),
		AgentStatus:    chatrepo.NewSQLAgentStatusRepository(db, logger),
		Departments:    chatrepo.NewSQLDepartmentRepository(db, logger),
		Analytics:      analytics.NewSQLChatAnalyticsRepository(db, logger),
		Sessions:       visitorrepo.NewSQLSessionRepository(db, logger),
		Attributions:   visitorrepo.NewSQLAttributionRepository(db, logger),
		SecurityEvents: visitorrepo.NewSQLSecurityEventRepository(db, logger),
		Interactions:   visitorrepo.NewSQLInteractionRepository(db, logger),
		Engagement:     visitorrepo.NewSQLEngagementRepository(db, logger),
	}
	hasher, err := security.NewIPHasher("test-key")
	require.NoError(t, err)

	st := services.NewStores(durable, cache, queue, cfg, logger)
	locker := caching.NewRoomLocker(store, cfg.Rooms.LockTTL, cfg.Rooms.LockWait, logger)
	agents := services.NewAgentService(cache, durable.AgentStatus, queue, clk, cfg.Cache.TTLFor("agent_status"), cfg.Rooms.DefaultMaxChats, logger)
	history := services.NewHistoryService(st.History, durable.History, cache, cfg.Cache.TTLFor(services.FamilyHistory), logger)
	typing := services.NewTypingService(st, cache, clk, cfg.Rooms.TypingTTL)
	notify := services.NewNotificationService(queue, store, mail,
		resilience.NewBreaker("email", cfg.Notify.BreakerThreshold, cfg.Notify.BreakerCooldown, logger),
		resilience.NewFixedWindow(store, cfg.Notify.RateLimit, cfg.Notify.RateWindow, logger),
		logger)
	an := services.NewAnalyticsService(durable.Analytics, durable.Engagement, cache, cfg.Cache.TTLFor("analytics"), logger)

	return &harness{
		t:         t,
		ctx:       context.Background(),
		cfg:       cfg,
		clock:     clk,
		store:     store,
		cache:     cache,
		queue:     queue,
		mail:      mail,
		durable:   durable,
		stores:    st,
		agents:    agents,
		history:   history,
		typing:    typing,
		rooms:     services.NewRoomService(st, agents, history, typing, notify, durable.Departments, locker, cache, queue, clk, cfg, logger),
		messages:  services.NewMessageService(st, typing, locker, clk, logger),
		sessions:  services.NewSessionService(st, hasher, clk, logger),
		analytics: an,
		handlers:  workers.NewHandlers(durable, st, an, notify, logger),
	}
}

// pump drains the queue until it is empty and returns the deliveries it ran.
func (h *harness) pump() []rt.Delivery {
	h.t.Helper()
	var ran []rt.Delivery
	for {
		batch := h.queue.Drain()
		if len(batch) == 0 {
			return ran
		}
		for _, e := range batch {
			ran = append(ran, h.deliver(e))
		}
	}
}

// deliver runs one recorded job through the handlers.
func (h *harness) deliver(e jobstest.Enqueued) rt.Delivery {
	h.t.Helper()
	d := rt.Delivery{ID: e.ID, Queue: e.Job.Queue(), Key: e.ID, Job: e.Job}
	if k, ok := e.Job.(jobs.Keyed); ok {
		d.Key = k.IdempotencyKey()
	}
	require.NoError(h.t, h.handlers.Handle(h.ctx, d), "job %s (%s)", e.ID, e.Job.JobType())
	return d
}

func (h *harness) advance(d time.Duration) { h.clock.Advance(d) }

func (h *harness) online(agentID string, max int) {
	h.t.Helper()
	_, err := h.agents.SetCapacity(h.ctx, tenant, agentID, max)
	require.NoError(h.t, err)
	_, err = h.agents.SetPresence(h.ctx, tenant, agentID, chat.PresenceOnline)
	require.NoError(h.t, err)
}

func (h *harness) session() visitor.Session {
	h.t.Helper()
	s, err := h.sessions.StartSession(h.ctx, services.StartSessionInput{TenantID: tenant, IP: "203.0.113.7"})
	require.NoError(h.t, err)
	return s
}

func (h *harness) openRoom(email string) services.RoomView {
	h.t.Helper()
	s := h.session()
	view, err := h.rooms.OpenRoom(h.ctx, services.OpenRoomInput{
		TenantID:         tenant,
		VisitorSessionID: s.ID,
		Profile:          chat.Profile{Name: "Visitor", Email: email},
	})
	require.NoError(h.t, err)
	return view
}

func (h *harness) join(roomID, agentID string) services.RoomView {
	h.t.Helper()
	view, err := h.rooms.JoinAgent(h.ctx, roomID, agentID, chat.Profile{Name: agentID})
	require.NoError(h.t, err)
	return view
}

func (h *harness) say(roomID string, kind chat.SenderKind, senderID, body string) chat.Message {
	h.t.Helper()
	m, err := h.messages.Send(h.ctx, services.SendMessageInput{RoomID: roomID, SenderKind: kind, SenderID: senderID, Body: body})
	require.NoError(h.t, err)
	return m
}

func (h *harness) status(agentID string) chat.AgentStatus {
	h.t.Helper()
	st, err := h.agents.Status(h.ctx, agentID)
	require.NoError(h.t, err)
	return st
}

func historyFor(entries []chat.HistoryEntry, participantID string) []chat.HistoryEntry {
	var out []chat.HistoryEntry
	for _, e := range entries {
		if e.ParticipantID == participantID {
			out = append(out, e)
		}
	}
	return out
}

func agentPID(roomID, agentID string) string {
	return chat.ParticipantID(roomID, chat.AgentMember{AgentID: agentID})
}
