// Package container provides dependency injection for all singleton services
package container

import (
	"context"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/application/services"
	appworkers "github.com/AtRiskMedia/livedesk-go/internal/application/workers"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/analytics"
	chatrepo "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/chat"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/database"
	visitorrepo "github.com/AtRiskMedia/livedesk-go/internal/infrastructure/persistence/visitor"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/queue"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/resilience"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	Config *config.Config
	Logger *logging.ChanneledLogger
	Clock  clock.Clock

	// Infrastructure
	DB        *database.DB
	Cache     *manager.Manager
	Transport queue.Transport
	Queue     *queue.Enqueuer
	Runtime   *workers.Runtime
	// Cleanup is nil unless the in-process cache backend is selected
	Cleanup *cleanup.Worker
	Events  *messaging.RoomBroadcaster

	// Repositories and cache-first families
	Durable services.Durable
	Stores  *services.Stores

	// Application services
	AgentService        *services.AgentService
	HistoryService      *services.HistoryService
	TypingService       *services.TypingService
	RoomService         *services.RoomService
	MessageService      *services.MessageService
	SessionService      *services.SessionService
	AnalyticsService    *services.AnalyticsService
	DepartmentService   *services.DepartmentService
	NotificationService *services.NotificationService

	// Job handlers bound to the runtime
	Handlers *appworkers.Handlers
}

// NewContainer opens every backend named in cfg and wires the services on
// top of them. The database schema is not migrated here.
func NewContainer(cfg *config.Config, logger *logging.ChanneledLogger) (*Container, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	clk := clock.Real()
	c := &Container{Config: cfg, Logger: logger, Clock: clk, Events: messaging.NewRoomBroadcaster(logger)}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	c.DB = db

	cacheManager, err := manager.NewManager(cfg, clk, logger)
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "create cache manager")
	}
	c.Cache = cacheManager
	if mem := cacheManager.Memory(); mem != nil {
		c.Cleanup = cleanup.NewWorker(mem, cleanup.NewConfig(cfg), logger)
	}

	transport, err := queue.NewTransport(cfg.Queue, cacheManager.Redis(), logging.NewWatermillAdapter(logger.Queue()))
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "create queue transport")
	}
	c.Transport = transport
	c.Queue = queue.NewEnqueuer(transport, clk, logger)

	jobLog := workers.NewJobLog(cacheManager.KV(), cacheManager.Cache().Codec(), cfg.Queue.CompletedRetention, cfg.Queue.FailedRetention)
	runtime, err := workers.NewRuntime(cfg.Queue, transport, jobLog, c.Queue, clk, logger)
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "create worker runtime")
	}
	c.Runtime = runtime

	hasher, err := security.NewIPHasher(cfg.Security.IPHashKey)
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "create ip hasher")
	}

	c.Durable = services.Durable{
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

	cache := cacheManager.Cache()
	c.Stores = services.NewStores(c.Durable, cache, c.Queue, cfg, logger)
	c.AgentService = services.NewAgentService(cache, c.Durable.AgentStatus, c.Queue, clk, cfg.Cache.TTLFor("agent_status"), cfg.Rooms.DefaultMaxChats, logger)
	c.HistoryService = services.NewHistoryService(c.Stores.History, c.Durable.History, cache, cfg.Cache.TTLFor(services.FamilyHistory), logger)
	c.TypingService = services.NewTypingService(c.Stores, cache, clk, cfg.Rooms.TypingTTL)
	c.NotificationService = services.NewNotificationService(c.Queue, cacheManager.KV(), newSender(cfg, logger),
		resilience.NewBreaker("email", cfg.Notify.BreakerThreshold, cfg.Notify.BreakerCooldown, logger),
		resilience.NewFixedWindow(cacheManager.KV(), cfg.Notify.RateLimit, cfg.Notify.RateWindow, logger),
		logger)
	c.RoomService = services.NewRoomService(c.Stores, c.AgentService, c.HistoryService, c.TypingService, c.NotificationService,
		c.Durable.Departments, cacheManager.Locker(), cache, c.Queue, clk, cfg, logger)
	c.MessageService = services.NewMessageService(c.Stores, c.TypingService, cacheManager.Locker(), clk, logger)
	c.SessionService = services.NewSessionService(c.Stores, hasher, clk, logger)
	c.AnalyticsService = services.NewAnalyticsService(c.Durable.Analytics, c.Durable.Engagement, cache, cfg.Cache.TTLFor("analytics"), logger)
	c.DepartmentService = services.NewDepartmentService(c.Durable.Departments, clk)

	c.Handlers = appworkers.NewHandlers(c.Durable, c.Stores, c.AnalyticsService, c.NotificationService, logger)
	c.Handlers.Register(runtime)

	health := runtime.Health()
	health.AddProbe("database", db.HealthCheck)
	health.AddProbe("cache", cacheManager.KV().Ping)

	return c, nil
}

// newSender falls back to a no-op sender when no Resend key is configured.
func newSender(cfg *config.Config, logger *logging.ChanneledLogger) email.Sender {
	client, err := email.NewResendClient(cfg.Notify)
	if err != nil {
		logger.Notify().Warn().Err(err).Msg("Email notifications disabled")
		return email.Disabled{}
	}
	return client
}

// HealthReport is served by the health endpoint.
type HealthReport struct {
	Healthy  bool                   `json:"healthy"`
	Database string                 `json:"database"`
	Cache    manager.HealthReport   `json:"cache"`
	Workers  []workers.WorkerHealth `json:"workers"`
}

// Health probes the database and cache and snapshots worker health.
func (c *Container) Health(ctx context.Context) HealthReport {
	report := HealthReport{Healthy: true, Database: "ok"}
	if err := c.DB.HealthCheck(ctx); err != nil {
		report.Healthy = false
		report.Database = err.Error()
	}
	report.Cache = c.Cache.Health(ctx)
	if !report.Cache.Healthy {
		report.Healthy = false
	}
	report.Workers = c.Runtime.Health().Snapshot()
	if !c.Runtime.Health().Healthy() {
		report.Healthy = false
	}
	return report
}

// Close releases every backend in reverse order of creation.
func (c *Container) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if c.Transport != nil {
		keep(c.Transport.Close())
	}
	if c.Cache != nil {
		keep(c.Cache.Close())
	}
	if c.DB != nil {
		keep(c.DB.Close())
	}
	return first
}
