// Package manager selects and owns the cache backend for the process.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/adapters"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/codec"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Manager owns the backend, the swallow-and-log cache wrapper and the room locker.
type Manager struct {
	backend string
	kv      interfaces.KV
	memory  *stores.MemoryStore
	redis   redis.UniversalClient
	cache   *caching.Cache
	locker  *caching.RoomLocker
	logger  *logging.ChanneledLogger
}

// HealthReport is the cache section of the health endpoint.
type HealthReport struct {
	Backend string        `json:"backend"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
	Stats   *types.Stats  `json:"stats,omitempty"`
}

func NewManager(cfg *config.Config, clk clock.Clock, logger *logging.ChanneledLogger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c, err := codec.New(cfg.Cache.CompressThreshold)
	if err != nil {
		return nil, err
	}

	m := &Manager{backend: cfg.Cache.Backend, logger: logger}
	switch cfg.Cache.Backend {
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		m.redis = client
		m.kv = adapters.NewRedisStore(client, logger)
	case BackendMemory, "":
		m.backend = BackendMemory
		m.memory = stores.NewMemoryStore(clk, logger)
		m.kv = m.memory
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	m.cache = caching.New(m.kv, c, logger)
	m.locker = caching.NewRoomLocker(m.kv, cfg.Rooms.LockTTL, cfg.Rooms.LockWait, logger)

	logger.Cache().Info().
		Str("backend", m.backend).
		Dur("defaultTtl", cfg.Cache.DefaultTTL).
		Int("compressThreshold", cfg.Cache.CompressThreshold).
		Msg("Initializing cache manager")
	return m, nil
}

func (m *Manager) Backend() string              { return m.backend }
func (m *Manager) KV() interfaces.KV            { return m.kv }
func (m *Manager) Cache() *caching.Cache        { return m.cache }
func (m *Manager) Locker() *caching.RoomLocker  { return m.locker }
func (m *Manager) Memory() *stores.MemoryStore  { return m.memory }
func (m *Manager) Redis() redis.UniversalClient { return m.redis }

// Health pings the backend and, for the in-process store, includes its stats.
func (m *Manager) Health(ctx context.Context) HealthReport {
	start := time.Now()
	err := m.kv.Ping(ctx)
	report := HealthReport{Backend: m.backend, Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		report.Error = err.Error()
		m.logger.Cache().Warn().Err(err).Str("backend", m.backend).Msg("Cache health check failed")
	}
	if m.memory != nil {
		st := m.memory.Stats()
		report.Stats = &st
	}
	return report
}

func (m *Manager) Close() error {
	m.logger.Shutdown().Info().Str("backend", m.backend).Msg("Closing cache backend")
	return m.kv.Close()
}
