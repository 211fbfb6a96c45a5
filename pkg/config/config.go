// Package config builds the LiveDesk runtime configuration. A Config is
// constructed once at process start and passed by reference; nothing in this
// package holds mutable global state.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Queue    QueueConfig    `yaml:"queue"`
	Rooms    RoomConfig     `yaml:"rooms"`
	Notify   NotifyConfig   `yaml:"notify"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" for a local file or "libsql" for a Turso database
	Driver             string        `yaml:"driver"`
	Path               string        `yaml:"path"`
	TursoURL           string        `yaml:"tursoUrl"`
	TursoToken         string        `yaml:"tursoToken"`
	MaxOpenConns       int           `yaml:"maxOpenConns"`
	MaxIdleConns       int           `yaml:"maxIdleConns"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
	SlowQueryThreshold time.Duration `yaml:"slowQueryThreshold"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend           string                   `yaml:"backend"`
	RedisAddr         string                   `yaml:"redisAddr"`
	RedisPassword     string                   `yaml:"redisPassword"`
	RedisDB           int                      `yaml:"redisDb"`
	DefaultTTL        time.Duration            `yaml:"defaultTtl"`
	FamilyTTL         map[string]time.Duration `yaml:"familyTtl"`
	CompressThreshold int                      `yaml:"compressThreshold"`
	CleanupInterval   time.Duration            `yaml:"cleanupInterval"`
	CleanupVerbose    bool                     `yaml:"cleanupVerbose"`
}

// TTLFor returns the TTL configured for an entity family, falling back to DefaultTTL.
func (c CacheConfig) TTLFor(family string) time.Duration {
	if ttl, ok := c.FamilyTTL[family]; ok && ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}

type QueueConfig struct {
	// Backend is "memory" or "redis"
	Backend            string         `yaml:"backend"`
	RedisAddr          string         `yaml:"redisAddr"`
	ConsumerGroup      string         `yaml:"consumerGroup"`
	MaxAttempts        int            `yaml:"maxAttempts"`
	BackoffBase        time.Duration  `yaml:"backoffBase"`
	BackoffMax         time.Duration  `yaml:"backoffMax"`
	Concurrency        map[string]int `yaml:"concurrency"`
	CompletedRetention int            `yaml:"completedRetention"`
	FailedRetention    int            `yaml:"failedRetention"`
	ClaimInterval      time.Duration  `yaml:"claimInterval"`
	MaxIdleTime        time.Duration  `yaml:"maxIdleTime"`
	PersistDelay       time.Duration  `yaml:"persistDelay"`
	AnalyticsDelay     time.Duration  `yaml:"analyticsDelay"`
	HealthCritical     time.Duration  `yaml:"healthCritical"`
	HealthNormal       time.Duration  `yaml:"healthNormal"`
	HealthBackground   time.Duration  `yaml:"healthBackground"`
}

// ConcurrencyFor returns the configured worker count for a queue, at least 1.
func (q QueueConfig) ConcurrencyFor(queue string) int {
	if n, ok := q.Concurrency[queue]; ok && n > 0 {
		return n
	}
	return 1
}

type RoomConfig struct {
	TypingTTL       time.Duration `yaml:"typingTtl"`
	LockTTL         time.Duration `yaml:"lockTtl"`
	LockWait        time.Duration `yaml:"lockWait"`
	TransferTTL     time.Duration `yaml:"transferTtl"`
	InvitationTTL   time.Duration `yaml:"invitationTtl"`
	DefaultMaxChats int           `yaml:"defaultMaxChats"`
}

type NotifyConfig struct {
	ResendAPIKey     string        `yaml:"resendApiKey"`
	FromAddress      string        `yaml:"fromAddress"`
	RateLimit        int           `yaml:"rateLimit"`
	RateWindow       time.Duration `yaml:"rateWindow"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
}

type SecurityConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	IPHashKey string `yaml:"ipHashKey"`
}

type LoggingConfig struct {
	Level         string            `yaml:"level"`
	ChannelLevels map[string]string `yaml:"channelLevels"`
	JSON          bool              `yaml:"json"`
	ToFile        bool              `yaml:"toFile"`
	Directory     string            `yaml:"directory"`
	RecentEntries int               `yaml:"recentEntries"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:             "sqlite3",
			Path:               "livedesk.db",
			MaxOpenConns:       10,
			MaxIdleConns:       3,
			ConnMaxLifetime:    30 * time.Minute,
			ConnMaxIdleTime:    3 * time.Minute,
			SlowQueryThreshold: 100 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend:           "memory",
			RedisAddr:         "localhost:6379",
			DefaultTTL:        7200 * time.Second,
			FamilyTTL:         map[string]time.Duration{},
			CompressThreshold: 4096,
			CleanupInterval:   5 * time.Minute,
		},
		Queue: QueueConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			ConsumerGroup: "livedesk",
			MaxAttempts:   3,
			BackoffBase:   2 * time.Second,
			BackoffMax:    30 * time.Second,
			Concurrency: map[string]int{
				"durable":       3,
				"analytics":     2,
				"notifications": 5,
			},
			CompletedRetention: 100,
			FailedRetention:    500,
			ClaimInterval:      30 * time.Second,
			MaxIdleTime:        60 * time.Second,
			PersistDelay:       1 * time.Second,
			AnalyticsDelay:     5 * time.Second,
			HealthCritical:     60 * time.Second,
			HealthNormal:       300 * time.Second,
			HealthBackground:   900 * time.Second,
		},
		Rooms: RoomConfig{
			TypingTTL:       5 * time.Second,
			LockTTL:         10 * time.Second,
			LockWait:        5 * time.Second,
			TransferTTL:     2 * time.Minute,
			InvitationTTL:   5 * time.Minute,
			DefaultMaxChats: 3,
		},
		Notify: NotifyConfig{
			FromAddress:      "LiveDesk <noreply@livedesk.local>",
			RateLimit:        10,
			RateWindow:       time.Minute,
			BreakerThreshold: 3,
			BreakerCooldown:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:         "info",
			ChannelLevels: map[string]string{},
			JSON:          true,
			Directory:     "logs",
			RecentEntries: 500,
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at path
// (or $LIVEDESK_CONFIG), then .env, then the process environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("LIVEDESK_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Printf("Loaded configuration file %s", path)
	}

	loadEnvFile(".env")
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	// Server Configuration
	c.Server.Port = getEnvString("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.CORSOrigins = getEnvList("CORS_ORIGINS", c.Server.CORSOrigins)

	// Database
	c.Database.Driver = getEnvString("DB_DRIVER", c.Database.Driver)
	c.Database.Path = getEnvString("DB_PATH", c.Database.Path)
	c.Database.TursoURL = getEnvString("TURSO_DATABASE_URL", c.Database.TursoURL)
	c.Database.TursoToken = getEnvString("TURSO_AUTH_TOKEN", c.Database.TursoToken)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnMaxIdleTime = getEnvDuration("DB_CONN_MAX_IDLE_TIME", c.Database.ConnMaxIdleTime)
	c.Database.SlowQueryThreshold = getEnvDuration("DB_SLOW_QUERY_THRESHOLD", c.Database.SlowQueryThreshold)

	// Cache
	c.Cache.Backend = getEnvString("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisAddr = getEnvString("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnvString("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("REDIS_DB", c.Cache.RedisDB)
	c.Cache.DefaultTTL = getEnvDuration("CACHE_DEFAULT_TTL", c.Cache.DefaultTTL)
	c.Cache.CompressThreshold = getEnvInt("CACHE_COMPRESS_THRESHOLD", c.Cache.CompressThreshold)
	c.Cache.CleanupInterval = getEnvDuration("CACHE_CLEANUP_INTERVAL", c.Cache.CleanupInterval)
	c.Cache.CleanupVerbose = getEnvBool("CACHE_CLEANUP_VERBOSE", c.Cache.CleanupVerbose)

	// Queue
	c.Queue.Backend = getEnvString("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.RedisAddr = getEnvString("QUEUE_REDIS_ADDR", c.Queue.RedisAddr)
	c.Queue.ConsumerGroup = getEnvString("QUEUE_CONSUMER_GROUP", c.Queue.ConsumerGroup)
	c.Queue.MaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.BackoffBase = getEnvDuration("JOB_BACKOFF_BASE", c.Queue.BackoffBase)
	c.Queue.BackoffMax = getEnvDuration("JOB_BACKOFF_MAX", c.Queue.BackoffMax)
	if c.Queue.Concurrency == nil {
		c.Queue.Concurrency = map[string]int{}
	}
	for _, queue := range []string{"durable", "analytics", "notifications"} {
		key := "QUEUE_" + strings.ToUpper(queue) + "_CONCURRENCY"
		c.Queue.Concurrency[queue] = getEnvInt(key, c.Queue.ConcurrencyFor(queue))
	}
	c.Queue.CompletedRetention = getEnvInt("JOB_COMPLETED_RETENTION", c.Queue.CompletedRetention)
	c.Queue.FailedRetention = getEnvInt("JOB_FAILED_RETENTION", c.Queue.FailedRetention)
	c.Queue.PersistDelay = getEnvDuration("JOB_PERSIST_DELAY", c.Queue.PersistDelay)
	c.Queue.AnalyticsDelay = getEnvDuration("JOB_ANALYTICS_DELAY", c.Queue.AnalyticsDelay)

	// Rooms
	c.Rooms.TypingTTL = getEnvDuration("TYPING_TTL", c.Rooms.TypingTTL)
	c.Rooms.LockTTL = getEnvDuration("ROOM_LOCK_TTL", c.Rooms.LockTTL)
	c.Rooms.LockWait = getEnvDuration("ROOM_LOCK_WAIT", c.Rooms.LockWait)
	c.Rooms.DefaultMaxChats = getEnvInt("AGENT_DEFAULT_MAX_CHATS", c.Rooms.DefaultMaxChats)

	// Notifications
	c.Notify.ResendAPIKey = getEnvString("RESEND_API_KEY", c.Notify.ResendAPIKey)
	c.Notify.FromAddress = getEnvString("NOTIFY_FROM_ADDRESS", c.Notify.FromAddress)
	c.Notify.RateLimit = getEnvInt("NOTIFY_RATE_LIMIT", c.Notify.RateLimit)
	c.Notify.RateWindow = getEnvDuration("NOTIFY_RATE_WINDOW", c.Notify.RateWindow)
	c.Notify.BreakerThreshold = getEnvInt("NOTIFY_BREAKER_THRESHOLD", c.Notify.BreakerThreshold)
	c.Notify.BreakerCooldown = getEnvDuration("NOTIFY_BREAKER_COOLDOWN", c.Notify.BreakerCooldown)

	// Security
	c.Security.JWTSecret = getEnvString("JWT_SECRET", c.Security.JWTSecret)
	c.Security.IPHashKey = getEnvString("IP_HASH_KEY", c.Security.IPHashKey)

	// Logging
	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.JSON = getEnvBool("LOG_JSON", c.Logging.JSON)
	c.Logging.ToFile = getEnvBool("LOG_TO_FILE", c.Logging.ToFile)
	c.Logging.Directory = getEnvString("LOG_DIRECTORY", c.Logging.Directory)
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	case "libsql":
		if c.Database.TursoURL == "" {
			return fmt.Errorf("TURSO_DATABASE_URL is required for libsql")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	if c.Queue.Backend != "memory" && c.Queue.Backend != "redis" {
		return fmt.Errorf("unsupported queue backend %q", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("job max attempts must be at least 1")
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default TTL must be positive")
	}
	if c.Notify.RateLimit < 1 || c.Notify.RateWindow <= 0 {
		return fmt.Errorf("notification rate limit and window must be positive")
	}
	if c.Notify.BreakerThreshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1")
	}
	if c.Rooms.DefaultMaxChats < 1 {
		return fmt.Errorf("agent default max chats must be at least 1")
	}
	return nil
}
