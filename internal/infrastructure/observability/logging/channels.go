// Package logging provides structured logging channels for LiveDesk operations
// with multi-tenant and per-room context.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Channel represents a logical logging channel for different system components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"   // General system operations
	ChannelStartup  Channel = "startup"  // Application startup and initialization
	ChannelShutdown Channel = "shutdown" // Application shutdown and cleanup

	// Business logic channels
	ChannelRoom      Channel = "room"      // Room and participant transitions
	ChannelAnalytics Channel = "analytics" // Analytics aggregation
	ChannelNotify    Channel = "notify"    // Outbound notifications
	ChannelAuth      Channel = "auth"      // Agent authentication

	// Infrastructure channels
	ChannelCache    Channel = "cache"    // Cache operations and management
	ChannelDatabase Channel = "database" // Database operations and queries
	ChannelQueue    Channel = "queue"    // Job enqueue and transport
	ChannelWorker   Channel = "worker"   // Job execution
	ChannelHTTP     Channel = "http"     // Ops API

	// Performance channels
	ChannelSlowQuery Channel = "slow-query" // Slow database queries
)

var allChannels = []Channel{
	ChannelSystem, ChannelStartup, ChannelShutdown,
	ChannelRoom, ChannelAnalytics, ChannelNotify, ChannelAuth,
	ChannelCache, ChannelDatabase, ChannelQueue, ChannelWorker, ChannelHTTP,
	ChannelSlowQuery,
}

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*zerolog.Logger
	config   *LoggerConfig
	files    []*os.File
	recent   *RecentBuffer
	configMu sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool   `yaml:"outputToFile"`
	OutputToConsole bool   `yaml:"outputToConsole"`
	LogDirectory    string `yaml:"logDirectory"`
	JSONFormat      bool   `yaml:"jsonFormat"`
	IncludeSource   bool   `yaml:"includeSource"`

	DefaultLevel  zerolog.Level             `yaml:"-"`
	ChannelLevels map[Channel]zerolog.Level `yaml:"-"`

	// RecentEntries bounds the in-memory buffer of warnings and errors served by the ops API
	RecentEntries int `yaml:"recentEntries"`
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   false,
		DefaultLevel:    zerolog.InfoLevel,
		ChannelLevels:   make(map[Channel]zerolog.Level),
		RecentEntries:   500,
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.ChannelLevels == nil {
		config.ChannelLevels = make(map[Channel]zerolog.Level)
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*zerolog.Logger),
		config:   config,
		recent:   NewRecentBuffer(config.RecentEntries),
	}

	if config.OutputToFile {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	for _, channel := range allChannels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// NewNopLogger returns a logger whose channels discard everything. Used by tests and tools.
func NewNopLogger() *ChanneledLogger {
	cl := &ChanneledLogger{
		channels: make(map[Channel]*zerolog.Logger),
		config:   DefaultLoggerConfig(),
		recent:   NewRecentBuffer(0),
	}
	for _, channel := range allChannels {
		nop := zerolog.Nop()
		cl.channels[channel] = &nop
	}
	return cl
}

// createChannelLogger creates a zerolog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*zerolog.Logger, error) {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writers []io.Writer

	if cl.config.OutputToConsole {
		if cl.config.JSONFormat {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		}
	}

	if cl.config.OutputToFile {
		path := filepath.Join(cl.config.LogDirectory, fmt.Sprintf("%s.log", string(channel)))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		cl.files = append(cl.files, file)
		writers = append(writers, file)
	}

	writers = append(writers, cl.recent)

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(writer).Level(level).With().Timestamp().Str("channel", string(channel))
	if cl.config.IncludeSource {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	return &logger, nil
}

func (cl *ChanneledLogger) System() *zerolog.Logger    { return cl.GetChannel(ChannelSystem) }
func (cl *ChanneledLogger) Startup() *zerolog.Logger   { return cl.GetChannel(ChannelStartup) }
func (cl *ChanneledLogger) Shutdown() *zerolog.Logger  { return cl.GetChannel(ChannelShutdown) }
func (cl *ChanneledLogger) Room() *zerolog.Logger      { return cl.GetChannel(ChannelRoom) }
func (cl *ChanneledLogger) Analytics() *zerolog.Logger { return cl.GetChannel(ChannelAnalytics) }
func (cl *ChanneledLogger) Notify() *zerolog.Logger    { return cl.GetChannel(ChannelNotify) }
func (cl *ChanneledLogger) Auth() *zerolog.Logger      { return cl.GetChannel(ChannelAuth) }
func (cl *ChanneledLogger) Cache() *zerolog.Logger     { return cl.GetChannel(ChannelCache) }
func (cl *ChanneledLogger) Database() *zerolog.Logger  { return cl.GetChannel(ChannelDatabase) }
func (cl *ChanneledLogger) Queue() *zerolog.Logger     { return cl.GetChannel(ChannelQueue) }
func (cl *ChanneledLogger) Worker() *zerolog.Logger    { return cl.GetChannel(ChannelWorker) }
func (cl *ChanneledLogger) HTTP() *zerolog.Logger      { return cl.GetChannel(ChannelHTTP) }
func (cl *ChanneledLogger) SlowQuery() *zerolog.Logger { return cl.GetChannel(ChannelSlowQuery) }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *zerolog.Logger {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()
	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithTenant returns a logger with tenant context
func (cl *ChanneledLogger) WithTenant(channel Channel, tenantID string) zerolog.Logger {
	return cl.GetChannel(channel).With().Str("tenantId", tenantID).Logger()
}

// WithRoom returns a logger with tenant and room context
func (cl *ChanneledLogger) WithRoom(tenantID, roomID string) zerolog.Logger {
	return cl.Room().With().Str("tenantId", tenantID).Str("roomId", roomID).Logger()
}

// LogSlowQuery logs a slow database query
func (cl *ChanneledLogger) LogSlowQuery(query string, duration time.Duration, tenantID string) {
	cl.SlowQuery().Warn().
		Str("query", sanitizeQuery(query)).
		Dur("duration", duration).
		Str("tenantId", tenantID).
		Msg("Slow query detected")
}

// LogStartupPhase logs application startup phases
func (cl *ChanneledLogger) LogStartupPhase(phase string, duration time.Duration, success bool) {
	event := cl.Startup().Info()
	if !success {
		event = cl.Startup().Error()
	}
	event.Str("phase", phase).Dur("duration", duration).Bool("success", success).Msg("Startup phase finished")
}

// Recent returns the buffer of recent warnings and errors
func (cl *ChanneledLogger) Recent() *RecentBuffer {
	return cl.recent
}

// SetChannelLevel dynamically sets the log level for a specific channel
func (cl *ChanneledLogger) SetChannelLevel(channel Channel, level zerolog.Level) error {
	cl.configMu.Lock()
	logger, exists := cl.channels[channel]
	if !exists {
		cl.configMu.Unlock()
		return fmt.Errorf("channel %s does not exist", channel)
	}
	cl.config.ChannelLevels[channel] = level
	updated := logger.Level(level)
	cl.channels[channel] = &updated
	cl.configMu.Unlock()

	cl.System().Info().Str("target", string(channel)).Str("level", level.String()).Msg("Channel log level updated")
	return nil
}

// GetChannelLevels returns the current log levels for all channels.
func (cl *ChanneledLogger) GetChannelLevels() map[string]string {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	levels := make(map[string]string, len(cl.channels))
	for channel, logger := range cl.channels {
		levels[string(channel)] = logger.GetLevel().String()
	}
	return levels
}

// Close closes all file handles
func (cl *ChanneledLogger) Close() error {
	var firstErr error
	for _, f := range cl.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cl.files = nil
	return firstErr
}

// ParseLevel converts a string level into zerolog.Level with a safe default
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeQuery(query string) string {
	query = strings.ReplaceAll(query, "\n", " ")
	query = strings.ReplaceAll(query, "\t", " ")
	if len(query) > 500 {
		query = query[:500] + "..."
	}
	return query
}
