package caching

import (
	"context"
	"errors"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/codec"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// Status is the outcome of a cache read.
type Status int

const (
	Hit Status = iota
	Miss
	// Failed means the backend errored; the error has already been logged.
	Failed
)

// Cache owns the swallow-and-log policy: backend and codec errors are logged
// here and reported as Miss/Failed or false, never returned to business logic.
type Cache struct {
	kv     interfaces.KV
	codec  *codec.Codec
	logger *logging.ChanneledLogger
}

// New wraps a backend.
func New(kv interfaces.KV, c *codec.Codec, logger *logging.ChanneledLogger) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{kv: kv, codec: c, logger: logger}
}

// KV exposes the raw backend for callers that must see errors (locks, atomic capacity updates).
func (c *Cache) KV() interfaces.KV { return c.kv }

func (c *Cache) Codec() *codec.Codec { return c.codec }

// Get decodes key into dst.
func (c *Cache) Get(ctx context.Context, key string, dst any) Status {
	start := time.Now()
	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, interfaces.ErrMiss) {
		c.logger.Cache().Debug().Str("operation", "get").Str("key", key).Bool("hit", false).Dur("duration", time.Since(start)).Msg("Cache operation")
		return Miss
	}
	if err != nil {
		c.logger.Cache().Warn().Err(err).Str("operation", "get").Str("key", key).Msg("Cache read failed")
		return Failed
	}
	if err := c.codec.Unmarshal(raw, dst); err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		c.Delete(ctx, key)
		return Miss
	}
	c.logger.Cache().Debug().Str("operation", "get").Str("key", key).Bool("hit", true).Dur("duration", time.Since(start)).Msg("Cache operation")
	return Hit
}

// Set encodes v under key. It reports whether the write landed.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) bool {
	raw, err := c.codec.Marshal(v)
	if err != nil {
		c.logger.Cache().Error().Err(err).Str("key", key).Msg("Cache encode failed")
		return false
	}
	if err := c.kv.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Cache().Warn().Err(err).Str("operation", "set").Str("key", key).Msg("Cache write failed")
		return false
	}
	return true
}

// SetNX stores v only when key is absent.
func (c *Cache) SetNX(ctx context.Context, key string, v any, ttl time.Duration) bool {
	raw, err := c.codec.Marshal(v)
	if err != nil {
		c.logger.Cache().Error().Err(err).Str("key", key).Msg("Cache encode failed")
		return false
	}
	ok, err := c.kv.SetNX(ctx, key, raw, ttl)
	if err != nil {
		c.logger.Cache().Warn().Err(err).Str("operation", "setnx").Str("key", key).Msg("Cache write failed")
		return false
	}
	return ok
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Cache().Warn().Err(err).Strs("keys", keys).Msg("Cache delete failed")
	}
}

// GetString reads a plain string value such as a pointer key.
func (c *Cache) GetString(ctx context.Context, key string) (string, Status) {
	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, interfaces.ErrMiss) {
		return "", Miss
	}
	if err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return "", Failed
	}
	return string(raw), Hit
}

func (c *Cache) SetString(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := c.kv.Set(ctx, key, []byte(value), ttl); err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("Cache write failed")
		return false
	}
	return true
}

// Members returns the members of an index set.
func (c *Cache) Members(ctx context.Context, key string) ([]string, Status) {
	members, err := c.kv.SetMembers(ctx, key)
	if err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("Index read failed")
		return nil, Failed
	}
	if len(members) == 0 {
		return nil, Miss
	}
	return members, Hit
}

func (c *Cache) AddMembers(ctx context.Context, key string, ttl time.Duration, members ...string) bool {
	if err := c.kv.SetAdd(ctx, key, ttl, members...); err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("Index write failed")
		return false
	}
	return true
}

func (c *Cache) RemoveMembers(ctx context.Context, key string, members ...string) {
	if err := c.kv.SetRemove(ctx, key, members...); err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("Index remove failed")
	}
}

// PushTrim prepends values to a bounded list.
func (c *Cache) PushTrim(ctx context.Context, key string, limit int, values ...[]byte) bool {
	if err := c.kv.ListPushTrim(ctx, key, limit, values...); err != nil {
		c.logger.Cache().Warn().Err(err).Str("key", key).Msg("List write failed")
		return false
	}
	return true
}

func (c *Cache) Ping(ctx context.Context) error { return c.kv.Ping(ctx) }
