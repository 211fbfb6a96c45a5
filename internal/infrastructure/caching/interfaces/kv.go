// Package interfaces defines the key-value contract every cache backend satisfies.
package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// ErrConflict is returned by Update when optimistic retries are exhausted.
var ErrConflict = errors.New("cache update conflict")

// UpdateFunc receives the current value (exists=false when absent) and returns
// the value to store. Returning an error aborts the update without writing.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// KV is the cache collaborator. Keys are namespaced strings such as
// "livedesk:room:<id>". Every write carries a TTL; a zero TTL means no expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	DelIfValue(ctx context.Context, key string, value []byte) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sets back secondary indexes.
	SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRemove(ctx context.Context, key string, members ...string) error

	// Bounded lists back completed/failed job logs.
	ListPushTrim(ctx context.Context, key string, max int, values ...[]byte) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	ListRemove(ctx context.Context, key string, value []byte) error

	// IncrWindow increments a counter, setting ttl only when the counter is created.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Update performs an atomic read-modify-write of a single key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	Ping(ctx context.Context) error
	Close() error
}
