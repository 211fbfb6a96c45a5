package caching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

const lockRetryInterval = 20 * time.Millisecond

// RoomLocker serializes state transitions for one room across processes.
// A lock is a SET NX PX key holding a random token; release deletes the key
// only if it still holds that token, so an expired holder cannot free a newer lock.
type RoomLocker struct {
	kv     interfaces.KV
	ttl    time.Duration
	wait   time.Duration
	logger *logging.ChanneledLogger
}

// NewRoomLocker creates a locker whose locks expire after ttl and whose Lock waits at most wait.
func NewRoomLocker(kv interfaces.KV, ttl, wait time.Duration, logger *logging.ChanneledLogger) *RoomLocker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RoomLocker{kv: kv, ttl: ttl, wait: wait, logger: logger}
}

// TryLock attempts to acquire the lock for a room without waiting.
// It returns a release func when the lock was acquired.
func (l *RoomLocker) TryLock(ctx context.Context, roomID string) (func(), bool, error) {
	key := RoomLockKey(roomID)
	token := []byte(uuid.NewString())

	ok, err := l.kv.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, apperrors.Unavailable("acquire room lock", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// release must run even if the request context was cancelled
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		released, err := l.kv.DelIfValue(rctx, key, token)
		if err != nil {
			l.logger.Cache().Warn().Err(err).Str("roomId", roomID).Msg("Room lock release failed; it will expire")
			return
		}
		if !released {
			l.logger.Cache().Warn().Str("roomId", roomID).Msg("Room lock expired before release")
		}
	}
	return release, true, nil
}

// Lock blocks until the room lock is acquired, the wait budget is spent, or ctx ends.
func (l *RoomLocker) Lock(ctx context.Context, roomID string) (func(), error) {
	deadline := time.Now().Add(l.wait)
	for {
		release, ok, err := l.TryLock(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, apperrors.Transient(fmt.Errorf("room %s is busy", roomID))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// WithRoom runs fn while holding the room lock.
func (l *RoomLocker) WithRoom(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	release, err := l.Lock(ctx, roomID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
