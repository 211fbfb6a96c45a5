// Package stores provides the in-process cache backend used in single-node mode and tests.
package stores

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

var (
	errWrongType = errors.New("operation against a key holding the wrong kind of value")
	errClosed    = errors.New("memory store closed")
)

type kind int

const (
	kindValue kind = iota
	kindSet
	kindList
)

type entry struct {
	kind      kind
	value     []byte
	set       map[string]struct{}
	list      [][]byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *entry) size() int64 {
	switch e.kind {
	case kindSet:
		var n int64
		for m := range e.set {
			n += int64(len(m))
		}
		return n
	case kindList:
		var n int64
		for _, v := range e.list {
			n += int64(len(v))
		}
		return n
	default:
		return int64(len(e.value))
	}
}

// MemoryStore implements interfaces.KV with a single mutex. TTLs follow the injected clock;
// expired keys are invisible immediately and reclaimed by Sweep.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]*entry
	clock  clock.Clock
	logger *logging.ChanneledLogger
	closed bool
}

var _ interfaces.KV = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-process store
func NewMemoryStore(clk clock.Clock, logger *logging.ChanneledLogger) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	if logger != nil {
		logger.Cache().Info().Msg("Initializing in-process cache store")
	}
	return &MemoryStore{
		data:   make(map[string]*entry),
		clock:  clk,
		logger: logger,
	}
}

// lookup returns the live entry for key; callers hold s.mu.
func (s *MemoryStore) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(s.clock.Now()) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

func (s *MemoryStore) guard() error {
	if s.closed {
		return errClosed
	}
	return nil
}

// =============================================================================
// Value Operations
// =============================================================================

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e := s.lookup(key)
	if e == nil {
		return nil, interfaces.ErrMiss
	}
	if e.kind != kindValue {
		return nil, errWrongType
	}
	return bytes.Clone(e.value), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	s.data[key] = &entry{kind: kindValue, value: bytes.Clone(value), expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return false, err
	}
	if s.lookup(key) != nil {
		return false, nil
	}
	s.data[key] = &entry{kind: kindValue, value: bytes.Clone(value), expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) DelIfValue(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return false, err
	}
	e := s.lookup(key)
	if e == nil || e.kind != kindValue || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if e := s.lookup(key); e != nil {
		e.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e := s.lookup(key)
	if e == nil {
		s.data[key] = &entry{kind: kindValue, value: []byte("1"), expiresAt: s.deadline(ttl)}
		return 1, nil
	}
	if e.kind != kindValue {
		return 0, errWrongType
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, errWrongType
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn interfaces.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	var current []byte
	e := s.lookup(key)
	if e != nil {
		if e.kind != kindValue {
			return errWrongType
		}
		current = bytes.Clone(e.value)
	}
	next, err := fn(current, e != nil)
	if err != nil {
		return err
	}
	s.data[key] = &entry{kind: kindValue, value: bytes.Clone(next), expiresAt: s.deadline(ttl)}
	return nil
}

// =============================================================================
// Set Operations
// =============================================================================

func (s *MemoryStore) SetAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	e := s.lookup(key)
	if e == nil {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		s.data[key] = e
	}
	if e.kind != kindSet {
		return errWrongType
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	if ttl > 0 {
		e.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindSet {
		return nil, errWrongType
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) SetRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if e.kind != kindSet {
		return errWrongType
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(s.data, key)
	}
	return nil
}

// =============================================================================
// List Operations
// =============================================================================

func (s *MemoryStore) ListPushTrim(_ context.Context, key string, max int, values ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	e := s.lookup(key)
	if e == nil {
		e = &entry{kind: kindList}
		s.data[key] = e
	}
	if e.kind != kindList {
		return errWrongType
	}
	// newest first, matching LPUSH
	for _, v := range values {
		e.list = append([][]byte{bytes.Clone(v)}, e.list...)
	}
	if max > 0 && len(e.list) > max {
		e.list = e.list[:max]
	}
	return nil
}

func (s *MemoryStore) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindList {
		return nil, errWrongType
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range e.list[start : stop+1] {
		out = append(out, bytes.Clone(v))
	}
	return out, nil
}

func (s *MemoryStore) ListRemove(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if e.kind != kindList {
		return errWrongType
	}
	kept := e.list[:0]
	for _, v := range e.list {
		if !bytes.Equal(v, value) {
			kept = append(kept, v)
		}
	}
	e.list = kept
	return nil
}

// =============================================================================
// Lifecycle & Maintenance
// =============================================================================

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = make(map[string]*entry)
	return nil
}

// Stats reports the current content without reclaiming anything.
func (s *MemoryStore) Stats() types.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *MemoryStore) statsLocked() types.Stats {
	now := s.clock.Now()
	st := types.Stats{TakenAt: now}
	for _, e := range s.data {
		if e.expired(now) {
			st.Expired++
			continue
		}
		switch e.kind {
		case kindSet:
			st.Sets++
		case kindList:
			st.Lists++
		default:
			st.Values++
		}
		st.ApproxBytes += e.size()
	}
	return st
}

// Sweep removes expired keys and reports what it reclaimed.
func (s *MemoryStore) Sweep() types.SweepResult {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	result := types.SweepResult{Before: s.statsLocked()}
	now := s.clock.Now()
	for key, e := range s.data {
		if e.expired(now) {
			delete(s.data, key)
			result.Removed++
		}
	}
	result.After = s.statsLocked()
	result.Duration = time.Since(start)

	if s.logger != nil && result.Removed > 0 {
		s.logger.Cache().Debug().Int("removed", result.Removed).Dur("duration", result.Duration).Msg("Swept expired cache keys")
	}
	return result
}
