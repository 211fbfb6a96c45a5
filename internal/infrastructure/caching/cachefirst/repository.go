// Package cachefirst implements the read/write pattern shared by every
// cached entity family: the cache is written synchronously, the durable
// store is written by a queued job, and reads fall back to the durable
// store and repopulate the cache on a miss.
package cachefirst

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// indexSentinel marks an index set as built, so an index with no real
// members is distinguishable from one that expired.
const indexSentinel = "~"

// Patch mutates an entity in place.
type Patch[T any] interface {
	Apply(*T)
}

// NoPatch is the patch type of append-only families.
type NoPatch[T any] struct{}

func (NoPatch[T]) Apply(*T) {}

// Index is a secondary index: a set of ids per value under its own key.
type Index[T any] struct {
	Name string
	// Values returns the index values the entity belongs to.
	Values func(T) []string
	// Load queries the durable store by the equivalent predicate.
	Load func(ctx context.Context, value string) ([]T, error)
}

// Family describes one entity family.
type Family[T any, P Patch[T]] struct {
	Name string
	TTL  time.Duration
	ID   func(T) string
	// Load reads one entity from the durable store. It must return an
	// apperrors.ErrNotFound error when the entity does not exist.
	Load    func(ctx context.Context, id string) (T, error)
	Indexes []Index[T]

	PersistJob func(T) jobs.Job
	// UpdateJob is nil for append-only families.
	UpdateJob func(id string, patch P, updated T) jobs.Job
	// AnalyticsJob is optional; a nil result skips the enqueue.
	AnalyticsJob func(T) jobs.Job
}

// Delays configures the enqueue delays of derived jobs.
type Delays struct {
	Persist   time.Duration
	Analytics time.Duration
}

// Repository is the cache-first repository for one family.
type Repository[T any, P Patch[T]] struct {
	family Family[T, P]
	cache  *caching.Cache
	queue  jobs.Enqueuer
	delays Delays
	logger *logging.ChanneledLogger
}

func New[T any, P Patch[T]](family Family[T, P], cache *caching.Cache, queue jobs.Enqueuer, delays Delays, logger *logging.ChanneledLogger) *Repository[T, P] {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Repository[T, P]{family: family, cache: cache, queue: queue, delays: delays, logger: logger}
}

func (r *Repository[T, P]) Name() string { return r.family.Name }

func (r *Repository[T, P]) key(id string) string { return caching.EntityKey(r.family.Name, id) }

func (r *Repository[T, P]) indexKey(name, value string) string {
	return caching.IndexKey(r.family.Name, name, value)
}

// Write stores v in the cache, adds it to its indexes and enqueues the
// durable persist job. It never waits on the durable store.
func (r *Repository[T, P]) Write(ctx context.Context, v T) error {
	id := r.family.ID(v)
	cached := r.cache.Set(ctx, r.key(id), v, r.family.TTL)
	if cached {
		r.index(ctx, v)
	}

	if _, err := r.queue.Enqueue(ctx, r.family.PersistJob(v), jobs.WithDelay(r.delays.Persist)); err != nil {
		if !cached {
			return apperrors.Unavailable("write "+r.family.Name, err)
		}
		return apperrors.Transient(err)
	}
	r.enqueueAnalytics(ctx, v)
	return nil
}

func (r *Repository[T, P]) enqueueAnalytics(ctx context.Context, v T) {
	if r.family.AnalyticsJob == nil {
		return
	}
	job := r.family.AnalyticsJob(v)
	if job == nil {
		return
	}
	if _, err := r.queue.Enqueue(ctx, job, jobs.WithDelay(r.delays.Analytics)); err != nil {
		// analytics are derived; the durable row is already queued
		r.logger.Cache().Warn().Err(err).Str("family", r.family.Name).Str("jobType", string(job.JobType())).Msg("Analytics enqueue failed")
	}
}

// index adds v to every applicable index. A missing index is rebuilt from
// the durable store first so it never holds a partial member set.
func (r *Repository[T, P]) index(ctx context.Context, v T) {
	id := r.family.ID(v)
	for _, idx := range r.family.Indexes {
		for _, value := range idx.Values(v) {
			key := r.indexKey(idx.Name, value)
			if _, status := r.cache.Members(ctx, key); status == caching.Miss {
				if _, err := r.rebuild(ctx, idx, value); err != nil {
					r.logger.Cache().Warn().Err(err).Str("index", key).Msg("Index rebuild failed; skipping add")
					continue
				}
			}
			r.cache.AddMembers(ctx, key, r.family.TTL, id)
		}
	}
}

// Read returns the entity, falling back to the durable store on a miss.
func (r *Repository[T, P]) Read(ctx context.Context, id string) (T, error) {
	var v T
	status := r.cache.Get(ctx, r.key(id), &v)
	if status == caching.Hit {
		return v, nil
	}

	loaded, err := r.family.Load(ctx, id)
	if err != nil {
		var zero T
		if errors.Is(err, apperrors.ErrNotFound) {
			return zero, apperrors.NotFound(r.family.Name, id)
		}
		return zero, apperrors.Unavailable("read "+r.family.Name, err)
	}
	if status == caching.Miss {
		r.cache.Set(ctx, r.key(id), loaded, r.family.TTL)
	}
	return loaded, nil
}

// Snapshot returns the cached entity without touching the durable store.
func (r *Repository[T, P]) Snapshot(ctx context.Context, id string) (T, bool) {
	var v T
	return v, r.cache.Get(ctx, r.key(id), &v) == caching.Hit
}

// Refresh overwrites the cache entry with v without enqueuing anything.
// Workers use it after the durable store settles a row.
func (r *Repository[T, P]) Refresh(ctx context.Context, v T) {
	if r.cache.Set(ctx, r.key(r.family.ID(v)), v, r.family.TTL) {
		r.index(ctx, v)
	}
}

// Evict drops the cache entry so the next read goes to the durable store.
func (r *Repository[T, P]) Evict(ctx context.Context, id string) {
	r.cache.Delete(ctx, r.key(id))
}

// ReadByIndex hydrates every entity listed under an index value. Ids whose
// entity no longer exists are pruned from the set.
func (r *Repository[T, P]) ReadByIndex(ctx context.Context, name, value string) ([]T, error) {
	idx, ok := r.lookupIndex(name)
	if !ok {
		return nil, apperrors.Validation("%s has no index %q", r.family.Name, name)
	}

	key := r.indexKey(name, value)
	members, status := r.cache.Members(ctx, key)
	switch status {
	case caching.Miss:
		return r.rebuild(ctx, idx, value)
	case caching.Failed:
		items, err := idx.Load(ctx, value)
		if err != nil {
			return nil, apperrors.Unavailable("index "+r.family.Name+"."+name, err)
		}
		return items, nil
	}

	members = slices.DeleteFunc(members, func(m string) bool { return m == indexSentinel })
	slices.Sort(members)
	items := make([]T, 0, len(members))
	for _, id := range members {
		v, err := r.Read(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			r.cache.RemoveMembers(ctx, key, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *Repository[T, P]) rebuild(ctx context.Context, idx Index[T], value string) ([]T, error) {
	items, err := idx.Load(ctx, value)
	if err != nil {
		return nil, apperrors.Unavailable("index "+r.family.Name+"."+idx.Name, err)
	}
	ids := make([]string, 0, len(items)+1)
	ids = append(ids, indexSentinel)
	for _, v := range items {
		id := r.family.ID(v)
		r.cache.SetNX(ctx, r.key(id), v, r.family.TTL)
		ids = append(ids, id)
	}
	r.cache.AddMembers(ctx, r.indexKey(idx.Name, value), r.family.TTL, ids...)
	r.logger.Cache().Debug().Str("family", r.family.Name).Str("index", idx.Name).Str("value", value).Int("count", len(items)).Msg("Rebuilt index from durable store")
	return items, nil
}

func (r *Repository[T, P]) lookupIndex(name string) (Index[T], bool) {
	for _, idx := range r.family.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index[T]{}, false
}

// Update reads the entity, applies patch, rewrites the cache entry and
// enqueues a durable update carrying only the patch.
func (r *Repository[T, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	var zero T
	if r.family.UpdateJob == nil {
		return zero, apperrors.Validation("%s is append-only", r.family.Name)
	}
	v, err := r.Read(ctx, id)
	if err != nil {
		return zero, err
	}
	patch.Apply(&v)

	cached := r.cache.Set(ctx, r.key(id), v, r.family.TTL)
	if cached {
		r.index(ctx, v)
	}
	if _, err := r.queue.Enqueue(ctx, r.family.UpdateJob(id, patch, v), jobs.WithDelay(r.delays.Persist)); err != nil {
		if !cached {
			return zero, apperrors.Unavailable("update "+r.family.Name, err)
		}
		return v, apperrors.Transient(err)
	}
	return v, nil
}

// Unindex removes id from one index value, used when an entity stops belonging to it.
func (r *Repository[T, P]) Unindex(ctx context.Context, name, value, id string) {
	r.cache.RemoveMembers(ctx, r.indexKey(name, value), id)
}
