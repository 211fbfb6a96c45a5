package cachefirst

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs/jobstest"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/codec"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
)

type note struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Body  string `json:"body"`
}

type notePatch struct {
	Body string `json:"body"`
}

func (p notePatch) Apply(n *note) { n.Body = p.Body }

type persistNote struct{ Note note }

func (persistNote) JobType() jobs.Type { return "note.persist" }
func (persistNote) Queue() string      { return jobs.QueueDurable }
func (persistNote) Validate() error    { return nil }

type updateNote struct {
	ID    string
	Patch notePatch
}

func (updateNote) JobType() jobs.Type { return "note.update" }
func (updateNote) Queue() string      { return jobs.QueueDurable }
func (updateNote) Validate() error    { return nil }

type noteCounted struct{ ID string }

func (noteCounted) JobType() jobs.Type { return "note.counted" }
func (noteCounted) Queue() string      { return jobs.QueueAnalytics }
func (noteCounted) Validate() error    { return nil }

// durableNotes stands in for the SQL store.
type durableNotes struct {
	mu    sync.Mutex
	rows  map[string]note
	loads int
	err   error
}

func (d *durableNotes) load(_ context.Context, id string) (note, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads++
	if d.err != nil {
		return note{}, d.err
	}
	n, ok := d.rows[id]
	if !ok {
		return note{}, apperrors.NotFound("note", id)
	}
	return n, nil
}

func (d *durableNotes) byOwner(_ context.Context, owner string) ([]note, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads++
	if d.err != nil {
		return nil, d.err
	}
	var out []note
	for _, n := range d.rows {
		if n.Owner == owner {
			out = append(out, n)
		}
	}
	return out, nil
}

type fixture struct {
	repo    *Repository[note, notePatch]
	store   *stores.MemoryStore
	durable *durableNotes
	queue   *jobstest.Recorder
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := stores.NewMemoryStore(clk, nil)
	durable := &durableNotes{rows: map[string]note{}}
	queue := jobstest.NewRecorder()
	family := Family[note, notePatch]{
		Name: "note",
		TTL:  time.Hour,
		ID:   func(n note) string { return n.ID },
		Load: durable.load,
		Indexes: []Index[note]{{
			Name:   "owner",
			Values: func(n note) []string { return []string{n.Owner} },
			Load:   durable.byOwner,
		}},
		PersistJob:   func(n note) jobs.Job { return persistNote{Note: n} },
		UpdateJob:    func(id string, p notePatch, _ note) jobs.Job { return updateNote{ID: id, Patch: p} },
		AnalyticsJob: func(n note) jobs.Job { return noteCounted{ID: n.ID} },
	}
	cache := caching.New(store, codec.MustNew(4096), nil)
	repo := New(family, cache, queue, Delays{Persist: time.Second, Analytics: 5 * time.Second}, nil)
	return &fixture{repo: repo, store: store, durable: durable, queue: queue, clock: clk}
}

func TestWriteIsReadableBeforePersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.repo.Write(ctx, note{ID: "n1", Owner: "ana", Body: "hi"}))

	got, err := f.repo.Read(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Body)
	require.Zero(t, f.durable.loads, "own write must be served from the cache")

	enq := f.queue.All()
	require.Len(t, enq, 2)
	require.Equal(t, jobs.Type("note.persist"), enq[0].Job.JobType())
	require.Equal(t, time.Second, enq[0].Delay)
	require.Equal(t, jobs.Type("note.counted"), enq[1].Job.JobType())
	require.Equal(t, 5*time.Second, enq[1].Delay)
}

func TestReadMissFallsBackAndRepopulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.durable.rows["n1"] = note{ID: "n1", Owner: "ana", Body: "stored"}

	got, err := f.repo.Read(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "stored", got.Body)
	require.Equal(t, 1, f.durable.loads)

	_, err = f.repo.Read(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, 1, f.durable.loads, "second read must hit the repopulated cache")

	_, ok := f.repo.Snapshot(ctx, "n1")
	require.True(t, ok)
}

func TestReadAfterExpiryGoesToDurable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repo.Write(ctx, note{ID: "n1", Owner: "ana", Body: "hi"}))
	f.durable.rows["n1"] = note{ID: "n1", Owner: "ana", Body: "hi"}

	f.clock.Advance(2 * time.Hour)
	got, err := f.repo.Read(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Body)
	require.Equal(t, 1, f.durable.loads)
}

func TestReadNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Read(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReadWithBothLayersDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Close())
	f.durable.err = errors.New("disk on fire")

	_, err := f.repo.Read(ctx, "n1")
	require.ErrorIs(t, err, apperrors.ErrInfrastructureUnavailable)
}

func TestReadWithCacheDownUsesDurable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.durable.rows["n1"] = note{ID: "n1", Body: "stored"}
	require.NoError(t, f.store.Close())

	got, err := f.repo.Read(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "stored", got.Body)
}

func TestWriteSurvivesCacheOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	require.NoError(t, f.repo.Write(ctx, note{ID: "n1", Owner: "ana"}))
	require.Len(t, f.queue.OfType("note.persist"), 1)
}

func TestWriteEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.queue.Fail(true)

	err := f.repo.Write(ctx, note{ID: "n1", Owner: "ana"})
	require.ErrorIs(t, err, apperrors.ErrTransient)

	require.NoError(t, f.store.Close())
	err = f.repo.Write(ctx, note{ID: "n2", Owner: "ana"})
	require.ErrorIs(t, err, apperrors.ErrInfrastructureUnavailable)
}

func TestReadByIndexRebuildsFromDurable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.durable.rows["n1"] = note{ID: "n1", Owner: "ana"}
	f.durable.rows["n2"] = note{ID: "n2", Owner: "ana"}
	f.durable.rows["n3"] = note{ID: "n3", Owner: "bo"}

	items, err := f.repo.ReadByIndex(ctx, "owner", "ana")
	require.NoError(t, err)
	require.Len(t, items, 2)
	loads := f.durable.loads

	items, err = f.repo.ReadByIndex(ctx, "owner", "ana")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, loads, f.durable.loads, "rebuilt index and rows must be cached")
}

func TestWriteIntoColdIndexKeepsDurableMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.durable.rows["n1"] = note{ID: "n1", Owner: "ana"}

	require.NoError(t, f.repo.Write(ctx, note{ID: "n2", Owner: "ana"}))

	items, err := f.repo.ReadByIndex(ctx, "owner", "ana")
	require.NoError(t, err)
	ids := []string{items[0].ID, items[1].ID}
	require.ElementsMatch(t, []string{"n1", "n2"}, ids)
}

func TestEmptyIndexIsNotRebuiltTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	items, err := f.repo.ReadByIndex(ctx, "owner", "nobody")
	require.NoError(t, err)
	require.Empty(t, items)
	loads := f.durable.loads

	_, err = f.repo.ReadByIndex(ctx, "owner", "nobody")
	require.NoError(t, err)
	require.Equal(t, loads, f.durable.loads)
}

func TestReadByIndexPrunesVanishedMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repo.Write(ctx, note{ID: "n1", Owner: "ana"}))
	f.repo.Evict(ctx, "n1")

	items, err := f.repo.ReadByIndex(ctx, "owner", "ana")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestUnknownIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.ReadByIndex(context.Background(), "color", "red")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUpdateEnqueuesPatchOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repo.Write(ctx, note{ID: "n1", Owner: "ana", Body: "v1"}))
	f.queue.Drain()

	updated, err := f.repo.Update(ctx, "n1", notePatch{Body: "v2"})
	require.NoError(t, err)
	require.Equal(t, "v2", updated.Body)

	got, err := f.repo.Read(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Body)

	enq := f.queue.All()
	require.Len(t, enq, 1)
	require.Equal(t, updateNote{ID: "n1", Patch: notePatch{Body: "v2"}}, enq[0].Job)
}

func TestUpdateMissingEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Update(context.Background(), "nope", notePatch{Body: "x"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Empty(t, f.queue.All())
}

func TestAppendOnlyFamilyRejectsUpdate(t *testing.T) {
	store := stores.NewMemoryStore(clock.Real(), nil)
	repo := New(Family[note, NoPatch[note]]{
		Name:       "log",
		ID:         func(n note) string { return n.ID },
		Load:       func(context.Context, string) (note, error) { return note{}, apperrors.NotFound("log", "") },
		PersistJob: func(n note) jobs.Job { return persistNote{Note: n} },
	}, caching.New(store, codec.MustNew(0), nil), jobstest.NewRecorder(), Delays{}, nil)

	_, err := repo.Update(context.Background(), "x", NoPatch[note]{})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}
