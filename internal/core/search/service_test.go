package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricecompare/internal/core/job"
	"pricecompare/internal/core/listing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okFetcher(name string, records ...listing.Record) listing.Fetcher {
	return listing.FetcherFunc{Source: name, Fn: func(context.Context, string) ([]listing.Record, error) {
		return records, nil
	}}
}

func failFetcher(name, msg string) listing.Fetcher {
	return listing.FetcherFunc{Source: name, Fn: func(context.Context, string) ([]listing.Record, error) {
		return nil, errors.New(msg)
	}}
}

// gatedFetcher blocks until release is closed, then returns records.
func gatedFetcher(name string, release <-chan struct{}, records ...listing.Record) listing.Fetcher {
	return listing.FetcherFunc{Source: name, Fn: func(context.Context, string) ([]listing.Record, error) {
		<-release
		return records, nil
	}}
}

func r(store, name string, price float64) listing.Record {
	return listing.Record{Store: store, Name: name, Price: listing.Price(price), Currency: "EUR", URL: "https://" + store + "/" + name}
}

func TestStart_ReturnsPendingBeforeScrapersSettle(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	release := make(chan struct{})
	svc := NewService(store, []listing.Fetcher{
		gatedFetcher("Depo", release, r("Depo", "Drill", 10)),
		gatedFetcher("Ksenukai", release, r("Ksenukai", "Drill", 9)),
	}, Options{})
	ctx := context.Background()

	j, err := svc.Start(ctx, "drill")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)

	got, err := svc.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Empty(t, got.Records)

	close(release)
	svc.Wait()

	got, err = svc.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Len(t, got.Records, 2)
}

func TestStart_RejectsEmptyQuery(t *testing.T) {
	svc := NewService(job.NewMemoryStore(time.Hour), nil, Options{})

	for _, q := range []string{"", "   "} {
		_, err := svc.Start(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestRun_AllSucceed(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	svc := NewService(store, []listing.Fetcher{
		okFetcher("Depo", r("Depo", "A", 1), r("Depo", "B", 2)),
		okFetcher("Ksenukai", r("Ksenukai", "C", 3)),
	}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Empty(t, got.Errors)
	assert.Len(t, got.Records, 3)
}

func TestRun_PartialFailure(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	svc := NewService(store, []listing.Fetcher{
		failFetcher("Depo", "cookie banner blocked the page"),
		okFetcher("Ksenukai", r("Ksenukai", "Saw", 20)),
		failFetcher("Other", "selector drift"),
	}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "saw")

	require.NoError(t, svc.Run(ctx, j.ID, "saw"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusPartialError, got.Status)
	assert.Equal(t, []listing.Record{r("Ksenukai", "Saw", 20)}, got.Records)
	assert.Equal(t, []job.ScraperError{
		{Source: "Depo", Message: "cookie banner blocked the page"},
		{Source: "Other", Message: "selector drift"},
	}, got.Errors)
}

func TestRun_AllFail(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	svc := NewService(store, []listing.Fetcher{failFetcher("A", "x"), failFetcher("B", "y")}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusPartialError, got.Status)
	assert.Empty(t, got.Records)
	assert.Len(t, got.Errors, 2)
}

func TestRun_RecordsFollowRegistrationOrder(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	slow := listing.FetcherFunc{Source: "Slow", Fn: func(context.Context, string) ([]listing.Record, error) {
		time.Sleep(50 * time.Millisecond)
		return []listing.Record{r("Slow", "first", 1)}, nil
	}}
	svc := NewService(store, []listing.Fetcher{slow, okFetcher("Fast", r("Fast", "second", 2))}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "Slow", got.Records[0].Store)
	assert.Equal(t, "Fast", got.Records[1].Store)
}

func TestRun_FetchersRunConcurrently(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	var running atomic.Int32
	var overlapped atomic.Bool
	barrier := make(chan struct{})
	var once sync.Once
	mk := func(name string) listing.Fetcher {
		return listing.FetcherFunc{Source: name, Fn: func(context.Context, string) ([]listing.Record, error) {
			if running.Add(1) == 3 {
				overlapped.Store(true)
				once.Do(func() { close(barrier) })
			}
			select {
			case <-barrier:
			case <-time.After(2 * time.Second):
			}
			running.Add(-1)
			return nil, nil
		}}
	}
	svc := NewService(store, []listing.Fetcher{mk("a"), mk("b"), mk("c")}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	assert.True(t, overlapped.Load(), "all fetchers were in flight at once")
}

func TestRun_HungScraperTimesOut(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	hang := make(chan struct{})
	defer close(hang)
	hung := listing.FetcherFunc{Source: "Hung", Fn: func(context.Context, string) ([]listing.Record, error) {
		<-hang // ignores its context
		return nil, nil
	}}
	svc := NewService(store, []listing.Fetcher{hung, okFetcher("Depo", r("Depo", "x", 1))}, Options{ScraperTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusPartialError, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "Hung", got.Errors[0].Source)
	assert.Contains(t, got.Errors[0].Message, "timed out")
	assert.Len(t, got.Records, 1)
}

func TestRun_PanickingScraperIsAFailure(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	boom := listing.FetcherFunc{Source: "Boom", Fn: func(context.Context, string) ([]listing.Record, error) {
		panic("nil selector")
	}}
	svc := NewService(store, []listing.Fetcher{boom, okFetcher("Depo", r("Depo", "x", 1))}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusPartialError, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0].Message, "nil selector")
}

func TestRun_LateWriteAfterSweepIsDiscarded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	store := job.NewMemoryStore(time.Hour, job.WithClock(clock))
	release := make(chan struct{})
	svc := NewService(store, []listing.Fetcher{gatedFetcher("Depo", release, r("Depo", "x", 1))}, Options{})
	ctx := context.Background()

	j, err := svc.Start(ctx, "q")
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	n, _ := store.Sweep(ctx)
	require.Equal(t, 1, n)

	close(release)
	svc.Wait()

	_, err = store.Get(ctx, j.ID)
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.Zero(t, store.Len())
}

// faultyStore panics on the first Update to simulate a broken aggregation.
type faultyStore struct {
	*job.MemoryStore
	calls atomic.Int32
}

func (s *faultyStore) Update(ctx context.Context, id string, fn func(*job.Job) error) error {
	if s.calls.Add(1) == 1 {
		panic("aggregation exploded")
	}
	return s.MemoryStore.Update(ctx, id, fn)
}

func TestRun_OrchestrationFault(t *testing.T) {
	store := &faultyStore{MemoryStore: job.NewMemoryStore(time.Hour)}
	svc := NewService(store, []listing.Fetcher{okFetcher("Depo", r("Depo", "x", 1))}, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusPartialError, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, OrchestrationSource, got.Errors[0].Source)
	assert.Contains(t, got.Errors[0].Message, "aggregation exploded")
}

func TestFanOut_FailureDoesNotCancelSiblings(t *testing.T) {
	release := make(chan struct{})
	slow := listing.FetcherFunc{Source: "Slow", Fn: func(ctx context.Context, _ string) ([]listing.Record, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []listing.Record{r("Slow", "x", 1)}, nil
	}}
	failing := listing.FetcherFunc{Source: "Fail", Fn: func(context.Context, string) ([]listing.Record, error) {
		defer close(release)
		return nil, errors.New("blocked")
	}}
	svc := NewService(job.NewMemoryStore(time.Hour), []listing.Fetcher{slow, failing}, Options{})

	outcomes := svc.fanOut(context.Background(), "q")

	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].err)
	assert.Len(t, outcomes[0].records, 1)
	assert.EqualError(t, outcomes[1].err, "blocked")
}

func TestRun_NoFetchers(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	svc := NewService(store, nil, Options{})
	ctx := context.Background()
	j, _ := store.Create(ctx, "q")

	require.NoError(t, svc.Run(ctx, j.ID, "q"))

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

type recordingQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *recordingQueue) Enqueue(task *asynq.Task, _ string, maxRetries int) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func TestDispatch_QueueMode(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	queue := &recordingQueue{}
	svc := NewService(store, []listing.Fetcher{okFetcher("Depo", r("Depo", "x", 1))}, Options{Queue: queue})
	ctx := context.Background()

	j, err := svc.Start(ctx, "level")
	require.NoError(t, err)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskTypeRun, queue.tasks[0].Type())

	var p RunTaskPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &p))
	assert.Equal(t, RunTaskPayload{JobID: j.ID, Query: "level"}, p)

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusPending, got.Status, "nothing runs until a worker picks the task up")

	require.NoError(t, svc.HandleRunTask(ctx, queue.tasks[0]))
	got, _ = store.Get(ctx, j.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

func TestDispatch_QueueFailureSettlesJob(t *testing.T) {
	store := job.NewMemoryStore(time.Hour)
	svc := NewService(store, nil, Options{Queue: &recordingQueue{err: errors.New("redis down")}})

	_, err := svc.Start(context.Background(), "level")

	assert.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestHandleRunTask_BadPayload(t *testing.T) {
	svc := NewService(job.NewMemoryStore(time.Hour), nil, Options{})

	err := svc.HandleRunTask(context.Background(), asynq.NewTask(TaskTypeRun, []byte("{")))

	assert.ErrorIs(t, err, asynq.SkipRetry)
}
