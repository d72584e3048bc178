package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pricecompare/internal/core/listing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(ttl time.Duration) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore(ttl, WithClock(clock.Now)), clock
}

func TestMemoryStore_CreateIsPending(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	ctx := context.Background()

	created, err := store.Create(ctx, "drill")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "drill", got.Query)
	assert.Empty(t, got.Records)
	assert.Empty(t, got.Errors)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	_, err := store.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateSettlesOnce(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	ctx := context.Background()
	j, _ := store.Create(ctx, "saw")

	records := []listing.Record{{Store: "Depo", Name: "Saw", Price: listing.Price(10)}}
	err := store.Update(ctx, j.ID, func(j *Job) error { return j.Settle(records, nil) })
	require.NoError(t, err)

	err = store.Update(ctx, j.ID, func(j *Job) error { return j.Settle(nil, []ScraperError{{Source: "x", Message: "y"}}) })
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, records, got.Records)
	assert.Empty(t, got.Errors)
}

func TestMemoryStore_FailedMutatorLeavesJobUntouched(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	ctx := context.Background()
	j, _ := store.Create(ctx, "saw")

	err := store.Update(ctx, j.ID, func(j *Job) error {
		j.Status = StatusCompleted
		j.Records = append(j.Records, listing.Record{Name: "half-written"})
		return errors.New("boom")
	})
	require.Error(t, err)

	got, _ := store.Get(ctx, j.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Records)
}

func TestMemoryStore_UpdateMissingIsNoop(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	called := false

	err := store.Update(context.Background(), "gone", func(*Job) error { called = true; return nil })

	assert.NoError(t, err)
	assert.False(t, called)
	assert.Zero(t, store.Len())
}

func TestMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	ctx := context.Background()
	j, _ := store.Create(ctx, "level")
	require.NoError(t, store.Update(ctx, j.ID, func(j *Job) error {
		return j.Settle([]listing.Record{{Name: "Level"}}, nil)
	}))

	snap, _ := store.Get(ctx, j.ID)
	snap.Records[0].Name = "mutated"
	snap.Status = StatusPending

	again, _ := store.Get(ctx, j.ID)
	assert.Equal(t, "Level", again.Records[0].Name)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestMemoryStore_SweepRemovesIdleJobs(t *testing.T) {
	store, clock := newTestStore(time.Hour)
	ctx := context.Background()
	idle, _ := store.Create(ctx, "idle")
	polled, _ := store.Create(ctx, "polled")

	// Poll one job every 10 minutes for three hours.
	for i := 0; i < 18; i++ {
		clock.Advance(10 * time.Minute)
		_, err := store.Get(ctx, polled.ID)
		require.NoError(t, err)
		_, err = store.Sweep(ctx)
		require.NoError(t, err)
	}

	_, err := store.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, polled.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_SweepBoundary(t *testing.T) {
	store, clock := newTestStore(time.Hour)
	ctx := context.Background()
	j, _ := store.Create(ctx, "x")

	clock.Advance(time.Hour)
	n, _ := store.Sweep(ctx)
	assert.Zero(t, n, "exactly TTL idle is not expired yet")

	clock.Advance(time.Second)
	n, _ = store.Sweep(ctx)
	assert.Equal(t, 1, n)

	_, err := store.Get(ctx, j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := store.Create(ctx, fmt.Sprintf("q%d", i))
			if !assert.NoError(t, err) {
				return
			}
			for k := 0; k < 20; k++ {
				got, err := store.Get(ctx, j.ID)
				if assert.NoError(t, err) && got.Status.Terminal() {
					assert.Len(t, got.Records, 2, "terminal status is never seen without its records")
				}
				if k == 10 {
					assert.NoError(t, store.Update(ctx, j.ID, func(j *Job) error {
						return j.Settle([]listing.Record{{Name: "a"}, {Name: "b"}}, nil)
					}))
				}
				_, _ = store.Sweep(ctx)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.Len())
}

func TestSweeper_RunOnce(t *testing.T) {
	store, clock := newTestStore(time.Minute)
	ctx := context.Background()
	_, _ = store.Create(ctx, "a")
	_, _ = store.Create(ctx, "b")
	clock.Advance(2 * time.Minute)

	sw := NewSweeper(store, 15*time.Minute)

	assert.Equal(t, 2, sw.RunOnce(ctx))
	assert.Zero(t, store.Len())
}

func TestSweeper_StartStop(t *testing.T) {
	store, _ := newTestStore(time.Minute)
	sw := NewSweeper(store, time.Second)

	require.NoError(t, sw.Start(context.Background()))
	sw.Stop()
}
