package job

import (
	"context"
	"sync"
	"time"

	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"

	"github.com/google/uuid"
)

// MemoryStore keeps jobs in a map guarded by one mutex. Get takes the write
// lock because reading a job refreshes its access time.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
	now  func() time.Time
	log  *logger.Logger
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
		now:  time.Now,
		log:  logger.New("JobStore"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Create(_ context.Context, query string) (*Job, error) {
	now := s.now()
	j := &Job{
		ID:             uuid.New().String(),
		Query:          query,
		Status:         StatusPending,
		CreatedAt:      now,
		LastAccessedAt: now,
		Records:        []listing.Record{},
		Errors:         []ScraperError{},
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	return j.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j.LastAccessedAt = s.now()
	return j.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		s.log.LogDebugf("discarding update for missing job %s", id)
		return nil
	}
	// Mutate a copy so a failing fn leaves the stored job untouched.
	next := j.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.jobs[id] = next
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, j := range s.jobs {
		if now.Sub(j.LastAccessedAt) > s.ttl {
			delete(s.jobs, id)
			removed++
			s.log.LogInfof("removing expired search results for job %s", id)
		}
	}
	return removed, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Ping satisfies the health check signature.
func (s *MemoryStore) Ping(context.Context) error { return nil }
