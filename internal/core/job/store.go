package job

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the job never existed or has expired.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyTerminal is returned when a settled job is settled again.
	ErrAlreadyTerminal = errors.New("job already settled")
)

// Store keeps job state for the lifetime of the process. Implementations must
// be safe for concurrent use.
type Store interface {
	// Create registers a pending job for query.
	Create(ctx context.Context, query string) (*Job, error)
	// Get returns a snapshot of the job and refreshes its last access time.
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn atomically. A missing id is a no-op, not an error,
	// so a late write never resurrects a swept job. An error from fn aborts
	// the update and is returned.
	Update(ctx context.Context, id string, fn func(*Job) error) error
	// Sweep removes jobs idle longer than the TTL and returns how many.
	Sweep(ctx context.Context) (int, error)
}
