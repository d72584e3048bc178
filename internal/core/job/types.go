package job

import (
	"time"

	"pricecompare/internal/core/listing"
)

// Job is one user search and its lifecycle.
type Job struct {
	ID             string           `json:"id"`
	Query          string           `json:"query"`
	Status         Status           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	LastAccessedAt time.Time        `json:"last_accessed_at"`
	Records        []listing.Record `json:"records"`
	Errors         []ScraperError   `json:"errors"`
}

// Status for job tracking
type Status string

const (
	StatusPending      Status = "pending"
	StatusCompleted    Status = "completed"
	StatusPartialError Status = "partial_error"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartialError
}

// ScraperError records one failed source for a job.
type ScraperError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Settle writes the terminal state. Status is completed when errs is empty
// and partial_error otherwise; records and errors are copied so callers
// cannot mutate stored state afterwards.
func (j *Job) Settle(records []listing.Record, errs []ScraperError) error {
	if j.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	j.Records = append(make([]listing.Record, 0, len(records)), records...)
	j.Errors = append(make([]ScraperError, 0, len(errs)), errs...)
	if len(errs) == 0 {
		j.Status = StatusCompleted
	} else {
		j.Status = StatusPartialError
	}
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	c := *j
	c.Records = append(make([]listing.Record, 0, len(j.Records)), j.Records...)
	c.Errors = append(make([]ScraperError, 0, len(j.Errors)), j.Errors...)
	return &c
}
