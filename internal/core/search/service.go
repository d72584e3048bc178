package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pricecompare/internal/core/job"
	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"
	"pricecompare/internal/platform/tasks"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
)

const TaskTypeRun = "search:run"

// Enqueuer hands tasks to a background queue.
type Enqueuer interface {
	Enqueue(task *asynq.Task, queue string, maxRetries int) error
}

type Options struct {
	// ScraperTimeout bounds each fetcher call. Zero disables the bound.
	ScraperTimeout time.Duration
	// Queue, when set, receives dispatched searches instead of an
	// in-process goroutine.
	Queue Enqueuer
}

// Service fans a query out to every registered fetcher, waits for all of
// them to settle and writes the combined outcome to the job store once.
type Service struct {
	store    job.Store
	fetchers []listing.Fetcher
	timeout  time.Duration
	queue    Enqueuer
	inflight sync.WaitGroup
	log      *logger.Logger
}

func NewService(store job.Store, fetchers []listing.Fetcher, opts Options) *Service {
	return &Service{
		store:    store,
		fetchers: fetchers,
		timeout:  opts.ScraperTimeout,
		queue:    opts.Queue,
		log:      logger.New("Orchestrator"),
	}
}

type outcome struct {
	records []listing.Record
	err     error
}

// Start creates a pending job for query and dispatches it. It returns before
// any fetcher has settled.
func (s *Service) Start(ctx context.Context, query string) (*job.Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	j, err := s.store.Create(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := s.Dispatch(j.ID, query); err != nil {
		// The job would stay pending forever; record why instead.
		s.fault(ctx, j.ID, fmt.Sprintf("dispatch failed: %v", err))
		return nil, err
	}
	s.log.Info().Str("job_id", j.ID).Str("query", query).Int("scrapers", len(s.fetchers)).Msg("search started")
	return j, nil
}

// Get returns the job snapshot, refreshing its idle timer.
func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// Dispatch runs the search in the background: on the task queue when one is
// configured, otherwise on a goroutine detached from any request context.
func (s *Service) Dispatch(jobID, query string) error {
	if s.queue != nil {
		payload, err := json.Marshal(RunTaskPayload{JobID: jobID, Query: query})
		if err != nil {
			return err
		}
		// Scrapers are not retried; a failed source is reported as such.
		return s.queue.Enqueue(asynq.NewTask(TaskTypeRun, payload), tasks.QueueSearch, 0)
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_ = s.Run(context.Background(), jobID, query)
	}()
	return nil
}

// Wait blocks until every in-process run has written its result.
func (s *Service) Wait() { s.inflight.Wait() }

// HandleRunTask is the queue worker entry point.
func (s *Service) HandleRunTask(ctx context.Context, task *asynq.Task) error {
	var p RunTaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return s.Run(ctx, p.JobID, p.Query)
}

// Run invokes all fetchers concurrently, settles all of them and writes the
// terminal status, records and errors in one update.
func (s *Service) Run(ctx context.Context, jobID, query string) (err error) {
	started := time.Now()
	written := false
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job_id", jobID).Interface("panic", r).Msg("critical error during scraper orchestration")
			if !written {
				err = s.fault(ctx, jobID, fmt.Sprintf("%v", r))
			}
		}
	}()

	records, errs := s.partition(jobID, s.fanOut(ctx, query))

	err = s.store.Update(ctx, jobID, func(j *job.Job) error { return j.Settle(records, errs) })
	written = true
	if err != nil {
		s.log.LogError("failed to store results for job "+jobID, err)
		return err
	}

	event := s.log.Info()
	if len(errs) > 0 {
		event = s.log.Warn()
	}
	event.Str("job_id", jobID).Int("records", len(records)).Int("failures", len(errs)).Dur("took", time.Since(started)).Msg("search settled")
	return nil
}

// fanOut settles every fetcher. Failures are carried in the outcomes, so the
// group never cancels siblings and Wait always returns nil.
func (s *Service) fanOut(ctx context.Context, query string) []outcome {
	outcomes := make([]outcome, len(s.fetchers))
	var g errgroup.Group
	for i, f := range s.fetchers {
		g.Go(func() error {
			records, err := s.call(ctx, f, query)
			outcomes[i] = outcome{records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// call runs one fetcher under the per-scraper timeout. A fetcher that ignores
// its context is abandoned when the deadline passes; its goroutine finishes
// on its own and the late result is dropped.
func (s *Service) call(ctx context.Context, f listing.Fetcher, query string) ([]listing.Record, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("scraper panicked: %v", r)}
			}
		}()
		records, err := f.FetchListings(ctx, query)
		done <- outcome{records: records, err: err}
	}()

	select {
	case o := <-done:
		return o.records, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s", s.timeout)
		}
		return nil, ctx.Err()
	}
}

// partition keeps registration order for both records and errors.
func (s *Service) partition(jobID string, outcomes []outcome) ([]listing.Record, []job.ScraperError) {
	records := make([]listing.Record, 0)
	errs := make([]job.ScraperError, 0)
	for i, o := range outcomes {
		name := s.fetchers[i].Name()
		if o.err != nil {
			s.log.Warn().Str("job_id", jobID).Str("scraper", name).Err(o.err).Msg("scraper failed")
			errs = append(errs, job.ScraperError{Source: name, Message: o.err.Error()})
			continue
		}
		s.log.Debug().Str("job_id", jobID).Str("scraper", name).Int("items", len(o.records)).Msg("scraper succeeded")
		records = append(records, o.records...)
	}
	return records, errs
}

// fault settles the job as partial_error with a synthetic Orchestration entry.
func (s *Service) fault(ctx context.Context, jobID, msg string) error {
	return s.store.Update(ctx, jobID, func(j *job.Job) error {
		if j.Status.Terminal() {
			return nil
		}
		return j.Settle(nil, []job.ScraperError{{Source: OrchestrationSource, Message: msg}})
	})
}
