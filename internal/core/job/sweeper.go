package job

import (
	"context"
	"fmt"
	"time"

	"pricecompare/internal/logger"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Store.Sweep on a fixed cadence, independent of the TTL.
type Sweeper struct {
	cron  *cron.Cron
	store Store
	spec  string
	log   *logger.Logger
}

// NewSweeper creates a Sweeper that fires every interval. Cron rounds
// sub-second intervals up to one second.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		cron:  cron.New(),
		store: store,
		spec:  fmt.Sprintf("@every %s", interval),
		log:   logger.New("Sweeper"),
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	s.log.LogInfof("sweeper started, spec: %s", s.spec)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.LogInfo("sweeper stopped")
}

// RunOnce performs a single sweep and returns how many jobs were removed.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		s.log.LogError("sweep failed", err)
		return 0
	}
	if n > 0 {
		s.log.LogInfof("swept %d expired jobs", n)
	}
	return n
}
