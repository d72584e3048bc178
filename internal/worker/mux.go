package worker

import (
	"context"

	"pricecompare/internal/logger"
	"pricecompare/internal/platform/redis"
	"pricecompare/internal/platform/tasks"

	"github.com/hibiken/asynq"
)

type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

// NewServer builds the asynq server consuming the search queue.
func NewServer(r *redis.Service, concurrency int) *asynq.Server {
	log := logger.New("Worker")
	return asynq.NewServer(r.AsynqRedisOpt(), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{tasks.QueueSearch: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
}
