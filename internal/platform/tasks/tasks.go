package tasks

import (
	"pricecompare/internal/platform/redis"

	"github.com/hibiken/asynq"
)

// QueueSearch carries search runs.
const QueueSearch = "search"

type Client struct{ c *asynq.Client }

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

// Enqueue submits task to queue. maxRetries of 0 means the task runs at most
// once.
func (t *Client) Enqueue(task *asynq.Task, queue string, maxRetries int) error {
	_, err := t.c.Enqueue(task, asynq.Queue(queue), asynq.MaxRetry(maxRetries))
	return err
}

func (t *Client) Close() error { return t.c.Close() }
