package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"
	rds "pricecompare/internal/platform/redis"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const maxUpdateAttempts = 5

var errMissing = errors.New("missing")

// RedisStore keeps each job as JSON under its own key. The idle TTL is the
// key expiry: Get pushes it forward, Update keeps it, and Redis drops idle
// jobs on its own, so Sweep has nothing to do.
type RedisStore struct {
	redis *rds.Service
	ttl   time.Duration
	log   *logger.Logger
}

func NewRedisStore(redis *rds.Service, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redis, ttl: ttl, log: logger.New("JobStore")}
}

func (s *RedisStore) Create(ctx context.Context, query string) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		ID:             uuid.New().String(),
		Query:          query,
		Status:         StatusPending,
		CreatedAt:      now,
		LastAccessedAt: now,
		Records:        []listing.Record{},
		Errors:         []ScraperError{},
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	ok, err := s.redis.Client().SetNX(ctx, key(j.ID), b, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("create job: id collision %s", j.ID)
	}
	return j, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	var get *redisv8.StringCmd
	_, err := s.redis.Client().TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		get = p.Get(ctx, key(id))
		p.Expire(ctx, key(id), s.ttl)
		return nil
	})
	if errors.Is(err, redisv8.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	b, err := get.Bytes()
	if errors.Is(err, redisv8.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	// The stored copy is not rewritten on read; expiry carries the idle clock.
	j.LastAccessedAt = time.Now().UTC()
	return &j, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Job) error) error {
	k := key(id)
	txf := func(tx *redisv8.Tx) error {
		b, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redisv8.Nil) {
			return errMissing
		}
		if err != nil {
			return err
		}
		var j Job
		if err := json.Unmarshal(b, &j); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := fn(&j); err != nil {
			return err
		}
		nb, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redisv8.Pipeliner) error {
			p.Set(ctx, k, nb, redisv8.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.redis.Client().Watch(ctx, txf, k)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errMissing):
			s.log.LogDebugf("discarding update for missing job %s", id)
			return nil
		case errors.Is(err, redisv8.TxFailedErr):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("update job %s: too much contention", id)
}

func (s *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }

// Ping checks the backing Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error { return s.redis.HealthCheck(ctx) }

func key(id string) string { return "search:job:" + id }
