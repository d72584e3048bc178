package scrape

import (
	"context"
	"errors"
	"time"

	"pricecompare/internal/core/grouping"
	"pricecompare/internal/core/listing"
	"pricecompare/internal/logger"
	"pricecompare/internal/platform/redis"
)

// Cache is the subset of the Redis service used for listing results.
type Cache interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error
}

// CachedFetcher serves repeated queries for the same store from Redis.
// Failed fetches are never cached.
type CachedFetcher struct {
	next  listing.Fetcher
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedFetcher(next listing.Fetcher, cache Cache, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{next: next, cache: cache, ttl: ttl, log: logger.New("ListingCache").With("store", next.Name())}
}

func (f *CachedFetcher) Name() string { return f.next.Name() }

func (f *CachedFetcher) FetchListings(ctx context.Context, query string) ([]listing.Record, error) {
	key := cacheKey(f.next.Name(), query)

	var cached []listing.Record
	err := f.cache.CacheGet(ctx, key, &cached)
	switch {
	case err == nil:
		f.log.LogDebugf("cache hit %s", key)
		return cached, nil
	case !errors.Is(err, redis.ErrCacheMiss):
		f.log.LogWarnf("cache read %s: %v", key, err)
	}

	records, err := f.next.FetchListings(ctx, query)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []listing.Record{}
	}
	if err := f.cache.CacheSet(ctx, key, records, f.ttl); err != nil {
		f.log.LogWarnf("cache write %s: %v", key, err)
	}
	return records, nil
}

func cacheKey(store, query string) string {
	return "search:listings:" + store + ":" + grouping.Normalize(query)
}
