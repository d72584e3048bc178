package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string

	StoreBackend      string
	DispatchMode      string
	WorkerConcurrency int

	JobTTL          time.Duration
	SweepInterval   time.Duration
	ScraperTimeout  time.Duration
	ListingCacheTTL time.Duration

	SitesFile      string
	DebugArtifacts bool

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvDuration accepts Go duration strings ("90s", "1h").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       getenv("DATA_DIR", "./data"),

		StoreBackend:      getenv("STORE_BACKEND", StoreMemory),
		DispatchMode:      getenv("DISPATCH_MODE", DispatchInline),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 10),

		JobTTL:          getenvDuration("JOB_TTL", time.Hour),
		SweepInterval:   getenvDuration("SWEEP_INTERVAL", 15*time.Minute),
		ScraperTimeout:  getenvDuration("SCRAPER_TIMEOUT", 90*time.Second),
		ListingCacheTTL: getenvDuration("LISTING_CACHE_TTL", 0),

		SitesFile:      os.Getenv("SITES_FILE"),
		DebugArtifacts: getenvBool("DEBUG_ARTIFACTS", false),

		SupabaseURL:        os.Getenv("NEXT_PUBLIC_SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "scrape-artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.StoreBackend == StoreRedis || c.DispatchMode == DispatchQueue || c.ListingCacheTTL > 0
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StoreRedis, c.StoreBackend)
	}
	switch c.DispatchMode {
	case DispatchInline, DispatchQueue:
	default:
		return fmt.Errorf("DISPATCH_MODE must be %q or %q, got %q", DispatchInline, DispatchQueue, c.DispatchMode)
	}
	if c.NeedsRedis() && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=redis, DISPATCH_MODE=queue or LISTING_CACHE_TTL is set")
	}
	if c.DispatchMode == DispatchQueue && c.StoreBackend != StoreRedis {
		// Workers may live in another process; they must see the same jobs.
		return fmt.Errorf("DISPATCH_MODE=queue requires STORE_BACKEND=redis")
	}
	if c.JobTTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}
