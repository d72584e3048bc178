package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pricecompare/internal/config"
	"pricecompare/internal/core/artifacts"
	"pricecompare/internal/core/job"
	"pricecompare/internal/core/scrape"
	"pricecompare/internal/core/search"
	"pricecompare/internal/health"
	"pricecompare/internal/logger"
	rds "pricecompare/internal/platform/redis"
	tasks "pricecompare/internal/platform/tasks"
	"pricecompare/internal/server"
	"pricecompare/internal/worker"

	"github.com/hibiken/asynq"
)

func main() {
	cfg := config.Load()
	log.Printf("[pricecompare] starting at %s (env=%s, store=%s, dispatch=%s)\n", cfg.HTTPAddr, cfg.AppEnv, cfg.StoreBackend, cfg.DispatchMode)

	logr := logger.New("main")
	checks := map[string]health.CheckFunc{}

	var redisSvc *rds.Service
	if cfg.NeedsRedis() {
		var err error
		redisSvc, err = rds.New(rds.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logr.LogFatal("failed to connect to redis", err)
		}
		defer redisSvc.Close()
		checks["redis"] = redisSvc.HealthCheck
	}

	var store job.Store
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rs := job.NewRedisStore(redisSvc, cfg.JobTTL)
		checks["store"] = rs.Ping
		store = rs
	default:
		ms := job.NewMemoryStore(cfg.JobTTL)
		checks["store"] = ms.Ping
		store = ms
	}

	sites, err := scrape.LoadSites(cfg.SitesFile)
	if err != nil {
		logr.LogFatal("failed to load sites", err)
	}
	fetchOpts := scrape.Options{CacheTTL: cfg.ListingCacheTTL}
	if redisSvc != nil {
		fetchOpts.Cache = redisSvc
	}
	if cfg.DebugArtifacts {
		sink, err := artifacts.New(cfg)
		if err != nil {
			logr.LogFatal("failed to initialize artifact storage", err)
		}
		fetchOpts.Artifacts = sink
	}
	fetchers := scrape.BuildFetchers(sites, fetchOpts)
	for _, f := range fetchers {
		logr.LogInfof("registered scraper %s", f.Name())
	}

	searchOpts := search.Options{ScraperTimeout: cfg.ScraperTimeout}
	var (
		taskClient  *tasks.Client
		asynqServer *asynq.Server
	)
	if cfg.DispatchMode == config.DispatchQueue {
		taskClient = tasks.New(redisSvc)
		defer taskClient.Close()
		searchOpts.Queue = taskClient
	}
	searchSvc := search.NewService(store, fetchers, searchOpts)

	if taskClient != nil {
		mux := worker.NewMux()
		mux.HandleFunc(search.TaskTypeRun, searchSvc.HandleRunTask)
		asynqServer = worker.NewServer(redisSvc, cfg.WorkerConcurrency)
		go func() {
			if err := asynqServer.Start(mux.Mux()); err != nil {
				logr.LogErrorf("worker stopped: %v", err)
			}
		}()
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := job.NewSweeper(store, cfg.SweepInterval)
	if err := sweeper.Start(sweepCtx); err != nil {
		logr.LogFatal("failed to start sweeper", err)
	}

	app := server.NewApp()
	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Search:   searchSvc,
		Checks:   checks,
		FilesDir: filepath.Clean(cfg.DataDir),
	})
	healthHandler.SetReady()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		sweepCancel()
		sweeper.Stop()
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		logr.LogFatal("server listen", err)
	}
	// Let inline searches finish their single write before exiting.
	searchSvc.Wait()
}
