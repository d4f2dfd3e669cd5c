package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/portfolio-engine/internal/ai/provider"
	"github.com/kiranshivaraju/portfolio-engine/internal/api"
	"github.com/kiranshivaraju/portfolio-engine/internal/api/handler"
	mw "github.com/kiranshivaraju/portfolio-engine/internal/api/middleware"
	"github.com/kiranshivaraju/portfolio-engine/internal/cache"
	"github.com/kiranshivaraju/portfolio-engine/internal/config"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/internal/queue"
	"github.com/kiranshivaraju/portfolio-engine/internal/resolver"
	"github.com/kiranshivaraju/portfolio-engine/internal/resolver/logo"
	"github.com/kiranshivaraju/portfolio-engine/internal/steps"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/redis/go-redis/v9"
)

// app holds the long-lived connections and components shared by the serve
// and worker commands.
type app struct {
	cfg          *config.Config
	pool         *pgxpool.Pool
	store        *store.PostgresStore
	redis        *redis.Client
	cache        *cache.RedisCache
	queue        queue.Queue
	orchestrator *pipeline.Orchestrator
}

// connect opens Postgres and Redis and builds the queue and orchestrator.
func connect(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	client, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	redisCache := cache.NewRedisCacheFromClient(client)
	if err := redisCache.Ping(ctx); err != nil {
		pool.Close()
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	q, err := newQueue(cfg.Queue, client)
	if err != nil {
		pool.Close()
		client.Close()
		return nil, err
	}

	pgStore := store.NewPostgresStore(pool)
	return &app{
		cfg:          cfg,
		pool:         pool,
		store:        pgStore,
		redis:        client,
		cache:        redisCache,
		queue:        q,
		orchestrator: pipeline.NewOrchestrator(pgStore, q, redisCache),
	}, nil
}

func (a *app) close() {
	if err := a.redis.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}
	a.pool.Close()
}

func newQueue(cfg config.QueueConfig, client *redis.Client) (queue.Queue, error) {
	switch cfg.Backend {
	case "redis":
		return queue.NewRedisQueue(client, queue.WithPrefix(cfg.Prefix)), nil
	case "memory":
		return queue.NewMemoryQueue(time.Now), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// newWorker wires every step executor into a worker pool.
func (a *app) newWorker(ctx context.Context) (*pipeline.Worker, error) {
	content, err := provider.New(ctx, a.cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", content.Name())

	sources := logo.New(logoConfig(a.cfg.Logo), nil)
	reg, err := steps.NewDefaultRegistry(steps.Deps{
		Store:            a.store,
		Content:          content,
		Resolver:         resolver.New(resolver.NewTieredCache(a.cache, a.store, a.cfg.Logo.CacheTTL)),
		LogoChain:        sources.Chain(),
		InferenceTimeout: a.cfg.AI.InferenceTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build step registry: %w", err)
	}
	if err := reg.ValidateOrder(pipeline.FullRunOrder); err != nil {
		return nil, fmt.Errorf("validate run order: %w", err)
	}

	return pipeline.NewWorker(a.store, a.queue, reg, a.cache, workerConfig(a.cfg)), nil
}

func logoConfig(cfg config.LogoConfig) logo.Config {
	return logo.Config{
		BrandfetchAPIKey:  cfg.BrandfetchAPIKey,
		BrandfetchBaseURL: cfg.BrandfetchBaseURL,
		ClearbitBaseURL:   cfg.ClearbitBaseURL,
		FaviconBaseURL:    cfg.FaviconBaseURL,
		Timeout:           cfg.Timeout,
		RatePerSecond:     cfg.RatePerSecond,
		Burst:             cfg.Burst,
	}
}

func workerConfig(cfg *config.Config) pipeline.WorkerConfig {
	return pipeline.WorkerConfig{
		Concurrency:       cfg.Worker.Concurrency,
		LeaseTTL:          cfg.Queue.LeaseTTL,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Queue.PollInterval,
		PromoteInterval:   cfg.Queue.PromoteInterval,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
	}
}

func (a *app) router() http.Handler {
	return newRouter(a.store, a.cache, a.orchestrator, a.cfg.Server.RateLimitPerMinute)
}

// routeStore is what the HTTP surface reads from Postgres.
type routeStore interface {
	mw.KeyStore
	handler.Results
	handler.Pinger
}

// routeCache is what the HTTP surface needs from Redis.
type routeCache interface {
	mw.Counter
	handler.Pinger
}

func newRouter(s routeStore, c routeCache, p handler.Pipeline, ratePerMinute int) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(c, ratePerMinute),

		HealthHandler:       handler.NewHealthHandler(map[string]handler.Pinger{"database": s, "cache": c}),
		StartRunHandler:     handler.NewStartRunHandler(p),
		EnqueueStepsHandler: handler.NewEnqueueStepsHandler(p),
		StatusHandler:       handler.NewStatusHandler(p),
		RunStatusHandler:    handler.NewRunStatusHandler(p),
		CancelStepHandler:   handler.NewCancelStepHandler(p),
		RankingHandler:      handler.NewRankingHandler(s),
		CompletenessHandler: handler.NewCompletenessHandler(s),
	})
}

// checkTopology rejects process layouts that would strand jobs: the memory
// queue lives in one process, so only an embedded worker pool can drain it.
func checkTopology(cfg *config.Config, embeddedWorkers bool) error {
	if cfg.Queue.Backend == "memory" && !embeddedWorkers {
		return errors.New("QUEUE_BACKEND=memory requires workers in the same process (serve with WORKER_EMBEDDED=true)")
	}
	return nil
}
