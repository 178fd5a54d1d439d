package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stocksync/internal/channelsync"
	"github.com/odyssey-erp/stocksync/internal/channelsync/adapters"
	"github.com/odyssey-erp/stocksync/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
	"github.com/odyssey-erp/stocksync/internal/notify"
	"github.com/odyssey-erp/stocksync/internal/observability"
	"github.com/odyssey-erp/stocksync/internal/platform/cache"
	"github.com/odyssey-erp/stocksync/internal/platform/db"
	"github.com/odyssey-erp/stocksync/internal/scheduler"
	"github.com/odyssey-erp/stocksync/internal/shared"
	"github.com/odyssey-erp/stocksync/jobs"
)

const testModeEnv = "STOCKSYNC_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// Runtime holds the wired components shared by the API server and the worker.
type Runtime struct {
	Config     *Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Inventory *inventory.Service
	Registry  *channelsync.Registry
	Manager   *channelsync.Manager
	Scheduler *scheduler.Scheduler
	Webhooks  *adapters.WebhookHandler
	Keys      jobs.KeyJanitor

	closers []func() error
}

// Build connects the backing stores and wires every component. Close releases
// whatever Build opened, also after a partial failure.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()
	rt.JobMetrics = jobmetrics.NewMetrics(rt.Metrics.Registerer())

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, PoolSize: cfg.RedisPoolSize})
		if err != nil {
			if cfg.LockBackend == "redis" || len(cfg.ChannelWebhooks) > 0 {
				return nil, err
			}
			logger.Warn("redis unavailable, running without cache and mail queue", slog.Any("error", err))
		} else {
			rt.Redis = client
			rt.closers = append(rt.closers, client.Close)
		}
	}

	deps := inventory.ServiceDeps{
		Metrics: rt.Metrics,
		Logger:  logger,
	}
	switch cfg.StoreBackend {
	case "memory":
		deps.Repo = inventory.NewMemoryRepository()
		keys := shared.NewMemoryIdempotencyStore()
		deps.Idempotency, rt.Keys = keys, keys
		deps.Audit = shared.SlogAuditLogger{Logger: logger}
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		deps.Repo = inventory.NewPostgresRepository(pool)
		keys := shared.NewIdempotencyStore(pool)
		deps.Idempotency, rt.Keys = keys, keys
		deps.Audit = shared.NewAuditLogger(pool)
	}
	if cfg.LockBackend == "redis" {
		deps.Locker = inventory.NewRedisLocker(rt.Redis, cfg.LockTTL)
	}
	if rt.Redis != nil {
		deps.Cache = cache.NewCache(rt.Redis, "stocksync:analytics", cfg.AnalyticsCacheTTL)
	}
	deps.Publisher = rt.publishers(cfg, logger)

	rt.Inventory = inventory.NewService(deps, inventory.NewLedger(cfg.AlertSettings()))

	rt.Registry = channelsync.NewRegistry()
	var webhookAdapters []*adapters.WebhookAdapter
	for name, base := range cfg.ChannelEndpoints {
		ch := inventory.Channel(name)
		if err := rt.Registry.Register(ch, adapters.NewHTTPAdapter(ch, base, cfg.ChannelToken, cfg.SyncTimeout)); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.ChannelWebhooks {
		a := adapters.NewWebhookAdapter(inventory.Channel(name), rt.Redis, nil)
		if err := rt.Registry.Register(a.Channel(), a); err != nil {
			return nil, err
		}
		webhookAdapters = append(webhookAdapters, a)
	}
	if len(webhookAdapters) > 0 {
		rt.Webhooks = adapters.NewWebhookHandler(logger, cfg.WebhookToken, webhookAdapters...)
	}

	rt.Manager = channelsync.NewManager(rt.Inventory, rt.Registry, deps.Idempotency, nil, logger, channelsync.Options{
		Frequency:   cfg.SyncFrequency,
		Timeout:     cfg.SyncTimeout,
		PullOverlap: cfg.SyncPullOverlap,
		Backoff:     scheduler.ExponentialBackoff{Base: cfg.SyncFrequency, Max: cfg.SyncBackoffMax},
	})
	rt.Inventory.SetSyncCanceller(rt.Manager)
	rt.Scheduler = scheduler.New(rt.Inventory, rt.Manager, nil, logger, scheduler.Config{
		Interval: cfg.SyncTickInterval,
		Workers:  cfg.SyncWorkers,
	})
	logger.Info("runtime ready",
		slog.String("store", cfg.StoreBackend),
		slog.String("locks", cfg.LockBackend),
		slog.Any("channels", rt.Registry.Channels()),
	)
	return rt, nil
}

func (rt *Runtime) publishers(cfg *Config, logger *slog.Logger) inventory.EventPublisher {
	var fanout notify.Fanout
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		rt.closers = append(rt.closers, kp.Close)
		fanout = append(fanout, kp)
	}
	if cfg.AlertEmailTo != "" && rt.Redis != nil {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("mail queue unavailable", slog.Any("error", err))
		} else {
			rt.closers = append(rt.closers, client.Close)
			fanout = append(fanout, notify.NewEmailNotifier(client, cfg.AlertEmailTo, logger))
		}
	}
	if len(fanout) == 0 {
		return nil
	}
	return fanout
}

// NewInventoryHandler binds the REST handler to the runtime's service and scheduler.
func NewInventoryHandler(rt *Runtime) *inventory.Handler {
	return inventory.NewHandler(rt.Logger, rt.Inventory, rt.Scheduler)
}

// Ready pings the backing stores.
func (rt *Runtime) Ready(r *http.Request) error {
	var errs []error
	if rt.Pool != nil {
		if err := rt.Pool.Ping(r.Context()); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(r.Context()).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.Logger != nil {
			rt.Logger.Warn("runtime close", slog.Any("error", err))
		}
	}
	rt.closers = nil
}
