package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadforge/internal/cache"
	"github.com/sells-group/leadforge/internal/enrich"
	"github.com/sells-group/leadforge/internal/lead"
	"github.com/sells-group/leadforge/internal/queue"
	"github.com/sells-group/leadforge/internal/store"
)

// appEnv holds the initialized store, redis-backed cache and queue, and the
// services needed by the serve/worker/enrich commands.
type appEnv struct {
	Store  store.Store
	Redis  *redis.Client
	Cache  *cache.Store
	Queue  *queue.Queue
	Leads  *lead.Service
	Enrich *enrich.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Cache != nil {
		e.Cache.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, redis, cache, queue, and services. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "ping redis")
	}

	q, err := queue.New(ctx, client, queue.Options{
		Stream:      cfg.Queue.Stream,
		Group:       cfg.Queue.Group,
		MaxAttempts: cfg.Queue.MaxAttempts,
		MinIdle:     time.Duration(cfg.Queue.MinIdleSecs) * time.Second,
	})
	if err != nil {
		_ = client.Close()
		_ = st.Close()
		return nil, err
	}

	cacheStore := cache.New(client)
	enrichSvc := enrich.NewService(cacheStore, enrich.HTTPOptions{
		Timeout:   time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
		UserAgent: cfg.Enrich.UserAgent,
		ScrapeRPS: cfg.Enrich.ScrapeRPS,
	}).WithCacheTTL(time.Duration(cfg.Enrich.CacheTTLHours) * time.Hour)

	return &appEnv{
		Store:  st,
		Redis:  client,
		Cache:  cacheStore,
		Queue:  q,
		Leads:  lead.NewService(st),
		Enrich: enrichSvc,
	}, nil
}

// newUncachedEnricher builds an enrichment service with caching disabled.
func newUncachedEnricher() *enrich.Service {
	return enrich.NewService(nil, enrich.HTTPOptions{
		Timeout:   time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
		UserAgent: cfg.Enrich.UserAgent,
		ScrapeRPS: cfg.Enrich.ScrapeRPS,
	})
}
