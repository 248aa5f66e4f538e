// Package app wires the configured services together for the server, the
// serverless handler and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	config "reorder-api/configs"
	"reorder-api/pkg/handlers"
	"reorder-api/pkg/logging"
	"reorder-api/pkg/services"
)

// App はアプリケーション全体のサービスを保持します。
type App struct {
	Config     *config.Config
	Store      *services.SQLiteOrderStore
	Client     *services.OrderingClient
	Cache      services.AvailabilityCache
	Predictor  *services.ItemPredictor
	Importer   *services.OrderImportService
	Sync       *services.SyncService
	Basket     *services.BasketService
	Monitoring *services.MonitoringService
}

// New validates cfg and builds every service. A Redis cache that cannot be
// reached is replaced by an in-memory cache.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := services.NewSQLiteOrderStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open order store: %w", err)
	}

	client := services.NewOrderingClient(services.OrderingClientConfig{
		BaseURL:       cfg.Ordering.BaseURL,
		Token:         cfg.Ordering.Token,
		Timeout:       cfg.Ordering.Timeout,
		MaxRetries:    cfg.Ordering.RetryAttempts,
		RatePerMinute: cfg.Ordering.RateLimit,
	})

	cache := newAvailabilityCache(ctx, cfg.Cache)
	lookup := services.NewCachedAvailabilityLookup(client, cache, cfg.Cache.TTL)

	return &App{
		Config: cfg,
		Store:  store,
		Client: client,
		Cache:  cache,
		Predictor: services.NewItemPredictor(lookup, services.PredictorOptions{
			LookupConcurrency: cfg.Ordering.LookupConcurrency,
			LookupTimeout:     cfg.Ordering.LookupTimeout,
		}),
		Importer: services.NewOrderImportService(),
		Sync: services.NewSyncService(client, store, services.SyncOptions{
			PageSize:        cfg.Sync.PageSize,
			IncrementalDays: cfg.Sync.IncrementalDays,
			FullSyncDays:    cfg.Sync.FullSyncDays,
		}),
		Basket:     services.NewBasketService(client, store),
		Monitoring: services.NewMonitoringService(),
	}, nil
}

func newAvailabilityCache(ctx context.Context, cfg config.CacheConfig) services.AvailabilityCache {
	if cfg.RedisAddr == "" {
		return services.NewMemoryAvailabilityCache()
	}
	cache, err := services.NewRedisAvailabilityCache(ctx, services.RedisCacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logging.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, using in-memory availability cache")
		return services.NewMemoryAvailabilityCache()
	}
	return cache
}

// Router builds the HTTP API over the app's services.
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(handlers.Dependencies{
		Config:      a.Config,
		Store:       a.Store,
		Recommender: a.Predictor,
		Importer:    a.Importer,
		Syncer:      a.Sync,
		Basket:      a.Basket,
		Monitoring:  a.Monitoring,
	})
}

// Close releases the store, the cache and idle client connections.
func (a *App) Close() error {
	a.Client.Close()
	var errs []error
	if closer, ok := a.Cache.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
