package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/repositories"
	"github.com/adreach/settlement_service/internal/domain/services/settlement"
	"github.com/adreach/settlement_service/internal/infrastructure/cache"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
	"github.com/adreach/settlement_service/internal/infrastructure/config"
	"github.com/adreach/settlement_service/internal/infrastructure/database"
	"github.com/adreach/settlement_service/internal/infrastructure/notifications"
	"github.com/adreach/settlement_service/internal/infrastructure/rates"
	"github.com/adreach/settlement_service/pkg/logger"
	"github.com/adreach/settlement_service/pkg/metrics"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB // nil with the memory storage driver
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Version is reported by the health endpoints.
	Version string

	Store    repositories.Store
	Cache    cache.Cache
	Chains   *chain.Registry
	Rates    *rates.Provider
	Notifier *notifications.Dispatcher
	Metrics  *metrics.SettlementMetrics

	SettlementEngine *settlement.Engine

	redisClient *redis.Client
	closers     []io.Closer
}

// NewContainer creates a new dependency injection container. db may be nil
// when the memory storage driver is selected.
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	c := &Container{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		ZapLog:  zapLog,
		Version: "dev",
		Metrics: metrics.Settlement(),
	}

	// Storage and cache
	storage := NewStorageBuilder(cfg, db, zapLog)
	store, err := storage.Build()
	if err != nil {
		return nil, err
	}
	c.Store = store

	c.Cache, err = storage.BuildCache()
	if err != nil {
		return nil, err
	}

	// Chain adapters
	chains, err := NewChainServicesBuilder(cfg.Chains, zapLog).Build(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Chains = chains.Registry

	// Rates
	c.Rates = rates.NewProvider(rates.Config{
		BaseURL:           cfg.Rates.BaseURL,
		APIKey:            cfg.Rates.APIKey,
		Currency:          cfg.Rates.Currency,
		Timeout:           time.Duration(cfg.Rates.TimeoutMs) * time.Millisecond,
		CacheTTL:          time.Duration(cfg.Rates.CacheTTL) * time.Second,
		RequestsPerSecond: cfg.Rates.RequestsPerSecond,
	}, c.Cache, c.Metrics, zapLog)

	// Notifications
	c.Notifier, c.redisClient, err = NewNotificationBuilder(cfg, zapLog).Build(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	if err := c.initializeDomainServices(chains); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize domain services: %w", err)
	}

	zapLog.Info("Container initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis_cache", cfg.Redis.Enabled),
		zap.Int("networks", len(c.Chains.Networks())))

	return c, nil
}

func (c *Container) initializeDomainServices(chains *ChainServices) error {
	c.SettlementEngine = settlement.NewEngine(
		c.Store,
		c.Chains,
		c.Rates,
		c.Notifier,
		c.Metrics,
		c.Logger,
		engineConfig(c.Config, chains),
	)
	return nil
}

// GetSettlementEngine returns the settlement engine
func (c *Container) GetSettlementEngine() *settlement.Engine {
	return c.SettlementEngine
}

// HealthChecks returns the readiness probes for the configured backends.
func (c *Container) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"cache": c.Cache.Ping,
	}
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, c.DB)
		}
	}
	if c.redisClient != nil {
		checks["notifications"] = func(ctx context.Context) error {
			return c.redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases connections owned by the container. The database handle is
// owned by the caller.
// OnClose registers resources created outside the container, such as
// router middleware, to be released by Close.
func (c *Container) OnClose(closer io.Closer) {
	c.closers = append(c.closers, closer)
}

func (c *Container) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
