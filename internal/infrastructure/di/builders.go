package di

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
	"github.com/adreach/settlement_service/internal/domain/services/settlement"
	"github.com/adreach/settlement_service/internal/infrastructure/cache"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
	"github.com/adreach/settlement_service/internal/infrastructure/chain/evm"
	"github.com/adreach/settlement_service/internal/infrastructure/chain/tron"
	"github.com/adreach/settlement_service/internal/infrastructure/config"
	"github.com/adreach/settlement_service/internal/infrastructure/notifications"
	"github.com/adreach/settlement_service/internal/infrastructure/repositories"
	"github.com/adreach/settlement_service/internal/infrastructure/repositories/memory"
)

// ============================================================================
// STORAGE
// ============================================================================

// StorageBuilder selects the persistence backend
type StorageBuilder struct {
	cfg    *config.Config
	db     *sqlx.DB
	logger *zap.Logger
}

func NewStorageBuilder(cfg *config.Config, db *sqlx.DB, logger *zap.Logger) *StorageBuilder {
	return &StorageBuilder{cfg: cfg, db: db, logger: logger}
}

// Build returns the Postgres store, or the in-process store for the memory driver.
func (b *StorageBuilder) Build() (domainrepos.Store, error) {
	switch b.cfg.Storage.Driver {
	case config.StorageDriverMemory:
		b.logger.Warn("Using in-memory storage; state is lost on restart")
		return memory.NewStore(), nil
	case config.StorageDriverPostgres:
		if b.db == nil {
			return nil, fmt.Errorf("postgres storage selected but no database connection was provided")
		}
		return repositories.NewStore(b.db, b.logger), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", b.cfg.Storage.Driver)
	}
}

// BuildCache returns a Redis cache when enabled, otherwise an in-process one.
func (b *StorageBuilder) BuildCache() (cache.Cache, error) {
	if !b.cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(&b.cfg.Redis, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return c, nil
}

// ============================================================================
// CHAINS
// ============================================================================

// ChainServicesBuilder builds one client per enabled network
type ChainServicesBuilder struct {
	cfg    config.ChainsConfig
	logger *zap.Logger
}

func NewChainServicesBuilder(cfg config.ChainsConfig, logger *zap.Logger) *ChainServicesBuilder {
	return &ChainServicesBuilder{cfg: cfg, logger: logger}
}

// ChainServices holds the chain registry and the per-network settings the
// engine needs.
type ChainServices struct {
	Registry         *chain.Registry
	DepositAddresses map[entities.Network]string
	MinDeposits      map[entities.Asset]*big.Int
	MaxDeposits      map[entities.Asset]*big.Int
	TokenContracts   map[entities.Asset]string
}

// Build dials every enabled network. A node that cannot be dialled fails
// startup rather than leaving an asset silently unsettleable.
func (b *ChainServicesBuilder) Build(ctx context.Context) (*ChainServices, error) {
	out := &ChainServices{
		Registry:         chain.NewRegistry(),
		DepositAddresses: make(map[entities.Network]string),
		MinDeposits:      make(map[entities.Asset]*big.Int),
		MaxDeposits:      make(map[entities.Asset]*big.Int),
		TokenContracts:   make(map[entities.Asset]string),
	}

	if t := b.cfg.Tron; t.Enabled {
		client := tron.NewClient(tron.Config{
			BaseURL:           t.BaseURL,
			APIKey:            t.APIKey,
			Timeout:           time.Duration(t.Timeout) * time.Second,
			RequestsPerSecond: t.RequestsPerSecond,
			USDTContract:      t.USDTContract,
		}, b.logger)
		out.Registry.Register(client)
		out.DepositAddresses[entities.NetworkTron] = t.DepositAddress
		if t.USDTContract != "" {
			out.TokenContracts[entities.AssetUSDTTRC20] = t.USDTContract
		}
		if err := setDepositLimit(out.MinDeposits, entities.AssetUSDTTRC20, "minimum", t.MinDeposit); err != nil {
			return nil, err
		}
		if err := setDepositLimit(out.MaxDeposits, entities.AssetUSDTTRC20, "maximum", t.MaxDeposit); err != nil {
			return nil, err
		}
		b.logger.Info("Tron client configured", zap.String("base_url", t.BaseURL))
	}

	evmNetworks := []struct {
		network entities.Network
		asset   entities.Asset
		cfg     config.EVMNetworkConfig
	}{
		{entities.NetworkEthereum, entities.AssetETH, b.cfg.Ethereum},
		{entities.NetworkBSC, entities.AssetBNB, b.cfg.BSC},
	}
	for _, n := range evmNetworks {
		if !n.cfg.Enabled {
			continue
		}
		client, err := evm.Dial(ctx, evm.Config{
			Network:       n.network,
			RPCURL:        n.cfg.RPCURL,
			ChainID:       n.cfg.ChainID,
			Confirmations: n.cfg.Confirmations,
			Timeout:       time.Duration(n.cfg.Timeout) * time.Second,
		}, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s client: %w", n.network, err)
		}
		out.Registry.Register(client)
		out.DepositAddresses[n.network] = n.cfg.DepositAddress
		if err := setDepositLimit(out.MinDeposits, n.asset, "minimum", n.cfg.MinDeposit); err != nil {
			return nil, err
		}
		if err := setDepositLimit(out.MaxDeposits, n.asset, "maximum", n.cfg.MaxDeposit); err != nil {
			return nil, err
		}
		b.logger.Info("EVM client configured",
			zap.String("network", string(n.network)),
			zap.Int64("chain_id", n.cfg.ChainID),
			zap.Uint64("confirmations", n.cfg.Confirmations))
	}

	return out, nil
}

// setDepositLimit converts a human-readable deposit bound into minor units.
// An empty value keeps the engine default.
func setDepositLimit(dst map[entities.Asset]*big.Int, asset entities.Asset, kind, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	spec, _ := asset.Spec()
	minor, err := entities.ParseAmount(value, spec.Decimals)
	if err != nil {
		return fmt.Errorf("invalid %s deposit %q for %s: %w", kind, value, asset, err)
	}
	dst[asset] = minor
	return nil
}

// ============================================================================
// NOTIFICATIONS
// ============================================================================

// NotificationBuilder assembles the settlement event publishers
type NotificationBuilder struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewNotificationBuilder(cfg *config.Config, logger *zap.Logger) *NotificationBuilder {
	return &NotificationBuilder{cfg: cfg, logger: logger}
}

// Build always logs events and adds Redis pub/sub and SNS when configured.
// The returned Redis client, if any, must be closed by the caller.
func (b *NotificationBuilder) Build(ctx context.Context) (*notifications.Dispatcher, *redis.Client, error) {
	publishers := []notifications.Publisher{notifications.NewLogPublisher(b.logger)}

	var redisClient *redis.Client
	if b.cfg.Notification.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", b.cfg.Redis.Host, b.cfg.Redis.Port),
			Password: b.cfg.Redis.Password,
			DB:       b.cfg.Redis.DB,
			PoolSize: b.cfg.Redis.PoolSize,
		})
		publishers = append(publishers, notifications.NewRedisPublisher(redisClient, b.cfg.Notification.Channel))
	}

	if arn := b.cfg.Notification.SNSTopicARN; arn != "" {
		sns, err := notifications.NewSNSPublisher(ctx, b.cfg.Notification.AWSRegion, arn)
		if err != nil {
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil, nil, fmt.Errorf("failed to initialize SNS publisher: %w", err)
		}
		publishers = append(publishers, sns)
	}

	return notifications.NewDispatcher(b.logger, publishers...), redisClient, nil
}

// engineConfig maps service configuration onto settlement parameters.
func engineConfig(cfg *config.Config, chains *ChainServices) *settlement.EngineConfig {
	ec := settlement.DefaultEngineConfig()
	ec.ChainTimeout = cfg.Settlement.ChainTimeoutDuration()
	for asset, minimum := range chains.MinDeposits {
		ec.MinDeposits[asset] = minimum
	}
	for asset, maximum := range chains.MaxDeposits {
		ec.MaxDeposits[asset] = maximum
	}
	ec.DepositAddresses = chains.DepositAddresses
	ec.TokenContracts = chains.TokenContracts
	if cfg.Rates.Currency != "" {
		ec.FiatCurrency = strings.ToUpper(cfg.Rates.Currency)
	}
	if ttl := cfg.Settlement.IntentTTLDuration(); ttl > 0 {
		ec.IntentTTL = ttl
	}
	if cfg.Settlement.PollBatchSize > 0 {
		ec.PollBatchSize = cfg.Settlement.PollBatchSize
	}
	ec.PollMinAge = cfg.Settlement.PollMinAgeDuration()
	return ec
}
