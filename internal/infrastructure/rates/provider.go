// Package rates prices supported assets in fiat for display. Lookups never
// fail: the CoinGecko quote is cached, and a static table stands in whenever
// the remote source is slow, down or incomplete.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adreach/settlement_service/internal/domain/entities"
	"github.com/adreach/settlement_service/internal/infrastructure/cache"
	"github.com/adreach/settlement_service/pkg/metrics"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	defaultTimeout      = 3 * time.Second
	defaultCacheTTL     = 60 * time.Second
	cacheKeyPrefix      = "rates:"
)

// StaticFallback is the USD table served when no live quote is available.
func StaticFallback() map[entities.Asset]decimal.Decimal {
	return map[entities.Asset]decimal.Decimal{
		entities.AssetUSDTTRC20: decimal.RequireFromString("1.00"),
		entities.AssetETH:       decimal.RequireFromString("3000.00"),
		entities.AssetBNB:       decimal.RequireFromString("600.00"),
	}
}

// Config represents CoinGecko client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	Currency          string
	Timeout           time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Fallback          map[entities.Asset]decimal.Decimal
}

// Provider serves rate snapshots.
type Provider struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	cache          cache.Cache
	metrics        *metrics.SettlementMetrics
	logger         *zap.Logger
	now            func() time.Time
}

// NewProvider creates a provider. c may be nil to disable caching.
func NewProvider(config Config, c cache.Cache, m *metrics.SettlementMetrics, logger *zap.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultCoinGeckoURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Currency == "" {
		config.Currency = "USD"
	}
	config.Currency = strings.ToUpper(config.Currency)
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaultCacheTTL
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	if len(config.Fallback) == 0 {
		config.Fallback = StaticFallback()
	}

	cbSettings := gobreaker.Settings{
		Name:        "CoinGecko",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("CoinGecko circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Provider{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		cache:          c,
		metrics:        m,
		logger:         logger,
		now:            time.Now,
	}
}

// GetRates returns a snapshot covering every supported asset.
func (p *Provider) GetRates(ctx context.Context) entities.RateSnapshot {
	key := cacheKeyPrefix + p.config.Currency

	if p.cache != nil {
		var cached entities.RateSnapshot
		err := p.cache.Get(ctx, key, &cached)
		switch {
		case err == nil && len(cached.Rates) > 0:
			cached.Source = entities.RateSourceCache
			return cached
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			// unreadable or empty entry
			p.logger.Debug("Discarding unusable cached rates", zap.Error(err))
			if delErr := p.cache.Del(ctx, key); delErr != nil {
				p.logger.Debug("Rate cache eviction failed", zap.Error(delErr))
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	remote, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("Using static fallback rates", zap.Error(err))
		p.metrics.RateFallback("unavailable")
		return p.fallbackSnapshot()
	}

	snap := entities.RateSnapshot{
		Currency:  p.config.Currency,
		Rates:     make(map[entities.Asset]decimal.Decimal, len(p.config.Fallback)),
		Source:    entities.RateSourceRemote,
		FetchedAt: p.now().UTC(),
	}
	for _, asset := range entities.SupportedAssets() {
		if r, ok := remote[asset]; ok {
			snap.Rates[asset] = r
			continue
		}
		snap.Rates[asset] = p.config.Fallback[asset]
		snap.Fallback = true
	}
	if snap.Fallback {
		p.metrics.RateFallback("partial")
		return snap
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, snap, p.config.CacheTTL); err != nil {
			p.logger.Debug("Rate cache write failed", zap.Error(err))
		}
	}
	return snap
}

func (p *Provider) fallbackSnapshot() entities.RateSnapshot {
	snap := entities.RateSnapshot{
		Currency:  p.config.Currency,
		Rates:     make(map[entities.Asset]decimal.Decimal, len(p.config.Fallback)),
		Source:    entities.RateSourceFallback,
		Fallback:  true,
		FetchedAt: p.now().UTC(),
	}
	for asset, r := range p.config.Fallback {
		snap.Rates[asset] = r
	}
	return snap
}

// fetch queries /simple/price for every supported asset in one call.
func (p *Provider) fetch(ctx context.Context) (map[entities.Asset]decimal.Decimal, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	byID := make(map[string]entities.Asset)
	ids := make([]string, 0, 3)
	for _, asset := range entities.SupportedAssets() {
		spec, _ := asset.Spec()
		byID[spec.CoinGeckoID] = asset
		ids = append(ids, spec.CoinGeckoID)
	}

	result, err := p.circuitBreaker.Execute(func() (interface{}, error) {
		return p.simplePrice(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	payload := result.(map[string]map[string]json.Number)

	vs := strings.ToLower(p.config.Currency)
	out := make(map[entities.Asset]decimal.Decimal, len(ids))
	for id, quotes := range payload {
		asset, ok := byID[id]
		if !ok {
			continue
		}
		raw, ok := quotes[vs]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil || !price.IsPositive() {
			continue
		}
		out[asset] = price
	}
	if len(out) == 0 {
		return nil, errors.New("coingecko returned no usable quotes")
	}
	return out, nil
}

func (p *Provider) simplePrice(ctx context.Context, ids []string) (map[string]map[string]json.Number, error) {
	values := url.Values{}
	values.Set("ids", strings.Join(ids, ","))
	values.Set("vs_currencies", strings.ToLower(p.config.Currency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/simple/price?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return payload, nil
}
