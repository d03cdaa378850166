package entities

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource values reported on a snapshot
const (
	RateSourceRemote   = "coingecko"
	RateSourceCache    = "cache"
	RateSourceFallback = "static_fallback"
)

// RateSnapshot is an ephemeral asset -> fiat price table. It is never persisted.
type RateSnapshot struct {
	Currency  string                    `json:"currency"`
	Rates     map[Asset]decimal.Decimal `json:"rates"`
	Source    string                    `json:"source"`
	Fallback  bool                      `json:"fallback"`
	FetchedAt time.Time                 `json:"fetched_at"`
}

func (s *RateSnapshot) Rate(asset Asset) (decimal.Decimal, bool) {
	if s == nil || s.Rates == nil {
		return decimal.Zero, false
	}
	r, ok := s.Rates[asset]
	return r, ok
}

// FiatValue prices an amount of minor units, rounded to cents for display.
func (s *RateSnapshot) FiatValue(spec AssetSpec, minor *big.Int) (decimal.Decimal, bool) {
	rate, ok := s.Rate(spec.Asset)
	if !ok {
		return decimal.Zero, false
	}
	return MinorToDecimal(minor, spec.Decimals).Mul(rate).Round(2), true
}
