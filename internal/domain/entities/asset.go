package entities

import (
	"sort"
	"strings"
)

// Asset identifies a depositable asset on a specific network.
type Asset string

const (
	AssetUSDTTRC20 Asset = "USDT_TRC20"
	AssetETH       Asset = "ETH"
	AssetBNB       Asset = "BNB"
)

// Network is the chain an asset settles on.
type Network string

const (
	NetworkTron     Network = "tron"
	NetworkEthereum Network = "ethereum"
	NetworkBSC      Network = "bsc"
)

// ChainFamily groups networks that share an adapter.
type ChainFamily string

const (
	ChainFamilyTron ChainFamily = "tron"
	ChainFamilyEVM  ChainFamily = "evm"
)

// AssetKind distinguishes contract tokens from the network's native coin.
type AssetKind string

const (
	AssetKindNative AssetKind = "native"
	AssetKindToken  AssetKind = "token"
)

// AssetSpec is the static description of a supported asset.
type AssetSpec struct {
	Asset           Asset
	Network         Network
	Family          ChainFamily
	Kind            AssetKind
	Symbol          string
	Decimals        int32
	ContractAddress string // empty for native coins
	ChainID         int64  // EVM chain id, zero otherwise
	CoinGeckoID     string
}

var supportedAssets = map[Asset]AssetSpec{
	AssetUSDTTRC20: {
		Asset:           AssetUSDTTRC20,
		Network:         NetworkTron,
		Family:          ChainFamilyTron,
		Kind:            AssetKindToken,
		Symbol:          "USDT",
		Decimals:        6,
		ContractAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		CoinGeckoID:     "tether",
	},
	AssetETH: {
		Asset:       AssetETH,
		Network:     NetworkEthereum,
		Family:      ChainFamilyEVM,
		Kind:        AssetKindNative,
		Symbol:      "ETH",
		Decimals:    18,
		ChainID:     1,
		CoinGeckoID: "ethereum",
	},
	AssetBNB: {
		Asset:       AssetBNB,
		Network:     NetworkBSC,
		Family:      ChainFamilyEVM,
		Kind:        AssetKindNative,
		Symbol:      "BNB",
		Decimals:    18,
		ChainID:     56,
		CoinGeckoID: "binancecoin",
	},
}

// ParseAsset normalises user input into a supported asset.
func ParseAsset(s string) (Asset, bool) {
	a := Asset(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := supportedAssets[a]
	return a, ok
}

// Spec returns the asset's static description.
func (a Asset) Spec() (AssetSpec, bool) {
	spec, ok := supportedAssets[a]
	return spec, ok
}

func (a Asset) IsSupported() bool {
	_, ok := supportedAssets[a]
	return ok
}

func (a Asset) String() string {
	return string(a)
}

// SupportedAssets returns every asset in a stable order.
func SupportedAssets() []Asset {
	out := make([]Asset, 0, len(supportedAssets))
	for a := range supportedAssets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsNative reports whether the asset is the network's own coin.
func (s AssetSpec) IsNative() bool {
	return s.Kind == AssetKindNative
}
