// Package evm confirms native-coin deposits on Ethereum and BNB Smart Chain
// over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
)

const (
	defaultTimeout = 10 * time.Second
	// nativeTransferGas is the fixed gas of a plain value transfer.
	nativeTransferGas = 21_000
	// DefaultFeeWei is used when the node cannot price gas: 0.001 coin.
	DefaultFeeWei = 1_000_000_000_000_000
)

// Default confirmation depths before a block is treated as irreversible.
const (
	DefaultEthereumConfirmations = 12
	DefaultBSCConfirmations      = 15
)

// RPC is the subset of *ethclient.Client used here.
type RPC interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config represents EVM network client configuration
type Config struct {
	Network       entities.Network
	RPCURL        string
	ChainID       int64
	Confirmations uint64
	Timeout       time.Duration
	DefaultFeeWei *big.Int
}

// Client is a chain.Client for one EVM network.
type Client struct {
	config         Config
	rpc            RPC
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

var _ chain.Client = (*Client)(nil)

// Dial connects to the configured JSON-RPC endpoint.
func Dial(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.RPCURL == "" {
		return nil, fmt.Errorf("%s rpc url is required", config.Network)
	}
	rpc, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", config.Network, err)
	}
	return NewClient(config, rpc, logger), nil
}

// NewClient wraps an RPC connection.
func NewClient(config Config, rpc RPC, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Confirmations == 0 {
		config.Confirmations = DefaultEthereumConfirmations
		if config.Network == entities.NetworkBSC {
			config.Confirmations = DefaultBSCConfirmations
		}
	}
	if config.DefaultFeeWei == nil {
		config.DefaultFeeWei = big.NewInt(DefaultFeeWei)
	}

	cbSettings := gobreaker.Settings{
		Name:        fmt.Sprintf("EVM-%s", config.Network),
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// an unknown hash is an answer, not an outage
			return err == nil || errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("EVM circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		rpc:            rpc,
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:         logger,
	}
}

func (c *Client) Network() entities.Network {
	return c.config.Network
}

// NormalizeAddress returns the lowercase 0x form.
func (c *Client) NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", apperrors.ValidationError("address", "invalid EVM address")
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// NormalizeReference returns the lowercase 0x-prefixed 32-byte hash.
func (c *Client) NormalizeReference(reference string) (string, error) {
	ref := strings.ToLower(strings.TrimSpace(reference))
	ref = strings.TrimPrefix(ref, "0x")
	if len(ref) != 2*common.HashLength {
		return "", apperrors.ValidationError("transaction_reference", "transaction hash must be 32 bytes of hex")
	}
	if _, err := hexutil.Decode("0x" + ref); err != nil {
		return "", apperrors.ValidationError("transaction_reference", "transaction hash must be hex")
	}
	return "0x" + ref, nil
}

func (c *Client) checkAsset(asset entities.AssetSpec) error {
	if asset.Network != c.config.Network || !asset.IsNative() {
		return fmt.Errorf("asset %s is not the native coin of %s", asset.Asset, c.config.Network)
	}
	return nil
}

// ConfirmTransaction reports a native transfer as finalized once its block is
// Confirmations deep.
func (c *Client) ConfirmTransaction(ctx context.Context, reference string, asset entities.AssetSpec) (*chain.Confirmation, error) {
	if err := c.checkAsset(asset); err != nil {
		return nil, err
	}
	ref, err := c.NormalizeReference(reference)
	if err != nil {
		return nil, err
	}
	hash := common.HexToHash(ref)

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	conf := &chain.Confirmation{Reference: ref, State: chain.TxStateNotFound}

	var (
		tx        *types.Transaction
		isPending bool
	)
	err = c.call(func() error {
		var err error
		tx, isPending, err = c.rpc.TransactionByHash(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return conf, nil
	}
	if err != nil {
		return nil, c.retryable(err)
	}
	if isPending {
		conf.State = chain.TxStatePending
		return conf, nil
	}

	var receipt *types.Receipt
	err = c.call(func() error {
		var err error
		receipt, err = c.rpc.TransactionReceipt(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		conf.State = chain.TxStatePending
		return conf, nil
	}
	if err != nil {
		return nil, c.retryable(err)
	}

	conf.BlockNumber = receipt.BlockNumber.Uint64()
	if receipt.Status == types.ReceiptStatusFailed {
		conf.State = chain.TxStateReverted
		return conf, nil
	}

	var head uint64
	err = c.call(func() error {
		var err error
		head, err = c.rpc.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, c.retryable(err)
	}
	if head >= conf.BlockNumber {
		conf.Confirmations = head - conf.BlockNumber + 1
	}
	if conf.Confirmations < c.config.Confirmations {
		conf.State = chain.TxStatePending
		return conf, nil
	}

	conf.State = chain.TxStateFinalized
	conf.Amount = new(big.Int).Set(tx.Value())
	if to := tx.To(); to != nil {
		conf.Recipient = strings.ToLower(to.Hex())
	}
	return conf, nil
}

func (c *Client) GetBalance(ctx context.Context, address string, asset entities.AssetSpec) (*big.Int, error) {
	if err := c.checkAsset(asset); err != nil {
		return nil, err
	}
	addr, err := c.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var balance *big.Int
	err = c.call(func() error {
		var err error
		balance, err = c.rpc.BalanceAt(ctx, common.HexToAddress(addr), nil)
		return err
	})
	if err != nil {
		return nil, c.retryable(err)
	}
	return balance, nil
}

// EstimateFee prices a plain transfer at the node's suggested gas price.
func (c *Client) EstimateFee(ctx context.Context, asset entities.AssetSpec) chain.FeeEstimate {
	est := chain.FeeEstimate{
		Network:  c.config.Network,
		Symbol:   asset.Symbol,
		Decimals: asset.Decimals,
		Amount:   new(big.Int).Set(c.config.DefaultFeeWei),
		Fallback: true,
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var price *big.Int
	err := c.call(func() error {
		var err error
		price, err = c.rpc.SuggestGasPrice(ctx)
		return err
	})
	if err != nil || price == nil || price.Sign() <= 0 {
		c.logger.Warn("Using default EVM fee estimate",
			zap.String("network", string(c.config.Network)),
			zap.Error(err))
		return est
	}

	est.Amount = new(big.Int).Mul(price, big.NewInt(nativeTransferGas))
	est.Fallback = false
	return est
}

// Broadcast submits a signed RLP or typed-envelope transaction.
func (c *Client) Broadcast(ctx context.Context, signedTx []byte) (string, error) {
	if len(signedTx) == 0 {
		return "", apperrors.ValidationError("signed_transaction", "signed transaction is empty")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signedTx); err != nil {
		return "", apperrors.ValidationError("signed_transaction", fmt.Sprintf("undecodable transaction: %v", err))
	}
	if id := tx.ChainId(); id != nil && id.Sign() != 0 && id.Int64() != c.config.ChainID {
		return "", apperrors.ValidationError("signed_transaction",
			fmt.Sprintf("transaction signed for chain %s, expected %d", id, c.config.ChainID))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.call(func() error { return c.rpc.SendTransaction(ctx, tx) }); err != nil {
		return "", c.retryable(err)
	}
	return strings.ToLower(tx.Hash().Hex()), nil
}

func (c *Client) call(fn func() error) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *Client) retryable(err error) error {
	return apperrors.RetryableChainError(string(c.config.Network), err)
}
