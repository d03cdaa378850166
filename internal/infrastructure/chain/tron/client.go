// Package tron confirms TRC-20 deposits through the TronGrid HTTP API.
//
// A transaction is final once it appears on the solidity node; until then the
// full node's record only marks it as included.
package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
)

const (
	defaultTimeout           = 15 * time.Second
	defaultRequestsPerSecond = 10
	maxRetries               = 2

	// trc20TransferEnergy is the typical energy burned by a USDT transfer.
	trc20TransferEnergy = 65_000
	// DefaultFeeSun is used whenever chain parameters cannot be read: 15 TRX.
	DefaultFeeSun = 15_000_000
	trxDecimals   = 6
)

// Config represents TronGrid client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	// USDTContract overrides the asset registry's contract, e.g. on testnets.
	USDTContract  string
	DefaultFeeSun int64
}

// Client is a chain.Client for the TRON network
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

var _ chain.Client = (*Client)(nil)

// NewClient creates a new TronGrid client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.BaseURL == "" {
		config.BaseURL = MainnetURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaultRequestsPerSecond
	}
	if config.DefaultFeeSun <= 0 {
		config.DefaultFeeSun = DefaultFeeSun
	}

	cbSettings := gobreaker.Settings{
		Name:        "TronGrid",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// 4xx replies mean the node is up
			var apiErr *ErrorResponse
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("TronGrid circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), int(config.RequestsPerSecond)),
		logger:         logger,
	}
}

func (c *Client) Network() entities.Network {
	return entities.NetworkTron
}

func (c *Client) NormalizeAddress(address string) (string, error) {
	return NormalizeAddress(address)
}

// NormalizeReference returns the 64-char lowercase hex transaction id.
func (c *Client) NormalizeReference(reference string) (string, error) {
	ref := strings.ToLower(strings.TrimSpace(reference))
	ref = strings.TrimPrefix(ref, "0x")
	if len(ref) != 64 {
		return "", apperrors.ValidationError("transaction_reference", "tron transaction id must be 64 hex characters")
	}
	if _, err := hex.DecodeString(ref); err != nil {
		return "", apperrors.ValidationError("transaction_reference", "tron transaction id must be hex")
	}
	return ref, nil
}

func (c *Client) contractFor(asset entities.AssetSpec) (string, error) {
	if asset.Network != entities.NetworkTron || asset.Kind != entities.AssetKindToken {
		return "", fmt.Errorf("asset %s is not a TRC-20 token", asset.Asset)
	}
	if asset.Asset == entities.AssetUSDTTRC20 && c.config.USDTContract != "" {
		return c.config.USDTContract, nil
	}
	return asset.ContractAddress, nil
}

// ConfirmTransaction checks the solidity node first; a record there is final.
func (c *Client) ConfirmTransaction(ctx context.Context, reference string, asset entities.AssetSpec) (*chain.Confirmation, error) {
	contract, err := c.contractFor(asset)
	if err != nil {
		return nil, err
	}
	txID, err := c.NormalizeReference(reference)
	if err != nil {
		return nil, err
	}

	var solid TransactionInfo
	if err := c.doRequest(ctx, http.MethodPost, pathSolidTxInfo, valueRequest{Value: txID}, &solid); err != nil {
		return nil, apperrors.RetryableChainError(string(entities.NetworkTron), err)
	}

	if !solid.found() {
		var info TransactionInfo
		if err := c.doRequest(ctx, http.MethodPost, pathTxInfo, valueRequest{Value: txID}, &info); err != nil {
			return nil, apperrors.RetryableChainError(string(entities.NetworkTron), err)
		}
		state := chain.TxStateNotFound
		if info.found() {
			state = chain.TxStatePending
		}
		return &chain.Confirmation{Reference: txID, State: state, BlockNumber: info.BlockNumber}, nil
	}

	conf := &chain.Confirmation{
		Reference:   txID,
		State:       chain.TxStateFinalized,
		Amount:      new(big.Int),
		BlockNumber: solid.BlockNumber,
	}
	if solid.failed() {
		c.logger.Info("TRON transaction reverted",
			zap.String("tx_id", txID),
			zap.String("receipt_result", solid.Receipt.Result),
			zap.String("res_message", solid.ResMessage))
		conf.State = chain.TxStateReverted
		return conf, nil
	}

	contractHex, err := evmHex(contract)
	if err != nil {
		return nil, fmt.Errorf("configured contract %s: %w", contract, err)
	}

	// A finalized transaction without a matching Transfer log moved none of
	// this asset; the zero amount makes the engine reject it.
	for _, lg := range solid.Log {
		recipient, amount, ok := decodeTransferLog(lg, contractHex)
		if !ok {
			continue
		}
		if len(conf.Transfers) == 0 {
			conf.Recipient = recipient
			conf.Amount = amount
		}
		conf.Transfers = append(conf.Transfers, chain.Transfer{Recipient: recipient, Amount: amount})
	}
	return conf, nil
}

// decodeTransferLog extracts (to, value) from a Transfer event of contractHex.
func decodeTransferLog(lg EventLog, contractHex string) (string, *big.Int, bool) {
	if !strings.EqualFold(strings.TrimPrefix(lg.Address, "41"), contractHex) &&
		!strings.EqualFold(lg.Address, contractHex) {
		return "", nil, false
	}
	if len(lg.Topics) != 3 || !strings.EqualFold(lg.Topics[0], transferTopic) {
		return "", nil, false
	}
	toWord, err := hex.DecodeString(lg.Topics[2])
	if err != nil || len(toWord) != 32 {
		return "", nil, false
	}
	to, err := addressFromEVMBytes(toWord[12:])
	if err != nil {
		return "", nil, false
	}
	amount, ok := new(big.Int).SetString(strings.TrimPrefix(lg.Data, "0x"), 16)
	if !ok {
		return "", nil, false
	}
	return to, amount, true
}

// GetBalance reads balanceOf(address) on the token contract.
func (c *Client) GetBalance(ctx context.Context, address string, asset entities.AssetSpec) (*big.Int, error) {
	contract, err := c.contractFor(asset)
	if err != nil {
		return nil, err
	}
	owner, err := NormalizeAddress(address)
	if err != nil {
		return nil, apperrors.ValidationError("address", err.Error())
	}
	word, err := abiAddressWord(owner)
	if err != nil {
		return nil, apperrors.ValidationError("address", err.Error())
	}

	req := triggerConstantRequest{
		OwnerAddress:     owner,
		ContractAddress:  contract,
		FunctionSelector: "balanceOf(address)",
		Parameter:        word,
		Visible:          true,
	}
	var resp triggerConstantResponse
	if err := c.doRequest(ctx, http.MethodPost, pathTriggerConstant, req, &resp); err != nil {
		return nil, apperrors.RetryableChainError(string(entities.NetworkTron), err)
	}
	if !resp.Result.Result || len(resp.ConstantResult) == 0 {
		return nil, fmt.Errorf("balanceOf call rejected: %s %s", resp.Result.Code, decodeMessage(resp.Result.Message))
	}
	bal, ok := new(big.Int).SetString(resp.ConstantResult[0], 16)
	if !ok {
		return nil, fmt.Errorf("unreadable balanceOf result %q", resp.ConstantResult[0])
	}
	return bal, nil
}

// EstimateFee prices a TRC-20 transfer paid by burning TRX for energy.
func (c *Client) EstimateFee(ctx context.Context, asset entities.AssetSpec) chain.FeeEstimate {
	est := chain.FeeEstimate{
		Network:  entities.NetworkTron,
		Symbol:   "TRX",
		Decimals: trxDecimals,
		Amount:   big.NewInt(c.config.DefaultFeeSun),
		Fallback: true,
	}

	var resp chainParametersResponse
	if err := c.doRequest(ctx, http.MethodGet, pathChainParameters, nil, &resp); err != nil {
		c.logger.Warn("Using default TRON fee estimate", zap.Error(err))
		return est
	}
	for _, p := range resp.ChainParameter {
		if p.Key == "getEnergyFee" && p.Value > 0 {
			est.Amount = new(big.Int).Mul(big.NewInt(p.Value), big.NewInt(trc20TransferEnergy))
			est.Fallback = false
			break
		}
	}
	return est
}

// Broadcast relays a signed, protobuf-encoded transaction.
func (c *Client) Broadcast(ctx context.Context, signedTx []byte) (string, error) {
	if len(signedTx) == 0 {
		return "", apperrors.ValidationError("signed_transaction", "signed transaction is empty")
	}
	var resp broadcastResponse
	req := broadcastHexRequest{Transaction: hex.EncodeToString(signedTx)}
	if err := c.doRequest(ctx, http.MethodPost, pathBroadcastHex, req, &resp); err != nil {
		return "", apperrors.RetryableChainError(string(entities.NetworkTron), err)
	}
	if !resp.Result {
		return "", apperrors.ValidationError("signed_transaction",
			fmt.Sprintf("broadcast rejected: %s %s", resp.Code, decodeMessage(resp.Message)))
	}
	return c.NormalizeReference(resp.TxID)
}

// decodeMessage turns TronGrid's hex-encoded error messages into text.
func decodeMessage(msg string) string {
	if b, err := hex.DecodeString(msg); err == nil {
		return string(b)
	}
	return msg
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doRequestInternal(ctx, method, endpoint, body, response)
	})
	return err
}

func (c *Client) doRequestInternal(ctx context.Context, method, endpoint string, body, response interface{}) error {
	fullURL := c.config.BaseURL + endpoint

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.config.APIKey != "" {
			req.Header.Set("TRON-PRO-API-KEY", c.config.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		// Retry on 5xx and throttling
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
			if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = string(respBody)
			}
			return apiErr
		}

		if response != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, response); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}
