package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
)

const testTxID = "7c2d4206c03a883dd9066d920a6cd7a2ee61bbd1b8e2c65b5c6cad8fa2d2b1c9"

func usdtSpec(t *testing.T) entities.AssetSpec {
	t.Helper()
	spec, ok := entities.AssetUSDTTRC20.Spec()
	require.True(t, ok)
	return spec
}

func transferLog(t *testing.T, to string, amount int64) EventLog {
	t.Helper()
	contractHex, err := evmHex(usdtMainnet)
	require.NoError(t, err)
	toHex, err := evmHex(to)
	require.NoError(t, err)
	return EventLog{
		Address: contractHex,
		Topics: []string{
			transferTopic,
			strings.Repeat("0", 24) + strings.Repeat("22", 20),
			strings.Repeat("0", 24) + toHex,
		},
		Data: fmt.Sprintf("%064x", amount),
	}
}

// fakeNode serves solid and full-node transaction info from two maps.
func fakeNode(t *testing.T, solid, full map[string]TransactionInfo) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req valueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var src map[string]TransactionInfo
		switch r.URL.Path {
		case pathSolidTxInfo:
			src = solid
		case pathTxInfo:
			src = full
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		info, ok := src[req.Value]
		if !ok {
			w.Write([]byte("{}"))
			return
		}
		json.NewEncoder(w).Encode(info)
	}))
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{}, zap.NewNop())
	assert.Equal(t, MainnetURL, client.config.BaseURL)
	assert.Equal(t, int64(DefaultFeeSun), client.config.DefaultFeeSun)
	assert.Equal(t, entities.NetworkTron, client.Network())

	custom := NewClient(Config{BaseURL: "https://nile.example/"}, zap.NewNop())
	assert.Equal(t, "https://nile.example", custom.config.BaseURL)
}

func TestNormalizeReference(t *testing.T) {
	client := NewClient(Config{}, zap.NewNop())

	got, err := client.NormalizeReference("0x" + strings.ToUpper(testTxID))
	require.NoError(t, err)
	assert.Equal(t, testTxID, got)

	_, err = client.NormalizeReference("abc")
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = client.NormalizeReference(strings.Repeat("g", 64))
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestConfirmTransaction(t *testing.T) {
	logger := zap.NewNop()
	recipient, err := addressFromEVMBytes(bytes.Repeat([]byte{0x33}, 20))
	require.NoError(t, err)

	t.Run("finalized transfer", func(t *testing.T) {
		server := fakeNode(t, map[string]TransactionInfo{
			testTxID: {
				ID:          testTxID,
				BlockNumber: 61_000_000,
				Receipt:     TransactionRcpt{Result: receiptResultSuccess},
				Log:         []EventLog{transferLog(t, recipient, 50_000_000)},
			},
		}, nil)
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		conf, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)

		assert.True(t, conf.Finalized())
		assert.Equal(t, "50000000", conf.Amount.String())
		assert.Equal(t, recipient, conf.Recipient)
		assert.Equal(t, uint64(61_000_000), conf.BlockNumber)
	})

	t.Run("every transfer of the token is reported", func(t *testing.T) {
		other, err := addressFromEVMBytes(bytes.Repeat([]byte{0x55}, 20))
		require.NoError(t, err)
		server := fakeNode(t, map[string]TransactionInfo{
			testTxID: {
				ID:      testTxID,
				Receipt: TransactionRcpt{Result: receiptResultSuccess},
				Log: []EventLog{
					transferLog(t, other, 1_000_000),
					transferLog(t, recipient, 50_000_000),
				},
			},
		}, nil)
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		conf, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)

		require.Len(t, conf.Transfers, 2)
		assert.Equal(t, other, conf.Transfers[0].Recipient)
		assert.Equal(t, recipient, conf.Transfers[1].Recipient)

		paid, ok := conf.AmountTo(func(to string) bool { return to == recipient })
		require.True(t, ok)
		assert.Equal(t, "50000000", paid.String())
	})

	t.Run("transfer of another token is ignored", func(t *testing.T) {
		other := transferLog(t, recipient, 50_000_000)
		other.Address = strings.Repeat("44", 20)
		server := fakeNode(t, map[string]TransactionInfo{
			testTxID: {ID: testTxID, Receipt: TransactionRcpt{Result: receiptResultSuccess}, Log: []EventLog{other}},
		}, nil)
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		conf, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)
		assert.Equal(t, chain.TxStateFinalized, conf.State)
		assert.Equal(t, 0, conf.Amount.Sign())
		assert.Empty(t, conf.Recipient)
	})

	t.Run("reverted", func(t *testing.T) {
		server := fakeNode(t, map[string]TransactionInfo{
			testTxID: {
				ID:         testTxID,
				Result:     txResultFailed,
				Receipt:    TransactionRcpt{Result: "REVERT"},
				ResMessage: hex.EncodeToString([]byte("REVERT opcode executed")),
			},
		}, nil)
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		conf, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)
		assert.Equal(t, chain.TxStateReverted, conf.State)
		assert.False(t, conf.Finalized())
	})

	t.Run("included but not solidified", func(t *testing.T) {
		server := fakeNode(t, nil, map[string]TransactionInfo{
			testTxID: {ID: testTxID, BlockNumber: 61_000_001},
		})
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		conf, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)
		assert.Equal(t, chain.TxStatePending, conf.State)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		server := fakeNode(t, nil, nil)
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		conf, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)
		assert.Equal(t, chain.TxStateNotFound, conf.State)
	})

	t.Run("server errors are retryable", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		_, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
		assert.ErrorIs(t, err, apperrors.ErrChainUnavailable)
		assert.Equal(t, int32(maxRetries+1), atomic.LoadInt32(&calls))
	})

	t.Run("native assets are rejected", func(t *testing.T) {
		client := NewClient(Config{}, logger)
		eth, _ := entities.AssetETH.Spec()
		_, err := client.ConfirmTransaction(context.Background(), testTxID, eth)
		assert.Error(t, err)
	})

	t.Run("api key header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.Header.Get("TRON-PRO-API-KEY"))
			w.Write([]byte("{}"))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "secret"}, logger)
		_, err := client.ConfirmTransaction(context.Background(), testTxID, usdtSpec(t))
		require.NoError(t, err)
	})
}

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathTriggerConstant, r.URL.Path)
		var req triggerConstantRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "balanceOf(address)", req.FunctionSelector)
		assert.Len(t, req.Parameter, 64)

		resp := map[string]interface{}{
			"constant_result": []string{fmt.Sprintf("%064x", 1_234_567)},
			"result":          map[string]interface{}{"result": true},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, zap.NewNop())
	bal, err := client.GetBalance(context.Background(), usdtMainnet, usdtSpec(t))
	require.NoError(t, err)
	assert.Equal(t, "1234567", bal.String())

	_, err = client.GetBalance(context.Background(), "not-an-address", usdtSpec(t))
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestEstimateFee(t *testing.T) {
	t.Run("from chain parameters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, pathChainParameters, r.URL.Path)
			w.Write([]byte(`{"chainParameter":[{"key":"getTransactionFee","value":1000},{"key":"getEnergyFee","value":420}]}`))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, zap.NewNop())
		fee := client.EstimateFee(context.Background(), usdtSpec(t))
		assert.False(t, fee.Fallback)
		assert.Equal(t, "27300000", fee.Amount.String())
		assert.Equal(t, "TRX", fee.Symbol)
	})

	t.Run("falls back on error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, zap.NewNop())
		fee := client.EstimateFee(context.Background(), usdtSpec(t))
		assert.True(t, fee.Fallback)
		assert.Equal(t, "15000000", fee.Amount.String())
	})
}

func TestBroadcast(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req broadcastHexRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "0a0b0c", req.Transaction)
			json.NewEncoder(w).Encode(broadcastResponse{Result: true, TxID: strings.ToUpper(testTxID)})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, zap.NewNop())
		ref, err := client.Broadcast(context.Background(), []byte{0x0a, 0x0b, 0x0c})
		require.NoError(t, err)
		assert.Equal(t, testTxID, ref)
	})

	t.Run("rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(broadcastResponse{
				Code:    "SIGERROR",
				Message: hex.EncodeToString([]byte("validate signature error")),
			})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, zap.NewNop())
		_, err := client.Broadcast(context.Background(), []byte{0x01})
		require.Error(t, err)
		assert.True(t, apperrors.IsInvalidInput(err))
		assert.Contains(t, err.Error(), "validate signature error")
	})

	t.Run("empty payload", func(t *testing.T) {
		client := NewClient(Config{}, zap.NewNop())
		_, err := client.Broadcast(context.Background(), nil)
		assert.True(t, apperrors.IsInvalidInput(err))
	})
}
