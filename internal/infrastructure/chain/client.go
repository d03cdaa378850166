// Package chain defines the per-network adapter used to confirm deposits.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
)

// TxState is what a network reports about a transaction.
type TxState string

const (
	// TxStateNotFound: the network does not know the transaction yet. Retryable.
	TxStateNotFound TxState = "not_found"
	// TxStatePending: included or broadcast, not yet irreversible. Retryable.
	TxStatePending TxState = "pending"
	// TxStateFinalized: irreversible and successful.
	TxStateFinalized TxState = "finalized"
	// TxStateReverted: the network executed and rejected it. Terminal.
	TxStateReverted TxState = "reverted"
)

// Confirmation is the result of a finality query. Amount and Recipient are
// only meaningful once the transaction has executed; they describe the first
// transfer of the asset when Transfers holds more than one.
type Confirmation struct {
	Reference     string
	State         TxState
	Amount        *big.Int
	Recipient     string
	Transfers     []Transfer
	Confirmations uint64
	BlockNumber   uint64
}

// Transfer is one movement of the asset inside a transaction.
type Transfer struct {
	Recipient string
	Amount    *big.Int
}

// Finalized is true only for an irreversible, successful transaction.
func (c *Confirmation) Finalized() bool {
	return c != nil && c.State == TxStateFinalized
}

// AmountTo sums the transfers whose recipient match accepts. A confirmation
// without Transfers counts as the single transfer in Recipient and Amount.
// ok is false when no transfer matched.
func (c *Confirmation) AmountTo(match func(recipient string) bool) (total *big.Int, ok bool) {
	transfers := c.Transfers
	if len(transfers) == 0 {
		transfers = []Transfer{{Recipient: c.Recipient, Amount: c.Amount}}
	}
	total = new(big.Int)
	for _, t := range transfers {
		if !match(t.Recipient) {
			continue
		}
		ok = true
		if t.Amount != nil {
			total.Add(total, t.Amount)
		}
	}
	return total, ok
}

// FeeEstimate is advisory. Amount is in the network's native coin minor units.
type FeeEstimate struct {
	Network  entities.Network `json:"network"`
	Symbol   string           `json:"symbol"`
	Decimals int32            `json:"decimals"`
	Amount   *big.Int         `json:"-"`
	Fallback bool             `json:"fallback"`
}

// Client is implemented once per network family.
type Client interface {
	Network() entities.Network

	// ConfirmTransaction reports the finality of reference and, once executed,
	// the amount and recipient of the transfer of asset it carries. Transport
	// failures are returned as retryable errors; a reverted transaction is a
	// TxStateReverted confirmation, not an error.
	ConfirmTransaction(ctx context.Context, reference string, asset entities.AssetSpec) (*Confirmation, error)

	GetBalance(ctx context.Context, address string, asset entities.AssetSpec) (*big.Int, error)

	// EstimateFee never fails; it falls back to a conservative constant.
	EstimateFee(ctx context.Context, asset entities.AssetSpec) FeeEstimate

	// Broadcast relays a transaction the payer already signed and returns its
	// reference. No keys are held by this service.
	Broadcast(ctx context.Context, signedTx []byte) (string, error)

	// NormalizeAddress validates an address and returns its canonical form.
	NormalizeAddress(address string) (string, error)

	// NormalizeReference validates a transaction id and returns its canonical
	// form, so one transaction cannot be bound twice under different spellings.
	NormalizeReference(reference string) (string, error)
}

// Registry resolves the client for an asset's network.
type Registry struct {
	mu      sync.RWMutex
	clients map[entities.Network]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[entities.Network]Client)}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Network()] = c
}

// ForAsset returns the client serving the asset's network.
func (r *Registry) ForAsset(spec entities.AssetSpec) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[spec.Network]
	if !ok {
		return nil, apperrors.ServiceUnavailableError(fmt.Sprintf("%s chain", spec.Network), nil).WithRetryable(false)
	}
	return c, nil
}

func (r *Registry) Networks() []entities.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.Network, 0, len(r.clients))
	for n := range r.clients {
		out = append(out, n)
	}
	return out
}
