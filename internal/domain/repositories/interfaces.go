package repositories

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/adreach/settlement_service/internal/domain/entities"
)

// PendingQuery selects pending intents created before CreatedBefore, ordered
// by (created_at, id). After resumes a scan past the last row of the previous
// page, so callers can walk the whole backlog one Limit-sized page at a time.
type PendingQuery struct {
	CreatedBefore time.Time
	// BoundOnly restricts the scan to intents that carry a reference.
	BoundOnly bool
	After     *PendingCursor
	Limit     int
}

// PendingCursor marks the last intent a scan has seen.
type PendingCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAt returns the cursor positioned on intent.
func CursorAt(intent *entities.PaymentIntent) *PendingCursor {
	return &PendingCursor{CreatedAt: intent.CreatedAt, ID: intent.ID}
}

// PaymentIntentRepository persists payment intents. State transitions are
// compare-and-swap on the pending status so concurrent callers cannot both
// move the same intent.
type PaymentIntentRepository interface {
	// Create stores a new pending intent. When the (user, idempotency key)
	// pair is already taken it returns an AlreadyExists error.
	Create(ctx context.Context, intent *entities.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error)
	GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entities.PaymentIntent, error)
	GetByReference(ctx context.Context, reference string) (*entities.PaymentIntent, error)

	// AttachReference binds a transaction reference to an intent. Re-binding
	// the same reference is a no-op. A reference held by another intent, or an
	// intent already bound to a different reference, is a Conflict error.
	AttachReference(ctx context.Context, id uuid.UUID, reference string) (*entities.PaymentIntent, error)

	// MarkSettled and MarkFailed return the intent and whether this call made
	// the transition. Terminal intents are returned unchanged.
	MarkSettled(ctx context.Context, id uuid.UUID, at time.Time) (*entities.PaymentIntent, bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*entities.PaymentIntent, bool, error)

	ListPending(ctx context.Context, q PendingQuery) ([]*entities.PaymentIntent, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.PaymentIntent, error)
}

// WalletLedgerRepository is the only place balances change.
type WalletLedgerRepository interface {
	// Credit adds amount to balance and total_deposited, creating the row on
	// first use.
	Credit(ctx context.Context, userID uuid.UUID, asset entities.Asset, amount *big.Int) (*entities.WalletBalance, error)
	// GetBalance returns a zero balance when the user has no row for the asset.
	GetBalance(ctx context.Context, userID uuid.UUID, asset entities.Asset) (*entities.WalletBalance, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]*entities.WalletBalance, error)
}

// Tx exposes repositories bound to a single unit of work.
type Tx interface {
	Intents() PaymentIntentRepository
	Ledger() WalletLedgerRepository
}

// Transactor runs fn atomically. If fn returns an error, or the commit fails,
// nothing fn did through tx is visible afterwards.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store bundles the non-transactional repositories with the transactor.
type Store interface {
	Transactor
	Intents() PaymentIntentRepository
	Ledger() WalletLedgerRepository
}
