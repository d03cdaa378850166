// Package memory is an in-process settlement store used for local runs and
// tests. It honours the same contracts as the Postgres store: reference
// uniqueness, compare-and-swap state transitions and all-or-nothing
// transactions.
package memory

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
)

type idemKey struct {
	userID uuid.UUID
	key    string
}

type balanceKey struct {
	userID uuid.UUID
	asset  entities.Asset
}

// Store keeps committed state behind a single mutex. Every operation, and
// every transaction, works on a view of staged writes that is merged on
// success and dropped on failure.
type Store struct {
	mu       sync.Mutex
	intents  map[uuid.UUID]*entities.PaymentIntent
	refs     map[string]uuid.UUID
	idem     map[idemKey]uuid.UUID
	balances map[balanceKey]*entities.WalletBalance
	clock    func() time.Time
}

var _ domainrepos.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		intents:  make(map[uuid.UUID]*entities.PaymentIntent),
		refs:     make(map[string]uuid.UUID),
		idem:     make(map[idemKey]uuid.UUID),
		balances: make(map[balanceKey]*entities.WalletBalance),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for row timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) Intents() domainrepos.PaymentIntentRepository {
	return &intentRepo{s: s}
}

func (s *Store) Ledger() domainrepos.WalletLedgerRepository {
	return &ledgerRepo{s: s}
}

// WithinTransaction holds the store lock while fn runs. fn must only use the
// repositories on tx; calling back into the Store itself would deadlock.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx domainrepos.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.newView()
	if err := fn(ctx, &memTx{v: v}); err != nil {
		return err
	}
	v.commit()
	return nil
}

type memTx struct {
	v *view
}

func (t *memTx) Intents() domainrepos.PaymentIntentRepository {
	return &intentRepo{s: t.v.s, v: t.v}
}

func (t *memTx) Ledger() domainrepos.WalletLedgerRepository {
	return &ledgerRepo{s: t.v.s, v: t.v}
}

// view stages writes over committed state. Callers hold s.mu.
type view struct {
	s        *Store
	intents  map[uuid.UUID]*entities.PaymentIntent
	refs     map[string]uuid.UUID
	idem     map[idemKey]uuid.UUID
	balances map[balanceKey]*entities.WalletBalance
}

func (s *Store) newView() *view {
	return &view{
		s:        s,
		intents:  make(map[uuid.UUID]*entities.PaymentIntent),
		refs:     make(map[string]uuid.UUID),
		idem:     make(map[idemKey]uuid.UUID),
		balances: make(map[balanceKey]*entities.WalletBalance),
	}
}

func (v *view) intent(id uuid.UUID) (*entities.PaymentIntent, bool) {
	if p, ok := v.intents[id]; ok {
		return p, true
	}
	p, ok := v.s.intents[id]
	return p, ok
}

func (v *view) refOwner(ref string) (uuid.UUID, bool) {
	if id, ok := v.refs[ref]; ok {
		return id, true
	}
	id, ok := v.s.refs[ref]
	return id, ok
}

func (v *view) idemOwner(k idemKey) (uuid.UUID, bool) {
	if id, ok := v.idem[k]; ok {
		return id, true
	}
	id, ok := v.s.idem[k]
	return id, ok
}

func (v *view) balance(k balanceKey) (*entities.WalletBalance, bool) {
	if b, ok := v.balances[k]; ok {
		return b, true
	}
	b, ok := v.s.balances[k]
	return b, ok
}

func (v *view) allIntents() []*entities.PaymentIntent {
	out := make([]*entities.PaymentIntent, 0, len(v.s.intents)+len(v.intents))
	for id, p := range v.s.intents {
		if staged, ok := v.intents[id]; ok {
			p = staged
		}
		out = append(out, p)
	}
	for id, p := range v.intents {
		if _, ok := v.s.intents[id]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func (v *view) commit() {
	for id, p := range v.intents {
		v.s.intents[id] = p
	}
	for ref, id := range v.refs {
		v.s.refs[ref] = id
	}
	for k, id := range v.idem {
		v.s.idem[k] = id
	}
	for k, b := range v.balances {
		v.s.balances[k] = b
	}
}

func (s *Store) autocommit(ctx context.Context, v *view, fn func(v *view) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v != nil {
		return fn(v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.newView()
	if err := fn(staged); err != nil {
		return err
	}
	staged.commit()
	return nil
}

// ============================================================================
// Payment intents
// ============================================================================

type intentRepo struct {
	s *Store
	v *view
}

func (r *intentRepo) Create(ctx context.Context, intent *entities.PaymentIntent) error {
	return r.s.autocommit(ctx, r.v, func(v *view) error {
		if _, exists := v.intent(intent.ID); exists {
			return apperrors.AlreadyExistsError("PAYMENT_INTENT")
		}
		if intent.IdempotencyKey != nil {
			k := idemKey{userID: intent.UserID, key: *intent.IdempotencyKey}
			if _, taken := v.idemOwner(k); taken {
				return apperrors.AlreadyExistsError("PAYMENT_INTENT")
			}
			v.idem[k] = intent.ID
		}
		v.intents[intent.ID] = intent.Clone()
		return nil
	})
}

func (r *intentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error) {
	var out *entities.PaymentIntent
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		p, ok := v.intent(id)
		if !ok {
			return apperrors.NotFoundError("PAYMENT_INTENT")
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *intentRepo) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entities.PaymentIntent, error) {
	var out *entities.PaymentIntent
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		id, ok := v.idemOwner(idemKey{userID: userID, key: key})
		if !ok {
			return apperrors.NotFoundError("PAYMENT_INTENT")
		}
		p, _ := v.intent(id)
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *intentRepo) GetByReference(ctx context.Context, reference string) (*entities.PaymentIntent, error) {
	var out *entities.PaymentIntent
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		id, ok := v.refOwner(reference)
		if !ok {
			return apperrors.NotFoundError("PAYMENT_INTENT")
		}
		p, _ := v.intent(id)
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *intentRepo) AttachReference(ctx context.Context, id uuid.UUID, reference string) (*entities.PaymentIntent, error) {
	var out *entities.PaymentIntent
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		p, ok := v.intent(id)
		if !ok {
			return apperrors.NotFoundError("PAYMENT_INTENT")
		}
		if owner, taken := v.refOwner(reference); taken && owner != id {
			return apperrors.ReferenceConflictError(reference, apperrors.ErrReferenceInUse)
		}
		switch {
		case p.TransactionReference != nil && *p.TransactionReference == reference:
			out = p.Clone()
			return nil
		case p.TransactionReference != nil:
			return apperrors.ReferenceConflictError(reference, apperrors.ErrReferenceImmutable)
		case p.Status.IsTerminal():
			out = p.Clone()
			return nil
		}

		updated := p.Clone()
		ref := reference
		updated.TransactionReference = &ref
		updated.UpdatedAt = r.s.clock()
		v.intents[id] = updated
		v.refs[reference] = id
		out = updated.Clone()
		return nil
	})
	return out, err
}

func (r *intentRepo) MarkSettled(ctx context.Context, id uuid.UUID, at time.Time) (*entities.PaymentIntent, bool, error) {
	return r.transition(ctx, id, func(p *entities.PaymentIntent) {
		p.Status = entities.IntentStatusSettled
		settledAt := at
		p.SettledAt = &settledAt
		p.UpdatedAt = at
	})
}

func (r *intentRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*entities.PaymentIntent, bool, error) {
	return r.transition(ctx, id, func(p *entities.PaymentIntent) {
		p.Status = entities.IntentStatusFailed
		why := reason
		p.FailureReason = &why
		p.UpdatedAt = at
	})
}

func (r *intentRepo) transition(ctx context.Context, id uuid.UUID, apply func(p *entities.PaymentIntent)) (*entities.PaymentIntent, bool, error) {
	var out *entities.PaymentIntent
	var transitioned bool
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		p, ok := v.intent(id)
		if !ok {
			return apperrors.NotFoundError("PAYMENT_INTENT")
		}
		if p.Status != entities.IntentStatusPending {
			out = p.Clone()
			return nil
		}
		updated := p.Clone()
		apply(updated)
		v.intents[id] = updated
		out = updated.Clone()
		transitioned = true
		return nil
	})
	return out, transitioned, err
}

func (r *intentRepo) ListPending(ctx context.Context, q domainrepos.PendingQuery) ([]*entities.PaymentIntent, error) {
	var out []*entities.PaymentIntent
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		for _, p := range v.allIntents() {
			if p.Status != entities.IntentStatusPending || !p.CreatedAt.Before(q.CreatedBefore) {
				continue
			}
			if q.BoundOnly && p.Reference() == "" {
				continue
			}
			if q.After != nil && !afterCursor(p, q.After) {
				continue
			}
			out = append(out, p.Clone())
		}
		sort.Slice(out, func(i, j int) bool { return pendingLess(out[i], out[j]) })
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
		return nil
	})
	return out, err
}

// pendingLess orders by (created_at, id) the way Postgres compares the
// row tuple; uuid columns compare bytewise.
func pendingLess(a, b *entities.PaymentIntent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func afterCursor(p *entities.PaymentIntent, c *domainrepos.PendingCursor) bool {
	return pendingLess(&entities.PaymentIntent{CreatedAt: c.CreatedAt, ID: c.ID}, p)
}

func (r *intentRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.PaymentIntent, error) {
	var out []*entities.PaymentIntent
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		for _, p := range v.allIntents() {
			if p.UserID == userID {
				out = append(out, p.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if offset >= len(out) {
			out = nil
			return nil
		}
		out = out[offset:]
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// ============================================================================
// Wallet ledger
// ============================================================================

type ledgerRepo struct {
	s *Store
	v *view
}

func (r *ledgerRepo) Credit(ctx context.Context, userID uuid.UUID, asset entities.Asset, amount *big.Int) (*entities.WalletBalance, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, apperrors.ValidationError("amount", "credit amount must be positive")
	}
	var out *entities.WalletBalance
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		k := balanceKey{userID: userID, asset: asset}
		now := r.s.clock()
		next := entities.ZeroBalance(userID, asset)
		next.CreatedAt = now
		if current, ok := v.balance(k); ok {
			next = current.Clone()
		}
		next.Balance.Add(next.Balance, amount)
		next.TotalDeposited.Add(next.TotalDeposited, amount)
		next.UpdatedAt = now
		v.balances[k] = next
		out = next.Clone()
		return nil
	})
	return out, err
}

func (r *ledgerRepo) GetBalance(ctx context.Context, userID uuid.UUID, asset entities.Asset) (*entities.WalletBalance, error) {
	var out *entities.WalletBalance
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		if b, ok := v.balance(balanceKey{userID: userID, asset: asset}); ok {
			out = b.Clone()
			return nil
		}
		out = entities.ZeroBalance(userID, asset)
		return nil
	})
	return out, err
}

func (r *ledgerRepo) ListBalances(ctx context.Context, userID uuid.UUID) ([]*entities.WalletBalance, error) {
	var out []*entities.WalletBalance
	err := r.s.autocommit(ctx, r.v, func(v *view) error {
		seen := make(map[balanceKey]bool)
		for k, b := range v.balances {
			if k.userID == userID {
				out = append(out, b.Clone())
				seen[k] = true
			}
		}
		for k, b := range v.s.balances {
			if k.userID == userID && !seen[k] {
				out = append(out, b.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
		return nil
	})
	return out, err
}
