package memory

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
)

func newIntent(userID uuid.UUID, createdAt time.Time) *entities.PaymentIntent {
	return &entities.PaymentIntent{
		ID:                 uuid.New(),
		UserID:             userID,
		Asset:              entities.AssetUSDTTRC20,
		Network:            entities.NetworkTron,
		RequestedAmount:    big.NewInt(50_000_000),
		DestinationAddress: "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
		Status:             entities.IntentStatusPending,
		FiatCurrency:       "USD",
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	intent := newIntent(uuid.New(), time.Now())

	require.NoError(t, store.Intents().Create(ctx, intent))

	got, err := store.Intents().GetByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, "50000000", got.RequestedAmount.String())

	// returned values are copies
	got.RequestedAmount.SetInt64(1)
	again, _ := store.Intents().GetByID(ctx, intent.ID)
	assert.Equal(t, "50000000", again.RequestedAmount.String())

	_, err = store.Intents().GetByID(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	userID := uuid.New()
	key := "quote-1"

	first := newIntent(userID, time.Now())
	first.IdempotencyKey = &key
	require.NoError(t, store.Intents().Create(ctx, first))

	second := newIntent(userID, time.Now())
	second.IdempotencyKey = &key
	err := store.Intents().Create(ctx, second)
	assert.True(t, apperrors.IsAlreadyExists(err))

	found, err := store.Intents().GetByIdempotencyKey(ctx, userID, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	// the same key is free for another user
	other := newIntent(uuid.New(), time.Now())
	other.IdempotencyKey = &key
	assert.NoError(t, store.Intents().Create(ctx, other))
}

func TestStore_AttachReference(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	a := newIntent(uuid.New(), time.Now())
	b := newIntent(uuid.New(), time.Now())
	require.NoError(t, store.Intents().Create(ctx, a))
	require.NoError(t, store.Intents().Create(ctx, b))

	got, err := store.Intents().AttachReference(ctx, a.ID, "tx-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "tx-aaaaaaaa", got.Reference())

	t.Run("same reference again is a no-op", func(t *testing.T) {
		got, err := store.Intents().AttachReference(ctx, a.ID, "tx-aaaaaaaa")
		require.NoError(t, err)
		assert.Equal(t, "tx-aaaaaaaa", got.Reference())
	})

	t.Run("reference held by another intent", func(t *testing.T) {
		_, err := store.Intents().AttachReference(ctx, b.ID, "tx-aaaaaaaa")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		assert.True(t, errors.Is(err, apperrors.ErrReferenceInUse))

		untouched, _ := store.Intents().GetByID(ctx, b.ID)
		assert.Nil(t, untouched.TransactionReference)
	})

	t.Run("bound intent rejects a different reference", func(t *testing.T) {
		_, err := store.Intents().AttachReference(ctx, a.ID, "tx-bbbbbbbb")
		assert.True(t, errors.Is(err, apperrors.ErrReferenceImmutable))
	})

	t.Run("lookup by reference", func(t *testing.T) {
		owner, err := store.Intents().GetByReference(ctx, "tx-aaaaaaaa")
		require.NoError(t, err)
		assert.Equal(t, a.ID, owner.ID)
	})
}

func TestStore_ConcurrentAttachSameReference(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	const n = 16
	ids := make([]uuid.UUID, n)
	for i := range ids {
		intent := newIntent(uuid.New(), time.Now())
		require.NoError(t, store.Intents().Create(ctx, intent))
		ids[i] = intent.ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := store.Intents().AttachReference(ctx, id, "tx-shared-ref"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestStore_TransitionsAreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	intent := newIntent(uuid.New(), time.Now())
	require.NoError(t, store.Intents().Create(ctx, intent))

	now := time.Now()
	settled, ok, err := store.Intents().MarkSettled(ctx, intent.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entities.IntentStatusSettled, settled.Status)
	require.NotNil(t, settled.SettledAt)

	again, ok, err := store.Intents().MarkSettled(ctx, intent.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, now, *again.SettledAt)

	failed, ok, err := store.Intents().MarkFailed(ctx, intent.ID, "late", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, entities.IntentStatusSettled, failed.Status)
	assert.Nil(t, failed.FailureReason)

	_, _, err = store.Intents().MarkFailed(ctx, uuid.New(), "x", now)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_TransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	intent := newIntent(uuid.New(), time.Now())
	require.NoError(t, store.Intents().Create(ctx, intent))

	boom := errors.New("credit failed")
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx domainrepos.Tx) error {
		_, ok, err := tx.Intents().MarkSettled(ctx, intent.ID, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		if _, err := tx.Ledger().Credit(ctx, intent.UserID, intent.Asset, intent.RequestedAmount); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := store.Intents().GetByID(ctx, intent.ID)
	assert.Equal(t, entities.IntentStatusPending, got.Status)

	bal, err := store.Ledger().GetBalance(ctx, intent.UserID, intent.Asset)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Balance.Sign())
}

func TestStore_TransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	intent := newIntent(uuid.New(), time.Now())
	require.NoError(t, store.Intents().Create(ctx, intent))

	err := store.WithinTransaction(ctx, func(ctx context.Context, tx domainrepos.Tx) error {
		if _, _, err := tx.Intents().MarkSettled(ctx, intent.ID, time.Now()); err != nil {
			return err
		}
		// reads inside the transaction see staged writes
		staged, err := tx.Intents().GetByID(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.IntentStatusSettled, staged.Status)

		_, err = tx.Ledger().Credit(ctx, intent.UserID, intent.Asset, intent.RequestedAmount)
		return err
	})
	require.NoError(t, err)

	got, _ := store.Intents().GetByID(ctx, intent.ID)
	assert.Equal(t, entities.IntentStatusSettled, got.Status)

	bal, _ := store.Ledger().GetBalance(ctx, intent.UserID, intent.Asset)
	assert.Equal(t, "50000000", bal.Balance.String())
	assert.Equal(t, "50000000", bal.TotalDeposited.String())
}

func TestStore_CreditAccumulatesPerAsset(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	userID := uuid.New()

	oneWei := big.NewInt(1)
	for i := 0; i < 3; i++ {
		_, err := store.Ledger().Credit(ctx, userID, entities.AssetETH, oneWei)
		require.NoError(t, err)
	}
	_, err := store.Ledger().Credit(ctx, userID, entities.AssetUSDTTRC20, big.NewInt(1))
	require.NoError(t, err)

	eth, _ := store.Ledger().GetBalance(ctx, userID, entities.AssetETH)
	assert.Equal(t, "3", eth.Balance.String())

	all, err := store.Ledger().ListBalances(ctx, userID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, entities.AssetETH, all[0].Asset)
	assert.Equal(t, entities.AssetUSDTTRC20, all[1].Asset)

	_, err = store.Ledger().Credit(ctx, userID, entities.AssetETH, big.NewInt(0))
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestStore_ListPending(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Now().Add(-time.Hour)

	old := newIntent(uuid.New(), base)
	older := newIntent(uuid.New(), base.Add(-time.Minute))
	fresh := newIntent(uuid.New(), time.Now().Add(time.Minute))
	for _, p := range []*entities.PaymentIntent{old, older, fresh} {
		require.NoError(t, store.Intents().Create(ctx, p))
	}
	_, _, err := store.Intents().MarkFailed(ctx, old.ID, "x", time.Now())
	require.NoError(t, err)

	pending, err := store.Intents().ListPending(ctx, domainrepos.PendingQuery{CreatedBefore: time.Now(), Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, older.ID, pending[0].ID)
}

func TestStore_ListPending_KeysetPages(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Now().Add(-time.Hour)

	var bound []uuid.UUID
	for i := 0; i < 6; i++ {
		p := newIntent(uuid.New(), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Intents().Create(ctx, p))
		if i%2 == 1 {
			_, err := store.Intents().AttachReference(ctx, p.ID, strings.Repeat(string(rune('a'+i)), 64))
			require.NoError(t, err)
			bound = append(bound, p.ID)
		}
	}

	q := domainrepos.PendingQuery{CreatedBefore: time.Now(), BoundOnly: true, Limit: 2}
	first, err := store.Intents().ListPending(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, bound[0], first[0].ID)
	assert.Equal(t, bound[1], first[1].ID)

	q.After = domainrepos.CursorAt(first[1])
	second, err := store.Intents().ListPending(ctx, q)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, bound[2], second[0].ID)

	all, err := store.Intents().ListPending(ctx, domainrepos.PendingQuery{CreatedBefore: time.Now(), Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}
