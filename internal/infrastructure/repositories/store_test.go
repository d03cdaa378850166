package repositories

import (
	"context"
	"errors"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
	"github.com/adreach/settlement_service/internal/infrastructure/config"
	"github.com/adreach/settlement_service/internal/infrastructure/database"
)

// openTestStore connects to TEST_DATABASE_URL, migrates it and truncates the
// settlement tables. Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewConnector().Connect(ctx, config.DatabaseConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations(db, "file://../../../migrations"))
	_, err = db.ExecContext(ctx, `TRUNCATE payment_intents, wallet_ledger`)
	require.NoError(t, err)

	return NewStore(db, zap.NewNop()), db
}

func newIntent(userID uuid.UUID, amount int64) *entities.PaymentIntent {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &entities.PaymentIntent{
		ID:                 uuid.New(),
		UserID:             userID,
		Asset:              entities.AssetUSDTTRC20,
		Network:            entities.NetworkTron,
		RequestedAmount:    big.NewInt(amount),
		DestinationAddress: "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
		Status:             entities.IntentStatusPending,
		FiatCurrency:       "usd",
		FiatEquivalent:     decimal.NewFromInt(amount).Shift(-6),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestPostgresStore_IntentLifecycle(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	intent := newIntent(userID, 50_000_000)
	key := "order-1"
	intent.IdempotencyKey = &key
	require.NoError(t, store.Intents().Create(ctx, intent))

	dup := newIntent(userID, 50_000_000)
	dup.IdempotencyKey = &key
	err := store.Intents().Create(ctx, dup)
	assert.True(t, apperrors.IsAlreadyExists(err))

	got, err := store.Intents().GetByIdempotencyKey(ctx, userID, key)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, big.NewInt(50_000_000), got.RequestedAmount)

	ref := "7c2d4206c03a883dd9066d920a6cd7a2ee61bbd1b8e2c65b5c6cad8fa2d2b1c9"
	bound, err := store.Intents().AttachReference(ctx, intent.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, bound.Reference())

	_, err = store.Intents().AttachReference(ctx, intent.ID, ref)
	require.NoError(t, err, "re-binding the same reference is a no-op")

	other := newIntent(userID, 1_000_000)
	require.NoError(t, store.Intents().Create(ctx, other))
	_, err = store.Intents().AttachReference(ctx, other.ID, ref)
	assert.True(t, errors.Is(err, apperrors.ErrReferenceInUse))

	settled, transitioned, err := store.Intents().MarkSettled(ctx, intent.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, entities.IntentStatusSettled, settled.Status)

	_, transitioned, err = store.Intents().MarkFailed(ctx, intent.ID, "late", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, transitioned, "terminal intents never move")

	_, err = store.Intents().GetByID(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPostgresStore_TransactionRollsBack(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	intent := newIntent(userID, 50_000_000)
	require.NoError(t, store.Intents().Create(ctx, intent))

	boom := errors.New("credit failed")
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx domainrepos.Tx) error {
		if _, _, err := tx.Intents().MarkSettled(ctx, intent.ID, time.Now().UTC()); err != nil {
			return err
		}
		if _, err := tx.Ledger().Credit(ctx, userID, intent.Asset, intent.RequestedAmount); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Intents().GetByID(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.IntentStatusPending, got.Status)

	balance, err := store.Ledger().GetBalance(ctx, userID, intent.Asset)
	require.NoError(t, err)
	assert.Zero(t, balance.Balance.Sign())
}

func TestPostgresStore_ConcurrentSettleCreditsOnce(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	intent := newIntent(userID, 50_000_000)
	require.NoError(t, store.Intents().Create(ctx, intent))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithinTransaction(ctx, func(ctx context.Context, tx domainrepos.Tx) error {
				_, transitioned, err := tx.Intents().MarkSettled(ctx, intent.ID, time.Now().UTC())
				if err != nil || !transitioned {
					return err
				}
				_, err = tx.Ledger().Credit(ctx, userID, intent.Asset, intent.RequestedAmount)
				return err
			})
		}()
	}
	wg.Wait()

	balance, err := store.Ledger().GetBalance(ctx, userID, intent.Asset)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50_000_000), balance.Balance)
	assert.Equal(t, big.NewInt(50_000_000), balance.TotalDeposited)
}

func TestPostgresStore_LargeAmountsRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	want, _ := new(big.Int).SetString("123456789123456789123456789", 10)
	_, err := store.Ledger().Credit(ctx, userID, entities.AssetBNB, want)
	require.NoError(t, err)
	_, err = store.Ledger().Credit(ctx, userID, entities.AssetBNB, big.NewInt(1))
	require.NoError(t, err)

	balance, err := store.Ledger().GetBalance(ctx, userID, entities.AssetBNB)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(want, big.NewInt(1)), balance.Balance)

	all, err := store.Ledger().ListBalances(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
