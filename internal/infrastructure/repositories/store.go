package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
)

// Store is the Postgres-backed settlement store.
type Store struct {
	db      *sqlx.DB
	intents *PaymentIntentRepository
	ledger  *WalletLedgerRepository
	logger  *zap.Logger
}

var _ domainrepos.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{
		db:      db,
		intents: NewPaymentIntentRepository(db, logger),
		ledger:  NewWalletLedgerRepository(db, logger),
		logger:  logger,
	}
}

func (s *Store) Intents() domainrepos.PaymentIntentRepository { return s.intents }

func (s *Store) Ledger() domainrepos.WalletLedgerRepository { return s.ledger }

type pgTx struct {
	intents *PaymentIntentRepository
	ledger  *WalletLedgerRepository
}

func (t *pgTx) Intents() domainrepos.PaymentIntentRepository { return t.intents }

func (t *pgTx) Ledger() domainrepos.WalletLedgerRepository { return t.ledger }

// WithinTransaction runs fn in a READ COMMITTED transaction. The status CAS in
// MarkSettled takes the intent's row lock, which is enough to serialise
// competing settlements of the same intent.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx domainrepos.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	scoped := &pgTx{
		intents: NewPaymentIntentRepository(tx, s.logger),
		ledger:  NewWalletLedgerRepository(tx, s.logger),
	}
	if err := fn(ctx, scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
