package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
)

type walletBalanceRow struct {
	UserID         uuid.UUID `db:"user_id"`
	Asset          string    `db:"asset"`
	Balance        string    `db:"balance"`
	TotalDeposited string    `db:"total_deposited"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *walletBalanceRow) toEntity() (*entities.WalletBalance, error) {
	balance, err := entities.ParseMinorUnits(r.Balance)
	if err != nil {
		return nil, fmt.Errorf("unreadable balance %q: %w", r.Balance, err)
	}
	total, err := entities.ParseMinorUnits(r.TotalDeposited)
	if err != nil {
		return nil, fmt.Errorf("unreadable total_deposited %q: %w", r.TotalDeposited, err)
	}
	return &entities.WalletBalance{
		UserID:         r.UserID,
		Asset:          entities.Asset(r.Asset),
		Balance:        balance,
		TotalDeposited: total,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// WalletLedgerRepository keeps per-user, per-asset balances in minor units
// (NUMERIC(78,0)), so 6- and 18-decimal assets never share a scale.
type WalletLedgerRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
	tracer trace.Tracer
}

var _ domainrepos.WalletLedgerRepository = (*WalletLedgerRepository)(nil)

func NewWalletLedgerRepository(db sqlx.ExtContext, logger *zap.Logger) *WalletLedgerRepository {
	return &WalletLedgerRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("wallet-ledger-repository"),
	}
}

// Credit adds amount to the user's balance, creating the row if needed
func (r *WalletLedgerRepository) Credit(ctx context.Context, userID uuid.UUID, asset entities.Asset, amount *big.Int) (*entities.WalletBalance, error) {
	ctx, span := r.tracer.Start(ctx, "repository.credit_wallet", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("asset", string(asset)),
	))
	defer span.End()

	if amount == nil || amount.Sign() <= 0 {
		return nil, apperrors.ValidationError("amount", "credit amount must be positive")
	}

	query := `
		INSERT INTO wallet_ledger (user_id, asset, balance, total_deposited, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $4, $4)
		ON CONFLICT (user_id, asset) DO UPDATE SET
			balance = wallet_ledger.balance + EXCLUDED.balance,
			total_deposited = wallet_ledger.total_deposited + EXCLUDED.total_deposited,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, asset, balance, total_deposited, created_at, updated_at`

	var row walletBalanceRow
	err := sqlx.GetContext(ctx, r.db, &row, query, userID, asset, amount.String(), time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		r.logger.Error("Failed to credit wallet",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("asset", string(asset)),
		)
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	r.logger.Debug("Wallet credited",
		zap.String("user_id", userID.String()),
		zap.String("asset", string(asset)),
		zap.String("amount", amount.String()),
	)
	return row.toEntity()
}

// GetBalance returns the balance for one asset
func (r *WalletLedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID, asset entities.Asset) (*entities.WalletBalance, error) {
	query := `
		SELECT user_id, asset, balance, total_deposited, created_at, updated_at
		FROM wallet_ledger
		WHERE user_id = $1 AND asset = $2`

	var row walletBalanceRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, userID, asset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.ZeroBalance(userID, asset), nil
		}
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	return row.toEntity()
}

// ListBalances returns every asset balance the user holds
func (r *WalletLedgerRepository) ListBalances(ctx context.Context, userID uuid.UUID) ([]*entities.WalletBalance, error) {
	query := `
		SELECT user_id, asset, balance, total_deposited, created_at, updated_at
		FROM wallet_ledger
		WHERE user_id = $1
		ORDER BY asset`

	var rows []walletBalanceRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list wallet balances: %w", err)
	}
	out := make([]*entities.WalletBalance, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
