package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	domainrepos "github.com/adreach/settlement_service/internal/domain/repositories"
)

const (
	pgUniqueViolation = "23505"

	constraintIntentReference   = "payment_intents_transaction_reference_key"
	constraintIntentIdempotency = "payment_intents_user_idempotency_key"
)

const paymentIntentColumns = `
	id, user_id, asset, network, requested_amount, destination_address, status,
	transaction_reference, failure_reason, idempotency_key, fiat_currency,
	fiat_equivalent, memo, created_at, updated_at, settled_at`

type paymentIntentRow struct {
	ID                   uuid.UUID       `db:"id"`
	UserID               uuid.UUID       `db:"user_id"`
	Asset                string          `db:"asset"`
	Network              string          `db:"network"`
	RequestedAmount      string          `db:"requested_amount"`
	DestinationAddress   string          `db:"destination_address"`
	Status               string          `db:"status"`
	TransactionReference sql.NullString  `db:"transaction_reference"`
	FailureReason        sql.NullString  `db:"failure_reason"`
	IdempotencyKey       sql.NullString  `db:"idempotency_key"`
	FiatCurrency         string          `db:"fiat_currency"`
	FiatEquivalent       decimal.Decimal `db:"fiat_equivalent"`
	Memo                 string          `db:"memo"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
	SettledAt            sql.NullTime    `db:"settled_at"`
}

func (r *paymentIntentRow) toEntity() (*entities.PaymentIntent, error) {
	amount, err := entities.ParseMinorUnits(r.RequestedAmount)
	if err != nil {
		return nil, fmt.Errorf("intent %s has unreadable amount %q: %w", r.ID, r.RequestedAmount, err)
	}
	intent := &entities.PaymentIntent{
		ID:                 r.ID,
		UserID:             r.UserID,
		Asset:              entities.Asset(r.Asset),
		Network:            entities.Network(r.Network),
		RequestedAmount:    amount,
		DestinationAddress: r.DestinationAddress,
		Status:             entities.IntentStatus(r.Status),
		FiatCurrency:       r.FiatCurrency,
		FiatEquivalent:     r.FiatEquivalent,
		Memo:               r.Memo,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.TransactionReference.Valid {
		intent.TransactionReference = &r.TransactionReference.String
	}
	if r.FailureReason.Valid {
		intent.FailureReason = &r.FailureReason.String
	}
	if r.IdempotencyKey.Valid {
		intent.IdempotencyKey = &r.IdempotencyKey.String
	}
	if r.SettledAt.Valid {
		t := r.SettledAt.Time
		intent.SettledAt = &t
	}
	return intent, nil
}

// PaymentIntentRepository stores payment intents in Postgres.
type PaymentIntentRepository struct {
	db     sqlx.ExtContext
	logger *zap.Logger
	tracer trace.Tracer
}

var _ domainrepos.PaymentIntentRepository = (*PaymentIntentRepository)(nil)

// NewPaymentIntentRepository accepts either *sqlx.DB or *sqlx.Tx.
func NewPaymentIntentRepository(db sqlx.ExtContext, logger *zap.Logger) *PaymentIntentRepository {
	return &PaymentIntentRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("payment-intent-repository"),
	}
}

// Create inserts a new intent
func (r *PaymentIntentRepository) Create(ctx context.Context, intent *entities.PaymentIntent) error {
	ctx, span := r.tracer.Start(ctx, "repository.create_payment_intent", trace.WithAttributes(
		attribute.String("intent_id", intent.ID.String()),
		attribute.String("asset", string(intent.Asset)),
	))
	defer span.End()

	query := `
		INSERT INTO payment_intents (
			id, user_id, asset, network, requested_amount, destination_address, status,
			idempotency_key, fiat_currency, fiat_equivalent, memo, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		intent.ID,
		intent.UserID,
		intent.Asset,
		intent.Network,
		intent.RequestedAmount.String(),
		intent.DestinationAddress,
		intent.Status,
		intent.IdempotencyKey,
		intent.FiatCurrency,
		intent.FiatEquivalent,
		intent.Memo,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err, constraintIntentIdempotency) {
			return apperrors.AlreadyExistsError("PAYMENT_INTENT")
		}
		r.logger.Error("Failed to create payment intent", zap.Error(err), zap.String("intent_id", intent.ID.String()))
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// GetByID retrieves an intent by ID
func (r *PaymentIntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error) {
	query := `SELECT ` + paymentIntentColumns + ` FROM payment_intents WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIdempotencyKey retrieves the intent a user created with the given key
func (r *PaymentIntentRepository) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entities.PaymentIntent, error) {
	query := `SELECT ` + paymentIntentColumns + ` FROM payment_intents WHERE user_id = $1 AND idempotency_key = $2`
	return r.getOne(ctx, query, userID, key)
}

// GetByReference retrieves the intent bound to a transaction reference
func (r *PaymentIntentRepository) GetByReference(ctx context.Context, reference string) (*entities.PaymentIntent, error) {
	query := `SELECT ` + paymentIntentColumns + ` FROM payment_intents WHERE transaction_reference = $1`
	return r.getOne(ctx, query, reference)
}

// AttachReference binds reference to the intent. The unique index on
// transaction_reference rejects a reference already held elsewhere.
func (r *PaymentIntentRepository) AttachReference(ctx context.Context, id uuid.UUID, reference string) (*entities.PaymentIntent, error) {
	ctx, span := r.tracer.Start(ctx, "repository.attach_reference", trace.WithAttributes(
		attribute.String("intent_id", id.String()),
	))
	defer span.End()

	query := `
		UPDATE payment_intents
		SET transaction_reference = $2, updated_at = $3
		WHERE id = $1
		  AND (transaction_reference = $2 OR (transaction_reference IS NULL AND status = 'pending'))
		RETURNING ` + paymentIntentColumns

	intent, err := r.getOne(ctx, query, id, reference, time.Now().UTC())
	if err == nil {
		return intent, nil
	}
	if isUniqueViolation(err, constraintIntentReference) {
		return nil, apperrors.ReferenceConflictError(reference, apperrors.ErrReferenceInUse)
	}
	if !apperrors.IsNotFound(err) {
		span.RecordError(err)
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.TransactionReference != nil && *current.TransactionReference != reference {
		return nil, apperrors.ReferenceConflictError(reference, apperrors.ErrReferenceImmutable)
	}
	// Terminal and never bound: leave it alone.
	return current, nil
}

// MarkSettled moves a pending intent to settled
func (r *PaymentIntentRepository) MarkSettled(ctx context.Context, id uuid.UUID, at time.Time) (*entities.PaymentIntent, bool, error) {
	query := `
		UPDATE payment_intents
		SET status = 'settled', settled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentIntentColumns
	return r.transition(ctx, "repository.mark_settled", id, query, id, at)
}

// MarkFailed moves a pending intent to failed
func (r *PaymentIntentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*entities.PaymentIntent, bool, error) {
	query := `
		UPDATE payment_intents
		SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + paymentIntentColumns
	return r.transition(ctx, "repository.mark_failed", id, query, id, reason, at)
}

func (r *PaymentIntentRepository) transition(ctx context.Context, spanName string, id uuid.UUID, query string, args ...interface{}) (*entities.PaymentIntent, bool, error) {
	ctx, span := r.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("intent_id", id.String()),
	))
	defer span.End()

	intent, err := r.getOne(ctx, query, args...)
	if err == nil {
		return intent, true, nil
	}
	if !apperrors.IsNotFound(err) {
		span.RecordError(err)
		return nil, false, err
	}

	// Zero rows: either the intent does not exist or it is already terminal.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ListPending returns one page of pending intents created before the cutoff,
// oldest first, resuming after q.After when set
func (r *PaymentIntentRepository) ListPending(ctx context.Context, q domainrepos.PendingQuery) ([]*entities.PaymentIntent, error) {
	conditions := []string{"status = 'pending'", "created_at < $1"}
	args := []interface{}{q.CreatedBefore}
	if q.BoundOnly {
		conditions = append(conditions, "transaction_reference IS NOT NULL")
	}
	if q.After != nil {
		args = append(args, q.After.CreatedAt, q.After.ID)
		conditions = append(conditions, fmt.Sprintf("(created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, q.Limit)

	query := `SELECT ` + paymentIntentColumns + `
		FROM payment_intents
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at ASC, id ASC
		LIMIT $` + strconv.Itoa(len(args))
	return r.list(ctx, query, args...)
}

// ListByUser returns a user's intents, newest first
func (r *PaymentIntentRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.PaymentIntent, error) {
	query := `SELECT ` + paymentIntentColumns + `
		FROM payment_intents
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, userID, limit, offset)
}

func (r *PaymentIntentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entities.PaymentIntent, error) {
	var row paymentIntentRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundError("PAYMENT_INTENT")
		}
		return nil, fmt.Errorf("failed to query payment intent: %w", err)
	}
	return row.toEntity()
}

func (r *PaymentIntentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entities.PaymentIntent, error) {
	var rows []paymentIntentRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	out := make([]*entities.PaymentIntent, 0, len(rows))
	for i := range rows {
		intent, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
