// Package settlement turns observed on-chain payments into wallet credits.
//
// An intent moves pending -> settled or pending -> failed exactly once. The
// engine holds no locks of its own: every transition is a compare-and-swap in
// the store, and settling an intent and crediting the wallet share a single
// transaction, so concurrent or repeated verification can credit at most once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/internal/domain/repositories"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
	"github.com/adreach/settlement_service/pkg/logger"
	"github.com/adreach/settlement_service/pkg/metrics"
)

// ChainResolver returns the adapter serving an asset's network.
type ChainResolver interface {
	ForAsset(spec entities.AssetSpec) (chain.Client, error)
}

// RateProvider supplies fiat rates. It must not fail: a degraded provider
// returns a fallback snapshot.
type RateProvider interface {
	GetRates(ctx context.Context) entities.RateSnapshot
}

// Notifier is told about terminal transitions after they commit.
type Notifier interface {
	Notify(ctx context.Context, event entities.SettlementEvent)
}

// EngineConfig holds settlement parameters
type EngineConfig struct {
	// ChainTimeout bounds every network query.
	ChainTimeout time.Duration
	// MinDeposits are per-asset minimums in minor units. An amount equal to
	// the minimum is accepted.
	MinDeposits map[entities.Asset]*big.Int
	// MaxDeposits are per-asset ceilings in minor units, inclusive.
	MaxDeposits map[entities.Asset]*big.Int
	// DepositAddresses is the receiving address per network.
	DepositAddresses map[entities.Network]string
	// TokenContracts overrides the built-in contract of a token asset.
	TokenContracts map[entities.Asset]string
	FiatCurrency   string
	// IntentTTL is how long a pending intent may wait for payment.
	IntentTTL     time.Duration
	PollBatchSize int
	// PollMinAge skips intents created moments ago; the HTTP caller is still
	// verifying those.
	PollMinAge time.Duration
}

// DefaultEngineConfig returns default settlement configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		ChainTimeout: 20 * time.Second,
		MinDeposits: map[entities.Asset]*big.Int{
			entities.AssetUSDTTRC20: big.NewInt(1_000_000),              // 1 USDT
			entities.AssetETH:       big.NewInt(1_000_000_000_000_000),  // 0.001 ETH
			entities.AssetBNB:       big.NewInt(10_000_000_000_000_000), // 0.01 BNB
		},
		MaxDeposits: map[entities.Asset]*big.Int{
			entities.AssetUSDTTRC20: big.NewInt(10_000_000_000_000), // 10M USDT
			entities.AssetETH:       new(big.Int).Mul(big.NewInt(10_000), big.NewInt(1e18)),
			entities.AssetBNB:       new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1e18)),
		},
		DepositAddresses: map[entities.Network]string{},
		TokenContracts:   map[entities.Asset]string{},
		FiatCurrency:     "USD",
		IntentTTL:        time.Hour,
		PollBatchSize:    100,
		PollMinAge:       10 * time.Second,
	}
}

// Engine coordinates intents, chain confirmation and the wallet ledger.
type Engine struct {
	store    repositories.Store
	chains   ChainResolver
	rates    RateProvider
	notifier Notifier
	metrics  *metrics.SettlementMetrics
	logger   *logger.Logger
	config   *EngineConfig
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine creates a settlement engine. notifier and m may be nil.
func NewEngine(
	store repositories.Store,
	chains ChainResolver,
	rates RateProvider,
	notifier Notifier,
	m *metrics.SettlementMetrics,
	logger *logger.Logger,
	config *EngineConfig,
) *Engine {
	if config == nil {
		config = DefaultEngineConfig()
	}
	return &Engine{
		store:    store,
		chains:   chains,
		rates:    rates,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		config:   config,
		tracer:   otel.Tracer("settlement-engine"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// DEPOSIT CREATION
// ============================================================================

// CreateDepositInput is a validated deposit request.
type CreateDepositInput struct {
	UserID         uuid.UUID
	Amount         string
	Asset          string
	IdempotencyKey string
	Memo           string
}

// CreateDeposit opens a pending intent and returns how to pay it. Replaying
// an idempotency key returns the intent it created.
func (e *Engine) CreateDeposit(ctx context.Context, in CreateDepositInput) (*entities.DepositQuote, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.CreateDeposit",
		trace.WithAttributes(attribute.String("asset", in.Asset)))
	defer span.End()

	if in.UserID == uuid.Nil {
		return nil, apperrors.ValidationError("user_id", "user_id is required")
	}

	asset, ok := entities.ParseAsset(in.Asset)
	if !ok {
		return nil, unsupportedAsset(in.Asset)
	}
	spec, _ := asset.Spec()
	destination := e.config.DepositAddresses[spec.Network]
	if destination == "" {
		return nil, unsupportedAsset(in.Asset)
	}
	if _, err := e.chains.ForAsset(spec); err != nil {
		return nil, unsupportedAsset(in.Asset)
	}

	amount, err := e.validateAmount(spec, in.Amount)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := e.store.Intents().GetByIdempotencyKey(ctx, in.UserID, key)
		switch {
		case err == nil:
			return e.replay(ctx, existing, asset, amount)
		case !apperrors.IsNotFound(err):
			return nil, err
		}
	}

	snapshot := e.rates.GetRates(ctx)
	fiat, _ := snapshot.FiatValue(spec, amount)
	if fiat.Abs().GreaterThanOrEqual(maxStorableFiat) {
		e.logger.Warn("Fiat equivalent out of range, recording zero",
			"asset", asset,
			"fiat", fiat.String())
		fiat = decimal.Zero
	}
	currency := snapshot.Currency
	if currency == "" {
		currency = e.config.FiatCurrency
	}

	now := e.now()
	intent := &entities.PaymentIntent{
		ID:                 uuid.New(),
		UserID:             in.UserID,
		Asset:              asset,
		Network:            spec.Network,
		RequestedAmount:    amount,
		DestinationAddress: destination,
		Status:             entities.IntentStatusPending,
		FiatCurrency:       currency,
		FiatEquivalent:     fiat,
		Memo:               in.Memo,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if key != "" {
		intent.IdempotencyKey = &key
	}

	if err := e.store.Intents().Create(ctx, intent); err != nil {
		if key != "" && apperrors.IsAlreadyExists(err) {
			// lost a race with a concurrent replay of the same key
			existing, getErr := e.store.Intents().GetByIdempotencyKey(ctx, in.UserID, key)
			if getErr != nil {
				return nil, getErr
			}
			return e.replay(ctx, existing, asset, amount)
		}
		span.RecordError(err)
		return nil, err
	}

	e.metrics.IntentCreated(string(asset))
	e.logger.Info("Deposit intent created",
		"intent_id", intent.ID,
		"user_id", intent.UserID,
		"asset", asset,
		"amount", entities.FormatAmount(amount, spec.Decimals),
		"rate_source", snapshot.Source)

	return &entities.DepositQuote{
		Intent:     intent,
		Descriptor: e.Descriptor(intent),
		Rates:      &snapshot,
	}, nil
}

func (e *Engine) replay(ctx context.Context, existing *entities.PaymentIntent, asset entities.Asset, amount *big.Int) (*entities.DepositQuote, error) {
	if existing.Asset != asset || existing.RequestedAmount.Cmp(amount) != 0 {
		return nil, apperrors.ConflictError("PAYMENT_INTENT", "idempotency key was used for a different deposit")
	}
	snapshot := e.rates.GetRates(ctx)
	return &entities.DepositQuote{
		Intent:     existing,
		Descriptor: e.Descriptor(existing),
		Rates:      &snapshot,
		Replayed:   true,
	}, nil
}

func (e *Engine) validateAmount(spec entities.AssetSpec, raw string) (*big.Int, error) {
	amount, err := entities.ParseAmount(raw, spec.Decimals)
	switch {
	case errors.Is(err, entities.ErrAmountPrecisionExceed):
		ve := apperrors.ValidationError("amount", fmt.Sprintf("%s supports at most %d decimal places", spec.Symbol, spec.Decimals))
		ve.Code = apperrors.CodeInvalidAmountPrecision
		return nil, ve
	case err != nil:
		return nil, apperrors.ValidationError("amount", err.Error())
	}

	if floor := e.config.MinDeposits[spec.Asset]; floor != nil && amount.Cmp(floor) < 0 {
		minimum := entities.FormatAmount(floor, spec.Decimals)
		ve := apperrors.ValidationError("amount", fmt.Sprintf("minimum deposit is %s %s", minimum, spec.Symbol))
		ve.Code = apperrors.CodeAmountBelowMinimum
		ve.Details["minimum"] = minimum
		return nil, ve
	}

	ceiling := e.config.MaxDeposits[spec.Asset]
	if ceiling == nil || ceiling.Cmp(maxStorableAmount) > 0 {
		ceiling = maxStorableAmount
	}
	if amount.Cmp(ceiling) > 0 {
		maximum := entities.FormatAmount(ceiling, spec.Decimals)
		ve := apperrors.ValidationError("amount", fmt.Sprintf("maximum deposit is %s %s", maximum, spec.Symbol))
		ve.Code = apperrors.CodeAmountAboveMaximum
		ve.Details["maximum"] = maximum
		return nil, ve
	}
	return amount, nil
}

// maxStorableFiat bounds fiat_equivalent NUMERIC(38,2).
var maxStorableFiat = decimal.New(1, 36)

// maxStorableAmount is the largest value requested_amount NUMERIC(78,0)
// holds.
var maxStorableAmount = new(big.Int).Sub(new(big.Int).Exp(big.NewInt(10), big.NewInt(78), nil), big.NewInt(1))

func unsupportedAsset(asset string) error {
	ve := apperrors.ValidationError("asset", fmt.Sprintf("asset %q is not supported", asset))
	ve.Code = apperrors.CodeUnsupportedAsset
	return ve
}

// Descriptor renders the payment URI for an intent.
func (e *Engine) Descriptor(intent *entities.PaymentIntent) entities.PaymentDescriptor {
	spec, _ := intent.Asset.Spec()
	if contract := e.config.TokenContracts[spec.Asset]; contract != "" {
		spec.ContractAddress = contract
	}
	return BuildDescriptor(spec, intent.DestinationAddress, intent.RequestedAmount, intent.Memo)
}

// ============================================================================
// VERIFICATION AND SETTLEMENT
// ============================================================================

// VerifyAndSettle binds reference to the intent and settles it once the chain
// reports the payment final. Transient conditions come back as a pending
// result with no state change; calling again is always safe.
func (e *Engine) VerifyAndSettle(ctx context.Context, intentID uuid.UUID, reference string) (*entities.SettlementResult, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.VerifyAndSettle",
		trace.WithAttributes(attribute.String("intent_id", intentID.String())))
	defer span.End()

	intent, err := e.store.Intents().GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.IsTerminal() {
		return resultFor(intent, intent.Reason()), nil
	}

	spec, _ := intent.Asset.Spec()
	client, err := e.chains.ForAsset(spec)
	if err != nil {
		return nil, err
	}

	ref, err := client.NormalizeReference(reference)
	if err != nil {
		return nil, err
	}

	intent, err = e.store.Intents().AttachReference(ctx, intentID, ref)
	if err != nil {
		if errors.Is(err, apperrors.ErrReferenceInUse) {
			e.metrics.DuplicateReference(string(spec.Asset))
			e.logger.Warn("Transaction reference already bound to another intent",
				"intent_id", intentID,
				"reference", ref)
			return nil, apperrors.DuplicateTransactionError(ref)
		}
		return nil, err
	}
	if intent.IsTerminal() {
		return resultFor(intent, intent.Reason()), nil
	}

	result, err := e.confirmAndSettle(ctx, intent, client, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(result.Status)))
	return result, nil
}

func (e *Engine) confirmAndSettle(ctx context.Context, intent *entities.PaymentIntent, client chain.Client, spec entities.AssetSpec) (*entities.SettlementResult, error) {
	conf, err := e.confirm(ctx, client, intent.Reference(), spec)
	if err != nil {
		e.logger.Warn("Chain query failed, intent stays pending",
			"intent_id", intent.ID,
			"network", spec.Network,
			"reference", intent.Reference(),
			"error", err)
		return resultFor(intent, "chain unavailable, retry later"), nil
	}

	switch conf.State {
	case chain.TxStateReverted:
		return e.fail(ctx, intent, entities.FailureReasonReverted)

	case chain.TxStateFinalized:
		if reason := mismatch(intent, conf, client, spec); reason != "" {
			return e.fail(ctx, intent, reason)
		}
		return e.settle(ctx, intent)

	case chain.TxStatePending:
		return resultFor(intent, fmt.Sprintf("awaiting finality (%d confirmations)", conf.Confirmations)), nil

	default:
		return resultFor(intent, "transaction not found yet"), nil
	}
}

func (e *Engine) confirm(ctx context.Context, client chain.Client, reference string, spec entities.AssetSpec) (*chain.Confirmation, error) {
	qctx, cancel := context.WithTimeout(ctx, e.config.ChainTimeout)
	defer cancel()

	start := time.Now()
	conf, err := client.ConfirmTransaction(qctx, reference, spec)
	if err != nil {
		e.metrics.ChainQuery(string(spec.Network), "error", time.Since(start))
		return nil, err
	}
	e.metrics.ChainQuery(string(spec.Network), string(conf.State), time.Since(start))
	return conf, nil
}

// mismatch compares a finalized transaction with what the intent asked for.
// Only transfers to the deposit address count, summed when a transaction
// carries several. Amounts must match exactly; over-payment is rejected like
// under-payment.
func mismatch(intent *entities.PaymentIntent, conf *chain.Confirmation, client chain.Client, spec entities.AssetSpec) string {
	want, err := client.NormalizeAddress(intent.DestinationAddress)
	if err != nil {
		want = intent.DestinationAddress
	}
	received, ok := conf.AmountTo(func(recipient string) bool {
		got, err := client.NormalizeAddress(recipient)
		return err == nil && got == want
	})
	if !ok {
		return fmt.Sprintf("%s: expected %s, received %s", entities.FailureReasonRecipientMismatch, intent.DestinationAddress, conf.Recipient)
	}

	if received.Cmp(intent.RequestedAmount) != 0 {
		return fmt.Sprintf("%s: expected %s, received %s",
			entities.FailureReasonAmountMismatch,
			entities.FormatAmount(intent.RequestedAmount, spec.Decimals),
			entities.FormatAmount(received, spec.Decimals))
	}
	return ""
}

func (e *Engine) fail(ctx context.Context, intent *entities.PaymentIntent, reason string) (*entities.SettlementResult, error) {
	updated, transitioned, err := e.store.Intents().MarkFailed(ctx, intent.ID, reason, e.now())
	if err != nil {
		return nil, err
	}
	if transitioned {
		e.metrics.Verification(string(intent.Asset), string(entities.IntentStatusFailed))
		e.logger.Warn("Deposit failed",
			"intent_id", intent.ID,
			"reference", intent.Reference(),
			"reason", reason)
		e.notify(ctx, updated)
	}
	return resultFor(updated, updated.Reason()), nil
}

// settle marks the intent settled and credits the wallet in one unit of work.
// If either write fails both roll back and the intent stays pending.
func (e *Engine) settle(ctx context.Context, intent *entities.PaymentIntent) (*entities.SettlementResult, error) {
	var (
		settled  *entities.PaymentIntent
		credited bool
	)

	err := e.store.WithinTransaction(ctx, func(ctx context.Context, tx repositories.Tx) error {
		updated, transitioned, err := tx.Intents().MarkSettled(ctx, intent.ID, e.now())
		if err != nil {
			return err
		}
		settled = updated
		if !transitioned {
			return nil
		}
		if _, err := tx.Ledger().Credit(ctx, updated.UserID, updated.Asset, updated.RequestedAmount); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		e.metrics.LedgerConsistencyFailure(string(intent.Asset))
		e.logger.Error("Settlement did not commit, intent left pending",
			"intent_id", intent.ID,
			"user_id", intent.UserID,
			"asset", intent.Asset,
			"reference", intent.Reference(),
			"error", err)
		lce := apperrors.LedgerConsistencyError(intent.ID.String(), err)
		lce.Details["status"] = string(entities.IntentStatusPending)
		return nil, lce
	}

	if credited {
		spec, _ := settled.Asset.Spec()
		e.metrics.Verification(string(settled.Asset), string(entities.IntentStatusSettled))
		e.logger.Info("Deposit settled",
			"intent_id", settled.ID,
			"user_id", settled.UserID,
			"asset", settled.Asset,
			"amount", entities.FormatAmount(settled.RequestedAmount, spec.Decimals),
			"reference", settled.Reference())
		e.notify(ctx, settled)
	}
	return resultFor(settled, settled.Reason()), nil
}

func (e *Engine) notify(ctx context.Context, intent *entities.PaymentIntent) {
	if e.notifier == nil {
		return
	}
	spec, _ := intent.Asset.Spec()
	e.notifier.Notify(ctx, entities.SettlementEvent{
		IntentID:             intent.ID,
		UserID:               intent.UserID,
		Asset:                intent.Asset,
		Amount:               entities.FormatAmount(intent.RequestedAmount, spec.Decimals),
		Status:               intent.Status,
		Reason:               intent.Reason(),
		TransactionReference: intent.Reference(),
		OccurredAt:           e.now(),
	})
}

func resultFor(intent *entities.PaymentIntent, reason string) *entities.SettlementResult {
	return &entities.SettlementResult{
		IntentID: intent.ID,
		Status:   intent.Status,
		Reason:   reason,
		Intent:   intent,
	}
}

// ============================================================================
// BROADCAST
// ============================================================================

// Broadcast relays a transaction the payer signed themselves and verifies the
// intent against the reference the network assigned it.
func (e *Engine) Broadcast(ctx context.Context, intentID uuid.UUID, signedTx []byte) (string, *entities.SettlementResult, error) {
	intent, err := e.store.Intents().GetByID(ctx, intentID)
	if err != nil {
		return "", nil, err
	}
	if intent.IsTerminal() {
		return "", nil, apperrors.ConflictError("PAYMENT_INTENT", fmt.Sprintf("intent is already %s", intent.Status))
	}

	spec, _ := intent.Asset.Spec()
	client, err := e.chains.ForAsset(spec)
	if err != nil {
		return "", nil, err
	}

	bctx, cancel := context.WithTimeout(ctx, e.config.ChainTimeout)
	reference, err := client.Broadcast(bctx, signedTx)
	cancel()
	if err != nil {
		return "", nil, err
	}

	e.logger.Info("Relayed signed transaction",
		"intent_id", intentID,
		"network", spec.Network,
		"reference", reference)

	result, err := e.VerifyAndSettle(ctx, intentID, reference)
	return reference, result, err
}

// ============================================================================
// READ HELPERS
// ============================================================================

func (e *Engine) GetIntent(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error) {
	return e.store.Intents().GetByID(ctx, id)
}

func (e *Engine) ListIntents(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.PaymentIntent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.Intents().ListByUser(ctx, userID, limit, offset)
}

func (e *Engine) GetBalance(ctx context.Context, userID uuid.UUID, asset entities.Asset) (*entities.WalletBalance, error) {
	if !asset.IsSupported() {
		return nil, unsupportedAsset(string(asset))
	}
	return e.store.Ledger().GetBalance(ctx, userID, asset)
}

// ListBalances reports every supported asset, zero where nothing was credited.
func (e *Engine) ListBalances(ctx context.Context, userID uuid.UUID) ([]*entities.WalletBalance, error) {
	rows, err := e.store.Ledger().ListBalances(ctx, userID)
	if err != nil {
		return nil, err
	}
	byAsset := make(map[entities.Asset]*entities.WalletBalance, len(rows))
	for _, row := range rows {
		byAsset[row.Asset] = row
	}
	out := make([]*entities.WalletBalance, 0, len(entities.SupportedAssets()))
	for _, asset := range entities.SupportedAssets() {
		if row, ok := byAsset[asset]; ok {
			out = append(out, row)
			continue
		}
		out = append(out, entities.ZeroBalance(userID, asset))
	}
	return out, nil
}

func (e *Engine) GetRates(ctx context.Context) entities.RateSnapshot {
	return e.rates.GetRates(ctx)
}

// AssetInfo describes a depositable asset as currently configured.
type AssetInfo struct {
	Spec           entities.AssetSpec
	MinimumDeposit *big.Int
	MaximumDeposit *big.Int
	DepositAddress string
	Fee            chain.FeeEstimate
}

// ListAssets returns the assets with a configured network, with an advisory
// fee for sending to the deposit address.
func (e *Engine) ListAssets(ctx context.Context) []AssetInfo {
	var out []AssetInfo
	for _, asset := range entities.SupportedAssets() {
		spec, _ := asset.Spec()
		address := e.config.DepositAddresses[spec.Network]
		client, err := e.chains.ForAsset(spec)
		if err != nil || address == "" {
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, e.config.ChainTimeout)
		fee := client.EstimateFee(fctx, spec)
		cancel()
		out = append(out, AssetInfo{
			Spec:           spec,
			MinimumDeposit: e.config.MinDeposits[asset],
			MaximumDeposit: e.config.MaxDeposits[asset],
			DepositAddress: address,
			Fee:            fee,
		})
	}
	return out
}

// DepositAddressBalance reads the on-chain balance held at the asset's
// deposit address.
func (e *Engine) DepositAddressBalance(ctx context.Context, asset entities.Asset) (*big.Int, error) {
	spec, ok := asset.Spec()
	if !ok {
		return nil, unsupportedAsset(string(asset))
	}
	address := e.config.DepositAddresses[spec.Network]
	if address == "" {
		return nil, unsupportedAsset(string(asset))
	}
	client, err := e.chains.ForAsset(spec)
	if err != nil {
		return nil, err
	}
	bctx, cancel := context.WithTimeout(ctx, e.config.ChainTimeout)
	defer cancel()
	return client.GetBalance(bctx, address, spec)
}
