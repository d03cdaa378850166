package handlers

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/adreach/settlement_service/internal/domain/entities"
	"github.com/adreach/settlement_service/internal/domain/services/settlement"
	"github.com/adreach/settlement_service/pkg/logger"
)

// SettlementService is the slice of the settlement engine the HTTP layer uses.
type SettlementService interface {
	CreateDeposit(ctx context.Context, in settlement.CreateDepositInput) (*entities.DepositQuote, error)
	VerifyAndSettle(ctx context.Context, intentID uuid.UUID, reference string) (*entities.SettlementResult, error)
	Broadcast(ctx context.Context, intentID uuid.UUID, signedTx []byte) (string, *entities.SettlementResult, error)
	GetIntent(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error)
	ListIntents(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.PaymentIntent, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]*entities.WalletBalance, error)
	GetRates(ctx context.Context) entities.RateSnapshot
	ListAssets(ctx context.Context) []settlement.AssetInfo
	DepositAddressBalance(ctx context.Context, asset entities.Asset) (*big.Int, error)
	Descriptor(intent *entities.PaymentIntent) entities.PaymentDescriptor
}

// DepositHandlers serves deposit quotes, verification and wallet balances
type DepositHandlers struct {
	service   SettlementService
	validator *validator.Validate
	logger    *logger.Logger
}

func NewDepositHandlers(service SettlementService, logger *logger.Logger) *DepositHandlers {
	return &DepositHandlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// bindAndValidate decodes a JSON body and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
func (h *DepositHandlers) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondBadRequest(c, "Invalid request format", map[string]interface{}{"error": err.Error()})
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "Validation failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}

// loadIntent fetches an intent from the :id path parameter and checks that the
// caller may see it.
func (h *DepositHandlers) loadIntent(c *gin.Context) (*entities.PaymentIntent, bool) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}
	intent, err := h.service.GetIntent(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return nil, false
	}
	if !authorizeUser(c, intent.UserID) {
		return nil, false
	}
	return intent, true
}

// CreateDeposit opens a deposit intent
// @Summary Create deposit quote
// @Description Opens a pending payment intent and returns the destination address, the fiat equivalent and a wallet payment URI
// @Tags deposits
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Replays return the intent created by the first request"
// @Param request body entities.CreateDepositRequest true "Deposit request"
// @Success 201 {object} entities.DepositQuoteResponse
// @Success 200 {object} entities.DepositQuoteResponse "Idempotent replay"
// @Failure 400 {object} entities.ErrorResponse
// @Failure 403 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 500 {object} entities.ErrorResponse
// @Router /api/v1/deposits [post]
func (h *DepositHandlers) CreateDeposit(c *gin.Context) {
	var req entities.CreateDepositRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, "Invalid user_id", map[string]interface{}{"field": "user_id"})
		return
	}
	if !authorizeUser(c, userID) {
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempotencyKey) > 128 {
		respondBadRequest(c, "Idempotency-Key must be at most 128 characters")
		return
	}

	quote, err := h.service.CreateDeposit(c.Request.Context(), settlement.CreateDepositInput{
		UserID:         userID,
		Amount:         req.Amount,
		Asset:          req.Asset,
		IdempotencyKey: idempotencyKey,
		Memo:           req.Memo,
	})
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if quote.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, toQuoteResponse(quote))
}

// GetDeposit returns one payment intent
// @Summary Get deposit
// @Tags deposits
// @Produce json
// @Param id path string true "Intent ID"
// @Success 200 {object} entities.PaymentIntentResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 403 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/deposits/{id} [get]
func (h *DepositHandlers) GetDeposit(c *gin.Context) {
	intent, ok := h.loadIntent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toIntentResponse(intent))
}

// GetDepositQR renders the intent's payment URI as a PNG QR code
// @Summary Deposit QR code
// @Tags deposits
// @Produce png
// @Param id path string true "Intent ID"
// @Param size query int false "Image edge in pixels" default(256)
// @Success 200 {file} binary
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Router /api/v1/deposits/{id}/qr [get]
func (h *DepositHandlers) GetDepositQR(c *gin.Context) {
	size := 0
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidQRSize, "size must be a positive integer", nil)
			return
		}
		size = n
	}

	intent, ok := h.loadIntent(c)
	if !ok {
		return
	}

	png, err := settlement.QRCode(h.service.Descriptor(intent).URI, size)
	if err != nil {
		h.logger.Error("Failed to render QR code", "error", err, "intent_id", intent.ID)
		respondInternalError(c, "Failed to render QR code")
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}

// VerifyDeposit binds a transaction reference to the intent and settles it
// once the chain reports it final
// @Summary Verify deposit
// @Tags deposits
// @Accept json
// @Produce json
// @Param id path string true "Intent ID"
// @Param request body entities.VerifyDepositRequest true "Transaction reference"
// @Success 200 {object} entities.SettlementStatusResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /api/v1/deposits/{id}/verify [post]
func (h *DepositHandlers) VerifyDeposit(c *gin.Context) {
	intent, ok := h.loadIntent(c)
	if !ok {
		return
	}

	var req entities.VerifyDepositRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	h.verify(c, intent.ID, req.TransactionReference)
}

// CheckSettlement is the body-addressed form of VerifyDeposit
// @Summary Check settlement
// @Tags settlements
// @Accept json
// @Produce json
// @Param request body entities.SettlementCheckRequest true "Intent and transaction reference"
// @Success 200 {object} entities.SettlementStatusResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 404 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /api/v1/settlements/check [post]
func (h *DepositHandlers) CheckSettlement(c *gin.Context) {
	var req entities.SettlementCheckRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	intentID, err := uuid.Parse(req.IntentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, "Invalid intent_id", map[string]interface{}{"field": "intent_id"})
		return
	}

	intent, err := h.service.GetIntent(c.Request.Context(), intentID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	if !authorizeUser(c, intent.UserID) {
		return
	}

	h.verify(c, intentID, req.TransactionReference)
}

func (h *DepositHandlers) verify(c *gin.Context, intentID uuid.UUID, reference string) {
	result, err := h.service.VerifyAndSettle(c.Request.Context(), intentID, strings.TrimSpace(reference))
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entities.SettlementStatusResponse{
		IntentID: result.IntentID.String(),
		Status:   result.Status,
		Reason:   result.Reason,
	})
}

// BroadcastDeposit relays a transaction the payer signed and verifies it
// @Summary Relay signed transaction
// @Tags deposits
// @Accept json
// @Produce json
// @Param id path string true "Intent ID"
// @Param request body entities.BroadcastRequest true "Hex encoded signed transaction"
// @Success 200 {object} entities.BroadcastResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /api/v1/deposits/{id}/broadcast [post]
func (h *DepositHandlers) BroadcastDeposit(c *gin.Context) {
	intent, ok := h.loadIntent(c)
	if !ok {
		return
	}

	var req entities.BroadcastRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	signed, err := hex.DecodeString(strings.TrimPrefix(req.SignedTransaction, "0x"))
	if err != nil || len(signed) == 0 {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "signed_transaction must be hex encoded", map[string]interface{}{"field": "signed_transaction"})
		return
	}

	reference, result, err := h.service.Broadcast(c.Request.Context(), intent.ID, signed)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entities.BroadcastResponse{
		IntentID:             intent.ID.String(),
		TransactionReference: reference,
		Status:               result.Status,
		Reason:               result.Reason,
	})
}

// ListUserDeposits pages through a user's intents, newest first
// @Summary List deposits
// @Tags wallets
// @Produce json
// @Param user_id path string true "User ID"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Results to skip" default(0)
// @Success 200 {object} entities.PaymentIntentListResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 403 {object} entities.ErrorResponse
// @Router /api/v1/wallets/{user_id}/deposits [get]
func (h *DepositHandlers) ListUserDeposits(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok || !authorizeUser(c, userID) {
		return
	}
	limit, offset := parsePage(c)

	intents, err := h.service.ListIntents(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	resp := entities.PaymentIntentListResponse{
		UserID:  userID.String(),
		Intents: make([]entities.PaymentIntentResponse, 0, len(intents)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, intent := range intents {
		resp.Intents = append(resp.Intents, toIntentResponse(intent))
	}
	c.JSON(http.StatusOK, resp)
}

// GetWalletBalances returns a user's internal balances
// @Summary Wallet balances
// @Tags wallets
// @Produce json
// @Param user_id path string true "User ID"
// @Success 200 {object} entities.WalletBalancesResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 403 {object} entities.ErrorResponse
// @Router /api/v1/wallets/{user_id}/balances [get]
func (h *DepositHandlers) GetWalletBalances(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok || !authorizeUser(c, userID) {
		return
	}

	balances, err := h.service.ListBalances(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}

	resp := entities.WalletBalancesResponse{
		UserID:   userID.String(),
		Balances: make([]entities.WalletBalanceResponse, 0, len(balances)),
	}
	for _, b := range balances {
		spec, ok := b.Asset.Spec()
		if !ok {
			continue
		}
		resp.Balances = append(resp.Balances, entities.WalletBalanceResponse{
			Asset:          b.Asset,
			Balance:        entities.FormatAmount(b.Balance, spec.Decimals),
			TotalDeposited: entities.FormatAmount(b.TotalDeposited, spec.Decimals),
			MinorUnits:     b.Balance.String(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// GetRates returns the current asset to fiat snapshot
// @Summary Exchange rates
// @Tags rates
// @Produce json
// @Success 200 {object} entities.RatesResponse
// @Router /api/v1/rates [get]
func (h *DepositHandlers) GetRates(c *gin.Context) {
	snapshot := h.service.GetRates(c.Request.Context())
	rates := make(map[string]string, len(snapshot.Rates))
	for asset, rate := range snapshot.Rates {
		rates[string(asset)] = rate.String()
	}
	c.JSON(http.StatusOK, entities.RatesResponse{
		Currency:  snapshot.Currency,
		Source:    snapshot.Source,
		Fallback:  snapshot.Fallback,
		Rates:     rates,
		FetchedAt: snapshot.FetchedAt,
	})
}

// ListAssets describes every asset that can currently be deposited
// @Summary Supported assets
// @Tags assets
// @Produce json
// @Success 200 {array} entities.AssetResponse
// @Router /api/v1/assets [get]
func (h *DepositHandlers) ListAssets(c *gin.Context) {
	infos := h.service.ListAssets(c.Request.Context())
	out := make([]entities.AssetResponse, 0, len(infos))
	for _, info := range infos {
		minimum := "0"
		if info.MinimumDeposit != nil {
			minimum = entities.FormatAmount(info.MinimumDeposit, info.Spec.Decimals)
		}
		var maximum string
		if info.MaximumDeposit != nil {
			maximum = entities.FormatAmount(info.MaximumDeposit, info.Spec.Decimals)
		}
		fee := "0"
		if info.Fee.Amount != nil {
			fee = entities.FormatAmount(info.Fee.Amount, info.Fee.Decimals)
		}
		out = append(out, entities.AssetResponse{
			Asset:           info.Spec.Asset,
			Network:         info.Spec.Network,
			Symbol:          info.Spec.Symbol,
			Decimals:        info.Spec.Decimals,
			ContractAddress: info.Spec.ContractAddress,
			ChainID:         info.Spec.ChainID,
			MinimumDeposit:  minimum,
			MaximumDeposit:  maximum,
			DepositAddress:  info.DepositAddress,
			EstimatedFee:    fee,
			FeeSymbol:       info.Fee.Symbol,
			FeeIsFallback:   info.Fee.Fallback,
		})
	}
	c.JSON(http.StatusOK, out)
}

// GetDepositAddressBalance reads the on-chain balance of an asset's deposit address
// @Summary Deposit address balance
// @Tags assets
// @Produce json
// @Param asset path string true "Asset" Enums(USDT_TRC20,ETH,BNB)
// @Success 200 {object} entities.DepositAddressBalanceResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 403 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /api/v1/assets/{asset}/deposit-balance [get]
func (h *DepositHandlers) GetDepositAddressBalance(c *gin.Context) {
	if !isAdmin(c) {
		respondForbidden(c, "Admin privileges required")
		return
	}

	asset, _ := entities.ParseAsset(c.Param("asset"))
	balance, err := h.service.DepositAddressBalance(c.Request.Context(), asset)
	if err != nil {
		respondDomainError(c, h.logger, err)
		return
	}
	spec, _ := asset.Spec()
	c.JSON(http.StatusOK, entities.DepositAddressBalanceResponse{
		Asset:      asset,
		Balance:    entities.FormatAmount(balance, spec.Decimals),
		MinorUnits: balance.String(),
	})
}

// ============================================================================
// RESPONSE MAPPING
// ============================================================================

func toQuoteResponse(q *entities.DepositQuote) entities.DepositQuoteResponse {
	intent := q.Intent
	source := ""
	if q.Rates != nil {
		source = q.Rates.Source
	}
	return entities.DepositQuoteResponse{
		IntentID:           intent.ID.String(),
		UserID:             intent.UserID.String(),
		Status:             intent.Status,
		DestinationAddress: intent.DestinationAddress,
		Amount:             q.Descriptor.Amount,
		Asset:              intent.Asset,
		Network:            intent.Network,
		FiatEquivalent:     intent.FiatEquivalent.StringFixed(2),
		FiatCurrency:       intent.FiatCurrency,
		RateSource:         source,
		PaymentDescriptor:  q.Descriptor,
		CreatedAt:          intent.CreatedAt,
	}
}

func toIntentResponse(intent *entities.PaymentIntent) entities.PaymentIntentResponse {
	amount := ""
	if spec, ok := intent.Asset.Spec(); ok && intent.RequestedAmount != nil {
		amount = entities.FormatAmount(intent.RequestedAmount, spec.Decimals)
	}
	return entities.PaymentIntentResponse{
		ID:                   intent.ID.String(),
		UserID:               intent.UserID.String(),
		Asset:                intent.Asset,
		Network:              intent.Network,
		Amount:               amount,
		DestinationAddress:   intent.DestinationAddress,
		Status:               intent.Status,
		TransactionReference: intent.Reference(),
		FailureReason:        intent.Reason(),
		FiatEquivalent:       intent.FiatEquivalent.StringFixed(2),
		FiatCurrency:         intent.FiatCurrency,
		CreatedAt:            intent.CreatedAt,
		SettledAt:            intent.SettledAt,
	}
}
