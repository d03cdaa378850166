package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/pkg/logger"
	"github.com/adreach/settlement_service/pkg/retry"
)

// DepositVerifier settles an intent against a transaction reference.
type DepositVerifier interface {
	VerifyAndSettle(ctx context.Context, intentID uuid.UUID, reference string) (*entities.SettlementResult, error)
}

// WebhookHandlers accepts payment sightings pushed by an external chain watcher
type WebhookHandlers struct {
	verifier            DepositVerifier
	validator           *validator.Validate
	webhookSecret       string
	skipSignatureVerify bool // only honoured outside production, enforced by config
	retryPolicy         retry.Policy
	logger              *logger.Logger
}

func NewWebhookHandlers(verifier DepositVerifier, logger *logger.Logger) *WebhookHandlers {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = 2
	policy.InitialDelay = 250 * time.Millisecond
	// only a rolled back settlement is worth retrying inline; chain lag is
	// left to the poller
	policy.RetryableFunc = apperrors.IsLedgerConsistency

	return &WebhookHandlers{
		verifier:    verifier,
		validator:   validator.New(),
		retryPolicy: policy,
		logger:      logger,
	}
}

// SetWebhookSecret sets the webhook secret for signature verification.
// skipVerify should only be true in development/testing environments.
func (h *WebhookHandlers) SetWebhookSecret(secret string, skipVerify bool) {
	h.webhookSecret = secret
	h.skipSignatureVerify = skipVerify
}

// ChainDepositWebhook handles payment sightings from the chain watcher
// @Summary Chain deposit webhook
// @Description Binds the reported transaction to its intent and settles it when final. Requires an HMAC-SHA256 signature of the raw body in X-Webhook-Signature.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "hex HMAC-SHA256 of the body, optionally prefixed sha256="
// @Param request body entities.ChainDepositWebhook true "Chain deposit webhook payload"
// @Success 200 {object} entities.SettlementStatusResponse
// @Failure 400 {object} entities.ErrorResponse
// @Failure 401 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Router /webhooks/chain-deposits [post]
func (h *WebhookHandlers) ChainDepositWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, "Failed to read request body")
		return
	}

	// fail closed when no secret is configured
	if h.webhookSecret == "" {
		if !h.skipSignatureVerify {
			h.logger.Error("Webhook secret not configured - rejecting webhook")
			respondError(c, http.StatusUnauthorized, ErrCodeWebhookNotConfigured, "Webhook signature verification not configured", nil)
			return
		}
		h.logger.Warn("Webhook secret not configured - SKIPPING VERIFICATION (development mode only)")
	} else if err := h.verifySignature(c, rawBody); err != nil {
		h.logger.Warn("Webhook signature verification failed", "error", err, "client_ip", c.ClientIP())
		respondError(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "Webhook signature verification failed", nil)
		return
	}

	var webhook entities.ChainDepositWebhook
	if err := json.Unmarshal(rawBody, &webhook); err != nil {
		respondBadRequest(c, "Invalid webhook payload", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := h.validator.Struct(&webhook); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "Invalid webhook payload", map[string]interface{}{"error": err.Error()})
		return
	}
	intentID, _ := uuid.Parse(webhook.IntentID)

	var result *entities.SettlementResult
	err = retry.Do(c.Request.Context(), h.retryPolicy, h.logger.Zap(), func() error {
		var verr error
		result, verr = h.verifier.VerifyAndSettle(c.Request.Context(), intentID, strings.TrimSpace(webhook.TransactionReference))
		return verr
	})
	if err != nil {
		h.logger.Warn("Chain deposit webhook not settled",
			"error", err,
			"intent_id", webhook.IntentID,
			"transaction_reference", webhook.TransactionReference)
		respondDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Chain deposit webhook processed",
		"intent_id", webhook.IntentID,
		"transaction_reference", webhook.TransactionReference,
		"status", result.Status)

	c.JSON(http.StatusOK, entities.SettlementStatusResponse{
		IntentID: result.IntentID.String(),
		Status:   result.Status,
		Reason:   result.Reason,
	})
}

func (h *WebhookHandlers) verifySignature(c *gin.Context, rawBody []byte) error {
	signature := c.GetHeader("X-Webhook-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Hub-Signature-256")
	}
	return verifyHMACSignature(rawBody, signature, h.webhookSecret)
}

// verifyHMACSignature verifies HMAC-SHA256 webhook signature
func verifyHMACSignature(payload []byte, signature, secret string) error {
	if signature == "" {
		return fmt.Errorf("missing webhook signature")
	}

	signature = strings.TrimPrefix(signature, "sha256=")
	signature = strings.TrimPrefix(signature, "hmac-sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
