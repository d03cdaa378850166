package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/pkg/logger"
)

const webhookSecret = "test-secret"

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookRouter(svc *MockSettlementService, secret string, skipVerify bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewWebhookHandlers(svc, logger.NewNop())
	h.SetWebhookSecret(secret, skipVerify)
	h.retryPolicy.InitialDelay = time.Millisecond
	h.retryPolicy.MaxDelay = 5 * time.Millisecond

	router := gin.New()
	router.POST("/webhooks/chain-deposits", h.ChainDepositWebhook)
	return router
}

func postWebhook(router *gin.Engine, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/chain-deposits", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func webhookBody(t *testing.T, intentID uuid.UUID, ref string) []byte {
	t.Helper()
	body, err := json.Marshal(entities.ChainDepositWebhook{IntentID: intentID.String(), TransactionReference: ref})
	require.NoError(t, err)
	return body
}

func TestWebhookSignatureVerification_FailsClosed(t *testing.T) {
	body := webhookBody(t, uuid.New(), "0xfeedface00")

	tests := []struct {
		name           string
		webhookSecret  string
		skipVerify     bool
		headers        map[string]string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "No secret, skip disabled - should reject",
			expectedStatus: http.StatusUnauthorized,
			expectedError:  ErrCodeWebhookNotConfigured,
		},
		{
			name:           "With secret, invalid signature - should reject",
			webhookSecret:  webhookSecret,
			headers:        map[string]string{"X-Webhook-Signature": "invalid-signature"},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  ErrCodeInvalidSignature,
		},
		{
			name:           "With secret, missing signature - should reject",
			webhookSecret:  webhookSecret,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  ErrCodeInvalidSignature,
		},
		{
			name:           "Signed with another secret - should reject",
			webhookSecret:  webhookSecret,
			headers:        map[string]string{"X-Webhook-Signature": sign(body, "other")},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  ErrCodeInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSettlementService)
			w := postWebhook(newWebhookRouter(svc, tt.webhookSecret, tt.skipVerify), body, tt.headers)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
			svc.AssertNotCalled(t, "VerifyAndSettle", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestChainDepositWebhook_ValidSignatures(t *testing.T) {
	intentID := uuid.New()
	body := webhookBody(t, intentID, "0xfeedface00")

	headers := []map[string]string{
		{"X-Webhook-Signature": sign(body, webhookSecret)},
		{"X-Webhook-Signature": "sha256=" + sign(body, webhookSecret)},
		{"X-Hub-Signature-256": "sha256=" + sign(body, webhookSecret)},
	}
	for _, h := range headers {
		svc := new(MockSettlementService)
		svc.On("VerifyAndSettle", mock.Anything, intentID, "0xfeedface00").
			Return(&entities.SettlementResult{IntentID: intentID, Status: entities.IntentStatusSettled}, nil).Once()

		w := postWebhook(newWebhookRouter(svc, webhookSecret, false), body, h)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"status":"settled"`)
		svc.AssertExpectations(t)
	}
}

func TestChainDepositWebhook_SkipVerificationInDevelopment(t *testing.T) {
	intentID := uuid.New()
	svc := new(MockSettlementService)
	svc.On("VerifyAndSettle", mock.Anything, intentID, "0xfeedface00").
		Return(&entities.SettlementResult{IntentID: intentID, Status: entities.IntentStatusPending, Reason: "transaction not found yet"}, nil)

	w := postWebhook(newWebhookRouter(svc, "", true), webhookBody(t, intentID, "0xfeedface00"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "transaction not found yet")
}

func TestChainDepositWebhook_InvalidPayload(t *testing.T) {
	svc := new(MockSettlementService)
	router := newWebhookRouter(svc, webhookSecret, false)

	for _, body := range [][]byte{
		[]byte(`{"intent_id": "nope", "transaction_reference": "0xfeedface00"}`),
		[]byte(`{"intent_id": "` + uuid.NewString() + `"}`),
		[]byte(`not json`),
	} {
		w := postWebhook(router, body, map[string]string{"X-Webhook-Signature": sign(body, webhookSecret)})
		assert.Equal(t, http.StatusBadRequest, w.Code, string(body))
	}
	svc.AssertNotCalled(t, "VerifyAndSettle", mock.Anything, mock.Anything, mock.Anything)
}

func TestChainDepositWebhook_RetriesLedgerFailures(t *testing.T) {
	intentID := uuid.New()
	body := webhookBody(t, intentID, "0xfeedface00")
	ledgerErr := apperrors.LedgerConsistencyError(intentID.String(), errors.New("serialization failure"))

	t.Run("recovers", func(t *testing.T) {
		svc := new(MockSettlementService)
		svc.On("VerifyAndSettle", mock.Anything, intentID, "0xfeedface00").Return(nil, ledgerErr).Once()
		svc.On("VerifyAndSettle", mock.Anything, intentID, "0xfeedface00").
			Return(&entities.SettlementResult{IntentID: intentID, Status: entities.IntentStatusSettled}, nil).Once()

		w := postWebhook(newWebhookRouter(svc, webhookSecret, false), body, map[string]string{"X-Webhook-Signature": sign(body, webhookSecret)})
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertNumberOfCalls(t, "VerifyAndSettle", 2)
	})

	t.Run("exhausted", func(t *testing.T) {
		svc := new(MockSettlementService)
		svc.On("VerifyAndSettle", mock.Anything, intentID, "0xfeedface00").Return(nil, ledgerErr)

		w := postWebhook(newWebhookRouter(svc, webhookSecret, false), body, map[string]string{"X-Webhook-Signature": sign(body, webhookSecret)})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), apperrors.CodeLedgerConsistency)
		assert.Contains(t, w.Body.String(), `"status":"pending"`)
		svc.AssertNumberOfCalls(t, "VerifyAndSettle", 3)
	})

	t.Run("duplicate is not retried", func(t *testing.T) {
		svc := new(MockSettlementService)
		svc.On("VerifyAndSettle", mock.Anything, intentID, "0xfeedface00").
			Return(nil, apperrors.DuplicateTransactionError("0xfeedface00"))

		w := postWebhook(newWebhookRouter(svc, webhookSecret, false), body, map[string]string{"X-Webhook-Signature": sign(body, webhookSecret)})
		assert.Equal(t, http.StatusConflict, w.Code)
		svc.AssertNumberOfCalls(t, "VerifyAndSettle", 1)
	})
}
