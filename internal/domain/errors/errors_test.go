package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("PAYMENT_INTENT")

	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, "PAYMENT_INTENT_NOT_FOUND", GetErrorCode(err))
	assert.Equal(t, "PAYMENT_INTENT not found", err.Error())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
		check     func(error) bool
	}{
		{
			name:      "retryable chain error",
			err:       RetryableChainError("tron", errors.New("timeout")),
			code:      CodeRetryableChain,
			retryable: true,
			check:     func(err error) bool { return errors.Is(err, ErrChainUnavailable) },
		},
		{
			name:  "terminal chain failure",
			err:   TerminalChainFailure("0xabc", "transaction reverted"),
			code:  CodeTerminalChainFailure,
			check: IsTerminalChainFailure,
		},
		{
			name:  "duplicate transaction",
			err:   DuplicateTransactionError("0xabc"),
			code:  CodeDuplicateTransaction,
			check: IsDuplicateTransaction,
		},
		{
			name:      "ledger consistency",
			err:       LedgerConsistencyError("intent-1", errors.New("commit failed")),
			code:      CodeLedgerConsistency,
			retryable: true,
			check:     IsLedgerConsistency,
		},
		{
			name:      "service unavailable",
			err:       ServiceUnavailableError("rates", nil),
			code:      CodeServiceUnavailable,
			retryable: true,
			check:     IsServiceUnavailable,
		},
		{
			name:  "validation",
			err:   ValidationError("amount", "amount must be greater than zero"),
			code:  CodeValidation,
			check: IsInvalidInput,
		},
		{
			name:  "reference conflict",
			err:   ReferenceConflictError("0xabc", ErrReferenceImmutable),
			code:  CodeConflict,
			check: IsConflict,
		},
		{
			name:  "internal",
			err:   InternalError("boom", errors.New("nil pointer")),
			code:  CodeInternal,
			check: func(err error) bool { return errors.Is(err, ErrInternal) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetErrorCode(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestWrappedDomainErrorsStayMatchable(t *testing.T) {
	base := DuplicateTransactionError("0xabc")
	wrapped := fmt.Errorf("verify intent: %w", base)

	assert.True(t, IsDuplicateTransaction(wrapped))
	assert.Equal(t, CodeDuplicateTransaction, GetErrorCode(wrapped))
	assert.Equal(t, "0xabc", GetErrorDetails(wrapped)["transaction_reference"])
}

func TestReferenceConflictError_KeepsCause(t *testing.T) {
	err := ReferenceConflictError("0xabc", ErrReferenceInUse)

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, ErrReferenceInUse)
	assert.NotErrorIs(t, err, ErrReferenceImmutable)
	assert.Equal(t, ErrReferenceInUse.Error(), err.Error())
}

func TestRetryableChainError_Details(t *testing.T) {
	err := RetryableChainError("ethereum", errors.New("dial tcp: refused"))

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "ethereum", details["network"])
	assert.Equal(t, "dial tcp: refused", details["cause"])
	assert.Contains(t, err.Error(), "ethereum network query failed")
}

func TestLedgerConsistencyError_Details(t *testing.T) {
	err := LedgerConsistencyError("intent-1", nil)

	assert.Equal(t, "intent-1", GetErrorDetails(err)["intent_id"])
	assert.NotContains(t, GetErrorDetails(err), "cause")
}

func TestIsRetryable_PlainSentinels(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransactionNotFinal))
	assert.True(t, IsRetryable(fmt.Errorf("poll: %w", ErrChainUnavailable)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetErrorCode_NonDomain(t *testing.T) {
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(errors.New("plain")))
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestWithRetryableAndDetails(t *testing.T) {
	err := ServiceUnavailableError("bsc chain", nil).WithRetryable(false)
	assert.False(t, IsRetryable(err))

	err = NewDomainError(ErrConflict, CodeConflict, "").WithDetails(map[string]interface{}{"k": "v"})
	assert.Equal(t, "v", GetErrorDetails(err)["k"])
	assert.Equal(t, ErrConflict.Error(), err.Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))
	wrapped := Wrap(ErrNotFound, "load intent")
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, "load intent: resource not found", wrapped.Error())
}
