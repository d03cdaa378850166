// Package errors provides the error taxonomy shared by the settlement service.
// Every error crossing a package boundary is either a sentinel below or a
// *DomainError wrapping one, so handlers can map them to HTTP responses and
// the engine can decide whether an outcome is retryable.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal error")
	ErrConflict           = errors.New("conflict")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Settlement categories
var (
	// ErrChainUnavailable covers node timeouts, transport failures and open breakers.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrTransactionNotFinal means the transaction is unknown or not yet final.
	ErrTransactionNotFinal = errors.New("transaction not final")

	// ErrChainTerminal is a transaction the chain reported as reverted, or one
	// that does not match the intent it was submitted for.
	ErrChainTerminal = errors.New("terminal chain failure")

	// ErrDuplicateTransaction is a reference already bound to another intent.
	ErrDuplicateTransaction = errors.New("duplicate transaction reference")

	// ErrLedgerConsistency is a settle+credit unit of work that did not commit.
	ErrLedgerConsistency = errors.New("ledger consistency failure")

	// ErrReferenceInUse is a reference already bound to a different intent.
	ErrReferenceInUse = errors.New("transaction reference is bound to another intent")

	// ErrReferenceImmutable is an intent already bound to a different reference.
	ErrReferenceImmutable = errors.New("intent is already bound to a different transaction reference")
)

// Error codes
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeConflict               = "CONFLICT"
	CodeRetryableChain         = "RETRYABLE_CHAIN_ERROR"
	CodeTerminalChainFailure   = "TERMINAL_CHAIN_FAILURE"
	CodeDuplicateTransaction   = "DUPLICATE_TRANSACTION"
	CodeLedgerConsistency      = "LEDGER_CONSISTENCY_ERROR"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
	CodeUnsupportedAsset       = "UNSUPPORTED_ASSET"
	CodeAmountBelowMinimum     = "AMOUNT_BELOW_MINIMUM"
	CodeAmountAboveMaximum     = "AMOUNT_ABOVE_MAXIMUM"
	CodeInvalidAmountPrecision = "INVALID_AMOUNT_PRECISION"
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// AlreadyExistsError creates an already exists error
func AlreadyExistsError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyExists,
		Code:    fmt.Sprintf("%s_ALREADY_EXISTS", resource),
		Message: fmt.Sprintf("%s already exists", resource),
	}
}

// ValidationError rejects caller input before any state is created.
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// ConflictError creates a conflict error
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    CodeConflict,
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// ReferenceConflictError is returned by stores when binding a transaction
// reference violates uniqueness or immutability. cause is ErrReferenceInUse
// or ErrReferenceImmutable.
func ReferenceConflictError(reference string, cause error) *DomainError {
	return &DomainError{
		Err:     fmt.Errorf("%w: %w", ErrConflict, cause),
		Code:    CodeConflict,
		Message: cause.Error(),
		Details: map[string]interface{}{"transaction_reference": reference},
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Code:    CodeInternal,
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{"cause": err.Error()}
	}
	return de
}

// ServiceUnavailableError creates a service unavailable error
func ServiceUnavailableError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      CodeServiceUnavailable,
		Message:   fmt.Sprintf("%s service is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// RetryableChainError reports a chain query that may succeed later. The intent
// must stay pending.
func RetryableChainError(network string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrChainUnavailable,
		Code:      CodeRetryableChain,
		Message:   fmt.Sprintf("%s network query failed", network),
		Retryable: true,
		Details:   map[string]interface{}{"network": network},
	}
	if err != nil {
		de.Message = fmt.Sprintf("%s network query failed: %v", network, err)
		de.Details["cause"] = err.Error()
	}
	return de
}

// TerminalChainFailure reports a reverted or mismatching transaction.
func TerminalChainFailure(reference, reason string) *DomainError {
	return &DomainError{
		Err:     ErrChainTerminal,
		Code:    CodeTerminalChainFailure,
		Message: reason,
		Details: map[string]interface{}{"transaction_reference": reference},
	}
}

// DuplicateTransactionError reports a reference already bound to another intent.
func DuplicateTransactionError(reference string) *DomainError {
	return &DomainError{
		Err:     ErrDuplicateTransaction,
		Code:    CodeDuplicateTransaction,
		Message: "transaction reference is already bound to another payment intent",
		Details: map[string]interface{}{"transaction_reference": reference},
	}
}

// LedgerConsistencyError reports a settlement unit of work that rolled back.
func LedgerConsistencyError(intentID string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrLedgerConsistency,
		Code:      CodeLedgerConsistency,
		Message:   "settlement could not be committed",
		Retryable: true,
		Details:   map[string]interface{}{"intent_id": intentID},
	}
	if err != nil {
		de.Details["cause"] = err.Error()
	}
	return de
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

func IsDuplicateTransaction(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}

func IsLedgerConsistency(err error) bool {
	return errors.Is(err, ErrLedgerConsistency)
}

func IsTerminalChainFailure(err error) bool {
	return errors.Is(err, ErrChainTerminal)
}

// IsRetryable reports whether the caller may retry the operation later.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Retryable {
		return true
	}
	return errors.Is(err, ErrChainUnavailable) || errors.Is(err, ErrTransactionNotFinal)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
