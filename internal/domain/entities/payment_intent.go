package entities

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentStatus is the settlement state of a payment intent
type IntentStatus string

const (
	IntentStatusPending IntentStatus = "pending"
	IntentStatusSettled IntentStatus = "settled"
	IntentStatusFailed  IntentStatus = "failed"
)

// ValidIntentTransitions defines allowed status transitions
var ValidIntentTransitions = map[IntentStatus][]IntentStatus{
	IntentStatusPending: {IntentStatusSettled, IntentStatusFailed},
	IntentStatusSettled: {}, // Terminal state
	IntentStatusFailed:  {}, // Terminal state
}

func (s IntentStatus) IsValid() bool {
	_, ok := ValidIntentTransitions[s]
	return ok
}

// CanTransitionTo checks if transition to new status is allowed
func (s IntentStatus) CanTransitionTo(newStatus IntentStatus) bool {
	for _, status := range ValidIntentTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusSettled || s == IntentStatusFailed
}

// ValidateTransition validates and returns error if transition is invalid
func (s IntentStatus) ValidateTransition(newStatus IntentStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid intent status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// Failure reasons recorded on failed intents
const (
	FailureReasonReverted          = "transaction reverted"
	FailureReasonAmountMismatch    = "amount mismatch"
	FailureReasonRecipientMismatch = "recipient mismatch"
	FailureReasonExpired           = "expired without payment"
	FailureReasonNotFound          = "transaction not found before expiry"
)

// PaymentIntent is a requested deposit awaiting an on-chain payment.
type PaymentIntent struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"user_id"`
	Asset                Asset           `json:"asset"`
	Network              Network         `json:"network"`
	RequestedAmount      *big.Int        `json:"-"`
	DestinationAddress   string          `json:"destination_address"`
	Status               IntentStatus    `json:"status"`
	TransactionReference *string         `json:"transaction_reference,omitempty"`
	FailureReason        *string         `json:"failure_reason,omitempty"`
	IdempotencyKey       *string         `json:"-"`
	FiatCurrency         string          `json:"fiat_currency"`
	FiatEquivalent       decimal.Decimal `json:"fiat_equivalent"`
	Memo                 string          `json:"memo,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	SettledAt            *time.Time      `json:"settled_at,omitempty"`
}

func (p *PaymentIntent) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// Reference returns the bound transaction reference or "".
func (p *PaymentIntent) Reference() string {
	if p.TransactionReference == nil {
		return ""
	}
	return *p.TransactionReference
}

func (p *PaymentIntent) Reason() string {
	if p.FailureReason == nil {
		return ""
	}
	return *p.FailureReason
}

// Clone returns a deep copy safe to hand across goroutines.
func (p *PaymentIntent) Clone() *PaymentIntent {
	if p == nil {
		return nil
	}
	c := *p
	c.RequestedAmount = cloneInt(p.RequestedAmount)
	c.TransactionReference = cloneString(p.TransactionReference)
	c.FailureReason = cloneString(p.FailureReason)
	c.IdempotencyKey = cloneString(p.IdempotencyKey)
	if p.SettledAt != nil {
		t := *p.SettledAt
		c.SettledAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
