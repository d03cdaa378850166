package entities

import (
	"time"

	"github.com/google/uuid"
)

// PaymentDescriptor is what an external wallet app needs to pay an intent.
type PaymentDescriptor struct {
	URI     string  `json:"uri"`
	Address string  `json:"address"`
	Amount  string  `json:"amount"`
	Asset   Asset   `json:"asset"`
	Network Network `json:"network"`
	Memo    string  `json:"memo,omitempty"`
}

// DepositQuote is returned when a deposit intent is created.
type DepositQuote struct {
	Intent     *PaymentIntent
	Descriptor PaymentDescriptor
	Rates      *RateSnapshot
	// Replayed is set when an idempotency key returned an existing intent.
	Replayed bool
}

// SettlementResult is the outcome of a verification attempt. Status is always
// one of pending, settled or failed.
type SettlementResult struct {
	IntentID uuid.UUID
	Status   IntentStatus
	Reason   string
	Intent   *PaymentIntent
}

// SettlementEvent is published after an intent reaches a terminal state.
type SettlementEvent struct {
	IntentID             uuid.UUID    `json:"intent_id"`
	UserID               uuid.UUID    `json:"user_id"`
	Asset                Asset        `json:"asset"`
	Amount               string       `json:"amount"`
	Status               IntentStatus `json:"status"`
	Reason               string       `json:"reason,omitempty"`
	TransactionReference string       `json:"transaction_reference,omitempty"`
	OccurredAt           time.Time    `json:"occurred_at"`
}
