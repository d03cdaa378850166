package entities

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CreateDepositRequest is the deposit quote request body
type CreateDepositRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Amount string `json:"amount" validate:"required,numeric,max=100"`
	Asset  string `json:"asset" validate:"required"`
	Memo   string `json:"memo,omitempty" validate:"omitempty,max=64,printascii"`
}

// DepositQuoteResponse is returned by the deposit quote endpoint
type DepositQuoteResponse struct {
	IntentID           string            `json:"intent_id"`
	UserID             string            `json:"user_id"`
	Status             IntentStatus      `json:"status"`
	DestinationAddress string            `json:"destination_address"`
	Amount             string            `json:"amount"`
	Asset              Asset             `json:"asset"`
	Network            Network           `json:"network"`
	FiatEquivalent     string            `json:"fiat_equivalent"`
	FiatCurrency       string            `json:"fiat_currency"`
	RateSource         string            `json:"rate_source"`
	PaymentDescriptor  PaymentDescriptor `json:"payment_descriptor"`
	CreatedAt          time.Time         `json:"created_at"`
}

// VerifyDepositRequest carries the on-chain reference for an intent
type VerifyDepositRequest struct {
	TransactionReference string `json:"transaction_reference" validate:"required,min=8,max=128"`
}

// SettlementCheckRequest is the settlement check request body
type SettlementCheckRequest struct {
	IntentID             string `json:"intent_id" validate:"required,uuid"`
	TransactionReference string `json:"transaction_reference" validate:"required,min=8,max=128"`
}

// SettlementStatusResponse is returned by settlement checks
type SettlementStatusResponse struct {
	IntentID string       `json:"intent_id"`
	Status   IntentStatus `json:"status"`
	Reason   string       `json:"reason,omitempty"`
}

// BroadcastRequest relays a transaction the payer already signed
type BroadcastRequest struct {
	SignedTransaction string `json:"signed_transaction" validate:"required,hexadecimal"`
}

// BroadcastResponse is returned after a relayed broadcast
type BroadcastResponse struct {
	IntentID             string       `json:"intent_id"`
	TransactionReference string       `json:"transaction_reference"`
	Status               IntentStatus `json:"status"`
	Reason               string       `json:"reason,omitempty"`
}

// PaymentIntentResponse is the public view of an intent
type PaymentIntentResponse struct {
	ID                   string       `json:"id"`
	UserID               string       `json:"user_id"`
	Asset                Asset        `json:"asset"`
	Network              Network      `json:"network"`
	Amount               string       `json:"amount"`
	DestinationAddress   string       `json:"destination_address"`
	Status               IntentStatus `json:"status"`
	TransactionReference string       `json:"transaction_reference,omitempty"`
	FailureReason        string       `json:"failure_reason,omitempty"`
	FiatEquivalent       string       `json:"fiat_equivalent"`
	FiatCurrency         string       `json:"fiat_currency"`
	CreatedAt            time.Time    `json:"created_at"`
	SettledAt            *time.Time   `json:"settled_at,omitempty"`
}

// WalletBalanceResponse is one asset balance at native precision
type WalletBalanceResponse struct {
	Asset          Asset  `json:"asset"`
	Balance        string `json:"balance"`
	TotalDeposited string `json:"total_deposited"`
	MinorUnits     string `json:"minor_units"`
}

// WalletBalancesResponse lists a user's balances
type WalletBalancesResponse struct {
	UserID   string                  `json:"user_id"`
	Balances []WalletBalanceResponse `json:"balances"`
}

// ChainDepositWebhook is posted by an external chain watcher when it sees a
// payment to a deposit address
type ChainDepositWebhook struct {
	IntentID             string `json:"intent_id" validate:"required,uuid"`
	TransactionReference string `json:"transaction_reference" validate:"required,min=8,max=128"`
}

// RatesResponse exposes the current rate snapshot
type RatesResponse struct {
	Currency  string            `json:"currency"`
	Source    string            `json:"source"`
	Fallback  bool              `json:"fallback"`
	Rates     map[string]string `json:"rates"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// PaymentIntentListResponse is a page of a user's intents
type PaymentIntentListResponse struct {
	UserID  string                  `json:"user_id"`
	Intents []PaymentIntentResponse `json:"intents"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// AssetResponse describes a depositable asset
type AssetResponse struct {
	Asset           Asset   `json:"asset"`
	Network         Network `json:"network"`
	Symbol          string  `json:"symbol"`
	Decimals        int32   `json:"decimals"`
	ContractAddress string  `json:"contract_address,omitempty"`
	ChainID         int64   `json:"chain_id,omitempty"`
	MinimumDeposit  string  `json:"minimum_deposit"`
	MaximumDeposit  string  `json:"maximum_deposit,omitempty"`
	DepositAddress  string  `json:"deposit_address"`
	EstimatedFee    string  `json:"estimated_fee"`
	FeeSymbol       string  `json:"fee_symbol"`
	FeeIsFallback   bool    `json:"fee_is_fallback"`
}

// DepositAddressBalanceResponse is the on-chain balance of a deposit address
type DepositAddressBalanceResponse struct {
	Asset      Asset  `json:"asset"`
	Balance    string `json:"balance"`
	MinorUnits string `json:"minor_units"`
}
