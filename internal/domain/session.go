/**
 * @description
 * This file defines the core domain models for the transfer-service: the
 * per-party transfer session driven by the conversation state machine, the
 * payment and settlement result payloads attached to it, and the error
 * taxonomy used to route retries.
 *
 * Key features:
 * - Explicit State enum covering the full WELCOME -> SUCCESS/ERROR flow.
 * - A single session struct with optional result fields; each transition
 *   validates the fields it needs so illegal combinations never propagate.
 * - Monetary amounts carried as decimals, never floats.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/shopspring/decimal: Arbitrary-precision monetary amounts.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// State identifies a transfer session's position in the conversation flow.
type State string

const (
	StateWelcome    State = "WELCOME"
	StateAmount     State = "AMOUNT"
	StateRecipient  State = "RECIPIENT"
	StateConfirm    State = "CONFIRM"
	StatePay        State = "PAY"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateError      State = "ERROR"
)

// ErrorCategory classifies a transfer failure for messaging and retry routing.
type ErrorCategory string

const (
	ErrorCategoryPayment    ErrorCategory = "payment"
	ErrorCategoryBlockchain ErrorCategory = "blockchain"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// PaymentResult is the fiat-provider confirmation payload captured once a
// charge has been verified as successful.
type PaymentResult struct {
	Success       bool            `json:"success"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
}

// SettlementReceipt is the on-chain settlement receipt recorded when the
// bridge deposit confirms.
type SettlementReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	GasUsed     string `json:"gas_used"`
}

// TransferSession holds the full state of one party's in-flight transfer.
// It is owned by the orchestrator; the sweeper and poller only read it and
// mutate it through the session store.
type TransferSession struct {
	State State `json:"state"`

	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	USDCAmount     decimal.Decimal `json:"usdc_amount"`
	RecipientPhone string          `json:"recipient_phone"`

	// TxRef is allocated once when the transfer is first quoted and is the
	// idempotency key for the fiat leg. It is never regenerated while the
	// session is active.
	TxRef string `json:"tx_ref"`

	ChargeID    string `json:"charge_id,omitempty"`
	PaymentLink string `json:"payment_link,omitempty"`

	PaymentResult    *PaymentResult     `json:"payment_result,omitempty"`
	SettlementResult *SettlementReceipt `json:"settlement_result,omitempty"`

	Error           string        `json:"error,omitempty"`
	ErrorType       ErrorCategory `json:"error_type,omitempty"`
	Retryable       bool          `json:"retryable,omitempty"`
	RefundPending   bool          `json:"refund_pending,omitempty"`
	RefundInitiated bool          `json:"refund_initiated,omitempty"`

	StartedAt   time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// SessionStatus is the public projection of a session returned by the
// status query endpoint.
type SessionStatus struct {
	State          State           `json:"state"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	USDCAmount     decimal.Decimal `json:"usdc_amount"`
	RecipientPhone string          `json:"recipient_phone"`
	TxRef          string          `json:"tx_ref"`
	PaymentLink    string          `json:"payment_link,omitempty"`
	TxHash         string          `json:"tx_hash,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PublicStatus builds the external view of a session.
func (s TransferSession) PublicStatus() SessionStatus {
	status := SessionStatus{
		State:          s.State,
		Amount:         s.Amount,
		Currency:       s.Currency,
		USDCAmount:     s.USDCAmount,
		RecipientPhone: s.RecipientPhone,
		TxRef:          s.TxRef,
		PaymentLink:    s.PaymentLink,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.SettlementResult != nil {
		status.TxHash = s.SettlementResult.TxHash
	}
	return status
}
