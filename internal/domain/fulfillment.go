/**
 * @description
 * Domain models for the off-ramp fulfillment ledger and the lifecycle events
 * published to the message broker.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/shopspring/decimal: Monetary amounts.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fulfillment statuses. A record is written exactly once per settlement
// transaction hash, whether the attempt completed or failed.
const (
	FulfillmentCompleted = "completed"
	FulfillmentFailed    = "failed"
)

// FulfillmentRecord is the immutable outcome of one off-ramp fulfillment
// attempt, keyed by the settlement transaction hash.
type FulfillmentRecord struct {
	TxHash           string          `json:"tx_hash"`
	RecipientPhone   string          `json:"recipient_phone"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	AmountInFiat     int64           `json:"amount_in_fiat,omitempty"`
	WithdrawalTxHash string          `json:"withdrawal_tx_hash,omitempty"`
	PayoutTransferID string          `json:"payout_transfer_id,omitempty"`
	Reference        string          `json:"reference,omitempty"`
	Status           string          `json:"status"`
	Error            string          `json:"error,omitempty"`
	FulfilledAt      time.Time       `json:"fulfilled_at"`
}

// TransferCompletedEvent is published when a transfer reaches SUCCESS.
type TransferCompletedEvent struct {
	TxRef          string          `json:"tx_ref"`
	TxHash         string          `json:"tx_hash"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	USDCAmount     decimal.Decimal `json:"usdc_amount"`
	RecipientPhone string          `json:"recipient_phone"`
	Timestamp      time.Time       `json:"timestamp"`
}

// TransferFailedEvent is published when a transfer enters ERROR.
type TransferFailedEvent struct {
	TxRef     string        `json:"tx_ref"`
	ErrorType ErrorCategory `json:"error_type"`
	Error     string        `json:"error"`
	Retryable bool          `json:"retryable"`
	Timestamp time.Time     `json:"timestamp"`
}

// RefundInitiatedEvent is published when the sweeper compensates a stalled
// transfer with a refund payout.
type RefundInitiatedEvent struct {
	TxRef      string          `json:"tx_ref"`
	Reference  string          `json:"reference"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	TransferID string          `json:"transfer_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PayoutFulfilledEvent is published after a successful off-ramp fulfillment.
type PayoutFulfilledEvent struct {
	TxHash           string    `json:"tx_hash"`
	PayoutTransferID string    `json:"payout_transfer_id"`
	AmountInFiat     int64     `json:"amount_in_fiat"`
	Currency         string    `json:"currency"`
	Timestamp        time.Time `json:"timestamp"`
}
