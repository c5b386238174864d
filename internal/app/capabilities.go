/**
 * @description
 * Capability interfaces consumed by the application layer. The orchestrator,
 * fulfillment service and sweeper depend on these rather than on the concrete
 * HTTP clients so tests can substitute stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/shopspring/decimal: Monetary amounts.
 * - pkg/bridge, pkg/flutterwave: Concrete client result types.
 */

package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/afribridge/transfer-service/pkg/bridge"
	"github.com/afribridge/transfer-service/pkg/flutterwave"
)

// EventsExchange is the topic exchange all transfer lifecycle events are
// published to.
const EventsExchange = "afribridge.events"

// Routing keys for lifecycle events.
const (
	RoutingKeyTransferCompleted = "transfer.completed"
	RoutingKeyTransferFailed    = "transfer.failed"
	RoutingKeyRefundInitiated   = "transfer.refund.initiated"
	RoutingKeyPayoutFulfilled   = "payout.fulfilled"
)

// PaymentClient is the fiat payment provider capability.
type PaymentClient interface {
	CreateCharge(ctx context.Context, amount decimal.Decimal, currency, phone, email, txRef string) (*flutterwave.ChargeResult, error)
	VerifyTransaction(ctx context.Context, transactionID string) (*flutterwave.TransactionStatus, error)
	CreatePayout(ctx context.Context, accountNumber string, amount decimal.Decimal, currency, reference string) (*flutterwave.PayoutResult, error)
	VerifyPayout(ctx context.Context, transferID string) (*flutterwave.PayoutStatus, error)
}

// SettlementClient is the on-chain settlement capability.
type SettlementClient interface {
	Deposit(ctx context.Context, amount decimal.Decimal, recipient string, ref bridge.FiatRef) (*bridge.Receipt, error)
	Withdraw(ctx context.Context, recipient string, amount decimal.Decimal) (*bridge.Receipt, error)
	ContractBalance(ctx context.Context) (*bridge.Balance, error)
	ApproveUSDC(ctx context.Context, amount decimal.Decimal) (string, error)
}
