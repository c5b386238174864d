/**
 * @description
 * Off-ramp fulfillment: converting a confirmed on-chain settlement into a
 * mobile-money payout for the recipient. The ledger makes the path
 * idempotent per settlement hash: a hash with an existing record, completed
 * or failed, returns that record without touching the provider again.
 * Failed attempts are retried only through the explicit retry operation.
 * Fulfillment and retry are serialized per settlement hash, so concurrent
 * duplicates queue behind the first attempt and then hit the ledger record
 * it wrote.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Monetary amounts.
 * - internal/domain, internal/store: Ledger model and storage.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afribridge/transfer-service/internal/domain"
	"github.com/afribridge/transfer-service/internal/store"
	"github.com/afribridge/transfer-service/pkg/rabbitmq"
)

// ErrFulfillmentNotFound is returned when no record exists for a settlement
// transaction hash.
var ErrFulfillmentNotFound = errors.New("fulfillment record not found")

// ErrFulfillmentNotFailed is returned when a retry targets a record that did
// not fail.
var ErrFulfillmentNotFailed = errors.New("fulfillment record is not failed")

// FulfillmentService executes the withdraw-and-payout leg for settled
// transfers.
type FulfillmentService struct {
	ledger     *store.FulfillmentLedger
	settlement SettlementClient
	payouts    *PayoutRetrier
	events     rabbitmq.Publisher

	// treasuryAddress receives bridge withdrawals before the fiat payout.
	treasuryAddress string

	// executor serializes fulfillment per settlement hash so the ledger
	// check and the external calls behave as one step.
	executor *keyedExecutor

	now func() time.Time
}

// NewFulfillmentService wires a fulfillment service.
func NewFulfillmentService(ledger *store.FulfillmentLedger, settlement SettlementClient, payouts *PayoutRetrier, events rabbitmq.Publisher, treasuryAddress string) *FulfillmentService {
	return &FulfillmentService{
		ledger:          ledger,
		settlement:      settlement,
		payouts:         payouts,
		events:          events,
		treasuryAddress: treasuryAddress,
		executor:        newKeyedExecutor(),
		now:             time.Now,
	}
}

// Fulfill pays out a settled transfer to its recipient. The settlement
// transaction hash is the idempotency key: if a record already exists it is
// returned as-is with alreadyFulfilled true and no external calls are made,
// regardless of whether that attempt completed or failed. Concurrent calls
// for the same hash serialize behind the hash lock, so at most one of them
// reaches the provider.
func (f *FulfillmentService) Fulfill(ctx context.Context, txHash, recipientPhone string, amount decimal.Decimal, currency string) (domain.FulfillmentRecord, bool, error) {
	var (
		record           domain.FulfillmentRecord
		alreadyFulfilled bool
		err              error
	)
	f.executor.Do(txHash, func() {
		record, alreadyFulfilled, err = f.fulfill(ctx, txHash, recipientPhone, amount, currency)
	})
	return record, alreadyFulfilled, err
}

// fulfill runs one attempt. It must be called with the hash lock held.
func (f *FulfillmentService) fulfill(ctx context.Context, txHash, recipientPhone string, amount decimal.Decimal, currency string) (domain.FulfillmentRecord, bool, error) {
	if existing, ok := f.ledger.Get(txHash); ok {
		log.Printf("level=info component=fulfillment msg=\"duplicate fulfillment request\" tx_hash=%s status=%s", txHash, existing.Status)
		return existing, true, nil
	}

	record := domain.FulfillmentRecord{
		TxHash:         txHash,
		RecipientPhone: recipientPhone,
		Amount:         amount,
		Currency:       currency,
	}

	withdrawal, err := f.settlement.Withdraw(ctx, f.treasuryAddress, amount)
	if err != nil {
		record.Status = domain.FulfillmentFailed
		record.Error = fmt.Sprintf("bridge withdrawal failed: %v", err)
		stored, _ := f.ledger.Record(record)
		return stored, false, fmt.Errorf("bridge withdrawal failed: %w", err)
	}
	record.WithdrawalTxHash = withdrawal.TxHash

	fiatAmount := convertUSDCToFiat(amount, currency)
	record.AmountInFiat = fiatAmount
	record.Reference = generatePayoutRef()

	payout, err := f.payouts.Create(ctx, recipientPhone, decimal.NewFromInt(fiatAmount), currency, record.Reference)
	if err != nil {
		record.Status = domain.FulfillmentFailed
		record.Error = fmt.Sprintf("payout failed: %v", err)
		stored, _ := f.ledger.Record(record)
		return stored, false, fmt.Errorf("payout failed: %w", err)
	}

	record.PayoutTransferID = payout.TransferID

	// A payout is created asynchronously at the provider; confirm its
	// terminal status before recording the outcome. Only a definitive
	// FAILED verdict marks the record failed; a payout still in flight
	// after the confirmation budget is accepted as completed.
	if _, err := f.payouts.Confirm(ctx, payout.TransferID); errors.Is(err, ErrPayoutFailed) {
		record.Status = domain.FulfillmentFailed
		record.Error = fmt.Sprintf("payout %s rejected by provider", payout.TransferID)
		stored, _ := f.ledger.Record(record)
		return stored, false, fmt.Errorf("payout verification: %w", err)
	}

	record.Status = domain.FulfillmentCompleted
	stored, created := f.ledger.Record(record)
	if !created {
		return stored, true, nil
	}

	f.publish(ctx, RoutingKeyPayoutFulfilled, domain.PayoutFulfilledEvent{
		TxHash:           txHash,
		PayoutTransferID: payout.TransferID,
		AmountInFiat:     fiatAmount,
		Currency:         currency,
		Timestamp:        f.now(),
	})

	log.Printf("level=info component=fulfillment msg=\"fulfillment completed\" tx_hash=%s transfer_id=%s amount_fiat=%d currency=%s", txHash, payout.TransferID, fiatAmount, currency)
	return stored, false, nil
}

// RetryFailed clears a failed record and re-runs fulfillment for it.
// Completed records are never retried. The clear and the re-run happen
// under the hash lock, so a duplicate request arriving mid-retry waits and
// then sees the retry's record instead of an empty ledger slot.
func (f *FulfillmentService) RetryFailed(ctx context.Context, txHash string) (domain.FulfillmentRecord, error) {
	var (
		record domain.FulfillmentRecord
		err    error
	)
	f.executor.Do(txHash, func() {
		record, err = f.retryFailed(ctx, txHash)
	})
	return record, err
}

func (f *FulfillmentService) retryFailed(ctx context.Context, txHash string) (domain.FulfillmentRecord, error) {
	existing, ok := f.ledger.Get(txHash)
	if !ok {
		return domain.FulfillmentRecord{}, ErrFulfillmentNotFound
	}
	if existing.Status != domain.FulfillmentFailed {
		return existing, ErrFulfillmentNotFailed
	}

	f.ledger.Delete(txHash)
	record, _, err := f.fulfill(ctx, txHash, existing.RecipientPhone, existing.Amount, existing.Currency)
	return record, err
}

// Status returns the fulfillment record for a settlement transaction hash.
func (f *FulfillmentService) Status(txHash string) (domain.FulfillmentRecord, error) {
	record, ok := f.ledger.Get(txHash)
	if !ok {
		return domain.FulfillmentRecord{}, ErrFulfillmentNotFound
	}
	return record, nil
}

// Refund pays the original fiat amount back to the sender. Used by the
// sweeper to compensate transfers that were paid but never settled. The
// refund reference is derived from the transfer reference so provider-side
// deduplication holds across repeated sweeps.
func (f *FulfillmentService) Refund(ctx context.Context, senderPhone, txRef string, amount decimal.Decimal, currency string) (string, string, error) {
	reference := "AFRIB-REFUND-" + txRef
	payout, err := f.payouts.Create(ctx, senderPhone, amount, currency, reference)
	if err != nil {
		return "", reference, fmt.Errorf("refund payout failed: %w", err)
	}

	f.publish(ctx, RoutingKeyRefundInitiated, domain.RefundInitiatedEvent{
		TxRef:      txRef,
		Reference:  reference,
		Amount:     amount,
		Currency:   currency,
		TransferID: payout.TransferID,
		Timestamp:  f.now(),
	})

	log.Printf("level=info component=fulfillment msg=\"refund initiated\" tx_ref=%s reference=%s transfer_id=%s", txRef, reference, payout.TransferID)
	return payout.TransferID, reference, nil
}

func (f *FulfillmentService) publish(ctx context.Context, routingKey string, event interface{}) {
	if f.events == nil {
		return
	}
	if err := f.events.Publish(ctx, EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=fulfillment msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
