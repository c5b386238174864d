/**
 * @description
 * Background reconciliation for stalled transfers. The sweep walks every
 * session stuck in a money-holding state past the payment timeout and either
 * expires it (nothing collected yet) or compensates it with a refund payout
 * (paid but never settled). A separate daily cleanup evicts idle sessions
 * and purges aged fulfillment records.
 *
 * Each stalled session is re-examined under the same per-party lock the
 * orchestrator uses, so a payment confirmation racing the sweep either wins
 * the lock and settles or finds the session already expired.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - internal/domain, internal/store: Session and ledger state.
 * - pkg/rabbitmq, pkg/whatsapp: Event publishing and notifications.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/afribridge/transfer-service/internal/domain"
	"github.com/afribridge/transfer-service/internal/store"
	"github.com/afribridge/transfer-service/pkg/rabbitmq"
	"github.com/afribridge/transfer-service/pkg/whatsapp"
)

// Sweeper expires and compensates stalled transfer sessions.
type Sweeper struct {
	sessions    store.SessionStore
	ledger      *store.FulfillmentLedger
	fulfillment *FulfillmentService
	messenger   whatsapp.Messenger
	notifier    *StillWaitingNotifier
	events      rabbitmq.Publisher
	executor    func(key string, fn func())

	paymentTimeout       time.Duration
	sessionMaxAge        time.Duration
	fulfillmentRetention time.Duration

	now func() time.Time
}

// NewSweeper wires a sweeper. The executor must be the orchestrator's
// per-party serializer.
func NewSweeper(
	sessions store.SessionStore,
	ledger *store.FulfillmentLedger,
	fulfillment *FulfillmentService,
	messenger whatsapp.Messenger,
	notifier *StillWaitingNotifier,
	events rabbitmq.Publisher,
	executor func(key string, fn func()),
	paymentTimeout, sessionMaxAge, fulfillmentRetention time.Duration,
) *Sweeper {
	return &Sweeper{
		sessions:             sessions,
		ledger:               ledger,
		fulfillment:          fulfillment,
		messenger:            messenger,
		notifier:             notifier,
		events:               events,
		executor:             executor,
		paymentTimeout:       paymentTimeout,
		sessionMaxAge:        sessionMaxAge,
		fulfillmentRetention: fulfillmentRetention,
		now:                  time.Now,
	}
}

// CheckPendingTransfers sweeps sessions stuck in PAY or PROCESSING past the
// payment timeout.
func (w *Sweeper) CheckPendingTransfers(ctx context.Context) {
	var candidates []string
	w.sessions.Scan(func(key string, session domain.TransferSession) {
		if session.State != domain.StatePay && session.State != domain.StateProcessing {
			return
		}
		if session.StartedAt.IsZero() || w.now().Sub(session.StartedAt) <= w.paymentTimeout {
			return
		}
		candidates = append(candidates, key)
	})

	if len(candidates) > 0 {
		log.Printf("level=info component=sweeper msg=\"found stalled transfers\" count=%d", len(candidates))
	}

	for _, key := range candidates {
		w.executor(key, func() {
			w.sweepOne(ctx, key)
		})
	}
}

// sweepOne re-examines one candidate under its party lock. The snapshot
// from the scan may be stale, so state and age are checked again here.
func (w *Sweeper) sweepOne(ctx context.Context, partyID string) {
	session, ok := w.sessions.Get(partyID)
	if !ok {
		return
	}
	if session.StartedAt.IsZero() || w.now().Sub(session.StartedAt) <= w.paymentTimeout {
		return
	}

	switch session.State {
	case domain.StatePay:
		// Nothing collected; expire without compensation.
		w.notifier.Cancel(partyID)
		w.fail(ctx, partyID, session.TxRef, "payment timeout", false)
		w.send(ctx, partyID, "Your transfer expired because the payment wasn't completed in time. Send a new message to start again.")
		log.Printf("level=info component=sweeper msg=\"expired unpaid transfer\" party=%s tx_ref=%s", partyID, session.TxRef)

	case domain.StateProcessing:
		if session.PaymentResult == nil || !session.PaymentResult.Success {
			w.fail(ctx, partyID, session.TxRef, "transfer timeout", false)
			w.send(ctx, partyID, "Your transfer expired. Send a new message to start again.")
			return
		}

		// Money was collected but settlement never completed; pay it back.
		_, _, err := w.fulfillment.Refund(ctx, partyPhone(partyID), session.TxRef, session.Amount, session.Currency)
		if err != nil {
			// Leave the session in PROCESSING so the next sweep retries the
			// refund. The deterministic refund reference keeps the provider
			// from paying twice.
			log.Printf("level=error component=sweeper msg=\"refund failed; will retry next sweep\" party=%s tx_ref=%s err=%v", partyID, session.TxRef, err)
			return
		}

		w.sessions.Update(partyID, func(s *domain.TransferSession) {
			s.State = domain.StateError
			s.Error = "settlement timeout; refund initiated"
			s.ErrorType = domain.ErrorCategoryBlockchain
			s.Retryable = false
			s.RefundPending = false
			s.RefundInitiated = true
		})
		w.publishFailed(ctx, session.TxRef, domain.ErrorCategoryBlockchain, "settlement timeout; refund initiated", false)
		w.send(ctx, partyID, "We couldn't complete your transfer in time, so we've refunded your payment. It should arrive shortly. Sorry about that!")
		log.Printf("level=info component=sweeper msg=\"refunded stalled transfer\" party=%s tx_ref=%s", partyID, session.TxRef)
	}
}

func (w *Sweeper) fail(ctx context.Context, partyID, txRef, reason string, retryable bool) {
	w.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StateError
		s.Error = reason
		s.ErrorType = domain.ErrorCategoryUnknown
		s.Retryable = retryable
	})
	w.publishFailed(ctx, txRef, domain.ErrorCategoryUnknown, reason, retryable)
}

func (w *Sweeper) publishFailed(ctx context.Context, txRef string, category domain.ErrorCategory, reason string, retryable bool) {
	if w.events == nil {
		return
	}
	event := domain.TransferFailedEvent{
		TxRef:     txRef,
		ErrorType: category,
		Error:     reason,
		Retryable: retryable,
		Timestamp: w.now(),
	}
	if err := w.events.Publish(ctx, EventsExchange, RoutingKeyTransferFailed, event); err != nil {
		log.Printf("level=warn component=sweeper msg=\"event publish failed\" tx_ref=%s err=%v", txRef, err)
	}
}

// RunCleanup evicts idle sessions and purges aged fulfillment records.
func (w *Sweeper) RunCleanup() {
	evicted := w.sessions.Cleanup(w.sessionMaxAge)
	purged := w.ledger.Cleanup(w.fulfillmentRetention)
	log.Printf("level=info component=sweeper msg=\"cleanup complete\" sessions_evicted=%d records_purged=%d", evicted, purged)
}

func (w *Sweeper) send(ctx context.Context, partyID, body string) {
	if _, err := w.messenger.Send(ctx, partyID, body); err != nil {
		log.Printf("level=warn component=sweeper msg=\"message send failed\" party=%s err=%v", partyID, err)
	}
}
