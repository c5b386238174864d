/**
 * @description
 * Bounded polling and retry loops around the payment provider, plus the
 * still-waiting notifier. The charge poller gives a pending mobile-money
 * charge a fixed window to complete; the payout retrier retries transient
 * payout failures with a linear backoff; the notifier nudges a party who has
 * not paid after a grace period.
 *
 * @dependencies
 * - context, errors, fmt, log, sync, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Payout amounts.
 * - internal/domain, internal/store: Session state for the notifier re-read.
 * - pkg/flutterwave, pkg/whatsapp: Provider and messaging capabilities.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afribridge/transfer-service/internal/domain"
	"github.com/afribridge/transfer-service/internal/store"
	"github.com/afribridge/transfer-service/pkg/flutterwave"
	"github.com/afribridge/transfer-service/pkg/whatsapp"
)

// ErrPaymentFailed indicates the provider reported the charge as failed
// before the polling window elapsed.
var ErrPaymentFailed = errors.New("payment failed")

// ErrPollTimeout indicates the charge stayed pending for the whole polling
// window. The charge may still complete later; callers must not treat this
// as a terminal provider verdict.
var ErrPollTimeout = errors.New("payment confirmation timeout")

// ErrPayoutFailed indicates the provider reported a payout transfer as
// FAILED, which is permanent.
var ErrPayoutFailed = errors.New("payout failed")

// ChargePoller polls a pending charge until it resolves or the attempt
// budget runs out.
type ChargePoller struct {
	payments    PaymentClient
	maxAttempts int
	interval    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewChargePoller creates a poller with the given attempt budget.
func NewChargePoller(payments PaymentClient, maxAttempts int, interval time.Duration) *ChargePoller {
	return &ChargePoller{
		payments:    payments,
		maxAttempts: maxAttempts,
		interval:    interval,
		sleep:       sleepContext,
	}
}

// Poll checks the charge once per interval until it is successful, failed,
// or the attempt budget is exhausted. A "failed" status short-circuits with
// ErrPaymentFailed; exhaustion returns ErrPollTimeout. The first check runs
// immediately; the interval only separates attempts, so an already-completed
// charge resolves without waiting.
func (p *ChargePoller) Poll(ctx context.Context, transactionID string) (*flutterwave.TransactionStatus, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			if err := p.sleep(ctx, p.interval); err != nil {
				return nil, err
			}
		}

		status, err := p.payments.VerifyTransaction(ctx, transactionID)
		if err != nil {
			log.Printf("level=warn component=charge_poller msg=\"verify attempt failed\" transaction_id=%s attempt=%d err=%v", transactionID, attempt, err)
			continue
		}
		if status.Success {
			return status, nil
		}
		if status.Status == "failed" {
			return status, ErrPaymentFailed
		}
		log.Printf("level=info component=charge_poller msg=\"charge still pending\" transaction_id=%s attempt=%d status=%s", transactionID, attempt, status.Status)
	}
	return nil, ErrPollTimeout
}

// PayoutRetrier retries payout creation on transient failures.
type PayoutRetrier struct {
	payments    PaymentClient
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPayoutRetrier creates a retrier with the given attempt budget.
func NewPayoutRetrier(payments PaymentClient, maxAttempts int, baseDelay time.Duration) *PayoutRetrier {
	return &PayoutRetrier{
		payments:    payments,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepContext,
	}
}

// Create attempts the payout up to the attempt budget with a linearly
// growing delay between attempts. A provider verdict of FAILED is permanent
// and stops the loop immediately. The same reference is passed on every
// attempt so the provider deduplicates replays.
func (r *PayoutRetrier) Create(ctx context.Context, accountNumber string, amount decimal.Decimal, currency, reference string) (*flutterwave.PayoutResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, time.Duration(attempt-1)*r.baseDelay); err != nil {
				return nil, err
			}
		}

		result, err := r.payments.CreatePayout(ctx, accountNumber, amount, currency, reference)
		if err != nil {
			lastErr = err
			log.Printf("level=warn component=payout_retrier msg=\"payout attempt failed\" reference=%s attempt=%d err=%v", reference, attempt, err)
			continue
		}
		if result.Status == "FAILED" {
			return result, fmt.Errorf("payout %s rejected by provider: %w", reference, ErrPayoutFailed)
		}
		return result, nil
	}
	return nil, fmt.Errorf("payout %s failed after %d attempts: %w", reference, r.maxAttempts, lastErr)
}

// Confirm polls a created payout until the provider reports a terminal
// status or the attempt budget runs out. A SUCCESSFUL verdict resolves the
// payout; FAILED is permanent and returns ErrPayoutFailed. A payout still in
// flight after the budget is returned with its last observed status and no
// error: the transfer was accepted and resolves provider-side.
func (r *PayoutRetrier) Confirm(ctx context.Context, transferID string) (*flutterwave.PayoutStatus, error) {
	var last *flutterwave.PayoutStatus
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, time.Duration(attempt-1)*r.baseDelay); err != nil {
				return last, err
			}
		}

		status, err := r.payments.VerifyPayout(ctx, transferID)
		if err != nil {
			log.Printf("level=warn component=payout_retrier msg=\"payout verify attempt failed\" transfer_id=%s attempt=%d err=%v", transferID, attempt, err)
			continue
		}
		last = status
		if status.Success {
			return status, nil
		}
		if status.Status == "FAILED" {
			return status, ErrPayoutFailed
		}
		log.Printf("level=info component=payout_retrier msg=\"payout still in flight\" transfer_id=%s attempt=%d status=%s", transferID, attempt, status.Status)
	}
	return last, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StillWaitingNotifier sends a one-shot reminder to parties who have not
// completed payment after a grace period. Arming replaces any pending
// reminder for the same party; the reminder re-reads the live session at
// fire time and stays silent unless the party is still awaiting payment.
type StillWaitingNotifier struct {
	sessions  store.SessionStore
	messenger whatsapp.Messenger
	delay     time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewStillWaitingNotifier creates a notifier with the given grace period.
func NewStillWaitingNotifier(sessions store.SessionStore, messenger whatsapp.Messenger, delay time.Duration) *StillWaitingNotifier {
	return &StillWaitingNotifier{
		sessions:  sessions,
		messenger: messenger,
		delay:     delay,
		timers:    make(map[string]*time.Timer),
	}
}

// Arm schedules the reminder for a party, replacing any pending one.
func (n *StillWaitingNotifier) Arm(partyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if timer, ok := n.timers[partyID]; ok {
		timer.Stop()
	}
	n.timers[partyID] = time.AfterFunc(n.delay, func() {
		n.fire(partyID)
	})
}

// Cancel drops any pending reminder for a party.
func (n *StillWaitingNotifier) Cancel(partyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if timer, ok := n.timers[partyID]; ok {
		timer.Stop()
		delete(n.timers, partyID)
	}
}

func (n *StillWaitingNotifier) fire(partyID string) {
	n.mu.Lock()
	delete(n.timers, partyID)
	n.mu.Unlock()

	session, ok := n.sessions.Get(partyID)
	if !ok || session.State != domain.StatePay {
		return
	}

	body := "Still waiting for your payment. Complete it via the link, then reply \"paid\" to continue. Reply \"cancel\" to abort."
	if _, err := n.messenger.Send(context.Background(), partyID, body); err != nil {
		log.Printf("level=warn component=still_waiting_notifier msg=\"reminder send failed\" party=%s err=%v", partyID, err)
	}
}
