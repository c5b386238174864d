/**
 * @description
 * The transfer orchestrator drives the conversational state machine from
 * WELCOME through SUCCESS or ERROR. It owns every session transition: inbound
 * messages, provider callbacks, user-driven retries and status queries all
 * enter here, and each entry point serializes per party through the keyed
 * executor so concurrent triggers for one party never interleave.
 *
 * Side-effect ordering rule: state is persisted before the external call it
 * announces. A crash between the write and the call leaves a session that
 * claims more progress than happened, which the sweeper resolves; the
 * reverse order could double-spend.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: Session model and storage.
 * - pkg/bridge, pkg/flutterwave, pkg/rabbitmq, pkg/whatsapp: Capabilities.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/afribridge/transfer-service/internal/domain"
	"github.com/afribridge/transfer-service/internal/store"
	"github.com/afribridge/transfer-service/pkg/bridge"
	"github.com/afribridge/transfer-service/pkg/flutterwave"
	"github.com/afribridge/transfer-service/pkg/rabbitmq"
	"github.com/afribridge/transfer-service/pkg/whatsapp"
)

// ErrNoActiveTransfer is returned when an operation targets a party with no
// session in the expected state.
var ErrNoActiveTransfer = errors.New("no active transfer for party")

// ErrNotRetryable is returned when a retry is requested for a failure that
// does not support it.
var ErrNotRetryable = errors.New("transfer failure is not retryable")

// ErrTxRefMismatch is returned when a provider callback references a
// transaction that does not belong to the party's active session.
var ErrTxRefMismatch = errors.New("tx_ref does not match active session")

// Orchestrator coordinates sessions, the payment provider, settlement and
// outbound messaging.
type Orchestrator struct {
	sessions   store.SessionStore
	payments   PaymentClient
	settlement SettlementClient
	messenger  whatsapp.Messenger
	events     rabbitmq.Publisher
	poller     *ChargePoller
	notifier   *StillWaitingNotifier
	executor   *keyedExecutor

	// recipientAddress is the settlement wallet USDC deposits are sent to.
	recipientAddress string

	now func() time.Time
}

// NewOrchestrator wires an orchestrator from its capabilities.
func NewOrchestrator(
	sessions store.SessionStore,
	payments PaymentClient,
	settlement SettlementClient,
	messenger whatsapp.Messenger,
	events rabbitmq.Publisher,
	poller *ChargePoller,
	notifier *StillWaitingNotifier,
	recipientAddress string,
) *Orchestrator {
	return &Orchestrator{
		sessions:         sessions,
		payments:         payments,
		settlement:       settlement,
		messenger:        messenger,
		events:           events,
		poller:           poller,
		notifier:         notifier,
		executor:         newKeyedExecutor(),
		recipientAddress: recipientAddress,
		now:              time.Now,
	}
}

// Executor exposes the per-party serializer so the sweeper can compensate
// sessions under the same locks the orchestrator uses.
func (o *Orchestrator) Executor() func(key string, fn func()) {
	return o.executor.Do
}

// HandleMessage processes one inbound message from a party.
func (o *Orchestrator) HandleMessage(ctx context.Context, partyID, text string) {
	o.executor.Do(partyID, func() {
		o.handleMessage(ctx, partyID, text)
	})
}

func (o *Orchestrator) handleMessage(ctx context.Context, partyID, text string) {
	session, ok := o.sessions.Get(partyID)
	if !ok {
		session = domain.TransferSession{State: domain.StateWelcome}
		o.sessions.Set(partyID, session)
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "help" {
		o.send(ctx, partyID, helpMessage())
		return
	}

	switch session.State {
	case domain.StateWelcome:
		o.handleWelcome(ctx, partyID, text, lower)
	case domain.StateAmount:
		o.handleAmount(ctx, partyID, text)
	case domain.StateRecipient:
		o.handleRecipient(ctx, partyID, text, session)
	case domain.StateConfirm:
		o.handleConfirm(ctx, partyID, lower, session)
	case domain.StatePay:
		o.handlePay(ctx, partyID, lower, session)
	case domain.StateProcessing:
		o.send(ctx, partyID, "Your transfer is being processed. Please wait a moment.")
	case domain.StateSuccess:
		// Completed sessions restart the flow on the next message.
		o.sessions.Delete(partyID)
		o.sessions.Set(partyID, domain.TransferSession{State: domain.StateWelcome})
		o.handleWelcome(ctx, partyID, text, lower)
	case domain.StateError:
		o.handleErrorState(ctx, partyID, lower, session)
	default:
		log.Printf("level=error component=orchestrator msg=\"unknown session state\" party=%s state=%s", partyID, session.State)
		o.sessions.Delete(partyID)
		o.send(ctx, partyID, welcomeMessage())
	}
}

func (o *Orchestrator) handleWelcome(ctx context.Context, partyID, text, lower string) {
	if intent, ok := parseRemittanceMessage(text); ok {
		o.startQuickSend(ctx, partyID, intent)
		return
	}

	if strings.Contains(lower, "send") || strings.Contains(lower, "transfer") {
		o.sessions.Update(partyID, func(s *domain.TransferSession) {
			s.State = domain.StateAmount
		})
		o.send(ctx, partyID, fmt.Sprintf("How much would you like to send? Reply with an amount and currency, e.g. \"1000 KES\".\n\nSupported currencies: %s", strings.Join(SupportedCurrencies, ", ")))
		return
	}

	o.send(ctx, partyID, welcomeMessage())
}

func (o *Orchestrator) startQuickSend(ctx context.Context, partyID string, intent remittanceIntent) {
	if !isSupportedCurrency(intent.Currency) {
		o.send(ctx, partyID, fmt.Sprintf("Sorry, %s is not supported yet. Supported currencies: %s", intent.Currency, strings.Join(SupportedCurrencies, ", ")))
		return
	}
	if !intent.Amount.IsPositive() {
		o.send(ctx, partyID, "The amount must be greater than zero. Try e.g. \"Send 1000 KES to +254712345678\".")
		return
	}

	session := domain.TransferSession{
		State:          domain.StateConfirm,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		USDCAmount:     convertToUSDC(intent.Amount, intent.Currency),
		RecipientPhone: intent.RecipientPhone,
		TxRef:          generateTxRef(),
		StartedAt:      o.now(),
	}
	o.sessions.Set(partyID, session)
	o.send(ctx, partyID, confirmMessage(session))
}

func (o *Orchestrator) handleAmount(ctx context.Context, partyID, text string) {
	amount, currency, ok := parseAmount(text)
	if !ok {
		o.send(ctx, partyID, "I couldn't read that amount. Reply with an amount and currency, e.g. \"1000 KES\".")
		return
	}
	if !isSupportedCurrency(currency) {
		o.send(ctx, partyID, fmt.Sprintf("Sorry, %s is not supported yet. Supported currencies: %s", currency, strings.Join(SupportedCurrencies, ", ")))
		return
	}
	if !amount.IsPositive() {
		o.send(ctx, partyID, "The amount must be greater than zero.")
		return
	}

	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StateRecipient
		s.Amount = amount
		s.Currency = currency
		s.USDCAmount = convertToUSDC(amount, currency)
	})
	o.send(ctx, partyID, fmt.Sprintf("Got it: %s %s (≈ %s USDC).\n\nWho is the recipient? Reply with their phone number including country code, e.g. +254712345678.", amount, currency, convertToUSDC(amount, currency)))
}

func (o *Orchestrator) handleRecipient(ctx context.Context, partyID, text string, session domain.TransferSession) {
	phone, ok := parsePhone(text)
	if !ok {
		o.send(ctx, partyID, "That doesn't look like a phone number. Reply with the recipient's number including country code, e.g. +254712345678.")
		return
	}

	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StateConfirm
		s.RecipientPhone = phone
		// The reference is allocated exactly once per transfer, here for the
		// step-by-step flow.
		if s.TxRef == "" {
			s.TxRef = generateTxRef()
			s.StartedAt = o.now()
		}
	})

	updated, _ := o.sessions.Get(partyID)
	o.send(ctx, partyID, confirmMessage(updated))
}

func (o *Orchestrator) handleConfirm(ctx context.Context, partyID, lower string, session domain.TransferSession) {
	switch {
	case lower == "cancel" || lower == "no":
		o.sessions.Delete(partyID)
		o.send(ctx, partyID, "Transfer cancelled. Send a new message anytime to start again.")
	case lower == "confirm" || lower == "yes":
		o.initiateCharge(ctx, partyID, session)
	default:
		o.send(ctx, partyID, "Reply \"confirm\" to proceed or \"cancel\" to abort.")
	}
}

// initiateCharge moves the session to PAY and creates the provider charge.
// PAY is persisted before the charge call so a crash mid-call can never lose
// track of money the provider may already be collecting.
func (o *Orchestrator) initiateCharge(ctx context.Context, partyID string, session domain.TransferSession) {
	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StatePay
	})

	charge, err := o.payments.CreateCharge(ctx, session.Amount, session.Currency, cleanPhone(partyID), partyEmail(partyID), session.TxRef)
	if err != nil {
		log.Printf("level=error component=orchestrator msg=\"charge creation failed\" party=%s tx_ref=%s err=%v", partyID, session.TxRef, err)
		o.enterError(ctx, partyID, "payment initiation failed: "+err.Error(), domain.ErrorCategoryPayment, false)
		o.send(ctx, partyID, "We couldn't start your payment. Reply \"retry\" to try again or \"cancel\" to abort.")
		return
	}

	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.ChargeID = charge.ChargeID
		s.PaymentLink = charge.PaymentLink
	})

	if charge.PaymentLink != "" {
		o.send(ctx, partyID, fmt.Sprintf("Complete your payment of %s %s here:\n%s\n\nReply \"paid\" once you've paid, or \"cancel\" to abort.", session.Amount, session.Currency, charge.PaymentLink))
	} else {
		o.send(ctx, partyID, fmt.Sprintf("A payment prompt for %s %s has been sent to your phone. Approve it, then reply \"paid\".", session.Amount, session.Currency))
	}
	o.notifier.Arm(partyID)
}

func (o *Orchestrator) handlePay(ctx context.Context, partyID, lower string, session domain.TransferSession) {
	switch {
	case lower == "cancel":
		o.notifier.Cancel(partyID)
		o.sessions.Delete(partyID)
		o.send(ctx, partyID, "Transfer cancelled. If you already paid, the payment will be refunded.")
	case lower == "paid" || lower == "done" || lower == "complete":
		if session.ChargeID == "" {
			o.send(ctx, partyID, "No payment is in flight yet. Reply \"confirm\" to start one.")
			return
		}
		status, err := o.payments.VerifyTransaction(ctx, session.ChargeID)
		if err != nil {
			log.Printf("level=warn component=orchestrator msg=\"payment verification failed\" party=%s charge_id=%s err=%v", partyID, session.ChargeID, err)
			o.send(ctx, partyID, "We couldn't verify your payment yet. Give it a minute and reply \"paid\" again.")
			return
		}
		if !status.Success {
			if status.Status == "failed" {
				o.enterError(ctx, partyID, "payment failed at provider", domain.ErrorCategoryPayment, false)
				o.send(ctx, partyID, "Your payment failed. Reply \"retry\" to try again or \"cancel\" to abort.")
				return
			}
			o.send(ctx, partyID, "Your payment hasn't been confirmed yet. Complete it, then reply \"paid\" again.")
			return
		}
		o.settleFromPay(ctx, partyID, status)
	default:
		o.send(ctx, partyID, "Waiting for your payment. Reply \"paid\" once done, or \"cancel\" to abort.")
	}
}

func (o *Orchestrator) handleErrorState(ctx context.Context, partyID, lower string, session domain.TransferSession) {
	switch {
	case lower == "retry":
		if err := o.retry(ctx, partyID); err != nil {
			o.send(ctx, partyID, "This transfer can't be retried. Send a new message to start over.")
			o.sessions.Delete(partyID)
		}
	case lower == "cancel":
		o.sessions.Delete(partyID)
		o.send(ctx, partyID, "Transfer cancelled. Send a new message anytime to start again.")
	default:
		msg := fmt.Sprintf("Your transfer failed: %s.", session.Error)
		if session.Retryable {
			msg += " Reply \"retry\" to try again or \"cancel\" to start over."
		} else {
			msg += " Reply \"cancel\" to start over."
		}
		o.send(ctx, partyID, msg)
	}
}

// HandleProviderCallback processes an authenticated charge-completed
// notification from the payment provider.
func (o *Orchestrator) HandleProviderCallback(ctx context.Context, partyID, txRef string, status *flutterwave.TransactionStatus) error {
	var err error
	o.executor.Do(partyID, func() {
		session, ok := o.sessions.Get(partyID)
		if !ok {
			err = ErrNoActiveTransfer
			return
		}
		if session.TxRef != txRef {
			err = ErrTxRefMismatch
			return
		}
		o.settleFromPay(ctx, partyID, status)
	})
	return err
}

// VerifyAndSettle polls a pending charge until it resolves, then settles.
// Used by the manual verification endpoint; holds the party lock for the
// whole polling window so inbound messages queue behind it.
func (o *Orchestrator) VerifyAndSettle(ctx context.Context, partyID, transactionID string) error {
	var err error
	o.executor.Do(partyID, func() {
		session, ok := o.sessions.Get(partyID)
		if !ok || session.State != domain.StatePay {
			err = ErrNoActiveTransfer
			return
		}

		status, pollErr := o.poller.Poll(ctx, transactionID)
		switch {
		case errors.Is(pollErr, ErrPaymentFailed):
			o.enterError(ctx, partyID, "payment failed at provider", domain.ErrorCategoryPayment, false)
			o.send(ctx, partyID, "Your payment failed. Reply \"retry\" to try again or \"cancel\" to abort.")
			err = pollErr
		case errors.Is(pollErr, ErrPollTimeout):
			// Not a provider verdict. The session stays in PAY; the sweeper
			// owns the final timeout.
			o.send(ctx, partyID, "We couldn't confirm your payment in time. If you completed it, reply \"paid\" to check again.")
			err = pollErr
		case pollErr != nil:
			err = pollErr
		default:
			o.settleFromPay(ctx, partyID, status)
		}
	})
	return err
}

// HandlePaymentFailure marks the party's active transfer as failed at the
// payment stage.
func (o *Orchestrator) HandlePaymentFailure(ctx context.Context, partyID, txRef, reason string) error {
	var err error
	o.executor.Do(partyID, func() {
		session, ok := o.sessions.Get(partyID)
		if !ok {
			err = ErrNoActiveTransfer
			return
		}
		if txRef != "" && session.TxRef != txRef {
			err = ErrTxRefMismatch
			return
		}
		if session.State != domain.StatePay {
			return
		}
		o.notifier.Cancel(partyID)
		if reason == "" {
			reason = "payment failed at provider"
		}
		o.enterError(ctx, partyID, reason, domain.ErrorCategoryPayment, false)
		o.send(ctx, partyID, "Your payment failed. Reply \"retry\" to try again or \"cancel\" to abort.")
	})
	return err
}

// settleFromPay is the single PAY -> PROCESSING transition. Duplicate
// payment signals find the session already out of PAY and return without
// side effects.
func (o *Orchestrator) settleFromPay(ctx context.Context, partyID string, status *flutterwave.TransactionStatus) {
	session, ok := o.sessions.Get(partyID)
	if !ok || session.State != domain.StatePay {
		return
	}

	o.notifier.Cancel(partyID)
	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StateProcessing
		s.PaymentResult = &domain.PaymentResult{
			Success:       true,
			Amount:        status.Amount,
			Currency:      status.Currency,
			Status:        status.Status,
			TransactionID: status.TransactionID,
		}
	})

	o.send(ctx, partyID, "Payment confirmed! Sending USDC to the bridge now...")
	o.settle(ctx, partyID)
}

// settle executes the on-chain leg for a PROCESSING session.
func (o *Orchestrator) settle(ctx context.Context, partyID string) {
	session, ok := o.sessions.Get(partyID)
	if !ok || session.State != domain.StateProcessing {
		return
	}

	receipt, err := o.settlement.Deposit(ctx, session.USDCAmount, o.recipientAddress, bridge.FiatRef{
		TxRef:          session.TxRef,
		Amount:         session.Amount,
		Currency:       session.Currency,
		RecipientPhone: session.RecipientPhone,
	})
	if err != nil {
		log.Printf("level=error component=orchestrator msg=\"settlement failed\" party=%s tx_ref=%s err=%v", partyID, session.TxRef, err)
		o.enterError(ctx, partyID, "blockchain transaction failed: "+err.Error(), domain.ErrorCategoryBlockchain, true)
		o.send(ctx, partyID, "Your payment went through but the transfer hit a snag on our side. Reply \"retry\" to try again; your money is safe.")
		return
	}

	completedAt := o.now()
	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StateSuccess
		s.SettlementResult = &domain.SettlementReceipt{
			TxHash:      receipt.TxHash,
			BlockNumber: receipt.BlockNumber,
			GasUsed:     receipt.GasUsed,
		}
		s.CompletedAt = completedAt
	})

	o.publish(ctx, RoutingKeyTransferCompleted, domain.TransferCompletedEvent{
		TxRef:          session.TxRef,
		TxHash:         receipt.TxHash,
		Amount:         session.Amount,
		Currency:       session.Currency,
		USDCAmount:     session.USDCAmount,
		RecipientPhone: session.RecipientPhone,
		Timestamp:      completedAt,
	})

	o.send(ctx, partyID, fmt.Sprintf("Transfer complete! 🎉\n\n%s USDC is on its way to %s.\nTransaction: %s\n\nSend another message anytime to start a new transfer.", session.USDCAmount, session.RecipientPhone, receipt.TxHash))
}

// retry resumes a failed transfer from the last safe point for its failure
// category. Payment failures restart at confirmation with the original
// reference; settlement failures replay only the on-chain leg.
func (o *Orchestrator) retry(ctx context.Context, partyID string) error {
	session, ok := o.sessions.Get(partyID)
	if !ok {
		return ErrNoActiveTransfer
	}
	if session.State != domain.StateError || !session.Retryable {
		return ErrNotRetryable
	}

	switch {
	case session.PaymentResult != nil && session.PaymentResult.Success:
		o.sessions.Update(partyID, func(s *domain.TransferSession) {
			s.State = domain.StateProcessing
			s.Error = ""
			s.ErrorType = ""
			s.Retryable = false
			s.RefundPending = false
		})
		o.send(ctx, partyID, "Retrying your transfer...")
		o.settle(ctx, partyID)
	default:
		o.sessions.Update(partyID, func(s *domain.TransferSession) {
			s.State = domain.StateConfirm
			s.Error = ""
			s.ErrorType = ""
			s.Retryable = false
			s.ChargeID = ""
			s.PaymentLink = ""
		})
		updated, _ := o.sessions.Get(partyID)
		o.send(ctx, partyID, confirmMessage(updated))
	}
	return nil
}

// Retry is the HTTP-triggered variant of the conversational "retry" reply.
// The txRef must match the party's failed session.
func (o *Orchestrator) Retry(ctx context.Context, partyID, txRef string) error {
	var err error
	o.executor.Do(partyID, func() {
		session, ok := o.sessions.Get(partyID)
		if !ok {
			err = ErrNoActiveTransfer
			return
		}
		if session.TxRef != txRef {
			err = ErrTxRefMismatch
			return
		}
		err = o.retry(ctx, partyID)
	})
	return err
}

// Status returns the public view of a party's session.
func (o *Orchestrator) Status(partyID string) (domain.SessionStatus, error) {
	session, ok := o.sessions.Get(partyID)
	if !ok {
		return domain.SessionStatus{}, store.ErrSessionNotFound
	}
	return session.PublicStatus(), nil
}

// enterError records a failure on the party's session and publishes the
// failed event. Callers pass the category when they know which subsystem
// failed; unknown falls back to message classification.
func (o *Orchestrator) enterError(ctx context.Context, partyID, errMsg string, category domain.ErrorCategory, refundPending bool) {
	if category == "" || category == domain.ErrorCategoryUnknown {
		category = CategorizeError(errMsg)
	}
	retryable := IsRetryable(category)

	var txRef string
	o.sessions.Update(partyID, func(s *domain.TransferSession) {
		s.State = domain.StateError
		s.Error = errMsg
		s.ErrorType = category
		s.Retryable = retryable
		s.RefundPending = refundPending
		txRef = s.TxRef
	})

	o.publish(ctx, RoutingKeyTransferFailed, domain.TransferFailedEvent{
		TxRef:     txRef,
		ErrorType: category,
		Error:     errMsg,
		Retryable: retryable,
		Timestamp: o.now(),
	})
}

func (o *Orchestrator) publish(ctx context.Context, routingKey string, event interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func (o *Orchestrator) send(ctx context.Context, partyID, body string) {
	if _, err := o.messenger.Send(ctx, partyID, body); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"message send failed\" party=%s err=%v", partyID, err)
	}
}

func welcomeMessage() string {
	return fmt.Sprintf("Welcome to AfriBridge! 🌍\n\nSend money across Africa instantly via USDC.\n\nTry: \"Send 1000 KES to +254712345678\"\nor reply \"send\" to go step by step.\n\nSupported currencies: %s", strings.Join(SupportedCurrencies, ", "))
}

func helpMessage() string {
	return fmt.Sprintf("AfriBridge help:\n\n• \"Send 1000 KES to +254712345678\" starts a transfer in one message\n• \"send\" walks you through step by step\n• \"paid\" confirms your payment\n• \"cancel\" aborts the current transfer\n\nSupported currencies: %s", strings.Join(SupportedCurrencies, ", "))
}

func confirmMessage(s domain.TransferSession) string {
	return fmt.Sprintf("Please confirm your transfer:\n\nAmount: %s %s\nRecipient gets: ≈ %s USDC\nTo: %s\nRef: %s\n\nReply \"confirm\" to proceed or \"cancel\" to abort.", s.Amount, s.Currency, s.USDCAmount, s.RecipientPhone, s.TxRef)
}
