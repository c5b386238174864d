package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afribridge/transfer-service/internal/domain"
	"github.com/afribridge/transfer-service/internal/store"
	"github.com/afribridge/transfer-service/pkg/bridge"
	"github.com/afribridge/transfer-service/pkg/flutterwave"
)

type stubPayments struct {
	mu sync.Mutex

	createChargeFn func(txRef string) (*flutterwave.ChargeResult, error)
	verifyFn       func(transactionID string) (*flutterwave.TransactionStatus, error)
	createPayoutFn func(reference string) (*flutterwave.PayoutResult, error)
	verifyPayoutFn func(transferID string) (*flutterwave.PayoutStatus, error)

	chargeCalls       int
	verifyCalls       int
	payoutCalls       int
	verifyPayoutCalls int
	payoutRefs        []string
}

func (s *stubPayments) CreateCharge(ctx context.Context, amount decimal.Decimal, currency, phone, email, txRef string) (*flutterwave.ChargeResult, error) {
	s.mu.Lock()
	s.chargeCalls++
	s.mu.Unlock()
	if s.createChargeFn != nil {
		return s.createChargeFn(txRef)
	}
	return &flutterwave.ChargeResult{ChargeID: "123456", PaymentLink: "https://pay.test/link", TxRef: txRef, Status: "success"}, nil
}

func (s *stubPayments) VerifyTransaction(ctx context.Context, transactionID string) (*flutterwave.TransactionStatus, error) {
	s.mu.Lock()
	s.verifyCalls++
	s.mu.Unlock()
	if s.verifyFn != nil {
		return s.verifyFn(transactionID)
	}
	return &flutterwave.TransactionStatus{Success: true, Status: "successful", Amount: decimal.NewFromInt(1000), Currency: "KES", TransactionID: transactionID}, nil
}

func (s *stubPayments) CreatePayout(ctx context.Context, accountNumber string, amount decimal.Decimal, currency, reference string) (*flutterwave.PayoutResult, error) {
	s.mu.Lock()
	s.payoutCalls++
	s.payoutRefs = append(s.payoutRefs, reference)
	s.mu.Unlock()
	if s.createPayoutFn != nil {
		return s.createPayoutFn(reference)
	}
	return &flutterwave.PayoutResult{TransferID: "777", Status: "NEW", Reference: reference}, nil
}

func (s *stubPayments) VerifyPayout(ctx context.Context, transferID string) (*flutterwave.PayoutStatus, error) {
	s.mu.Lock()
	s.verifyPayoutCalls++
	s.mu.Unlock()
	if s.verifyPayoutFn != nil {
		return s.verifyPayoutFn(transferID)
	}
	return &flutterwave.PayoutStatus{Success: true, Status: "SUCCESSFUL", TransferID: transferID}, nil
}

type stubSettlement struct {
	mu sync.Mutex

	depositFn  func() (*bridge.Receipt, error)
	withdrawFn func() (*bridge.Receipt, error)

	depositCalls  int
	withdrawCalls int
}

func (s *stubSettlement) Deposit(ctx context.Context, amount decimal.Decimal, recipient string, ref bridge.FiatRef) (*bridge.Receipt, error) {
	s.mu.Lock()
	s.depositCalls++
	s.mu.Unlock()
	if s.depositFn != nil {
		return s.depositFn()
	}
	return &bridge.Receipt{TxHash: "0xdeadbeef", BlockNumber: 42, GasUsed: "21000"}, nil
}

func (s *stubSettlement) Withdraw(ctx context.Context, recipient string, amount decimal.Decimal) (*bridge.Receipt, error) {
	s.mu.Lock()
	s.withdrawCalls++
	s.mu.Unlock()
	if s.withdrawFn != nil {
		return s.withdrawFn()
	}
	return &bridge.Receipt{TxHash: "0xfeedface", BlockNumber: 43, GasUsed: "21000"}, nil
}

func (s *stubSettlement) ContractBalance(ctx context.Context) (*bridge.Balance, error) {
	return &bridge.Balance{Balance: decimal.NewFromInt(5000)}, nil
}

func (s *stubSettlement) ApproveUSDC(ctx context.Context, amount decimal.Decimal) (string, error) {
	return "0xapproved", nil
}

type recordingMessenger struct {
	mu       sync.Mutex
	messages []string
}

func (m *recordingMessenger) Send(ctx context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, body)
	return "SM123", nil
}

func (m *recordingMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *recordingMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1]
}

type recordingPublisher struct {
	mu          sync.Mutex
	routingKeys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published(routingKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.routingKeys {
		if key == routingKey {
			return true
		}
	}
	return false
}

func newTestOrchestrator(payments *stubPayments, settlement *stubSettlement) (*Orchestrator, store.SessionStore, *recordingMessenger, *recordingPublisher) {
	sessions := store.NewInMemorySessionStore()
	messenger := &recordingMessenger{}
	publisher := &recordingPublisher{}
	poller := NewChargePoller(payments, 3, time.Millisecond)
	poller.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	notifier := NewStillWaitingNotifier(sessions, messenger, time.Hour)
	orch := NewOrchestrator(sessions, payments, settlement, messenger, publisher, poller, notifier, "0xrecipient")
	return orch, sessions, messenger, publisher
}

const testParty = "whatsapp:+254700000001"

func TestQuickSendCreatesConfirmSession(t *testing.T) {
	orch, sessions, messenger, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})

	orch.HandleMessage(context.Background(), testParty, "Send 1000 KES to +254712345678")

	session, ok := sessions.Get(testParty)
	if !ok {
		t.Fatal("expected a session to be created")
	}
	if session.State != domain.StateConfirm {
		t.Fatalf("expected CONFIRM, got %s", session.State)
	}
	if !session.Amount.Equal(decimal.NewFromInt(1000)) || session.Currency != "KES" {
		t.Fatalf("unexpected amount: %s %s", session.Amount, session.Currency)
	}
	if !session.USDCAmount.Equal(decimal.RequireFromString("7.7")) {
		t.Fatalf("expected 7.7 USDC, got %s", session.USDCAmount)
	}
	if session.RecipientPhone != "+254712345678" {
		t.Fatalf("unexpected recipient: %s", session.RecipientPhone)
	}
	if !strings.HasPrefix(session.TxRef, "AFRIB-") {
		t.Fatalf("unexpected tx ref: %s", session.TxRef)
	}
	if session.StartedAt.IsZero() {
		t.Fatal("expected StartedAt to be stamped")
	}
	if !strings.Contains(strings.ToLower(messenger.last()), "confirm") {
		t.Fatalf("expected a confirmation prompt, got %q", messenger.last())
	}
}

func TestQuickSendAllocatesUniqueReferences(t *testing.T) {
	orch, sessions, _, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})

	orch.HandleMessage(context.Background(), testParty, "Send 1000 KES to +254712345678")
	first, _ := sessions.Get(testParty)

	orch.HandleMessage(context.Background(), testParty, "cancel")
	orch.HandleMessage(context.Background(), testParty, "Send 1000 KES to +254712345678")
	second, _ := sessions.Get(testParty)

	if first.TxRef == second.TxRef {
		t.Fatalf("expected distinct references, both were %s", first.TxRef)
	}
}

func TestQuickSendRejectsUnsupportedCurrency(t *testing.T) {
	orch, sessions, messenger, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})

	orch.HandleMessage(context.Background(), testParty, "Send 50 USD to +254712345678")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateWelcome {
		t.Fatalf("expected session to stay in WELCOME, got %s", session.State)
	}
	if !strings.Contains(messenger.last(), "not supported") {
		t.Fatalf("expected an unsupported-currency reply, got %q", messenger.last())
	}
}

func TestStepByStepFlowReachesConfirm(t *testing.T) {
	orch, sessions, _, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "hi")
	orch.HandleMessage(ctx, testParty, "send")
	orch.HandleMessage(ctx, testParty, "500 GHS")
	orch.HandleMessage(ctx, testParty, "+233201234567")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateConfirm {
		t.Fatalf("expected CONFIRM, got %s", session.State)
	}
	if !session.USDCAmount.Equal(decimal.RequireFromString("42.5")) {
		t.Fatalf("expected 42.5 USDC, got %s", session.USDCAmount)
	}
	if session.TxRef == "" || session.StartedAt.IsZero() {
		t.Fatal("expected reference and start time to be allocated at confirmation")
	}
}

func TestConfirmCreatesChargeAndEntersPay(t *testing.T) {
	payments := &stubPayments{}
	orch, sessions, messenger, _ := newTestOrchestrator(payments, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	orch.HandleMessage(ctx, testParty, "confirm")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StatePay {
		t.Fatalf("expected PAY, got %s", session.State)
	}
	if session.ChargeID != "123456" || session.PaymentLink == "" {
		t.Fatalf("expected charge details on session, got %+v", session)
	}
	if payments.chargeCalls != 1 {
		t.Fatalf("expected one charge call, got %d", payments.chargeCalls)
	}
	if !strings.Contains(messenger.last(), "https://pay.test/link") {
		t.Fatalf("expected payment link in reply, got %q", messenger.last())
	}
}

func TestChargeFailurePreservesReference(t *testing.T) {
	payments := &stubPayments{
		createChargeFn: func(txRef string) (*flutterwave.ChargeResult, error) {
			return nil, errors.New("charge rejected")
		},
	}
	orch, sessions, _, publisher := newTestOrchestrator(payments, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	before, _ := sessions.Get(testParty)
	orch.HandleMessage(ctx, testParty, "confirm")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateError {
		t.Fatalf("expected ERROR, got %s", session.State)
	}
	if session.ErrorType != domain.ErrorCategoryPayment || !session.Retryable {
		t.Fatalf("expected retryable payment error, got %s retryable=%t", session.ErrorType, session.Retryable)
	}
	if session.TxRef != before.TxRef {
		t.Fatalf("reference changed across failure: %s vs %s", before.TxRef, session.TxRef)
	}
	if !publisher.published(RoutingKeyTransferFailed) {
		t.Fatal("expected a transfer.failed event")
	}
}

func TestPaidMessageSettlesTransfer(t *testing.T) {
	payments := &stubPayments{}
	settlement := &stubSettlement{}
	orch, sessions, _, publisher := newTestOrchestrator(payments, settlement)
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	orch.HandleMessage(ctx, testParty, "confirm")
	orch.HandleMessage(ctx, testParty, "paid")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", session.State)
	}
	if session.PaymentResult == nil || !session.PaymentResult.Success {
		t.Fatal("expected a successful payment result on the session")
	}
	if session.SettlementResult == nil || session.SettlementResult.TxHash != "0xdeadbeef" {
		t.Fatalf("expected settlement receipt, got %+v", session.SettlementResult)
	}
	if session.CompletedAt.IsZero() {
		t.Fatal("expected CompletedAt to be stamped")
	}
	if settlement.depositCalls != 1 {
		t.Fatalf("expected one deposit, got %d", settlement.depositCalls)
	}
	if !publisher.published(RoutingKeyTransferCompleted) {
		t.Fatal("expected a transfer.completed event")
	}
}

func TestDuplicatePaymentSignalsSettleOnce(t *testing.T) {
	payments := &stubPayments{}
	settlement := &stubSettlement{}
	orch, sessions, _, _ := newTestOrchestrator(payments, settlement)
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	session, _ := sessions.Get(testParty)
	orch.HandleMessage(ctx, testParty, "confirm")

	status := &flutterwave.TransactionStatus{Success: true, Status: "successful", Amount: decimal.NewFromInt(1000), Currency: "KES", TransactionID: "123456"}
	if err := orch.HandleProviderCallback(ctx, testParty, session.TxRef, status); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if err := orch.HandleProviderCallback(ctx, testParty, session.TxRef, status); err != nil {
		t.Fatalf("duplicate callback errored: %v", err)
	}

	if settlement.depositCalls != 1 {
		t.Fatalf("expected exactly one deposit across duplicate signals, got %d", settlement.depositCalls)
	}
}

func TestProviderCallbackRejectsForeignReference(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	orch.HandleMessage(ctx, testParty, "confirm")

	status := &flutterwave.TransactionStatus{Success: true, Status: "successful"}
	err := orch.HandleProviderCallback(ctx, testParty, "AFRIB-0-other", status)
	if !errors.Is(err, ErrTxRefMismatch) {
		t.Fatalf("expected ErrTxRefMismatch, got %v", err)
	}
}

func TestSettlementFailureMarksRefundPending(t *testing.T) {
	settlement := &stubSettlement{
		depositFn: func() (*bridge.Receipt, error) {
			return nil, errors.New("execution reverted")
		},
	}
	orch, sessions, _, publisher := newTestOrchestrator(&stubPayments{}, settlement)
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	orch.HandleMessage(ctx, testParty, "confirm")
	orch.HandleMessage(ctx, testParty, "paid")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateError {
		t.Fatalf("expected ERROR, got %s", session.State)
	}
	if session.ErrorType != domain.ErrorCategoryBlockchain {
		t.Fatalf("expected blockchain category, got %s", session.ErrorType)
	}
	if !session.RefundPending || !session.Retryable {
		t.Fatalf("expected refund pending and retryable, got %+v", session)
	}
	if !publisher.published(RoutingKeyTransferFailed) {
		t.Fatal("expected a transfer.failed event")
	}
}

func TestRetryAfterSettlementFailureReplaysOnlyDeposit(t *testing.T) {
	failures := 1
	settlement := &stubSettlement{}
	settlement.depositFn = func() (*bridge.Receipt, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("execution reverted")
		}
		return &bridge.Receipt{TxHash: "0xsecond", BlockNumber: 44, GasUsed: "21000"}, nil
	}
	payments := &stubPayments{}
	orch, sessions, _, _ := newTestOrchestrator(payments, settlement)
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	orch.HandleMessage(ctx, testParty, "confirm")
	orch.HandleMessage(ctx, testParty, "paid")
	chargesBefore := payments.chargeCalls

	orch.HandleMessage(ctx, testParty, "retry")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateSuccess {
		t.Fatalf("expected SUCCESS after retry, got %s", session.State)
	}
	if session.SettlementResult.TxHash != "0xsecond" {
		t.Fatalf("expected second receipt, got %s", session.SettlementResult.TxHash)
	}
	if payments.chargeCalls != chargesBefore {
		t.Fatal("retry of settlement must not create a new charge")
	}
	if settlement.depositCalls != 2 {
		t.Fatalf("expected two deposit attempts, got %d", settlement.depositCalls)
	}
}

func TestRetryAfterPaymentFailureReturnsToConfirm(t *testing.T) {
	payments := &stubPayments{
		createChargeFn: func(txRef string) (*flutterwave.ChargeResult, error) {
			return nil, errors.New("charge rejected")
		},
	}
	orch, sessions, _, _ := newTestOrchestrator(payments, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	before, _ := sessions.Get(testParty)
	orch.HandleMessage(ctx, testParty, "confirm")
	orch.HandleMessage(ctx, testParty, "retry")

	session, _ := sessions.Get(testParty)
	if session.State != domain.StateConfirm {
		t.Fatalf("expected CONFIRM after retry, got %s", session.State)
	}
	if session.TxRef != before.TxRef {
		t.Fatal("retry must keep the original reference")
	}
	if session.Error != "" || session.ChargeID != "" {
		t.Fatalf("expected error and charge details cleared, got %+v", session)
	}
}

func TestCancelDuringPayDeletesSession(t *testing.T) {
	orch, sessions, _, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")
	orch.HandleMessage(ctx, testParty, "confirm")
	orch.HandleMessage(ctx, testParty, "cancel")

	if _, ok := sessions.Get(testParty); ok {
		t.Fatal("expected session to be deleted on cancel")
	}
}

func TestStatusProjectsPublicFields(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&stubPayments{}, &stubSettlement{})
	ctx := context.Background()

	orch.HandleMessage(ctx, testParty, "Send 1000 KES to +254712345678")

	status, err := orch.Status(testParty)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.State != domain.StateConfirm || status.TxRef == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	if _, err := orch.Status("whatsapp:+10000000000"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
