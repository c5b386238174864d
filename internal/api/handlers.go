/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Webhooks acknowledge immediately and do the conversational work in the
 * background; the messaging provider retries on slow responses, and replies
 * go out through its API rather than the webhook response.
 *
 * @dependencies
 * - context, crypto/subtle, encoding/json, errors, log, net/http, strings: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - github.com/shopspring/decimal: Request amounts.
 * - internal/app, internal/store: Service logic and custom errors.
 * - pkg/flutterwave: Provider verification results.
 */

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/afribridge/transfer-service/internal/app"
	"github.com/afribridge/transfer-service/internal/store"
)

// TransferHandlers holds the application services that handlers will use.
type TransferHandlers struct {
	orchestrator *app.Orchestrator
	fulfillment  *app.FulfillmentService
	payments     app.PaymentClient
	settlement   app.SettlementClient

	// flutterwaveSecretHash authenticates provider webhooks. The check is
	// skipped in development, where no hash is provisioned.
	flutterwaveSecretHash string
	isDevelopment         bool
}

// NewTransferHandlers creates the handler set.
func NewTransferHandlers(
	orchestrator *app.Orchestrator,
	fulfillment *app.FulfillmentService,
	payments app.PaymentClient,
	settlement app.SettlementClient,
	flutterwaveSecretHash string,
	isDevelopment bool,
) *TransferHandlers {
	return &TransferHandlers{
		orchestrator:          orchestrator,
		fulfillment:           fulfillment,
		payments:              payments,
		settlement:            settlement,
		flutterwaveSecretHash: flutterwaveSecretHash,
		isDevelopment:         isDevelopment,
	}
}

// partyFromPhone normalizes a phone number into the party identifier the
// session store is keyed by.
func partyFromPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return "whatsapp:" + phone
}

// WhatsAppWebhookHandler receives inbound messages from Twilio. It replies
// with an empty TwiML document so Twilio sends nothing itself, then runs the
// conversation turn in the background.
func (h *TransferHandlers) WhatsAppWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" {
		h.writeError(w, http.StatusBadRequest, "missing From")
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))

	go h.orchestrator.HandleMessage(context.Background(), from, body)
}

type flutterwaveWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID       json.Number `json:"id"`
		TxRef    string      `json:"tx_ref"`
		Status   string      `json:"status"`
		Customer struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"customer"`
	} `json:"data"`
}

// FlutterwaveWebhookHandler receives charge notifications from the payment
// provider. Webhook data is treated as a hint only: settlement happens after
// an authoritative re-verification against the provider API.
func (h *TransferHandlers) FlutterwaveWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.flutterwaveSecretHash != "" {
		provided := r.Header.Get("verif-hash")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.flutterwaveSecretHash)) != 1 {
			log.Printf("level=warn component=api msg=\"rejected flutterwave webhook with bad verif-hash\" remote=%s", r.RemoteAddr)
			h.writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	} else if !h.isDevelopment {
		log.Printf("level=warn component=api msg=\"rejected flutterwave webhook; no secret hash configured\"")
		h.writeError(w, http.StatusUnauthorized, "webhook verification unavailable")
		return
	}

	var payload flutterwaveWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if payload.Event != "charge.completed" {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	partyID := partyFromPhone(payload.Data.Customer.PhoneNumber)
	txRef := payload.Data.TxRef
	transactionID := payload.Data.ID.String()

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "received"})

	go func() {
		ctx := context.Background()
		if payload.Data.Status != "successful" {
			if err := h.orchestrator.HandlePaymentFailure(ctx, partyID, txRef, "payment "+payload.Data.Status+" at provider"); err != nil {
				log.Printf("level=warn component=api msg=\"payment failure not applied\" tx_ref=%s err=%v", txRef, err)
			}
			return
		}

		status, err := h.payments.VerifyTransaction(ctx, transactionID)
		if err != nil {
			log.Printf("level=error component=api msg=\"webhook verification failed\" tx_ref=%s transaction_id=%s err=%v", txRef, transactionID, err)
			return
		}
		if !status.Success {
			log.Printf("level=warn component=api msg=\"webhook claimed success but verification disagrees\" tx_ref=%s status=%s", txRef, status.Status)
			return
		}
		if err := h.orchestrator.HandleProviderCallback(ctx, partyID, txRef, status); err != nil {
			log.Printf("level=warn component=api msg=\"provider callback not applied\" tx_ref=%s err=%v", txRef, err)
		}
	}()
}

type verifyPaymentRequest struct {
	Phone         string `json:"phone"`
	TransactionID string `json:"transaction_id"`
}

// VerifyPaymentHandler kicks off bounded polling for a pending charge.
func (h *TransferHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if req.Phone == "" || req.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "phone and transaction_id are required")
		return
	}

	go func() {
		if err := h.orchestrator.VerifyAndSettle(context.Background(), partyFromPhone(req.Phone), req.TransactionID); err != nil {
			log.Printf("level=info component=api msg=\"payment verification finished without settlement\" transaction_id=%s err=%v", req.TransactionID, err)
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification started"})
}

// StatusHandler returns the public view of a party's transfer session.
func (h *TransferHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	status, err := h.orchestrator.Status(partyFromPhone(phone))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "no active transfer")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

type retryRequest struct {
	Phone string `json:"phone"`
}

// RetryHandler retries a failed transfer identified by its reference.
func (h *TransferHandlers) RetryHandler(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "txRef")

	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if req.Phone == "" {
		h.writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	err := h.orchestrator.Retry(r.Context(), partyFromPhone(req.Phone), txRef)
	switch {
	case errors.Is(err, app.ErrNoActiveTransfer), errors.Is(err, app.ErrTxRefMismatch):
		h.writeError(w, http.StatusNotFound, "no matching failed transfer")
	case errors.Is(err, app.ErrNotRetryable):
		h.writeError(w, http.StatusConflict, "transfer is not retryable")
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "retry failed")
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "retry started", "tx_ref": txRef})
	}
}

// BridgeBalanceHandler reports the bridge contract's USDC balance.
func (h *TransferHandlers) BridgeBalanceHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.settlement.ContractBalance(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"balance query failed\" err=%v", err)
		h.writeError(w, http.StatusBadGateway, "failed to query bridge balance")
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

type approveRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ApproveUSDCHandler raises the bridge contract's USDC allowance.
func (h *TransferHandlers) ApproveUSDCHandler(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	txHash, err := h.settlement.ApproveUSDC(r.Context(), req.Amount)
	if err != nil {
		log.Printf("level=error component=api msg=\"usdc approval failed\" err=%v", err)
		h.writeError(w, http.StatusBadGateway, "approval failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"tx_hash": txHash})
}

type fulfillRequest struct {
	TxHash         string          `json:"tx_hash"`
	RecipientPhone string          `json:"recipient_phone"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// FulfillHandler executes the off-ramp payout for a settled transfer.
// Replays return the existing record without re-running the payout.
func (h *TransferHandlers) FulfillHandler(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if req.TxHash == "" || req.RecipientPhone == "" || req.Currency == "" {
		h.writeError(w, http.StatusBadRequest, "tx_hash, recipient_phone and currency are required")
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	record, alreadyFulfilled, err := h.fulfillment.Fulfill(r.Context(), req.TxHash, req.RecipientPhone, req.Amount, req.Currency)
	if err != nil {
		log.Printf("level=error component=api msg=\"fulfillment failed\" tx_hash=%s err=%v", req.TxHash, err)
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  "fulfillment failed",
			"record": record,
		})
		return
	}

	status := http.StatusCreated
	if alreadyFulfilled {
		status = http.StatusOK
	}
	h.writeJSON(w, status, map[string]interface{}{
		"already_fulfilled": alreadyFulfilled,
		"record":            record,
	})
}

// FulfillmentStatusHandler returns the fulfillment record for a settlement
// transaction hash.
func (h *TransferHandlers) FulfillmentStatusHandler(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")
	record, err := h.fulfillment.Status(txHash)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "fulfillment record not found")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// FulfillmentRetryHandler re-runs a failed fulfillment.
func (h *TransferHandlers) FulfillmentRetryHandler(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")
	record, err := h.fulfillment.RetryFailed(r.Context(), txHash)
	switch {
	case errors.Is(err, app.ErrFulfillmentNotFound):
		h.writeError(w, http.StatusNotFound, "fulfillment record not found")
	case errors.Is(err, app.ErrFulfillmentNotFailed):
		h.writeError(w, http.StatusConflict, "fulfillment did not fail; nothing to retry")
	case err != nil:
		log.Printf("level=error component=api msg=\"fulfillment retry failed\" tx_hash=%s err=%v", txHash, err)
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  "fulfillment retry failed",
			"record": record,
		})
	default:
		h.writeJSON(w, http.StatusOK, record)
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
