/**
 * @description
 * This package provides a client for the Flutterwave v3 API. It covers the
 * two directions of money movement the service needs: collecting fiat via
 * mobile-money charges (create + verify) and paying fiat out via transfers
 * (create + verify). All requests carry the caller-supplied reference so the
 * provider can deduplicate replays.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Monetary amounts.
 */
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the Flutterwave API.
type Client struct {
	BaseURL     string
	SecretKey   string
	RedirectURL string
	CallbackURL string
	HTTPClient  *http.Client
}

// NewClient creates a new Flutterwave API client.
func NewClient(baseURL, secretKey, redirectURL, callbackURL string) *Client {
	return &Client{
		BaseURL:     baseURL,
		SecretKey:   secretKey,
		RedirectURL: redirectURL,
		CallbackURL: callbackURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrorResponse represents an error payload from the Flutterwave API.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("flutterwave api error: %s", e.Message)
	}
	return "unknown flutterwave api error"
}

// ChargeResult is the outcome of creating a mobile-money charge.
type ChargeResult struct {
	ChargeID    string
	PaymentLink string
	TxRef       string
	Status      string
}

// TransactionStatus is the outcome of verifying a charge.
type TransactionStatus struct {
	Success       bool
	Status        string
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	CustomerPhone string
}

// PayoutResult is the outcome of creating a payout transfer.
type PayoutResult struct {
	TransferID string
	Status     string
	Reference  string
}

// PayoutStatus is the outcome of verifying a payout transfer.
type PayoutStatus struct {
	Success    bool
	Status     string
	TransferID string
}

// mobileMoneyChargeTypes maps a collection currency to the Flutterwave
// mobile-money charge type.
var mobileMoneyChargeTypes = map[string]string{
	"KES": "mobile_money_kenya",
	"NGN": "mobile_money_nigeria",
	"GHS": "mobile_money_ghana",
	"UGX": "mobile_money_uganda",
	"RWF": "mobile_money_rwanda",
}

// MobileMoneyBankCodes maps a payout currency to the mobile-money bank code
// expected by the transfers endpoint.
var MobileMoneyBankCodes = map[string]string{
	"KES": "MPS",
	"NGN": "MPS",
	"GHS": "mobilemoney",
	"UGX": "mobilemoney",
	"RWF": "mobilemoney",
}

// BankCodeFor returns the mobile-money bank code for a currency.
func BankCodeFor(currency string) string {
	if code, ok := MobileMoneyBankCodes[currency]; ok {
		return code
	}
	return "MPS"
}

type chargeRequest struct {
	TxRef          string          `json:"tx_ref"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Email          string          `json:"email"`
	PhoneNumber    string          `json:"phone_number"`
	RedirectURL    string          `json:"redirect_url"`
	PaymentOptions string          `json:"payment_options"`
	Customer       struct {
		Email       string `json:"email"`
		PhoneNumber string `json:"phonenumber"`
		Name        string `json:"name"`
	} `json:"customer"`
	Customizations struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Logo        string `json:"logo"`
	} `json:"customizations"`
}

type chargeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ID   json.Number `json:"id"`
		Link string      `json:"link"`
	} `json:"data"`
}

// CreateCharge creates a mobile-money charge keyed by txRef. Replays with
// the same txRef are deduplicated by the provider, not by this client.
func (c *Client) CreateCharge(ctx context.Context, amount decimal.Decimal, currency, phone, email, txRef string) (*ChargeResult, error) {
	chargeType, ok := mobileMoneyChargeTypes[currency]
	if !ok {
		chargeType = "mobile_money_kenya"
	}

	reqPayload := chargeRequest{
		TxRef:          txRef,
		Amount:         amount,
		Currency:       currency,
		Email:          email,
		PhoneNumber:    phone,
		RedirectURL:    c.RedirectURL,
		PaymentOptions: "mobilemoneykenya,mobilemoneyghana,mobilemoneyrwanda,mobilemoneyuganda,mobilemoneyzambia",
	}
	reqPayload.Customer.Email = email
	reqPayload.Customer.PhoneNumber = phone
	reqPayload.Customer.Name = phone
	reqPayload.Customizations.Title = "AfriBridge Remittance"
	reqPayload.Customizations.Description = fmt.Sprintf("Send %s %s via AfriBridge", amount, currency)

	endpoint := fmt.Sprintf("%s/charges?type=%s", c.BaseURL, url.QueryEscape(chargeType))

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, endpoint, reqPayload, &resp, "create_charge"); err != nil {
		return nil, err
	}

	return &ChargeResult{
		ChargeID:    resp.Data.ID.String(),
		PaymentLink: resp.Data.Link,
		TxRef:       txRef,
		Status:      resp.Status,
	}, nil
}

type verifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		ID       json.Number     `json:"id"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Customer struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"customer"`
	} `json:"data"`
}

// VerifyTransaction checks the state of a charge by its transaction id.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (*TransactionStatus, error) {
	endpoint := fmt.Sprintf("%s/transactions/%s/verify", c.BaseURL, url.PathEscape(transactionID))

	var resp verifyResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, "verify_transaction"); err != nil {
		return nil, err
	}

	return &TransactionStatus{
		Success:       resp.Data.Status == "successful",
		Status:        resp.Data.Status,
		Amount:        resp.Data.Amount,
		Currency:      resp.Data.Currency,
		TransactionID: resp.Data.ID.String(),
		CustomerPhone: resp.Data.Customer.PhoneNumber,
	}, nil
}

type payoutRequest struct {
	AccountBank   string          `json:"account_bank"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Narration     string          `json:"narration"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	CallbackURL   string          `json:"callback_url"`
	DebitCurrency string          `json:"debit_currency"`
}

type payoutResponse struct {
	Status string `json:"status"`
	Data   struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	} `json:"data"`
}

// CreatePayout creates a mobile-money payout transfer. The reference is the
// idempotency key honored by the provider.
func (c *Client) CreatePayout(ctx context.Context, accountNumber string, amount decimal.Decimal, currency, reference string) (*PayoutResult, error) {
	reqPayload := payoutRequest{
		AccountBank:   BankCodeFor(currency),
		AccountNumber: accountNumber,
		Amount:        amount,
		Narration:     fmt.Sprintf("AfriBridge payout - %s", reference),
		Currency:      currency,
		Reference:     reference,
		CallbackURL:   c.CallbackURL,
		DebitCurrency: "USD",
	}

	var resp payoutResponse
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/transfers", reqPayload, &resp, "create_payout"); err != nil {
		return nil, err
	}

	return &PayoutResult{
		TransferID: resp.Data.ID.String(),
		Status:     resp.Data.Status,
		Reference:  reference,
	}, nil
}

// VerifyPayout checks the state of a payout transfer.
func (c *Client) VerifyPayout(ctx context.Context, transferID string) (*PayoutStatus, error) {
	endpoint := fmt.Sprintf("%s/transfers/%s", c.BaseURL, url.PathEscape(transferID))

	var resp payoutResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp, "verify_payout"); err != nil {
		return nil, err
	}

	return &PayoutStatus{
		Success:    resp.Data.Status == "SUCCESSFUL",
		Status:     resp.Data.Status,
		TransferID: resp.Data.ID.String(),
	}, nil
}

// do executes one authenticated request and decodes the response.
func (c *Client) do(ctx context.Context, method, endpoint string, payload, out interface{}, op string) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=flutterwave_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=flutterwave_client op=%s status=%d message=%q", op, resp.StatusCode, errResp.Message)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
