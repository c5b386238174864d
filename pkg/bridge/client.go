/**
 * @description
 * This package provides a client for the bridge relay, the service that
 * executes USDC movements against the Bridge contract on Base. Deposits and
 * withdrawals are synchronous to the caller but internally wait for on-chain
 * confirmation, so every call can take tens of seconds.
 *
 * The fiat reference attached to deposits is a structured idempotency
 * record, serialized into the contract memo, replacing the original ad hoc
 * string interpolation.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, strings, time: Standard Go libraries.
 * - github.com/shopspring/decimal: USDC amounts.
 */
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the bridge relay API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new bridge relay client. Confirmation waits dominate
// request latency, hence the generous timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// ErrorResponse represents an error from the bridge relay.
type ErrorResponse struct {
	Message string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge relay error: %s", e.Message)
	}
	return "unknown bridge relay error"
}

// FiatRef is the structured idempotency reference recorded in the contract
// memo of a deposit, tying the on-chain transfer back to the fiat leg.
type FiatRef struct {
	TxRef          string
	Amount         decimal.Decimal
	Currency       string
	RecipientPhone string
}

// Memo serializes the reference in the pipe-delimited memo format the
// contract event consumers expect.
func (r FiatRef) Memo() string {
	return fmt.Sprintf("%s|%s%s|%s", r.TxRef, r.Amount, r.Currency, r.RecipientPhone)
}

// ParseFiatRef decodes a memo back into its reference fields.
func ParseFiatRef(memo string) (FiatRef, error) {
	parts := strings.Split(memo, "|")
	if len(parts) != 3 {
		return FiatRef{}, fmt.Errorf("malformed fiat ref memo: %q", memo)
	}
	fiat := strings.TrimSpace(parts[1])
	if len(fiat) < 4 {
		return FiatRef{}, fmt.Errorf("malformed fiat amount in memo: %q", memo)
	}
	amount, err := decimal.NewFromString(fiat[:len(fiat)-3])
	if err != nil {
		return FiatRef{}, fmt.Errorf("malformed fiat amount in memo: %w", err)
	}
	return FiatRef{
		TxRef:          parts[0],
		Amount:         amount,
		Currency:       fiat[len(fiat)-3:],
		RecipientPhone: parts[2],
	}, nil
}

// Receipt is a confirmed bridge transaction receipt.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	GasUsed     string `json:"gas_used"`
}

// Balance is the bridge contract's USDC balance.
type Balance struct {
	Balance    decimal.Decimal `json:"balance"`
	BalanceWei string          `json:"balance_wei"`
}

type depositRequest struct {
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	FiatRef string          `json:"fiat_ref"`
}

type withdrawRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type approveRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type approveResponse struct {
	TxHash string `json:"tx_hash"`
}

// Deposit sends USDC into the bridge for a recipient, waits for
// confirmation, and returns the receipt.
func (c *Client) Deposit(ctx context.Context, amount decimal.Decimal, recipient string, ref FiatRef) (*Receipt, error) {
	var receipt Receipt
	err := c.do(ctx, http.MethodPost, c.BaseURL+"/bridge/deposit", depositRequest{
		To:      recipient,
		Amount:  amount,
		FiatRef: ref.Memo(),
	}, &receipt, "deposit")
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Withdraw releases USDC from the bridge to a recipient and returns the
// confirmed receipt.
func (c *Client) Withdraw(ctx context.Context, recipient string, amount decimal.Decimal) (*Receipt, error) {
	var receipt Receipt
	err := c.do(ctx, http.MethodPost, c.BaseURL+"/bridge/withdraw", withdrawRequest{
		To:     recipient,
		Amount: amount,
	}, &receipt, "withdraw")
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ContractBalance queries the bridge contract's USDC balance.
func (c *Client) ContractBalance(ctx context.Context) (*Balance, error) {
	var balance Balance
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/bridge/balance", nil, &balance, "balance"); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ApproveUSDC raises the bridge contract's USDC allowance. The relay skips
// the transaction and returns an empty hash when the allowance already
// suffices.
func (c *Client) ApproveUSDC(ctx context.Context, amount decimal.Decimal) (string, error) {
	var resp approveResponse
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/bridge/approve", approveRequest{Amount: amount}, &resp, "approve"); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

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
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-relay-key", c.APIKey)

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
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			log.Printf("level=warn component=bridge_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=bridge_client op=%s status=%d message=%q", op, resp.StatusCode, errResp.Message)
		return &errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}
