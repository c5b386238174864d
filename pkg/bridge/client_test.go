package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFiatRefMemoRoundTrip(t *testing.T) {
	ref := FiatRef{
		TxRef:          "AFRIB-1-abc",
		Amount:         decimal.NewFromInt(1000),
		Currency:       "KES",
		RecipientPhone: "+254712345678",
	}

	memo := ref.Memo()
	if memo != "AFRIB-1-abc|1000KES|+254712345678" {
		t.Fatalf("unexpected memo: %s", memo)
	}

	parsed, err := ParseFiatRef(memo)
	if err != nil {
		t.Fatalf("ParseFiatRef failed: %v", err)
	}
	if parsed.TxRef != ref.TxRef || parsed.Currency != ref.Currency || parsed.RecipientPhone != ref.RecipientPhone {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
	if !parsed.Amount.Equal(ref.Amount) {
		t.Fatalf("amount mismatch: %s", parsed.Amount)
	}
}

func TestParseFiatRefRejectsMalformedMemos(t *testing.T) {
	for _, memo := range []string{"", "a|b", "a|b|c|d", "ref|KE|phone"} {
		if _, err := ParseFiatRef(memo); err == nil {
			t.Fatalf("expected error for memo %q", memo)
		}
	}
}

func TestDeposit(t *testing.T) {
	var gotKey string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bridge/deposit" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotKey = r.Header.Get("x-relay-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"tx_hash":"0xdeadbeef","block_number":42,"gas_used":"21000"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "relay-key")
	receipt, err := client.Deposit(context.Background(), decimal.RequireFromString("7.7"), "0xrecipient", FiatRef{
		TxRef:          "AFRIB-1-abc",
		Amount:         decimal.NewFromInt(1000),
		Currency:       "KES",
		RecipientPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if gotKey != "relay-key" {
		t.Fatalf("unexpected relay key: %s", gotKey)
	}
	if gotBody["fiat_ref"] != "AFRIB-1-abc|1000KES|+254712345678" {
		t.Fatalf("unexpected fiat ref: %v", gotBody["fiat_ref"])
	}
	if receipt.TxHash != "0xdeadbeef" || receipt.BlockNumber != 42 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestDepositRelayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"execution reverted"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "relay-key")
	_, err := client.Deposit(context.Background(), decimal.NewFromInt(1), "0xrecipient", FiatRef{TxRef: "r", Amount: decimal.NewFromInt(1), Currency: "KES", RecipientPhone: "p"})
	if err == nil {
		t.Fatal("expected an error for a 502 response")
	}
	relayErr, ok := err.(*ErrorResponse)
	if !ok {
		t.Fatalf("expected *ErrorResponse, got %T", err)
	}
	if relayErr.Message != "execution reverted" {
		t.Fatalf("unexpected message: %s", relayErr.Message)
	}
}

func TestContractBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance":"5000.25","balance_wei":"5000250000"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "relay-key")
	balance, err := client.ContractBalance(context.Background())
	if err != nil {
		t.Fatalf("ContractBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.RequireFromString("5000.25")) {
		t.Fatalf("unexpected balance: %s", balance.Balance)
	}
}
