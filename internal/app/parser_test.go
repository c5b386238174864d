package app

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseRemittanceMessage(t *testing.T) {
	cases := []struct {
		in        string
		amount    string
		currency  string
		recipient string
	}{
		{"Send 1000 KES to +254712345678", "1000", "KES", "+254712345678"},
		{"send 50.5 ghs to 233201234567", "50.5", "GHS", "233201234567"},
		{"Transfer 2000 NGN to +2348012345678", "2000", "NGN", "+2348012345678"},
		{"Please 750 UGX to +256700123456", "750", "UGX", "+256700123456"},
	}

	for _, tc := range cases {
		intent, ok := parseRemittanceMessage(tc.in)
		if !ok {
			t.Fatalf("failed to parse %q", tc.in)
		}
		if !intent.Amount.Equal(decimal.RequireFromString(tc.amount)) {
			t.Fatalf("%q: expected amount %s, got %s", tc.in, tc.amount, intent.Amount)
		}
		if intent.Currency != tc.currency {
			t.Fatalf("%q: expected currency %s, got %s", tc.in, tc.currency, intent.Currency)
		}
		if intent.RecipientPhone != tc.recipient {
			t.Fatalf("%q: expected recipient %s, got %s", tc.in, tc.recipient, intent.RecipientPhone)
		}
	}
}

func TestParseRemittanceMessageRejectsChatter(t *testing.T) {
	for _, in := range []string{"hello there", "send money please", "how much to kenya?"} {
		if _, ok := parseRemittanceMessage(in); ok {
			t.Fatalf("unexpectedly parsed %q as a transfer", in)
		}
	}
}

func TestParseAmount(t *testing.T) {
	amount, currency, ok := parseAmount("I want to send 1500 kes today")
	if !ok {
		t.Fatal("failed to parse amount")
	}
	if !amount.Equal(decimal.NewFromInt(1500)) || currency != "KES" {
		t.Fatalf("got %s %s", amount, currency)
	}

	if _, _, ok := parseAmount("no numbers here"); ok {
		t.Fatal("parsed an amount from chatter")
	}
}

func TestParsePhone(t *testing.T) {
	phone, ok := parsePhone("it's +254712345678 thanks")
	if !ok || phone != "+254712345678" {
		t.Fatalf("got %q ok=%t", phone, ok)
	}

	if _, ok := parsePhone("12345"); ok {
		t.Fatal("accepted a number that is too short")
	}
}

func TestGenerateTxRefShape(t *testing.T) {
	ref := generateTxRef()
	if !strings.HasPrefix(ref, "AFRIB-") {
		t.Fatalf("unexpected prefix: %s", ref)
	}
	if ref == generateTxRef() {
		t.Fatal("references must be unique")
	}
}

func TestPartyHelpers(t *testing.T) {
	if got := cleanPhone("whatsapp:+254712345678"); got != "254712345678" {
		t.Fatalf("cleanPhone: %s", got)
	}
	if got := partyPhone("whatsapp:+254712345678"); got != "+254712345678" {
		t.Fatalf("partyPhone: %s", got)
	}
	if got := partyEmail("whatsapp:+254712345678"); got != "254712345678@afribridge.app" {
		t.Fatalf("partyEmail: %s", got)
	}
}
