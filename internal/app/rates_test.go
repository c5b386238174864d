package app

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestConvertToUSDC(t *testing.T) {
	cases := []struct {
		amount   int64
		currency string
		want     string
	}{
		{1000, "KES", "7.7"},
		{10000, "NGN", "13"},
		{100, "GHS", "8.5"},
		{100000, "UGX", "27"},
		{10000, "RWF", "8.2"},
		{1000, "ZZZ", "10"}, // fallback rate
	}

	for _, tc := range cases {
		got := convertToUSDC(decimal.NewFromInt(tc.amount), tc.currency)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%d %s: expected %s USDC, got %s", tc.amount, tc.currency, tc.want, got)
		}
	}
}

func TestConvertToUSDCRoundsToCents(t *testing.T) {
	got := convertToUSDC(decimal.NewFromInt(123), "KES")
	// 123 * 0.0077 = 0.9471, rounded to 0.95
	if !got.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("expected 0.95, got %s", got)
	}
}

func TestConvertUSDCToFiat(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"10", "KES", 1300},
		{"10", "NGN", 7700},
		{"10", "GHS", 120},
		{"10", "UGX", 37000},
		{"10", "RWF", 12200},
		{"10", "ZZZ", 1000}, // fallback rate
		{"7.7", "KES", 1001},
	}

	for _, tc := range cases {
		got := convertUSDCToFiat(decimal.RequireFromString(tc.amount), tc.currency)
		if got != tc.want {
			t.Fatalf("%s USDC to %s: expected %d, got %d", tc.amount, tc.currency, tc.want, got)
		}
	}
}

func TestSupportedCurrencies(t *testing.T) {
	for _, currency := range SupportedCurrencies {
		if !isSupportedCurrency(currency) {
			t.Fatalf("%s listed but not supported", currency)
		}
	}
	if isSupportedCurrency("USD") {
		t.Fatal("USD must not be a collection currency")
	}
}
