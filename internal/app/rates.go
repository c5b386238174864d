/**
 * @description
 * Static currency tables: the supported collection currencies, the
 * fiat-to-USDC quote rates and the USDC-to-fiat payout rates. Rates are
 * fixed at build time; a live rate feed is a deliberate non-feature at this
 * stage.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Rate arithmetic without float drift.
 */

package app

import "github.com/shopspring/decimal"

// SupportedCurrencies lists the collection currencies in display order.
var SupportedCurrencies = []string{"KES", "NGN", "GHS", "UGX", "RWF"}

var usdcRates = map[string]decimal.Decimal{
	"KES": decimal.RequireFromString("0.0077"),
	"NGN": decimal.RequireFromString("0.0013"),
	"GHS": decimal.RequireFromString("0.085"),
	"UGX": decimal.RequireFromString("0.00027"),
	"RWF": decimal.RequireFromString("0.00082"),
}

var fallbackUSDCRate = decimal.RequireFromString("0.01")

var payoutRates = map[string]decimal.Decimal{
	"KES": decimal.NewFromInt(130),
	"NGN": decimal.NewFromInt(770),
	"GHS": decimal.NewFromInt(12),
	"UGX": decimal.NewFromInt(3700),
	"RWF": decimal.NewFromInt(1220),
}

var fallbackPayoutRate = decimal.NewFromInt(100)

// isSupportedCurrency reports whether a currency can be collected.
func isSupportedCurrency(currency string) bool {
	_, ok := usdcRates[currency]
	return ok
}

// convertToUSDC quotes a fiat amount in USDC, rounded to 2 decimal places.
func convertToUSDC(amount decimal.Decimal, currency string) decimal.Decimal {
	rate, ok := usdcRates[currency]
	if !ok {
		rate = fallbackUSDCRate
	}
	return amount.Mul(rate).Round(2)
}

// convertUSDCToFiat converts a USDC amount to a whole-unit fiat payout
// amount, rounded to the nearest unit.
func convertUSDCToFiat(amount decimal.Decimal, currency string) int64 {
	rate, ok := payoutRates[currency]
	if !ok {
		rate = fallbackPayoutRate
	}
	return amount.Mul(rate).Round(0).IntPart()
}
