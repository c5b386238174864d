/**
 * @description
 * Message parsing for the conversational flow: the quick-send remittance
 * patterns, the amount and phone fragments used by the step-by-step flow,
 * and transaction reference generation.
 *
 * @dependencies
 * - fmt, regexp, strings, time: Standard Go libraries.
 * - github.com/google/uuid: Reference suffixes.
 * - github.com/shopspring/decimal: Parsed amounts.
 */

package app

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var remittancePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)send\s+(\d+(?:\.\d+)?)\s*([a-z]{3})\s+to\s+(\+?\d+)`),
	regexp.MustCompile(`(?i)transfer\s+(\d+(?:\.\d+)?)\s*([a-z]{3})\s+to\s+(\+?\d+)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([a-z]{3})\s+to\s+(\+?\d+)`),
}

var (
	amountPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([a-z]{3})`)
	phonePattern  = regexp.MustCompile(`\+?\d{10,15}`)
)

// remittanceIntent is a fully specified transfer parsed from one message.
type remittanceIntent struct {
	Amount         decimal.Decimal
	Currency       string
	RecipientPhone string
}

// parseRemittanceMessage extracts amount, currency and recipient from a
// quick-send message like "Send 1000 KES to +254712345678".
func parseRemittanceMessage(text string) (remittanceIntent, bool) {
	for _, pattern := range remittancePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		amount, err := decimal.NewFromString(match[1])
		if err != nil {
			continue
		}
		return remittanceIntent{
			Amount:         amount,
			Currency:       strings.ToUpper(match[2]),
			RecipientPhone: match[3],
		}, true
	}
	return remittanceIntent{}, false
}

// parseAmount extracts an amount-plus-currency pair from a message.
func parseAmount(text string) (decimal.Decimal, string, bool) {
	match := amountPattern.FindStringSubmatch(text)
	if match == nil {
		return decimal.Decimal{}, "", false
	}
	amount, err := decimal.NewFromString(match[1])
	if err != nil {
		return decimal.Decimal{}, "", false
	}
	return amount, strings.ToUpper(match[2]), true
}

// parsePhone extracts a recipient phone number with country code.
func parsePhone(text string) (string, bool) {
	match := phonePattern.FindString(text)
	return match, match != ""
}

// generateTxRef allocates a globally unique transaction reference. The
// reference doubles as the idempotency key for the fiat leg.
func generateTxRef() string {
	return fmt.Sprintf("AFRIB-%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

// generatePayoutRef allocates a reference for an off-ramp payout.
func generatePayoutRef() string {
	return fmt.Sprintf("AFRIB-PAYOUT-%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

// cleanPhone strips the transport prefix and plus sign from a party id,
// leaving the bare digits the payment provider expects.
func cleanPhone(partyID string) string {
	return strings.ReplaceAll(strings.ReplaceAll(partyID, "whatsapp:", ""), "+", "")
}

// partyEmail derives the synthetic charge email for a party.
func partyEmail(partyID string) string {
	return cleanPhone(partyID) + "@afribridge.app"
}

// partyPhone strips only the transport prefix, keeping the country code.
func partyPhone(partyID string) string {
	return strings.ReplaceAll(partyID, "whatsapp:", "")
}
