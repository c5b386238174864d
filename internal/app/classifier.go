/**
 * @description
 * Failure classification for transfer errors. Call sites that know which
 * subsystem failed tag the category directly; this substring matcher is the
 * fallback for untagged errors. Only payment and blockchain failures are
 * user-retryable; network failures surface a retry hint but route through
 * the same two recovery paths, and unknown failures are terminal.
 *
 * @dependencies
 * - strings: Standard Go library.
 * - internal/domain: ErrorCategory enum.
 */

package app

import (
	"strings"

	"github.com/afribridge/transfer-service/internal/domain"
)

var errorCategoryMarkers = []struct {
	category domain.ErrorCategory
	markers  []string
}{
	{domain.ErrorCategoryPayment, []string{"payment", "flutterwave", "charge"}},
	{domain.ErrorCategoryBlockchain, []string{"blockchain", "transaction", "gas", "revert"}},
	{domain.ErrorCategoryNetwork, []string{"network", "timeout", "connection refused", "no such host"}},
}

// CategorizeError maps an error message to a failure category by substring
// match. Categories are checked in priority order; first match wins.
func CategorizeError(message string) domain.ErrorCategory {
	lower := strings.ToLower(message)
	for _, entry := range errorCategoryMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(lower, marker) {
				return entry.category
			}
		}
	}
	return domain.ErrorCategoryUnknown
}

// IsRetryable reports whether a failure category supports user-driven retry.
func IsRetryable(category domain.ErrorCategory) bool {
	switch category {
	case domain.ErrorCategoryPayment, domain.ErrorCategoryBlockchain, domain.ErrorCategoryNetwork:
		return true
	default:
		return false
	}
}
