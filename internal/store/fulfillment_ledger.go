/**
 * @description
 * The fulfillment ledger records the outcome of off-ramp fulfillment
 * attempts, keyed by the settlement transaction hash. It is the idempotency
 * guard for the withdraw-and-payout path: once a hash has a record, no
 * further external calls may be made for it, whether the first attempt
 * completed or failed. Records are immutable after creation and purged only
 * by the retention sweep.
 *
 * @dependencies
 * - sync, time: Standard Go libraries.
 * - internal/domain: FulfillmentRecord model.
 */

package store

import (
	"sync"
	"time"

	"github.com/afribridge/transfer-service/internal/domain"
)

// FulfillmentLedger is a first-write-wins map of fulfillment outcomes.
type FulfillmentLedger struct {
	mu      sync.RWMutex
	records map[string]domain.FulfillmentRecord
	now     func() time.Time
}

// NewFulfillmentLedger creates an empty ledger.
func NewFulfillmentLedger() *FulfillmentLedger {
	return &FulfillmentLedger{
		records: make(map[string]domain.FulfillmentRecord),
		now:     time.Now,
	}
}

// Get returns the record for a settlement transaction hash, if any.
func (l *FulfillmentLedger) Get(txHash string) (domain.FulfillmentRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.records[txHash]
	return record, ok
}

// Record stores a fulfillment outcome unless one already exists. It returns
// the stored record and whether this call created it; callers must not have
// performed external work when created is false.
func (l *FulfillmentLedger) Record(record domain.FulfillmentRecord) (domain.FulfillmentRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.records[record.TxHash]; ok {
		return existing, false
	}
	record.FulfilledAt = l.now()
	l.records[record.TxHash] = record
	return record, true
}

// Delete removes a record. Used by the explicit retry path to clear a failed
// attempt before re-running it; never called for completed records.
func (l *FulfillmentLedger) Delete(txHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[txHash]
	delete(l.records, txHash)
	return ok
}

// Cleanup purges records older than the retention window and returns the
// number purged. Pure storage hygiene; carries no transactional meaning.
func (l *FulfillmentLedger) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cleaned := 0
	for txHash, record := range l.records {
		if now.Sub(record.FulfilledAt) > maxAge {
			delete(l.records, txHash)
			cleaned++
		}
	}
	return cleaned
}
