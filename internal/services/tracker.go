package services

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// processedTransactionCapacity bounds the dedup set. The platform does not
// redeliver indefinitely-old transactions, so evicting the least recently
// seen ids is safe.
const processedTransactionCapacity = 100

// ProcessedTransactionTracker is the bounded dedup set guarding against
// double-crediting a transaction id. It is scoped to a single process
// lifetime: a restart loses the set, and redelivery of a transaction that was
// credited but not yet finished before a crash would credit again. That gap
// is accepted; the real fix is server-side idempotent crediting.
type ProcessedTransactionTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewProcessedTransactionTracker creates a tracker with the default capacity.
func NewProcessedTransactionTracker() *ProcessedTransactionTracker {
	cache, err := lru.New[string, time.Time](processedTransactionCapacity)
	if err != nil {
		// lru.New only errors on a non-positive size.
		panic(err)
	}
	return &ProcessedTransactionTracker{cache: cache}
}

// TryMarkProcessed records the transaction id and returns true only on first
// sight. This is the single atomic check-and-set that makes the synchronous
// purchase path and the async update stream safe to race.
func (t *ProcessedTransactionTracker) TryMarkProcessed(transactionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cache.Contains(transactionID) {
		return false
	}
	t.cache.Add(transactionID, time.Now())
	return true
}

// Unmark removes an id so a redelivery can be processed again. Used when
// crediting fails after the id was marked; the transaction stays unfinished
// and must not be treated as a duplicate when the platform retries it.
func (t *ProcessedTransactionTracker) Unmark(transactionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(transactionID)
}

// Len reports the retained set size.
func (t *ProcessedTransactionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

// Contains reports whether an id has been processed this session.
func (t *ProcessedTransactionTracker) Contains(transactionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Contains(transactionID)
}
