package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sandbox is an in-memory billing platform used in development mode and in
// tests, the same way the database layer falls back to SQLite when no
// production DSN is configured. Purchases succeed and mint verified
// transactions unless an outcome has been scripted.
type Sandbox struct {
	mu          sync.Mutex
	now         func() time.Time
	subscribers []chan VerificationResult

	entitlements []VerificationResult
	latest       map[string]VerificationResult
	finished     map[string]int

	queuedResults []PurchaseResult
	purchaseErr   error
	syncErr       error

	hasReceipt       bool
	historySyncs     int
	entitlementCalls int
}

// NewSandbox creates a sandbox billing platform.
func NewSandbox() *Sandbox {
	return &Sandbox{
		now:      time.Now,
		latest:   make(map[string]VerificationResult),
		finished: make(map[string]int),
	}
}

// SetNow overrides the sandbox clock.
func (s *Sandbox) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FetchProducts returns catalog metadata for the known subset of ids.
func (s *Sandbox) FetchProducts(ctx context.Context, ids []string) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(ids))
	for _, id := range ids {
		p, ok := Lookup(id)
		if !ok {
			continue
		}
		p.DisplayPrice = sandboxPrice(p)
		products = append(products, p)
	}
	return products, nil
}

// Purchase returns the next scripted result, or mints a fresh verified
// transaction for the product.
func (s *Sandbox) Purchase(ctx context.Context, productID string) (PurchaseResult, error) {
	if err := ctx.Err(); err != nil {
		return PurchaseResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.purchaseErr != nil {
		return PurchaseResult{}, s.purchaseErr
	}
	if len(s.queuedResults) > 0 {
		result := s.queuedResults[0]
		s.queuedResults = s.queuedResults[1:]
		if result.State == PurchaseStateSuccess && result.Verification == nil {
			vr := s.mintLocked(productID)
			result.Verification = &vr
		}
		return result, nil
	}

	vr := s.mintLocked(productID)
	return PurchaseResult{State: PurchaseStateSuccess, Verification: &vr}, nil
}

// mintLocked creates a verified transaction and records it as the latest
// transaction (and a current entitlement, for subscriptions).
func (s *Sandbox) mintLocked(productID string) VerificationResult {
	now := s.now()
	tx := Transaction{
		ID:           uuid.NewString(),
		ProductID:    productID,
		PurchaseDate: now,
		Environment:  "sandbox",
	}
	if p, ok := Lookup(productID); ok && p.Kind == ProductKindSubscription {
		expires := now.AddDate(0, 0, 7)
		if p.Period == PeriodYearly {
			expires = now.AddDate(1, 0, 0)
		}
		tx.ExpiresDate = &expires
	}

	vr := Verified(tx)
	s.latest[productID] = vr
	if tx.ExpiresDate != nil {
		s.entitlements = append(s.entitlements, vr)
	}
	s.hasReceipt = true
	return vr
}

// TransactionUpdates returns a new independent stream subscription.
func (s *Sandbox) TransactionUpdates() <-chan VerificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan VerificationResult, 16)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// CurrentEntitlements returns the platform's current entitlement view.
func (s *Sandbox) CurrentEntitlements(ctx context.Context) ([]VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlementCalls++
	out := make([]VerificationResult, len(s.entitlements))
	copy(out, s.entitlements)
	return out, nil
}

// LatestTransaction returns the most recent transaction for a product id.
func (s *Sandbox) LatestTransaction(ctx context.Context, productID string) (*VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vr, ok := s.latest[productID]
	if !ok {
		return nil, nil
	}
	out := vr
	return &out, nil
}

// SyncPurchaseHistory simulates a platform history sync, after which a local
// receipt artifact exists.
func (s *Sandbox) SyncPurchaseHistory(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncErr != nil {
		return s.syncErr
	}
	s.historySyncs++
	s.hasReceipt = true
	return nil
}

// HasLocalReceipt reports whether a receipt artifact exists.
func (s *Sandbox) HasLocalReceipt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasReceipt
}

// Finish acknowledges a transaction. Idempotent; repeat finishes are counted
// for tests.
func (s *Sandbox) Finish(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[transactionID]++
	return nil
}

// --- scripting helpers (dev tooling and tests) ---

// QueuePurchaseResult scripts the outcome of the next Purchase call.
func (s *Sandbox) QueuePurchaseResult(result PurchaseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedResults = append(s.queuedResults, result)
}

// FailPurchases makes every Purchase call fail with err until cleared.
func (s *Sandbox) FailPurchases(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchaseErr = err
}

// FailHistorySync makes SyncPurchaseHistory fail with err until cleared.
func (s *Sandbox) FailHistorySync(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErr = err
}

// AddEntitlement injects a transaction into the current entitlement view.
func (s *Sandbox) AddEntitlement(vr VerificationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlements = append(s.entitlements, vr)
	s.latest[vr.Transaction.ProductID] = vr
}

// SetLatestTransaction records vr as the latest transaction for its product
// without adding it to the entitlement view.
func (s *Sandbox) SetLatestTransaction(vr VerificationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[vr.Transaction.ProductID] = vr
}

// DeliverUpdate pushes a transaction onto every update-stream subscription,
// simulating renewals and cross-device events. Sends never block: a
// subscription nobody drains (a closed coordinator's, say) drops the update
// once its buffer fills instead of wedging the delivery.
func (s *Sandbox) DeliverUpdate(vr VerificationResult) {
	s.mu.Lock()
	subs := make([]chan VerificationResult, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- vr:
		default:
		}
	}
}

// FinishCount reports how many times a transaction was finished.
func (s *Sandbox) FinishCount(transactionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished[transactionID]
}

// HistorySyncCount reports how many history syncs were requested.
func (s *Sandbox) HistorySyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historySyncs
}

// EntitlementCalls reports how many entitlement queries were made.
func (s *Sandbox) EntitlementCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entitlementCalls
}

func sandboxPrice(p Product) string {
	switch {
	case p.Kind == ProductKindSubscription && p.Period == PeriodYearly:
		return "$49.99"
	case p.Kind == ProductKindSubscription:
		return "$4.99"
	default:
		return fmt.Sprintf("$%d.99", p.Credits/100)
	}
}
