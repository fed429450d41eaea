package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"billing-api/internal/billing"
	"billing-api/pkg/logging"
)

// ActiveSubscription is the resolved best active subscription. It is derived
// state: recomputed wholesale on every refresh, never mutated in place.
type ActiveSubscription struct {
	ProductID        string         `json:"product_id"`
	Period           billing.Period `json:"period"`
	CreditsPerPeriod int            `json:"credits_per_period"`
	ExpiresDate      *time.Time     `json:"expires_date,omitempty"`
	WillAutoRenew    bool           `json:"will_auto_renew"`
}

// EntitlementResolver computes the single best active subscription from the
// platform's transaction views.
type EntitlementResolver struct {
	client     billing.Client
	ledger     *CreditLedger
	syncer     ProfileSyncer
	retryDelay time.Duration
	now        func() time.Time

	// refreshMu serializes Refresh; mu guards only current, so readers
	// never wait out the query phase or the retry sleep.
	refreshMu sync.Mutex
	mu        sync.Mutex
	current   *ActiveSubscription
}

// ResolverOptions configures an entitlement resolver.
type ResolverOptions struct {
	// RetryDelay is the single fixed delay before re-querying an empty
	// entitlement view (sandbox propagation lag). Zero disables the retry.
	RetryDelay time.Duration
	Now        func() time.Time
}

// NewEntitlementResolver creates a resolver.
func NewEntitlementResolver(client billing.Client, ledger *CreditLedger, syncer ProfileSyncer, opts ResolverOptions) *EntitlementResolver {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &EntitlementResolver{
		client:     client,
		ledger:     ledger,
		syncer:     syncer,
		retryDelay: opts.RetryDelay,
		now:        nowFn,
	}
}

// Current returns the last resolved subscription, if any.
func (r *EntitlementResolver) Current() *ActiveSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	sub := *r.current
	return &sub
}

// Refresh recomputes the active subscription from the platform:
//  1. scan the current entitlement view for known subscription products;
//  2. if empty, fall back to the latest transaction per known product id;
//  3. if the entitlement view itself was empty, retry once after a short
//     fixed delay before concluding there is no subscription;
//  4. pick the candidate with the latest expiry (no expiry wins outright,
//     ties keep the existing selection).
//
// The premium flag is set or cleared accordingly, and the profile is synced
// only when a remote profile already exists; a status check never creates
// one.
func (r *EntitlementResolver) Refresh(ctx context.Context) (*ActiveSubscription, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	entitlements, err := r.client.CurrentEntitlements(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlements: %w", err)
	}

	now := r.now()
	candidates := r.candidatesFromEntitlements(entitlements, now)
	if len(candidates) == 0 {
		candidates = r.candidatesFromLatest(ctx, now)
	}

	if len(candidates) == 0 && len(entitlements) == 0 && r.retryDelay > 0 {
		logging.Infof("checkSubscriptionStatus: entitlement view empty, retrying after %s", r.retryDelay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}

		entitlements, err = r.client.CurrentEntitlements(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query entitlements: %w", err)
		}
		now = r.now()
		candidates = r.candidatesFromEntitlements(entitlements, now)
		if len(candidates) == 0 {
			candidates = r.candidatesFromLatest(ctx, now)
		}
	}

	r.mu.Lock()
	best := r.selectBestLocked(candidates)
	r.current = best
	r.mu.Unlock()

	if best != nil {
		logging.Infof("checkSubscriptionStatus: active subscription product_id=%s period=%s", best.ProductID, best.Period)
		if err := r.ledger.SetPremium(true); err != nil {
			logging.Errorf("Failed to set premium flag: %v", err)
		}
	} else {
		logging.Infof("checkSubscriptionStatus: no active subscription found")
		if err := r.ledger.SetPremium(false); err != nil {
			logging.Errorf("Failed to clear premium flag: %v", err)
		}
	}

	// Sync only when a remote profile already exists; a status check never
	// creates one.
	profileID := r.ledger.ProfileID()
	if r.syncer != nil && r.syncer.HasRemoteProfile(ctx, profileID) {
		if err := r.syncer.Push(ctx, r.ledger.Snapshot()); err != nil {
			logging.Errorf("Failed to sync profile after status check: %v", err)
		}
	}

	if best == nil {
		return nil, nil
	}
	sub := *best
	return &sub, nil
}

func (r *EntitlementResolver) candidatesFromEntitlements(entitlements []billing.VerificationResult, now time.Time) []ActiveSubscription {
	var candidates []ActiveSubscription
	for _, vr := range entitlements {
		if !vr.Verified {
			logging.Warnf("checkSubscriptionStatus: unverified entitlement transaction id=%s reason=%s", vr.Transaction.ID, vr.Reason)
			continue
		}
		if sub, ok := subscriptionCandidate(vr.Transaction, now); ok {
			candidates = append(candidates, sub)
		}
	}
	return candidates
}

// candidatesFromLatest queries the latest transaction per known subscription
// product. This catches entitlements the platform's aggregate view misses.
func (r *EntitlementResolver) candidatesFromLatest(ctx context.Context, now time.Time) []ActiveSubscription {
	var candidates []ActiveSubscription
	for _, productID := range billing.SubscriptionIDs() {
		vr, err := r.client.LatestTransaction(ctx, productID)
		if err != nil {
			logging.Errorf("checkSubscriptionStatus: latest transaction query failed product_id=%s: %v", productID, err)
			continue
		}
		if vr == nil || !vr.Verified {
			continue
		}
		if sub, ok := subscriptionCandidate(vr.Transaction, now); ok {
			candidates = append(candidates, sub)
		}
	}
	return candidates
}

// subscriptionCandidate builds a candidate from a transaction if it names a
// known subscription product and still grants access: unexpired (no expiry
// means perpetual) and not revoked.
func subscriptionCandidate(tx billing.Transaction, now time.Time) (ActiveSubscription, bool) {
	product, ok := billing.Lookup(tx.ProductID)
	if !ok || product.Kind != billing.ProductKindSubscription {
		return ActiveSubscription{}, false
	}
	if !tx.IsActiveAt(now) {
		return ActiveSubscription{}, false
	}
	return ActiveSubscription{
		ProductID:        product.ID,
		Period:           product.Period,
		CreditsPerPeriod: product.CreditsPerPeriod,
		ExpiresDate:      tx.ExpiresDate,
		WillAutoRenew:    true,
	}, true
}

// selectBestLocked picks the candidate with the latest expiry. A nil expiry
// sorts as latest of all. Ties keep the already-chosen subscription.
func (r *EntitlementResolver) selectBestLocked(candidates []ActiveSubscription) *ActiveSubscription {
	var best *ActiveSubscription

	if r.current != nil {
		for i := range candidates {
			if candidates[i].ProductID == r.current.ProductID {
				best = &candidates[i]
				break
			}
		}
	}

	for i := range candidates {
		c := &candidates[i]
		if best == nil || expiresAfter(c.ExpiresDate, best.ExpiresDate) {
			best = c
		}
	}

	if best == nil {
		return nil
	}
	sub := *best
	return &sub
}

// expiresAfter reports whether expiry a sorts strictly later than b, with nil
// meaning non-expiring.
func expiresAfter(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.After(*b)
}
