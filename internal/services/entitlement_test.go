package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"billing-api/internal/billing"
	"billing-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSyncer is an in-memory ProfileSyncer for tests.
type memSyncer struct {
	mu        sync.Mutex
	hasRemote bool
	pushes    []models.Profile
	pushErr   error
}

func (s *memSyncer) HasRemoteProfile(ctx context.Context, profileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasRemote
}

func (s *memSyncer) Push(ctx context.Context, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushes = append(s.pushes, profile)
	return nil
}

func (s *memSyncer) pushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushes)
}

func subscriptionTx(id, productID string, expires *time.Time) billing.Transaction {
	return billing.Transaction{
		ID:           id,
		ProductID:    productID,
		PurchaseDate: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		ExpiresDate:  expires,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func newTestResolver(t *testing.T, sandbox *billing.Sandbox, now time.Time, retryDelay time.Duration) (*EntitlementResolver, *CreditLedger, *memSyncer) {
	t.Helper()
	ledger, _ := newTestLedger(t)
	syncer := &memSyncer{}
	resolver := NewEntitlementResolver(sandbox, ledger, syncer, ResolverOptions{
		RetryDelay: retryDelay,
		Now:        func() time.Time { return now },
	})
	return resolver, ledger, syncer
}

func TestResolverPicksLatestExpiry(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly,
		timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))))
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-y", billing.ProductPremiumYearly,
		timePtr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))))

	resolver, ledger, _ := newTestResolver(t, sandbox, now, 0)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, billing.ProductPremiumYearly, sub.ProductID)
	assert.Equal(t, billing.PeriodYearly, sub.Period)
	assert.True(t, ledger.IsPremium())

	// Same inputs resolve to the same answer.
	again, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, sub.ProductID, again.ProductID)
}

func TestResolverNilExpiryWins(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-y", billing.ProductPremiumYearly,
		timePtr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))))
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly, nil)))

	resolver, _, _ := newTestResolver(t, sandbox, now, 0)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, billing.ProductPremiumWeekly, sub.ProductID, "non-expiring entitlement outranks any dated expiry")
	assert.Nil(t, sub.ExpiresDate)
}

func TestResolverSkipsRevokedAndExpired(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	revoked := subscriptionTx("tx-y", billing.ProductPremiumYearly,
		timePtr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	revoked.RevocationDate = timePtr(time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC))

	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Verified(revoked))
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-old", billing.ProductPremiumWeekly,
		timePtr(time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)))))
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly,
		timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))))

	resolver, _, _ := newTestResolver(t, sandbox, now, 0)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, billing.ProductPremiumWeekly, sub.ProductID, "revocation overrides an unexpired window")
}

func TestResolverIgnoresUnverifiedEntitlements(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Unverified(subscriptionTx("tx-y", billing.ProductPremiumYearly,
		timePtr(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))), "signature mismatch"))

	resolver, ledger, _ := newTestResolver(t, sandbox, now, 0)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.False(t, ledger.IsPremium())
}

func TestResolverFallsBackToLatestTransactions(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	// Latest-transaction view knows about the subscription; the aggregate
	// entitlement view does not.
	sandbox.SetLatestTransaction(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly,
		timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))))

	resolver, ledger, _ := newTestResolver(t, sandbox, now, 5*time.Millisecond)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, billing.ProductPremiumWeekly, sub.ProductID)
	assert.True(t, ledger.IsPremium())
	assert.Equal(t, 1, sandbox.EntitlementCalls(), "fallback hit means no empty-view retry")
}

func TestResolverRetriesOnceWhenViewEmpty(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()

	resolver, ledger, _ := newTestResolver(t, sandbox, now, 5*time.Millisecond)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.False(t, ledger.IsPremium())
	assert.Equal(t, 2, sandbox.EntitlementCalls(), "empty view is re-queried exactly once")
}

func TestResolverCurrentDoesNotBlockDuringRefresh(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	resolver, _, _ := newTestResolver(t, sandbox, now, 500*time.Millisecond)

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		_, _ = resolver.Refresh(context.Background())
	}()

	// Let the refresh reach its empty-view retry wait.
	time.Sleep(50 * time.Millisecond)

	read := make(chan *ActiveSubscription, 1)
	go func() { read <- resolver.Current() }()

	select {
	case sub := <-read:
		assert.Nil(t, sub)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Current blocked while a refresh was in flight")
	}

	<-refreshDone
}

func TestResolverTieKeepsExistingSelection(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	expiry := timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly, expiry)))

	resolver, _, _ := newTestResolver(t, sandbox, now, 0)

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, billing.ProductPremiumWeekly, sub.ProductID)

	// A second candidate with the identical expiry must not flip the choice.
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-y", billing.ProductPremiumYearly, expiry)))

	sub, err = resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, billing.ProductPremiumWeekly, sub.ProductID)
}

func TestResolverClearsPremiumWhenLapsed(t *testing.T) {
	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly,
		timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))))

	ledger, _ := newTestLedger(t)
	syncer := &memSyncer{}
	clock := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	resolver := NewEntitlementResolver(sandbox, ledger, syncer, ResolverOptions{
		Now: func() time.Time { return clock },
	})

	sub, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.True(t, ledger.IsPremium())

	clock = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub, err = resolver.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.False(t, ledger.IsPremium())
	assert.Nil(t, resolver.Current())
}

func TestResolverSyncsOnlyWhenRemoteProfileExists(t *testing.T) {
	now := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	sandbox := billing.NewSandbox()
	sandbox.AddEntitlement(billing.Verified(subscriptionTx("tx-w", billing.ProductPremiumWeekly,
		timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))))

	resolver, _, syncer := newTestResolver(t, sandbox, now, 0)

	_, err := resolver.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, syncer.pushCount(), "a status check must not create a remote profile")

	syncer.hasRemote = true
	_, err = resolver.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, syncer.pushCount())
}
