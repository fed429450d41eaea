package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"billing-api/internal/billing"
	"billing-api/internal/models"
	"billing-api/pkg/logging"
)

// SubscriptionCoordinator orchestrates recurring subscription purchases and
// reconciles subscription state across launches, foregrounds and restores.
type SubscriptionCoordinator struct {
	client            billing.Client
	handler           *TransactionHandler
	resolver          *EntitlementResolver
	bonus             *BonusScheduler
	events            *EventBus
	bonusIntervalDays int

	mu       sync.Mutex
	products []billing.Product
	loading  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SubscriptionOptions configures a subscription coordinator.
type SubscriptionOptions struct {
	BonusIntervalDays int
}

// NewSubscriptionCoordinator creates the coordinator and starts its
// supervised update-stream listener. Call Close to stop it.
func NewSubscriptionCoordinator(client billing.Client, handler *TransactionHandler, resolver *EntitlementResolver, bonus *BonusScheduler, events *EventBus, opts SubscriptionOptions) *SubscriptionCoordinator {
	interval := opts.BonusIntervalDays
	if interval <= 0 {
		interval = 7
	}
	c := &SubscriptionCoordinator{
		client:            client,
		handler:           handler,
		resolver:          resolver,
		bonus:             bonus,
		events:            events,
		bonusIntervalDays: interval,
		stop:              make(chan struct{}),
	}
	// Subscribe before the listener goroutine starts so updates delivered
	// immediately after construction are not lost.
	updates := client.TransactionUpdates()
	c.wg.Add(1)
	go c.observeTransactions(updates)
	return c
}

// Close stops the update-stream listener.
func (c *SubscriptionCoordinator) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// FetchCatalog loads metadata for the known subscription products, weekly
// before yearly. Guarded against concurrent re-entry; the previous catalog
// survives a failed fetch.
func (c *SubscriptionCoordinator) FetchCatalog(ctx context.Context) ([]billing.Product, error) {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil, ErrCatalogLoading
	}
	c.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	logging.Infof("fetchSubscriptionProducts: start for ids=%v", billing.SubscriptionIDs())
	products, err := c.client.FetchProducts(ctx, billing.SubscriptionIDs())
	if err != nil {
		logging.Errorf("fetchSubscriptionProducts: error=%v", err)
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}

	sort.Slice(products, func(i, j int) bool {
		return products[i].Period == billing.PeriodWeekly && products[j].Period == billing.PeriodYearly
	})

	c.mu.Lock()
	c.products = products
	c.mu.Unlock()

	logging.Infof("fetchSubscriptionProducts: success count=%d", len(products))
	return products, nil
}

// Products returns the last fetched catalog.
func (c *SubscriptionCoordinator) Products() []billing.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]billing.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Purchase initiates a subscription purchase. On a verified result the
// shared handling path credits the first period, then status is refreshed
// immediately so the premium flag and bonus eligibility are current before
// this returns. Purchasing while already subscribed is its own outcome, not
// an error.
func (c *SubscriptionCoordinator) Purchase(ctx context.Context, productID string) error {
	if !billing.IsSubscriptionProduct(productID) {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	logging.Infof("purchaseSubscription: start id=%s", productID)

	// Make sure status is current before deciding the user already has one.
	if _, err := c.resolver.Refresh(ctx); err != nil {
		logging.Errorf("purchaseSubscription: status check failed, continuing: %v", err)
	}
	if current := c.resolver.Current(); current != nil {
		logging.Warnf("purchaseSubscription: already subscribed product_id=%s", current.ProductID)
		c.events.Publish(Outcome{
			Kind:      SubscriptionAlreadyActive,
			ProductID: current.ProductID,
			Message:   fmt.Sprintf("You already have an active %s subscription.", current.Period),
		})
		return nil
	}

	result, err := c.client.Purchase(ctx, productID)
	if err != nil {
		logging.Errorf("purchaseSubscription: error=%v id=%s", err, productID)
		c.events.Publish(Outcome{
			Kind:      SubscriptionPurchaseFailed,
			ProductID: productID,
			Message:   "Purchase failed: " + err.Error(),
		})
		return fmt.Errorf("purchase failed: %w", err)
	}

	switch result.State {
	case billing.PurchaseStateSuccess:
		if err := c.handler.Handle(ctx, *result.Verification, models.CreditSourceSubscription, SubscriptionPurchaseSucceeded, SubscriptionPurchaseFailed); err != nil {
			return err
		}
		if _, err := c.RefreshStatus(ctx, false); err != nil {
			logging.Errorf("purchaseSubscription: post-purchase refresh failed: %v", err)
		}

	case billing.PurchaseStateCancelled:
		logging.Warnf("purchaseSubscription: user cancelled for id=%s", productID)
		c.events.Publish(Outcome{Kind: SubscriptionPurchaseCancelled, ProductID: productID})

	case billing.PurchaseStatePending:
		logging.Infof("purchaseSubscription: pending for id=%s", productID)
		c.events.Publish(Outcome{Kind: SubscriptionPurchasePending, ProductID: productID})
	}
	return nil
}

// RefreshStatus is the top-level reconciliation entry point, called on
// launch, on foreground, and after any purchase or restore. When forceSync
// is set or no local receipt artifact exists yet, purchase history is synced
// first so the entitlement query has something to work with; a sync failure
// degrades to a plain query rather than aborting.
func (c *SubscriptionCoordinator) RefreshStatus(ctx context.Context, forceSync bool) (*ActiveSubscription, error) {
	if forceSync || !c.client.HasLocalReceipt() {
		if err := c.client.SyncPurchaseHistory(ctx); err != nil {
			logging.Errorf("refreshStatus: history sync failed, querying anyway: %v", err)
		}
	}

	sub, err := c.resolver.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	if sub != nil {
		if _, err := c.bonus.CheckAndGrant(ctx, true, sub.CreditsPerPeriod, c.bonusIntervalDays); err != nil {
			logging.Errorf("refreshStatus: bonus check failed: %v", err)
		}
	}
	return sub, nil
}

// Current returns the last resolved subscription, if any.
func (c *SubscriptionCoordinator) Current() *ActiveSubscription {
	return c.resolver.Current()
}

// RestorePurchases forces a platform-level history sync, then re-resolves
// subscription status.
func (c *SubscriptionCoordinator) RestorePurchases(ctx context.Context) error {
	logging.Infof("restorePurchases: start")
	if err := c.client.SyncPurchaseHistory(ctx); err != nil {
		logging.Errorf("restorePurchases: error=%v", err)
		c.events.Publish(Outcome{
			Kind:    RestoreFailed,
			Message: "Restore failed: " + err.Error(),
		})
		return fmt.Errorf("restore failed: %w", err)
	}

	if _, err := c.RefreshStatus(ctx, false); err != nil {
		c.events.Publish(Outcome{
			Kind:    RestoreFailed,
			Message: "Restore failed: " + err.Error(),
		})
		return err
	}

	logging.Infof("restorePurchases: success")
	c.events.Publish(Outcome{Kind: RestoreSucceeded})
	return nil
}

// observeTransactions drains the async transaction stream for subscription
// products. Each envelope runs the shared handling path, then status is
// re-resolved so renewals update premium state. The listener restarts if the
// stream ends unexpectedly.
func (c *SubscriptionCoordinator) observeTransactions(updates <-chan billing.VerificationResult) {
	defer c.wg.Done()
	logging.Infof("subscriptionObserver: start listening to transaction updates")

	for {
	drain:
		for {
			select {
			case <-c.stop:
				return
			case vr, ok := <-updates:
				if !ok {
					break drain
				}
				if !billing.IsSubscriptionProduct(vr.Transaction.ProductID) {
					continue
				}
				ctx := context.Background()
				if err := c.handler.Handle(ctx, vr, models.CreditSourceSubscription, SubscriptionPurchaseSucceeded, ""); err != nil {
					logging.Errorf("subscriptionObserver: failed to handle transaction id=%s: %v", vr.Transaction.ID, err)
					continue
				}
				if _, err := c.RefreshStatus(ctx, false); err != nil {
					logging.Errorf("subscriptionObserver: refresh after update failed: %v", err)
				}
			}
		}

		logging.Warnf("subscriptionObserver: update stream ended, restarting in %s", listenerRestartDelay)
		select {
		case <-c.stop:
			return
		case <-time.After(listenerRestartDelay):
		}
		updates = c.client.TransactionUpdates()
	}
}
