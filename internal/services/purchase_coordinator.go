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

// listenerRestartDelay is the pause before resubscribing to a transaction
// update stream that ended unexpectedly.
const listenerRestartDelay = time.Second

// PurchaseCoordinator orchestrates consumable credit purchases: catalog
// fetch, purchase initiation, and the background update-stream listener that
// delivers renewals, family sharing and cross-device purchases.
type PurchaseCoordinator struct {
	client  billing.Client
	handler *TransactionHandler
	events  *EventBus

	mu       sync.Mutex
	products []billing.Product
	loading  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPurchaseCoordinator creates the coordinator and starts its supervised
// update-stream listener. Call Close to stop it.
func NewPurchaseCoordinator(client billing.Client, handler *TransactionHandler, events *EventBus) *PurchaseCoordinator {
	c := &PurchaseCoordinator{
		client:  client,
		handler: handler,
		events:  events,
		stop:    make(chan struct{}),
	}
	// Subscribe before the listener goroutine starts so updates delivered
	// immediately after construction are not lost.
	updates := client.TransactionUpdates()
	c.wg.Add(1)
	go c.observeTransactions(updates)
	return c
}

// Close stops the update-stream listener.
func (c *PurchaseCoordinator) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// FetchCatalog loads metadata for the known consumable products. Guarded
// against concurrent re-entry; on failure the previous catalog stays intact
// and the caller may simply retry.
func (c *PurchaseCoordinator) FetchCatalog(ctx context.Context) ([]billing.Product, error) {
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

	logging.Infof("fetchProducts: start for ids=%v", billing.ConsumableIDs())
	products, err := c.client.FetchProducts(ctx, billing.ConsumableIDs())
	if err != nil {
		logging.Errorf("fetchProducts: error=%v", err)
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	if len(products) == 0 {
		logging.Warnf("fetchProducts: products list is empty")
	}

	c.mu.Lock()
	c.products = products
	c.mu.Unlock()

	logging.Infof("fetchProducts: success count=%d", len(products))
	return products, nil
}

// Products returns the last fetched catalog.
func (c *PurchaseCoordinator) Products() []billing.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]billing.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Purchase initiates a consumable purchase. A verified synchronous result
// goes through the shared handling path; cancellation and pending states are
// emitted as their own outcomes, never as failures.
func (c *PurchaseCoordinator) Purchase(ctx context.Context, productID string) error {
	if !billing.IsConsumableProduct(productID) {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	logging.Infof("purchaseProduct: start id=%s", productID)
	result, err := c.client.Purchase(ctx, productID)
	if err != nil {
		logging.Errorf("purchaseProduct: error=%v id=%s", err, productID)
		c.events.Publish(Outcome{
			Kind:      PurchaseFailed,
			ProductID: productID,
			Message:   "Purchase failed: " + err.Error(),
		})
		return fmt.Errorf("purchase failed: %w", err)
	}

	switch result.State {
	case billing.PurchaseStateSuccess:
		return c.handler.Handle(ctx, *result.Verification, models.CreditSourcePurchase, PurchaseSucceeded, PurchaseFailed)

	case billing.PurchaseStateCancelled:
		logging.Warnf("purchaseProduct: user cancelled for id=%s", productID)
		c.events.Publish(Outcome{Kind: PurchaseCancelled, ProductID: productID})

	case billing.PurchaseStatePending:
		logging.Infof("purchaseProduct: pending for id=%s", productID)
		c.events.Publish(Outcome{Kind: PurchasePending, ProductID: productID})
	}
	return nil
}

// observeTransactions drains the async transaction stream for consumable
// products, feeding each envelope through the shared handling path. If the
// stream ends it is resubscribed after a short delay rather than silently
// dying.
func (c *PurchaseCoordinator) observeTransactions(updates <-chan billing.VerificationResult) {
	defer c.wg.Done()
	logging.Infof("txObserver: start listening to transaction updates")

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
				if !billing.IsConsumableProduct(vr.Transaction.ProductID) {
					// Subscription products belong to the subscription
					// coordinator's listener.
					continue
				}
				if err := c.handler.Handle(context.Background(), vr, models.CreditSourcePurchase, PurchaseSucceeded, ""); err != nil {
					logging.Errorf("txObserver: failed to handle transaction id=%s: %v", vr.Transaction.ID, err)
				}
			}
		}

		logging.Warnf("txObserver: update stream ended, restarting in %s", listenerRestartDelay)
		select {
		case <-c.stop:
			return
		case <-time.After(listenerRestartDelay):
		}
		updates = c.client.TransactionUpdates()
	}
}
