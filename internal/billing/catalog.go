package billing

import (
	"context"
	"fmt"

	"billing-api/pkg/logging"
)

// Known product ids. The catalog is a closed set; verified transactions for
// ids outside it are logged and dropped without crediting.
const (
	ProductCredits500  = "app.credits.500"
	ProductCredits1000 = "app.credits.1000"
	ProductCredits5000 = "app.credits.5000"

	ProductPremiumWeekly = "app.premium.weekly"
	ProductPremiumYearly = "app.premium.yearly"
)

var catalog = map[string]Product{
	ProductCredits500: {
		ID:      ProductCredits500,
		Kind:    ProductKindConsumable,
		Credits: 500,
	},
	ProductCredits1000: {
		ID:      ProductCredits1000,
		Kind:    ProductKindConsumable,
		Credits: 1000,
	},
	ProductCredits5000: {
		ID:      ProductCredits5000,
		Kind:    ProductKindConsumable,
		Credits: 5000,
	},
	ProductPremiumWeekly: {
		ID:               ProductPremiumWeekly,
		Kind:             ProductKindSubscription,
		Period:           PeriodWeekly,
		CreditsPerPeriod: 1000,
	},
	ProductPremiumYearly: {
		ID:               ProductPremiumYearly,
		Kind:             ProductKindSubscription,
		Period:           PeriodYearly,
		CreditsPerPeriod: 1000,
	},
}

// Lookup resolves a product id against the static catalog.
func Lookup(id string) (Product, bool) {
	p, ok := catalog[id]
	return p, ok
}

// ConsumableIDs returns the known consumable product ids.
func ConsumableIDs() []string {
	return idsOfKind(ProductKindConsumable)
}

// SubscriptionIDs returns the known subscription product ids.
func SubscriptionIDs() []string {
	return idsOfKind(ProductKindSubscription)
}

// AllIDs returns every known product id.
func AllIDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	return ids
}

func idsOfKind(kind ProductKind) []string {
	ids := make([]string, 0, len(catalog))
	for id, p := range catalog {
		if p.Kind == kind {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsSubscriptionProduct reports whether the id names a known subscription.
func IsSubscriptionProduct(id string) bool {
	p, ok := catalog[id]
	return ok && p.Kind == ProductKindSubscription
}

// IsConsumableProduct reports whether the id names a known credit pack.
func IsConsumableProduct(id string) bool {
	p, ok := catalog[id]
	return ok && p.Kind == ProductKindConsumable
}

// ValidateCatalog checks the static catalog against the platform's reported
// products. Missing products are logged; only a fetch failure is an error so
// a partially-configured storefront does not block startup.
func ValidateCatalog(ctx context.Context, client Client) error {
	reported, err := client.FetchProducts(ctx, AllIDs())
	if err != nil {
		return fmt.Errorf("failed to fetch platform catalog: %w", err)
	}

	seen := make(map[string]bool, len(reported))
	for _, p := range reported {
		seen[p.ID] = true
		if _, ok := catalog[p.ID]; !ok {
			logging.Warnf("validateCatalog: platform reports unknown product id=%s", p.ID)
		}
	}
	for id := range catalog {
		if !seen[id] {
			logging.Warnf("validateCatalog: product missing from platform catalog id=%s", id)
		}
	}

	logging.Infof("validateCatalog: checked %d products, platform reported %d", len(catalog), len(reported))
	return nil
}
