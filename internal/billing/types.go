package billing

import (
	"context"
	"time"
)

// ProductKind distinguishes one-time credit packs from recurring subscriptions.
type ProductKind string

const (
	ProductKindConsumable   ProductKind = "consumable"
	ProductKindSubscription ProductKind = "subscription"
)

// Period is the renewal period of a subscription product.
type Period string

const (
	PeriodWeekly Period = "weekly"
	PeriodYearly Period = "yearly"
)

// Product identifies a purchasable SKU. Products are static and defined at
// compile time in the catalog; the platform's reported catalog is validated
// against it at startup.
type Product struct {
	ID               string      `json:"id"`
	Kind             ProductKind `json:"kind"`
	Credits          int         `json:"credits,omitempty"`            // consumables
	Period           Period      `json:"period,omitempty"`             // subscriptions
	CreditsPerPeriod int         `json:"credits_per_period,omitempty"` // subscriptions
	DisplayPrice     string      `json:"display_price,omitempty"`
}

// GrantCredits returns the credit amount a single verified transaction for
// this product grants.
func (p Product) GrantCredits() int {
	if p.Kind == ProductKindSubscription {
		return p.CreditsPerPeriod
	}
	return p.Credits
}

// Transaction is a platform-issued record of one purchase or renewal event.
// Renewals produce new transaction ids. Immutable once issued; it must be
// finished via Client.Finish after processing or the platform redelivers it.
type Transaction struct {
	ID             string     `json:"id"`
	ProductID      string     `json:"product_id"`
	PurchaseDate   time.Time  `json:"purchase_date"`
	ExpiresDate    *time.Time `json:"expires_date,omitempty"`
	RevocationDate *time.Time `json:"revocation_date,omitempty"`
	Environment    string     `json:"environment,omitempty"`
}

// IsActiveAt reports whether the transaction grants access at the given
// instant. No expiry means perpetual access. A past revocation makes it
// inactive regardless of expiry.
func (t Transaction) IsActiveAt(now time.Time) bool {
	if t.RevocationDate != nil && !t.RevocationDate.After(now) {
		return false
	}
	if t.ExpiresDate == nil {
		return true
	}
	return t.ExpiresDate.After(now)
}

// VerificationResult is the platform's trust classification of a transaction
// envelope. Unverified transactions must never reach the ledger but are still
// finished to stop redelivery pressure.
type VerificationResult struct {
	Verified    bool        `json:"verified"`
	Transaction Transaction `json:"transaction"`
	Reason      string      `json:"reason,omitempty"`
}

// Verified wraps a trusted transaction.
func Verified(tx Transaction) VerificationResult {
	return VerificationResult{Verified: true, Transaction: tx}
}

// Unverified wraps an untrusted transaction with the failure reason.
func Unverified(tx Transaction, reason string) VerificationResult {
	return VerificationResult{Verified: false, Transaction: tx, Reason: reason}
}

// PurchaseState is the synchronous outcome of an initiated purchase.
type PurchaseState string

const (
	PurchaseStateSuccess   PurchaseState = "success"
	PurchaseStateCancelled PurchaseState = "user_cancelled"
	PurchaseStatePending   PurchaseState = "pending"
)

// PurchaseResult carries the synchronous purchase outcome. Verification is
// set only when State is PurchaseStateSuccess.
type PurchaseResult struct {
	State        PurchaseState
	Verification *VerificationResult
}

// Client abstracts the platform billing API. Implementations are trusted for
// receipt and signature verification; this core only consumes the
// verified/unverified classification.
type Client interface {
	// FetchProducts loads product metadata for the given ids.
	FetchProducts(ctx context.Context, ids []string) ([]Product, error)

	// Purchase initiates a purchase for the given product id.
	Purchase(ctx context.Context, productID string) (PurchaseResult, error)

	// TransactionUpdates returns an independent subscription to the
	// asynchronous transaction stream (renewals, restores, family sharing,
	// cross-device purchases). Each call returns its own channel.
	TransactionUpdates() <-chan VerificationResult

	// CurrentEntitlements returns the transactions the platform currently
	// considers granting access.
	CurrentEntitlements(ctx context.Context) ([]VerificationResult, error)

	// LatestTransaction returns the most recent transaction for a product
	// id, or nil if the user never purchased it.
	LatestTransaction(ctx context.Context, productID string) (*VerificationResult, error)

	// SyncPurchaseHistory forces a platform-level sync of purchase history.
	SyncPurchaseHistory(ctx context.Context) error

	// HasLocalReceipt reports whether a local receipt artifact exists.
	HasLocalReceipt() bool

	// Finish acknowledges a transaction so the platform stops redelivering
	// it. Idempotent.
	Finish(ctx context.Context, transactionID string) error
}
