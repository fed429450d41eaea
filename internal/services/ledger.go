package services

import (
	"fmt"
	"sync"
	"time"

	"billing-api/internal/models"
	"billing-api/pkg/logging"
)

// ProfileStore persists the ledger profile and its credit history.
type ProfileStore interface {
	Load() (*models.Profile, error)
	Save(profile *models.Profile) error
	AppendHistory(entry *models.CreditHistory) error
}

// CreditLedger is the local mutable credit balance. All mutations are
// confined to its mutex; UI reads and background writers never touch the
// profile row directly. All operations are total over non-negative integers:
// the spendable balance never goes negative and the lifetime total never
// decreases. Mutations commit to memory only after a successful save, so the
// in-memory balance and the store never diverge.
type CreditLedger struct {
	mu      sync.Mutex
	store   ProfileStore
	profile models.Profile
	now     func() time.Time
}

// LedgerOptions configures a credit ledger.
type LedgerOptions struct {
	Now func() time.Time
}

// NewCreditLedger loads the profile and returns a ledger over it.
func NewCreditLedger(store ProfileStore, opts LedgerOptions) (*CreditLedger, error) {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	profile, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	return &CreditLedger{
		store:   store,
		profile: *profile,
		now:     nowFn,
	}, nil
}

// Increase grants credits, raising both the balance and the lifetime total,
// and appends a history record.
func (l *CreditLedger) Increase(amount int, source, transactionID, productID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	updated := l.profile
	updated.AddCredits(amount, l.now())
	if err := l.store.Save(&updated); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	l.profile = updated
	l.appendHistoryLocked(amount, source, transactionID, productID)

	logging.Infof("creditsGranted: +%d source=%s -> current=%d total=%d", amount, source, l.profile.CurrentCredits, l.profile.TotalCredits)
	return nil
}

// Consume deducts credits for feature usage, clamping at zero.
func (l *CreditLedger) Consume(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	updated := l.profile
	updated.ConsumeCredits(amount, l.now())
	if err := l.store.Save(&updated); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	l.profile = updated
	l.appendHistoryLocked(-amount, models.CreditSourceConsume, "", "")
	return nil
}

// SetAbsolute overwrites the balance during remote reconciliation. The
// lifetime total absorbs only upward deltas and never decreases.
func (l *CreditLedger) SetAbsolute(newBalance int) error {
	if newBalance < 0 {
		newBalance = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delta := newBalance - l.profile.CurrentCredits
	updated := l.profile
	updated.SetCredits(newBalance, l.now())
	if err := l.store.Save(&updated); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	l.profile = updated
	l.appendHistoryLocked(delta, models.CreditSourceReconcile, "", "")
	return nil
}

// SetPremium records the subscription premium flag.
func (l *CreditLedger) SetPremium(premium bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.profile.IsPremium == premium {
		return nil
	}
	updated := l.profile
	updated.IsPremium = premium
	updated.LastUpdated = l.now()
	if err := l.store.Save(&updated); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	l.profile = updated
	return nil
}

// Balance returns the spendable balance and the lifetime total.
func (l *CreditLedger) Balance() (current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile.CurrentCredits, l.profile.TotalCredits
}

// IsPremium reports the premium flag.
func (l *CreditLedger) IsPremium() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile.IsPremium
}

// ProfileID returns the local profile id.
func (l *CreditLedger) ProfileID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile.ProfileID
}

// Snapshot returns a copy of the profile for remote sync.
func (l *CreditLedger) Snapshot() models.Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// appendHistoryLocked records a mutation. History is best-effort bookkeeping;
// a write failure never rolls the ledger back.
func (l *CreditLedger) appendHistoryLocked(delta int, source, transactionID, productID string) {
	entry := &models.CreditHistory{
		ProfileID:     l.profile.ProfileID,
		Delta:         delta,
		BalanceAfter:  l.profile.CurrentCredits,
		Source:        source,
		TransactionID: transactionID,
		ProductID:     productID,
	}
	if err := l.store.AppendHistory(entry); err != nil {
		logging.Errorf("Failed to append credit history: %v", err)
	}
}
