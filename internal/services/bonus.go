package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"billing-api/internal/models"
	"billing-api/pkg/logging"
)

// BonusStore is the durable last-grant timestamp store. It must survive a
// client reinstall, which is what separates it from the preference file.
type BonusStore interface {
	Get(ctx context.Context) (*time.Time, error)
	Set(ctx context.Context, t time.Time) error
}

// LegacyBonusStore is the old preference-file location of the timestamp,
// read once to migrate into the durable store.
type LegacyBonusStore interface {
	LastBonusGrant() *time.Time
}

// JSONPrefsStore reads the legacy preference file.
type JSONPrefsStore struct {
	path string
}

// NewJSONPrefsStore creates a legacy preference reader for the given path.
func NewJSONPrefsStore(path string) *JSONPrefsStore {
	return &JSONPrefsStore{path: path}
}

// LastBonusGrant returns the timestamp stored in the preference file, or nil.
func (s *JSONPrefsStore) LastBonusGrant() *time.Time {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var prefs struct {
		LastBonusGrant int64 `json:"last_bonus_grant"`
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		logging.Warnf("Failed to parse legacy prefs file %s: %v", s.path, err)
		return nil
	}
	if prefs.LastBonusGrant == 0 {
		return nil
	}
	t := time.Unix(prefs.LastBonusGrant, 0)
	return &t
}

// BonusScheduler grants the periodic premium bonus. The first check after
// subscribing grants immediately; after that a grant happens only once the
// full interval has elapsed, and the last-grant time is set to now rather
// than advanced by the interval, so missed intervals are never backfilled.
type BonusScheduler struct {
	mu     sync.Mutex
	store  BonusStore
	legacy LegacyBonusStore
	ledger *CreditLedger
	syncer ProfileSyncer
	events *EventBus
	now    func() time.Time
}

// BonusOptions configures a bonus scheduler.
type BonusOptions struct {
	Now func() time.Time
}

// NewBonusScheduler creates a bonus scheduler. legacy may be nil when no
// migration source exists.
func NewBonusScheduler(store BonusStore, legacy LegacyBonusStore, ledger *CreditLedger, syncer ProfileSyncer, events *EventBus, opts BonusOptions) *BonusScheduler {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &BonusScheduler{
		store:  store,
		legacy: legacy,
		ledger: ledger,
		syncer: syncer,
		events: events,
		now:    nowFn,
	}
}

// CheckAndGrant grants the periodic bonus if it is due. Returns whether a
// grant happened.
func (s *BonusScheduler) CheckAndGrant(ctx context.Context, isPremium bool, amount, intervalDays int) (bool, error) {
	if !isPremium {
		return false, nil
	}
	if amount <= 0 || intervalDays <= 0 {
		return false, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.store.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read bonus state: %w", err)
	}

	if last == nil && s.legacy != nil {
		if migrated := s.legacy.LastBonusGrant(); migrated != nil {
			logging.Infof("checkBonusCredit: migrating legacy last-grant time %s", migrated.Format(time.RFC3339))
			if err := s.store.Set(ctx, *migrated); err != nil {
				logging.Errorf("Failed to migrate legacy bonus timestamp: %v", err)
			}
			last = migrated
		}
	}

	now := s.now()
	if last != nil {
		elapsed := now.Sub(*last)
		if elapsed < time.Duration(intervalDays)*24*time.Hour {
			logging.Debugf("checkBonusCredit: %s since last grant, need %d days", elapsed, intervalDays)
			return false, nil
		}
	}

	if err := s.ledger.Increase(amount, models.CreditSourceBonus, "", ""); err != nil {
		return false, fmt.Errorf("failed to grant bonus credits: %w", err)
	}

	if err := s.store.Set(ctx, now); err != nil {
		logging.Errorf("Failed to record bonus grant time: %v", err)
	}

	if s.syncer != nil {
		if err := s.syncer.Push(ctx, s.ledger.Snapshot()); err != nil {
			logging.Errorf("Failed to sync profile after bonus grant: %v", err)
		}
	}

	if s.events != nil {
		s.events.Publish(Outcome{Kind: BonusGranted, Credits: amount})
	}

	logging.Infof("checkBonusCredit: granted %d bonus credits", amount)
	return true, nil
}
