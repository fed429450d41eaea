package services

import (
	"sync"
	"time"
)

// OutcomeKind is the closed set of purchase/subscription outcome events the
// UI layer can observe. Cancelled and pending are deliberately distinct from
// failed: "user said no" and "still waiting" are not errors.
type OutcomeKind string

const (
	PurchaseSucceeded OutcomeKind = "purchase_succeeded"
	PurchaseCancelled OutcomeKind = "purchase_cancelled"
	PurchasePending   OutcomeKind = "purchase_pending"
	PurchaseFailed    OutcomeKind = "purchase_failed"

	SubscriptionPurchaseSucceeded OutcomeKind = "subscription_purchase_succeeded"
	SubscriptionPurchaseCancelled OutcomeKind = "subscription_purchase_cancelled"
	SubscriptionPurchasePending   OutcomeKind = "subscription_purchase_pending"
	SubscriptionPurchaseFailed    OutcomeKind = "subscription_purchase_failed"
	SubscriptionAlreadyActive     OutcomeKind = "subscription_already_active"

	RestoreSucceeded OutcomeKind = "restore_succeeded"
	RestoreFailed    OutcomeKind = "restore_failed"

	BonusGranted OutcomeKind = "bonus_granted"
)

// Outcome is one event on the bus.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	ProductID string      `json:"product_id,omitempty"`
	Credits   int         `json:"credits,omitempty"`
	Message   string      `json:"message,omitempty"`
	At        time.Time   `json:"at"`
}

// EventBus fans outcome events out to subscribers. Publish never blocks; a
// subscriber that cannot keep up drops events.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Outcome
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Outcome)}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release the subscription.
func (b *EventBus) Subscribe(buffer int) (<-chan Outcome, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Outcome, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an outcome to every subscriber.
func (b *EventBus) Publish(outcome Outcome) {
	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- outcome:
		default:
		}
	}
}
