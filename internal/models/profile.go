package models

import (
	"time"
)

// Profile is the local credit ledger row for the app user.
// CurrentCredits is the spendable balance; TotalCredits is the lifetime-earned
// counter and only ever increases.
type Profile struct {
	BaseModel

	ProfileID      string    `json:"profile_id" gorm:"not null;size:36;uniqueIndex"`
	CurrentCredits int       `json:"current_credits" gorm:"not null;default:0"`
	TotalCredits   int       `json:"total_credits" gorm:"not null;default:0"`
	IsPremium      bool      `json:"is_premium" gorm:"default:false"`
	LastUpdated    time.Time `json:"last_updated"`
}

// AddCredits grants credits, raising both the spendable balance and the
// lifetime total.
func (p *Profile) AddCredits(amount int, now time.Time) {
	p.CurrentCredits += amount
	p.TotalCredits += amount
	p.LastUpdated = now
}

// ConsumeCredits deducts from the spendable balance, clamping at zero.
// The lifetime total is untouched.
func (p *Profile) ConsumeCredits(amount int, now time.Time) {
	p.CurrentCredits = p.CurrentCredits - amount
	if p.CurrentCredits < 0 {
		p.CurrentCredits = 0
	}
	p.LastUpdated = now
}

// SetCredits overwrites the spendable balance during reconciliation. Any
// upward delta is mirrored into the lifetime total; the total never decreases.
func (p *Profile) SetCredits(newBalance int, now time.Time) {
	delta := newBalance - p.CurrentCredits
	if delta < 0 {
		delta = 0
	}
	p.CurrentCredits = newBalance
	p.TotalCredits += delta
	p.LastUpdated = now
}
