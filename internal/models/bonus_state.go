package models

import (
	"time"
)

// BonusState persists the last periodic premium bonus grant time.
// It lives in the database rather than the preference file so that clearing
// preferences (or reinstalling the client) cannot reset the bonus clock.
type BonusState struct {
	BaseModel

	ProfileID   string     `json:"profile_id" gorm:"not null;size:36;uniqueIndex"`
	LastGrantAt *time.Time `json:"last_grant_at"`
}
