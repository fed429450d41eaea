package database

import (
	"context"
	"errors"
	"time"

	"billing-api/internal/models"

	"gorm.io/gorm"
)

// BonusStore persists the last premium bonus grant timestamp in the database,
// keeping it apart from the clearable preference file.
type BonusStore struct {
	db        *gorm.DB
	profileID string
}

// NewBonusStore creates a bonus store for a profile.
func NewBonusStore(db *gorm.DB, profileID string) *BonusStore {
	return &BonusStore{db: db, profileID: profileID}
}

// Get returns the last grant time, or nil if no bonus was ever granted.
func (s *BonusStore) Get(ctx context.Context) (*time.Time, error) {
	var state models.BonusState
	err := s.db.WithContext(ctx).Where("profile_id = ?", s.profileID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return state.LastGrantAt, nil
}

// Set records the last grant time.
func (s *BonusStore) Set(ctx context.Context, t time.Time) error {
	var state models.BonusState
	err := s.db.WithContext(ctx).Where("profile_id = ?", s.profileID).First(&state).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		state = models.BonusState{ProfileID: s.profileID, LastGrantAt: &t}
		return s.db.WithContext(ctx).Create(&state).Error
	}

	state.LastGrantAt = &t
	return s.db.WithContext(ctx).Save(&state).Error
}
