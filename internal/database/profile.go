package database

import (
	"errors"
	"time"

	"billing-api/internal/models"
	"billing-api/pkg/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileStore persists the single local ledger profile and its credit
// history through gorm.
type ProfileStore struct {
	db *gorm.DB
}

// NewProfileStore creates a profile store over the given database handle.
func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Load returns the ledger profile, creating it on first launch. The app has
// exactly one local profile.
func (s *ProfileStore) Load() (*models.Profile, error) {
	var profile models.Profile
	err := s.db.Order("id ASC").First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	profile = models.Profile{
		ProfileID:   uuid.NewString(),
		LastUpdated: time.Now(),
	}
	if err := s.db.Create(&profile).Error; err != nil {
		return nil, err
	}
	logging.Infof("Created local profile %s", profile.ProfileID)
	return &profile, nil
}

// Save persists the profile row.
func (s *ProfileStore) Save(profile *models.Profile) error {
	return s.db.Save(profile).Error
}

// AppendHistory appends one credit history record.
func (s *ProfileStore) AppendHistory(entry *models.CreditHistory) error {
	return s.db.Create(entry).Error
}

// RecentHistory returns the most recent credit history entries for a profile.
func (s *ProfileStore) RecentHistory(profileID string, limit int) ([]models.CreditHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.CreditHistory
	err := s.db.Where("profile_id = ?", profileID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
