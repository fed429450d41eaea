package services

import (
	"context"
	"errors"
	"fmt"

	"billing-api/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrRemoteStoreUnavailable signals that no remote profile store is
// configured. Sync callers log it and move on; local state stays
// authoritative.
var ErrRemoteStoreUnavailable = errors.New("remote profile store not configured")

// ProfileSyncer pushes local profile state to the remote store. Failures are
// logged by callers and never roll back local mutations.
type ProfileSyncer interface {
	// HasRemoteProfile reports whether the profile already exists remotely.
	HasRemoteProfile(ctx context.Context, profileID string) bool

	// Push writes the profile snapshot to the remote store, creating the
	// remote profile if needed.
	Push(ctx context.Context, profile models.Profile) error
}

// ProfileSyncGateway syncs the profile into Redis as a hash keyed by profile
// id. The remote store is an opaque key-value target; it is eventually
// consistent with the local ledger, never the other way around.
type ProfileSyncGateway struct {
	client *redis.Client
}

// NewProfileSyncGateway creates a gateway over the given Redis client. A nil
// client yields a gateway that reports no remote profile and fails pushes.
func NewProfileSyncGateway(client *redis.Client) *ProfileSyncGateway {
	return &ProfileSyncGateway{client: client}
}

func profileKey(profileID string) string {
	return fmt.Sprintf("profile:%s", profileID)
}

// HasRemoteProfile reports whether the profile exists in the remote store.
func (g *ProfileSyncGateway) HasRemoteProfile(ctx context.Context, profileID string) bool {
	if g.client == nil {
		return false
	}
	exists, err := g.client.Exists(ctx, profileKey(profileID)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// Push writes the profile snapshot.
func (g *ProfileSyncGateway) Push(ctx context.Context, profile models.Profile) error {
	if g.client == nil {
		return ErrRemoteStoreUnavailable
	}

	data := map[string]interface{}{
		"profile_id":      profile.ProfileID,
		"current_credits": profile.CurrentCredits,
		"total_credits":   profile.TotalCredits,
		"is_premium":      profile.IsPremium,
		"last_updated":    profile.LastUpdated.Unix(),
	}
	if err := g.client.HSet(ctx, profileKey(profile.ProfileID), data).Err(); err != nil {
		return fmt.Errorf("failed to push profile: %w", err)
	}
	return nil
}
