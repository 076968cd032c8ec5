package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pulsechat-backend/internal/database"
	"pulsechat-backend/pkg/constants"
)

// PresenceRepository mirrors the online set into Redis for other services
// to read. The in-process registry stays authoritative.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// SetUserOnline marks user as online
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	// auto-expires unless refreshed by heartbeat
	if err := r.client.SafeSet(ctx, presenceKey(userID), "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, constants.PresenceOnlineSetKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetUserOffline marks user as offline
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, constants.PresenceOnlineSetKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// Touch keeps the user's presence key alive (heartbeat)
func (r *PresenceRepository) Touch(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeSet(ctx, presenceKey(userID), "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// ClearOnline drops the online set left by a previous process
func (r *PresenceRepository) ClearOnline(ctx context.Context) error {
	if err := r.client.SafeDel(ctx, constants.PresenceOnlineSetKey).Err(); err != nil {
		return fmt.Errorf("failed to clear online set: %w", err)
	}
	return nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
