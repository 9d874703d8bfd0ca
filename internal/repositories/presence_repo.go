package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	presenceTTL       = 30 * 24 * time.Hour // last-seen is forgotten after a month of inactivity
)

type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client}
}

// SetLastSeen records the moment userID went offline.
func (r *RedisPresenceRepository) SetLastSeen(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error {
	presence := models.Presence{
		UserID:   userID,
		Status:   string(models.StatusOffline),
		LastSeen: lastSeen,
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	err = r.client.Set(ctx, presenceKey(userID), data, presenceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}

	return nil
}

// GetBulkLastSeen retrieves last-seen timestamps for multiple users in a single call.
// Users with no record are absent from the result.
func (r *RedisPresenceRepository) GetBulkLastSeen(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	lastSeen := make(map[uuid.UUID]time.Time)
	if len(userIDs) == 0 {
		return lastSeen, nil
	}

	// Build keys
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	// MGet retrieves multiple keys in one round trip
	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk presence: %w", err)
	}

	for i, result := range results {
		data, ok := result.(string)
		if !ok {
			continue
		}

		var presence models.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			// A corrupt record is treated as unknown
			continue
		}

		lastSeen[userIDs[i]] = presence.LastSeen
	}

	return lastSeen, nil
}

// Helper: build Redis key for presence
func presenceKey(userID uuid.UUID) string {
	return presenceKeyPrefix + userID.String()
}
