package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aiborg-ai/boardsync/internal/models"
)

const (
	presenceKeyPrefix = "boardsync:presence:"
	presenceTTL       = 60 * time.Second // Presence expires without a heartbeat refresh
)

// PresenceStore tracks which members are live in a room. Records carry a
// TTL so a member that stops heartbeating decays to offline without any
// explicit cleanup.
type PresenceStore interface {
	SetPresence(ctx context.Context, presence *models.Presence) error
	GetPresence(ctx context.Context, roomID string, memberID uuid.UUID) (*models.Presence, error)
	GetRoomPresence(ctx context.Context, roomID string, memberIDs []uuid.UUID) (map[uuid.UUID]models.Presence, error)
	DeletePresence(ctx context.Context, roomID string, memberID uuid.UUID) error
}

type RedisPresenceStore struct {
	client *redis.Client
}

func NewRedisPresenceStore(client *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{client: client}
}

// SetPresence writes or refreshes a member's record. Sessions call this on
// join and on each heartbeat to keep the TTL from expiring.
func (s *RedisPresenceStore) SetPresence(ctx context.Context, presence *models.Presence) error {
	presence.LastSeen = time.Now()

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	key := presenceKey(presence.RoomID, presence.MemberID)
	if err := s.client.Set(ctx, key, data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) GetPresence(ctx context.Context, roomID string, memberID uuid.UUID) (*models.Presence, error) {
	data, err := s.client.Get(ctx, presenceKey(roomID, memberID)).Result()
	if err == redis.Nil {
		// Expired or never set: the member is offline.
		return offlinePresence(roomID, memberID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &presence, nil
}

// GetRoomPresence resolves a set of members in one round trip via MGet.
// Members without a live record come back offline.
func (s *RedisPresenceStore) GetRoomPresence(ctx context.Context, roomID string, memberIDs []uuid.UUID) (map[uuid.UUID]models.Presence, error) {
	presenceMap := make(map[uuid.UUID]models.Presence)
	if len(memberIDs) == 0 {
		return presenceMap, nil
	}

	keys := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		keys[i] = presenceKey(roomID, id)
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room presence: %w", err)
	}

	for i, result := range results {
		memberID := memberIDs[i]

		data, ok := result.(string)
		if !ok {
			presenceMap[memberID] = *offlinePresence(roomID, memberID)
			continue
		}

		var presence models.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			presenceMap[memberID] = *offlinePresence(roomID, memberID)
			continue
		}
		presenceMap[memberID] = presence
	}

	return presenceMap, nil
}

func (s *RedisPresenceStore) DeletePresence(ctx context.Context, roomID string, memberID uuid.UUID) error {
	if err := s.client.Del(ctx, presenceKey(roomID, memberID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

func offlinePresence(roomID string, memberID uuid.UUID) *models.Presence {
	return &models.Presence{
		RoomID:   roomID,
		MemberID: memberID,
		Status:   models.PresenceOffline,
		LastSeen: time.Time{},
	}
}

func presenceKey(roomID string, memberID uuid.UUID) string {
	return presenceKeyPrefix + roomID + ":" + memberID.String()
}
