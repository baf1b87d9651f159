package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aiborg-ai/boardsync/internal/models"
)

const queueKeyPrefix = "boardsync:queue:"

// RedisStore persists the queue snapshot as a single JSON value keyed by
// owner (account or workspace id), so a reloaded process resumes with the
// same backlog.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, owner string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("%s%s", queueKeyPrefix, owner),
	}
}

func (s *RedisStore) Save(ctx context.Context, items []models.QueueItem) error {
	if len(items) == 0 {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]models.QueueItem, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	var items []models.QueueItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue: %w", err)
	}
	return items, nil
}
