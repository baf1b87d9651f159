package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store is a named state container under synchronization. Snapshot and
// Replace must each be atomic: readers never observe a partially applied
// state.
type Store interface {
	Snapshot() json.RawMessage
	Replace(state json.RawMessage)
}

// MemStore is the default Store: one JSON document guarded by a mutex.
type MemStore struct {
	mu    sync.RWMutex
	state json.RawMessage
}

func NewMemStore(initial json.RawMessage) *MemStore {
	return &MemStore{state: initial}
}

func (s *MemStore) Snapshot() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(json.RawMessage(nil), s.state...)
}

func (s *MemStore) Replace(state json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = append(json.RawMessage(nil), state...)
}

// FilterSnapshot keeps only the allow-listed top-level fields of a state
// document. Snapshots written to durable storage go through this filter so
// sensitive session material is never persisted.
func FilterSnapshot(state json.RawMessage, allow []string) (json.RawMessage, error) {
	if len(allow) == 0 {
		return json.RawMessage(`{}`), nil
	}

	var full map[string]json.RawMessage
	if err := json.Unmarshal(state, &full); err != nil {
		return nil, fmt.Errorf("snapshot is not a JSON object: %w", err)
	}

	filtered := make(map[string]json.RawMessage, len(allow))
	for _, field := range allow {
		if v, ok := full[field]; ok {
			filtered[field] = v
		}
	}
	return json.Marshal(filtered)
}

// SnapshotSink receives filtered store snapshots for durable persistence.
type SnapshotSink interface {
	Write(ctx context.Context, storeName string, snapshot json.RawMessage) error
	Read(ctx context.Context, storeName string) (json.RawMessage, error)
}

const snapshotKeyPrefix = "boardsync:snapshot:"

// RedisSnapshotSink stores filtered snapshots as plain JSON values.
type RedisSnapshotSink struct {
	client *redis.Client
	owner  string
}

func NewRedisSnapshotSink(client *redis.Client, owner string) *RedisSnapshotSink {
	return &RedisSnapshotSink{client: client, owner: owner}
}

func (s *RedisSnapshotSink) key(storeName string) string {
	return fmt.Sprintf("%s%s:%s", snapshotKeyPrefix, s.owner, storeName)
}

func (s *RedisSnapshotSink) Write(ctx context.Context, storeName string, snapshot json.RawMessage) error {
	if err := s.client.Set(ctx, s.key(storeName), []byte(snapshot), 0).Err(); err != nil {
		return fmt.Errorf("failed to persist snapshot for %s: %w", storeName, err)
	}
	return nil
}

func (s *RedisSnapshotSink) Read(ctx context.Context, storeName string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.key(storeName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", storeName, err)
	}
	return json.RawMessage(data), nil
}

// MemorySnapshotSink is the in-memory SnapshotSink used in tests.
type MemorySnapshotSink struct {
	mu        sync.Mutex
	snapshots map[string]json.RawMessage
}

func NewMemorySnapshotSink() *MemorySnapshotSink {
	return &MemorySnapshotSink{snapshots: make(map[string]json.RawMessage)}
}

func (s *MemorySnapshotSink) Write(_ context.Context, storeName string, snapshot json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[storeName] = append(json.RawMessage(nil), snapshot...)
	return nil
}

func (s *MemorySnapshotSink) Read(_ context.Context, storeName string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[storeName], nil
}
