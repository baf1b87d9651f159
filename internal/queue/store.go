package queue

import (
	"context"
	"sync"

	"github.com/aiborg-ai/boardsync/internal/models"
)

// Store persists the queue so it survives a process reload. The queue
// writes on every mutation and reloads at startup.
type Store interface {
	Save(ctx context.Context, items []models.QueueItem) error
	Load(ctx context.Context) ([]models.QueueItem, error)
}

// MemoryStore keeps the snapshot in memory. Used in tests and as the
// fallback when no durable backend is configured.
type MemoryStore struct {
	mu    sync.Mutex
	items []models.QueueItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, items []models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]models.QueueItem(nil), items...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueueItem(nil), s.items...), nil
}
