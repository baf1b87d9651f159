package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aiborg-ai/boardsync/internal/models"
)

const (
	DefaultMaxItems   = 100
	DefaultMaxRetries = 3
)

// DeliverFunc attempts network delivery of one queued item. A nil error
// removes the item; an error increments its retry count.
type DeliverFunc func(ctx context.Context, item models.QueueItem) error

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Delivered int
	Retained  int
	Failed    []models.FailedItem
}

// Queue is a bounded FIFO of pending mutations with retry accounting.
// Items for the same entity drain strictly in enqueue order; items for
// different entities drain concurrently. Every mutation is written through
// to the Store so the backlog survives a reload.
type Queue struct {
	mu         sync.Mutex
	items      []models.QueueItem
	failed     []models.FailedItem
	store      Store
	deliver    DeliverFunc
	maxItems   int
	maxRetries int
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Queue)

func WithMaxItems(n int) Option {
	return func(q *Queue) { q.maxItems = n }
}

func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, deliver DeliverFunc, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		deliver:    deliver,
		maxItems:   DefaultMaxItems,
		maxRetries: DefaultMaxRetries,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Restore reloads the persisted backlog. Call once at startup before the
// first Enqueue or Drain.
func (q *Queue) Restore(ctx context.Context) error {
	items, err := q.store.Load(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.items = items
	q.mu.Unlock()
	return nil
}

// Enqueue appends a pending operation. When the queue exceeds its cap the
// oldest entries are evicted first to bound storage use.
func (q *Queue) Enqueue(ctx context.Context, item models.QueueItem) error {
	q.mu.Lock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = q.now()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = q.maxRetries
	}
	item.RetryCount = 0
	q.items = append(q.items, item)

	for len(q.items) > q.maxItems {
		evicted := q.items[0]
		q.items = q.items[1:]
		q.log.Warn("offline queue full, evicting oldest item",
			"item_id", evicted.ID, "entity", evicted.Entity)
	}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	return q.store.Save(ctx, snapshot)
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the backlog in enqueue order.
func (q *Queue) Pending() []models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Failed returns items that exhausted their retry budget. They are
// reported here, never retried again.
func (q *Queue) Failed() []models.FailedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.FailedItem(nil), q.failed...)
}

// Has reports whether any pending item references the given entity id.
func (q *Queue) Has(entity, entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Entity == entity && it.EntityID == entityID {
			return true
		}
	}
	return false
}

// Drain attempts delivery of every pending item. Items sharing an
// EntityID are attempted sequentially in enqueue order to preserve causal
// ordering for a single record; distinct entities drain concurrently.
// An item that fails has its retry count incremented; once the count
// reaches MaxRetries the item is dropped and recorded as failed.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	if len(pending) == 0 {
		return DrainReport{}, nil
	}

	// Partition into per-entity lanes, preserving enqueue order within
	// each lane.
	laneKeys := make([]string, 0, len(pending))
	lanes := make(map[string][]models.QueueItem)
	for _, item := range pending {
		key := item.Entity + "/" + item.EntityID
		if _, ok := lanes[key]; !ok {
			laneKeys = append(laneKeys, key)
		}
		lanes[key] = append(lanes[key], item)
	}

	var (
		resMu     sync.Mutex
		delivered int
		retained  []models.QueueItem
		failed    []models.FailedItem
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range laneKeys {
		lane := lanes[key]
		g.Go(func() error {
			for i := 0; i < len(lane); i++ {
				item := lane[i]
				err := q.deliver(gctx, item)
				if err == nil {
					resMu.Lock()
					delivered++
					resMu.Unlock()
					continue
				}

				item.RetryCount++
				item.Error = err.Error()
				if item.RetryCount >= item.MaxRetries {
					q.log.Error("queue item exhausted retry budget",
						"item_id", item.ID, "entity", item.Entity,
						"retries", item.RetryCount, "error", err)
					resMu.Lock()
					failed = append(failed, models.FailedItem{Item: item, FailedAt: q.now()})
					resMu.Unlock()
				} else {
					q.log.Warn("queue item delivery failed, will retry",
						"item_id", item.ID, "entity", item.Entity,
						"retries", item.RetryCount, "error", err)
					resMu.Lock()
					retained = append(retained, item)
					resMu.Unlock()
				}
				// A failed item blocks the rest of its lane so the
				// entity's causal order is preserved on the next pass.
				resMu.Lock()
				retained = append(retained, lane[i+1:]...)
				resMu.Unlock()
				break
			}
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	// Items enqueued during the drain land after the retained ones.
	q.items = append(retained, q.items...)
	q.failed = append(q.failed, failed...)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	report := DrainReport{Delivered: delivered, Retained: len(retained), Failed: failed}
	return report, q.store.Save(ctx, snapshot)
}

func (q *Queue) snapshotLocked() []models.QueueItem {
	return append([]models.QueueItem(nil), q.items...)
}
