package syncer

import (
	"context"
	"errors"
	"sync"
)

var ErrTransportClosed = errors.New("transport is closed")

// Handler consumes one raw message from a channel.
type Handler func(payload []byte)

// Transport is the push-update channel between sync sessions: redis
// pub/sub in production, an in-memory bus in tests. Subscribe returns an
// unsubscribe function so per-channel teardown is tracked explicitly.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, h Handler) (func(), error)
	Close() error
}

// MemoryTransport delivers messages synchronously to all subscribers of a
// channel, including the publisher's own subscription. That mirrors the
// echo behavior of a browser BroadcastChannel and exercises the self-echo
// filter in tests.
type MemoryTransport struct {
	mu     sync.Mutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[int]Handler)}
}

func (t *MemoryTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	handlers := make([]Handler, 0, len(t.subs[channel]))
	for _, h := range t.subs[channel] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, channel string, h Handler) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]Handler)
	}
	id := t.nextID
	t.nextID++
	t.subs[channel][id] = h

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[channel], id)
		if len(t.subs[channel]) == 0 {
			delete(t.subs, channel)
		}
	}, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[string]map[int]Handler)
	return nil
}

// SubscriberCount reports active subscriptions for a channel.
func (t *MemoryTransport) SubscriberCount(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[channel])
}
