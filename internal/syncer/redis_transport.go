package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries sync messages over redis pub/sub channels. Each
// Subscribe opens its own PubSub so channels can be torn down
// independently.
type RedisTransport struct {
	client *redis.Client

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	closed  bool
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{
		client:  client,
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	ps := t.client.Subscribe(ctx, channel)
	t.pubsubs[ps] = struct{}{}
	t.mu.Unlock()

	// Confirm the subscription before returning so a following Publish
	// is not lost.
	if _, err := ps.Receive(ctx); err != nil {
		t.drop(ps)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		for msg := range ps.Channel() {
			h([]byte(msg.Payload))
		}
	}()

	unsubscribe := func() {
		t.drop(ps)
	}
	return unsubscribe, nil
}

func (t *RedisTransport) drop(ps *redis.PubSub) {
	t.mu.Lock()
	delete(t.pubsubs, ps)
	t.mu.Unlock()
	_ = ps.Close()
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	open := make([]*redis.PubSub, 0, len(t.pubsubs))
	for ps := range t.pubsubs {
		open = append(open, ps)
	}
	t.pubsubs = make(map[*redis.PubSub]struct{})
	t.mu.Unlock()

	for _, ps := range open {
		_ = ps.Close()
	}
	return nil
}
