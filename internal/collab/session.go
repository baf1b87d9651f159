package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
	"github.com/aiborg-ai/boardsync/internal/syncer"
)

const (
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxPending        = 50
)

// ErrReconnectExhausted is the terminal error after the reconnect budget
// is spent.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// EventHandler consumes one collaboration event.
type EventHandler func(event models.CollabEvent)

// Session is one member's connection to a collaboration room: presence and
// document changes fan out over the room channel, with heartbeats on a
// fixed interval and exponential-backoff reconnection. Events sent while
// disconnected queue up (bounded, oldest evicted first) and flush on
// reconnect.
type Session struct {
	transport syncer.Transport
	roomID    string
	userID    uuid.UUID
	log       *slog.Logger

	baseDelay   time.Duration
	maxAttempts int
	heartbeat   time.Duration
	maxPending  int

	mu        sync.Mutex
	connected bool
	unsub     func()
	pending   []models.CollabEvent
	handlers  map[models.CollabEventType][]EventHandler
	stopBeat  chan struct{}
}

type Option func(*Session)

func WithBaseDelay(d time.Duration) Option {
	return func(s *Session) { s.baseDelay = d }
}

func WithMaxAttempts(n int) Option {
	return func(s *Session) { s.maxAttempts = n }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Session) { s.heartbeat = d }
}

func WithMaxPending(n int) Option {
	return func(s *Session) { s.maxPending = n }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func NewSession(transport syncer.Transport, roomID string, userID uuid.UUID, opts ...Option) *Session {
	s := &Session{
		transport:   transport,
		roomID:      roomID,
		userID:      userID,
		log:         slog.Default(),
		baseDelay:   DefaultBaseDelay,
		maxAttempts: DefaultMaxAttempts,
		heartbeat:   DefaultHeartbeatInterval,
		maxPending:  DefaultMaxPending,
		handlers:    make(map[models.CollabEventType][]EventHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) channel() string {
	return "boardsync:collab:" + s.roomID
}

// On registers a handler for one event type. Handlers run on the
// transport's delivery goroutine.
func (s *Session) On(eventType models.CollabEventType, h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], h)
}

// Connect joins the room, retrying with exponential backoff: the delay
// doubles each attempt until the cap, after which the session abandons
// with ErrReconnectExhausted. On success the pending queue flushes in
// order and a presence_join announces the member.
func (s *Session) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(s.baseDelay, attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		unsub, err := s.transport.Subscribe(ctx, s.channel(), s.dispatch)
		if err != nil {
			lastErr = err
			s.log.Warn("room subscribe failed", "room", s.roomID,
				"attempt", attempt+1, "error", err)
			continue
		}

		s.mu.Lock()
		s.connected = true
		s.unsub = unsub
		s.stopBeat = make(chan struct{})
		stop := s.stopBeat
		flush := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, event := range flush {
			if err := s.publish(ctx, event); err != nil {
				s.log.Warn("failed to flush queued event", "room", s.roomID, "error", err)
			}
		}

		if err := s.publish(ctx, s.newEvent(models.EventPresenceJoin, nil)); err != nil {
			s.log.Warn("failed to announce presence", "room", s.roomID, "error", err)
		}

		go s.heartbeatLoop(ctx, stop)
		s.log.Info("collab session connected", "room", s.roomID, "attempt", attempt+1)
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, s.maxAttempts, lastErr)
}

// backoffDelay is base × 2^attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}

func (s *Session) heartbeatLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.publish(ctx, s.newEvent(models.EventHeartbeat, nil)); err != nil {
				s.log.Warn("heartbeat failed", "room", s.roomID, "error", err)
				s.markDisconnected()
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

func (s *Session) newEvent(eventType models.CollabEventType, data json.RawMessage) models.CollabEvent {
	return models.CollabEvent{
		ID:        uuid.New(),
		Type:      eventType,
		RoomID:    s.roomID,
		UserID:    s.userID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Send fans an event out to the room. While disconnected (or when the
// publish fails) the event is queued rather than lost; the queue is
// bounded and evicts oldest first.
func (s *Session) Send(ctx context.Context, eventType models.CollabEventType, data json.RawMessage) error {
	event := s.newEvent(eventType, data)

	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		s.enqueue(event)
		return nil
	}
	if err := s.publish(ctx, event); err != nil {
		s.log.Warn("send failed, queueing event", "room", s.roomID,
			"type", eventType, "error", err)
		s.enqueue(event)
		s.markDisconnected()
		return nil
	}
	return nil
}

func (s *Session) enqueue(event models.CollabEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, event)
	for len(s.pending) > s.maxPending {
		s.pending = s.pending[1:]
	}
}

func (s *Session) publish(ctx context.Context, event models.CollabEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.transport.Publish(ctx, s.channel(), payload)
}

// dispatch routes one incoming event to its type's handlers. Own events
// are ignored.
func (s *Session) dispatch(payload []byte) {
	var event models.CollabEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.log.Warn("dropping malformed collab event", "room", s.roomID, "error", err)
		return
	}
	if event.UserID == s.userID {
		return
	}

	s.mu.Lock()
	handlers := append([]EventHandler(nil), s.handlers[event.Type]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// Connected reports whether the session currently holds a live
// subscription.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// PendingCount reports queued events awaiting reconnect.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Leave announces departure and tears the session down.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	connected := s.connected
	stop := s.stopBeat
	s.stopBeat = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if connected {
		if err := s.publish(ctx, s.newEvent(models.EventPresenceLeave, nil)); err != nil {
			s.log.Warn("failed to announce departure", "room", s.roomID, "error", err)
		}
	}
	s.markDisconnected()
	return nil
}
