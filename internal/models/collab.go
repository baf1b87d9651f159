package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CollabEventType string

const (
	EventPresenceJoin   CollabEventType = "presence_join"
	EventPresenceLeave  CollabEventType = "presence_leave"
	EventDocumentChange CollabEventType = "document_change"
	EventCursorMove     CollabEventType = "cursor_move"
	EventCommentAdd     CollabEventType = "comment_add"
	EventCommentResolve CollabEventType = "comment_resolve"
	EventLock           CollabEventType = "lock"
	EventUnlock         CollabEventType = "unlock"
	EventHeartbeat      CollabEventType = "heartbeat"
)

// CollabEvent is one message on a collaboration room's channel.
type CollabEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      CollabEventType `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    uuid.UUID       `json:"user_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
)

// Presence is a member's liveness record within a collaboration room.
// Records expire unless refreshed by heartbeats.
type Presence struct {
	RoomID   string         `json:"room_id"`
	MemberID uuid.UUID      `json:"member_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}
