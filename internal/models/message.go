package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageStateSync            MessageType = "state_sync"
	MessageActionSync           MessageType = "action_sync"
	MessageConflictNotification MessageType = "conflict_notification"
)

// Envelope is the versioned message exchanged between sync sessions.
// Consumers must drop envelopes carrying their own SessionID.
type Envelope struct {
	Type      MessageType     `json:"type"`
	StoreName string          `json:"store_name"`
	Data      json.RawMessage `json:"data"`
	Action    string          `json:"action,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID uuid.UUID       `json:"session_id"`
	Version   int64           `json:"version"`
}
