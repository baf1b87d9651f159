package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// QueueItem is one durable pending mutation awaiting network delivery.
// Items for the same EntityID are delivered strictly in enqueue order.
type QueueItem struct {
	ID         uuid.UUID       `json:"id"`
	Type       OperationType   `json:"type"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Error      string          `json:"error,omitempty"`
}

// FailedItem records a queue item that exhausted its retry budget. Such
// items are removed from the queue and surfaced here, never retried again.
type FailedItem struct {
	Item     QueueItem `json:"item"`
	FailedAt time.Time `json:"failed_at"`
}
