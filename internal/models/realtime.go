package models

import "encoding/json"

type RealtimeEventType string

const (
	RealtimeInsert RealtimeEventType = "INSERT"
	RealtimeUpdate RealtimeEventType = "UPDATE"
	RealtimeDelete RealtimeEventType = "DELETE"
)

// RealtimeEvent is a push update from the backing database's change feed
// (postgres_changes style), scoped to one registered store.
type RealtimeEvent struct {
	EventType RealtimeEventType `json:"event_type"`
	StoreName string            `json:"store_name"`
	Data      json.RawMessage   `json:"data"`
}
