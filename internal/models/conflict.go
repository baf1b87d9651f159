package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Strategy string

const (
	StrategyLocalWins     Strategy = "local_wins"
	StrategyRemoteWins    Strategy = "remote_wins"
	StrategyTimestampWins Strategy = "timestamp_wins"
	StrategyMerged        Strategy = "merged"
	StrategyManual        Strategy = "manual"
)

// ConflictData preserves both sides of a divergence for later inspection.
type ConflictData struct {
	Local  json.RawMessage `json:"local"`
	Remote json.RawMessage `json:"remote"`
	Base   json.RawMessage `json:"base,omitempty"`
}

// ConflictResolution is the outcome of merging two copies of a store's
// state. Manual resolutions stay pending until resolved explicitly; the
// store's visible state is not touched before then.
type ConflictResolution struct {
	ID            uuid.UUID       `json:"id"`
	StoreName     string          `json:"store_name"`
	Resolved      json.RawMessage `json:"resolved,omitempty"`
	Strategy      Strategy        `json:"strategy"`
	ConflictData  *ConflictData   `json:"conflict_data,omitempty"`
	RemoteVersion int64           `json:"remote_version"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}
