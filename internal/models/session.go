package models

import (
	"github.com/google/uuid"
)

// SyncSession identifies one sync participant (one browser tab in the web
// client, one process here). The ID is generated at startup and never
// persisted. LocalVersion counts outgoing broadcasts; RemoteVersion is the
// highest version accepted from any other session and never decreases.
type SyncSession struct {
	ID            uuid.UUID `json:"id"`
	LocalVersion  int64     `json:"local_version"`
	RemoteVersion int64     `json:"remote_version"`
}

func NewSyncSession() SyncSession {
	return SyncSession{ID: uuid.New()}
}
