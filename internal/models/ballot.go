package models

import (
	"time"

	"github.com/google/uuid"
)

type VoteOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Ballot is one voter's working choice artifact for a vote, distinct from
// the aggregate Vote record. Its ID is derived deterministically from the
// vote and voter so offline-created ballots replay without duplication.
// Once CastAt is set the ballot is terminal and re-submission is rejected.
type Ballot struct {
	ID              uuid.UUID    `json:"id"`
	VoteID          uuid.UUID    `json:"vote_id"`
	VoterID         uuid.UUID    `json:"voter_id"`
	Options         []VoteOption `json:"options"`
	SelectedOption  *VoteChoice  `json:"selected_option,omitempty"`
	CastAt          *time.Time   `json:"cast_at,omitempty"`
	EncryptedBallot []byte       `json:"encrypted_ballot,omitempty"`
	Nonce           []byte       `json:"nonce,omitempty"`
	Signature       string       `json:"signature,omitempty"`
	IsProxyVote     bool         `json:"is_proxy_vote"`
	ProxyFor        *uuid.UUID   `json:"proxy_for,omitempty"`
}

// BallotID derives the stable ballot identifier for a vote/voter pair.
func BallotID(voteID, voterID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(voteID, voterID[:])
}

// OfflineCapability describes how much of the voting flow is possible
// without network connectivity.
type OfflineCapability string

const (
	// OfflineFull: the ballot is materialized locally; the voter can select
	// and cast, with submission queued for replay.
	OfflineFull OfflineCapability = "full"
	// OfflineLimited: the vote session is known but no ballot exists yet;
	// the voter can prepare but not submit.
	OfflineLimited OfflineCapability = "limited"
	// OfflineNone: no local knowledge of the vote.
	OfflineNone OfflineCapability = "none"
)
