package models

import (
	"time"

	"github.com/google/uuid"
)

type VoteStatus string

const (
	VoteStatusPending VoteStatus = "pending"
	VoteStatusOpen    VoteStatus = "open"
	VoteStatusClosed  VoteStatus = "closed"
)

type VotingMethod string

const (
	MethodSimpleMajority VotingMethod = "simple_majority"
	MethodSuperMajority  VotingMethod = "super_majority"
	MethodUnanimous      VotingMethod = "unanimous"
)

type VoteChoice string

const (
	ChoiceFor     VoteChoice = "for"
	ChoiceAgainst VoteChoice = "against"
	ChoiceAbstain VoteChoice = "abstain"
)

// Vote is the aggregate record for one question put to the board.
// CastVotes is append-only: entries are never mutated after creation.
type Vote struct {
	ID                uuid.UUID    `json:"id"`
	MeetingID         *uuid.UUID   `json:"meeting_id,omitempty"`
	Title             string       `json:"title"`
	Status            VoteStatus   `json:"status"`
	StartTime         time.Time    `json:"start_time"`
	EndTime           time.Time    `json:"end_time"`
	EligibleVoters    []uuid.UUID  `json:"eligible_voters"`
	CastVotes         []CastVote   `json:"cast_votes"`
	VotingMethod      VotingMethod `json:"voting_method"`
	RequiredThreshold *float64     `json:"required_threshold,omitempty"`
	AllowAbstention   bool         `json:"allow_abstention"`
	IsAnonymous       bool         `json:"is_anonymous"`
	Results           *VoteResults `json:"results,omitempty"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         *time.Time   `json:"updated_at,omitempty"`
}

// CastVote is the immutable record appended when a ballot is submitted.
type CastVote struct {
	ID              uuid.UUID  `json:"id"`
	VoteID          uuid.UUID  `json:"vote_id"`
	VoterID         uuid.UUID  `json:"voter_id"`
	Choice          VoteChoice `json:"choice"`
	IsProxy         bool       `json:"is_proxy"`
	ProxyFor        *uuid.UUID `json:"proxy_for,omitempty"`
	CastAt          time.Time  `json:"cast_at"`
	EncryptedBallot []byte     `json:"encrypted_ballot,omitempty"`
	Nonce           []byte     `json:"nonce,omitempty"`
	Signature       string     `json:"signature,omitempty"`
}

type VoteResult string

const (
	ResultPending VoteResult = "pending"
	ResultPassed  VoteResult = "passed"
	ResultFailed  VoteResult = "failed"
	ResultTied    VoteResult = "tied"
)

// VoteResults is the tally for a vote. Result stays "pending" until the
// vote is closed, regardless of method.
type VoteResults struct {
	TotalEligible  int        `json:"total_eligible"`
	TotalCast      int        `json:"total_cast"`
	For            int        `json:"for"`
	Against        int        `json:"against"`
	Abstain        int        `json:"abstain"`
	ProxyCount     int        `json:"proxy_count"`
	QuorumRequired int        `json:"quorum_required"`
	QuorumMet      bool       `json:"quorum_met"`
	PercentageFor  float64    `json:"percentage_for"`
	Result         VoteResult `json:"result"`
	CalculatedAt   time.Time  `json:"calculated_at"`
}
