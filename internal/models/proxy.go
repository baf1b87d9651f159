package models

import (
	"time"

	"github.com/google/uuid"
)

type ProxyScope string

const (
	ScopeAll          ProxyScope = "all"
	ScopeMeeting      ProxyScope = "meeting"
	ScopeSpecificVote ProxyScope = "specific_vote"
)

// ProxyAssignment delegates voting rights from the assignor to the
// assignee within a scope and validity window. Expired assignments remain
// in history but are excluded from eligibility checks.
type ProxyAssignment struct {
	ID         uuid.UUID  `json:"id"`
	AssignorID uuid.UUID  `json:"assignor_id"`
	AssigneeID uuid.UUID  `json:"assignee_id"`
	Scope      ProxyScope `json:"scope"`
	MeetingID  *uuid.UUID `json:"meeting_id,omitempty"`
	VoteID     *uuid.UUID `json:"vote_id,omitempty"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil time.Time  `json:"valid_until"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Active reports whether the assignment covers the given instant.
func (a ProxyAssignment) Active(now time.Time) bool {
	return !now.Before(a.ValidFrom) && now.Before(a.ValidUntil)
}

type ProxyRequestStatus string

const (
	ProxyRequestPending  ProxyRequestStatus = "pending"
	ProxyRequestAccepted ProxyRequestStatus = "accepted"
	ProxyRequestDeclined ProxyRequestStatus = "declined"
	ProxyRequestExpired  ProxyRequestStatus = "expired"
)

// ProxyRequest is a pending proposal to create a ProxyAssignment.
// Transitions: pending -> accepted | declined | expired (time-driven).
type ProxyRequest struct {
	ID          uuid.UUID          `json:"id"`
	AssignorID  uuid.UUID          `json:"assignor_id"`
	AssigneeID  uuid.UUID          `json:"assignee_id"`
	Scope       ProxyScope         `json:"scope"`
	MeetingID   *uuid.UUID         `json:"meeting_id,omitempty"`
	VoteID      *uuid.UUID         `json:"vote_id,omitempty"`
	ValidFrom   time.Time          `json:"valid_from"`
	ValidUntil  time.Time          `json:"valid_until"`
	Status      ProxyRequestStatus `json:"status"`
	ExpiresAt   time.Time          `json:"expires_at"`
	CreatedAt   time.Time          `json:"created_at"`
	RespondedAt *time.Time         `json:"responded_at,omitempty"`
}
