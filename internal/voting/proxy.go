package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
)

var ErrRequestNotPending = errors.New("proxy request is not pending")

// GetProxyCapabilities lists the principals the user may currently vote
// for on the given vote: only assignments that are active now and whose
// scope covers this vote or its meeting.
func (e *Engine) GetProxyCapabilities(ctx context.Context, userID, voteID uuid.UUID) ([]models.ProxyAssignment, error) {
	vote, err := e.votes.GetByID(ctx, voteID)
	if err != nil {
		return nil, err
	}

	assignments, err := e.proxies.ListAssignmentsForAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var capable []models.ProxyAssignment
	for _, a := range assignments {
		if !a.Active(now) {
			continue
		}
		if scopeCovers(a, vote) {
			capable = append(capable, a)
		}
	}
	return capable, nil
}

func (e *Engine) canProxyFor(ctx context.Context, userID, principal uuid.UUID, vote *models.Vote) (bool, error) {
	assignments, err := e.proxies.ListAssignmentsForAssignee(ctx, userID)
	if err != nil {
		return false, err
	}
	now := e.now()
	for _, a := range assignments {
		if a.AssignorID == principal && a.Active(now) && scopeCovers(a, vote) {
			return true, nil
		}
	}
	return false, nil
}

func scopeCovers(a models.ProxyAssignment, vote *models.Vote) bool {
	switch a.Scope {
	case models.ScopeAll:
		return true
	case models.ScopeSpecificVote:
		return a.VoteID != nil && *a.VoteID == vote.ID
	case models.ScopeMeeting:
		return a.MeetingID != nil && vote.MeetingID != nil && *a.MeetingID == *vote.MeetingID
	default:
		return false
	}
}

// RequestProxy files a pending delegation proposal.
func (e *Engine) RequestProxy(ctx context.Context, request *models.ProxyRequest) error {
	if request.AssignorID == request.AssigneeID {
		return errors.New("cannot delegate voting rights to oneself")
	}
	request.Status = models.ProxyRequestPending
	if request.ExpiresAt.IsZero() {
		// An unanswered request stays open until the delegation window
		// itself ends.
		request.ExpiresAt = request.ValidUntil
	}
	request.CreatedAt = e.now()
	return e.proxies.CreateRequest(ctx, request)
}

// RespondProxyRequest accepts or declines a pending request. Accepting
// creates the ProxyAssignment carrying the requested scope and validity
// window. A request past its expiry is marked expired instead.
func (e *Engine) RespondProxyRequest(ctx context.Context, requestID uuid.UUID, accept bool) (*models.ProxyAssignment, error) {
	request, err := e.proxies.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.ProxyRequestPending {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotPending, request.Status)
	}

	now := e.now()
	if now.After(request.ExpiresAt) {
		request.Status = models.ProxyRequestExpired
		request.RespondedAt = &now
		if err := e.proxies.UpdateRequest(ctx, request); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: expired", ErrRequestNotPending)
	}

	request.RespondedAt = &now
	if !accept {
		request.Status = models.ProxyRequestDeclined
		return nil, e.proxies.UpdateRequest(ctx, request)
	}

	request.Status = models.ProxyRequestAccepted
	if err := e.proxies.UpdateRequest(ctx, request); err != nil {
		return nil, err
	}

	assignment := &models.ProxyAssignment{
		AssignorID: request.AssignorID,
		AssigneeID: request.AssigneeID,
		Scope:      request.Scope,
		MeetingID:  request.MeetingID,
		VoteID:     request.VoteID,
		ValidFrom:  request.ValidFrom,
		ValidUntil: request.ValidUntil,
		CreatedAt:  now,
	}
	if err := e.proxies.CreateAssignment(ctx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

// ExpireProxyRequests sweeps pending requests past their expiry. Returns
// the number transitioned.
func (e *Engine) ExpireProxyRequests(ctx context.Context) (int, error) {
	pending, err := e.proxies.ListPendingRequests(ctx)
	if err != nil {
		return 0, err
	}

	now := e.now()
	expired := 0
	for _, request := range pending {
		if !now.After(request.ExpiresAt) {
			continue
		}
		request.Status = models.ProxyRequestExpired
		ts := now
		request.RespondedAt = &ts
		if err := e.proxies.UpdateRequest(ctx, request); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
