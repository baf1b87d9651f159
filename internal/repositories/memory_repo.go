package repositories

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
)

// MemoryVoteRepository holds votes in memory. It backs tests and the
// offline tier of the voting engine, where votes and ballots known locally
// remain usable without a network.
type MemoryVoteRepository struct {
	mu    sync.Mutex
	votes map[uuid.UUID]*models.Vote
}

func NewMemoryVoteRepository() *MemoryVoteRepository {
	return &MemoryVoteRepository{votes: make(map[uuid.UUID]*models.Vote)}
}

func (r *MemoryVoteRepository) Create(_ context.Context, vote *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vote.ID == uuid.Nil {
		vote.ID = uuid.New()
	}
	cp := cloneVote(vote)
	r.votes[vote.ID] = cp
	return nil
}

func (r *MemoryVoteRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vote, ok := r.votes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVote(vote), nil
}

func (r *MemoryVoteRepository) Update(_ context.Context, vote *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.votes[vote.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != vote.Version {
		return ErrVersionConflict
	}
	cp := cloneVote(vote)
	cp.Version++
	r.votes[vote.ID] = cp
	vote.Version = cp.Version
	return nil
}

func (r *MemoryVoteRepository) AppendCastVote(_ context.Context, voteID uuid.UUID, cast models.CastVote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vote, ok := r.votes[voteID]
	if !ok {
		return ErrNotFound
	}
	vote.CastVotes = append(vote.CastVotes, cast)
	return nil
}

func (r *MemoryVoteRepository) ListByStatus(_ context.Context, status models.VoteStatus) ([]*models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Vote
	for _, v := range r.votes {
		if v.Status == status {
			out = append(out, cloneVote(v))
		}
	}
	return out, nil
}

func cloneVote(v *models.Vote) *models.Vote {
	cp := *v
	cp.EligibleVoters = append([]uuid.UUID(nil), v.EligibleVoters...)
	cp.CastVotes = append([]models.CastVote(nil), v.CastVotes...)
	if v.Results != nil {
		res := *v.Results
		cp.Results = &res
	}
	return &cp
}

type MemoryBallotRepository struct {
	mu      sync.Mutex
	ballots map[uuid.UUID]*models.Ballot
}

func NewMemoryBallotRepository() *MemoryBallotRepository {
	return &MemoryBallotRepository{ballots: make(map[uuid.UUID]*models.Ballot)}
}

func (r *MemoryBallotRepository) Save(_ context.Context, ballot *models.Ballot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ballot
	r.ballots[ballot.ID] = &cp
	return nil
}

func (r *MemoryBallotRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Ballot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ballot, ok := r.ballots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ballot
	return &cp, nil
}

type MemoryProxyRepository struct {
	mu          sync.Mutex
	assignments []models.ProxyAssignment
	requests    map[uuid.UUID]*models.ProxyRequest
}

func NewMemoryProxyRepository() *MemoryProxyRepository {
	return &MemoryProxyRepository{requests: make(map[uuid.UUID]*models.ProxyRequest)}
}

func (r *MemoryProxyRepository) CreateAssignment(_ context.Context, assignment *models.ProxyAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	r.assignments = append(r.assignments, *assignment)
	return nil
}

func (r *MemoryProxyRepository) ListAssignmentsForAssignee(_ context.Context, assigneeID uuid.UUID) ([]models.ProxyAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProxyAssignment
	for _, a := range r.assignments {
		if a.AssigneeID == assigneeID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryProxyRepository) CreateRequest(_ context.Context, request *models.ProxyRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	cp := *request
	r.requests[request.ID] = &cp
	return nil
}

func (r *MemoryProxyRepository) GetRequest(_ context.Context, id uuid.UUID) (*models.ProxyRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *MemoryProxyRepository) UpdateRequest(_ context.Context, request *models.ProxyRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[request.ID]; !ok {
		return ErrNotFound
	}
	cp := *request
	r.requests[request.ID] = &cp
	return nil
}

func (r *MemoryProxyRepository) ListPendingRequests(_ context.Context) ([]*models.ProxyRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ProxyRequest
	for _, req := range r.requests {
		if req.Status == models.ProxyRequestPending {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}
