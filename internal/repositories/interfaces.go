package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when optimistic locking fails: the vote
// was modified by another session between read and write.
var ErrVersionConflict = errors.New("version conflict: vote was modified by another session")

type VoteRepository interface {
	Create(ctx context.Context, vote *models.Vote) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vote, error)
	Update(ctx context.Context, vote *models.Vote) error
	AppendCastVote(ctx context.Context, voteID uuid.UUID, cast models.CastVote) error
	ListByStatus(ctx context.Context, status models.VoteStatus) ([]*models.Vote, error)
}

type BallotRepository interface {
	Save(ctx context.Context, ballot *models.Ballot) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ballot, error)
}

type ProxyRepository interface {
	CreateAssignment(ctx context.Context, assignment *models.ProxyAssignment) error
	ListAssignmentsForAssignee(ctx context.Context, assigneeID uuid.UUID) ([]models.ProxyAssignment, error)
	CreateRequest(ctx context.Context, request *models.ProxyRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.ProxyRequest, error)
	UpdateRequest(ctx context.Context, request *models.ProxyRequest) error
	ListPendingRequests(ctx context.Context) ([]*models.ProxyRequest, error)
}
