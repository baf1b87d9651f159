package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiborg-ai/boardsync/internal/models"
)

type PostgresVoteRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresVoteRepository(pool *pgxpool.Pool) *PostgresVoteRepository {
	return &PostgresVoteRepository{pool: pool}
}

func (r *PostgresVoteRepository) Create(ctx context.Context, vote *models.Vote) error {
	query := `INSERT INTO votes (meeting_id, title, status, start_time, end_time, eligible_voters,
	                             voting_method, required_threshold, allow_abstention, is_anonymous, version)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	          RETURNING id, version, created_at`

	err := r.pool.QueryRow(ctx, query,
		vote.MeetingID,
		vote.Title,
		vote.Status,
		vote.StartTime,
		vote.EndTime,
		vote.EligibleVoters,
		vote.VotingMethod,
		vote.RequiredThreshold,
		vote.AllowAbstention,
		vote.IsAnonymous,
	).Scan(&vote.ID, &vote.Version, &vote.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create vote: %w", err)
	}
	return nil
}

func (r *PostgresVoteRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vote, error) {
	query := `SELECT id, meeting_id, title, status, start_time, end_time, eligible_voters,
	                 voting_method, required_threshold, allow_abstention, is_anonymous, results,
	                 version, created_at, updated_at
	          FROM votes
	          WHERE id = $1`

	var vote models.Vote
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&vote.ID,
		&vote.MeetingID,
		&vote.Title,
		&vote.Status,
		&vote.StartTime,
		&vote.EndTime,
		&vote.EligibleVoters,
		&vote.VotingMethod,
		&vote.RequiredThreshold,
		&vote.AllowAbstention,
		&vote.IsAnonymous,
		&vote.Results,
		&vote.Version,
		&vote.CreatedAt,
		&vote.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote by ID: %w", err)
	}

	if err := r.loadCastVotes(ctx, &vote); err != nil {
		return nil, err
	}
	return &vote, nil
}

func (r *PostgresVoteRepository) loadCastVotes(ctx context.Context, vote *models.Vote) error {
	query := `SELECT id, vote_id, voter_id, choice, is_proxy, proxy_for, cast_at,
	                 encrypted_ballot, nonce, signature
	          FROM cast_votes
	          WHERE vote_id = $1
	          ORDER BY cast_at ASC`

	rows, err := r.pool.Query(ctx, query, vote.ID)
	if err != nil {
		return fmt.Errorf("failed to query cast votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cast models.CastVote
		err := rows.Scan(
			&cast.ID,
			&cast.VoteID,
			&cast.VoterID,
			&cast.Choice,
			&cast.IsProxy,
			&cast.ProxyFor,
			&cast.CastAt,
			&cast.EncryptedBallot,
			&cast.Nonce,
			&cast.Signature,
		)
		if err != nil {
			return fmt.Errorf("failed to scan cast vote: %w", err)
		}
		vote.CastVotes = append(vote.CastVotes, cast)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating cast votes: %w", err)
	}
	return nil
}

// Update writes the vote's mutable fields with optimistic locking: the
// WHERE clause pins the version the caller read, so a concurrent writer
// surfaces as ErrVersionConflict instead of a silent overwrite.
func (r *PostgresVoteRepository) Update(ctx context.Context, vote *models.Vote) error {
	query := `UPDATE votes
	          SET status = $1,
	              start_time = $2,
	              end_time = $3,
	              eligible_voters = $4,
	              required_threshold = $5,
	              results = $6,
	              version = version + 1,
	              updated_at = NOW()
	          WHERE id = $7 AND version = $8
	          RETURNING version, updated_at`

	var newVersion int64
	err := r.pool.QueryRow(ctx, query,
		vote.Status,
		vote.StartTime,
		vote.EndTime,
		vote.EligibleVoters,
		vote.RequiredThreshold,
		vote.Results,
		vote.ID,
		vote.Version,
	).Scan(&newVersion, &vote.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update vote: %w", err)
	}

	vote.Version = newVersion
	return nil
}

// AppendCastVote inserts one immutable cast-vote record. There is no
// update path for cast_votes rows.
func (r *PostgresVoteRepository) AppendCastVote(ctx context.Context, voteID uuid.UUID, cast models.CastVote) error {
	query := `INSERT INTO cast_votes (id, vote_id, voter_id, choice, is_proxy, proxy_for, cast_at,
	                                  encrypted_ballot, nonce, signature)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		cast.ID,
		voteID,
		cast.VoterID,
		cast.Choice,
		cast.IsProxy,
		cast.ProxyFor,
		cast.CastAt,
		cast.EncryptedBallot,
		cast.Nonce,
		cast.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to append cast vote: %w", err)
	}
	return nil
}

func (r *PostgresVoteRepository) ListByStatus(ctx context.Context, status models.VoteStatus) ([]*models.Vote, error) {
	query := `SELECT id, meeting_id, title, status, start_time, end_time, eligible_voters,
	                 voting_method, required_threshold, allow_abstention, is_anonymous, results,
	                 version, created_at, updated_at
	          FROM votes
	          WHERE status = $1
	          ORDER BY start_time ASC`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var votes []*models.Vote
	for rows.Next() {
		var vote models.Vote
		err := rows.Scan(
			&vote.ID,
			&vote.MeetingID,
			&vote.Title,
			&vote.Status,
			&vote.StartTime,
			&vote.EndTime,
			&vote.EligibleVoters,
			&vote.VotingMethod,
			&vote.RequiredThreshold,
			&vote.AllowAbstention,
			&vote.IsAnonymous,
			&vote.Results,
			&vote.Version,
			&vote.CreatedAt,
			&vote.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, &vote)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return votes, nil
}
