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

type PostgresProxyRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresProxyRepository(pool *pgxpool.Pool) *PostgresProxyRepository {
	return &PostgresProxyRepository{pool: pool}
}

func (r *PostgresProxyRepository) CreateAssignment(ctx context.Context, assignment *models.ProxyAssignment) error {
	query := `INSERT INTO proxy_assignments (assignor_id, assignee_id, scope, meeting_id, vote_id,
	                                         valid_from, valid_until)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		assignment.AssignorID,
		assignment.AssigneeID,
		assignment.Scope,
		assignment.MeetingID,
		assignment.VoteID,
		assignment.ValidFrom,
		assignment.ValidUntil,
	).Scan(&assignment.ID, &assignment.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create proxy assignment: %w", err)
	}
	return nil
}

// ListAssignmentsForAssignee returns the full delegation history for a
// user, expired assignments included. Activity filtering happens in the
// voting engine against its own clock.
func (r *PostgresProxyRepository) ListAssignmentsForAssignee(ctx context.Context, assigneeID uuid.UUID) ([]models.ProxyAssignment, error) {
	query := `SELECT id, assignor_id, assignee_id, scope, meeting_id, vote_id,
	                 valid_from, valid_until, created_at
	          FROM proxy_assignments
	          WHERE assignee_id = $1
	          ORDER BY valid_from ASC`

	rows, err := r.pool.Query(ctx, query, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.ProxyAssignment
	for rows.Next() {
		var a models.ProxyAssignment
		err := rows.Scan(
			&a.ID,
			&a.AssignorID,
			&a.AssigneeID,
			&a.Scope,
			&a.MeetingID,
			&a.VoteID,
			&a.ValidFrom,
			&a.ValidUntil,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proxy assignments: %w", err)
	}
	return assignments, nil
}

func (r *PostgresProxyRepository) CreateRequest(ctx context.Context, request *models.ProxyRequest) error {
	query := `INSERT INTO proxy_requests (assignor_id, assignee_id, scope, meeting_id, vote_id,
	                                      valid_from, valid_until, status, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		request.AssignorID,
		request.AssigneeID,
		request.Scope,
		request.MeetingID,
		request.VoteID,
		request.ValidFrom,
		request.ValidUntil,
		request.Status,
		request.ExpiresAt,
	).Scan(&request.ID, &request.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create proxy request: %w", err)
	}
	return nil
}

func (r *PostgresProxyRepository) GetRequest(ctx context.Context, id uuid.UUID) (*models.ProxyRequest, error) {
	query := `SELECT id, assignor_id, assignee_id, scope, meeting_id, vote_id,
	                 valid_from, valid_until, status, expires_at, created_at, responded_at
	          FROM proxy_requests
	          WHERE id = $1`

	var req models.ProxyRequest
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.AssignorID,
		&req.AssigneeID,
		&req.Scope,
		&req.MeetingID,
		&req.VoteID,
		&req.ValidFrom,
		&req.ValidUntil,
		&req.Status,
		&req.ExpiresAt,
		&req.CreatedAt,
		&req.RespondedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy request: %w", err)
	}
	return &req, nil
}

func (r *PostgresProxyRepository) UpdateRequest(ctx context.Context, request *models.ProxyRequest) error {
	query := `UPDATE proxy_requests
	          SET status = $1, responded_at = $2
	          WHERE id = $3`

	result, err := r.pool.Exec(ctx, query, request.Status, request.RespondedAt, request.ID)
	if err != nil {
		return fmt.Errorf("failed to update proxy request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresProxyRepository) ListPendingRequests(ctx context.Context) ([]*models.ProxyRequest, error) {
	query := `SELECT id, assignor_id, assignee_id, scope, meeting_id, vote_id,
	                 valid_from, valid_until, status, expires_at, created_at, responded_at
	          FROM proxy_requests
	          WHERE status = 'pending'
	          ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.ProxyRequest
	for rows.Next() {
		var req models.ProxyRequest
		err := rows.Scan(
			&req.ID,
			&req.AssignorID,
			&req.AssigneeID,
			&req.Scope,
			&req.MeetingID,
			&req.VoteID,
			&req.ValidFrom,
			&req.ValidUntil,
			&req.Status,
			&req.ExpiresAt,
			&req.CreatedAt,
			&req.RespondedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy request: %w", err)
		}
		requests = append(requests, &req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proxy requests: %w", err)
	}
	return requests, nil
}
