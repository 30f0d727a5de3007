package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/lib/pq"
)

// ApprovalRepository handles approval request database operations.
// The seq column keeps the order requests were first stored in.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ApprovalRepository) Save(ctx context.Context, request *models.ApprovalRequest) error {
	document, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal approval request: %w", err)
	}

	query := `
		INSERT INTO approval_requests (id, instance_id, organization_id, assignee, status, document, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			assignee = EXCLUDED.assignee,
			status = EXCLUDED.status,
			document = EXCLUDED.document
	`

	_, err = r.db.ExecContext(ctx, query,
		request.ID,
		request.InstanceID,
		request.OrganizationID,
		request.Assignee,
		string(request.Status),
		document,
		request.RequestedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "approval", request.ID, err)
	}

	return nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM approval_requests WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "approval", id, persistence.ErrApprovalNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "approval", id, err)
	}

	var request models.ApprovalRequest

	err = json.Unmarshal(document, &request)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval request %s: %w", id, err)
	}

	return &request, nil
}

func (r *ApprovalRepository) List(ctx context.Context, filter persistence.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	var where conditions

	if filter.OrganizationID != "" {
		where.add("organization_id = $%d", filter.OrganizationID)
	}

	if filter.InstanceID != "" {
		where.add("instance_id = $%d", filter.InstanceID)
	}

	if filter.Status != "" {
		where.add("status = $%d", string(filter.Status))
	}

	if len(filter.Assignees) > 0 {
		where.add("assignee = ANY($%d)", pq.Array(filter.Assignees))
	}

	query := "SELECT document FROM approval_requests" + where.where() + " ORDER BY seq ASC"

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	requests := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}

		var request models.ApprovalRequest

		err = json.Unmarshal(document, &request)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval request: %w", err)
		}

		requests = append(requests, &request)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approval requests: %w", err)
	}

	return requests, nil
}
