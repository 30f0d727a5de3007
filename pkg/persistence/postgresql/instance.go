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

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts an instance; the step history travels inside the document.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	document, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (id, definition_id, organization_id, status, started_by, document, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.DefinitionID,
		instance.OrganizationID,
		string(instance.Status),
		instance.StartedBy,
		document,
		instance.StartedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "instance", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM workflow_instances WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "instance", id, err)
	}

	var instance models.WorkflowInstance

	err = json.Unmarshal(document, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	var where conditions

	if filter.OrganizationID != "" {
		where.add("organization_id = $%d", filter.OrganizationID)
	}

	if filter.DefinitionID != "" {
		where.add("definition_id = $%d", filter.DefinitionID)
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}

		where.add("status = ANY($%d)", pq.Array(statuses))
	}

	if filter.StartedBy != "" {
		where.add("started_by = $%d", filter.StartedBy)
	}

	query := "SELECT document FROM workflow_instances" + where.where() + " ORDER BY started_at DESC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		var instance models.WorkflowInstance

		err = json.Unmarshal(document, &instance)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
		}

		instances = append(instances, &instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}
