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
)

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts a definition.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	document, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, organization_id, category, is_active, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			category = EXCLUDED.category,
			is_active = EXCLUDED.is_active,
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.OrganizationID,
		string(definition.Category),
		definition.IsActive,
		definition.Version,
		document,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "definition", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM workflow_definitions WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "definition", id, err)
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(document, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", id, err)
	}

	return &definition, nil
}

func (r *DefinitionRepository) List(ctx context.Context, filter persistence.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	var where conditions

	if filter.OrganizationID != "" {
		where.add("organization_id = $%d", filter.OrganizationID)
	}

	if filter.Category != "" {
		where.add("category = $%d", string(filter.Category))
	}

	if filter.IsActive != nil {
		where.add("is_active = $%d", *filter.IsActive)
	}

	query := "SELECT document FROM workflow_definitions" + where.where() + " ORDER BY created_at DESC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		var definition models.WorkflowDefinition

		err = json.Unmarshal(document, &definition)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
		}

		definitions = append(definitions, &definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id)
	if err != nil {
		return persistence.NewEntityError("Delete", "definition", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("Delete", "definition", id, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}
