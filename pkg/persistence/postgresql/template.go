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

// TemplateRepository handles custom template database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	document, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (id, category, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			document = EXCLUDED.document
	`

	_, err = r.db.ExecContext(ctx, query, template.ID, string(template.Category), document, template.CreatedAt)
	if err != nil {
		return persistence.NewEntityError("Save", "template", template.ID, err)
	}

	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM workflow_templates WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "template", id, err)
	}

	var template models.WorkflowTemplate

	err = json.Unmarshal(document, &template)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}

	return &template, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM workflow_templates ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		var document []byte

		err := rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		var template models.WorkflowTemplate

		err = json.Unmarshal(document, &template)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal template: %w", err)
		}

		templates = append(templates, &template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}
