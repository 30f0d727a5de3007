package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// Statistics aggregates definition, instance and approval figures on demand.
type Statistics struct {
	persistence persistence.Persistence
}

func NewStatistics(persistence persistence.Persistence) *Statistics {
	return &Statistics{persistence: persistence}
}

// Compute returns the current figures of one organization.
func (s *Statistics) Compute(ctx context.Context, organizationID string) (*models.WorkflowStats, error) {
	definitions, err := s.persistence.DefinitionRepository().List(ctx, persistence.DefinitionFilter{OrganizationID: organizationID})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	instances, err := s.persistence.InstanceRepository().List(ctx, persistence.InstanceFilter{OrganizationID: organizationID})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	pending, err := s.persistence.ApprovalRepository().List(ctx, persistence.ApprovalFilter{
		OrganizationID: organizationID,
		Status:         models.ApprovalStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	stats := &models.WorkflowStats{
		TotalDefinitions:    len(definitions),
		TotalInstances:      len(instances),
		InstancesByCategory: make(map[string]int),
		PendingApprovals:    len(pending),
	}

	categories := make(map[string]models.WorkflowCategory, len(definitions))

	for _, definition := range definitions {
		categories[definition.ID] = definition.Category

		if definition.IsActive {
			stats.ActiveDefinitions++
		}
	}

	var totalCompletion time.Duration

	completedWithTime := 0

	for _, instance := range instances {
		switch instance.Status {
		case models.InstanceStatusRunning:
			stats.RunningInstances++
		case models.InstanceStatusCompleted:
			stats.CompletedInstances++

			if instance.CompletedAt != nil {
				totalCompletion += instance.CompletedAt.Sub(instance.StartedAt)
				completedWithTime++
			}
		case models.InstanceStatusFailed:
			stats.FailedInstances++
		}

		if category, ok := categories[instance.DefinitionID]; ok {
			stats.InstancesByCategory[string(category)]++
		}
	}

	if stats.TotalInstances > 0 {
		stats.CompletionRate = float64(stats.CompletedInstances) / float64(stats.TotalInstances)
	}

	if completedWithTime > 0 {
		stats.AverageCompletionTime = totalCompletion / time.Duration(completedWithTime)
	}

	return stats, nil
}
