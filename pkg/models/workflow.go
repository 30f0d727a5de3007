// Package models defines the core domain models for approval-gated workflow automation
package models

import "time"

// WorkflowCategory groups definitions by the business process they model.
type WorkflowCategory string

const (
	CategoryInvoiceProcessing   WorkflowCategory = "INVOICE_PROCESSING"
	CategoryApprovalWorkflow    WorkflowCategory = "APPROVAL_WORKFLOW"
	CategoryEmployeeOnboarding  WorkflowCategory = "EMPLOYEE_ONBOARDING"
	CategoryEmployeeOffboarding WorkflowCategory = "EMPLOYEE_OFFBOARDING"
	CategoryExpenseApproval     WorkflowCategory = "EXPENSE_APPROVAL"
	CategoryPurchaseOrder       WorkflowCategory = "PURCHASE_ORDER"
	CategoryContractManagement  WorkflowCategory = "CONTRACT_MANAGEMENT"
	CategoryComplianceCheck     WorkflowCategory = "COMPLIANCE_CHECK"
	CategoryDocumentReview      WorkflowCategory = "DOCUMENT_REVIEW"
	CategoryCustomerSupport     WorkflowCategory = "CUSTOMER_SUPPORT"
	CategorySalesPipeline       WorkflowCategory = "SALES_PIPELINE"
	CategoryCustom              WorkflowCategory = "CUSTOM"
)

// LocalizedText holds the translated name and description of an entity for one locale.
type LocalizedText struct {
	Name        string `json:"name"                  yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// WorkflowDefinition is the reusable, versioned description of a process.
// Its steps run in ascending Order; the successor of a step is the step with Order+1.
type WorkflowDefinition struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	Description    string                   `json:"description"`
	Locales        map[string]LocalizedText `json:"locales,omitempty"`
	Version        int                      `json:"version"`
	Category       WorkflowCategory         `json:"category"`
	Steps          []*WorkflowStep          `json:"steps"`
	Triggers       []*WorkflowTrigger       `json:"triggers"`
	Variables      []*WorkflowVariable      `json:"variables"`
	IsActive       bool                     `json:"is_active"`
	OrganizationID string                   `json:"organization_id"`
	CreatedBy      string                   `json:"created_by"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// StartStep returns the first step of type START, or nil.
func (d *WorkflowDefinition) StartStep() *WorkflowStep {
	for _, step := range d.Steps {
		if step.Type == StepTypeStart {
			return step
		}
	}

	return nil
}

// StepByID returns the step with the given id, or nil.
func (d *WorkflowDefinition) StepByID(id string) *WorkflowStep {
	for _, step := range d.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// StepByOrder returns the step at the given 1-based order, or nil.
func (d *WorkflowDefinition) StepByOrder(order int) *WorkflowStep {
	for _, step := range d.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// Successor returns the step following step in order, or nil when there is none.
func (d *WorkflowDefinition) Successor(step *WorkflowStep) *WorkflowStep {
	if step == nil {
		return nil
	}

	return d.StepByOrder(step.Order + 1)
}

// CountSteps returns how many steps have the given type.
func (d *WorkflowDefinition) CountSteps(stepType StepType) int {
	count := 0

	for _, step := range d.Steps {
		if step.Type == stepType {
			count++
		}
	}

	return count
}

// Clone returns a deep copy of the definition.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}

	cloned := *d
	cloned.Locales = cloneLocales(d.Locales)

	cloned.Steps = make([]*WorkflowStep, 0, len(d.Steps))
	for _, step := range d.Steps {
		if step != nil {
			cloned.Steps = append(cloned.Steps, step.Clone())
		}
	}

	cloned.Triggers = make([]*WorkflowTrigger, 0, len(d.Triggers))
	for _, trigger := range d.Triggers {
		if trigger != nil {
			cloned.Triggers = append(cloned.Triggers, trigger.Clone())
		}
	}

	cloned.Variables = make([]*WorkflowVariable, 0, len(d.Variables))
	for _, variable := range d.Variables {
		if variable != nil {
			cloned.Variables = append(cloned.Variables, variable.Clone())
		}
	}

	return &cloned
}

func cloneLocales(locales map[string]LocalizedText) map[string]LocalizedText {
	if locales == nil {
		return nil
	}

	cloned := make(map[string]LocalizedText, len(locales))
	for locale, text := range locales {
		cloned[locale] = text
	}

	return cloned
}
