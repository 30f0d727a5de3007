package models

import "time"

// UnassignedApprover is the sentinel assignee of approval steps with no role or principal.
const UnassignedApprover = "UNASSIGNED"

type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "PENDING"
	ApprovalStatusApproved  ApprovalStatus = "APPROVED"
	ApprovalStatusRejected  ApprovalStatus = "REJECTED"
	ApprovalStatusDelegated ApprovalStatus = "DELEGATED"
	ApprovalStatusExpired   ApprovalStatus = "EXPIRED"
)

// ApprovalRequest is raised by the engine when an instance enters an APPROVAL step.
// It outlives the step as an audit record; only PENDING requests accept decisions.
type ApprovalRequest struct {
	ID             string         `json:"id"`
	InstanceID     string         `json:"instance_id"`
	StepID         string         `json:"step_id"`
	StepName       string         `json:"step_name"`
	DefinitionName string         `json:"definition_name"`
	OrganizationID string         `json:"organization_id"`
	RequestedBy    string         `json:"requested_by"`
	RequestedAt    time.Time      `json:"requested_at"`
	Assignee       string         `json:"assignee"`
	Status         ApprovalStatus `json:"status"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Data           map[string]any `json:"data"`
	Comments       string         `json:"comments,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	RespondedBy    string         `json:"responded_by,omitempty"`
	DelegatedTo    string         `json:"delegated_to,omitempty"`
	DelegatedToID  string         `json:"delegated_to_id,omitempty"`
	DelegatedFrom  string         `json:"delegated_from,omitempty"`
}

// IsPending reports whether the request still accepts a decision.
func (r *ApprovalRequest) IsPending() bool {
	return r.Status == ApprovalStatusPending
}

// Clone returns a deep copy of the request.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.Data = CopyVariables(r.Data)
	cloned.DueDate = copyTime(r.DueDate)
	cloned.RespondedAt = copyTime(r.RespondedAt)

	return &cloned
}
