// Package services implements definition lifecycle, instance execution, approval gates,
// templates and statistics on top of the persistence layer.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/persistence"
)

// Error classes. Every error returned by this package that is not an infrastructure
// failure wraps exactly one of them.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest         = fmt.Errorf("%w: invalid request", ErrValidation)
	ErrNameRequired           = fmt.Errorf("%w: name is required", ErrValidation)
	ErrOrganizationRequired   = fmt.Errorf("%w: organization is required", ErrValidation)
	ErrInvalidStepType        = fmt.Errorf("%w: invalid step type", ErrValidation)
	ErrInvalidPriority        = fmt.Errorf("%w: invalid priority", ErrValidation)
	ErrTooFewSteps            = fmt.Errorf("%w: workflow must have at least 2 steps", ErrValidation)
	ErrStartStepCount         = fmt.Errorf("%w: workflow must have exactly one START step", ErrValidation)
	ErrEndStepRequired        = fmt.Errorf("%w: workflow must have an END step", ErrValidation)
	ErrStartDefinitionMissing = fmt.Errorf("%w: workflow definition does not exist", ErrValidation)
	ErrDefinitionNotActive    = fmt.Errorf("%w: workflow definition is not active", ErrValidation)
	ErrNoStartStep            = fmt.Errorf("%w: workflow definition has no START step", ErrValidation)
	ErrInvalidVariables       = fmt.Errorf("%w: variables do not match their declarations", ErrValidation)
	ErrInvalidTemplate        = fmt.Errorf("%w: invalid template", ErrValidation)
)

// Conflict errors (409 Conflict): the operation is illegal in the entity's current state.
var (
	ErrVersionMismatch     = fmt.Errorf("%w: definition version changed", ErrConflict)
	ErrDefinitionInUse     = fmt.Errorf("%w: cannot delete workflow with running instances", ErrConflict)
	ErrInstanceNotRunning  = fmt.Errorf("%w: instance is not running", ErrConflict)
	ErrInstanceNotPaused   = fmt.Errorf("%w: instance is not paused", ErrConflict)
	ErrInstanceTerminal    = fmt.Errorf("%w: instance is already finished", ErrConflict)
	ErrInstanceNotFailed   = fmt.Errorf("%w: instance is not in failed state", ErrConflict)
	ErrNoFailedStep        = fmt.Errorf("%w: no failed step to retry", ErrConflict)
	ErrNotAwaitingTask     = fmt.Errorf("%w: instance is not waiting on a human task", ErrConflict)
	ErrNotAwaitingApproval = fmt.Errorf("%w: instance is not waiting for approval", ErrConflict)
	ErrApprovalNotPending  = fmt.Errorf("%w: approval request is not pending", ErrConflict)
)

// Not found errors (404 Not Found) are the persistence sentinels.
var (
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound
	ErrInstanceNotFound   = persistence.ErrInstanceNotFound
	ErrApprovalNotFound   = persistence.ErrApprovalNotFound
	ErrTemplateNotFound   = persistence.ErrTemplateNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || persistence.IsNotFound(err)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
