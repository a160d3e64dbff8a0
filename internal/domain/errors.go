package domain

import "errors"

// Engine failure kinds. Callers branch with errors.Is; wrapped messages carry
// the detail.
var (
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrDefinitionInactive = errors.New("workflow definition is not active")
	ErrDefinitionInvalid  = errors.New("workflow definition is invalid")

	ErrExecutionNotFound = errors.New("workflow execution not found")
	ErrExecutionFinished = errors.New("workflow execution already finished")

	ErrNoApproverAssigned   = errors.New("no approver resolved for stage")
	ErrUnauthorizedApprover = errors.New("actor is not an assignee for this stage")

	// ErrStaleStageAction: the targeted stage exists but is not the current one.
	ErrStaleStageAction = errors.New("stage is not the current stage")

	// ErrStageAlreadyResolved is an idempotent outcome, not a hard failure:
	// the caller gets the current execution state back so retries are safe.
	ErrStageAlreadyResolved = errors.New("stage already resolved")

	ErrCommentsRequired      = errors.New("comments are required for this action")
	ErrConditionFailedNoSkip = errors.New("stage condition failed and skipping is disabled")
	ErrInvalidBranchTarget   = errors.New("action references an unknown stage")
	ErrDirectoryUnavailable  = errors.New("approver directory unavailable")
	ErrInvalidAction         = errors.New("unknown stage action")
)
