package orchestrator

import (
	"errors"
	"fmt"
)

// Hook names prefix every rejection surfaced to the delegating agent.
const (
	HookHierarchy   = "hierarchy-enforcer"
	HookFileLock    = "file-lock-guard"
	HookConcurrency = "concurrency-limiter"
	HookApproval    = "approval-gate"
	HookConvergence = "task-convergence"
)

// Rejection categories.
const (
	CategoryHierarchyViolation = "HIERARCHY VIOLATION"
	CategoryFileConflict       = "FILE CONFLICT"
	CategoryParallelLimit      = "PARALLEL LIMIT"
	CategoryApprovalRequired   = "APPROVAL REQUIRED"
	CategoryPlanStale          = "PLAN VERIFICATION STALE"
	CategoryConvergenceTimeout = "CONVERGENCE TIMEOUT"
)

var (
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid delegation request")
	// ErrUnknownTask is returned for task IDs that are not tracked.
	ErrUnknownTask = errors.New("unknown task")
	// ErrDuplicateCall is returned when a call ID already has an active task.
	ErrDuplicateCall = errors.New("delegation call already active")
	// ErrCancelled is returned by a synchronous delegation cancelled mid-wait.
	ErrCancelled = errors.New("delegation cancelled")
)

// HookError is a rejection rendered for an LLM caller as
// "[<hook>] <CATEGORY>: <explanation>". Err keeps the typed cause.
type HookError struct {
	Hook     string
	Category string
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Hook, e.Category, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func hookError(hook, category string, err error) *HookError {
	return &HookError{Hook: hook, Category: category, Err: err}
}
