package models

import "time"

// TaskStatus represents the current state of a delegated task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task was admitted but has not started.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the child session is working.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusError indicates the task failed, timed out, or was cancelled.
	TaskStatusError TaskStatus = "error"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusError:
		return true
	default:
		return false
	}
}

// Active returns true while the task counts against the parent's concurrency limit.
func (s TaskStatus) Active() bool {
	return s == TaskStatusQueued || s == TaskStatusRunning
}

// DelegatedTask is one delegation from an orchestrating session to a subagent.
type DelegatedTask struct {
	// ID is unique per launch.
	ID string `json:"id"`
	// CallID identifies the delegating tool invocation, if the host supplied one.
	CallID string `json:"call_id,omitempty"`
	// ParentSessionID is the orchestrating session that delegated the work.
	ParentSessionID string `json:"parent_session_id"`
	// ChildSessionID is the subagent session, once created.
	ChildSessionID string `json:"child_session_id,omitempty"`
	// Caller is the identity of the delegating agent.
	Caller string `json:"caller"`
	// TargetAgent is the identity the work was delegated to.
	TargetAgent string `json:"target_agent"`
	// Category classifies the work for admission limits and completion gates.
	Category Category `json:"category"`
	// Description is the short summary shown in notifications.
	Description string `json:"description"`
	// Prompt is the full instruction text sent to the subagent.
	Prompt string `json:"prompt"`
	// IsBackground is true when the caller does not wait for the result.
	IsBackground bool `json:"is_background"`
	// Files are the normalized paths locked for this task.
	Files []string `json:"files,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// StartedAt is when the task was admitted.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is set once the task reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error holds the failure message for TaskStatusError.
	Error string `json:"error,omitempty"`
	// Output is the final, post-processed result text.
	Output string `json:"output,omitempty"`
}

// Clone returns a copy safe to hand to other goroutines.
func (t *DelegatedTask) Clone() *DelegatedTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.Files != nil {
		c.Files = append([]string(nil), t.Files...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
