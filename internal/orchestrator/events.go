package orchestrator

import (
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskQueued indicates a task passed every gate and is tracked.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates the child session received its prompt.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task finished with output.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed or timed out.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled explicitly.
	EventTaskCancelled EventType = "task_cancelled"
	// EventTaskRejected indicates a delegation was refused by a gate.
	EventTaskRejected EventType = "task_rejected"
	// EventClarificationRequested indicates a subagent asked a question.
	EventClarificationRequested EventType = "clarification_requested"
	// EventApprovalRecorded indicates a verifier verdict reached the ledger.
	EventApprovalRecorded EventType = "approval_recorded"
)

// Event is emitted on every task lifecycle change. Subscribers such as the
// dashboard read them from EventEmitter.Events.
type Event struct {
	Type            EventType
	TaskID          string
	ParentSessionID string
	// SessionID is the child session, when one exists.
	SessionID string
	Agent     string
	Category  models.Category
	// Message provides additional context about the event.
	Message   string
	Error     error
	Timestamp time.Time
	// Duration is the task's elapsed time for terminal events.
	Duration time.Duration
}

func taskEvent(t EventType, task *models.DelegatedTask, now time.Time) Event {
	return Event{
		Type:            t,
		TaskID:          task.ID,
		ParentSessionID: task.ParentSessionID,
		SessionID:       task.ChildSessionID,
		Agent:           task.TargetAgent,
		Category:        task.Category,
		Timestamp:       now,
		Duration:        now.Sub(task.StartedAt),
	}
}
