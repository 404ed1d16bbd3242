package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/router"
)

// TaskStatus represents the lifecycle state of a dispatched task
type TaskStatus int

// Possible task statuses
const (
	TaskQueued TaskStatus = iota
	TaskDispatched
	TaskExecuting
	TaskCompleted
	TaskFailed
	TaskCancelled
	TaskTimeout
)

// String returns the string representation of TaskStatus
func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskDispatched:
		return "dispatched"
	case TaskExecuting:
		return "executing"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	case TaskTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final. Terminal tasks never move
// again; they are retained for a while and then purged to history.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskTimeout:
		return true
	default:
		return false
	}
}

// Attempt records one dispatch of a task to a service
type Attempt struct {
	Service string    `json:"service"`
	At      time.Time `json:"at"`
}

// Task is a unit of work flowing through the dispatcher. QueueTime is set
// once at submission and preserved across retries, so a retried task keeps
// its original place among equals.
type Task struct {
	ID                   string          `json:"id"`
	Type                 string          `json:"type"`
	Payload              json.RawMessage `json:"payload,omitempty"`
	Priority             router.Priority `json:"priority"`
	Submitter            string          `json:"submitter"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	Deadline             time.Time       `json:"deadline,omitempty"` // zero means none
	MaxRetries           int             `json:"max_retries"`
	QueueTime            time.Time       `json:"queue_time"`

	Status       TaskStatus      `json:"status"`
	AssignedTo   string          `json:"assigned_to,omitempty"`
	Attempts     []Attempt       `json:"attempts,omitempty"`
	RetryCount   int             `json:"retry_count"`
	DispatchedAt time.Time       `json:"dispatched_at,omitempty"`
	CompletedAt  time.Time       `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`

	// preferredTargets narrows candidate selection when a dispatch rule
	// matched at submission. Preferences are soft: they apply only while at
	// least one preferred service is available.
	preferredTargets []string
}

// SubmitRequest describes a task to submit
type SubmitRequest struct {
	Type                 string          `json:"type"`
	Payload              json.RawMessage `json:"payload,omitempty"`
	Priority             router.Priority `json:"priority"`
	Submitter            string          `json:"submitter"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	Deadline             time.Time       `json:"deadline,omitempty"`
	MaxRetries           int             `json:"max_retries"` // negative means dispatcher default
}

// newTask builds a queued task from a submit request
func newTask(req SubmitRequest, queueTime time.Time, defaultRetries int) *Task {
	retries := req.MaxRetries
	if retries < 0 {
		retries = defaultRetries
	}
	return &Task{
		ID:                   uuid.New().String(),
		Type:                 req.Type,
		Payload:              req.Payload,
		Priority:             req.Priority,
		Submitter:            req.Submitter,
		RequiredCapabilities: req.RequiredCapabilities,
		Deadline:             req.Deadline,
		MaxRetries:           retries,
		QueueTime:            queueTime,
		Status:               TaskQueued,
	}
}

// Validate checks a submit request at the intake boundary
func (r SubmitRequest) Validate() error {
	if r.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage,
			"SubmitRequest", "Validate", "type check")
	}
	if !r.Priority.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidPriority,
			"SubmitRequest", "Validate", "priority check")
	}
	return nil
}

// snapshot returns a detached copy safe to hand to callers
func (t *Task) snapshot() Task {
	out := *t
	out.Attempts = make([]Attempt, len(t.Attempts))
	copy(out.Attempts, t.Attempts)
	return out
}
