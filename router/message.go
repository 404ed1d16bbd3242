package router

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/coordinator/errors"
)

// Priority stratifies message processing order. Each priority level has its
// own bounded queue and worker pool so critical traffic is never starved by
// lower-priority backlog.
type Priority int

// Message priorities, most urgent last
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	numPriorities = 4
)

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined priority levels
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Well-known message types used by the coordination core. The type field is
// an open string; these are the values the core itself produces and consumes.
const (
	TypeHeartbeat     = "heartbeat"
	TypeHealthCheck   = "health_check"
	TypeError         = "error"
	TypeAlert         = "alert"
	TypeCommand       = "command"
	TypeRequest       = "request"
	TypeResponse      = "response"
	TypeTaskRequest   = "task_request"
	TypeTaskCompleted = "task_completed"
	TypeTaskFailed    = "task_failed"
)

// DerivePriority maps a message type to a priority bucket, used when the
// producer declared none.
func DerivePriority(messageType string) Priority {
	switch messageType {
	case TypeHeartbeat, TypeHealthCheck:
		return PriorityLow
	case TypeError, TypeAlert:
		return PriorityCritical
	case TypeCommand, TypeRequest, TypeTaskRequest:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Message is the unit of communication between services. Messages are
// immutable after creation: construct them with NewMessage and the
// functional options, never mutate one that has been routed.
type Message struct {
	ID            string          `json:"id"`
	Source        string          `json:"source"`
	Target        string          `json:"target,omitempty"` // empty means handler or broadcast delivery
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Priority      Priority        `json:"priority"`
	ExpiresAt     time.Time       `json:"expires_at,omitempty"` // zero means no TTL
}

// MessageOption is a functional option for configuring Message construction
type MessageOption func(*Message)

// WithTarget addresses the message to a specific service id
func WithTarget(target string) MessageOption {
	return func(m *Message) {
		m.Target = target
	}
}

// WithPriority overrides the priority derived from the message type
func WithPriority(p Priority) MessageOption {
	return func(m *Message) {
		m.Priority = p
	}
}

// WithCorrelationID links this message to a request/response exchange
func WithCorrelationID(id string) MessageOption {
	return func(m *Message) {
		m.CorrelationID = id
	}
}

// WithTTL sets an expiry; messages past it are dropped, never delivered
func WithTTL(ttl time.Duration) MessageOption {
	return func(m *Message) {
		m.ExpiresAt = m.Timestamp.Add(ttl)
	}
}

// WithTime sets a specific creation timestamp instead of time.Now().
// Useful for tests.
func WithTime(ts time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = ts
	}
}

// NewMessage creates an immutable message with a generated id. The priority
// defaults to the bucket derived from the message type.
func NewMessage(messageType string, payload json.RawMessage, source string, opts ...MessageOption) Message {
	m := Message{
		ID:        uuid.New().String(),
		Source:    source,
		Type:      messageType,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  DerivePriority(messageType),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Expired reports whether the message's TTL has passed
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// Validate performs boundary validation before a message enters a queue
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Message", "Validate", "id check")
	}
	if m.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Message", "Validate", "type check")
	}
	if !m.Priority.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidPriority, "Message", "Validate", "priority check")
	}
	return nil
}
