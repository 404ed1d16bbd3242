package registry

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/c360/coordinator/errors"
)

// Status represents the lifecycle state of a registered service
type Status int

// Possible service statuses
const (
	StatusStarting Status = iota
	StatusRunning
	StatusBusy // available but deprioritized by selection
	StatusStopping
	StatusStopped
	StatusError
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusBusy:
		return "busy"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Available reports whether a service in this status may be selected for work.
// Busy services remain selectable; scoring deprioritizes them instead.
func (s Status) Available() bool {
	return s == StatusRunning || s == StatusBusy
}

// Health score thresholds mapping a self-reported or probed score to a status
const (
	HealthyThreshold = 0.8
	BusyThreshold    = 0.5
)

// StatusForScore maps a health score to the corresponding service status
func StatusForScore(score float64) Status {
	switch {
	case score > HealthyThreshold:
		return StatusRunning
	case score > BusyThreshold:
		return StatusBusy
	default:
		return StatusError
	}
}

// allowedTransitions encodes the service lifecycle state machine.
// Any state may transition to error on health failure, and error recovers
// to running on a healthy heartbeat; those edges are listed explicitly.
var allowedTransitions = map[Status][]Status{
	StatusStarting: {StatusRunning, StatusStopping, StatusError},
	StatusRunning:  {StatusBusy, StatusStopping, StatusError},
	StatusBusy:     {StatusRunning, StatusStopping, StatusError},
	StatusStopping: {StatusRunning, StatusStopped, StatusError},
	StatusStopped:  {},
	StatusError:    {StatusRunning, StatusBusy, StatusStopping, StatusError},
}

// CanTransition reports whether the state machine permits moving from s to next
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	return slices.Contains(allowedTransitions[s], next)
}

// ServiceRecord is the authoritative description of a registered worker
// service: identity, declared capabilities, delivery endpoint, and liveness
// bookkeeping. Records are stored by value; the registry hands out copies so
// callers can never mutate shared state.
type ServiceRecord struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Version           string            `json:"version,omitempty"`
	Capabilities      []string          `json:"capabilities"`
	Endpoint          string            `json:"endpoint"`
	Status            Status            `json:"status"`
	HealthScore       float64           `json:"health_score"`
	RegisteredAt      time.Time         `json:"registered_at"`
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	HeartbeatInterval time.Duration     `json:"heartbeat_interval,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Validate checks the required fields at the registration boundary
func (r ServiceRecord) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidRecord, "ServiceRecord", "Validate", "id check")
	}
	if r.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidRecord, "ServiceRecord", "Validate", "name check")
	}
	if r.Endpoint == "" {
		return errors.WrapInvalid(errors.ErrInvalidRecord, "ServiceRecord", "Validate", "endpoint check")
	}
	if len(r.Capabilities) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: capabilities must be non-empty", errors.ErrInvalidRecord),
			"ServiceRecord", "Validate", "capabilities check")
	}
	return nil
}

// HasCapability reports whether the record declares the given capability
func (r ServiceRecord) HasCapability(capability string) bool {
	return slices.Contains(r.Capabilities, capability)
}

// HasCapabilities reports whether the record declares all given capabilities
func (r ServiceRecord) HasCapabilities(capabilities []string) bool {
	for _, c := range capabilities {
		if !r.HasCapability(c) {
			return false
		}
	}
	return true
}

// clone returns a deep copy so registry internals never escape
func (r ServiceRecord) clone() ServiceRecord {
	copied := r
	copied.Capabilities = slices.Clone(r.Capabilities)
	if r.Metadata != nil {
		copied.Metadata = maps.Clone(r.Metadata)
	}
	return copied
}

// Heartbeat carries a service's self-reported liveness payload
type Heartbeat struct {
	HealthScore float64           `json:"health_score"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
