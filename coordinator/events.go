package coordinator

import (
	"log/slog"
	"time"
)

// Event kinds emitted to the monitoring sink
const (
	EventServiceRegistered   = "service_registered"
	EventServiceUnregistered = "service_unregistered"
	EventServiceEvicted      = "service_evicted"
	EventServiceStatus       = "service_status_changed"
	EventShutdownStarted     = "shutdown_started"
	EventShutdownComplete    = "shutdown_complete"
)

// Event is a fire-and-forget monitoring notification. Emitting must never
// block coordination work; sinks that need to do slow work buffer internally.
type Event struct {
	Kind    string    `json:"kind"`
	Service string    `json:"service,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// EventSink receives monitoring events
type EventSink interface {
	Emit(Event)
}

// logSink is the default sink: structured log lines, nothing else
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Emit(e Event) {
	s.logger.Info("coordination event",
		"kind", e.Kind,
		"service", e.Service,
		"detail", e.Detail)
}
