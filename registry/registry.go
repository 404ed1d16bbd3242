// Package registry maintains the authoritative map of registered worker
// services. It is the single source of truth for "who exists and is it
// alive": the router, dispatcher, and health monitor all consult it at the
// moment of action rather than caching membership.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/metric"
)

// EventKind classifies registry change notifications
type EventKind int

// Possible registry event kinds
const (
	EventRegistered EventKind = iota
	EventUnregistered
	EventEvicted
	EventStatusChanged
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventEvicted:
		return "evicted"
	case EventStatusChanged:
		return "status_changed"
	default:
		return "unknown"
	}
}

// Event describes a registry change delivered to subscribers
type Event struct {
	Kind   EventKind
	Record ServiceRecord
}

// Listener receives registry change events. Callbacks run synchronously
// under no registry lock; they must not call back into the registry's
// mutating methods from the same goroutine chain.
type Listener func(Event)

// Option is a functional option for configuring the Registry
type Option func(*Registry)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry used for registry gauges
func WithMetrics(metrics *metric.Registry) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// Registry manages service records in memory. All state is rebuilt from
// scratch on restart; services must re-register.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]ServiceRecord
	listeners []Listener
	logger    *slog.Logger
	metrics   *metric.Registry
	now       func() time.Time // injectable clock for tests
}

// New creates an empty service registry
func New(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]ServiceRecord),
		logger:  slog.Default().With("component", "registry"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds a listener for registry change events
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register adds a new service record. The record becomes queryable by id and
// by capability; its status is forced to running and lastHeartbeat to now.
func (r *Registry) Register(record ServiceRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.records[record.ID]; exists {
		r.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateService, record.ID),
			"Registry", "Register", "duplicate id check")
	}

	now := r.now()
	record = record.clone()
	record.Status = StatusRunning
	record.HealthScore = 1.0
	record.RegisteredAt = now
	record.LastHeartbeat = now

	r.records[record.ID] = record
	listeners := r.snapshotListeners()
	count := len(r.records)
	r.mu.Unlock()

	r.logger.Info("service registered",
		"service_id", record.ID,
		"name", record.Name,
		"capabilities", record.Capabilities)
	r.recordGauges(record, count)
	notify(listeners, Event{Kind: EventRegistered, Record: record})
	return nil
}

// Unregister removes a service record. Idempotent: removing an absent id is
// a no-op, not an error.
func (r *Registry) Unregister(id string) {
	r.remove(id, EventUnregistered)
}

// Evict removes a service record because its heartbeat went stale. The
// distinct event kind lets dependents discard in-flight accounting.
func (r *Registry) Evict(id string) {
	r.remove(id, EventEvicted)
}

func (r *Registry) remove(id string, kind EventKind) {
	r.mu.Lock()
	record, exists := r.records[id]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.records, id)
	listeners := r.snapshotListeners()
	count := len(r.records)
	r.mu.Unlock()

	r.logger.Info("service removed", "service_id", id, "reason", kind.String())
	if r.metrics != nil {
		r.metrics.Core.RegisteredServices.Set(float64(count))
		if kind == EventEvicted {
			r.metrics.Core.ServiceEvictions.Inc()
		}
	}
	notify(listeners, Event{Kind: kind, Record: record})
}

// Get returns a copy of the record for id
func (r *Registry) Get(id string) (ServiceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return ServiceRecord{}, false
	}
	return record.clone(), true
}

// List returns a snapshot of all records matching every given capability.
// With no filter it returns all records. The snapshot is detached: later
// registry changes do not affect it.
func (r *Registry) List(capabilities ...string) []ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ServiceRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.HasCapabilities(capabilities) {
			result = append(result, record.clone())
		}
	}
	return result
}

// Available returns a snapshot of services that are selectable for work
// (running or busy) and match every given capability.
func (r *Registry) Available(capabilities ...string) []ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ServiceRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.Status.Available() && record.HasCapabilities(capabilities) {
			result = append(result, record.clone())
		}
	}
	return result
}

// Count returns the number of registered services
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Touch updates a service's lastHeartbeat and derives its status from the
// self-reported health score. An error heartbeat recovers to running once
// the score clears the healthy threshold.
func (r *Registry) Touch(id string, hb Heartbeat) error {
	r.mu.Lock()
	record, exists := r.records[id]
	if !exists {
		r.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrServiceNotFound, id),
			"Registry", "Touch", "id lookup")
	}

	record.LastHeartbeat = r.now()
	record.HealthScore = hb.HealthScore
	for k, v := range hb.Metadata {
		if record.Metadata == nil {
			record.Metadata = make(map[string]string)
		}
		record.Metadata[k] = v
	}

	previous := record.Status
	next := StatusForScore(hb.HealthScore)
	changed := false
	if previous != next && previous.CanTransition(next) {
		record.Status = next
		changed = true
	}

	r.records[id] = record
	listeners := r.snapshotListeners()
	count := len(r.records)
	r.mu.Unlock()

	if changed {
		r.logger.Debug("service status changed by heartbeat",
			"service_id", id, "from", previous.String(), "to", next.String())
		r.recordGauges(record, count)
		notify(listeners, Event{Kind: EventStatusChanged, Record: record.clone()})
	}
	return nil
}

// UpdateStatus transitions a service along the lifecycle state machine.
// Illegal transitions are rejected.
func (r *Registry) UpdateStatus(id string, next Status) error {
	r.mu.Lock()
	record, exists := r.records[id]
	if !exists {
		r.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrServiceNotFound, id),
			"Registry", "UpdateStatus", "id lookup")
	}

	if !record.Status.CanTransition(next) {
		current := record.Status
		r.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("illegal status transition %s -> %s", current, next),
			"Registry", "UpdateStatus", "transition check")
	}

	if record.Status == next {
		r.mu.Unlock()
		return nil
	}

	record.Status = next
	r.records[id] = record
	listeners := r.snapshotListeners()
	count := len(r.records)
	r.mu.Unlock()

	r.logger.Debug("service status updated", "service_id", id, "status", next.String())
	r.recordGauges(record, count)
	notify(listeners, Event{Kind: EventStatusChanged, Record: record.clone()})
	return nil
}

func (r *Registry) snapshotListeners() []Listener {
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	return listeners
}

func (r *Registry) recordGauges(record ServiceRecord, count int) {
	if r.metrics == nil {
		return
	}
	r.metrics.Core.RegisteredServices.Set(float64(count))
	r.metrics.Core.ServiceStatus.WithLabelValues(record.ID).Set(float64(record.Status))
}

func notify(listeners []Listener, event Event) {
	for _, l := range listeners {
		l(event)
	}
}
