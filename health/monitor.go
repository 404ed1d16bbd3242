// Package health actively probes registered services and evicts the ones
// whose heartbeats have gone stale. Probing complements heartbeats: a
// heartbeat is the service's own claim, a probe is the coordinator checking.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/coordinator/balancer"
	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/metric"
	"github.com/c360/coordinator/registry"
	"github.com/c360/coordinator/router"
)

// Defaults for the probe loop
const (
	DefaultInterval       = 30 * time.Second
	DefaultProbeTimeout   = 10 * time.Second
	DefaultEvictionFactor = 2.0
)

// probeReport is the payload a service returns to a health check
type probeReport struct {
	HealthScore float64           `json:"health_score"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Option is a functional option for configuring the Monitor
type Option func(*Monitor)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry used for probe counters
func WithMetrics(metrics *metric.Registry) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithInterval sets the probe loop interval
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithProbeTimeout sets the per-probe response deadline
func WithProbeTimeout(timeout time.Duration) Option {
	return func(m *Monitor) {
		if timeout > 0 {
			m.probeTimeout = timeout
		}
	}
}

// WithEvictionFactor sets the staleness multiplier: a service is evicted when
// its last heartbeat is older than factor times its heartbeat interval.
func WithEvictionFactor(factor float64) Option {
	return func(m *Monitor) {
		if factor > 0 {
			m.evictionFactor = factor
		}
	}
}

// WithClock sets the time source. Useful for staleness tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor runs the periodic health sweep over all registered services
type Monitor struct {
	registry *registry.Registry
	router   *router.Router
	tracker  *balancer.Tracker

	interval       time.Duration
	probeTimeout   time.Duration
	evictionFactor float64

	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a health monitor over the given registry
func New(reg *registry.Registry, rt *router.Router, tracker *balancer.Tracker, opts ...Option) *Monitor {
	m := &Monitor{
		registry:       reg,
		router:         rt,
		tracker:        tracker,
		interval:       DefaultInterval,
		probeTimeout:   DefaultProbeTimeout,
		evictionFactor: DefaultEvictionFactor,
		logger:         slog.Default().With("component", "health"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic sweep loop
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Monitor", "Start", "lifecycle check")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go m.loop(ctx)
	m.logger.Info("health monitor started",
		"interval", m.interval,
		"probe_timeout", m.probeTimeout,
		"eviction_factor", m.evictionFactor)
	return nil
}

// Stop terminates the sweep loop and waits for it to exit
func (m *Monitor) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.started {
		return
	}
	m.cancel()
	<-m.done
	m.started = false
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evicts stale services and probes the rest concurrently. Exported so
// callers can force an immediate pass.
func (m *Monitor) Sweep(ctx context.Context) {
	records := m.registry.List()

	var wg sync.WaitGroup
	for _, record := range records {
		if m.evictIfStale(record) {
			continue
		}
		if !probeable(record.Status) {
			continue
		}

		wg.Add(1)
		go func(record registry.ServiceRecord) {
			defer wg.Done()
			m.probe(ctx, record)
		}(record)
	}
	wg.Wait()
}

// probeable reports whether a service in this state should be health
// checked. Lifecycle transitions are left alone; ERROR is probed so a
// recovered service can return to RUNNING.
func probeable(s registry.Status) bool {
	return s == registry.StatusRunning || s == registry.StatusBusy || s == registry.StatusError
}

// evictIfStale removes a service whose heartbeat is older than the eviction
// window. Services that never declared a heartbeat interval are exempt from
// staleness eviction and rely on probing alone.
func (m *Monitor) evictIfStale(record registry.ServiceRecord) bool {
	if record.HeartbeatInterval <= 0 {
		return false
	}

	window := time.Duration(m.evictionFactor * float64(record.HeartbeatInterval))
	age := m.now().Sub(record.LastHeartbeat)
	if age <= window {
		return false
	}

	m.logger.Warn("evicting service for stale heartbeat",
		"service_id", record.ID,
		"heartbeat_age", age,
		"eviction_window", window)
	m.registry.Evict(record.ID)
	m.tracker.Drop(record.ID)
	if m.metrics != nil {
		m.metrics.Core.HealthCheckStatus.DeleteLabelValues(record.ID)
	}
	return true
}

// probe sends a health check and folds the result into the registry and
// workload tracker. A missed probe marks the service unhealthy immediately.
func (m *Monitor) probe(ctx context.Context, record registry.ServiceRecord) {
	request := router.NewMessage(router.TypeHealthCheck, nil, "coordinator",
		router.WithTarget(record.ID),
		router.WithTTL(m.probeTimeout))

	response, err := m.router.SendRequest(ctx, request, m.probeTimeout)
	if err != nil {
		m.probeFailed(record, err)
		return
	}

	report := probeReport{HealthScore: 1.0}
	if len(response.Payload) > 0 {
		if err := json.Unmarshal(response.Payload, &report); err != nil {
			m.probeFailed(record, errors.WrapInvalid(
				fmt.Errorf("malformed probe response: %w", err),
				"Monitor", "probe", "response decoding"))
			return
		}
	}

	m.applyScore(record.ID, report.HealthScore)
	if m.metrics != nil {
		m.metrics.Core.HealthProbes.WithLabelValues("success").Inc()
	}
	m.logger.Debug("probe succeeded",
		"service_id", record.ID, "health_score", report.HealthScore)
}

func (m *Monitor) probeFailed(record registry.ServiceRecord, cause error) {
	m.logger.Warn("probe failed", "service_id", record.ID, "error", cause)
	m.applyScore(record.ID, 0)
	if m.metrics != nil {
		m.metrics.Core.HealthProbes.WithLabelValues("failure").Inc()
	}
}

// applyScore maps the probed score onto the lifecycle state machine and the
// selection tracker.
func (m *Monitor) applyScore(id string, score float64) {
	m.tracker.SetHealthScore(id, score)

	next := registry.StatusForScore(score)
	if err := m.registry.UpdateStatus(id, next); err != nil {
		// The service may have unregistered mid-probe, or sit in a state
		// the probe result cannot legally move it out of.
		m.logger.Debug("probe status not applied",
			"service_id", id, "status", next.String(), "error", err)
	}

	if m.metrics != nil {
		healthy := 0.0
		if next.Available() {
			healthy = 1.0
		}
		m.metrics.Core.HealthCheckStatus.WithLabelValues(id).Set(healthy)
	}
}
