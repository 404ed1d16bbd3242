package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all coordinator-level metrics (not component-specific)
type Metrics struct {
	// Registry metrics
	RegisteredServices prometheus.Gauge
	ServiceStatus      *prometheus.GaugeVec
	ServiceEvictions   prometheus.Counter

	// Router metrics
	MessagesRouted    *prometheus.CounterVec
	MessagesExpired   prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	DeliveryFailures  *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	RoutingDuration   *prometheus.HistogramVec
	BroadcastFanout   prometheus.Histogram

	// Dispatcher metrics
	TasksSubmitted  prometheus.Counter
	TasksDispatched prometheus.Counter
	TaskTerminal    *prometheus.CounterVec
	TaskQueueDepth  prometheus.Gauge
	DispatchLatency prometheus.Histogram

	// Health metrics
	HealthProbes      *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all coordinator metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RegisteredServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "registry",
				Name:      "services",
				Help:      "Number of currently registered services",
			},
		),

		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "registry",
				Name:      "service_status",
				Help:      "Service status (0=starting, 1=running, 2=busy, 3=stopping, 4=stopped, 5=error)",
			},
			[]string{"service"},
		),

		ServiceEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "registry",
				Name:      "evictions_total",
				Help:      "Total number of services evicted for missed heartbeats",
			},
		),

		MessagesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "messages_routed_total",
				Help:      "Total number of messages routed",
			},
			[]string{"priority", "status"},
		),

		MessagesExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "messages_expired_total",
				Help:      "Total number of messages dropped for exceeding their TTL",
			},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "messages_dropped_total",
				Help:      "Total number of messages dropped due to saturated queues",
			},
			[]string{"priority"},
		),

		DeliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "delivery_failures_total",
				Help:      "Total number of failed message deliveries",
			},
			[]string{"target"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "queue_depth",
				Help:      "Current depth of each priority queue",
			},
			[]string{"priority"},
		),

		RoutingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "duration_seconds",
				Help:      "Message routing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"priority"},
		),

		BroadcastFanout: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "router",
				Name:      "broadcast_fanout",
				Help:      "Number of services reached per broadcast",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),

		TasksSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "dispatch",
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks accepted into the queue",
			},
		),

		TasksDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "dispatch",
				Name:      "tasks_dispatched_total",
				Help:      "Total number of dispatch attempts made",
			},
		),

		TaskTerminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "dispatch",
				Name:      "tasks_terminal_total",
				Help:      "Total number of tasks reaching a terminal state",
			},
			[]string{"status"},
		),

		TaskQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Current number of queued tasks",
			},
		),

		DispatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "coordinator",
				Subsystem: "dispatch",
				Name:      "latency_seconds",
				Help:      "Time from submission to dispatch in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		HealthProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coordinator",
				Subsystem: "health",
				Name:      "probes_total",
				Help:      "Total number of health probes issued",
			},
			[]string{"result"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "coordinator",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),
	}
}

// collectors returns every core metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RegisteredServices,
		m.ServiceStatus,
		m.ServiceEvictions,
		m.MessagesRouted,
		m.MessagesExpired,
		m.MessagesDropped,
		m.DeliveryFailures,
		m.QueueDepth,
		m.RoutingDuration,
		m.BroadcastFanout,
		m.TasksSubmitted,
		m.TasksDispatched,
		m.TaskTerminal,
		m.TaskQueueDepth,
		m.DispatchLatency,
		m.HealthProbes,
		m.HealthCheckStatus,
	}
}
