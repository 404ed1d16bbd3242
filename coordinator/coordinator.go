// Package coordinator wires the registry, balancer, router, dispatcher, and
// health monitor into one explicitly constructed control plane. There are no
// package-level singletons: construct a Coordinator, start it, and every
// dependency flows through it.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/coordinator/balancer"
	"github.com/c360/coordinator/config"
	"github.com/c360/coordinator/dispatch"
	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/health"
	"github.com/c360/coordinator/metric"
	"github.com/c360/coordinator/pkg/retry"
	"github.com/c360/coordinator/registry"
	"github.com/c360/coordinator/router"
	"github.com/c360/coordinator/transport"
)

// Authorizer decides whether a caller may perform an action. It is consulted
// before any state changes; a nil authorizer allows everything.
type Authorizer = dispatch.Authorizer

// Option is a functional option for configuring the Coordinator
type Option func(*Coordinator)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventSink sets the monitoring event sink
func WithEventSink(sink EventSink) Option {
	return func(c *Coordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithAuthorizer sets the authorizer consulted on registration and submission
func WithAuthorizer(a Authorizer) Option {
	return func(c *Coordinator) {
		c.authorizer = a
	}
}

// WithSender overrides the outbound transport, ignoring the configured kind.
// Tests use this to inject the in-process transport they observe.
func WithSender(s transport.Sender) Option {
	return func(c *Coordinator) {
		c.sender = s
	}
}

// Coordinator is the control plane facade
type Coordinator struct {
	cfg *config.Config

	metrics    *metric.Registry
	registry   *registry.Registry
	tracker    *balancer.Tracker
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor

	sender     transport.Sender
	inproc     *transport.Inproc
	natsConn   *nats.Conn
	sink       EventSink
	authorizer Authorizer
	logger     *slog.Logger

	started bool
}

// New constructs a coordinator from configuration. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: slog.Default().With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = logSink{logger: c.logger}
	}

	c.metrics = metric.NewRegistry()
	c.registry = registry.New(
		registry.WithLogger(c.logger.With("component", "registry")),
		registry.WithMetrics(c.metrics))
	c.tracker = balancer.New(
		balancer.WithLogger(c.logger.With("component", "balancer")))

	if c.sender == nil {
		if err := c.buildSender(); err != nil {
			return nil, err
		}
	}
	if cfg.Transport.CircuitBreaker {
		c.sender = transport.NewBreakerSender(c.sender,
			c.logger.With("component", "transport"))
	}

	c.router = router.New(c.registry, c.tracker, c.sender,
		router.WithLogger(c.logger.With("component", "router")),
		router.WithMetrics(c.metrics),
		router.WithQueueCapacity(cfg.Router.QueueCapacity),
		router.WithWorkersPerQueue(cfg.Router.WorkersPerQueue))

	var selector dispatch.Selector
	switch cfg.Dispatch.Strategy {
	case config.StrategyIntelligent:
		selector = dispatch.NewIntelligent(c.tracker, 0)
	default:
		selector = dispatch.NewLoadBalanced(c.tracker)
	}

	dispatcher, err := dispatch.New(c.registry, c.tracker, c.router,
		dispatch.WithLogger(c.logger.With("component", "dispatch")),
		dispatch.WithMetrics(c.metrics),
		dispatch.WithAuthorizer(c.authorizer),
		dispatch.WithSelector(selector),
		dispatch.WithMaxQueueSize(cfg.Dispatch.MaxQueueSize),
		dispatch.WithMaxRetries(cfg.Dispatch.MaxRetries),
		dispatch.WithHistorySize(cfg.Dispatch.HistorySize),
		dispatch.WithTaskTimeout(cfg.TaskTimeout()),
		dispatch.WithCleanupInterval(cfg.CleanupInterval()),
		dispatch.WithRetention(cfg.Retention()))
	if err != nil {
		return nil, err
	}
	c.dispatcher = dispatcher

	c.monitor = health.New(c.registry, c.router, c.tracker,
		health.WithLogger(c.logger.With("component", "health")),
		health.WithMetrics(c.metrics),
		health.WithInterval(cfg.HealthCheckInterval()),
		health.WithProbeTimeout(cfg.ProbeTimeout()),
		health.WithEvictionFactor(cfg.Health.EvictionFactor))

	if err := c.router.RegisterHandler(router.TypeHeartbeat, c.onHeartbeat); err != nil {
		return nil, err
	}
	c.registry.Subscribe(c.onRegistryEvent)

	return c, nil
}

func (c *Coordinator) buildSender() error {
	switch c.cfg.Transport.Kind {
	case "nats":
		conn, err := nats.Connect(c.cfg.Transport.NATSURL,
			nats.Name(c.cfg.Name),
			nats.MaxReconnects(-1))
		if err != nil {
			return errors.WrapTransient(err, "Coordinator", "buildSender", "nats connect")
		}
		sender, err := transport.NewNATSSender(conn, c.cfg.Transport.SubjectPrefix)
		if err != nil {
			conn.Close()
			return err
		}
		c.natsConn = conn
		// Publishes ride out transient broker hiccups; the router above
		// this layer never retries a delivery itself.
		c.sender = transport.NewRetrySender(sender, retry.DefaultConfig())
	default:
		c.inproc = transport.NewInproc(transport.DefaultInboxSize)
		c.sender = c.inproc
	}
	return nil
}

// Inproc returns the in-process transport when configured, so local services
// can subscribe their inboxes. Nil when running over NATS or a custom sender.
func (c *Coordinator) Inproc() *transport.Inproc {
	return c.inproc
}

// Metrics returns the coordinator's metric registry
func (c *Coordinator) Metrics() *metric.Registry {
	return c.metrics
}

// Start launches the router workers, dispatcher loops, and health monitor
func (c *Coordinator) Start(ctx context.Context) error {
	if c.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Coordinator", "Start", "lifecycle check")
	}

	if err := c.router.Start(ctx); err != nil {
		return err
	}
	if err := c.dispatcher.Start(ctx); err != nil {
		_ = c.router.Stop(time.Second)
		return err
	}
	if err := c.monitor.Start(ctx); err != nil {
		c.dispatcher.Stop()
		_ = c.router.Stop(time.Second)
		return err
	}

	c.started = true
	c.logger.Info("coordinator started", "name", c.cfg.Name)
	return nil
}

// Shutdown stops intake, drains in-flight work up to the configured window,
// then force-stops every component.
func (c *Coordinator) Shutdown() {
	if !c.started {
		return
	}
	c.sink.Emit(Event{Kind: EventShutdownStarted, At: time.Now()})

	drain := c.cfg.ShutdownDrain()
	if !c.dispatcher.Drain(drain) {
		c.logger.Warn("drain window elapsed with work in flight", "window", drain)
	}

	c.monitor.Stop()
	c.dispatcher.Stop()
	if err := c.router.Stop(drain); err != nil {
		c.logger.Warn("router stop incomplete", "error", err)
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}

	c.started = false
	c.sink.Emit(Event{Kind: EventShutdownComplete, At: time.Now()})
	c.logger.Info("coordinator stopped")
}

// RegisterService adds a service to the registry
func (c *Coordinator) RegisterService(record registry.ServiceRecord) error {
	if c.authorizer != nil {
		if err := c.authorizer.Authorize(record.ID, "service:register"); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrAuthorization, err),
				"Coordinator", "RegisterService", "authorization")
		}
	}
	return c.registry.Register(record)
}

// DeregisterService removes a service and discards its workload tracking.
// Idempotent, like the underlying registry removal.
func (c *Coordinator) DeregisterService(id string) {
	c.registry.Unregister(id)
	c.tracker.Drop(id)
}

// Heartbeat records a service's self-reported liveness
func (c *Coordinator) Heartbeat(id string, hb registry.Heartbeat) error {
	if err := c.registry.Touch(id, hb); err != nil {
		return err
	}
	c.tracker.SetHealthScore(id, hb.HealthScore)
	return nil
}

// onHeartbeat handles heartbeat messages arriving through the router
func (c *Coordinator) onHeartbeat(_ context.Context, m router.Message) error {
	var hb registry.Heartbeat
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &hb); err != nil {
			return errors.WrapInvalid(err, "Coordinator", "onHeartbeat", "payload decoding")
		}
	} else {
		hb.HealthScore = 1.0
	}
	return c.Heartbeat(m.Source, hb)
}

// onRegistryEvent forwards registry changes to the monitoring sink
func (c *Coordinator) onRegistryEvent(e registry.Event) {
	kind := ""
	switch e.Kind {
	case registry.EventRegistered:
		kind = EventServiceRegistered
	case registry.EventUnregistered:
		kind = EventServiceUnregistered
	case registry.EventEvicted:
		kind = EventServiceEvicted
		c.tracker.Drop(e.Record.ID)
	case registry.EventStatusChanged:
		kind = EventServiceStatus
	default:
		return
	}
	c.sink.Emit(Event{
		Kind:    kind,
		Service: e.Record.ID,
		Detail:  e.Record.Status.String(),
		At:      time.Now(),
	})
}

// GetService returns a snapshot of a registered service
func (c *Coordinator) GetService(id string) (registry.ServiceRecord, bool) {
	return c.registry.Get(id)
}

// ListServices returns registered services matching all given capabilities
func (c *Coordinator) ListServices(capabilities ...string) []registry.ServiceRecord {
	return c.registry.List(capabilities...)
}

// SendMessage routes a message through the priority queues
func (c *Coordinator) SendMessage(m router.Message) error {
	return c.router.Route(m)
}

// SendRequest routes a request and waits for its correlated response
func (c *Coordinator) SendRequest(ctx context.Context, m router.Message, timeout time.Duration) (router.Message, error) {
	return c.router.SendRequest(ctx, m, timeout)
}

// Broadcast delivers a message to every available service matching the
// capabilities, returning the number reached.
func (c *Coordinator) Broadcast(ctx context.Context, m router.Message, capabilities ...string) (int, error) {
	return c.router.Broadcast(ctx, m, capabilities...)
}

// SubmitTask queues a task for dispatch and returns its id
func (c *Coordinator) SubmitTask(req dispatch.SubmitRequest) (string, error) {
	return c.dispatcher.Submit(req)
}

// CancelTask cancels a queued task
func (c *Coordinator) CancelTask(id string) error {
	return c.dispatcher.Cancel(id)
}

// GetTaskStatus returns a snapshot of a task, including recently purged ones
func (c *Coordinator) GetTaskStatus(id string) (dispatch.Task, error) {
	return c.dispatcher.GetTask(id)
}

// GetQueueStatus returns the task queue depth and composition
func (c *Coordinator) GetQueueStatus() dispatch.QueueStatus {
	return c.dispatcher.GetQueueStatus()
}

// AddRoutingRule registers a message routing rule
func (c *Coordinator) AddRoutingRule(rule router.Rule) error {
	return c.router.AddRule(rule)
}

// RemoveRoutingRule deletes a message routing rule
func (c *Coordinator) RemoveRoutingRule(id string) error {
	return c.router.RemoveRule(id)
}

// AddDispatchRule registers a task dispatch rule
func (c *Coordinator) AddDispatchRule(rule dispatch.Rule) error {
	return c.dispatcher.AddRule(rule)
}

// RemoveDispatchRule deletes a task dispatch rule
func (c *Coordinator) RemoveDispatchRule(id string) error {
	return c.dispatcher.RemoveRule(id)
}

// CheckHealth forces an immediate health sweep
func (c *Coordinator) CheckHealth(ctx context.Context) {
	c.monitor.Sweep(ctx)
}

// ServiceStats returns the workload statistics tracked for a service
func (c *Coordinator) ServiceStats(id string) balancer.ServiceStats {
	return c.tracker.Stats(id)
}

// Stats aggregates counters from every component
type Stats struct {
	Services int            `json:"services"`
	Router   router.Stats   `json:"router"`
	Dispatch dispatch.Stats `json:"dispatch"`
}

// GetStats returns a snapshot of coordinator-wide statistics
func (c *Coordinator) GetStats() Stats {
	return Stats{
		Services: c.registry.Count(),
		Router:   c.router.Stats(),
		Dispatch: c.dispatcher.Stats(),
	}
}
