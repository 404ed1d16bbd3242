// Package router moves messages between services through per-priority
// bounded queues. Each priority bucket has its own worker pool, so a backlog
// of normal traffic can never starve critical messages. Delivery targets are
// resolved against the registry at delivery time, never cached.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/coordinator/balancer"
	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/metric"
	"github.com/c360/coordinator/pkg/worker"
	"github.com/c360/coordinator/registry"
	"github.com/c360/coordinator/transport"
)

// DefaultQueueCapacity bounds each priority queue
const DefaultQueueCapacity = 10000

// Handler processes messages of a registered type that are not addressed to
// a specific service.
type Handler func(ctx context.Context, m Message) error

// Option is a functional option for configuring the Router
type Option func(*Router)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry used for router metrics
func WithMetrics(metrics *metric.Registry) Option {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// WithQueueCapacity sets the per-priority queue bound
func WithQueueCapacity(capacity int) Option {
	return func(r *Router) {
		if capacity > 0 {
			r.queueCapacity = capacity
		}
	}
}

// WithWorkersPerQueue sets the worker count for each priority pool
func WithWorkersPerQueue(workers int) Option {
	return func(r *Router) {
		if workers > 0 {
			r.workersPerQueue = workers
		}
	}
}

// WithClock sets the time source. Useful for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router routes messages to services and registered handlers
type Router struct {
	registry *registry.Registry
	tracker  *balancer.Tracker
	sender   transport.Sender
	rules    *ruleSet
	pending  *pendingTable

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	queues          [numPriorities]*worker.Pool[Message]
	queueCapacity   int
	workersPerQueue int

	rrMu       sync.Mutex
	rrCounters map[string]uint64 // per-rule round-robin position

	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc

	// Statistics (atomic)
	expired          int64
	unhandled        int64
	delivered        int64
	deliveryFailures int64
}

// New creates a router backed by the given registry, workload tracker, and
// outbound transport.
func New(reg *registry.Registry, tracker *balancer.Tracker, sender transport.Sender, opts ...Option) *Router {
	r := &Router{
		registry:        reg,
		tracker:         tracker,
		sender:          sender,
		rules:           newRuleSet(),
		pending:         newPendingTable(),
		handlers:        make(map[string]Handler),
		rrCounters:      make(map[string]uint64),
		queueCapacity:   DefaultQueueCapacity,
		workersPerQueue: 1,
		logger:          slog.Default().With("component", "router"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for p := 0; p < numPriorities; p++ {
		r.queues[p] = worker.NewPool(r.workersPerQueue, r.queueCapacity, r.process)
	}
	return r
}

// Start launches the priority queue workers
func (r *Router) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Router", "Start", "lifecycle check")
	}

	ctx, cancel := context.WithCancel(ctx)
	for p, pool := range r.queues {
		if err := pool.Start(ctx); err != nil {
			cancel()
			return errors.Wrap(err, "Router", "Start",
				fmt.Sprintf("starting %s queue workers", Priority(p)))
		}
	}

	r.cancel = cancel
	r.started = true
	r.logger.Info("router started",
		"queue_capacity", r.queueCapacity,
		"workers_per_queue", r.workersPerQueue)
	return nil
}

// Stop drains the priority queues and stops the workers. In-flight messages
// get up to the timeout to finish; after that the workers are cancelled.
func (r *Router) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.started {
		return nil
	}

	var stopErr error
	for p, pool := range r.queues {
		if err := pool.Stop(timeout); err != nil && stopErr == nil {
			stopErr = errors.Wrap(err, "Router", "Stop",
				fmt.Sprintf("stopping %s queue workers", Priority(p)))
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.started = false
	r.logger.Info("router stopped")
	return stopErr
}

// RegisterHandler installs a handler for a message type. Messages of that
// type with no explicit target are dispatched to the handler.
func (r *Router) RegisterHandler(messageType string, h Handler) error {
	if messageType == "" || h == nil {
		return errors.WrapInvalid(errors.ErrInvalidMessage,
			"Router", "RegisterHandler", "argument validation")
	}

	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("handler for %q already registered", messageType),
			"Router", "RegisterHandler", "duplicate check")
	}
	r.handlers[messageType] = h
	return nil
}

// UnregisterHandler removes the handler for a message type
func (r *Router) UnregisterHandler(messageType string) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	delete(r.handlers, messageType)
}

// AddRule registers a routing rule. Rules are evaluated in registration
// order and the first enabled match wins.
func (r *Router) AddRule(rule Rule) error {
	return r.rules.Add(rule)
}

// RemoveRule deletes a routing rule by id
func (r *Router) RemoveRule(id string) error {
	return r.rules.Remove(id)
}

// Rules returns a snapshot of the registered routing rules
func (r *Router) Rules() []Rule {
	return r.rules.List()
}

// Route enqueues a message onto its priority queue. It never blocks: a
// saturated queue rejects the message with ErrQueueSaturated and the
// producer decides whether to retry.
func (r *Router) Route(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Expired(r.now()) {
		atomic.AddInt64(&r.expired, 1)
		if r.metrics != nil {
			r.metrics.Core.MessagesExpired.Inc()
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: message %s", errors.ErrMessageExpired, m.ID),
			"Router", "Route", "ttl check")
	}

	pool := r.queues[m.Priority]
	if err := pool.Submit(m); err != nil {
		if r.metrics != nil {
			r.metrics.Core.MessagesDropped.WithLabelValues(m.Priority.String()).Inc()
		}
		r.logger.Warn("message dropped",
			"message_id", m.ID,
			"priority", m.Priority.String(),
			"error", err)
		return errors.WrapTransient(
			fmt.Errorf("%w: %s queue at capacity", errors.ErrQueueSaturated, m.Priority),
			"Router", "Route", "queue submit")
	}

	if r.metrics != nil {
		r.metrics.Core.MessagesRouted.WithLabelValues(m.Priority.String(), "accepted").Inc()
		r.metrics.Core.QueueDepth.WithLabelValues(m.Priority.String()).Set(float64(pool.QueueDepth()))
	}
	return nil
}

// process is the worker-side routing pipeline: expiry check, response
// completion, rule matching, handler dispatch, then direct delivery.
func (r *Router) process(ctx context.Context, m Message) error {
	start := r.now()
	defer func() {
		if r.metrics != nil {
			r.metrics.Core.RoutingDuration.WithLabelValues(m.Priority.String()).
				Observe(r.now().Sub(start).Seconds())
			r.metrics.Core.QueueDepth.WithLabelValues(m.Priority.String()).
				Set(float64(r.queues[m.Priority].QueueDepth()))
		}
	}()

	// TTL is re-checked at dequeue: a message that expired while waiting in
	// the queue is dropped, never delivered.
	if m.Expired(r.now()) {
		atomic.AddInt64(&r.expired, 1)
		if r.metrics != nil {
			r.metrics.Core.MessagesExpired.Inc()
		}
		r.logger.Debug("message expired in queue", "message_id", m.ID, "type", m.Type)
		return nil
	}

	if m.Type == TypeResponse && r.pending.Complete(m) {
		return nil
	}

	if rule, ok := r.rules.FirstMatch(m); ok {
		target, err := r.selectTarget(rule, m)
		if err != nil {
			return err
		}
		if target != "" {
			return r.deliver(ctx, target, m)
		}
	}

	r.handlersMu.RLock()
	handler, handled := r.handlers[m.Type]
	r.handlersMu.RUnlock()
	if handled {
		if err := handler(ctx, m); err != nil {
			r.logger.Error("handler failed",
				"message_id", m.ID, "type", m.Type, "error", err)
			return errors.Wrap(err, "Router", "process", "handler invocation")
		}
		return nil
	}

	if m.Target != "" {
		return r.deliver(ctx, m.Target, m)
	}

	atomic.AddInt64(&r.unhandled, 1)
	r.logger.Warn("unroutable message",
		"message_id", m.ID, "type", m.Type, "source", m.Source)
	return errors.WrapInvalid(
		fmt.Errorf("%w: no target, rule, or handler for type %q", errors.ErrRouting, m.Type),
		"Router", "process", "route resolution")
}

// selectTarget applies a matched rule's strategy. A direct rule preserves
// the message's own target.
func (r *Router) selectTarget(rule Rule, m Message) (string, error) {
	if rule.Strategy == StrategyDirect {
		return m.Target, nil
	}

	candidates := r.availableCandidates(rule.Targets)
	if len(candidates) == 0 {
		atomic.AddInt64(&r.deliveryFailures, 1)
		return "", errors.WrapTransient(
			fmt.Errorf("%w: rule %s has no available targets", errors.ErrNoAvailableService, rule.ID),
			"Router", "selectTarget", "candidate selection")
	}

	switch rule.Strategy {
	case StrategyRoundRobin:
		r.rrMu.Lock()
		i := r.rrCounters[rule.ID] % uint64(len(candidates))
		r.rrCounters[rule.ID]++
		r.rrMu.Unlock()
		return candidates[i], nil
	case StrategyRandom:
		return candidates[rand.IntN(len(candidates))], nil
	case StrategyLeastConnections:
		return r.tracker.SelectBest(candidates), nil
	case StrategyWeighted:
		return weightedPick(candidates, rule.Weights), nil
	default:
		return m.Target, nil
	}
}

// availableCandidates filters rule targets to currently selectable services
func (r *Router) availableCandidates(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if record, ok := r.registry.Get(id); ok && record.Status.Available() {
			out = append(out, id)
		}
	}
	return out
}

// weightedPick selects a candidate with probability proportional to its
// weight. Missing weights default to 1.
func weightedPick(candidates []string, weights map[string]int) string {
	total := 0
	for _, id := range candidates {
		total += weightFor(weights, id)
	}
	n := rand.IntN(total)
	for _, id := range candidates {
		n -= weightFor(weights, id)
		if n < 0 {
			return id
		}
	}
	return candidates[len(candidates)-1]
}

func weightFor(weights map[string]int, id string) int {
	if w, ok := weights[id]; ok && w > 0 {
		return w
	}
	return 1
}

// deliver resolves the target against the registry at delivery time and
// sends the encoded message over the transport. Failed deliveries are not
// retried; the failure is logged and counted.
func (r *Router) deliver(ctx context.Context, target string, m Message) error {
	record, ok := r.registry.Get(target)
	if !ok {
		return r.deliveryFailed(target, m,
			fmt.Errorf("%w: %s", errors.ErrServiceNotFound, target))
	}
	// Health probes must still reach services in ERROR, otherwise a service
	// that failed one probe could never be observed recovering.
	if m.Type != TypeHealthCheck && !record.Status.Available() {
		return r.deliveryFailed(target, m,
			fmt.Errorf("%w: %s is %s", errors.ErrNoAvailableService, target, record.Status))
	}

	data, err := json.Marshal(m)
	if err != nil {
		return errors.WrapInvalid(err, "Router", "deliver", "message encoding")
	}

	if err := r.sender.Send(ctx, record.Endpoint, data); err != nil {
		return r.deliveryFailed(target, m, err)
	}

	atomic.AddInt64(&r.delivered, 1)
	if r.metrics != nil {
		r.metrics.Core.MessagesRouted.WithLabelValues(m.Priority.String(), "delivered").Inc()
	}
	return nil
}

func (r *Router) deliveryFailed(target string, m Message, cause error) error {
	atomic.AddInt64(&r.deliveryFailures, 1)
	if r.metrics != nil {
		r.metrics.Core.DeliveryFailures.WithLabelValues(target).Inc()
	}
	r.logger.Warn("delivery failed",
		"message_id", m.ID, "type", m.Type, "target", target, "error", cause)
	return errors.WrapTransient(
		fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, cause),
		"Router", "deliver", "transport send")
}

// Broadcast delivers a copy of the message to every available service
// matching all given capabilities, excluding the sender itself. Delivery is
// synchronous and best-effort; the returned count is the number of services
// actually reached.
func (r *Router) Broadcast(ctx context.Context, m Message, capabilities ...string) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	if m.Expired(r.now()) {
		atomic.AddInt64(&r.expired, 1)
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: message %s", errors.ErrMessageExpired, m.ID),
			"Router", "Broadcast", "ttl check")
	}

	records := r.registry.Available(capabilities...)
	delivered := 0
	for _, record := range records {
		if record.ID == m.Source {
			continue
		}
		out := m
		out.Target = record.ID
		if err := r.deliver(ctx, record.ID, out); err != nil {
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.Core.BroadcastFanout.Observe(float64(delivered))
	}
	r.logger.Debug("broadcast complete",
		"message_id", m.ID, "type", m.Type,
		"candidates", len(records), "delivered", delivered)
	return delivered, nil
}

// SendRequest routes a request and blocks until a response with the same
// correlation id arrives, the timeout passes, or the context is cancelled.
// The request is assigned a correlation id if it does not carry one.
func (r *Router) SendRequest(ctx context.Context, m Message, timeout time.Duration) (Message, error) {
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.New().String()
	}

	ch := r.pending.Register(m.CorrelationID)
	if err := r.Route(m); err != nil {
		r.pending.Cancel(m.CorrelationID)
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-ch:
		return response, nil
	case <-timer.C:
		r.pending.Cancel(m.CorrelationID)
		return Message{}, errors.WrapTransient(
			fmt.Errorf("%w: no response to %s within %s", errors.ErrTimeout, m.ID, timeout),
			"Router", "SendRequest", "response wait")
	case <-ctx.Done():
		r.pending.Cancel(m.CorrelationID)
		return Message{}, errors.WrapTransient(ctx.Err(), "Router", "SendRequest", "context wait")
	}
}

// Respond routes a response message carrying the request's correlation id
func (r *Router) Respond(request Message, payload json.RawMessage, source string) error {
	response := NewMessage(TypeResponse, payload, source,
		WithTarget(request.Source),
		WithCorrelationID(request.CorrelationID))
	return r.Route(response)
}

// Stats is a snapshot of router counters and per-priority queue state
type Stats struct {
	Expired          int64                       `json:"expired"`
	Unhandled        int64                       `json:"unhandled"`
	Delivered        int64                       `json:"delivered"`
	DeliveryFailures int64                       `json:"delivery_failures"`
	PendingRequests  int                         `json:"pending_requests"`
	Queues           map[string]worker.PoolStats `json:"queues"`
}

// Stats returns current router statistics
func (r *Router) Stats() Stats {
	queues := make(map[string]worker.PoolStats, numPriorities)
	for p, pool := range r.queues {
		queues[Priority(p).String()] = pool.Stats()
	}
	return Stats{
		Expired:          atomic.LoadInt64(&r.expired),
		Unhandled:        atomic.LoadInt64(&r.unhandled),
		Delivered:        atomic.LoadInt64(&r.delivered),
		DeliveryFailures: atomic.LoadInt64(&r.deliveryFailures),
		PendingRequests:  r.pending.Len(),
		Queues:           queues,
	}
}
