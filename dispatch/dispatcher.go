// Package dispatch queues submitted tasks and assigns them to registered
// services. Tasks leave the queue in priority order, earliest deadline
// first within a priority, and a retried task keeps its original queue
// time so it never loses its place among equals.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/c360/coordinator/balancer"
	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/metric"
	"github.com/c360/coordinator/registry"
	"github.com/c360/coordinator/router"
)

// TypeTaskStarted is the message type a service sends when it begins
// executing a dispatched task.
const TypeTaskStarted = "task_started"

// Defaults for dispatcher tuning
const (
	DefaultMaxQueueSize    = 1000
	DefaultMaxRetries      = 3
	DefaultTaskTimeout     = 300 * time.Second
	DefaultCleanupInterval = 300 * time.Second
	DefaultRetention       = time.Hour
	DefaultHistorySize     = 1024
	defaultPollInterval    = 100 * time.Millisecond
	defaultTimeoutInterval = 30 * time.Second
)

// Authorizer decides whether a submitter may perform an action. A nil
// authorizer allows everything.
type Authorizer interface {
	Authorize(identity, action string) error
}

// failureReport is the payload carried by a task_failed message
type failureReport struct {
	Error string `json:"error"`
}

// Option is a functional option for configuring the Dispatcher
type Option func(*Dispatcher)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry used for dispatch metrics
func WithMetrics(metrics *metric.Registry) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithAuthorizer sets the submission authorizer
func WithAuthorizer(a Authorizer) Option {
	return func(d *Dispatcher) {
		d.authorizer = a
	}
}

// WithSelector sets the service selection strategy
func WithSelector(s Selector) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.selector = s
		}
	}
}

// WithMaxQueueSize bounds the task queue
func WithMaxQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.maxQueueSize = size
		}
	}
}

// WithMaxRetries sets the default retry budget for submitted tasks
func WithMaxRetries(retries int) Option {
	return func(d *Dispatcher) {
		if retries >= 0 {
			d.maxRetries = retries
		}
	}
}

// WithTaskTimeout sets how long a dispatched task may run before it is
// declared timed out. Zero disables the running-time check; deadlines still
// apply.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.taskTimeout = timeout
	}
}

// WithCleanupInterval sets how often terminal tasks are purged to history
func WithCleanupInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.cleanupInterval = interval
		}
	}
}

// WithRetention sets how long terminal tasks stay queryable before purging
func WithRetention(retention time.Duration) Option {
	return func(d *Dispatcher) {
		if retention > 0 {
			d.retention = retention
		}
	}
}

// WithHistorySize bounds the purged-task history cache
func WithHistorySize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.historySize = size
		}
	}
}

// WithTimeoutCheckInterval sets the timeout sweep frequency
func WithTimeoutCheckInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.timeoutInterval = interval
		}
	}
}

// WithClock sets the time source. Useful for timeout and retention tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher owns the task queue and the dispatch, timeout, and cleanup loops
type Dispatcher struct {
	registry   *registry.Registry
	tracker    *balancer.Tracker
	router     *router.Router
	queue      *taskQueue
	rules      *dispatchRules
	selector   Selector
	authorizer Authorizer
	history    *lru.Cache[string, Task]

	mu    sync.Mutex
	tasks map[string]*Task

	maxQueueSize    int
	maxRetries      int
	historySize     int
	taskTimeout     time.Duration
	cleanupInterval time.Duration
	retention       time.Duration
	timeoutInterval time.Duration

	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	wake     chan struct{}
	draining atomic.Bool

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	loops       sync.WaitGroup

	// Statistics (atomic)
	submitted  int64
	dispatched int64
	retried    int64
	completed  int64
	failed     int64
	cancelled  int64
	timedOut   int64
}

// New creates a dispatcher and registers its completion handlers on the
// router. The default selection strategy is load-balanced.
func New(reg *registry.Registry, tracker *balancer.Tracker, rt *router.Router, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		registry:        reg,
		tracker:         tracker,
		router:          rt,
		queue:           newTaskQueue(),
		rules:           newDispatchRules(),
		tasks:           make(map[string]*Task),
		maxQueueSize:    DefaultMaxQueueSize,
		maxRetries:      DefaultMaxRetries,
		historySize:     DefaultHistorySize,
		taskTimeout:     DefaultTaskTimeout,
		cleanupInterval: DefaultCleanupInterval,
		retention:       DefaultRetention,
		timeoutInterval: defaultTimeoutInterval,
		logger:          slog.Default().With("component", "dispatch"),
		now:             time.Now,
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.selector == nil {
		d.selector = NewLoadBalanced(tracker)
	}

	history, err := lru.New[string, Task](d.historySize)
	if err != nil {
		return nil, errors.Wrap(err, "Dispatcher", "New", "history cache creation")
	}
	d.history = history

	for messageType, handler := range map[string]router.Handler{
		TypeTaskStarted:          d.onTaskStarted,
		router.TypeTaskCompleted: d.onTaskCompleted,
		router.TypeTaskFailed:    d.onTaskFailed,
	} {
		if err := rt.RegisterHandler(messageType, handler); err != nil {
			return nil, errors.Wrap(err, "Dispatcher", "New", "handler registration")
		}
	}

	reg.Subscribe(d.onRegistryEvent)
	return d, nil
}

// Start launches the dispatch, timeout, and cleanup loops
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Dispatcher", "Start", "lifecycle check")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.started = true

	d.loops.Add(3)
	go d.dispatchLoop(ctx)
	go d.timeoutLoop(ctx)
	go d.cleanupLoop(ctx)

	d.logger.Info("dispatcher started",
		"max_queue_size", d.maxQueueSize,
		"max_retries", d.maxRetries,
		"task_timeout", d.taskTimeout)
	return nil
}

// Stop halts intake and terminates the loops. Queued tasks stay queued; a
// restarted dispatcher would need them resubmitted since all state is in
// memory.
func (d *Dispatcher) Stop() {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if !d.started {
		return
	}
	d.draining.Store(true)
	d.cancel()
	d.loops.Wait()
	d.started = false
	d.logger.Info("dispatcher stopped")
}

// Drain stops intake and waits until no task is queued or in flight, up to
// the timeout. Used for graceful shutdown before Stop.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	d.draining.Store(true)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.inFlight() == 0 && d.queue.Len() == 0 {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return d.inFlight() == 0 && d.queue.Len() == 0
}

func (d *Dispatcher) inFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, t := range d.tasks {
		if t.Status == TaskDispatched || t.Status == TaskExecuting {
			n++
		}
	}
	return n
}

// Submit authorizes, validates, and enqueues a task, returning its id
func (d *Dispatcher) Submit(req SubmitRequest) (string, error) {
	if d.draining.Load() {
		return "", errors.WrapTransient(errors.ErrShuttingDown, "Dispatcher", "Submit", "intake check")
	}
	if d.authorizer != nil {
		if err := d.authorizer.Authorize(req.Submitter, "task:submit"); err != nil {
			return "", errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrAuthorization, err),
				"Dispatcher", "Submit", "authorization")
		}
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if d.queue.Len() >= d.maxQueueSize {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %d tasks queued", errors.ErrQueueFull, d.maxQueueSize),
			"Dispatcher", "Submit", "queue bound check")
	}

	task := newTask(req, d.now(), d.maxRetries)
	d.rules.Apply(task)

	d.mu.Lock()
	d.tasks[task.ID] = task
	d.mu.Unlock()
	d.queue.Push(task)

	atomic.AddInt64(&d.submitted, 1)
	if d.metrics != nil {
		d.metrics.Core.TasksSubmitted.Inc()
		d.metrics.Core.TaskQueueDepth.Set(float64(d.queue.Len()))
	}
	d.logger.Debug("task submitted",
		"task_id", task.ID,
		"type", task.Type,
		"priority", task.Priority.String(),
		"submitter", task.Submitter)

	d.signalWake()
	return task.ID, nil
}

func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// AddRule registers a submission-time dispatch rule
func (d *Dispatcher) AddRule(rule Rule) error {
	return d.rules.Add(rule)
}

// RemoveRule deletes a dispatch rule by id
func (d *Dispatcher) RemoveRule(id string) error {
	return d.rules.Remove(id)
}

// Rules returns a snapshot of the registered dispatch rules
func (d *Dispatcher) Rules() []Rule {
	return d.rules.List()
}

func (d *Dispatcher) dispatchLoop(ctx context.Context) {
	defer d.loops.Done()

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.drainQueue(ctx)
	}
}

// drainQueue dispatches eligible tasks until none remain. A task whose
// required capabilities have no available service stays queued without
// blocking eligible tasks behind it.
func (d *Dispatcher) drainQueue(ctx context.Context) {
	for {
		task := d.queue.PopEligible(d.hasCandidate)
		if task == nil {
			return
		}
		if !d.dispatchOne(ctx, task) {
			return
		}
	}
}

// hasCandidate reports whether any available service can run the task.
// Tasks past their deadline are always eligible so dispatchOne can finalize
// them as timed out.
func (d *Dispatcher) hasCandidate(task *Task) bool {
	if !task.Deadline.IsZero() && d.now().After(task.Deadline) {
		return true
	}
	return len(d.registry.Available(task.RequiredCapabilities...)) > 0
}

// dispatchOne handles a single popped task. Returns false when the task was
// requeued for lack of candidates, signalling the caller to stop draining.
func (d *Dispatcher) dispatchOne(ctx context.Context, task *Task) (progress bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while dispatching", "task_id", task.ID, "panic", r)
			d.finalize(task, TaskFailed, nil, fmt.Sprintf("dispatch panic: %v", r))
			progress = true
		}
	}()

	d.mu.Lock()
	status := task.Status
	d.mu.Unlock()
	if status != TaskQueued {
		// cancelled between pop and dispatch
		return true
	}

	// Tasks already past their deadline are never dispatched
	if !task.Deadline.IsZero() && d.now().After(task.Deadline) {
		d.logger.Warn("task deadline passed while queued", "task_id", task.ID)
		d.finalize(task, TaskTimeout, nil, "deadline exceeded before dispatch")
		return true
	}

	target := d.selectTarget(task)
	if target == "" {
		d.queue.Push(task)
		return false
	}

	d.mu.Lock()
	task.Status = TaskDispatched
	task.AssignedTo = target
	task.DispatchedAt = d.now()
	task.Attempts = append(task.Attempts, Attempt{Service: target, At: task.DispatchedAt})
	d.mu.Unlock()

	d.tracker.RecordDispatch(target)

	msg := router.NewMessage(router.TypeTaskRequest, task.Payload, "coordinator",
		router.WithTarget(target),
		router.WithPriority(task.Priority),
		router.WithCorrelationID(task.ID))
	if err := d.router.Route(msg); err != nil {
		d.logger.Warn("task dispatch delivery failed",
			"task_id", task.ID, "target", target, "error", err)
		d.tracker.RecordTimeout(target)
		d.retryOrFail(task, fmt.Sprintf("dispatch to %s failed: %v", target, err))
		return true
	}

	atomic.AddInt64(&d.dispatched, 1)
	if d.metrics != nil {
		d.metrics.Core.TasksDispatched.Inc()
		d.metrics.Core.TaskQueueDepth.Set(float64(d.queue.Len()))
		d.metrics.Core.DispatchLatency.Observe(d.now().Sub(task.QueueTime).Seconds())
	}
	d.logger.Debug("task dispatched",
		"task_id", task.ID, "target", target, "attempt", len(task.Attempts))
	return true
}

// selectTarget narrows available services to the task's requirements and
// applies the selection strategy. Preferred targets from dispatch rules are
// soft: they constrain the choice only while at least one is available.
func (d *Dispatcher) selectTarget(task *Task) string {
	candidates := d.registry.Available(task.RequiredCapabilities...)
	if len(candidates) == 0 {
		return ""
	}

	if len(task.preferredTargets) > 0 {
		preferred := make([]registry.ServiceRecord, 0, len(candidates))
		for _, record := range candidates {
			for _, id := range task.preferredTargets {
				if record.ID == id {
					preferred = append(preferred, record)
					break
				}
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	return d.selector.Select(task, candidates)
}

// onTaskStarted moves a dispatched task to executing
func (d *Dispatcher) onTaskStarted(_ context.Context, m router.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[m.CorrelationID]
	if !ok || task.Status != TaskDispatched || task.AssignedTo != m.Source {
		return nil
	}
	task.Status = TaskExecuting
	return nil
}

// onTaskCompleted finalizes a successful task and folds the execution time
// into the assignee's performance statistics.
func (d *Dispatcher) onTaskCompleted(_ context.Context, m router.Message) error {
	d.mu.Lock()
	task, ok := d.tasks[m.CorrelationID]
	if !ok || task.Status.Terminal() || task.Status == TaskQueued || task.AssignedTo != m.Source {
		d.mu.Unlock()
		return nil
	}
	assignee := task.AssignedTo
	execTime := d.now().Sub(task.DispatchedAt)
	d.mu.Unlock()

	d.tracker.RecordCompletion(assignee, true, execTime)
	d.finalize(task, TaskCompleted, m.Payload, "")
	return nil
}

// onTaskFailed records the failed attempt and retries if budget remains.
// Failures retry; timeouts never do.
func (d *Dispatcher) onTaskFailed(_ context.Context, m router.Message) error {
	d.mu.Lock()
	task, ok := d.tasks[m.CorrelationID]
	if !ok || task.Status.Terminal() || task.Status == TaskQueued || task.AssignedTo != m.Source {
		d.mu.Unlock()
		return nil
	}
	assignee := task.AssignedTo
	execTime := d.now().Sub(task.DispatchedAt)
	d.mu.Unlock()

	d.tracker.RecordCompletion(assignee, false, execTime)

	reason := "task failed"
	var report failureReport
	if len(m.Payload) > 0 && json.Unmarshal(m.Payload, &report) == nil && report.Error != "" {
		reason = report.Error
	}
	d.retryOrFail(task, reason)
	return nil
}

// onRegistryEvent notes in-flight tasks whose assignee disappeared. The task
// keeps its status and runs into the timeout monitor; the tracker counts for
// the service vanished with it, so nothing is decremented here.
func (d *Dispatcher) onRegistryEvent(e registry.Event) {
	if e.Kind != registry.EventEvicted && e.Kind != registry.EventUnregistered {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, task := range d.tasks {
		if task.AssignedTo == e.Record.ID &&
			(task.Status == TaskDispatched || task.Status == TaskExecuting) {
			d.logger.Warn("assignee removed with task in flight",
				"task_id", task.ID, "service_id", e.Record.ID, "reason", e.Kind.String())
		}
	}
}

// retryOrFail requeues the task if retry budget remains, else finalizes it
// as failed. The original queue time is preserved across retries.
func (d *Dispatcher) retryOrFail(task *Task, reason string) {
	d.mu.Lock()
	if task.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	if task.RetryCount >= task.MaxRetries {
		d.mu.Unlock()
		d.finalize(task, TaskFailed, nil, reason)
		return
	}
	task.RetryCount++
	task.Status = TaskQueued
	task.AssignedTo = ""
	task.Error = reason
	attempt := task.RetryCount
	d.mu.Unlock()

	d.queue.Push(task)
	atomic.AddInt64(&d.retried, 1)
	d.logger.Info("task requeued for retry",
		"task_id", task.ID, "retry", attempt, "max_retries", task.MaxRetries, "reason", reason)
	d.signalWake()
}

// finalize moves a task to a terminal status
func (d *Dispatcher) finalize(task *Task, status TaskStatus, result json.RawMessage, reason string) {
	d.mu.Lock()
	if task.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	task.Status = status
	task.CompletedAt = d.now()
	task.Result = result
	if reason != "" {
		task.Error = reason
	}
	d.mu.Unlock()

	switch status {
	case TaskCompleted:
		atomic.AddInt64(&d.completed, 1)
	case TaskFailed:
		atomic.AddInt64(&d.failed, 1)
	case TaskCancelled:
		atomic.AddInt64(&d.cancelled, 1)
	case TaskTimeout:
		atomic.AddInt64(&d.timedOut, 1)
	}
	if d.metrics != nil {
		d.metrics.Core.TaskTerminal.WithLabelValues(status.String()).Inc()
		d.metrics.Core.TaskQueueDepth.Set(float64(d.queue.Len()))
	}
	d.logger.Debug("task finalized",
		"task_id", task.ID, "status", status.String(), "error", reason)
}

func (d *Dispatcher) timeoutLoop(ctx context.Context) {
	defer d.loops.Done()

	ticker := time.NewTicker(d.timeoutInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.CheckTimeouts()
		}
	}
}

// CheckTimeouts declares overrunning in-flight tasks timed out. Timed-out
// tasks are terminal: the retry budget applies to failures only. Exported so
// tests and operators can force a sweep.
func (d *Dispatcher) CheckTimeouts() {
	now := d.now()

	d.mu.Lock()
	var expired []*Task
	for _, task := range d.tasks {
		if task.Status != TaskDispatched && task.Status != TaskExecuting {
			continue
		}
		overran := d.taskTimeout > 0 && now.Sub(task.DispatchedAt) > d.taskTimeout
		pastDeadline := !task.Deadline.IsZero() && now.After(task.Deadline)
		if overran || pastDeadline {
			expired = append(expired, task)
		}
	}
	d.mu.Unlock()

	for _, task := range expired {
		d.mu.Lock()
		assignee := task.AssignedTo
		d.mu.Unlock()

		d.logger.Warn("task timed out", "task_id", task.ID, "assigned_to", assignee)
		// An evicted assignee's counts were already discarded with the
		// service; decrement only when it is still registered.
		if _, alive := d.registry.Get(assignee); alive {
			d.tracker.RecordTimeout(assignee)
		}
		d.finalize(task, TaskTimeout, nil, "task timed out")
	}
}

func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	defer d.loops.Done()

	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Cleanup()
		}
	}
}

// Cleanup purges terminal tasks past retention into the bounded history
// cache, keeping the active task map from growing without limit. Exported so
// tests and operators can force a pass.
func (d *Dispatcher) Cleanup() {
	cutoff := d.now().Add(-d.retention)

	d.mu.Lock()
	var purged []Task
	for id, task := range d.tasks {
		if task.Status.Terminal() && task.CompletedAt.Before(cutoff) {
			purged = append(purged, task.snapshot())
			delete(d.tasks, id)
		}
	}
	d.mu.Unlock()

	for _, task := range purged {
		d.history.Add(task.ID, task)
	}
	if len(purged) > 0 {
		d.logger.Debug("purged terminal tasks", "count", len(purged))
	}
}

// Cancel cancels a queued task. Tasks already dispatched, executing, or
// terminal cannot be cancelled.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	task, ok := d.tasks[id]
	if !ok {
		d.mu.Unlock()
		if _, inHistory := d.history.Get(id); inHistory {
			return errors.WrapInvalid(
				fmt.Errorf("%w: task %s already finished", errors.ErrTaskNotCancellable, id),
				"Dispatcher", "Cancel", "status check")
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id),
			"Dispatcher", "Cancel", "id lookup")
	}
	status := task.Status
	d.mu.Unlock()

	if status != TaskQueued {
		return errors.WrapInvalid(
			fmt.Errorf("%w: task %s is %s", errors.ErrTaskNotCancellable, id, status),
			"Dispatcher", "Cancel", "status check")
	}

	d.queue.Remove(id)
	d.finalize(task, TaskCancelled, nil, "cancelled by caller")
	return nil
}

// GetTask returns a snapshot of a task, consulting purged history for
// recently finished ones.
func (d *Dispatcher) GetTask(id string) (Task, error) {
	d.mu.Lock()
	if task, ok := d.tasks[id]; ok {
		out := task.snapshot()
		d.mu.Unlock()
		return out, nil
	}
	d.mu.Unlock()

	if task, ok := d.history.Get(id); ok {
		return task, nil
	}
	return Task{}, errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id),
		"Dispatcher", "GetTask", "id lookup")
}

// QueueStatus describes the current task queue
type QueueStatus struct {
	Depth      int            `json:"depth"`
	MaxSize    int            `json:"max_size"`
	ByPriority map[string]int `json:"by_priority"`
}

// GetQueueStatus returns the current queue depth and composition
func (d *Dispatcher) GetQueueStatus() QueueStatus {
	return QueueStatus{
		Depth:      d.queue.Len(),
		MaxSize:    d.maxQueueSize,
		ByPriority: d.queue.CountByPriority(),
	}
}

// Stats is a snapshot of dispatcher counters
type Stats struct {
	Submitted  int64 `json:"submitted"`
	Dispatched int64 `json:"dispatched"`
	Retried    int64 `json:"retried"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	TimedOut   int64 `json:"timed_out"`
	QueueDepth int   `json:"queue_depth"`
	InFlight   int   `json:"in_flight"`
}

// Stats returns current dispatcher statistics
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:  atomic.LoadInt64(&d.submitted),
		Dispatched: atomic.LoadInt64(&d.dispatched),
		Retried:    atomic.LoadInt64(&d.retried),
		Completed:  atomic.LoadInt64(&d.completed),
		Failed:     atomic.LoadInt64(&d.failed),
		Cancelled:  atomic.LoadInt64(&d.cancelled),
		TimedOut:   atomic.LoadInt64(&d.timedOut),
		QueueDepth: d.queue.Len(),
		InFlight:   d.inFlight(),
	}
}
