package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/coordinator/balancer"
	coorderrors "github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/registry"
	"github.com/c360/coordinator/router"
	"github.com/c360/coordinator/transport"
)

type dispatchHarness struct {
	registry *registry.Registry
	tracker  *balancer.Tracker
	router   *router.Router
	inproc   *transport.Inproc
}

func newDispatchHarness(t *testing.T) *dispatchHarness {
	t.Helper()
	h := &dispatchHarness{
		registry: registry.New(),
		tracker:  balancer.New(),
		inproc:   transport.NewInproc(64),
	}
	h.router = router.New(h.registry, h.tracker, h.inproc)
	require.NoError(t, h.router.Start(context.Background()))
	t.Cleanup(func() { _ = h.router.Stop(time.Second) })
	return h
}

func (h *dispatchHarness) newDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(h.registry, h.tracker, h.router, opts...)
	require.NoError(t, err)
	return d
}

func (h *dispatchHarness) startDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d := h.newDispatcher(t, opts...)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	return d
}

func (h *dispatchHarness) register(t *testing.T, id string, capabilities ...string) {
	t.Helper()
	if len(capabilities) == 0 {
		capabilities = []string{"compute"}
	}
	require.NoError(t, h.registry.Register(registry.ServiceRecord{
		ID:           id,
		Name:         id,
		Capabilities: capabilities,
		Endpoint:     id,
	}))
}

// runWorker simulates a service that answers task requests. The handle
// callback returns the reply messages to route back.
func (h *dispatchHarness) runWorker(id string, handle func(m router.Message) []router.Message) {
	inbox := h.inproc.Subscribe(id)
	go func() {
		for data := range inbox {
			var m router.Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if m.Type != router.TypeTaskRequest {
				continue
			}
			for _, reply := range handle(m) {
				_ = h.router.Route(reply)
			}
		}
	}()
}

func completedReply(workerID string, request router.Message, result string) router.Message {
	return router.NewMessage(router.TypeTaskCompleted, json.RawMessage(result), workerID,
		router.WithCorrelationID(request.CorrelationID))
}

func failedReply(workerID string, request router.Message, reason string) router.Message {
	payload, _ := json.Marshal(failureReport{Error: reason})
	return router.NewMessage(router.TypeTaskFailed, payload, workerID,
		router.WithCorrelationID(request.CorrelationID))
}

func waitForStatus(t *testing.T, d *Dispatcher, id string, want TaskStatus) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = d.GetTask(id)
		return err == nil && task.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return task
}

func TestDispatcher_SubmitDispatchComplete(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	h.runWorker("worker-a", func(m router.Message) []router.Message {
		started := router.NewMessage(TypeTaskStarted, nil, "worker-a",
			router.WithCorrelationID(m.CorrelationID))
		return []router.Message{started, completedReply("worker-a", m, `{"answer":42}`)}
	})

	d := h.startDispatcher(t)
	id, err := d.Submit(SubmitRequest{
		Type:                 "analyze",
		Priority:             router.PriorityNormal,
		Submitter:            "client-1",
		RequiredCapabilities: []string{"compute"},
	})
	require.NoError(t, err)

	task := waitForStatus(t, d, id, TaskCompleted)
	assert.Equal(t, "worker-a", task.AssignedTo)
	assert.JSONEq(t, `{"answer":42}`, string(task.Result))
	assert.Len(t, task.Attempts, 1)

	stats := h.tracker.Stats("worker-a")
	assert.Equal(t, int64(1), stats.SucceededTasks)
	assert.Equal(t, 0, stats.ActiveTasks)

	dstats := d.Stats()
	assert.Equal(t, int64(1), dstats.Submitted)
	assert.Equal(t, int64(1), dstats.Completed)
}

func TestDispatcher_RetryBudgetExhausted(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	h.runWorker("worker-a", func(m router.Message) []router.Message {
		return []router.Message{failedReply("worker-a", m, "disk full")}
	})

	d := h.startDispatcher(t)
	id, err := d.Submit(SubmitRequest{
		Type:       "analyze",
		Priority:   router.PriorityNormal,
		Submitter:  "client-1",
		MaxRetries: 2,
	})
	require.NoError(t, err)

	// maxRetries 2 means 3 attempts total
	task := waitForStatus(t, d, id, TaskFailed)
	assert.Len(t, task.Attempts, 3)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, "disk full", task.Error)
	assert.Equal(t, int64(2), d.Stats().Retried)
}

func TestDispatcher_RetrySucceedsOnSecondAttempt(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	attempts := 0
	h.runWorker("worker-a", func(m router.Message) []router.Message {
		attempts++
		if attempts == 1 {
			return []router.Message{failedReply("worker-a", m, "transient")}
		}
		return []router.Message{completedReply("worker-a", m, `{}`)}
	})

	d := h.startDispatcher(t)
	id, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1", MaxRetries: 3,
	})
	require.NoError(t, err)

	task := waitForStatus(t, d, id, TaskCompleted)
	assert.Equal(t, 1, task.RetryCount)
	assert.Len(t, task.Attempts, 2)
}

func TestDispatcher_IneligibleHeadDoesNotStarveQueue(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-y", "render")
	h.runWorker("worker-y", func(m router.Message) []router.Message {
		return []router.Message{completedReply("worker-y", m, `{}`)}
	})

	d := h.startDispatcher(t)
	blocked, err := d.Submit(SubmitRequest{
		Type:                 "analyze",
		Priority:             router.PriorityHigh,
		Submitter:            "client-1",
		RequiredCapabilities: []string{"gpu"},
	})
	require.NoError(t, err)
	runnable, err := d.Submit(SubmitRequest{
		Type:                 "render",
		Priority:             router.PriorityNormal,
		Submitter:            "client-1",
		RequiredCapabilities: []string{"render"},
	})
	require.NoError(t, err)

	// The lower-priority task has a capable service and must run even though
	// a higher-priority task with no candidate sits ahead of it.
	task := waitForStatus(t, d, runnable, TaskCompleted)
	assert.Equal(t, "worker-y", task.AssignedTo)

	head, err := d.GetTask(blocked)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, head.Status)
	assert.Empty(t, head.Attempts)
}

func TestDispatcher_ForeignSourceCannotTerminateTask(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a", "compute")
	h.register(t, "intruder", "observer")

	var request router.Message
	got := make(chan struct{})
	h.runWorker("worker-a", func(m router.Message) []router.Message {
		request = m
		close(got)
		return nil
	})

	d := h.startDispatcher(t)
	id, err := d.Submit(SubmitRequest{
		Type:                 "analyze",
		Priority:             router.PriorityNormal,
		Submitter:            "client-1",
		RequiredCapabilities: []string{"compute"},
	})
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("task was never dispatched")
	}

	// Completion and failure reports from a service other than the assignee
	// are ignored.
	require.NoError(t, h.router.Route(completedReply("intruder", request, `{}`)))
	require.NoError(t, h.router.Route(failedReply("intruder", request, "sabotage")))

	assert.Never(t, func() bool {
		task, err := d.GetTask(id)
		return err != nil || task.Status.Terminal()
	}, 300*time.Millisecond, 25*time.Millisecond)

	require.NoError(t, h.router.Route(completedReply("worker-a", request, `{"ok":true}`)))
	task := waitForStatus(t, d, id, TaskCompleted)
	assert.Equal(t, "worker-a", task.AssignedTo)
}

func TestDispatcher_TimeoutIsTerminal(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	h.runWorker("worker-a", func(router.Message) []router.Message {
		return nil // accepts the task, never answers
	})

	d := h.startDispatcher(t,
		WithTaskTimeout(50*time.Millisecond),
		WithMaxRetries(3))
	id, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.NoError(t, err)

	waitForStatus(t, d, id, TaskDispatched)
	time.Sleep(80 * time.Millisecond)
	d.CheckTimeouts()

	// Timeouts never retry, unlike failures
	task := waitForStatus(t, d, id, TaskTimeout)
	assert.Len(t, task.Attempts, 1)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, 0, h.tracker.ActiveTasks("worker-a"))
	assert.Equal(t, 1, h.tracker.Stats("worker-a").FailureCount)
}

func TestDispatcher_PastDeadlineNeverDispatched(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")

	d := h.startDispatcher(t)
	id, err := d.Submit(SubmitRequest{
		Type:      "analyze",
		Priority:  router.PriorityNormal,
		Submitter: "client-1",
		Deadline:  time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	task := waitForStatus(t, d, id, TaskTimeout)
	assert.Empty(t, task.Attempts, "expired task must not consume a dispatch attempt")
}

func TestDispatcher_QueueFull(t *testing.T) {
	h := newDispatchHarness(t)
	// Dispatcher not started and no services: tasks stay queued
	d := h.newDispatcher(t, WithMaxQueueSize(1))

	_, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.NoError(t, err)

	_, err = d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrQueueFull)
	assert.True(t, coorderrors.IsTransient(err))
	assert.Equal(t, 1, d.GetQueueStatus().Depth, "rejected submit must not change the queue")
}

func TestDispatcher_CancelQueued(t *testing.T) {
	h := newDispatchHarness(t)
	d := h.newDispatcher(t)

	id, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.NoError(t, err)

	require.NoError(t, d.Cancel(id))
	task, err := d.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, task.Status)
	assert.Equal(t, 0, d.GetQueueStatus().Depth)

	err = d.Cancel(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrTaskNotCancellable)

	err = d.Cancel("no-such-task")
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrTaskNotFound)
}

type denyAll struct{}

func (denyAll) Authorize(identity, action string) error {
	return fmt.Errorf("%s may not %s", identity, action)
}

func TestDispatcher_AuthorizationDenied(t *testing.T) {
	h := newDispatchHarness(t)
	d := h.newDispatcher(t, WithAuthorizer(denyAll{}))

	_, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "intruder",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrAuthorization)
	assert.Equal(t, 0, d.GetQueueStatus().Depth)
}

func TestDispatcher_RuleBoostsPriorityAndPrefersTargets(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	h.register(t, "worker-b")
	h.runWorker("worker-a", func(m router.Message) []router.Message {
		return []router.Message{completedReply("worker-a", m, `{}`)}
	})
	h.runWorker("worker-b", func(m router.Message) []router.Message {
		return []router.Message{completedReply("worker-b", m, `{}`)}
	})

	d := h.startDispatcher(t)
	require.NoError(t, d.AddRule(Rule{
		ID:               "prefer-b",
		TaskType:         "analyze*",
		PriorityBoost:    1,
		PreferredTargets: []string{"worker-b"},
		Enabled:          true,
	}))

	id, err := d.Submit(SubmitRequest{
		Type: "analyze-logs", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.NoError(t, err)

	task := waitForStatus(t, d, id, TaskCompleted)
	assert.Equal(t, router.PriorityHigh, task.Priority)
	assert.Equal(t, "worker-b", task.AssignedTo)
}

func TestDispatcher_EvictedAssigneeRunsIntoTimeout(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	h.runWorker("worker-a", func(router.Message) []router.Message {
		return nil // goes silent after accepting
	})

	d := h.startDispatcher(t, WithTaskTimeout(50*time.Millisecond))
	id, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1", MaxRetries: 3,
	})
	require.NoError(t, err)

	waitForStatus(t, d, id, TaskDispatched)
	task, err := d.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, "worker-a", task.AssignedTo)

	// Eviction discards the service's workload counts; the task itself
	// stays in flight until the timeout monitor declares it.
	h.registry.Evict("worker-a")
	h.tracker.Drop("worker-a")

	task, err = d.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskDispatched, task.Status)

	time.Sleep(80 * time.Millisecond)
	d.CheckTimeouts()

	task = waitForStatus(t, d, id, TaskTimeout)
	assert.Equal(t, 0, task.RetryCount, "timeouts never retry")
	assert.Equal(t, 0, h.tracker.ActiveTasks("worker-a"))
	assert.Equal(t, 0, h.tracker.Stats("worker-a").FailureCount,
		"discarded counts must not be decremented again")
}

func TestDispatcher_WaitsForCapableService(t *testing.T) {
	h := newDispatchHarness(t)
	d := h.startDispatcher(t)

	id, err := d.Submit(SubmitRequest{
		Type:                 "transcode",
		Priority:             router.PriorityNormal,
		Submitter:            "client-1",
		RequiredCapabilities: []string{"gpu"},
	})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	task, err := d.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, task.Status, "no capable service yet")

	h.register(t, "gpu-worker", "gpu")
	h.runWorker("gpu-worker", func(m router.Message) []router.Message {
		return []router.Message{completedReply("gpu-worker", m, `{}`)}
	})

	waitForStatus(t, d, id, TaskCompleted)
}

func TestDispatcher_CleanupMovesTerminalTasksToHistory(t *testing.T) {
	h := newDispatchHarness(t)
	h.register(t, "worker-a")
	h.runWorker("worker-a", func(m router.Message) []router.Message {
		return []router.Message{completedReply("worker-a", m, `{}`)}
	})

	d := h.startDispatcher(t, WithRetention(time.Nanosecond))
	id, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.NoError(t, err)
	waitForStatus(t, d, id, TaskCompleted)

	time.Sleep(10 * time.Millisecond)
	d.Cleanup()

	// Purged tasks stay queryable through history
	task, err := d.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)

	err = d.Cancel(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrTaskNotCancellable)
}

func TestDispatcher_SubmitRejectedWhileDraining(t *testing.T) {
	h := newDispatchHarness(t)
	d := h.newDispatcher(t)
	require.True(t, d.Drain(time.Millisecond))

	_, err := d.Submit(SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrShuttingDown)
}

func TestDispatcher_Lifecycle(t *testing.T) {
	h := newDispatchHarness(t)
	d := h.newDispatcher(t)

	require.NoError(t, d.Start(context.Background()))
	err := d.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrAlreadyStarted)

	d.Stop()
	d.Stop() // idempotent
}
