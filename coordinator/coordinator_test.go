package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/coordinator/config"
	"github.com/c360/coordinator/dispatch"
	coorderrors "github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/registry"
	"github.com/c360/coordinator/router"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transport.ShutdownDrainSeconds = 1
	return cfg
}

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(testConfig(), opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Shutdown)
	return c
}

func (c *Coordinator) registerWorker(t *testing.T, id string, capabilities ...string) {
	t.Helper()
	if len(capabilities) == 0 {
		capabilities = []string{"compute"}
	}
	require.NoError(t, c.RegisterService(registry.ServiceRecord{
		ID:           id,
		Name:         id,
		Capabilities: capabilities,
		Endpoint:     id,
	}))
}

// runWorker simulates a local service completing every task it receives
func (c *Coordinator) runWorker(id string) {
	inbox := c.Inproc().Subscribe(id)
	go func() {
		for data := range inbox {
			var m router.Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if m.Type != router.TypeTaskRequest {
				continue
			}
			_ = c.SendMessage(router.NewMessage(router.TypeTaskCompleted,
				json.RawMessage(`{"done":true}`), id,
				router.WithCorrelationID(m.CorrelationID)))
		}
	}()
}

func TestCoordinator_TaskRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	c.registerWorker(t, "worker-a")
	c.runWorker("worker-a")

	id, err := c.SubmitTask(dispatch.SubmitRequest{
		Type:                 "analyze",
		Priority:             router.PriorityNormal,
		Submitter:            "client-1",
		RequiredCapabilities: []string{"compute"},
	})
	require.NoError(t, err)

	var task dispatch.Task
	require.Eventually(t, func() bool {
		task, err = c.GetTaskStatus(id)
		return err == nil && task.Status == dispatch.TaskCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "worker-a", task.AssignedTo)
	assert.JSONEq(t, `{"done":true}`, string(task.Result))

	stats := c.GetStats()
	assert.Equal(t, 1, stats.Services)
	assert.Equal(t, int64(1), stats.Dispatch.Completed)
	assert.Equal(t, int64(1), c.ServiceStats("worker-a").SucceededTasks)
}

func TestCoordinator_DuplicateRegistration(t *testing.T) {
	c := newTestCoordinator(t)
	c.registerWorker(t, "worker-a")

	err := c.RegisterService(registry.ServiceRecord{
		ID: "worker-a", Name: "worker-a", Capabilities: []string{"compute"}, Endpoint: "worker-a",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrDuplicateService)

	c.DeregisterService("worker-a")
	c.DeregisterService("worker-a") // idempotent
	assert.Equal(t, 0, c.GetStats().Services)
}

func TestCoordinator_HeartbeatMessageAdjustsStatus(t *testing.T) {
	c := newTestCoordinator(t)
	c.registerWorker(t, "worker-a")

	payload, _ := json.Marshal(registry.Heartbeat{HealthScore: 0.6})
	require.NoError(t, c.SendMessage(
		router.NewMessage(router.TypeHeartbeat, payload, "worker-a")))

	require.Eventually(t, func() bool {
		record, ok := c.GetService("worker-a")
		return ok && record.Status == registry.StatusBusy
	}, 2*time.Second, 10*time.Millisecond)

	// A healthy heartbeat recovers the service
	require.NoError(t, c.Heartbeat("worker-a", registry.Heartbeat{HealthScore: 1.0}))
	record, ok := c.GetService("worker-a")
	require.True(t, ok)
	assert.Equal(t, registry.StatusRunning, record.Status)
}

type allowOnly struct{ identity string }

func (a allowOnly) Authorize(identity, action string) error {
	if identity != a.identity {
		return fmt.Errorf("%s denied for %s", identity, action)
	}
	return nil
}

func TestCoordinator_Authorization(t *testing.T) {
	c := newTestCoordinator(t, WithAuthorizer(allowOnly{identity: "trusted"}))

	err := c.RegisterService(registry.ServiceRecord{
		ID: "intruder", Name: "intruder", Capabilities: []string{"compute"}, Endpoint: "intruder",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrAuthorization)

	_, err = c.SubmitTask(dispatch.SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "intruder",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrAuthorization)

	_, err = c.SubmitTask(dispatch.SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "trusted",
	})
	assert.NoError(t, err)
}

func TestCoordinator_EventSink(t *testing.T) {
	sink := &captureSink{}
	c := newTestCoordinator(t, WithEventSink(sink))

	c.registerWorker(t, "worker-a")
	c.DeregisterService("worker-a")

	kinds := sink.kinds()
	assert.Contains(t, kinds, EventServiceRegistered)
	assert.Contains(t, kinds, EventServiceUnregistered)
}

func TestCoordinator_Broadcast(t *testing.T) {
	c := newTestCoordinator(t)
	c.registerWorker(t, "worker-a")
	c.registerWorker(t, "worker-b")
	c.Inproc().Subscribe("worker-a")
	c.Inproc().Subscribe("worker-b")

	delivered, err := c.Broadcast(context.Background(),
		router.NewMessage(router.TypeAlert, nil, "operator"), "compute")
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
}

func TestCoordinator_RuleManagement(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.AddRoutingRule(router.Rule{
		ID: "r1", Strategy: router.StrategyDirect, Enabled: true,
	}))
	require.NoError(t, c.RemoveRoutingRule("r1"))

	require.NoError(t, c.AddDispatchRule(dispatch.Rule{
		ID: "d1", TaskType: "*", Enabled: true,
	}))
	require.NoError(t, c.RemoveDispatchRule("d1"))
}

func TestCoordinator_ShutdownStopsIntake(t *testing.T) {
	sink := &captureSink{}
	c, err := New(testConfig(), WithEventSink(sink))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	c.Shutdown()
	c.Shutdown() // idempotent

	_, err = c.SubmitTask(dispatch.SubmitRequest{
		Type: "analyze", Priority: router.PriorityNormal, Submitter: "client-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, coorderrors.ErrShuttingDown)

	kinds := sink.kinds()
	assert.Contains(t, kinds, EventShutdownStarted)
	assert.Contains(t, kinds, EventShutdownComplete)
}

func TestCoordinator_InvalidConfigRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dispatch.Strategy = "psychic"

	_, err := New(cfg)
	require.Error(t, err)
}
