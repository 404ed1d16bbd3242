package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/coordinator/errors"
)

func validRecord(id string) ServiceRecord {
	return ServiceRecord{
		ID:           id,
		Name:         "worker-" + id,
		Endpoint:     "inproc://" + id,
		Capabilities: []string{"compute"},
	}
}

func TestRegister(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(validRecord("svc-a")))

	got, ok := r.Get("svc-a")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 1.0, got.HealthScore)
	assert.False(t, got.LastHeartbeat.IsZero())
	assert.False(t, got.RegisteredAt.IsZero())
}

func TestRegister_Duplicate(t *testing.T) {
	r := New()
	original := validRecord("svc-a")
	original.Version = "1.0.0"
	require.NoError(t, r.Register(original))

	dup := validRecord("svc-a")
	dup.Version = "2.0.0"
	err := r.Register(dup)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateService)

	// The existing record is unaltered
	got, ok := r.Get("svc-a")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestRegister_InvalidRecord(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceRecord)
	}{
		{name: "missing id", mutate: func(r *ServiceRecord) { r.ID = "" }},
		{name: "missing name", mutate: func(r *ServiceRecord) { r.Name = "" }},
		{name: "missing endpoint", mutate: func(r *ServiceRecord) { r.Endpoint = "" }},
		{name: "empty capabilities", mutate: func(r *ServiceRecord) { r.Capabilities = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			record := validRecord("svc-a")
			tt.mutate(&record)

			err := r.Register(record)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidRecord)
		})
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validRecord("svc-a")))

	r.Unregister("svc-a")
	_, ok := r.Get("svc-a")
	assert.False(t, ok)

	// Second call and unknown ids are silent no-ops
	r.Unregister("svc-a")
	r.Unregister("never-existed")
}

func TestList_CapabilityFilterAndSnapshot(t *testing.T) {
	r := New()

	a := validRecord("svc-a")
	a.Capabilities = []string{"compute", "gpu"}
	b := validRecord("svc-b")
	b.Capabilities = []string{"compute"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	assert.Len(t, r.List(), 2)
	assert.Len(t, r.List("compute"), 2)

	gpu := r.List("gpu")
	require.Len(t, gpu, 1)
	assert.Equal(t, "svc-a", gpu[0].ID)

	assert.Empty(t, r.List("quantum"))

	// Snapshot is detached from later changes
	snapshot := r.List()
	r.Unregister("svc-a")
	assert.Len(t, snapshot, 2)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validRecord("svc-a")))

	got, ok := r.Get("svc-a")
	require.True(t, ok)
	got.Capabilities[0] = "tampered"

	fresh, _ := r.Get("svc-a")
	assert.Equal(t, "compute", fresh.Capabilities[0])
}

func TestTouch(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validRecord("svc-a")))

	before, _ := r.Get("svc-a")
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, r.Touch("svc-a", Heartbeat{HealthScore: 0.95}))

	after, _ := r.Get("svc-a")
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
	assert.Equal(t, StatusRunning, after.Status)
	assert.Equal(t, 0.95, after.HealthScore)
}

func TestTouch_ScoreMapping(t *testing.T) {
	tests := []struct {
		score float64
		want  Status
	}{
		{score: 0.95, want: StatusRunning},
		{score: 0.7, want: StatusBusy},
		{score: 0.5, want: StatusError},
		{score: 0.1, want: StatusError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("score %.2f", tt.score), func(t *testing.T) {
			r := New()
			require.NoError(t, r.Register(validRecord("svc-a")))
			require.NoError(t, r.Touch("svc-a", Heartbeat{HealthScore: tt.score}))

			got, _ := r.Get("svc-a")
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestTouch_ErrorRecoversOnHealthyHeartbeat(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validRecord("svc-a")))

	require.NoError(t, r.Touch("svc-a", Heartbeat{HealthScore: 0.2}))
	got, _ := r.Get("svc-a")
	require.Equal(t, StatusError, got.Status)

	require.NoError(t, r.Touch("svc-a", Heartbeat{HealthScore: 0.9}))
	got, _ = r.Get("svc-a")
	assert.Equal(t, StatusRunning, got.Status)
}

func TestTouch_UnknownService(t *testing.T) {
	r := New()
	err := r.Touch("ghost", Heartbeat{HealthScore: 1.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrServiceNotFound)
}

func TestUpdateStatus_StateMachine(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validRecord("svc-a")))

	// RUNNING -> STOPPING -> STOPPED is legal
	require.NoError(t, r.UpdateStatus("svc-a", StatusStopping))
	require.NoError(t, r.UpdateStatus("svc-a", StatusStopped))

	// STOPPED is terminal
	err := r.UpdateStatus("svc-a", StatusRunning)
	assert.Error(t, err)
}

func TestUpdateStatus_AnyToError(t *testing.T) {
	for _, from := range []Status{StatusStarting, StatusRunning, StatusBusy, StatusStopping} {
		assert.True(t, from.CanTransition(StatusError), "from %s", from)
	}
	assert.True(t, StatusError.CanTransition(StatusRunning))
}

func TestAvailable(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validRecord("svc-a")))
	require.NoError(t, r.Register(validRecord("svc-b")))
	require.NoError(t, r.Register(validRecord("svc-c")))

	require.NoError(t, r.Touch("svc-b", Heartbeat{HealthScore: 0.6})) // busy
	require.NoError(t, r.Touch("svc-c", Heartbeat{HealthScore: 0.1})) // error

	available := r.Available("compute")
	ids := make([]string, 0, len(available))
	for _, rec := range available {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"svc-a", "svc-b"}, ids)
}

func TestSubscribe_Events(t *testing.T) {
	r := New()

	var events []Event
	r.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, r.Register(validRecord("svc-a")))
	require.NoError(t, r.Register(validRecord("svc-b")))
	r.Evict("svc-a")
	r.Unregister("svc-b")

	require.Len(t, events, 4)
	assert.Equal(t, EventRegistered, events[0].Kind)
	assert.Equal(t, EventRegistered, events[1].Kind)
	assert.Equal(t, EventEvicted, events[2].Kind)
	assert.Equal(t, "svc-a", events[2].Record.ID)
	assert.Equal(t, EventUnregistered, events[3].Kind)
}

func TestCount(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Count())
	require.NoError(t, r.Register(validRecord("svc-a")))
	assert.Equal(t, 1, r.Count())
	r.Unregister("svc-a")
	assert.Equal(t, 0, r.Count())
}
