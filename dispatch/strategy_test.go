package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/coordinator/balancer"
	"github.com/c360/coordinator/registry"
)

func record(id string, capabilities ...string) registry.ServiceRecord {
	return registry.ServiceRecord{
		ID:           id,
		Name:         id,
		Capabilities: capabilities,
		Endpoint:     id,
		Status:       registry.StatusRunning,
	}
}

func TestLoadBalanced_PicksLeastLoaded(t *testing.T) {
	tracker := balancer.New()
	tracker.RecordDispatch("busy")
	tracker.RecordDispatch("busy")
	tracker.RecordDispatch("medium")

	s := NewLoadBalanced(tracker)
	candidates := []registry.ServiceRecord{
		record("busy", "compute"),
		record("medium", "compute"),
		record("idle", "compute"),
	}

	assert.Equal(t, "idle", s.Select(&Task{}, candidates))
}

func TestLoadBalanced_LexicographicTieBreak(t *testing.T) {
	s := NewLoadBalanced(balancer.New())
	candidates := []registry.ServiceRecord{
		record("zeta", "compute"),
		record("alpha", "compute"),
	}

	assert.Equal(t, "alpha", s.Select(&Task{}, candidates))
}

func TestLoadBalanced_EmptyCandidates(t *testing.T) {
	s := NewLoadBalanced(balancer.New())
	assert.Equal(t, "", s.Select(&Task{}, nil))
}

func TestIntelligent_CapabilityMatchDominates(t *testing.T) {
	tracker := balancer.New()
	s := NewIntelligent(tracker, 10)

	task := &Task{RequiredCapabilities: []string{"compute", "gpu"}}
	candidates := []registry.ServiceRecord{
		record("partial", "compute"),
		record("full", "compute", "gpu"),
	}

	assert.Equal(t, "full", s.Select(task, candidates))
}

func TestIntelligent_SuccessRateMatters(t *testing.T) {
	tracker := balancer.New()
	// flaky: 1 of 4 succeeded; solid: 4 of 4
	for i := 0; i < 4; i++ {
		tracker.RecordDispatch("flaky")
		tracker.RecordCompletion("flaky", i == 0, time.Second)
		tracker.RecordDispatch("solid")
		tracker.RecordCompletion("solid", true, time.Second)
	}

	s := NewIntelligent(tracker, 10)
	candidates := []registry.ServiceRecord{
		record("flaky", "compute"),
		record("solid", "compute"),
	}

	assert.Equal(t, "solid", s.Select(&Task{RequiredCapabilities: []string{"compute"}}, candidates))
}

func TestIntelligent_SlowServicePenalized(t *testing.T) {
	tracker := balancer.New()
	tracker.RecordDispatch("slow")
	tracker.RecordCompletion("slow", true, 400*time.Second) // beyond the speed bound
	tracker.RecordDispatch("fast")
	tracker.RecordCompletion("fast", true, time.Second)

	s := NewIntelligent(tracker, 10)
	candidates := []registry.ServiceRecord{
		record("slow", "compute"),
		record("fast", "compute"),
	}

	assert.Equal(t, "fast", s.Select(&Task{}, candidates))
}

func TestIntelligent_LoadedServicePenalized(t *testing.T) {
	tracker := balancer.New()
	for i := 0; i < 10; i++ {
		tracker.RecordDispatch("loaded")
	}

	s := NewIntelligent(tracker, 10)
	candidates := []registry.ServiceRecord{
		record("loaded", "compute"),
		record("idle", "compute"),
	}

	assert.Equal(t, "idle", s.Select(&Task{}, candidates))
}

func TestIntelligent_NewServicesScoreFully(t *testing.T) {
	s := NewIntelligent(balancer.New(), 10)

	// No history anywhere: ties break lexicographically
	candidates := []registry.ServiceRecord{
		record("b", "compute"),
		record("a", "compute"),
	}
	assert.Equal(t, "a", s.Select(&Task{}, candidates))
}

func TestCapabilityMatch(t *testing.T) {
	full := record("svc", "compute", "gpu")

	assert.Equal(t, 1.0, capabilityMatch(nil, full))
	assert.Equal(t, 1.0, capabilityMatch([]string{"compute", "gpu"}, full))
	assert.Equal(t, 0.5, capabilityMatch([]string{"compute", "quantum"}, full))
	assert.Equal(t, 0.0, capabilityMatch([]string{"quantum"}, full))
}
