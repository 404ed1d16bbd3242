package dispatch

import (
	"time"

	"github.com/c360/coordinator/balancer"
	"github.com/c360/coordinator/registry"
)

// Selector picks the service to dispatch a task to from the candidates the
// registry says are available. Returns "" when no candidate is acceptable.
type Selector interface {
	Select(task *Task, candidates []registry.ServiceRecord) string
}

// LoadBalanced selects the candidate with the lowest load score:
// activeTaskCount + 0.1 × failureCount + (1 − healthScore), ties broken by
// lexicographic id order.
type LoadBalanced struct {
	tracker *balancer.Tracker
}

// NewLoadBalanced creates the load-balanced selector
func NewLoadBalanced(tracker *balancer.Tracker) *LoadBalanced {
	return &LoadBalanced{tracker: tracker}
}

// Select returns the least-loaded candidate
func (s *LoadBalanced) Select(_ *Task, candidates []registry.ServiceRecord) string {
	ids := make([]string, len(candidates))
	for i, record := range candidates {
		ids[i] = record.ID
	}
	return s.tracker.SelectBest(ids)
}

// Intelligent selection weights and normalization bounds
const (
	capabilityWeight  = 0.4
	performanceWeight = 0.4
	loadWeight        = 0.2

	successRateWeight = 0.7
	execSpeedWeight   = 0.3

	// execution times at or beyond this bound score zero on speed
	execTimeBound = 300 * time.Second
)

// Intelligent scores candidates on capability fit, historical performance,
// and current load, and picks the highest score:
//
//	0.4×capabilityMatch + 0.4×(0.7×successRate + 0.3×speed) + 0.2×(1−load/maxLoad)
//
// Ties break by lexicographic id order.
type Intelligent struct {
	tracker *balancer.Tracker
	maxLoad int
}

// NewIntelligent creates the intelligent selector. maxLoad normalizes the
// active task count; non-positive values default to 10.
func NewIntelligent(tracker *balancer.Tracker, maxLoad int) *Intelligent {
	if maxLoad <= 0 {
		maxLoad = 10
	}
	return &Intelligent{tracker: tracker, maxLoad: maxLoad}
}

// Select returns the highest-scoring candidate
func (s *Intelligent) Select(task *Task, candidates []registry.ServiceRecord) string {
	best := ""
	bestScore := -1.0
	for _, record := range candidates {
		score := s.score(task, record)
		if score > bestScore || (score == bestScore && record.ID < best) {
			best = record.ID
			bestScore = score
		}
	}
	return best
}

func (s *Intelligent) score(task *Task, record registry.ServiceRecord) float64 {
	stats := s.tracker.Stats(record.ID)

	capability := capabilityMatch(task.RequiredCapabilities, record)

	speed := 1.0 - stats.AvgExecutionTime.Seconds()/execTimeBound.Seconds()
	if speed < 0 {
		speed = 0
	}
	performance := successRateWeight*stats.SuccessRate() + execSpeedWeight*speed

	load := float64(stats.ActiveTasks) / float64(s.maxLoad)
	if load > 1 {
		load = 1
	}

	return capabilityWeight*capability + performanceWeight*performance + loadWeight*(1.0-load)
}

// capabilityMatch is the fraction of required capabilities the service
// declares. With no requirements every service matches fully.
func capabilityMatch(required []string, record registry.ServiceRecord) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, capability := range required {
		if record.HasCapability(capability) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
