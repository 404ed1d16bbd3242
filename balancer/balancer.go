// Package balancer tracks in-flight workload per service and computes the
// load score used for service selection. Counts increment on dispatch and
// decrement exactly once when a terminal notification arrives; if a service
// is evicted mid-flight its outstanding counts are discarded rather than
// reattributed.
package balancer

import (
	"log/slog"
	"sync"
	"time"
)

// failureWeight is the contribution of each recent failure to the load score
const failureWeight = 0.1

// ServiceStats is a snapshot of the tracked state for one service
type ServiceStats struct {
	ActiveTasks      int           `json:"active_tasks"`
	FailureCount     int           `json:"failure_count"`
	HealthScore      float64       `json:"health_score"`
	CompletedTasks   int64         `json:"completed_tasks"`
	SucceededTasks   int64         `json:"succeeded_tasks"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
}

// SuccessRate returns the fraction of completed tasks that succeeded.
// A service with no history is treated as fully successful so new services
// are not penalized before they have done any work.
func (s ServiceStats) SuccessRate() float64 {
	if s.CompletedTasks == 0 {
		return 1.0
	}
	return float64(s.SucceededTasks) / float64(s.CompletedTasks)
}

type entry struct {
	active    int
	failures  int
	health    float64
	completed int64
	succeeded int64
	avgExec   time.Duration
}

// Tracker maintains per-service workload counters and health scores
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// Option is a functional option for configuring the Tracker
type Option func(*Tracker)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates an empty workload tracker
func New(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]*entry),
		logger:  slog.Default().With("component", "balancer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) entryLocked(id string) *entry {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{health: 1.0}
		t.entries[id] = e
	}
	return e
}

// RecordDispatch increments the active task count for a service
func (t *Tracker) RecordDispatch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryLocked(id).active++
}

// RecordCompletion decrements the active task count and folds the execution
// sample into the service's running success-rate and average-execution-time
// statistics: newAvg = (oldAvg × (n−1) + sample) / n.
func (t *Tracker) RecordCompletion(id string, success bool, execTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(id)
	if e.active > 0 {
		e.active--
	}

	e.completed++
	if success {
		e.succeeded++
	} else {
		e.failures++
	}

	n := e.completed
	e.avgExec = time.Duration((int64(e.avgExec)*(n-1) + int64(execTime)) / n)
}

// RecordTimeout releases the active slot for a timed-out task and counts it
// as a failure for scoring, without folding an execution-time sample in.
func (t *Tracker) RecordTimeout(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(id)
	if e.active > 0 {
		e.active--
	}
	e.failures++
}

// SetHealthScore records the last observed health score for a service
func (t *Tracker) SetHealthScore(id string, score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryLocked(id).health = score
}

// Drop discards all tracking state for a service. Used on eviction or
// deregistration; outstanding counts vanish with the service.
func (t *Tracker) Drop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok && e.active > 0 {
		t.logger.Debug("dropping service with in-flight work",
			"service_id", id, "active_tasks", e.active)
	}
	delete(t.entries, id)
}

// Score computes the load score for a service; lower is better:
// activeTaskCount + 0.1 × failureCount + (1.0 − healthScore).
// Unknown services score as idle and fully healthy.
func (t *Tracker) Score(id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return 0
	}
	return float64(e.active) + failureWeight*float64(e.failures) + (1.0 - e.health)
}

// SelectBest returns the candidate with the minimum load score, breaking
// ties by lexicographic id order for determinism. Returns "" when the
// candidate list is empty.
func (t *Tracker) SelectBest(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	best := ""
	bestScore := 0.0
	for _, id := range candidates {
		score := t.Score(id)
		if best == "" || score < bestScore || (score == bestScore && id < best) {
			best = id
			bestScore = score
		}
	}
	return best
}

// Stats returns a snapshot of the tracked state for a service
func (t *Tracker) Stats(id string) ServiceStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return ServiceStats{HealthScore: 1.0}
	}
	return ServiceStats{
		ActiveTasks:      e.active,
		FailureCount:     e.failures,
		HealthScore:      e.health,
		CompletedTasks:   e.completed,
		SucceededTasks:   e.succeeded,
		AvgExecutionTime: e.avgExec,
	}
}

// ActiveTasks returns the current in-flight count for a service
func (t *Tracker) ActiveTasks(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.entries[id]; ok {
		return e.active
	}
	return 0
}
