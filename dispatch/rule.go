package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/c360/coordinator/errors"
	"github.com/c360/coordinator/router"
)

// Rule adjusts tasks at submission time. A matched rule can boost the task's
// priority and narrow candidate selection to preferred services. Rules are
// evaluated in registration order; all matching rules apply, priority boosts
// accumulate but never exceed critical.
type Rule struct {
	ID               string   `json:"id"`
	TaskType         string   `json:"task_type"` // exact, "*", or "prefix*suffix"
	PriorityBoost    int      `json:"priority_boost"`
	PreferredTargets []string `json:"preferred_targets,omitempty"`
	Enabled          bool     `json:"enabled"`
}

// Validate checks the rule at the registration boundary
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate", "id check")
	}
	if r.PriorityBoost < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: negative priority boost", errors.ErrInvalidRule),
			"Rule", "Validate", "boost check")
	}
	return nil
}

// Matches reports whether the rule applies to a task type
func (r Rule) Matches(taskType string) bool {
	pattern := r.TaskType
	if pattern == "" || pattern == "*" {
		return true
	}
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		prefix, suffix := pattern[:i], pattern[i+1:]
		return len(taskType) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(taskType, prefix) &&
			strings.HasSuffix(taskType, suffix)
	}
	return pattern == taskType
}

// dispatchRules holds submission rules behind a lock
type dispatchRules struct {
	mu    sync.RWMutex
	rules []Rule
}

func newDispatchRules() *dispatchRules {
	return &dispatchRules{}
}

// Add appends a rule, rejecting duplicates by id
func (dr *dispatchRules) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	for _, existing := range dr.rules {
		if existing.ID == rule.ID {
			return errors.WrapInvalid(
				fmt.Errorf("%w: rule %s already registered", errors.ErrInvalidRule, rule.ID),
				"dispatchRules", "Add", "duplicate id check")
		}
	}
	dr.rules = append(dr.rules, rule)
	return nil
}

// Remove deletes a rule by id
func (dr *dispatchRules) Remove(id string) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	for i, rule := range dr.rules {
		if rule.ID == id {
			dr.rules = append(dr.rules[:i], dr.rules[i+1:]...)
			return nil
		}
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrRuleNotFound, id),
		"dispatchRules", "Remove", "id lookup")
}

// List returns a snapshot of all rules in registration order
func (dr *dispatchRules) List() []Rule {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	result := make([]Rule, len(dr.rules))
	copy(result, dr.rules)
	return result
}

// Apply folds every matching enabled rule into the task
func (dr *dispatchRules) Apply(t *Task) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()

	for _, rule := range dr.rules {
		if !rule.Enabled || !rule.Matches(t.Type) {
			continue
		}
		if rule.PriorityBoost > 0 {
			boosted := t.Priority + router.Priority(rule.PriorityBoost)
			if boosted > router.PriorityCritical {
				boosted = router.PriorityCritical
			}
			t.Priority = boosted
		}
		if len(rule.PreferredTargets) > 0 {
			t.preferredTargets = append(t.preferredTargets, rule.PreferredTargets...)
		}
	}
}
