package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/c360/coordinator/errors"
)

// Strategy selects how a matched routing rule picks a delivery target
type Strategy int

// Routing strategies
const (
	StrategyDirect Strategy = iota
	StrategyRoundRobin
	StrategyRandom
	StrategyLeastConnections
	StrategyWeighted
)

// String returns the string representation of Strategy
func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyRoundRobin:
		return "round_robin"
	case StrategyRandom:
		return "random"
	case StrategyLeastConnections:
		return "least_connections"
	case StrategyWeighted:
		return "weighted"
	default:
		return "unknown"
	}
}

// Rule matches messages by (source, target, type) patterns and selects a
// delivery strategy. Rules are evaluated in registration order; the first
// enabled match wins, and no match falls back to direct delivery.
//
// Each pattern is an exact string, "*" (match anything), or a single
// "prefix*suffix" wildcard form. An empty pattern matches anything.
type Rule struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Type     string         `json:"type"`
	Strategy Strategy       `json:"strategy"`
	Targets  []string       `json:"targets,omitempty"` // candidates for non-direct strategies
	Weights  map[string]int `json:"weights,omitempty"` // weighted strategy only
	Enabled  bool           `json:"enabled"`
}

// Validate checks the rule at the registration boundary
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate", "id check")
	}
	if r.Strategy < StrategyDirect || r.Strategy > StrategyWeighted {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown strategy %d", errors.ErrInvalidRule, r.Strategy),
			"Rule", "Validate", "strategy check")
	}
	if r.Strategy != StrategyDirect && len(r.Targets) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: strategy %s requires targets", errors.ErrInvalidRule, r.Strategy),
			"Rule", "Validate", "targets check")
	}
	return nil
}

// Matches reports whether the rule's patterns all match the message
func (r Rule) Matches(m Message) bool {
	return matchPattern(r.Source, m.Source) &&
		matchPattern(r.Target, m.Target) &&
		matchPattern(r.Type, m.Type)
}

// matchPattern matches an exact string, "*", or one "prefix*suffix" wildcard
func matchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		prefix, suffix := pattern[:i], pattern[i+1:]
		return len(value) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(value, prefix) &&
			strings.HasSuffix(value, suffix)
	}
	return pattern == value
}

// ruleSet holds routing rules in registration order behind a lock
type ruleSet struct {
	mu    sync.RWMutex
	rules []Rule
}

func newRuleSet() *ruleSet {
	return &ruleSet{}
}

// Add appends a rule, rejecting duplicates by id
func (rs *ruleSet) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, existing := range rs.rules {
		if existing.ID == rule.ID {
			return errors.WrapInvalid(
				fmt.Errorf("%w: rule %s already registered", errors.ErrInvalidRule, rule.ID),
				"ruleSet", "Add", "duplicate id check")
		}
	}

	rs.rules = append(rs.rules, rule)
	return nil
}

// Remove deletes a rule by id
func (rs *ruleSet) Remove(id string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i, rule := range rs.rules {
		if rule.ID == id {
			rs.rules = append(rs.rules[:i], rs.rules[i+1:]...)
			return nil
		}
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrRuleNotFound, id),
		"ruleSet", "Remove", "id lookup")
}

// FirstMatch returns the first enabled rule matching the message
func (rs *ruleSet) FirstMatch(m Message) (Rule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	for _, rule := range rs.rules {
		if rule.Enabled && rule.Matches(m) {
			return rule, true
		}
	}
	return Rule{}, false
}

// List returns a snapshot of all rules in registration order
func (rs *ruleSet) List() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	result := make([]Rule, len(rs.rules))
	copy(result, rs.rules)
	return result
}
