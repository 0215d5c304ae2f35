// Package governor implements the request-rate governance engine: rule
// resolution, admission control against the counter store, and the façade
// that merges admission with the suspicion verdict.
package governor

import (
	"fmt"
	"sort"
	"sync"

	"reqguard/internal/models"
)

// RuleSet is an ordered collection of rate-limit rules. Rules are kept
// sorted by descending priority so resolution is a single scan; the first
// rule whose predicates all match is authoritative.
//
// Rules are read-only during request processing; administrative calls
// mutate the set under the write lock.
type RuleSet struct {
	mu    sync.RWMutex
	rules []models.Rule
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

// Add validates and installs a rule. Malformed rules are rejected here
// and never reach request processing. Adding an ID that already exists is
// a conflict; remove the old rule first.
func (rs *RuleSet) Add(rule models.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i := range rs.rules {
		if rs.rules[i].ID == rule.ID {
			return fmt.Errorf("rule %s already exists", rule.ID)
		}
	}

	rs.rules = append(rs.rules, rule)
	sort.SliceStable(rs.rules, func(i, j int) bool {
		return rs.rules[i].Priority > rs.rules[j].Priority
	})
	return nil
}

// Remove deletes the rule with the given ID and reports whether it
// existed.
func (rs *RuleSet) Remove(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for i := range rs.rules {
		if rs.rules[i].ID == id {
			rs.rules = append(rs.rules[:i], rs.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Resolve returns a copy of the highest-priority matching rule, or nil
// when no rule matches and no limiting applies.
func (rs *RuleSet) Resolve(meta models.RequestMeta) *models.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	for i := range rs.rules {
		if rs.rules[i].Matches(meta) {
			rule := rs.rules[i]
			return &rule
		}
	}
	return nil
}

// Rules returns a snapshot of the current rules in priority order.
func (rs *RuleSet) Rules() []models.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return append([]models.Rule(nil), rs.rules...)
}

// Len reports the number of installed rules.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}
