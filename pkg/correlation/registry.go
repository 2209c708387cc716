package correlation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// ErrDuplicateRule is returned when registering a rule whose id is taken.
// Overwriting silently was judged a latent bug; hot swap goes through
// ReplaceRule so the intent is explicit.
var ErrDuplicateRule = errors.New("rule id already registered")

// ErrRuleNotFound is returned when removing or replacing an unknown rule.
var ErrRuleNotFound = errors.New("rule not found")

// Registry is the in-memory rule registry, keyed by rule id with stable
// registration order.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	order []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*Rule)}
}

// Register validates and adds a rule. Duplicate ids are rejected.
func (r *Registry) Register(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	r.rules[rule.ID] = rule
	r.order = append(r.order, rule.ID)
	return nil
}

// Replace swaps an existing rule for a new definition with the same id.
func (r *Registry) Replace(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[rule.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	r.rules[rule.ID] = rule
	return nil
}

// Remove deletes a rule by id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(r.rules, id)
	for i, rid := range r.order {
		if rid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the rule with the given id, if registered.
func (r *Registry) Get(id string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// RulesFor returns, in registration order, every rule listening to the kind.
func (r *Registry) RulesFor(kind domain.SourceKind) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Rule
	for _, id := range r.order {
		if rule := r.rules[id]; rule != nil && rule.AppliesTo(kind) {
			out = append(out, rule)
		}
	}
	return out
}

// List returns all rules in registration order.
func (r *Registry) List() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Rule, 0, len(r.order))
	for _, id := range r.order {
		if rule := r.rules[id]; rule != nil {
			out = append(out, rule)
		}
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
