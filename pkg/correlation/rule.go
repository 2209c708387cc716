package correlation

import (
	"fmt"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// Rule is a registered correlation rule: tagged data plus a pure evaluation
// function over the window of candidate events it is handed. Evaluate must
// not retain or mutate the slice; returning nil means no match.
type Rule struct {
	ID            string
	Name          string
	Description   string
	Sources       []domain.SourceKind
	TimeWindow    int64 // microseconds, half-width around the trigger; 0 takes the engine default
	MinConfidence float64

	Evaluate func(events []domain.TimestampedEvent) *domain.CorrelationRecord
}

// AppliesTo reports whether the rule listens to the given source kind.
func (r *Rule) AppliesTo(kind domain.SourceKind) bool {
	for _, s := range r.Sources {
		if s == kind {
			return true
		}
	}
	return false
}

// ValidateRule performs structural validation before registration.
func ValidateRule(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if rule.Evaluate == nil {
		return fmt.Errorf("rule %s must have an Evaluate function", rule.ID)
	}
	if rule.TimeWindow < 0 {
		return fmt.Errorf("rule %s time window must not be negative", rule.ID)
	}
	if rule.MinConfidence < 0 || rule.MinConfidence > 1 {
		return fmt.Errorf("rule %s MinConfidence must be between 0 and 1", rule.ID)
	}
	if len(rule.Sources) == 0 {
		return fmt.Errorf("rule %s must specify at least one source", rule.ID)
	}
	for _, s := range rule.Sources {
		if !s.Valid() {
			return fmt.Errorf("rule %s references unknown source kind %q", rule.ID, s)
		}
	}
	return nil
}
