package insight

import (
	"fmt"
	"time"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// RegisterDefaults adds the built-in insight rules in their standard order.
func RegisterDefaults(g *Generator) error {
	for _, rule := range []*Rule{
		RapidNavigationInsight(),
		UnannouncedStructureChange(),
		SpokenTargetConfirmed(),
	} {
		if err := g.AddRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// RapidNavigationInsight flags a burst of same-key navigation: three or more
// presses in a short window usually means the user is hunting for a focus
// target, which points at a focus-order problem.
func RapidNavigationInsight() *Rule {
	return &Rule{
		ID:          "rapid-navigation",
		Name:        "Rapid Keyboard Navigation",
		Description: "Burst of identical navigation keypresses",
		Build: func(record *domain.CorrelationRecord) *domain.AccessibilityInsight {
			if record.RuleID != "rapid-key-navigation" {
				return nil
			}
			events := record.Events()
			presses := domain.Filter{SourceKind: domain.SourceInteraction}.Apply(events)
			if len(presses) < 3 {
				return nil
			}
			key := presses[0].PayloadString("key")
			return &domain.AccessibilityInsight{
				Type:     "rapid-navigation",
				Severity: domain.SeverityMedium,
				Description: fmt.Sprintf(
					"%d %q presses within %s suggest the user is stepping through the UI to find a target",
					len(presses), key, time.Duration(record.TimeSpan)*time.Microsecond,
				),
				Evidence:    events,
				Remediation: "Review the focus order so the target is reachable in fewer steps",
				Reference:   "WCAG 2.2 SC 2.4.3 Focus Order",
			}
		},
	}
}

// UnannouncedStructureChange flags a structure change caused by an
// interaction with no speech segment near it: screen-reader users got no
// feedback that anything happened.
func UnannouncedStructureChange() *Rule {
	return &Rule{
		ID:          "unannounced-structure-change",
		Name:        "Unannounced Structure Change",
		Description: "Structure change with no nearby announcement",
		Build: func(record *domain.CorrelationRecord) *domain.AccessibilityInsight {
			if record.RuleID != "interaction-triggers-structure" {
				return nil
			}
			events := record.Events()
			if audio := (domain.Filter{SourceKind: domain.SourceAudio}).Apply(events); len(audio) > 0 {
				return nil
			}
			return &domain.AccessibilityInsight{
				Type:        "unannounced-structure-change",
				Severity:    domain.SeverityHigh,
				Description: "The screen structure changed after an interaction without any spoken announcement",
				Evidence:    events,
				Remediation: "Announce dynamic content updates, for example with a status message",
				Reference:   "WCAG 2.2 SC 4.1.3 Status Messages",
			}
		},
	}
}

// SpokenTargetConfirmed records the positive case: speech agreed with the
// focused interface element, confirming the accessible name is meaningful.
func SpokenTargetConfirmed() *Rule {
	return &Rule{
		ID:          "spoken-target-confirmed",
		Name:        "Spoken Target Confirmed",
		Description: "Speech matched the focused element",
		Build: func(record *domain.CorrelationRecord) *domain.AccessibilityInsight {
			if record.RuleID != "spoken-interface-reference" {
				return nil
			}
			if record.Type != domain.CorrelationSemantic || record.Confidence < 0.8 {
				return nil
			}
			return &domain.AccessibilityInsight{
				Type:        "spoken-target-confirmed",
				Severity:    domain.SeverityLow,
				Description: "Speech referenced the interface element that held focus, confirming its accessible name",
				Evidence:    record.Events(),
			}
		},
	}
}
