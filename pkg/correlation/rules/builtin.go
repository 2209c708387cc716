// Package rules contains the built-in correlation rules shipped with the
// engine. Each constructor returns a fresh Rule value so registries never
// share state.
package rules

import (
	"github.com/sightline-labs/sightline/pkg/correlation"
	"github.com/sightline-labs/sightline/pkg/domain"
)

// RegisterDefaults registers every built-in rule with the registry.
func RegisterDefaults(reg *correlation.Registry) error {
	for _, rule := range []*correlation.Rule{
		SpokenInterfaceReference(),
		RapidKeyNavigation(),
		InteractionTriggersStructure(),
	} {
		if err := reg.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

// SpokenInterfaceReference correlates a focus change with speech close to it
// in time: the user (or a screen reader) talking about what just gained
// focus.
func SpokenInterfaceReference() *correlation.Rule {
	return &correlation.Rule{
		ID:            "spoken-interface-reference",
		Name:          "Spoken Interface Reference",
		Description:   "Speech segment near an application focus change",
		Sources:       []domain.SourceKind{domain.SourceFocus, domain.SourceAudio},
		TimeWindow:    5_000_000,
		MinConfidence: 0.6,
		Evaluate: func(events []domain.TimestampedEvent) *domain.CorrelationRecord {
			focus := domain.Filter{SourceKind: domain.SourceFocus}.Apply(events)
			audio := domain.Filter{SourceKind: domain.SourceAudio}.Apply(events)
			if len(focus) == 0 || len(audio) == 0 {
				return nil
			}
			primary := audio[len(audio)-1]
			var related []domain.TimestampedEvent
			related = append(related, focus...)
			related = append(related, audio[:len(audio)-1]...)
			return &domain.CorrelationRecord{
				PrimaryEvent:  primary,
				RelatedEvents: related,
			}
		},
	}
}

// RapidKeyNavigation correlates a burst of identical navigation keypresses
// with the focus changes they cause. Three or more presses of the same key
// inside the window is the signature of a user stepping through the UI.
func RapidKeyNavigation() *correlation.Rule {
	return &correlation.Rule{
		ID:            "rapid-key-navigation",
		Name:          "Rapid Key Navigation",
		Description:   "Repeated same-key navigation driving focus changes",
		Sources:       []domain.SourceKind{domain.SourceInteraction, domain.SourceFocus},
		TimeWindow:    5_000_000,
		MinConfidence: 0.5,
		Evaluate: func(events []domain.TimestampedEvent) *domain.CorrelationRecord {
			presses := domain.Filter{SourceKind: domain.SourceInteraction}.Apply(events)
			byKey := make(map[string][]domain.TimestampedEvent)
			for _, p := range presses {
				if key := p.PayloadString("key"); key != "" {
					byKey[key] = append(byKey[key], p)
				}
			}
			var burst []domain.TimestampedEvent
			for _, group := range byKey {
				if len(group) >= 3 && len(group) > len(burst) {
					burst = group
				}
			}
			if burst == nil {
				return nil
			}
			focus := domain.Filter{SourceKind: domain.SourceFocus}.Apply(events)
			if len(focus) == 0 {
				return nil
			}
			primary := burst[len(burst)-1]
			var related []domain.TimestampedEvent
			related = append(related, burst[:len(burst)-1]...)
			related = append(related, focus...)
			return &domain.CorrelationRecord{
				PrimaryEvent:  primary,
				RelatedEvents: related,
			}
		},
	}
}

// InteractionTriggersStructure correlates an interaction with the screen
// structure change that follows it, the canonical cause-effect pair in UI
// automation.
func InteractionTriggersStructure() *correlation.Rule {
	return &correlation.Rule{
		ID:            "interaction-triggers-structure",
		Name:          "Interaction Triggers Structure Change",
		Description:   "Pointer or keyboard interaction followed by a structure change",
		Sources:       []domain.SourceKind{domain.SourceInteraction, domain.SourceStructure},
		TimeWindow:    2_000_000,
		MinConfidence: 0.5,
		Evaluate: func(events []domain.TimestampedEvent) *domain.CorrelationRecord {
			interactions := domain.Filter{SourceKind: domain.SourceInteraction}.Apply(events)
			structures := domain.Filter{SourceKind: domain.SourceStructure}.Apply(events)
			if len(interactions) == 0 || len(structures) == 0 {
				return nil
			}
			// The effect must actually follow a cause.
			cause := interactions[0]
			effect := structures[len(structures)-1]
			if effect.Timestamp < cause.Timestamp {
				return nil
			}
			var related []domain.TimestampedEvent
			related = append(related, interactions...)
			related = append(related, structures[:len(structures)-1]...)
			return &domain.CorrelationRecord{
				PrimaryEvent:  effect,
				RelatedEvents: related,
				Type:          domain.CorrelationCausal,
			}
		},
	}
}
