package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-labs/sightline/pkg/correlation"
	"github.com/sightline-labs/sightline/pkg/correlation/rules"
	"github.com/sightline-labs/sightline/pkg/domain"
)

func TestRegisterDefaults(t *testing.T) {
	reg := correlation.NewRegistry()
	require.NoError(t, rules.RegisterDefaults(reg))
	assert.Equal(t, 3, reg.Len())

	// Registering on top of an already populated registry is rejected.
	assert.ErrorIs(t, rules.RegisterDefaults(reg), correlation.ErrDuplicateRule)
}

func press(id string, key string, ts int64) domain.TimestampedEvent {
	return domain.TimestampedEvent{
		ID: id, Timestamp: ts, SourceKind: domain.SourceInteraction,
		Payload: map[string]any{"key": key},
	}
}

func TestSpokenInterfaceReference(t *testing.T) {
	rule := rules.SpokenInterfaceReference()

	focus := domain.TimestampedEvent{ID: "f", Timestamp: 100, SourceKind: domain.SourceFocus}
	audio := domain.TimestampedEvent{ID: "a", Timestamp: 200, SourceKind: domain.SourceAudio}

	rec := rule.Evaluate([]domain.TimestampedEvent{focus, audio})
	require.NotNil(t, rec)
	assert.Equal(t, "a", rec.PrimaryEvent.ID)
	require.Len(t, rec.RelatedEvents, 1)
	assert.Equal(t, "f", rec.RelatedEvents[0].ID)

	assert.Nil(t, rule.Evaluate([]domain.TimestampedEvent{focus}))
	assert.Nil(t, rule.Evaluate([]domain.TimestampedEvent{audio}))
}

func TestRapidKeyNavigation(t *testing.T) {
	rule := rules.RapidKeyNavigation()
	focus := domain.TimestampedEvent{ID: "f", Timestamp: 500, SourceKind: domain.SourceFocus}

	t.Run("three same-key presses with focus fires", func(t *testing.T) {
		rec := rule.Evaluate([]domain.TimestampedEvent{
			press("k1", "Tab", 100), press("k2", "Tab", 200), press("k3", "Tab", 300), focus,
		})
		require.NotNil(t, rec)
		assert.Equal(t, "k3", rec.PrimaryEvent.ID)
		assert.Len(t, rec.RelatedEvents, 3)
	})

	t.Run("two presses are not a burst", func(t *testing.T) {
		rec := rule.Evaluate([]domain.TimestampedEvent{
			press("k1", "Tab", 100), press("k2", "Tab", 200), focus,
		})
		assert.Nil(t, rec)
	})

	t.Run("mixed keys are not a burst", func(t *testing.T) {
		rec := rule.Evaluate([]domain.TimestampedEvent{
			press("k1", "Tab", 100), press("k2", "Down", 200), press("k3", "Enter", 300), focus,
		})
		assert.Nil(t, rec)
	})

	t.Run("burst without focus change is ignored", func(t *testing.T) {
		rec := rule.Evaluate([]domain.TimestampedEvent{
			press("k1", "Tab", 100), press("k2", "Tab", 200), press("k3", "Tab", 300),
		})
		assert.Nil(t, rec)
	})
}

func TestInteractionTriggersStructure(t *testing.T) {
	rule := rules.InteractionTriggersStructure()

	click := domain.TimestampedEvent{ID: "i", Timestamp: 100, SourceKind: domain.SourceInteraction}
	change := domain.TimestampedEvent{ID: "s", Timestamp: 200, SourceKind: domain.SourceStructure}

	rec := rule.Evaluate([]domain.TimestampedEvent{click, change})
	require.NotNil(t, rec)
	assert.Equal(t, "s", rec.PrimaryEvent.ID)
	assert.Equal(t, domain.CorrelationCausal, rec.Type)

	// An effect that precedes every cause is no effect.
	early := domain.TimestampedEvent{ID: "s", Timestamp: 50, SourceKind: domain.SourceStructure}
	assert.Nil(t, rule.Evaluate([]domain.TimestampedEvent{early, click}))
}
