package insight

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sightline-labs/sightline/pkg/domain"
)

func newTestGenerator(t *testing.T, cfg Config) *Generator {
	t.Helper()
	return NewGenerator(cfg, func() int64 { return 42_000_000 }, zaptest.NewLogger(t))
}

func press(id string, ts int64) domain.TimestampedEvent {
	return domain.TimestampedEvent{
		ID: id, Timestamp: ts, SourceKind: domain.SourceInteraction,
		Payload: map[string]any{"key": "Tab"},
	}
}

func rapidNavigationRecord() *domain.CorrelationRecord {
	return &domain.CorrelationRecord{
		ID:           "rec1",
		RuleID:       "rapid-key-navigation",
		PrimaryEvent: press("k3", 1_400_000),
		RelatedEvents: []domain.TimestampedEvent{
			press("k1", 1_000_000),
			press("k2", 1_200_000),
			{ID: "f1", Timestamp: 1_500_000, SourceKind: domain.SourceFocus},
		},
		Strength:   0.9,
		Confidence: 0.95,
		TimeSpan:   500_000,
		Type:       domain.CorrelationCausal,
	}
}

func TestRapidNavigationInsight(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())
	require.NoError(t, RegisterDefaults(gen))

	insights := gen.Process(rapidNavigationRecord())
	require.Len(t, insights, 1)

	ins := insights[0]
	assert.Equal(t, "rapid-navigation", ins.Type)
	assert.Equal(t, domain.SeverityMedium, ins.Severity)
	assert.Contains(t, ins.Reference, "2.4.3")
	assert.NotEmpty(t, ins.Remediation)
	assert.NotEmpty(t, ins.ID)
	assert.Equal(t, int64(42_000_000), ins.CreatedAt)
	assert.Len(t, ins.Evidence, 4)
}

func TestUnannouncedStructureChange(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())
	require.NoError(t, RegisterDefaults(gen))

	silent := &domain.CorrelationRecord{
		ID:     "rec2",
		RuleID: "interaction-triggers-structure",
		PrimaryEvent: domain.TimestampedEvent{
			ID: "s1", Timestamp: 2_000_000, SourceKind: domain.SourceStructure,
		},
		RelatedEvents: []domain.TimestampedEvent{
			{ID: "i1", Timestamp: 1_900_000, SourceKind: domain.SourceInteraction},
		},
		Strength:   0.9,
		Confidence: 0.95,
		Type:       domain.CorrelationCausal,
	}

	insights := gen.Process(silent)
	require.Len(t, insights, 1)
	assert.Equal(t, "unannounced-structure-change", insights[0].Type)
	assert.Equal(t, domain.SeverityHigh, insights[0].Severity)

	// With speech near the change there is nothing to flag.
	announced := *silent
	announced.RelatedEvents = append(announced.RelatedEvents,
		domain.TimestampedEvent{ID: "a1", Timestamp: 2_100_000, SourceKind: domain.SourceAudio},
	)
	assert.Empty(t, gen.Process(&announced))
}

func TestSpokenTargetConfirmed(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())
	require.NoError(t, RegisterDefaults(gen))

	rec := &domain.CorrelationRecord{
		ID:     "rec3",
		RuleID: "spoken-interface-reference",
		PrimaryEvent: domain.TimestampedEvent{
			ID: "a1", Timestamp: 2_000_000, SourceKind: domain.SourceAudio,
		},
		RelatedEvents: []domain.TimestampedEvent{
			{ID: "f1", Timestamp: 1_500_000, SourceKind: domain.SourceFocus},
		},
		Strength:   0.85,
		Confidence: 0.9,
		Type:       domain.CorrelationSemantic,
	}

	insights := gen.Process(rec)
	require.Len(t, insights, 1)
	assert.Equal(t, domain.SeverityLow, insights[0].Severity)

	weak := *rec
	weak.Confidence = 0.5
	assert.Empty(t, gen.Process(&weak))
}

func TestFailingRuleIsIsolated(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())
	require.NoError(t, gen.AddRule(&Rule{
		ID: "broken",
		Build: func(*domain.CorrelationRecord) *domain.AccessibilityInsight {
			panic("insight bug")
		},
	}))
	require.NoError(t, gen.AddRule(&Rule{
		ID: "working",
		Build: func(record *domain.CorrelationRecord) *domain.AccessibilityInsight {
			return &domain.AccessibilityInsight{Type: "ok", Severity: domain.SeverityLow}
		},
	}))

	insights := gen.Process(rapidNavigationRecord())
	require.Len(t, insights, 1)
	assert.Equal(t, "ok", insights[0].Type)
	assert.Equal(t, uint64(1), gen.Errors())
}

func TestAddRuleValidation(t *testing.T) {
	gen := newTestGenerator(t, DefaultConfig())
	assert.Error(t, gen.AddRule(nil))
	assert.Error(t, gen.AddRule(&Rule{ID: "no-build"}))
	assert.Error(t, gen.AddRule(&Rule{
		Build: func(*domain.CorrelationRecord) *domain.AccessibilityInsight { return nil },
	}))
}

func TestRecentBoundedAndFiltered(t *testing.T) {
	gen := newTestGenerator(t, Config{MaxRecent: 3})
	require.NoError(t, gen.AddRule(&Rule{
		ID: "echo",
		Build: func(record *domain.CorrelationRecord) *domain.AccessibilityInsight {
			sev := domain.SeverityLow
			if record.Confidence > 0.9 {
				sev = domain.SeverityHigh
			}
			return &domain.AccessibilityInsight{
				Type:     fmt.Sprintf("echo-%s", record.ID),
				Severity: sev,
			}
		},
	}))

	for i := 0; i < 5; i++ {
		rec := &domain.CorrelationRecord{ID: fmt.Sprintf("r%d", i), Confidence: 0.5}
		if i == 4 {
			rec.Confidence = 0.95
		}
		gen.Process(rec)
	}

	recent := gen.Recent("")
	require.Len(t, recent, 3)
	// Oldest entries fell off; newest is last.
	assert.Equal(t, "echo-r2", recent[0].Type)
	assert.Equal(t, "echo-r4", recent[2].Type)

	high := gen.Recent(domain.SeverityHigh)
	require.Len(t, high, 1)
	assert.Equal(t, "echo-r4", high[0].Type)
	assert.Empty(t, gen.Recent(domain.SeverityCritical))
}
