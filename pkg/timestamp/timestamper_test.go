package timestamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sightline-labs/sightline/pkg/domain"
	"github.com/sightline-labs/sightline/pkg/timesync"
)

func newTestStamper(t *testing.T, cfg Config) *Timestamper {
	t.Helper()
	clock := timesync.NewClock(timesync.Options{Logger: zaptest.NewLogger(t)})
	return NewTimestamper(clock, cfg, zaptest.NewLogger(t))
}

func TestTimestampEvent(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())

	raw := domain.RawEvent{
		SourceKind:   domain.SourceFocus,
		RawTimestamp: 42_000_000,
		Payload:      map[string]any{"app": "Editor"},
	}
	event, err := stamper.TimestampEvent(raw)
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, domain.SourceFocus, event.SourceKind)
	assert.Equal(t, int64(42_000_000), event.Timestamp)
	assert.Equal(t, int64(42_000_000), event.OriginTimestamp)
	assert.Greater(t, event.Uncertainty, int64(0))

	// The stamped payload is a copy; producer mutation cannot reach it.
	raw.Payload["app"] = "Browser"
	assert.Equal(t, "Editor", event.PayloadString("app"))
}

func TestTimestampEventUniqueIDs(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())
	raw := domain.RawEvent{SourceKind: domain.SourceAudio, RawTimestamp: 1}

	a, err := stamper.TimestampEvent(raw)
	require.NoError(t, err)
	b, err := stamper.TimestampEvent(raw)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestTimestampEventRejectsMalformed(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())

	_, err := stamper.TimestampEvent(domain.RawEvent{SourceKind: "video", RawTimestamp: 1})
	var ingErr *IngestionError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, "source_kind", ingErr.Field)

	_, err = stamper.TimestampEvent(domain.RawEvent{SourceKind: domain.SourceFocus, RawTimestamp: -1})
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, "raw_timestamp", ingErr.Field)
}

func TestCalculateTimeCorrelation(t *testing.T) {
	stamper := newTestStamper(t, Config{
		SimultaneityFactor:    3.0,
		CorrelationWindow:     5_000_000,
		MaxPlausibleFrequency: 1000,
	})

	a := domain.TimestampedEvent{Timestamp: 1_000_000, Uncertainty: 100, SourceKind: domain.SourceFocus}

	t.Run("simultaneous within uncertainty", func(t *testing.T) {
		b := domain.TimestampedEvent{Timestamp: 1_000_500, Uncertainty: 100, SourceKind: domain.SourceAudio}
		tc := stamper.CalculateTimeCorrelation(a, b)
		assert.Equal(t, RelationSimultaneous, tc.Relation)
		assert.Equal(t, 1.0, tc.Confidence)
		assert.Equal(t, int64(500), tc.Delta)
		assert.Equal(t, int64(200), tc.Uncertainty)
	})

	t.Run("sequential decays with gap", func(t *testing.T) {
		b := domain.TimestampedEvent{Timestamp: 3_500_000, Uncertainty: 100, SourceKind: domain.SourceAudio}
		tc := stamper.CalculateTimeCorrelation(a, b)
		assert.Equal(t, RelationSequential, tc.Relation)
		assert.InDelta(t, 0.5, tc.Confidence, 0.01)
	})

	t.Run("order does not change the relation", func(t *testing.T) {
		b := domain.TimestampedEvent{Timestamp: 3_500_000, Uncertainty: 100, SourceKind: domain.SourceAudio}
		forward := stamper.CalculateTimeCorrelation(a, b)
		backward := stamper.CalculateTimeCorrelation(b, a)
		assert.Equal(t, forward.Relation, backward.Relation)
		assert.Equal(t, forward.Confidence, backward.Confidence)
		assert.Equal(t, -forward.Delta, backward.Delta)
	})

	t.Run("beyond window confidence is zero", func(t *testing.T) {
		b := domain.TimestampedEvent{Timestamp: 7_000_000, Uncertainty: 100, SourceKind: domain.SourceAudio}
		tc := stamper.CalculateTimeCorrelation(a, b)
		assert.Equal(t, RelationSequential, tc.Relation)
		assert.Zero(t, tc.Confidence)
	})
}

func TestTimingStatisticsZeroSafe(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())

	empty := stamper.TimingStatistics(nil)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.Frequency)

	single := stamper.TimingStatistics([]domain.TimestampedEvent{{Timestamp: 100}})
	assert.Equal(t, 1, single.Count)
	assert.Zero(t, single.MeanInterval)
	assert.Zero(t, single.Span)
}

func TestTimingStatistics(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())
	events := []domain.TimestampedEvent{
		{Timestamp: 0},
		{Timestamp: 1_000_000},
		{Timestamp: 2_000_000},
	}
	stats := stamper.TimingStatistics(events)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, int64(2_000_000), stats.Span)
	assert.Equal(t, 1_000_000.0, stats.MeanInterval)
	assert.InDelta(t, 1.5, stats.Frequency, 0.001)
}

func TestValidateEventTimingFrequencyCeiling(t *testing.T) {
	events := []domain.TimestampedEvent{
		{Timestamp: 0, SourceKind: domain.SourceInteraction, OriginTimestamp: 0},
		{Timestamp: 1_000, SourceKind: domain.SourceInteraction, OriginTimestamp: 1_000},
		{Timestamp: 2_000, SourceKind: domain.SourceInteraction, OriginTimestamp: 2_000},
	}

	// 3 events over 2ms is 1500Hz: implausible for a 1000Hz ceiling.
	strict := newTestStamper(t, Config{
		SimultaneityFactor:    3.0,
		CorrelationWindow:     5_000_000,
		MaxPlausibleFrequency: 1000,
	})
	issues, stats := strict.ValidateEventTiming(events)
	assert.InDelta(t, 1500, stats.Frequency, 1)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueImplausibleFrequency, issues[0].Code)

	// The ceiling is a tunable: a looser one accepts the same cadence.
	loose := newTestStamper(t, Config{
		SimultaneityFactor:    3.0,
		CorrelationWindow:     5_000_000,
		MaxPlausibleFrequency: 2000,
	})
	issues, _ = loose.ValidateEventTiming(events)
	assert.Empty(t, issues)
}

func TestValidateEventTimingNonMonotonicOrigin(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())
	events := []domain.TimestampedEvent{
		{Timestamp: 0, SourceKind: domain.SourceFocus, OriginTimestamp: 5_000_000},
		{Timestamp: 1_000_000, SourceKind: domain.SourceFocus, OriginTimestamp: 4_000_000},
	}
	issues, _ := stamper.ValidateEventTiming(events)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueNonMonotonicOrigin, issues[0].Code)
}

func TestValidateEventTimingUncertaintyDominates(t *testing.T) {
	stamper := newTestStamper(t, DefaultConfig())
	events := []domain.TimestampedEvent{
		{Timestamp: 0, SourceKind: domain.SourceFocus, Uncertainty: 2_000_000},
		{Timestamp: 1_000_000, SourceKind: domain.SourceAudio, OriginTimestamp: 1_000_000, Uncertainty: 2_000_000},
	}
	issues, _ := stamper.ValidateEventTiming(events)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueUncertaintyDominates, issues[0].Code)
}
