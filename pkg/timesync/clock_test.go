package timesync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNowMonotonic(t *testing.T) {
	clock := NewClock(Options{Logger: zaptest.NewLogger(t)})

	prev := clock.Now()
	for i := 0; i < 10_000; i++ {
		now := clock.Now()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestSynchronizeEventTimePassthrough(t *testing.T) {
	clock := NewClock(Options{Logger: zaptest.NewLogger(t)})

	// No source clock id means the producer already reports shared time.
	assert.Equal(t, int64(12345), clock.SynchronizeEventTime(12345, ""))
}

func TestSynchronizeEventTimeOffset(t *testing.T) {
	clock := NewClock(Options{Logger: zaptest.NewLogger(t)})

	// First contact registers the source; the mapped time lands near now.
	first := clock.SynchronizeEventTime(100, "agent")
	now := clock.Now()
	assert.InDelta(t, float64(now), float64(first), 50_000)

	// Before any calibration the committed offset is fixed, so intervals on
	// the producer clock are preserved exactly.
	second := clock.SynchronizeEventTime(350, "agent")
	assert.Equal(t, int64(250), second-first)
}

func TestCalibrateMeasuresSkew(t *testing.T) {
	clock := NewClock(Options{
		Logger: zaptest.NewLogger(t),
		Sample: func() (time.Time, error) { return time.Now().Add(500 * time.Millisecond), nil },
	})

	require.NoError(t, clock.Calibrate())

	st := clock.State()
	assert.Greater(t, st.Accuracy, int64(400_000))
	assert.Greater(t, st.LastCalibration, st.ReferenceEpoch)
	assert.Zero(t, clock.CalibrationFailures())

	// The measured inaccuracy flows into reported uncertainty.
	assert.GreaterOrEqual(t, clock.Uncertainty(clock.Now()), st.Accuracy)
}

func TestCalibrateFailureRetainsState(t *testing.T) {
	sampleErr := errors.New("ptp source unavailable")
	cfg := DefaultConfig()
	cfg.MaxSyncErrors = 3
	clock := NewClock(Options{
		Config: cfg,
		Logger: zaptest.NewLogger(t),
		Sample: func() (time.Time, error) { return time.Time{}, sampleErr },
	})

	before := clock.State()

	err := clock.Calibrate()
	require.Error(t, err)
	var calErr *CalibrationError
	require.ErrorAs(t, err, &calErr)
	assert.ErrorIs(t, err, sampleErr)

	after := clock.State()
	assert.Equal(t, before.LastCalibration, after.LastCalibration)
	assert.Equal(t, before.Accuracy, after.Accuracy)
	assert.Equal(t, uint64(1), clock.CalibrationFailures())
	require.Len(t, after.SyncErrors, 1)

	// Repeated failures accumulate in the counter but the error history
	// stays bounded.
	for i := 0; i < 5; i++ {
		require.Error(t, clock.Calibrate())
	}
	assert.Equal(t, uint64(6), clock.CalibrationFailures())
	assert.Len(t, clock.State().SyncErrors, 3)
}

func TestUncertaintyGrowsWithAge(t *testing.T) {
	clock := NewClock(Options{Logger: zaptest.NewLogger(t)})
	now := clock.Now()

	fresh := clock.Uncertainty(now)
	old := clock.Uncertainty(now - 10_000_000)
	older := clock.Uncertainty(now - 60_000_000)

	assert.Greater(t, old, fresh)
	assert.Greater(t, older, old)
	// Default rate is 2us per second of age.
	assert.GreaterOrEqual(t, old-fresh, int64(15))
}

func TestCalibrateCommitsSourceOffsets(t *testing.T) {
	clock := NewClock(Options{
		Logger: zaptest.NewLogger(t),
		Sample: func() (time.Time, error) { return time.Now(), nil },
	})

	clock.SynchronizeEventTime(100, "agent")
	clock.SynchronizeEventTime(200, "agent")
	clock.SynchronizeEventTime(300, "agent")
	require.NoError(t, clock.Calibrate())

	// The source survives calibration and keeps mapping sensibly: later
	// producer timestamps never map earlier on the shared clock.
	a := clock.SynchronizeEventTime(400, "agent")
	b := clock.SynchronizeEventTime(500, "agent")
	assert.GreaterOrEqual(t, b, a)
}
