package timesync

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes the reference clock and its uncertainty model.
type Config struct {
	// CalibrationInterval is how often the background calibration runs.
	CalibrationInterval time.Duration
	// BasePrecision is the floor of reported uncertainty, in microseconds.
	BasePrecision int64
	// AgeUncertaintyRate is added uncertainty per second of event age (us/s).
	AgeUncertaintyRate float64
	// CalibrationUncertaintyRate is added uncertainty per second since the
	// last successful calibration (us/s).
	CalibrationUncertaintyRate float64
	// OffsetSmoothing is the EWMA factor applied when committing per-source
	// offsets during calibration. 0 keeps the old offset, 1 takes the newest
	// observation.
	OffsetSmoothing float64
	// MaxSyncErrors bounds the error history carried in ClockState.
	MaxSyncErrors int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CalibrationInterval:        30 * time.Second,
		BasePrecision:              50,
		AgeUncertaintyRate:         2.0,
		CalibrationUncertaintyRate: 10.0,
		OffsetSmoothing:            0.3,
		MaxSyncErrors:              16,
	}
}

// ClockState is one calibration's view of the reference clock. It is written
// only by calibration and published atomically; readers treat it as
// immutable. All timestamps are microseconds on the shared clock.
type ClockState struct {
	ReferenceEpoch  int64
	Accuracy        int64 // estimated deviation from the wall clock, us
	Precision       int64
	Stability       float64 // 0..1, 1 means no drift-rate change observed
	DriftRate       float64 // us of skew accumulated per second
	LastCalibration int64
	SyncErrors      []string
}

// sourceClock tracks one producer's mapping onto the shared clock. Offset
// and drift are the last committed values; observations accumulate between
// calibrations and are folded in when calibration commits.
type sourceClock struct {
	offset      int64
	drift       float64
	committedAt int64

	pendingSum   int64
	pendingCount int64
}

// Options configures clock construction. Zero-value fields take defaults;
// WallClock and Sample exist so tests can steer time and fail calibration.
type Options struct {
	Config    Config
	Logger    *zap.Logger
	WallClock func() time.Time
	Sample    func() (time.Time, error)
}

// Clock is the one reference clock every event is placed on. Now is
// monotonically non-decreasing; calibration publishes immutable ClockState
// snapshots without ever blocking readers.
type Clock struct {
	cfg    Config
	logger *zap.Logger
	wall   func() time.Time
	sample func() (time.Time, error)

	start time.Time // monotonic baseline
	epoch int64     // wall microseconds at construction

	state   atomic.Pointer[ClockState]
	lastNow atomic.Int64

	mu        sync.Mutex
	sources   map[string]*sourceClock
	lastSkew  int64
	lastDrift float64

	calibrationFailures atomic.Uint64
}

// NewClock builds the reference clock and publishes its initial state.
func NewClock(opts Options) *Clock {
	cfg := opts.Config
	if cfg.CalibrationInterval <= 0 {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	wall := opts.WallClock
	if wall == nil {
		wall = time.Now
	}
	sample := opts.Sample
	if sample == nil {
		sample = func() (time.Time, error) { return wall(), nil }
	}

	now := wall()
	c := &Clock{
		cfg:     cfg,
		logger:  logger,
		wall:    wall,
		sample:  sample,
		start:   now,
		epoch:   now.UnixMicro(),
		sources: make(map[string]*sourceClock),
	}
	c.state.Store(&ClockState{
		ReferenceEpoch:  c.epoch,
		Precision:       cfg.BasePrecision,
		Stability:       1.0,
		LastCalibration: c.epoch,
	})
	c.lastNow.Store(c.epoch)
	return c
}

// Now returns synchronized microseconds, monotonically non-decreasing.
func (c *Clock) Now() int64 {
	now := c.epoch + time.Since(c.start).Microseconds()
	for {
		prev := c.lastNow.Load()
		if now <= prev {
			return prev
		}
		if c.lastNow.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// State returns the current calibration snapshot. The returned value must be
// treated as read-only.
func (c *Clock) State() *ClockState {
	return c.state.Load()
}

// SynchronizeEventTime maps a producer-local timestamp onto the shared clock
// using the source's last committed offset and drift. An unknown source is
// registered on first contact, with the current observation as its offset.
// Every call also records the observation for the next calibration commit.
func (c *Clock) SynchronizeEventTime(raw int64, sourceClockID string) int64 {
	if sourceClockID == "" {
		return raw
	}
	now := c.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.sources[sourceClockID]
	if !ok {
		sc = &sourceClock{offset: now - raw, committedAt: now}
		c.sources[sourceClockID] = sc
		return raw + sc.offset
	}

	sc.pendingSum += now - raw
	sc.pendingCount++

	elapsed := float64(now-sc.committedAt) / 1e6
	return raw + sc.offset + int64(sc.drift*elapsed)
}

// Uncertainty reports the timing uncertainty of a shared-clock timestamp, in
// microseconds. It grows with the event's age and with the time elapsed
// since the last successful calibration.
func (c *Clock) Uncertainty(t int64) int64 {
	st := c.state.Load()
	now := c.Now()

	age := float64(now-t) / 1e6
	if age < 0 {
		age = -age
	}
	sinceCal := float64(now-st.LastCalibration) / 1e6
	if sinceCal < 0 {
		sinceCal = 0
	}

	u := float64(st.Precision) + float64(st.Accuracy)
	u += c.cfg.AgeUncertaintyRate * age
	u += c.cfg.CalibrationUncertaintyRate * sinceCal
	return int64(u)
}

// CalibrationFailures returns how many calibration attempts have failed.
func (c *Clock) CalibrationFailures() uint64 {
	return c.calibrationFailures.Load()
}
