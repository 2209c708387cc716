package timesync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CalibrationError reports a failed calibration attempt. It is never fatal:
// the previous ClockState stays live and uncertainty keeps growing.
type CalibrationError struct {
	Reason  string
	Wrapped error
}

func (e *CalibrationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("calibration failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("calibration failed: %s", e.Reason)
}

func (e *CalibrationError) Unwrap() error { return e.Wrapped }

// Calibrate samples the wall clock, measures skew and drift against the
// internal monotonic base, commits pending per-source offsets, and publishes
// a fresh immutable ClockState. On failure the prior state is retained with
// the error recorded, and ingestion is never blocked.
func (c *Clock) Calibrate() error {
	sampled, err := c.sample()
	if err != nil {
		c.calibrationFailures.Add(1)
		c.recordSyncError(err.Error())
		c.logger.Warn("clock calibration failed, retaining previous state",
			zap.Error(err),
			zap.Uint64("failures", c.calibrationFailures.Load()),
		)
		return &CalibrationError{Reason: "wall clock sample unavailable", Wrapped: err}
	}

	now := c.Now()
	skew := sampled.UnixMicro() - now

	c.mu.Lock()

	var drift float64
	prev := c.state.Load()
	elapsed := float64(now-prev.LastCalibration) / 1e6
	if elapsed > 0 {
		drift = float64(skew-c.lastSkew) / elapsed
	}
	stability := 1.0 / (1.0 + absFloat(drift-c.lastDrift))
	c.lastSkew = skew
	c.lastDrift = drift

	// Fold accumulated per-source observations into committed offsets.
	for id, sc := range c.sources {
		if sc.pendingCount == 0 {
			continue
		}
		observed := sc.pendingSum / sc.pendingCount
		delta := float64(observed - sc.offset)
		if sc.committedAt > 0 {
			span := float64(now-sc.committedAt) / 1e6
			if span > 0 {
				sc.drift = delta / span
			}
		}
		sc.offset += int64(c.cfg.OffsetSmoothing * delta)
		sc.committedAt = now
		sc.pendingSum = 0
		sc.pendingCount = 0
		c.logger.Debug("source clock committed",
			zap.String("source", id),
			zap.Int64("offset_us", sc.offset),
			zap.Float64("drift_us_per_s", sc.drift),
		)
	}
	c.mu.Unlock()

	next := &ClockState{
		ReferenceEpoch:  prev.ReferenceEpoch,
		Accuracy:        absInt64(skew),
		Precision:       c.cfg.BasePrecision,
		Stability:       stability,
		DriftRate:       drift,
		LastCalibration: now,
		SyncErrors:      prev.SyncErrors,
	}
	c.state.Store(next)

	c.logger.Debug("clock calibrated",
		zap.Int64("skew_us", skew),
		zap.Float64("drift_us_per_s", drift),
		zap.Float64("stability", stability),
	)
	return nil
}

// recordSyncError publishes a state copy carrying the new error while keeping
// every calibration-derived field from the previous snapshot.
func (c *Clock) recordSyncError(msg string) {
	prev := c.state.Load()
	errs := make([]string, 0, len(prev.SyncErrors)+1)
	errs = append(errs, prev.SyncErrors...)
	errs = append(errs, msg)
	if max := c.cfg.MaxSyncErrors; max > 0 && len(errs) > max {
		errs = errs[len(errs)-max:]
	}
	next := *prev
	next.SyncErrors = errs
	c.state.Store(&next)
}

// Run calibrates on the configured interval until the context is cancelled.
// Failures are reported through the returned state and logs only.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CalibrationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Calibrate()
		case <-ctx.Done():
			return
		}
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
