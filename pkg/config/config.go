// Package config holds the typed configuration for the correlation core.
// Everything is optional and defaulted; invalid sizes are rejected once, at
// construction, and nowhere else.
package config

import (
	"fmt"
	"time"
)

// Config is the full configuration tree.
type Config struct {
	Clock       ClockConfig       `mapstructure:"clock"`
	Timing      TimingConfig      `mapstructure:"timing"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Insight     InsightConfig     `mapstructure:"insight"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Export      ExportConfig      `mapstructure:"export"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ClockConfig tunes time synchronization.
type ClockConfig struct {
	CalibrationInterval        time.Duration `mapstructure:"calibration_interval"`
	BasePrecisionMicros        int64         `mapstructure:"base_precision_us"`
	AgeUncertaintyRate         float64       `mapstructure:"age_uncertainty_rate"`
	CalibrationUncertaintyRate float64       `mapstructure:"calibration_uncertainty_rate"`
	OffsetSmoothing            float64       `mapstructure:"offset_smoothing"`
}

// TimingConfig tunes stamping and plausibility validation.
type TimingConfig struct {
	SimultaneityFactor    float64 `mapstructure:"simultaneity_factor"`
	CorrelationWindowUs   int64   `mapstructure:"correlation_window_us"`
	MaxPlausibleFrequency float64 `mapstructure:"max_plausible_frequency_hz"`
}

// BufferConfig sizes the per-source event buffers.
type BufferConfig struct {
	PerSourceCapacity int           `mapstructure:"per_source_capacity"`
	MaxEventAge       time.Duration `mapstructure:"max_event_age"`
	BucketSizeUs      int64         `mapstructure:"bucket_size_us"`
}

// CorrelationConfig tunes the rule engine.
type CorrelationConfig struct {
	DefaultWindowUs int64   `mapstructure:"default_window_us"`
	MinConfidence   float64 `mapstructure:"min_confidence"`
	DiversityBonus  float64 `mapstructure:"diversity_bonus"`
}

// InsightConfig sizes the insight generator.
type InsightConfig struct {
	MaxRecent int `mapstructure:"max_recent"`
}

// PipelineConfig sizes the ingest queue and notification fan-out.
type PipelineConfig struct {
	QueueSize             int           `mapstructure:"queue_size"`
	NotifyBuffer          int           `mapstructure:"notify_buffer"`
	MaxRecentCorrelations int           `mapstructure:"max_recent_correlations"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// ExportConfig selects optional out-of-band sinks. Empty values disable a
// sink.
type ExportConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
	NATSURL    string `mapstructure:"nats_url"`
}

// LoggingConfig selects logger construction.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Clock: ClockConfig{
			CalibrationInterval:        30 * time.Second,
			BasePrecisionMicros:        50,
			AgeUncertaintyRate:         2.0,
			CalibrationUncertaintyRate: 10.0,
			OffsetSmoothing:            0.3,
		},
		Timing: TimingConfig{
			SimultaneityFactor:    3.0,
			CorrelationWindowUs:   5_000_000,
			MaxPlausibleFrequency: 1000,
		},
		Buffer: BufferConfig{
			PerSourceCapacity: 1000,
			MaxEventAge:       5 * time.Minute,
			BucketSizeUs:      1_000_000,
		},
		Correlation: CorrelationConfig{
			DefaultWindowUs: 5_000_000,
			MinConfidence:   0.5,
			DiversityBonus:  0.1,
		},
		Insight: InsightConfig{
			MaxRecent: 200,
		},
		Pipeline: PipelineConfig{
			QueueSize:             1024,
			NotifyBuffer:          64,
			MaxRecentCorrelations: 500,
			SweepInterval:         10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations that cannot work. The error is a
// ConfigurationError: fatal at startup, never at runtime.
func (c Config) Validate() error {
	if c.Clock.CalibrationInterval <= 0 {
		return &ConfigurationError{Field: "clock.calibration_interval", Reason: "must be positive"}
	}
	if c.Clock.BasePrecisionMicros < 0 {
		return &ConfigurationError{Field: "clock.base_precision_us", Reason: "must not be negative"}
	}
	if c.Timing.SimultaneityFactor <= 0 {
		return &ConfigurationError{Field: "timing.simultaneity_factor", Reason: "must be positive"}
	}
	if c.Timing.CorrelationWindowUs <= 0 {
		return &ConfigurationError{Field: "timing.correlation_window_us", Reason: "must be positive"}
	}
	if c.Timing.MaxPlausibleFrequency <= 0 {
		return &ConfigurationError{Field: "timing.max_plausible_frequency_hz", Reason: "must be positive"}
	}
	if c.Buffer.PerSourceCapacity <= 0 {
		return &ConfigurationError{Field: "buffer.per_source_capacity", Reason: "must be positive"}
	}
	if c.Buffer.MaxEventAge <= 0 {
		return &ConfigurationError{Field: "buffer.max_event_age", Reason: "must be positive"}
	}
	if c.Buffer.BucketSizeUs <= 0 {
		return &ConfigurationError{Field: "buffer.bucket_size_us", Reason: "must be positive"}
	}
	if c.Correlation.DefaultWindowUs <= 0 {
		return &ConfigurationError{Field: "correlation.default_window_us", Reason: "must be positive"}
	}
	if c.Correlation.MinConfidence < 0 || c.Correlation.MinConfidence > 1 {
		return &ConfigurationError{Field: "correlation.min_confidence", Reason: "must be in [0,1]"}
	}
	if c.Insight.MaxRecent <= 0 {
		return &ConfigurationError{Field: "insight.max_recent", Reason: "must be positive"}
	}
	if c.Pipeline.QueueSize <= 0 {
		return &ConfigurationError{Field: "pipeline.queue_size", Reason: "must be positive"}
	}
	if c.Pipeline.NotifyBuffer <= 0 {
		return &ConfigurationError{Field: "pipeline.notify_buffer", Reason: "must be positive"}
	}
	if c.Pipeline.SweepInterval <= 0 {
		return &ConfigurationError{Field: "pipeline.sweep_interval", Reason: "must be positive"}
	}
	return nil
}

// ConfigurationError reports an invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
