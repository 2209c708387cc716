package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"calibration interval", func(c *Config) { c.Clock.CalibrationInterval = 0 }, "clock.calibration_interval"},
		{"negative precision", func(c *Config) { c.Clock.BasePrecisionMicros = -1 }, "clock.base_precision_us"},
		{"simultaneity factor", func(c *Config) { c.Timing.SimultaneityFactor = 0 }, "timing.simultaneity_factor"},
		{"frequency ceiling", func(c *Config) { c.Timing.MaxPlausibleFrequency = 0 }, "timing.max_plausible_frequency_hz"},
		{"buffer capacity", func(c *Config) { c.Buffer.PerSourceCapacity = -5 }, "buffer.per_source_capacity"},
		{"min confidence", func(c *Config) { c.Correlation.MinConfidence = 2 }, "correlation.min_confidence"},
		{"queue size", func(c *Config) { c.Pipeline.QueueSize = 0 }, "pipeline.queue_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sightline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  queue_size: 7
buffer:
  max_event_age: 2m
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.QueueSize)
	assert.Equal(t, 2*time.Minute, cfg.Buffer.MaxEventAge)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Everything not mentioned keeps its default.
	assert.Equal(t, Default().Timing.CorrelationWindowUs, cfg.Timing.CorrelationWindowUs)
	assert.Equal(t, Default().Pipeline.NotifyBuffer, cfg.Pipeline.NotifyBuffer)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sightline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  queue_size: -3\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "pipeline.queue_size", cfgErr.Field)
}
