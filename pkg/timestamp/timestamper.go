package timestamp

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
	"github.com/sightline-labs/sightline/pkg/timesync"
)

// Config tunes stamping and timing analysis.
type Config struct {
	// SimultaneityFactor is the multiple of combined uncertainty within
	// which two events count as simultaneous.
	SimultaneityFactor float64
	// CorrelationWindow is the gap, in microseconds, at which sequential
	// confidence has fully decayed.
	CorrelationWindow int64
	// MaxPlausibleFrequency is the event rate, in Hz, above which timing is
	// flagged as implausible. It is a tunable, not a constant: different
	// producers have very different sane ceilings.
	MaxPlausibleFrequency float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SimultaneityFactor:    3.0,
		CorrelationWindow:     5_000_000,
		MaxPlausibleFrequency: 1000,
	}
}

// IngestionError rejects a single malformed event. The producer gets it
// synchronously; nothing else in the subsystem is affected.
type IngestionError struct {
	Field  string
	Reason string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("event rejected: %s: %s", e.Field, e.Reason)
}

// Timestamper stamps inbound payloads with synchronized time plus
// uncertainty. It is pure apart from reading the current clock state.
type Timestamper struct {
	clock  *timesync.Clock
	cfg    Config
	logger *zap.Logger
}

// NewTimestamper builds a timestamper over the shared clock.
func NewTimestamper(clock *timesync.Clock, cfg Config, logger *zap.Logger) *Timestamper {
	if cfg.SimultaneityFactor <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timestamper{clock: clock, cfg: cfg, logger: logger}
}

// TimestampEvent validates a raw event and places it on the shared clock.
// Malformed input comes back as an IngestionError for that event only.
func (t *Timestamper) TimestampEvent(raw domain.RawEvent) (domain.TimestampedEvent, error) {
	if !raw.SourceKind.Valid() {
		return domain.TimestampedEvent{}, &IngestionError{
			Field:  "source_kind",
			Reason: fmt.Sprintf("unknown source kind %q", raw.SourceKind),
		}
	}
	if raw.RawTimestamp < 0 {
		return domain.TimestampedEvent{}, &IngestionError{
			Field:  "raw_timestamp",
			Reason: "timestamp must not be negative",
		}
	}

	synced := t.clock.SynchronizeEventTime(raw.RawTimestamp, raw.SourceClockID)

	payload := raw.Payload
	if payload != nil {
		copied := make(map[string]any, len(payload))
		for k, v := range payload {
			copied[k] = v
		}
		payload = copied
	}

	return domain.TimestampedEvent{
		ID:              uuid.NewString(),
		Timestamp:       synced,
		SourceKind:      raw.SourceKind,
		Payload:         payload,
		OriginTimestamp: raw.RawTimestamp,
		Uncertainty:     t.clock.Uncertainty(synced),
	}, nil
}
