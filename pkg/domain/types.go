package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies the producer category of an event.
type SourceKind string

const (
	SourceFocus       SourceKind = "focus"
	SourceInteraction SourceKind = "interaction"
	SourceAudio       SourceKind = "audio"
	SourceStructure   SourceKind = "structure"
)

// Valid reports whether the source kind is one of the known producers.
func (s SourceKind) Valid() bool {
	switch s {
	case SourceFocus, SourceInteraction, SourceAudio, SourceStructure:
		return true
	}
	return false
}

// KnownSourceKinds lists every producer category the core accepts.
func KnownSourceKinds() []SourceKind {
	return []SourceKind{SourceFocus, SourceInteraction, SourceAudio, SourceStructure}
}

// Severity levels for accessibility insights.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// CorrelationType classifies how a group of events is related.
type CorrelationType string

const (
	CorrelationTemporal CorrelationType = "temporal"
	CorrelationCausal   CorrelationType = "causal"
	CorrelationSemantic CorrelationType = "semantic"
)

// RawEvent is what a producer hands to the core: a tagged payload with a
// timestamp on the producer's own clock. SourceClockID selects the clock
// model used to map RawTimestamp onto the shared time base; empty means the
// producer already reports synchronized time.
type RawEvent struct {
	SourceKind    SourceKind     `json:"source_kind"`
	RawTimestamp  int64          `json:"raw_timestamp"`
	SourceClockID string         `json:"source_clock_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// TimestampedEvent is an event placed on the shared clock. Timestamp and
// Uncertainty are microseconds. Instances are immutable once created;
// anything that outlives the buffer must hold a Clone.
type TimestampedEvent struct {
	ID              string         `json:"id"`
	Timestamp       int64          `json:"timestamp"`
	SourceKind      SourceKind     `json:"source_kind"`
	Payload         map[string]any `json:"payload,omitempty"`
	OriginTimestamp int64          `json:"origin_timestamp"`
	Uncertainty     int64          `json:"uncertainty"`
}

// Time returns the synchronized timestamp as a wall-clock value.
func (e TimestampedEvent) Time() time.Time {
	return time.UnixMicro(e.Timestamp)
}

// PayloadString returns the named payload field if it is a string.
func (e TimestampedEvent) PayloadString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a deep copy whose payload is independent of the original.
func (e TimestampedEvent) Clone() TimestampedEvent {
	out := e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// TimeWindow is a closed interval on the shared clock, in microseconds.
type TimeWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// WindowAround builds the window [center-half, center+half].
func WindowAround(center, half int64) TimeWindow {
	return TimeWindow{Start: center - half, End: center + half}
}

// Contains reports whether ts falls inside the window.
func (w TimeWindow) Contains(ts int64) bool {
	return ts >= w.Start && ts <= w.End
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Microsecond
}

// BucketKey maps a timestamp to its window bucket id: floor(ts / size).
// Floor division keeps pre-epoch timestamps in well-ordered buckets.
func BucketKey(ts, size int64) int64 {
	if size <= 0 {
		return 0
	}
	k := ts / size
	if ts%size != 0 && ts < 0 {
		k--
	}
	return k
}

// Filter selects events by source, payload type and time range.
type Filter struct {
	SourceKind SourceKind
	Type       string // matches payload field "type"
	Since      int64  // inclusive, 0 means unbounded
	Until      int64  // inclusive, 0 means unbounded
	Limit      int
}

// Matches reports whether the event satisfies every set criterion.
func (f Filter) Matches(e TimestampedEvent) bool {
	if f.SourceKind != "" && e.SourceKind != f.SourceKind {
		return false
	}
	if f.Type != "" && e.PayloadString("type") != f.Type {
		return false
	}
	if f.Since != 0 && e.Timestamp < f.Since {
		return false
	}
	if f.Until != 0 && e.Timestamp > f.Until {
		return false
	}
	return true
}

// Apply returns the events matching the filter, preserving order.
func (f Filter) Apply(events []TimestampedEvent) []TimestampedEvent {
	var out []TimestampedEvent
	for _, e := range events {
		if f.Matches(e) {
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	return out
}

// CorrelationRecord is the immutable outcome of a fired rule. It owns deep
// copies of its events, so buffer eviction cannot invalidate it. A valid
// record references at least two distinct source kinds.
type CorrelationRecord struct {
	ID            string             `json:"id"`
	RuleID        string             `json:"rule_id"`
	RuleName      string             `json:"rule_name"`
	PrimaryEvent  TimestampedEvent   `json:"primary_event"`
	RelatedEvents []TimestampedEvent `json:"related_events"`
	Strength      float64            `json:"strength"`
	TimeSpan      int64              `json:"time_span"`
	Type          CorrelationType    `json:"type"`
	Confidence    float64            `json:"confidence"`
	DetectedAt    int64              `json:"detected_at"`
}

// Events returns the primary event followed by the related events.
func (r CorrelationRecord) Events() []TimestampedEvent {
	out := make([]TimestampedEvent, 0, 1+len(r.RelatedEvents))
	out = append(out, r.PrimaryEvent)
	out = append(out, r.RelatedEvents...)
	return out
}

// SourceKinds returns the distinct source kinds referenced by the record.
func (r CorrelationRecord) SourceKinds() []SourceKind {
	seen := make(map[SourceKind]struct{}, 4)
	var kinds []SourceKind
	for _, e := range r.Events() {
		if _, ok := seen[e.SourceKind]; ok {
			continue
		}
		seen[e.SourceKind] = struct{}{}
		kinds = append(kinds, e.SourceKind)
	}
	return kinds
}

// Validate checks the structural invariants of a record.
func (r CorrelationRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("correlation record has no id")
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("correlation strength %f outside [0,1]", r.Strength)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("correlation confidence %f outside [0,1]", r.Confidence)
	}
	if len(r.SourceKinds()) < 2 {
		return fmt.Errorf("correlation record must reference at least two source kinds")
	}
	return nil
}

// AccessibilityInsight is a derived, human-readable observation. Read-only
// once emitted; Evidence holds copies, never buffer references.
type AccessibilityInsight struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Severity    Severity           `json:"severity"`
	Description string             `json:"description"`
	Evidence    []TimestampedEvent `json:"evidence"`
	Remediation string             `json:"remediation,omitempty"`
	Reference   string             `json:"reference,omitempty"`
	CreatedAt   int64              `json:"created_at"`
}
