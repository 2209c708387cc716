package timestamp

import "github.com/sightline-labs/sightline/pkg/domain"

// Relation classifies the timing relationship between two events.
type Relation string

const (
	RelationSimultaneous Relation = "simultaneous"
	RelationSequential   Relation = "sequential"
)

// TimeCorrelation is the pairwise timing relationship between two events.
// Delta is b minus a in microseconds; Uncertainty combines both events'.
type TimeCorrelation struct {
	Delta       int64
	Uncertainty int64
	Relation    Relation
	Confidence  float64
}

// CalculateTimeCorrelation relates two events on the shared clock. Events
// within SimultaneityFactor times their combined uncertainty are
// simultaneous at full confidence; beyond that the relation is sequential
// with confidence decaying linearly as the gap approaches the configured
// correlation window.
func (t *Timestamper) CalculateTimeCorrelation(a, b domain.TimestampedEvent) TimeCorrelation {
	delta := b.Timestamp - a.Timestamp
	gap := delta
	if gap < 0 {
		gap = -gap
	}
	combined := a.Uncertainty + b.Uncertainty

	tc := TimeCorrelation{Delta: delta, Uncertainty: combined}

	threshold := int64(t.cfg.SimultaneityFactor * float64(combined))
	if gap <= threshold {
		tc.Relation = RelationSimultaneous
		tc.Confidence = 1.0
		return tc
	}

	tc.Relation = RelationSequential
	window := t.cfg.CorrelationWindow
	if window <= 0 || gap >= window {
		tc.Confidence = 0
		return tc
	}
	tc.Confidence = 1.0 - float64(gap-threshold)/float64(window-threshold)
	if tc.Confidence < 0 {
		tc.Confidence = 0
	}
	return tc
}
