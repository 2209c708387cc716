package pipeline

import (
	"github.com/sightline-labs/sightline/pkg/domain"
	"github.com/sightline-labs/sightline/pkg/timesync"
)

// SnapshotMetadata describes when and under what clock a snapshot was taken.
type SnapshotMetadata struct {
	GeneratedAt int64               `json:"generated_at"`
	Clock       timesync.ClockState `json:"clock"`
	Statistics  Statistics          `json:"statistics"`
}

// Snapshot is the serializable export of the core's current knowledge:
// buffered events, retained correlations, retained insights, and metadata.
// Downstream reporting owns formatting; the core only hands over copies.
type Snapshot struct {
	Events       []domain.TimestampedEvent     `json:"events"`
	Correlations []domain.CorrelationRecord    `json:"correlations"`
	Insights     []domain.AccessibilityInsight `json:"insights"`
	Metadata     SnapshotMetadata              `json:"metadata"`
}

// ExportCorrelationData builds a snapshot for downstream reporting. Events
// are cloned, so the snapshot stays valid after buffer eviction.
func (p *Pipeline) ExportCorrelationData() Snapshot {
	buffered := p.buf.All()
	events := make([]domain.TimestampedEvent, len(buffered))
	for i, e := range buffered {
		events[i] = e.Clone()
	}

	p.recentMu.RLock()
	correlations := make([]domain.CorrelationRecord, len(p.recent))
	copy(correlations, p.recent)
	p.recentMu.RUnlock()

	return Snapshot{
		Events:       events,
		Correlations: correlations,
		Insights:     p.insights.Recent(""),
		Metadata: SnapshotMetadata{
			GeneratedAt: p.clock.Now(),
			Clock:       *p.clock.State(),
			Statistics:  p.Statistics(),
		},
	}
}
