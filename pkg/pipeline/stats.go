package pipeline

import (
	"sync/atomic"
	"time"
)

type statCounters struct {
	eventsProcessed      atomic.Uint64
	correlationsFound    atomic.Uint64
	insightsGenerated    atomic.Uint64
	ingestionErrors      atomic.Uint64
	queueRejections      atomic.Uint64
	droppedNotifications atomic.Uint64
	latencyMicros        atomic.Uint64
	latencySamples       atomic.Uint64
}

// Statistics is a point-in-time snapshot of pipeline counters. Reading it
// has no side effects: absent new ingestion, repeated calls are identical.
type Statistics struct {
	State                string        `json:"state"`
	EventsProcessed      uint64        `json:"events_processed"`
	CorrelationsFound    uint64        `json:"correlations_found"`
	InsightsGenerated    uint64        `json:"insights_generated"`
	IngestionErrors      uint64        `json:"ingestion_errors"`
	RuleErrors           uint64        `json:"rule_errors"`
	InsightErrors        uint64        `json:"insight_errors"`
	QueueRejections      uint64        `json:"queue_rejections"`
	DroppedNotifications uint64        `json:"dropped_notifications"`
	CalibrationFailures  uint64        `json:"calibration_failures"`
	BufferedEvents       int           `json:"buffered_events"`
	AverageLatency       time.Duration `json:"average_latency"`
}

// Statistics returns the current snapshot.
func (p *Pipeline) Statistics() Statistics {
	_, ruleErrors, _ := p.engine.Stats()

	var avg time.Duration
	if samples := p.stats.latencySamples.Load(); samples > 0 {
		avg = time.Duration(p.stats.latencyMicros.Load()/samples) * time.Microsecond
	}

	return Statistics{
		State:                p.State().String(),
		EventsProcessed:      p.stats.eventsProcessed.Load(),
		CorrelationsFound:    p.stats.correlationsFound.Load(),
		InsightsGenerated:    p.stats.insightsGenerated.Load(),
		IngestionErrors:      p.stats.ingestionErrors.Load(),
		RuleErrors:           ruleErrors,
		InsightErrors:        p.insights.Errors(),
		QueueRejections:      p.stats.queueRejections.Load(),
		DroppedNotifications: p.stats.droppedNotifications.Load(),
		CalibrationFailures:  p.clock.CalibrationFailures(),
		BufferedEvents:       p.buf.TotalSize(),
		AverageLatency:       avg,
	}
}
