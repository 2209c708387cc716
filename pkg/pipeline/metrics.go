package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics mirrors the pipeline statistics onto OTEL instruments. The global
// meter provider is used, so without an SDK installed every call is a no-op.
type Metrics struct {
	eventsProcessed       metric.Int64Counter
	correlationsFound     metric.Int64Counter
	insightsGenerated     metric.Int64Counter
	errorsTotal           metric.Int64Counter
	processingLatency     metric.Float64Histogram
	correlationConfidence metric.Float64Histogram
}

// NewMetrics registers the pipeline instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("sightline.pipeline")
	m := &Metrics{}
	var err error

	if m.eventsProcessed, err = meter.Int64Counter(
		"sightline.pipeline.events.processed",
		metric.WithDescription("Events placed on the timeline"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.correlationsFound, err = meter.Int64Counter(
		"sightline.pipeline.correlations.found",
		metric.WithDescription("Correlation records emitted"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.insightsGenerated, err = meter.Int64Counter(
		"sightline.pipeline.insights.generated",
		metric.WithDescription("Accessibility insights emitted"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"sightline.pipeline.errors",
		metric.WithDescription("Errors by kind"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.processingLatency, err = meter.Float64Histogram(
		"sightline.pipeline.processing.latency",
		metric.WithDescription("Per-event processing latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.correlationConfidence, err = meter.Float64Histogram(
		"sightline.pipeline.correlations.confidence",
		metric.WithDescription("Confidence of emitted correlations"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordProcessed counts one processed event and its latency.
func (m *Metrics) RecordProcessed(sourceKind string, latency time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("source_kind", sourceKind))
	m.eventsProcessed.Add(ctx, 1, attrs)
	m.processingLatency.Record(ctx, float64(latency.Microseconds())/1000.0, attrs)
}

// RecordCorrelation counts one emitted record and its confidence.
func (m *Metrics) RecordCorrelation(corrType string, confidence float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("type", corrType))
	m.correlationsFound.Add(ctx, 1, attrs)
	m.correlationConfidence.Record(ctx, confidence, attrs)
}

// RecordInsight counts one emitted insight.
func (m *Metrics) RecordInsight(severity string) {
	m.insightsGenerated.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordError counts one error of the given kind.
func (m *Metrics) RecordError(kind string) {
	m.errorsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}
