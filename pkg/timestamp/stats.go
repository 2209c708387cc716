package timestamp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// TimingStatistics summarises the cadence of a set of events.
type TimingStatistics struct {
	Count        int     `json:"count"`
	MeanInterval float64 `json:"mean_interval_us"`
	Span         int64   `json:"span_us"`
	Frequency    float64 `json:"frequency_hz"`
}

// TimingIssue flags one implausible pattern found by validation.
type TimingIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	IssueImplausibleFrequency = "implausible_frequency"
	IssueNonMonotonicOrigin   = "non_monotonic_origin"
	IssueUncertaintyDominates = "uncertainty_dominates_span"
)

// TimingStatistics computes count, mean inter-event interval, total span and
// frequency. Zero and one-element input yield zeroed, well-defined results.
func (t *Timestamper) TimingStatistics(events []domain.TimestampedEvent) TimingStatistics {
	stats := TimingStatistics{Count: len(events)}
	if len(events) < 2 {
		return stats
	}

	first, last := events[0].Timestamp, events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp < first {
			first = e.Timestamp
		}
		if e.Timestamp > last {
			last = e.Timestamp
		}
	}
	stats.Span = last - first
	stats.MeanInterval = float64(stats.Span) / float64(len(events)-1)
	if stats.Span > 0 {
		stats.Frequency = float64(len(events)) / (float64(stats.Span) / 1e6)
	}
	return stats
}

// ValidateEventTiming checks a set of events for patterns that point at a
// timestamping bug rather than real user activity. It never fails on data:
// the result is a structured issue list plus the statistics.
func (t *Timestamper) ValidateEventTiming(events []domain.TimestampedEvent) ([]TimingIssue, TimingStatistics) {
	stats := t.TimingStatistics(events)
	var issues []TimingIssue

	if stats.Frequency > t.cfg.MaxPlausibleFrequency && t.cfg.MaxPlausibleFrequency > 0 {
		issues = append(issues, TimingIssue{
			Code: IssueImplausibleFrequency,
			Message: fmt.Sprintf("inferred frequency %.1f Hz exceeds plausible ceiling %.1f Hz",
				stats.Frequency, t.cfg.MaxPlausibleFrequency),
		})
	}

	for i := 1; i < len(events); i++ {
		if events[i].SourceKind == events[i-1].SourceKind &&
			events[i].OriginTimestamp < events[i-1].OriginTimestamp {
			issues = append(issues, TimingIssue{
				Code: IssueNonMonotonicOrigin,
				Message: fmt.Sprintf("origin timestamps of source %s go backwards at index %d",
					events[i].SourceKind, i),
			})
			break
		}
	}

	if stats.Count >= 2 && stats.Span > 0 {
		var maxU int64
		for _, e := range events {
			if e.Uncertainty > maxU {
				maxU = e.Uncertainty
			}
		}
		if maxU > stats.Span {
			issues = append(issues, TimingIssue{
				Code: IssueUncertaintyDominates,
				Message: fmt.Sprintf("uncertainty %dus exceeds the %dus span of the whole set",
					maxU, stats.Span),
			})
		}
	}

	if len(issues) > 0 {
		t.logger.Debug("event timing validation flagged issues",
			zap.Int("events", stats.Count),
			zap.Int("issues", len(issues)),
		)
	}
	return issues, stats
}
