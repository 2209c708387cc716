package correlation

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/buffer"
	"github.com/sightline-labs/sightline/pkg/domain"
)

// RuleExecutionError wraps a rule that failed or panicked during Evaluate.
// The failure is isolated to that rule; remaining rules still run.
type RuleExecutionError struct {
	RuleID string
	Reason string
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %s failed: %s", e.RuleID, e.Reason)
}

// Config tunes the engine.
type Config struct {
	// BucketSize is the window-bucket span used to group candidates, in
	// microseconds. It should match the buffer's bucket size.
	BucketSize int64
	// DefaultTimeWindow is applied to rules registered with a zero window.
	DefaultTimeWindow int64
	// MinConfidence is the global strength floor. A rule's own gate applies
	// on top; the stricter of the two wins.
	MinConfidence float64
	// Scoring configures strength and confidence calculation.
	Scoring ScoringConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BucketSize:        1_000_000,
		DefaultTimeWindow: 5_000_000,
		MinConfidence:     0.5,
		Scoring:           DefaultScoringConfig(),
	}
}

// Engine re-evaluates the window around every newly buffered event against
// the registered rules. It is driven by a single worker, so evaluation is
// never concurrent with itself; the registry may be mutated concurrently.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	registry *Registry
	buf      *buffer.Buffer
	clock    func() int64

	rulesEvaluated atomic.Uint64
	ruleErrors     atomic.Uint64
	recordsEmitted atomic.Uint64
}

// NewEngine builds an engine over the given buffer and registry.
func NewEngine(cfg Config, registry *Registry, buf *buffer.Buffer, now func() int64, logger *zap.Logger) *Engine {
	if cfg.BucketSize <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger, registry: registry, buf: buf, clock: now}
}

// Registry exposes the rule registry for registration and removal.
func (e *Engine) Registry() *Registry { return e.registry }

// EvaluateEvent runs every applicable rule against the window surrounding a
// newly buffered event and returns the correlation records that fired. A
// failing rule is counted and logged; the rest still run.
func (e *Engine) EvaluateEvent(event domain.TimestampedEvent) []domain.CorrelationRecord {
	var records []domain.CorrelationRecord

	for _, rule := range e.registry.RulesFor(event.SourceKind) {
		window := rule.TimeWindow
		if window <= 0 {
			window = e.cfg.DefaultTimeWindow
		}
		candidates := e.gather(rule, event, window)
		group := e.groupAround(candidates, event)
		if len(group) == 0 {
			continue
		}
		if distinctKinds(group) < 2 {
			continue
		}

		e.rulesEvaluated.Add(1)
		rec, err := e.safeEvaluate(rule, group)
		if err != nil {
			e.ruleErrors.Add(1)
			e.logger.Warn("correlation rule failed",
				zap.String("rule", rule.ID),
				zap.String("event", event.ID),
				zap.Error(err),
			)
			continue
		}
		if rec == nil {
			continue
		}

		finished := e.finish(rule, *rec, window)
		gate := rule.MinConfidence
		if e.cfg.MinConfidence > gate {
			gate = e.cfg.MinConfidence
		}
		if finished.Strength < gate {
			continue
		}
		if err := finished.Validate(); err != nil {
			e.logger.Warn("rule produced invalid record, dropping",
				zap.String("rule", rule.ID),
				zap.Error(err),
			)
			continue
		}
		e.recordsEmitted.Add(1)
		records = append(records, finished)
	}

	return records
}

// gather collects the union of every rule source's events in the window
// around the trigger, ascending by time.
func (e *Engine) gather(rule *Rule, event domain.TimestampedEvent, window int64) []domain.TimestampedEvent {
	var out []domain.TimestampedEvent
	for _, src := range rule.Sources {
		out = append(out, e.buf.EventsInWindow(src, event.Timestamp, window)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// groupAround splits candidates wherever adjacent window buckets are not
// contiguous, bounding group size, and returns the group containing the
// trigger event. Groups without the trigger were evaluated when their own
// events arrived.
func (e *Engine) groupAround(candidates []domain.TimestampedEvent, trigger domain.TimestampedEvent) []domain.TimestampedEvent {
	start := 0
	for i := 1; i <= len(candidates); i++ {
		boundary := i == len(candidates) ||
			domain.BucketKey(candidates[i].Timestamp, e.cfg.BucketSize)-
				domain.BucketKey(candidates[i-1].Timestamp, e.cfg.BucketSize) > 1
		if !boundary {
			continue
		}
		group := candidates[start:i]
		for _, g := range group {
			if g.ID == trigger.ID {
				return group
			}
		}
		start = i
	}
	return nil
}

// safeEvaluate invokes the rule with panic isolation.
func (e *Engine) safeEvaluate(rule *Rule, events []domain.TimestampedEvent) (rec *domain.CorrelationRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &RuleExecutionError{RuleID: rule.ID, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return rule.Evaluate(events), nil
}

// finish scores the record, stamps identity and detection time, and deep
// copies every referenced event so buffer eviction cannot reach it.
func (e *Engine) finish(rule *Rule, rec domain.CorrelationRecord, window int64) domain.CorrelationRecord {
	score := scoreGroup(e.cfg.Scoring, rec.Events(), window)

	rec.ID = uuid.NewString()
	rec.RuleID = rule.ID
	rec.RuleName = rule.Name
	rec.Strength = score.Strength
	rec.Confidence = score.Confidence
	rec.TimeSpan = score.TimeSpan
	if rec.Type == "" {
		rec.Type = score.Type
	}
	rec.DetectedAt = e.clock()

	rec.PrimaryEvent = rec.PrimaryEvent.Clone()
	related := make([]domain.TimestampedEvent, len(rec.RelatedEvents))
	for i, ev := range rec.RelatedEvents {
		related[i] = ev.Clone()
	}
	rec.RelatedEvents = related
	return rec
}

func distinctKinds(events []domain.TimestampedEvent) int {
	kinds := make(map[domain.SourceKind]struct{}, 4)
	for _, e := range events {
		kinds[e.SourceKind] = struct{}{}
	}
	return len(kinds)
}

// Stats reports evaluation counters since startup.
func (e *Engine) Stats() (evaluated, errors, emitted uint64) {
	return e.rulesEvaluated.Load(), e.ruleErrors.Load(), e.recordsEmitted.Load()
}
