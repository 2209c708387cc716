// Package insight derives human-readable accessibility insights from
// correlation records. Evaluation is best-effort and additive: a failing
// insight rule is caught and logged, never halting the pipeline.
package insight

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// Rule is a predicate-plus-formatter over a correlation record. Build
// returns nil when the record is not interesting to this rule.
type Rule struct {
	ID          string
	Name        string
	Description string

	Build func(record *domain.CorrelationRecord) *domain.AccessibilityInsight
}

// Config sizes the generator.
type Config struct {
	// MaxRecent bounds the retained recent-insights list.
	MaxRecent int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MaxRecent: 200}
}

// Generator consumes correlation records as they are emitted and keeps a
// bounded list of recent insights, queryable by severity.
type Generator struct {
	cfg    Config
	logger *zap.Logger
	clock  func() int64

	mu     sync.RWMutex
	rules  []*Rule
	recent []domain.AccessibilityInsight

	errors atomic.Uint64
}

// NewGenerator builds a generator; now supplies insight creation timestamps.
func NewGenerator(cfg Config, now func() int64, logger *zap.Logger) *Generator {
	if cfg.MaxRecent <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, logger: logger, clock: now}
}

// AddRule appends an insight rule. Rules run in registration order.
func (g *Generator) AddRule(rule *Rule) error {
	if rule == nil || rule.ID == "" || rule.Build == nil {
		return fmt.Errorf("insight rule needs an id and a Build function")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
	return nil
}

// Process evaluates every insight rule against the record and returns the
// insights generated. A panicking rule is isolated, counted and logged.
func (g *Generator) Process(record *domain.CorrelationRecord) []domain.AccessibilityInsight {
	g.mu.RLock()
	rules := make([]*Rule, len(g.rules))
	copy(rules, g.rules)
	g.mu.RUnlock()

	var out []domain.AccessibilityInsight
	for _, rule := range rules {
		ins := g.safeBuild(rule, record)
		if ins == nil {
			continue
		}
		if ins.ID == "" {
			ins.ID = uuid.NewString()
		}
		if ins.CreatedAt == 0 {
			ins.CreatedAt = g.clock()
		}
		g.retain(*ins)
		out = append(out, *ins)
	}
	return out
}

func (g *Generator) safeBuild(rule *Rule, record *domain.CorrelationRecord) (ins *domain.AccessibilityInsight) {
	defer func() {
		if r := recover(); r != nil {
			ins = nil
			g.errors.Add(1)
			g.logger.Warn("insight rule failed",
				zap.String("rule", rule.ID),
				zap.String("record", record.ID),
				zap.Any("panic", r),
			)
		}
	}()
	return rule.Build(record)
}

func (g *Generator) retain(ins domain.AccessibilityInsight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent = append(g.recent, ins)
	if len(g.recent) > g.cfg.MaxRecent {
		g.recent = g.recent[len(g.recent)-g.cfg.MaxRecent:]
	}
}

// Recent returns retained insights, newest last. A non-empty severity
// filters to that level.
func (g *Generator) Recent(severity domain.Severity) []domain.AccessibilityInsight {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.AccessibilityInsight, 0, len(g.recent))
	for _, ins := range g.recent {
		if severity == "" || ins.Severity == severity {
			out = append(out, ins)
		}
	}
	return out
}

// Errors returns how many insight rules have failed since startup.
func (g *Generator) Errors() uint64 {
	return g.errors.Load()
}
