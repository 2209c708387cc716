// Package pipeline wires the core together: a bounded ingest queue feeds a
// single correlation worker, so buffer mutation and rule evaluation are
// never concurrent with themselves, while producers never block on
// evaluation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/buffer"
	"github.com/sightline-labs/sightline/pkg/correlation"
	"github.com/sightline-labs/sightline/pkg/domain"
	"github.com/sightline-labs/sightline/pkg/insight"
	"github.com/sightline-labs/sightline/pkg/timestamp"
	"github.com/sightline-labs/sightline/pkg/timesync"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	// ErrNotRunning rejects ingestion outside the RUNNING state.
	ErrNotRunning = errors.New("pipeline is not running")
	// ErrQueueFull rejects new events when the bounded queue is full.
	// Overflow policy is reject-new: the queue never grows unbounded.
	ErrQueueFull = errors.New("ingest queue full")
	// ErrAlreadyStarted rejects a second Start without a fresh lifecycle.
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// ShutdownError reports a shutdown that did not fully drain. It never blocks
// process exit.
type ShutdownError struct {
	Reason string
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown incomplete: %s", e.Reason)
}

// Config sizes the pipeline.
type Config struct {
	// QueueSize bounds the producer-to-worker queue.
	QueueSize int
	// NotifyBuffer is the per-subscriber notification channel depth.
	NotifyBuffer int
	// MaxRecentCorrelations bounds the retained correlation history used by
	// export snapshots.
	MaxRecentCorrelations int
	// SweepInterval is how often the buffer age sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:             1024,
		NotifyBuffer:          64,
		MaxRecentCorrelations: 500,
		SweepInterval:         10 * time.Second,
	}
}

// Validate rejects sizes that cannot work.
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if c.NotifyBuffer <= 0 {
		return fmt.Errorf("notify buffer must be positive, got %d", c.NotifyBuffer)
	}
	if c.MaxRecentCorrelations <= 0 {
		return fmt.Errorf("max recent correlations must be positive, got %d", c.MaxRecentCorrelations)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.SweepInterval)
	}
	return nil
}

// Options carries the collaborators the pipeline orchestrates.
type Options struct {
	Config   Config
	Clock    *timesync.Clock
	Stamper  *timestamp.Timestamper
	Buffer   *buffer.Buffer
	Engine   *correlation.Engine
	Insights *insight.Generator
	Logger   *zap.Logger
	Metrics  *Metrics
}

// Pipeline is the event-correlation core's orchestrator.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	clock    *timesync.Clock
	stamper  *timestamp.Timestamper
	buf      *buffer.Buffer
	engine   *correlation.Engine
	insights *insight.Generator
	metrics  *Metrics

	stateMu sync.RWMutex
	state   State
	queue   chan domain.TimestampedEvent

	cancel   context.CancelFunc
	workerWg sync.WaitGroup
	bgWg     sync.WaitGroup

	stats statCounters

	subMu   sync.RWMutex
	nextSub int
	subs    map[int]chan Notification

	recentMu sync.RWMutex
	recent   []domain.CorrelationRecord
}

// New builds a pipeline in the IDLE state. Invalid configuration is fatal
// here and nowhere else.
func New(opts Options) (*Pipeline, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil || opts.Stamper == nil || opts.Buffer == nil ||
		opts.Engine == nil || opts.Insights == nil {
		return nil, fmt.Errorf("pipeline requires clock, stamper, buffer, engine and insights")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      opts.Config,
		logger:   logger,
		clock:    opts.Clock,
		stamper:  opts.Stamper,
		buf:      opts.Buffer,
		engine:   opts.Engine,
		insights: opts.Insights,
		metrics:  opts.Metrics,
		state:    StateIdle,
		subs:     make(map[int]chan Notification),
	}, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Start moves IDLE (or STOPPED, for a fresh session) through INITIALIZING
// into RUNNING: calibrate the clock, then start the worker, the calibration
// timer and the buffer age sweep. A failed startup calibration is non-fatal.
func (p *Pipeline) Start(ctx context.Context) error {
	p.stateMu.Lock()
	if p.state != StateIdle && p.state != StateStopped {
		p.stateMu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, p.state)
	}
	p.state = StateInitializing
	p.stateMu.Unlock()

	if err := p.clock.Calibrate(); err != nil {
		p.logger.Warn("startup calibration failed, continuing with initial state", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)

	p.stateMu.Lock()
	p.cancel = cancel
	p.queue = make(chan domain.TimestampedEvent, p.cfg.QueueSize)
	queue := p.queue
	p.state = StateRunning
	p.stateMu.Unlock()

	p.workerWg.Add(1)
	go p.worker(queue)

	p.bgWg.Add(1)
	go func() {
		defer p.bgWg.Done()
		p.clock.Run(runCtx)
	}()

	p.bgWg.Add(1)
	go p.sweeper(runCtx)

	p.logger.Info("pipeline running",
		zap.Int("queue_size", p.cfg.QueueSize),
		zap.Duration("sweep_interval", p.cfg.SweepInterval),
	)
	return nil
}

// Ingest validates and stamps a raw event, then hands it to the worker
// queue. Malformed input is rejected synchronously to the producer; a full
// queue rejects the new event rather than growing or blocking.
func (p *Pipeline) Ingest(raw domain.RawEvent) error {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	if p.state != StateRunning {
		return fmt.Errorf("%w: state %s", ErrNotRunning, p.state)
	}

	event, err := p.stamper.TimestampEvent(raw)
	if err != nil {
		p.stats.ingestionErrors.Add(1)
		if p.metrics != nil {
			p.metrics.RecordError("ingestion")
		}
		return err
	}

	select {
	case p.queue <- event:
		return nil
	default:
		p.stats.queueRejections.Add(1)
		if p.metrics != nil {
			p.metrics.RecordError("queue_full")
		}
		return ErrQueueFull
	}
}

// worker is the single consumer: buffer, correlate, derive insights,
// strictly in arrival order.
func (p *Pipeline) worker(queue <-chan domain.TimestampedEvent) {
	defer p.workerWg.Done()

	for event := range queue {
		p.process(event)
	}
	p.logger.Debug("correlation worker drained and stopped")
}

func (p *Pipeline) process(event domain.TimestampedEvent) {
	start := time.Now()

	p.buf.Add(event)
	p.stats.eventsProcessed.Add(1)
	p.publish(Notification{Kind: NotifyEventAdded, Event: &event, At: event.Timestamp})

	records := p.engine.EvaluateEvent(event)
	for i := range records {
		rec := records[i]
		p.stats.correlationsFound.Add(1)
		p.retainRecord(rec)
		p.publish(Notification{Kind: NotifyCorrelationFound, Record: &rec, At: rec.DetectedAt})
		if p.metrics != nil {
			p.metrics.RecordCorrelation(string(rec.Type), rec.Confidence)
		}

		for _, ins := range p.insights.Process(&rec) {
			insCopy := ins
			p.stats.insightsGenerated.Add(1)
			p.publish(Notification{Kind: NotifyInsightGenerated, Insight: &insCopy, At: ins.CreatedAt})
			if p.metrics != nil {
				p.metrics.RecordInsight(string(ins.Severity))
			}
		}
	}

	elapsed := time.Since(start)
	p.stats.latencyMicros.Add(uint64(elapsed.Microseconds()))
	p.stats.latencySamples.Add(1)
	if p.metrics != nil {
		p.metrics.RecordProcessed(string(event.SourceKind), elapsed)
	}
}

// sweeper periodically evicts events past the buffer's max age.
func (p *Pipeline) sweeper(ctx context.Context) {
	defer p.bgWg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.buf.SweepExpired(p.clock.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) retainRecord(rec domain.CorrelationRecord) {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	p.recent = append(p.recent, rec)
	if len(p.recent) > p.cfg.MaxRecentCorrelations {
		p.recent = p.recent[len(p.recent)-p.cfg.MaxRecentCorrelations:]
	}
}

// EventsInWindow answers window queries against the live buffer.
func (p *Pipeline) EventsInWindow(kind domain.SourceKind, center, window int64) []domain.TimestampedEvent {
	return p.buf.EventsInWindow(kind, center, window)
}

// ClearBuffers atomically empties all per-source buffers (session reset).
func (p *Pipeline) ClearBuffers() {
	p.buf.Clear()
}

// RegisterRule adds a correlation rule at runtime.
func (p *Pipeline) RegisterRule(rule *correlation.Rule) error {
	return p.engine.Registry().Register(rule)
}

// RemoveRule removes a correlation rule at runtime.
func (p *Pipeline) RemoveRule(id string) error {
	return p.engine.Registry().Remove(id)
}

// RecentInsights exposes retained insights, optionally filtered by severity.
func (p *Pipeline) RecentInsights(severity domain.Severity) []domain.AccessibilityInsight {
	return p.insights.Recent(severity)
}

// Stop moves RUNNING through SHUTTING_DOWN to STOPPED: intake stops first,
// the queue is drained by the worker, then background loops are cancelled.
// A context deadline surfaces as a ShutdownError but never blocks exit.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stateMu.Lock()
	if p.state != StateRunning {
		p.stateMu.Unlock()
		return fmt.Errorf("cannot stop from state %s", p.state)
	}
	p.state = StateShuttingDown
	close(p.queue)
	p.stateMu.Unlock()

	// Worker drains the closed queue first; the calibration and sweep loops
	// are cancelled only after, so nothing races the drain.
	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		p.cancel()
		p.bgWg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		err = &ShutdownError{Reason: "drain timed out"}
		p.logger.Warn("shutdown drain timed out", zap.Error(ctx.Err()))
	}

	p.stateMu.Lock()
	p.state = StateStopped
	p.stateMu.Unlock()

	p.closeSubscribers()
	p.logger.Info("pipeline stopped",
		zap.Uint64("events_processed", p.stats.eventsProcessed.Load()),
		zap.Uint64("correlations_found", p.stats.correlationsFound.Load()),
	)
	return err
}
