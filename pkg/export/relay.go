package export

import (
	"context"

	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/pipeline"
)

// Relay consumes pipeline notifications and dispatches them to the
// configured sinks. Either sink may be nil. One relay per subscription;
// failures are logged and the relay keeps going.
type Relay struct {
	store     *Store
	publisher *Publisher
	logger    *zap.Logger
}

// NewRelay builds a relay over the given sinks.
func NewRelay(store *Store, publisher *Publisher, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{store: store, publisher: publisher, logger: logger}
}

// Run dispatches notifications until the channel closes or the context is
// cancelled.
func (r *Relay) Run(ctx context.Context, notifications <-chan pipeline.Notification) {
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			r.dispatch(n)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) dispatch(n pipeline.Notification) {
	switch n.Kind {
	case pipeline.NotifyEventAdded:
		if r.store != nil && n.Event != nil {
			if err := r.store.InsertEvent(*n.Event); err != nil {
				r.logger.Warn("failed to persist event", zap.Error(err))
			}
		}
	case pipeline.NotifyCorrelationFound:
		if n.Record == nil {
			return
		}
		if r.store != nil {
			if err := r.store.InsertCorrelation(*n.Record); err != nil {
				r.logger.Warn("failed to persist correlation", zap.Error(err))
			}
		}
		if r.publisher != nil {
			_ = r.publisher.PublishCorrelation(*n.Record)
		}
	case pipeline.NotifyInsightGenerated:
		if n.Insight == nil {
			return
		}
		if r.store != nil {
			if err := r.store.InsertInsight(*n.Insight); err != nil {
				r.logger.Warn("failed to persist insight", zap.Error(err))
			}
		}
		if r.publisher != nil {
			_ = r.publisher.PublishInsight(*n.Insight)
		}
	}
}
