package export

import (
	"encoding/json"
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// NATS subjects for downstream consumers.
const (
	SubjectCorrelations = "sightline.correlations"
	SubjectInsights     = "sightline.insights"
)

// natsConn is the slice of *nats.Conn the publisher uses; a seam for tests.
type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher pushes correlations and insights to NATS for external viewers.
// Publish failures are logged and counted, never fatal.
type Publisher struct {
	nc     natsConn
	logger *zap.Logger
}

// Connect dials the NATS server and returns a publisher.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("sightline-exporter"),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}, nil
}

// NewPublisher wraps an existing connection; used by tests.
func NewPublisher(nc natsConn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// PublishCorrelation sends one record to SubjectCorrelations.
func (p *Publisher) PublishCorrelation(rec domain.CorrelationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation: %w", err)
	}
	if err := p.nc.Publish(SubjectCorrelations, data); err != nil {
		p.logger.Warn("failed to publish correlation",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// PublishInsight sends one insight to SubjectInsights.
func (p *Publisher) PublishInsight(ins domain.AccessibilityInsight) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("failed to marshal insight: %w", err)
	}
	if err := p.nc.Publish(SubjectInsights, data); err != nil {
		p.logger.Warn("failed to publish insight",
			zap.String("id", ins.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
