package pipeline

import (
	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// NotificationKind tags what a notification carries.
type NotificationKind string

const (
	NotifyEventAdded       NotificationKind = "event_added"
	NotifyCorrelationFound NotificationKind = "correlation_found"
	NotifyInsightGenerated NotificationKind = "insight_generated"
)

// Notification fans out pipeline activity to subscribers. Exactly one of
// Event, Record or Insight is set, matching Kind.
type Notification struct {
	Kind    NotificationKind
	Event   *domain.TimestampedEvent
	Record  *domain.CorrelationRecord
	Insight *domain.AccessibilityInsight
	At      int64
}

// Subscribe registers a notification channel. The returned cancel function
// removes the subscription; the channel is closed on cancel or pipeline
// stop. A slow subscriber never blocks the worker: overflowing
// notifications are dropped and counted.
func (p *Pipeline) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, p.cfg.NotifyBuffer)

	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	cancel := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (p *Pipeline) publish(n Notification) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()

	for _, ch := range p.subs {
		select {
		case ch <- n:
		default:
			p.stats.droppedNotifications.Add(1)
			p.logger.Debug("subscriber channel full, dropping notification",
				zap.String("kind", string(n.Kind)),
			)
		}
	}
}

func (p *Pipeline) closeSubscribers() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
