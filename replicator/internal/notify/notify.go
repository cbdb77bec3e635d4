// Package notify publishes replication progress events.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/common/messaging"
	"github.com/flowlake/flowlake/replicator/internal/metrics"
)

// Notifier receives progress events. Implementations must not block the
// sync cycle for long and never fail it.
type Notifier interface {
	WatermarkAdvanced(ctx context.Context, evt messaging.WatermarkAdvancedEvent)
	CycleCompleted(ctx context.Context, evt messaging.CycleCompletedEvent)
	CycleFailed(ctx context.Context, evt messaging.CycleFailedEvent)
}

// Publisher sends events to a message broker.
type Publisher struct {
	pub    messaging.Publisher
	logger *slog.Logger
}

// NewPublisher creates a Notifier backed by pub.
func NewPublisher(pub messaging.Publisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pub: pub, logger: logger.With(logging.Component("notify"))}
}

func (p *Publisher) WatermarkAdvanced(ctx context.Context, evt messaging.WatermarkAdvancedEvent) {
	p.publish(ctx, messaging.SubjectWatermarkAdvanced, evt.CycleID, evt)
}

func (p *Publisher) CycleCompleted(ctx context.Context, evt messaging.CycleCompletedEvent) {
	p.publish(ctx, messaging.SubjectCycleCompleted, evt.CycleID, evt)
}

func (p *Publisher) CycleFailed(ctx context.Context, evt messaging.CycleFailedEvent) {
	p.publish(ctx, messaging.SubjectCycleFailed, evt.CycleID, evt)
}

func (p *Publisher) publish(ctx context.Context, subject, cycleID string, evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues(subject).Inc()
		p.logger.Error("failed to marshal event", slog.String("subject", subject), logging.Error(err))
		return
	}

	// Events describe work that already happened; publish even while the
	// cycle's context is being canceled.
	msg := messaging.NewMessage(subject, data, messaging.WithHeader(messaging.HeaderCycleID, cycleID))
	if err := p.pub.PublishMsg(context.WithoutCancel(ctx), msg); err != nil {
		metrics.EventPublishErrors.WithLabelValues(subject).Inc()
		p.logger.Warn("failed to publish event",
			slog.String("subject", subject),
			logging.CycleID(cycleID),
			logging.Error(err))
	}
}

// Noop discards every event.
type Noop struct{}

func (Noop) WatermarkAdvanced(context.Context, messaging.WatermarkAdvancedEvent) {}
func (Noop) CycleCompleted(context.Context, messaging.CycleCompletedEvent) {}
func (Noop) CycleFailed(context.Context, messaging.CycleFailedEvent) {}
