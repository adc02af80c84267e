package events

import (
	"context"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"go.uber.org/zap"
)

// NoopPublisher drops events after logging them. Used when no broker is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

var _ ports.EventPublisher = (*NoopPublisher)(nil)

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, event domain.Event) error {
	p.logger.Debug("Event dropped, no broker configured",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID.String()),
	)
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}

// TimeoutPublisher bounds every Publish call of the wrapped publisher.
type TimeoutPublisher struct {
	next    ports.EventPublisher
	timeout time.Duration
}

// WithTimeout wraps next so a slow broker cannot stall the caller after commit.
func WithTimeout(next ports.EventPublisher, timeout time.Duration) *TimeoutPublisher {
	return &TimeoutPublisher{next: next, timeout: timeout}
}

func (p *TimeoutPublisher) Publish(ctx context.Context, event domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.Publish(ctx, event)
}

func (p *TimeoutPublisher) Close() error {
	return p.next.Close()
}
