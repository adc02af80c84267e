package ports

import (
	"context"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// EventPublisher delivers domain events after the invocation that produced them committed.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}
