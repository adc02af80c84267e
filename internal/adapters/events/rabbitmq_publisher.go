package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/pkg/encoding"
	"github.com/kevin07696/escrow-scheduler/pkg/resilience"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the topic exchange escrow events are published to
const DefaultExchange = "escrow.events"

const maxReconnectAttempts = 3

// RabbitMQPublisher publishes domain events to a durable topic exchange.
// The event type is the routing key.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
	backoff  resilience.BackoffStrategy
	logger   *zap.Logger
}

var _ ports.EventPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(url, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &RabbitMQPublisher{
		url:      url,
		exchange: exchange,
		backoff:  resilience.ReconnectBackoff(),
		logger:   logger,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}

	logger.Info("RabbitMQ publisher connected", zap.String("exchange", exchange))
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

// Publish sends event to the exchange, redialing once the broker dropped the connection.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := NewPublishing(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if p.channel == nil || p.channel.IsClosed() {
			if err := p.reconnect(ctx); err != nil {
				return err
			}
		}

		err = p.channel.PublishWithContext(ctx, p.exchange, string(event.Type), false, false, msg)
		if err == nil {
			p.logger.Debug("Event published",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID.String()),
			)
			return nil
		}
		if !errors.Is(err, amqp.ErrClosed) || attempt >= 1 {
			return fmt.Errorf("publish %s: %w", event.Type, err)
		}
		p.channel = nil
	}
}

func (p *RabbitMQPublisher) reconnect(ctx context.Context) error {
	if p.conn != nil {
		_ = p.conn.Close()
	}

	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Reconnecting to RabbitMQ",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if err := resilience.Wait(ctx, p.backoff, attempt-1); err != nil {
				return err
			}
		}
		if lastErr = p.connect(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Close closes the publisher connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			p.logger.Warn("Error closing channel", zap.Error(err))
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}

	p.logger.Info("RabbitMQ publisher closed")
	return nil
}

// NewPublishing encodes event as a persistent JSON message.
func NewPublishing(event domain.Event) (amqp.Publishing, error) {
	body, err := encoding.EncodeJSON(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt,
		Body:         body,
	}, nil
}
