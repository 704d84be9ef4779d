package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// RabbitMQPublisher publishes over one long-lived AMQP channel. The channel
// is reopened only after it closes or a publish on it fails.
type RabbitMQPublisher struct {
	client *RabbitMQ
	open   func(ctx context.Context) (publishChannel, error)

	mu sync.Mutex
	ch publishChannel
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	p := &RabbitMQPublisher{client: client}
	if client != nil {
		p.open = func(ctx context.Context) (publishChannel, error) {
			ch, err := client.openChannel(ctx)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}
	}
	return p
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg EventMessage) error {
	if p == nil || p.open == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid event message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Transient,
		Timestamp:     time.Now().UTC(),
		MessageId:     uuid.NewString(),
		CorrelationId: msg.CorrelationID,
		Type:          msg.Event.Name,
		Body:          payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, ExchangeName, "", false, false, publishing); err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("failed to publish message to exchange %q: %w", ExchangeName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) channelLocked(ctx context.Context) (publishChannel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ channel.Pusher = (*RelayPusher)(nil)

// RelayPusher satisfies channel.Pusher by handing events to the broker so
// that every API instance delivers them to its own connections.
type RelayPusher struct {
	publisher Publisher
}

func NewRelayPusher(publisher Publisher) *RelayPusher {
	return &RelayPusher{publisher: publisher}
}

func (r *RelayPusher) Publish(ctx context.Context, userID string, event channel.Event) error {
	if r == nil || r.publisher == nil {
		return fmt.Errorf("%w: relay is not initialized", domain.ErrTransport)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := EventMessage{
		UserID:        userID,
		Event:         event,
		CorrelationID: correlationID,
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}
