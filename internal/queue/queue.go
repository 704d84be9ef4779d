package queue

import (
	"context"
)

const (
	// ExchangeName is the fanout exchange every API instance binds its
	// private queue to.
	ExchangeName = "rti.channel.events"
	exchangeKind = "fanout"
)

// Publisher publishes channel events to every API instance.
type Publisher interface {
	Publish(ctx context.Context, msg EventMessage) error
	Close() error
}

// MessageHandler handles a relayed channel event.
type MessageHandler func(ctx context.Context, msg EventMessage) error

// Consumer receives relayed channel events for the local instance.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}
