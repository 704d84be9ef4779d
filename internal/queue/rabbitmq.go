package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
	heartbeat        = 10 * time.Second
)

// RabbitMQ owns the broker connection shared by the relay publisher and
// consumer. A dropped connection is redialled lazily on the next use.
type RabbitMQ struct {
	url    string
	config amqp.Config

	mu     sync.RWMutex
	conn   *amqp.Connection
	closed bool

	// dialMu keeps concurrent callers from dialling in parallel.
	dialMu sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName())

	r := &RabbitMQ{
		url: url,
		config: amqp.Config{
			Heartbeat:  heartbeat,
			Locale:     "en_US",
			Properties: props,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Close drops the connection and refuses further redials.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.closed = true
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping reports whether the broker connection is open.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.current() == nil {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// openChannel returns a fresh AMQP channel with the relay exchange declared.
// The consumer opens one per attach, the publisher keeps one until it fails.
func (r *RabbitMQ) openChannel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection died between the liveness check and the call.
		r.drop(conn)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}

	if err := declareExchange(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.current(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.current(); conn != nil {
		return conn, nil
	}

	wait := reconnectBackoff
	for {
		if r.isClosed() {
			return nil, fmt.Errorf("rabbitmq client is closed")
		}

		conn, err := amqp.DialConfig(r.url, r.config)
		if err == nil {
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				_ = conn.Close()
				return nil, fmt.Errorf("rabbitmq client is closed")
			}
			r.conn = conn
			r.mu.Unlock()
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

func (r *RabbitMQ) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func connectionName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "rti-portal-relay@" + host
}

func declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeName,
		exchangeKind,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", ExchangeName, err)
	}
	return nil
}

// declareInstanceQueue creates the exclusive, server-named queue that feeds
// this process and binds it to the fanout exchange.
func declareInstanceQueue(ch *amqp.Channel) (string, error) {
	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare instance queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", ExchangeName, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind instance queue %q: %w", q.Name, err)
	}
	return q.Name, nil
}
