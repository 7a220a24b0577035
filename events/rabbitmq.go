package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stock-trading-backend/telemetry"
)

// RabbitMQ publishes events as persistent JSON messages on durable topic
// exchanges.
type RabbitMQ struct {
	url       string
	exchanges []string
	attempts  int
	backoff   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	// retryAt holds publishes off the broker after a failed reconnect.
	retryAt time.Time
}

const dialTimeout = 2 * time.Second

var errBrokerDown = errors.New("RabbitMQ unavailable")

func NewRabbitMQ(url string, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		url:       url,
		exchanges: []string{ExchangeOrders, ExchangeUsers, ExchangeSystem},
		attempts:  5,
		backoff:   5 * time.Second,
		logger:    logger,
	}
}

// Connect dials the broker with retries and declares the exchanges.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connect(ctx, r.attempts)
}

func (r *RabbitMQ) dial() (*amqp.Connection, error) {
	return amqp.DialConfig(r.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
}

func (r *RabbitMQ) connect(ctx context.Context, attempts int) error {
	r.closeLocked()

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < attempts; i++ {
		r.logger.Info("connecting to RabbitMQ", "attempt", i+1)
		conn, err = r.dial()
		if err == nil {
			break
		}
		r.logger.Warn("failed to connect to RabbitMQ", "error", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(2*i) * time.Second):
		}
	}
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	for _, exchange := range r.exchanges {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	r.conn, r.channel = conn, ch
	r.logger.Info("connected to RabbitMQ")
	return nil
}

// Publish sends one event. A broken channel gets a single reconnect attempt.
// After that attempt fails, publishes return errBrokerDown without dialing
// until the backoff has passed.
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, event Event) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		telemetry.EventsPublishedTotal.WithLabelValues(exchange, outcome).Inc()
	}()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil || r.channel.IsClosed() {
		if err := r.reconnect(ctx); err != nil {
			return fmt.Errorf("not connected to RabbitMQ: %w", err)
		}
	}
	if err = r.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		r.logger.Warn("publish failed, reconnecting", "error", err)
		if err := r.reconnect(ctx); err != nil {
			return fmt.Errorf("reconnect to RabbitMQ: %w", err)
		}
		if err = r.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
			return fmt.Errorf("publish after reconnect: %w", err)
		}
	}

	r.logger.DebugContext(ctx, "published event", "exchange", exchange, "routing_key", routingKey)
	return nil
}

// reconnect dials once. Callers hold r.mu.
func (r *RabbitMQ) reconnect(ctx context.Context) error {
	if time.Now().Before(r.retryAt) {
		return errBrokerDown
	}
	if err := r.connect(ctx, 1); err != nil {
		r.retryAt = time.Now().Add(r.backoff)
		return err
	}
	r.retryAt = time.Time{}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	r.logger.Info("RabbitMQ connection closed")
	return nil
}

func (r *RabbitMQ) closeLocked() {
	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
