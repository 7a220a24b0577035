package events

import (
	"context"
	"log/slog"
	"os"
	"time"
)

const (
	ExchangeOrders = "order_events"
	ExchangeUsers  = "user_events"
	ExchangeSystem = "system_events"
)

const (
	ParentCreated      = "parent.created"
	ChildCreated       = "child.created"
	ChildCompleted     = "child.completed"
	ParentCompleted    = "parent.completed"
	UserCreated        = "user.created"
	UserBalanceUpdated = "user.balance_updated"
	ServiceStarted     = "service.started"
	ServiceStopped     = "service.stopped"
)

// Event is the JSON body of a published message.
type Event map[string]any

// Publisher sends domain events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, Event) error { return nil }
func (Nop) Close() error                                         { return nil }

// Emit publishes an event and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, exchange, routingKey string, event Event) {
	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := p.Publish(ctx, exchange, routingKey, event); err != nil {
		logger.WarnContext(ctx, "publish event failed",
			"exchange", exchange, "routing_key", routingKey, "error", err)
	}
}

// Announce publishes a lifecycle event for this process on the system
// exchange.
func Announce(ctx context.Context, p Publisher, logger *slog.Logger, routingKey, service string, event Event) {
	if event == nil {
		event = Event{}
	}
	event["service"] = service
	if host, err := os.Hostname(); err == nil {
		event["host"] = host
	}
	Emit(ctx, p, logger, ExchangeSystem, routingKey, event)
}
