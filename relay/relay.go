package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"stock-trading-backend/config"
	"stock-trading-backend/store"
	"stock-trading-backend/telemetry"
)

// RequestFrom identifies this service to the relay target.
const RequestFrom = "stock-trading-backend"

var tracer = otel.Tracer("relay")

// Notifier tells the execution service about new parent orders.
type Notifier interface {
	NotifyParentOrder(ctx context.Context, order *store.ParentOrder) error
}

// Notification is the body POSTed for every new parent order.
type Notification struct {
	NotificationID   string          `json:"notification_id"`
	NotificationType string          `json:"notification_type"`
	ParentOrderID    int64           `json:"parent_order_id"`
	Ticker           string          `json:"ticker"`
	Shares           int64           `json:"shares"`
	Type             store.OrderType `json:"type"`
	Amount           json.Number     `json:"amount"`
	Username         string          `json:"username"`
	Timestamp        string          `json:"timestamp"`
}

type Client struct {
	endpoint  string
	authToken string
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(cfg config.RelayConfig, logger *slog.Logger) *Client {
	return &Client{
		endpoint:  cfg.URL + "/api/orders",
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

func (c *Client) NotifyParentOrder(ctx context.Context, order *store.ParentOrder) (err error) {
	ctx, span := tracer.Start(ctx, "relay.notify_parent_order",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("parent_order.id", order.ID)))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		telemetry.RelayRequestsTotal.WithLabelValues(outcome).Inc()
		span.End()
	}()

	body, err := json.Marshal(Notification{
		NotificationID:   uuid.NewString(),
		NotificationType: "new_order",
		ParentOrderID:    order.ID,
		Ticker:           order.Ticker,
		Shares:           order.Shares,
		Type:             order.Type,
		Amount:           json.Number(order.Amount.StringFixed(2)),
		Username:         order.Username,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-REQUEST-FROM", RequestFrom)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send relay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay responded %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	c.logger.DebugContext(ctx, "order relayed", "parent_order_id", order.ID, "status", resp.StatusCode)
	return nil
}
