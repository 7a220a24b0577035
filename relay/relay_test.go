package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trading-backend/config"
	"stock-trading-backend/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testOrder() *store.ParentOrder {
	return &store.ParentOrder{
		ID:       42,
		Ticker:   "AAPL",
		Shares:   10,
		Type:     store.Buy,
		Amount:   decimal.RequireFromString("1500.50"),
		Username: "alice",
		Status:   store.StatusPending,
	}
}

func TestNotifyParentOrder(t *testing.T) {
	var (
		got     Notification
		raw     []byte
		headers http.Header
		path    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		headers = r.Header.Clone()
		var err error
		raw, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(config.RelayConfig{URL: srv.URL, Timeout: time.Second, AuthToken: "s3cret"}, discard)
	require.NoError(t, c.NotifyParentOrder(context.Background(), testOrder()))

	assert.Equal(t, "/api/orders", path)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, RequestFrom, headers.Get("X-REQUEST-FROM"))
	assert.Equal(t, "Bearer s3cret", headers.Get("Authorization"))

	assert.NotEmpty(t, got.NotificationID)
	assert.Equal(t, "new_order", got.NotificationType)
	assert.EqualValues(t, 42, got.ParentOrderID)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, store.Buy, got.Type)
	assert.Equal(t, json.Number("1500.50"), got.Amount)
	assert.Contains(t, string(raw), `"amount":1500.50`)
	assert.Equal(t, "alice", got.Username)
}

func TestNotificationAmountIgnoresDecimalQuoting(t *testing.T) {
	prev := decimal.MarshalJSONWithoutQuotes
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = prev })

	for _, unquoted := range []bool{false, true} {
		decimal.MarshalJSONWithoutQuotes = unquoted
		body, err := json.Marshal(Notification{Amount: json.Number(decimal.RequireFromString("99.9").StringFixed(2))})
		require.NoError(t, err)
		assert.Contains(t, string(body), `"amount":99.90`)
	}
}

func TestNotifyWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(config.RelayConfig{URL: srv.URL, Timeout: time.Second}, discard)
	assert.NoError(t, c.NotifyParentOrder(context.Background(), testOrder()))
}

func TestNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.RelayConfig{URL: srv.URL, Timeout: time.Second}, discard)
	err := c.NotifyParentOrder(context.Background(), testOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "boom")
}

func TestNotifyTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(config.RelayConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}, discard)
	assert.Error(t, c.NotifyParentOrder(context.Background(), testOrder()))
}
