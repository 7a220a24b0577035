package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trading-backend/store"
)

type memBackend struct {
	mu      sync.Mutex
	data    map[string]string
	gets    int
	failGet bool
	failSet bool
}

func newMemBackend() *memBackend { return &memBackend{data: map[string]string{}} }

func (m *memBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("connection refused")
	}
	m.data[key] = value
	return nil
}

func (m *memBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memBackend) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// cached returns the decimal stored under key.
func (m *memBackend) cached(t *testing.T, key string) decimal.Decimal {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	require.True(t, ok, "%s not cached", key)
	return decimal.RequireFromString(v)
}

func setup(t *testing.T) (*Store, *memBackend, *store.SQLStore) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	backend := newMemBackend()
	return NewStore(db, backend, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))), backend, db
}

func TestGetBalanceReadThrough(t *testing.T) {
	s, backend, db := setup(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "alice", decimal.NewFromInt(100))
	require.NoError(t, err)

	bal, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)))
	assert.True(t, backend.has("balance:alice"))

	// Bypass the wrapper: the cached value is served until invalidated.
	require.NoError(t, db.UpdateBalance(ctx, "alice", decimal.NewFromInt(5)))
	bal, err = s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)))

	require.NoError(t, s.UpdateBalance(ctx, "alice", decimal.RequireFromString("7.456")))
	assert.True(t, backend.cached(t, "balance:alice").Equal(decimal.RequireFromString("7.46")))
	bal, err = s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("7.46")))
}

func TestUpdateBalanceOverwritesStaleEntry(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "alice", decimal.NewFromInt(100))
	require.NoError(t, err)

	// A reader that loaded the balance before the update may write it back
	// late. The update must still leave the committed value behind.
	require.NoError(t, backend.Set(ctx, "balance:alice", "100", time.Minute))
	require.NoError(t, s.UpdateBalance(ctx, "alice", decimal.NewFromInt(250)))
	bal, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(250)))
}

func TestUpdateBalanceDropsKeyWhenWriteFails(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "alice", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, backend.has("balance:alice"))

	backend.failSet = true
	require.NoError(t, s.UpdateBalance(ctx, "alice", decimal.NewFromInt(9)))
	assert.False(t, backend.has("balance:alice"))
}

func TestGetBalanceUnknownUserNotCached(t *testing.T) {
	s, backend, _ := setup(t)
	_, err := s.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.False(t, backend.has("balance:ghost"))
}

func TestGetBalanceFallsBackOnCacheError(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "bob", decimal.NewFromInt(42))
	require.NoError(t, err)

	backend.failGet = true
	bal, err := s.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(42)))
}

func TestCompleteChildRefreshesBalance(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "alice", decimal.NewFromInt(1000))
	require.NoError(t, err)
	p, err := s.CreateParentOrder(ctx, store.NewParentOrder{
		Ticker: "AAPL", Shares: 2, Type: store.Buy, Amount: decimal.NewFromInt(300), Username: "alice",
	})
	require.NoError(t, err)
	c, err := s.CreateChildOrder(ctx, store.NewChildOrder{ParentOrderID: p.ID, Price: decimal.NewFromInt(150), Shares: 2})
	require.NoError(t, err)

	_, err = s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, backend.has("balance:alice"))

	_, err = s.CompleteChildOrder(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, backend.cached(t, "balance:alice").Equal(decimal.NewFromInt(700)))

	bal, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(700)))
}

func TestFillParentOrderRefreshesBalance(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, "alice", decimal.NewFromInt(100))
	require.NoError(t, err)
	p, err := s.CreateParentOrder(ctx, store.NewParentOrder{
		Ticker: "AAPL", Shares: 2, Type: store.Buy, Amount: decimal.NewFromInt(300), Username: "alice",
	})
	require.NoError(t, err)
	_, err = s.GetBalance(ctx, "alice")
	require.NoError(t, err)

	fill := store.NewChildOrder{ParentOrderID: p.ID, Price: decimal.NewFromInt(150), Shares: 2}
	_, err = s.FillParentOrder(ctx, fill)
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.True(t, backend.cached(t, "balance:alice").Equal(decimal.NewFromInt(100)))

	require.NoError(t, s.UpdateBalance(ctx, "alice", decimal.NewFromInt(1000)))
	res, err := s.FillParentOrder(ctx, fill)
	require.NoError(t, err)
	require.NotNil(t, res.Parent)
	assert.True(t, backend.cached(t, "balance:alice").Equal(decimal.NewFromInt(700)))
}
