package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trading-backend/store"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func entry(id int64, ticker string, side store.OrderType, price string, shares int64, at int) store.BookEntry {
	return store.BookEntry{
		ChildOrderID:  id,
		ParentOrderID: 100 + id,
		Ticker:        ticker,
		Type:          side,
		Price:         decimal.RequireFromString(price),
		Shares:        shares,
		Time:          t0.Add(time.Duration(at) * time.Second),
	}
}

func ids(orders []Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestBuildPriceTimePriority(t *testing.T) {
	books := Build([]store.BookEntry{
		entry(1, "MSFT", store.Buy, "300", 1, 1),
		entry(2, "AAPL", store.Buy, "150", 1, 2),
		entry(3, "AAPL", store.Buy, "151", 1, 3),
		entry(4, "AAPL", store.Buy, "150", 1, 4),
		entry(5, "AAPL", store.Sell, "155", 1, 5),
		entry(6, "AAPL", store.Sell, "152", 1, 6),
		entry(7, "AAPL", store.Sell, "155", 1, 7),
		// Arrives out of time order with an equal price.
		entry(8, "AAPL", store.Buy, "150", 1, 0),
	})
	require.Len(t, books, 2)
	assert.Equal(t, "AAPL", books[0].Ticker)
	assert.Equal(t, "MSFT", books[1].Ticker)

	aapl := books[0]
	assert.Equal(t, []int64{3, 8, 2, 4}, ids(aapl.Bids))
	assert.Equal(t, []int64{6, 5, 7}, ids(aapl.Asks))
	assert.Empty(t, books[1].Asks)
	assert.NotNil(t, books[1].Asks)

	spread, ok := aapl.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(decimal.NewFromInt(1)))

	_, ok = books[1].Spread()
	assert.False(t, ok)
}

func TestBuildEmpty(t *testing.T) {
	books := Build(nil)
	assert.NotNil(t, books)
	assert.Empty(t, books)
}

func TestDepth(t *testing.T) {
	entries := []store.BookEntry{
		entry(1, "AAPL", store.Buy, "150", 2, 1),
		entry(2, "AAPL", store.Buy, "150", 3, 2),
		entry(3, "AAPL", store.Buy, "149", 5, 3),
		entry(4, "AAPL", store.Buy, "148", 1, 4),
		entry(5, "AAPL", store.Sell, "151", 4, 5),
		entry(6, "TSLA", store.Sell, "200", 4, 6),
	}
	book := For("AAPL", entries)

	d := book.Depth(2)
	assert.Equal(t, "AAPL", d.Ticker)
	require.Len(t, d.Bids, 2)
	assert.True(t, d.Bids[0].Price.Equal(decimal.NewFromInt(150)))
	assert.EqualValues(t, 5, d.Bids[0].Shares)
	assert.Equal(t, 2, d.Bids[0].Orders)
	assert.EqualValues(t, 5, d.Bids[1].Shares)
	require.Len(t, d.Asks, 1)
	assert.EqualValues(t, 4, d.Asks[0].Shares)

	assert.Len(t, book.Depth(0).Bids, 3)
}

func TestForUnknownTicker(t *testing.T) {
	book := For("NVDA", []store.BookEntry{entry(1, "AAPL", store.Buy, "150", 1, 1)})
	assert.Equal(t, "NVDA", book.Ticker)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
}
