package orderbook

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stock-trading-backend/store"
)

// Order is a resting child order.
type Order struct {
	ID            int64           `json:"child_order_id"`
	ParentOrderID int64           `json:"parent_order_id"`
	Price         decimal.Decimal `json:"price"`
	Shares        int64           `json:"shares"`
	Time          time.Time       `json:"time"`
}

// Book holds the pending orders for one ticker.
type Book struct {
	Ticker string  `json:"ticker"`
	Bids   []Order `json:"bids"` // price desc, time asc
	Asks   []Order `json:"asks"` // price asc, time asc
}

// Level is the aggregated size resting at one price.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Shares int64           `json:"shares"`
	Orders int             `json:"orders"`
}

type Depth struct {
	Ticker string  `json:"ticker"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

func newBook(ticker string) *Book {
	return &Book{Ticker: ticker, Bids: []Order{}, Asks: []Order{}}
}

// Build groups book entries per ticker. The returned books are sorted by
// ticker.
func Build(entries []store.BookEntry) []*Book {
	books := make(map[string]*Book)
	for _, e := range entries {
		b, ok := books[e.Ticker]
		if !ok {
			b = newBook(e.Ticker)
			books[e.Ticker] = b
		}
		b.Add(e)
	}

	out := make([]*Book, 0, len(books))
	for _, b := range books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// For returns the book of a single ticker, empty when nothing is resting.
func For(ticker string, entries []store.BookEntry) *Book {
	b := newBook(ticker)
	for _, e := range entries {
		if e.Ticker == ticker {
			b.Add(e)
		}
	}
	return b
}

// Add places an entry on its side of the book.
func (b *Book) Add(e store.BookEntry) {
	o := Order{
		ID:            e.ChildOrderID,
		ParentOrderID: e.ParentOrderID,
		Price:         e.Price,
		Shares:        e.Shares,
		Time:          e.Time,
	}
	if e.Type == store.Buy {
		b.insertBid(o)
	} else {
		b.insertAsk(o)
	}
}

// insertBid keeps bids in price-time priority.
func (b *Book) insertBid(o Order) {
	i := sort.Search(len(b.Bids), func(i int) bool {
		if b.Bids[i].Price.Equal(o.Price) {
			return b.Bids[i].Time.After(o.Time)
		}
		return b.Bids[i].Price.LessThan(o.Price)
	})
	b.Bids = append(b.Bids, Order{})
	copy(b.Bids[i+1:], b.Bids[i:])
	b.Bids[i] = o
}

// insertAsk keeps asks in price-time priority.
func (b *Book) insertAsk(o Order) {
	i := sort.Search(len(b.Asks), func(i int) bool {
		if b.Asks[i].Price.Equal(o.Price) {
			return b.Asks[i].Time.After(o.Time)
		}
		return b.Asks[i].Price.GreaterThan(o.Price)
	})
	b.Asks = append(b.Asks, Order{})
	copy(b.Asks[i+1:], b.Asks[i:])
	b.Asks[i] = o
}

// Depth aggregates the book into at most n price levels per side. n <= 0
// returns every level.
func (b *Book) Depth(n int) Depth {
	return Depth{
		Ticker: b.Ticker,
		Bids:   levels(b.Bids, n),
		Asks:   levels(b.Asks, n),
	}
}

func levels(orders []Order, n int) []Level {
	out := []Level{}
	for _, o := range orders {
		if last := len(out) - 1; last >= 0 && out[last].Price.Equal(o.Price) {
			out[last].Shares += o.Shares
			out[last].Orders++
			continue
		}
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, Level{Price: o.Price, Shares: o.Shares, Orders: 1})
	}
	return out
}

// Spread is the best ask minus the best bid. ok is false when either side
// is empty.
func (b *Book) Spread() (spread decimal.Decimal, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price.Sub(b.Bids[0].Price), true
}
