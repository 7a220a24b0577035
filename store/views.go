package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

func (s *SQLStore) ActiveOrders(ctx context.Context) (entries []BookEntry, err error) {
	ctx, span := s.startSpan(ctx, "order_book")
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, s.db, `SELECT c.corderid, c.porderid, p.ticker, c.order_type, c.price, c.shares, c.created_at
		FROM child_order c JOIN parent_order p ON p.porderid = c.porderid
		WHERE c.status = ?
		ORDER BY p.ticker, c.created_at, c.corderid`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("query order book: %w", err)
	}
	defer rows.Close()

	entries = []BookEntry{}
	for rows.Next() {
		var e BookEntry
		if err := rows.Scan(&e.ChildOrderID, &e.ParentOrderID, &e.Ticker, &e.Type,
			&e.Price, &e.Shares, &e.Time); err != nil {
			return nil, fmt.Errorf("scan order book: %w", err)
		}
		entries = append(entries, e)
	}
	span.SetAttributes(attribute.Int("result.count", len(entries)))
	return entries, rows.Err()
}

// OrderStatus lists one row per parent/child pair for a user; parents with
// no children yet appear once with empty child columns.
func (s *SQLStore) OrderStatus(ctx context.Context, username string) (out []OrderStatusRow, err error) {
	ctx, span := s.startSpan(ctx, "user_order_status", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, s.db, `SELECT p.porderid, p.ticker, p.order_type, p.total_status, p.created_at, p.updated_at,
			c.corderid, c.shares, c.status, c.price, c.updated_at
		FROM parent_order p LEFT JOIN child_order c ON c.porderid = p.porderid
		WHERE p.username = ?
		ORDER BY p.created_at DESC, p.porderid DESC, c.corderid`, username)
	if err != nil {
		return nil, fmt.Errorf("query order status: %w", err)
	}
	defer rows.Close()

	out = []OrderStatusRow{}
	for rows.Next() {
		var (
			r             OrderStatusRow
			parentUpdated time.Time
			childID       sql.NullInt64
			childShares   sql.NullInt64
			childStatus   sql.NullString
			childPrice    decimal.NullDecimal
			childUpdated  sql.NullTime
		)
		if err := rows.Scan(&r.ParentOrderID, &r.Ticker, &r.OrderType, &r.ParentStatus,
			&r.OrderPlacementTime, &parentUpdated,
			&childID, &childShares, &childStatus, &childPrice, &childUpdated); err != nil {
			return nil, fmt.Errorf("scan order status: %w", err)
		}

		r.LastUpdateTime = parentUpdated
		r.OrderStage = StageAwaitingExecution
		if childID.Valid {
			status := Status(childStatus.String)
			r.ChildOrderID = &childID.Int64
			r.ChildShares = &childShares.Int64
			r.ChildStatus = &status
			r.ExecutionPrice = &childPrice.Decimal
			if childUpdated.Valid {
				r.LastUpdateTime = childUpdated.Time
			}
			r.OrderStage = StageExecuting
			if status == StatusCompleted {
				r.OrderStage = StageExecuted
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OrderHistory lists a user's completed parent orders with the share
// weighted average fill price.
func (s *SQLStore) OrderHistory(ctx context.Context, username string) (out []CompletedOrder, err error) {
	ctx, span := s.startSpan(ctx, "user_completed_orders", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, s.db, `SELECT p.porderid, p.ticker, p.order_type, p.shares, p.amount, p.total_status, p.created_at,
			c.price, c.shares
		FROM parent_order p LEFT JOIN child_order c ON c.porderid = p.porderid AND c.status = ?
		WHERE p.username = ? AND p.total_status = ?
		ORDER BY p.created_at DESC, p.porderid DESC, c.corderid`,
		string(StatusCompleted), username, string(StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("query order history: %w", err)
	}
	defer rows.Close()

	type fill struct {
		cost   decimal.Decimal
		shares int64
	}
	out = []CompletedOrder{}
	var fills []fill
	for rows.Next() {
		var (
			o           CompletedOrder
			childPrice  decimal.NullDecimal
			childShares sql.NullInt64
		)
		if err := rows.Scan(&o.ParentOrderID, &o.Ticker, &o.OrderType, &o.Shares, &o.Amount,
			&o.TotalStatus, &o.OrderTime, &childPrice, &childShares); err != nil {
			return nil, fmt.Errorf("scan order history: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].ParentOrderID != o.ParentOrderID {
			out = append(out, o)
			fills = append(fills, fill{})
		}
		if childPrice.Valid && childShares.Valid {
			f := &fills[len(fills)-1]
			f.cost = f.cost.Add(childPrice.Decimal.Mul(decimal.NewFromInt(childShares.Int64)))
			f.shares += childShares.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		switch {
		case fills[i].shares > 0:
			out[i].AveragePrice = fills[i].cost.Div(decimal.NewFromInt(fills[i].shares)).Round(4)
		case out[i].Shares > 0:
			out[i].AveragePrice = out[i].Amount.Div(decimal.NewFromInt(out[i].Shares)).Round(4)
		}
	}
	return out, nil
}
