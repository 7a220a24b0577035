package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func (s *SQLStore) CreateParentOrder(ctx context.Context, o NewParentOrder) (order *ParentOrder, err error) {
	ctx, span := s.startSpan(ctx, "create_parent_order",
		attribute.String("username", o.Username),
		attribute.String("ticker", o.Ticker),
		attribute.String("order.type", string(o.Type)))
	defer func() { endSpan(span, err) }()

	now := s.now()
	order = &ParentOrder{
		Ticker:    o.Ticker,
		Shares:    o.Shares,
		Type:      o.Type,
		Amount:    o.Amount.Round(2),
		Username:  o.Username,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := s.lockBalance(ctx, tx, o.Username)
		if err != nil {
			return err
		}
		switch o.Type {
		case Buy:
			if balance.LessThan(order.Amount) {
				return ErrInsufficientFunds
			}
		case Sell:
			_, held, err := s.lockAsset(ctx, tx, o.Username, o.Ticker)
			if err != nil {
				return err
			}
			if held < o.Shares {
				return ErrInsufficientShares
			}
		default:
			return fmt.Errorf("unsupported order type %q", o.Type)
		}

		order.ID, err = s.insert(ctx, tx, "porderid",
			`INSERT INTO parent_order (ticker, shares, order_type, amount, username, total_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			order.Ticker, order.Shares, string(order.Type), order.Amount, order.Username,
			string(order.Status), now, now)
		if err != nil {
			return fmt.Errorf("insert parent order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))
	return order, nil
}

func (s *SQLStore) CreateChildOrder(ctx context.Context, o NewChildOrder) (child *ChildOrder, err error) {
	ctx, span := s.startSpan(ctx, "create_child_order", attribute.Int64("parent_order.id", o.ParentOrderID))
	defer func() { endSpan(span, err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		child, err = s.insertChild(ctx, tx, o, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// CompleteChildOrder settles a child order against its owner's balance and
// holdings and closes the parent once every parent share is filled.
func (s *SQLStore) CompleteChildOrder(ctx context.Context, id int64) (result *ChildCompletion, err error) {
	ctx, span := s.startSpan(ctx, "complete_child_order", attribute.Int64("child_order.id", id))
	defer func() { endSpan(span, err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		child, err := s.lockChild(ctx, tx, id)
		if err != nil {
			return err
		}
		if child.Status == StatusCompleted {
			return ErrOrderCompleted
		}
		result, err = s.settleChild(ctx, tx, child, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FillParentOrder records an execution as a child order and settles it in
// the same transaction. Nothing is stored when settlement fails.
func (s *SQLStore) FillParentOrder(ctx context.Context, o NewChildOrder) (result *ChildCompletion, err error) {
	ctx, span := s.startSpan(ctx, "fill_parent_order", attribute.Int64("parent_order.id", o.ParentOrderID))
	defer func() { endSpan(span, err) }()

	now := s.now()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		child, err := s.insertChild(ctx, tx, o, now)
		if err != nil {
			return err
		}
		result, err = s.settleChild(ctx, tx, child, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// insertChild stores a pending child order after checking it against the
// parent's share and notional caps.
func (s *SQLStore) insertChild(ctx context.Context, tx *sql.Tx, o NewChildOrder, now time.Time) (*ChildOrder, error) {
	parent, err := s.lockParent(ctx, tx, o.ParentOrderID)
	if err != nil {
		return nil, err
	}
	if parent.Status == StatusCompleted {
		return nil, ErrOrderCompleted
	}

	children, err := s.children(ctx, tx, parent.ID)
	if err != nil {
		return nil, err
	}
	child := &ChildOrder{
		ParentOrderID: parent.ID,
		Ticker:        parent.Ticker,
		Username:      parent.Username,
		Type:          parent.Type,
		Price:         o.Price,
		Shares:        o.Shares,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	shares, notional := child.Shares, child.Notional()
	for _, c := range children {
		shares += c.Shares
		notional = notional.Add(c.Notional())
	}
	if shares > parent.Shares {
		return nil, fmt.Errorf("%w: %d of %d shares allocated", ErrExceedsParent, shares, parent.Shares)
	}
	if parent.Type == Buy && notional.GreaterThan(parent.Amount) {
		return nil, fmt.Errorf("%w: notional %s above amount %s", ErrExceedsParent, notional, parent.Amount)
	}

	child.ID, err = s.insert(ctx, tx, "corderid",
		`INSERT INTO child_order (porderid, price, shares, order_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		child.ParentOrderID, child.Price, child.Shares, string(child.Type), string(child.Status), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert child order: %w", err)
	}
	return child, nil
}

// settleChild moves cash and shares for a pending child, records the trade
// and closes the parent when it is fully filled.
func (s *SQLStore) settleChild(ctx context.Context, tx *sql.Tx, child *ChildOrder, now time.Time) (*ChildCompletion, error) {
	balance, err := s.lockBalance(ctx, tx, child.Username)
	if err != nil {
		return nil, err
	}
	notional := child.Notional()
	var buyer, seller sql.NullString
	switch child.Type {
	case Buy:
		if balance.LessThan(notional) {
			return nil, ErrInsufficientFunds
		}
		if err := s.adjustAsset(ctx, tx, child.Username, child.Ticker, child.Shares); err != nil {
			return nil, err
		}
		balance = balance.Sub(notional)
		buyer = sql.NullString{String: child.Username, Valid: true}
	case Sell:
		if err := s.adjustAsset(ctx, tx, child.Username, child.Ticker, -child.Shares); err != nil {
			return nil, err
		}
		balance = balance.Add(notional)
		seller = sql.NullString{String: child.Username, Valid: true}
	}
	balance = balance.Round(2)
	if err := s.setBalance(ctx, tx, child.Username, balance); err != nil {
		return nil, err
	}

	tradeID, err := s.insert(ctx, tx, "tradeid",
		`INSERT INTO trade (buyer_username, seller_username, ticker, shares, price, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		buyer, seller, child.Ticker, child.Shares, child.Price, now)
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	if _, err := s.exec(ctx, tx,
		"UPDATE child_order SET status = ?, tradeid = ?, updated_at = ? WHERE corderid = ?",
		string(StatusCompleted), tradeID, now, child.ID); err != nil {
		return nil, fmt.Errorf("complete child order: %w", err)
	}
	child.Status = StatusCompleted
	child.TradeID = &tradeID
	child.UpdatedAt = now
	result := &ChildCompletion{Child: *child, Balance: balance}

	parent, err := s.lockParent(ctx, tx, child.ParentOrderID)
	if err != nil {
		return nil, err
	}
	var filled int64
	if err := s.queryRow(ctx, tx,
		"SELECT COALESCE(SUM(shares), 0) FROM child_order WHERE porderid = ? AND status = ?",
		parent.ID, string(StatusCompleted)).Scan(&filled); err != nil {
		return nil, fmt.Errorf("sum filled shares: %w", err)
	}
	if parent.Status == StatusPending && filled >= parent.Shares {
		if err := s.closeParent(ctx, tx, parent); err != nil {
			return nil, err
		}
		result.Parent = parent
	}
	return result, nil
}

func (s *SQLStore) CompleteParentOrder(ctx context.Context, id int64) (parent *ParentOrder, err error) {
	ctx, span := s.startSpan(ctx, "complete_parent_order", attribute.Int64("parent_order.id", id))
	defer func() { endSpan(span, err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		parent, err = s.lockParent(ctx, tx, id)
		if err != nil {
			return err
		}
		if parent.Status == StatusCompleted {
			return ErrOrderCompleted
		}
		var pending int
		if err := s.queryRow(ctx, tx,
			"SELECT COUNT(*) FROM child_order WHERE porderid = ? AND status = ?",
			id, string(StatusPending)).Scan(&pending); err != nil {
			return fmt.Errorf("count pending children: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("%w: %d pending", ErrChildrenPending, pending)
		}
		return s.closeParent(ctx, tx, parent)
	})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

func (s *SQLStore) GetParentOrder(ctx context.Context, id int64) (parent *ParentOrder, err error) {
	ctx, span := s.startSpan(ctx, "get_parent_order", attribute.Int64("parent_order.id", id))
	defer func() { endSpan(span, err) }()

	parent, err = s.scanParent(s.queryRow(ctx, s.db, selectParent+" WHERE porderid = ?", id))
	if err != nil {
		return nil, err
	}
	parent.Children, err = s.children(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return parent, nil
}

func (s *SQLStore) closeParent(ctx context.Context, tx *sql.Tx, parent *ParentOrder) error {
	now := s.now()
	if _, err := s.exec(ctx, tx,
		"UPDATE parent_order SET total_status = ?, updated_at = ? WHERE porderid = ?",
		string(StatusCompleted), now, parent.ID); err != nil {
		return fmt.Errorf("complete parent order: %w", err)
	}
	parent.Status = StatusCompleted
	parent.UpdatedAt = now
	return nil
}

const selectParent = `SELECT porderid, ticker, shares, order_type, amount, username, total_status, created_at, updated_at
	FROM parent_order`

func (s *SQLStore) scanParent(row *sql.Row) (*ParentOrder, error) {
	var p ParentOrder
	err := row.Scan(&p.ID, &p.Ticker, &p.Shares, &p.Type, &p.Amount, &p.Username,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read parent order: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) lockParent(ctx context.Context, tx *sql.Tx, id int64) (*ParentOrder, error) {
	return s.scanParent(s.queryRow(ctx, tx, selectParent+" WHERE porderid = ?"+s.d.forUpdate, id))
}

const selectChild = `SELECT c.corderid, c.porderid, p.ticker, p.username, c.order_type, c.price, c.shares,
	c.status, c.tradeid, c.created_at, c.updated_at
	FROM child_order c JOIN parent_order p ON p.porderid = c.porderid`

func scanChild(scan func(dest ...any) error) (*ChildOrder, error) {
	var (
		c       ChildOrder
		tradeID sql.NullInt64
	)
	err := scan(&c.ID, &c.ParentOrderID, &c.Ticker, &c.Username, &c.Type, &c.Price, &c.Shares,
		&c.Status, &tradeID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tradeID.Valid {
		c.TradeID = &tradeID.Int64
	}
	return &c, nil
}

func (s *SQLStore) lockChild(ctx context.Context, tx *sql.Tx, id int64) (*ChildOrder, error) {
	c, err := scanChild(s.queryRow(ctx, tx, selectChild+" WHERE c.corderid = ?"+s.d.forUpdate, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read child order: %w", err)
	}
	return c, nil
}

func (s *SQLStore) children(ctx context.Context, q querier, parentID int64) ([]ChildOrder, error) {
	rows, err := s.query(ctx, q, selectChild+" WHERE c.porderid = ? ORDER BY c.corderid", parentID)
	if err != nil {
		return nil, fmt.Errorf("list child orders: %w", err)
	}
	defer rows.Close()

	children := []ChildOrder{}
	for rows.Next() {
		c, err := scanChild(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan child order: %w", err)
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}
