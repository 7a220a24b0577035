package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

func (s *SQLStore) CreateUser(ctx context.Context, username string, initialBalance decimal.Decimal) (user *User, err error) {
	ctx, span := s.startSpan(ctx, "create_user", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	balance := initialBalance.Round(2)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := s.queryRow(ctx, tx, "SELECT 1 FROM app_user WHERE username = ?", username).Scan(&exists)
		if err == nil {
			return ErrUserExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check user: %w", err)
		}
		if _, err := s.exec(ctx, tx,
			"INSERT INTO app_user (username, account_balance, created_at) VALUES (?, ?, ?)",
			username, balance, s.now()); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &User{Username: username, AccountBalance: balance}, nil
}

func (s *SQLStore) GetUser(ctx context.Context, username string) (user *User, err error) {
	ctx, span := s.startSpan(ctx, "get_user", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	var u User
	err = s.queryRow(ctx, s.db,
		"SELECT username, account_balance FROM app_user WHERE username = ?", username).
		Scan(&u.Username, &u.AccountBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) (users []User, err error) {
	ctx, span := s.startSpan(ctx, "list_users")
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, s.db, "SELECT username, account_balance FROM app_user ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users = []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.AccountBalance); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	span.SetAttributes(attribute.Int("result.count", len(users)))
	return users, rows.Err()
}

func (s *SQLStore) GetBalance(ctx context.Context, username string) (decimal.Decimal, error) {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	return u.AccountBalance, nil
}

func (s *SQLStore) UpdateBalance(ctx context.Context, username string, balance decimal.Decimal) (err error) {
	ctx, span := s.startSpan(ctx, "update_user_balance", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	res, err := s.exec(ctx, s.db,
		"UPDATE app_user SET account_balance = ? WHERE username = ?", balance.Round(2), username)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLStore) GetPortfolio(ctx context.Context, username string) (p *Portfolio, err error) {
	u, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "get_user_account_info", attribute.String("username", username))
	defer func() { endSpan(span, err) }()

	p = &Portfolio{
		UserSummary: UserSummary{
			Username:       u.Username,
			AccountBalance: u.AccountBalance,
			Holdings:       []Holding{},
		},
		AssetDetails: []Asset{},
	}

	rows, err := s.query(ctx, s.db,
		"SELECT assetid, ticker, shares FROM asset WHERE username = ? ORDER BY ticker", username)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.AssetID, &a.Ticker, &a.Shares); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		p.AssetDetails = append(p.AssetDetails, a)
		p.UserSummary.Holdings = append(p.UserSummary.Holdings, Holding{Ticker: a.Ticker, Shares: a.Shares})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.queryRow(ctx, s.db,
		"SELECT COUNT(*) FROM parent_order WHERE username = ? AND total_status = ?",
		username, string(StatusPending)).Scan(&p.UserSummary.OpenOrders)
	if err != nil {
		return nil, fmt.Errorf("count open orders: %w", err)
	}
	return p, nil
}
