package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("store")

var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on top of database/sql for postgres, mysql
// and sqlite.
type SQLStore struct {
	db *sql.DB
	d  dialect
	// now is replaceable in tests.
	now func() time.Time
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driverName, d.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return &SQLStore{db: db, d: d, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Driver returns the name of the backend in use.
func (s *SQLStore) Driver() string { return s.d.name }

// Migrate creates the schema if it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the connection and that the schema is in place.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM parent_order LIMIT 1").Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("database schema is incomplete: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// insert runs an INSERT and returns the generated key.
func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, idColumn, query string, args ...any) (int64, error) {
	if s.d.returning {
		var id int64
		err := s.queryRow(ctx, tx, query+" RETURNING "+idColumn, args...).Scan(&id)
		return id, err
	}
	res, err := s.exec(ctx, tx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", s.d.name),
		attribute.String("db.operation", op),
	)
	return dbTracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// lockBalance reads a user's balance, locking the row where the backend
// supports it.
func (s *SQLStore) lockBalance(ctx context.Context, tx *sql.Tx, username string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.queryRow(ctx, tx,
		"SELECT account_balance FROM app_user WHERE username = ?"+s.d.forUpdate, username).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (s *SQLStore) setBalance(ctx context.Context, tx *sql.Tx, username string, balance decimal.Decimal) error {
	if _, err := s.exec(ctx, tx,
		"UPDATE app_user SET account_balance = ? WHERE username = ?", balance.Round(2), username); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

// lockAsset returns the asset row id and share count for a holding, or
// zero values when the user does not hold the ticker.
func (s *SQLStore) lockAsset(ctx context.Context, tx *sql.Tx, username, ticker string) (int64, int64, error) {
	var id, shares int64
	err := s.queryRow(ctx, tx,
		"SELECT assetid, shares FROM asset WHERE username = ? AND ticker = ?"+s.d.forUpdate,
		username, ticker).Scan(&id, &shares)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read asset: %w", err)
	}
	return id, shares, nil
}

// adjustAsset adds delta shares to a holding, creating or deleting the row
// as needed.
func (s *SQLStore) adjustAsset(ctx context.Context, tx *sql.Tx, username, ticker string, delta int64) error {
	id, shares, err := s.lockAsset(ctx, tx, username, ticker)
	if err != nil {
		return err
	}
	next := shares + delta
	switch {
	case next < 0:
		return ErrInsufficientShares
	case id == 0 && next > 0:
		_, err = s.insert(ctx, tx, "assetid",
			"INSERT INTO asset (username, ticker, shares) VALUES (?, ?, ?)", username, ticker, next)
	case id != 0 && next == 0:
		_, err = s.exec(ctx, tx, "DELETE FROM asset WHERE assetid = ?", id)
	case id != 0:
		_, err = s.exec(ctx, tx, "UPDATE asset SET shares = ? WHERE assetid = ?", next, id)
	}
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}
