package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stock-trading-backend/store"
	"stock-trading-backend/telemetry"
)

// Store wraps a store.Store with a read-through balance cache. Every call
// that can change a balance writes the committed value once it succeeds.
type Store struct {
	store.Store
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

func NewStore(next store.Store, backend Backend, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{Store: next, backend: backend, ttl: ttl, logger: logger}
}

func balanceKey(username string) string { return "balance:" + username }

func (s *Store) GetBalance(ctx context.Context, username string) (decimal.Decimal, error) {
	key := balanceKey(username)
	v, err := s.backend.Get(ctx, key)
	switch {
	case err == nil:
		if bal, perr := decimal.NewFromString(v); perr == nil {
			telemetry.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return bal, nil
		}
		telemetry.CacheRequestsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, ErrMiss):
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		telemetry.CacheRequestsTotal.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "balance cache read failed", "username", username, "error", err)
	}

	bal, err := s.Store.GetBalance(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.backend.Set(ctx, key, bal.String(), s.ttl); err != nil {
		s.logger.WarnContext(ctx, "balance cache write failed", "username", username, "error", err)
	}
	return bal, nil
}

func (s *Store) UpdateBalance(ctx context.Context, username string, balance decimal.Decimal) error {
	if err := s.Store.UpdateBalance(ctx, username, balance); err != nil {
		return err
	}
	s.refresh(ctx, username, balance.Round(2))
	return nil
}

func (s *Store) CompleteChildOrder(ctx context.Context, id int64) (*store.ChildCompletion, error) {
	res, err := s.Store.CompleteChildOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, res.Child.Username, res.Balance)
	return res, nil
}

func (s *Store) FillParentOrder(ctx context.Context, o store.NewChildOrder) (*store.ChildCompletion, error) {
	res, err := s.Store.FillParentOrder(ctx, o)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, res.Child.Username, res.Balance)
	return res, nil
}

// refresh writes the committed balance over whatever is cached. If the
// write fails the key is dropped so the next read goes to the database.
func (s *Store) refresh(ctx context.Context, username string, balance decimal.Decimal) {
	key := balanceKey(username)
	err := s.backend.Set(ctx, key, balance.String(), s.ttl)
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "balance cache write failed", "username", username, "error", err)
	if err := s.backend.Del(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "balance cache invalidation failed", "username", username, "error", err)
	}
}
