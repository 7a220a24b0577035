package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrMiss is returned by Backend.Get for absent keys.
var ErrMiss = errors.New("cache miss")

var tracer = otel.Tracer("cache")

// Backend is the key-value store behind the cache.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "redis."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", op),
		),
	)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	ctx, span := r.start(ctx, "GET")
	defer span.End()

	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		fail(span, err)
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := r.start(ctx, "SET")
	defer span.End()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		fail(span, err)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Del(ctx context.Context, keys ...string) error {
	ctx, span := r.start(ctx, "DEL")
	defer span.End()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		fail(span, err)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
