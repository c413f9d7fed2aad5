package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server. GetDel maps to the native
// GETDEL command and Multi to a MULTI/EXEC pipeline.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis parses url, connects and pings the server.
func DialRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}

	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (r *Redis) GetDel(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("redis getdel: %w", err)
	}

	return v, true, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}

	return n > 0, nil
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if err := r.client.SAdd(ctx, key, toAny(members)...).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}

	return nil
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	out, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	return out, nil
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	if err := r.client.SRem(ctx, key, toAny(members)...).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}

	return nil
}

func (r *Redis) Multi() Tx {
	return &redisTx{pipe: r.client.TxPipeline()}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisTx struct {
	pipe redis.Pipeliner
}

func (t *redisTx) Set(key, value string, ttl time.Duration) {
	t.pipe.Set(context.Background(), key, value, ttl)
}

func (t *redisTx) Del(keys ...string) {
	t.pipe.Del(context.Background(), keys...)
}

func (t *redisTx) SAdd(key string, members ...string) {
	t.pipe.SAdd(context.Background(), key, toAny(members)...)
}

func (t *redisTx) SRem(key string, members ...string) {
	t.pipe.SRem(context.Background(), key, toAny(members)...)
}

func (t *redisTx) Exec(ctx context.Context) error {
	if t.pipe.Len() == 0 {
		return nil
	}

	if _, err := t.pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}

	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}

	return out
}
