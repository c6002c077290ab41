package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisPrefix is the Redis key prefix for token slots.
	RedisPrefix = "token:"
)

// Redis keeps the slot in a shared Redis instance so several headless
// listeners can run under one login.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration // 0 = no expiry
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(addr, key string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("tokenstore: redis connection failed: %w", err)
	}

	return NewRedisWithClient(client, key, ttl), nil
}

// NewRedisWithClient wraps an existing client. Close closes the client.
func NewRedisWithClient(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) redisKey() string {
	return RedisPrefix + r.key
}

func (r *Redis) Load(ctx context.Context) (string, error) {
	token, err := r.client.Get(ctx, r.redisKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore: load: %w", err)
	}
	return token, nil
}

func (r *Redis) Save(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.redisKey(), token, r.ttl).Err(); err != nil {
		return fmt.Errorf("tokenstore: save: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.redisKey()).Err(); err != nil {
		return fmt.Errorf("tokenstore: clear: %w", err)
	}
	return nil
}

func (r *Redis) Key() string { return r.key }

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
