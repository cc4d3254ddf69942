package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get and GetString when the key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Redis wraps a go-redis client with JSON serialization and the small set
// of primitives the notification and translation pipelines need: TTL'd
// values, counters, SETNX locks, and per-user pub/sub fan-out.
type Redis struct {
	client *redis.Client
}

// New connects to Redis using a connection URL
// (redis://[:password@]host:port[/db]) and instruments the client with
// OpenTelemetry tracing.
func New(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	client.AddHook(redisotel.NewTracingHook())

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewFromClient wraps an existing client. Tests use this with miniredis.
func NewFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Set stores value as JSON under key with the given TTL. A zero TTL means
// no expiry.
func (r *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	return nil
}

// Get unmarshals the JSON value stored under key into dest. Returns ErrMiss
// when the key does not exist.
func (r *Redis) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}

	return nil
}

// SetString stores a raw string value.
func (r *Redis) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// GetString retrieves a raw string value. Returns ErrMiss when absent.
func (r *Redis) GetString(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Delete removes one or more keys.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}

// SetNX sets key only if it is absent. Used for processing locks.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock deletes key only if it still holds value, so a lock that
// expired and was re-acquired by another worker is left alone.
func (r *Redis) ReleaseLock(ctx context.Context, key, value string) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	if _, err := script.Run(ctx, r.client, []string{key}, value).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	return nil
}

// Increment bumps a counter, applying ttl when the counter is created.
func (r *Redis) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}

	if n == 1 && ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("failed to set expiry on key %s: %w", key, err)
		}
	}

	return n, nil
}

// Publish sends payload as JSON on a pub/sub channel. The in-app sender
// uses per-user channels for realtime fan-out.
func (r *Redis) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for channel %s: %w", channel, err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}

	return nil
}

// DeletePattern removes keys matching a glob pattern. Returns the number of
// keys deleted.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list keys for pattern %s: %w", pattern, err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys for pattern %s: %w", pattern, err)
	}

	return deleted, nil
}

// Health verifies Redis connectivity.
func (r *Redis) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

// Client exposes the underlying go-redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
