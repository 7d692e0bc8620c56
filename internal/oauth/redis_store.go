package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStateStore is a TTLStore backed by Redis. Expiry is delegated to
// Redis and Consume uses GETDEL, so concurrent consumers across replicas
// still observe single use.
type RedisStateStore[T any] struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisClient creates a client from cfg and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStateStore creates a store that keeps entries under
// "<keyPrefix><name>:<state>". The client is shared and not closed by Close.
func NewRedisStateStore[T any](client redis.UniversalClient, keyPrefix, name string, ttl time.Duration) *RedisStateStore[T] {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore[T]{
		client:    client,
		keyPrefix: keyPrefix + name + ":",
		ttl:       ttl,
	}
}

func (s *RedisStateStore[T]) key(state string) string {
	return s.keyPrefix + state
}

// Create stores value with a SET carrying the store TTL.
func (s *RedisStateStore[T]) Create(ctx context.Context, value T) (string, error) {
	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}

	err = s.client.SetArgs(ctx, s.key(state), data, redis.SetArgs{TTL: s.ttl}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to store entry: %w", err)
	}
	return state, nil
}

// Consume reads and deletes the entry in one GETDEL round trip.
func (s *RedisStateStore[T]) Consume(ctx context.Context, state string) (T, error) {
	var zero T

	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("failed to consume entry: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return value, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStateStore[T]) Close() error {
	return nil
}
