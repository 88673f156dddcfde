package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides the Redis connection and the small set of
// operations the rest of the app needs. Redis is optional: when REDIS_URL
// is unset the service is never constructed and callers carry a nil.
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

var (
	redisInstance *RedisService
	redisOnce     sync.Once
)

// NewRedisService creates a new Redis service instance
func NewRedisService(redisURL string) (*RedisService, error) {
	var initErr error

	redisOnce.Do(func() {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			initErr = fmt.Errorf("failed to parse Redis URL: %w", err)
			return
		}

		// Configure connection pool
		opts.PoolSize = 10
		opts.MinIdleConns = 2
		opts.MaxRetries = 3
		opts.DialTimeout = 5 * time.Second
		opts.ReadTimeout = 3 * time.Second
		opts.WriteTimeout = 3 * time.Second

		client := redis.NewClient(opts)

		// Test connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			initErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}

		redisInstance = &RedisService{
			client: client,
		}

		log.Println("✅ Redis connection established")
	})

	if initErr != nil {
		return nil, initErr
	}

	return redisInstance, nil
}

// GetRedisService returns the singleton Redis service instance
func GetRedisService() *RedisService {
	return redisInstance
}

// Client returns the underlying Redis client
func (r *RedisService) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish publishes a message to a channel
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to one or more channel patterns
func (r *RedisService) Subscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return r.client.PSubscribe(ctx, patterns...)
}

// RevokeToken marks a refresh token id as revoked until it would have
// expired anyway. Logout uses this so a stolen refresh token dies with the
// session.
func (r *RedisService) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, "revoked:"+tokenID, "1", ttl).Err()
}

// IsTokenRevoked reports whether a refresh token id has been revoked.
func (r *RedisService) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, "revoked:"+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CheckRateLimit counts a hit against key within a rolling window.
// Returns remaining requests and whether the limit was exceeded.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (remaining int64, exceeded bool, err error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}

	// Set expiry on first request
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	remaining = limit - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, count > limit, nil
}
