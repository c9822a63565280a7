package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gymkaana/internal/config"
	"gymkaana/internal/models"

	"github.com/redis/go-redis/v9"
)

var errNilClient = errors.New("redis client is nil")

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisAttemptRepository counts lookup attempts in fixed windows shared by
// every API instance.
type RedisAttemptRepository struct {
	client *redis.Client
}

func NewRedisAttemptRepository(client *redis.Client) *RedisAttemptRepository {
	return &RedisAttemptRepository{client: client}
}

func (r *RedisAttemptRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	redisKey := "lookup_attempts:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment attempts: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set attempts window: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// RedisActivityCache holds the last fetched activity window for the console so
// several screens at one venue share a single upstream call.
type RedisActivityCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisActivityCache(client *redis.Client, venueID string, ttl time.Duration) *RedisActivityCache {
	key := "activity"
	if venueID != "" {
		key += ":" + venueID
	}
	return &RedisActivityCache{client: client, key: key, ttl: ttl}
}

// Get returns the cached entries. A miss is (nil, false, nil).
func (c *RedisActivityCache) Get(ctx context.Context, limit int) ([]models.AuditEntry, bool, error) {
	if c.client == nil {
		return nil, false, errNilClient
	}
	val, err := c.client.Get(ctx, c.limitKey(limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read activity cache: %w", err)
	}

	var entries []models.AuditEntry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal activity cache: %w", err)
	}
	return entries, true, nil
}

func (c *RedisActivityCache) Set(ctx context.Context, limit int, entries []models.AuditEntry) error {
	if c.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	if err := c.client.Set(ctx, c.limitKey(limit), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write activity cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached window for the venue.
func (c *RedisActivityCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return errNilClient
	}
	iter := c.client.Scan(ctx, 0, c.key+":limit:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan activity cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate activity cache: %w", err)
	}
	return nil
}

func (c *RedisActivityCache) limitKey(limit int) string {
	return fmt.Sprintf("%s:limit:%d", c.key, limit)
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
