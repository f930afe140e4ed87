package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Service is a thin JSON cache over redis. A nil *Service is a valid no-op
// cache, so callers never need to branch on whether caching is enabled.
type Service struct {
	client *redis.Client
	logger *zap.Logger
}

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewService connects to redis and verifies the connection.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB),
	)

	return &Service{client: client, logger: logger}, nil
}

// Get unmarshals the cached value for key into dest. A miss (or nil service)
// returns (false, nil).
func (c *Service) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		c.logger.Warn("cache unmarshal failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores value under key with a TTL. Errors are logged, not surfaced;
// the cache is best-effort.
func (c *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Close releases the redis connection.
func (c *Service) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
