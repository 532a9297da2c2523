package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ConfigFromEnv reads REDIS_* variables. An empty Addr means caching is disabled.
func ConfigFromEnv() Config {
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	ttl := 5 * time.Minute
	if v, err := time.ParseDuration(os.Getenv("REDIS_TTL")); err == nil && v > 0 {
		ttl = v
	}
	return Config{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      ttl,
	}
}

// Enabled reports whether a redis address was configured.
func (c Config) Enabled() bool { return c.Addr != "" }

// NewClient dials redis and pings it once.
func NewClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

// JSONCache stores values of type T as JSON under string keys.
// Cache failures are logged and treated as misses.
type JSONCache[T any] struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewJSONCache[T any](client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *JSONCache[T] {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &JSONCache[T]{client: client, ttl: ttl, logger: logger}
}

// Get returns (nil, false) on any miss or decode error.
func (c *JSONCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warnw("cache read failed", "key", key, "err", err)
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warnw("cache decode failed", "key", key, "err", err)
		return nil, false
	}
	return &v, true
}

func (c *JSONCache[T]) Set(ctx context.Context, key string, value *T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warnw("cache encode failed", "key", key, "err", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warnw("cache write failed", "key", key, "err", err)
	}
}

func (c *JSONCache[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warnw("cache delete failed", "key", key, "err", err)
	}
}
