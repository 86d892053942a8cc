package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// ErrMiss ключ не найден.
var ErrMiss = errors.New("cache: miss")

// RedisCache реализует domain.Cache и domain.RateWindow через Redis.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

var (
	_ domain.Cache      = (*RedisCache)(nil)
	_ domain.RateWindow = (*RedisCache)(nil)
)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке функции ключ снимается.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, err := c.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return err
	}
	return nil
}

// Acquire ставит ключ, если его нет. false означает, что ключ уже занят.
func (c *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "cache", start, err)
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", "cache", start, err)
	return err
}

// Get возвращает значение или ErrMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "cache", start, nil)
		return nil, ErrMiss
	}
	metrics.ObserveNetworkRequest("redis", "get", "cache", start, err)
	return val, err
}

// hitScript чистит окно, считает попытки и добавляет новую одной операцией.
var hitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Hit учитывает попытку в скользящем окне. false означает, что лимит исчерпан и попытка не записана.
func (c *RedisCache) Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := c.now()
	floor := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	score := strconv.FormatInt(now.UnixNano(), 10)

	start := time.Now()
	admitted, err := hitScript.Run(ctx, c.client, []string{key},
		floor, limit, score, uuid.NewString(), window.Milliseconds()).Int()
	metrics.ObserveNetworkRequest("redis", "zwindow_hit", "rate_window", start, err)
	if err != nil {
		return false, fmt.Errorf("redis window hit: %w", err)
	}
	return admitted == 1, nil
}
