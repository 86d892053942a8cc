package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestCachesShareContract(t *testing.T) {
	rc, _ := newRedisCache(t)
	impls := map[string]domain.Cache{
		"redis":  rc,
		"memory": NewMemory(),
	}
	for name, c := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := c.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = c.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "второй Acquire должен вернуть false")

			calls := 0
			require.NoError(t, c.Once(ctx, "once", time.Minute, func() error { calls++; return nil }))
			require.NoError(t, c.Once(ctx, "once", time.Minute, func() error { calls++; return nil }))
			assert.Equal(t, 1, calls)

			boom := errors.New("boom")
			assert.ErrorIs(t, c.Once(ctx, "retry", time.Minute, func() error { return boom }), boom)
			require.NoError(t, c.Once(ctx, "retry", time.Minute, func() error { calls++; return nil }))
			assert.Equal(t, 2, calls, "после ошибки ключ должен сниматься")

			_, err = c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrMiss)
			require.NoError(t, c.Set(ctx, "v", []byte("42"), time.Minute))
			v, err := c.Get(ctx, "v")
			require.NoError(t, err)
			assert.Equal(t, "42", string(v))
		})
	}
}

func TestRateWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	rc, _ := newRedisCache(t)
	rc.now = clock
	impls := map[string]domain.RateWindow{
		"redis":  rc,
		"memory": NewMemory().WithClock(clock),
	}
	for name, w := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				ok, err := w.Hit(ctx, "img:1", 5, 24*time.Hour)
				require.NoError(t, err)
				assert.True(t, ok, "попытка %d должна пройти", i+1)
				now = now.Add(time.Minute)
			}
			ok, err := w.Hit(ctx, "img:1", 5, 24*time.Hour)
			require.NoError(t, err)
			assert.False(t, ok, "шестая попытка за сутки должна быть отклонена")

			now = now.Add(24 * time.Hour)
			ok, err = w.Hit(ctx, "img:1", 5, 24*time.Hour)
			require.NoError(t, err)
			assert.True(t, ok, "после сдвига окна лимит должен освободиться")
		})
	}
}

func TestRateWindowConcurrent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	rc, _ := newRedisCache(t)
	rc.now = clock
	impls := map[string]domain.RateWindow{
		"redis":  rc,
		"memory": NewMemory().WithClock(clock),
	}
	for name, w := range impls {
		t.Run(name, func(t *testing.T) {
			var (
				wg       sync.WaitGroup
				admitted atomic.Int32
			)
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := w.Hit(context.Background(), "img:burst", 5, 24*time.Hour)
					if assert.NoError(t, err) && ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(5), admitted.Load(), "одновременные попытки не должны превышать лимит")
		})
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = Connect(context.Background(), mr.Addr())
	assert.Error(t, err)
}
