package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// RedisPaymentQueue реализует очередь событий оплаты на базе Redis lists.
type RedisPaymentQueue struct {
	client *redis.Client
	key    string
}

var _ domain.PaymentQueue = (*RedisPaymentQueue)(nil)

// NewRedisPaymentQueue создаёт очередь по указанному ключу.
func NewRedisPaymentQueue(client *redis.Client, key string) *RedisPaymentQueue {
	return &RedisPaymentQueue{client: client, key: key}
}

// Enqueue публикует событие в очередь.
func (q *RedisPaymentQueue) Enqueue(ctx context.Context, event domain.PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие. Неуспешный ack возвращает событие в хвост очереди.
func (q *RedisPaymentQueue) Receive(ctx context.Context) (domain.PaymentEvent, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PaymentEvent{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PaymentEvent{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.PaymentEvent{}, nil, err
		}
		if len(res) != 2 {
			return domain.PaymentEvent{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := res[1]
		var event domain.PaymentEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return domain.PaymentEvent{}, nil, fmt.Errorf("decode event: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, raw).Err()
		}
		return event, ack, nil
	}
}
