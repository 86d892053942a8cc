package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"oneiro-bot/internal/domain"
)

const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// Open выбирает реализацию очереди оплат по имени бэкенда. close освобождает соединение брокера.
func Open(backend string, client *redis.Client, amqpURL, name string) (q domain.PaymentQueue, closeFn func() error, err error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendRedis:
		if client == nil {
			return nil, nil, errors.New("queue: для бэкенда redis нужен REDIS_ADDR")
		}
		return NewRedisPaymentQueue(client, name), func() error { return nil }, nil
	case BackendRabbitMQ, "rabbit", "amqp":
		rq, err := NewRabbitPaymentQueue(amqpURL, name)
		if err != nil {
			return nil, nil, err
		}
		return rq, rq.Close, nil
	default:
		return nil, nil, fmt.Errorf("queue: неизвестный бэкенд %q", backend)
	}
}
