package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// RabbitPaymentQueue реализует очередь событий оплаты через AMQP.
type RabbitPaymentQueue struct {
	conn  *amqp.Connection
	queue string

	mu         sync.Mutex
	pubCh      *amqp.Channel
	consumeCh  *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ domain.PaymentQueue = (*RabbitPaymentQueue)(nil)

// NewRabbitPaymentQueue подключается к брокеру и объявляет durable очередь.
func NewRabbitPaymentQueue(amqpURL, queue string) (*RabbitPaymentQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitPaymentQueue{conn: conn, queue: queue, pubCh: ch}, nil
}

// Enqueue публикует событие в очередь.
func (q *RabbitPaymentQueue) Enqueue(ctx context.Context, event domain.PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Now()
	err = q.pubCh.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.ReceivedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (q *RabbitPaymentQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	q.consumeCh = ch
	q.deliveries = deliveries
	return deliveries, nil
}

// Receive ждёт следующее событие. Битые сообщения отбрасываются без повторной доставки.
func (q *RabbitPaymentQueue) Receive(ctx context.Context) (domain.PaymentEvent, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.PaymentEvent{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.PaymentEvent{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.PaymentEvent{}, nil, errors.New("amqp: delivery channel closed")
			}
			metrics.ObserveNetworkRequest("rabbitmq", "consume", q.queue, time.Now(), nil)
			var event domain.PaymentEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				_ = d.Nack(false, false)
				return domain.PaymentEvent{}, nil, fmt.Errorf("decode event: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return event, ack, nil
		}
	}
}

// Close закрывает каналы и соединение.
func (q *RabbitPaymentQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumeCh != nil {
		_ = q.consumeCh.Close()
	}
	if q.pubCh != nil {
		_ = q.pubCh.Close()
	}
	return q.conn.Close()
}
