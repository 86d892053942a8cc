package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// MaxDeliveryAttempts после стольких неудач событие подтверждается и пропускается.
const MaxDeliveryAttempts = 5

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetry
)

// Worker читает события оплаты из очереди и записывает покупки.
type Worker struct {
	queue     domain.PaymentQueue
	purchases domain.PurchaseRepo
	log       zerolog.Logger
	backoff   time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

// NewWorker создаёт обработчик очереди оплат.
func NewWorker(queue domain.PaymentQueue, purchases domain.PurchaseRepo, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:     queue,
		purchases: purchases,
		log:       logger.With().Str("component", "payments_worker").Logger(),
		backoff:   time.Second,
		attempts:  make(map[string]int),
	}
}

// Run обрабатывает очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	for {
		event, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("payments: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}
		w.process(ctx, event, ack)
	}
}

func (w *Worker) process(ctx context.Context, event domain.PaymentEvent, ack domain.AckFunc) {
	eventLog := w.log.With().
		Str("event_id", event.ID).
		Int64("tg_user_id", event.ViewerID).
		Str("product", string(event.Product)).
		Str("charge_id", event.TelegramChargeID).
		Logger()

	if event.TelegramChargeID == "" || event.Product == "" {
		eventLog.Error().Msg("payments: событие без charge id или продукта, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			eventLog.Error().Err(err).Msg("payments: не удалось подтвердить событие")
		}
		return
	}

	if w.handle(ctx, event, eventLog) == outcomeRetry {
		attempt := w.bumpAttempt(event.ID)
		if attempt < MaxDeliveryAttempts {
			eventLog.Warn().Int("attempt", attempt).Msg("payments: запись не удалась, повторим позже")
			if err := ack(false); err != nil {
				eventLog.Error().Err(err).Msg("payments: не удалось вернуть событие в очередь")
			}
			w.sleep(ctx)
			return
		}
		eventLog.Error().Int("attempt", attempt).Msg("payments: достигнут предел попыток, событие пропущено")
		metrics.IncPaymentOutcome("dropped")
	}
	w.forget(event.ID)
	if err := ack(true); err != nil {
		eventLog.Error().Err(err).Msg("payments: не удалось подтвердить событие")
	}
}

func (w *Worker) handle(ctx context.Context, event domain.PaymentEvent, eventLog zerolog.Logger) outcome {
	currency := event.Currency
	if currency == "" {
		currency = domain.CurrencyStars
	}
	purchase := domain.Purchase{
		ViewerID:         event.ViewerID,
		Product:          event.Product,
		Amount:           domain.Money{Amount: event.Amount, Currency: currency},
		Payload:          event.Payload,
		TelegramChargeID: event.TelegramChargeID,
		CreatedAt:        event.ReceivedAt,
	}
	recorded, created, err := w.purchases.RecordPurchase(ctx, purchase)
	if err != nil {
		eventLog.Error().Err(err).Msg("payments: не удалось записать покупку")
		return outcomeRetry
	}
	if !created {
		eventLog.Info().Int64("purchase_id", recorded.ID).Msg("payments: покупка уже записана")
		return outcomeCompleted
	}
	metrics.IncPaymentOutcome("recorded")
	eventLog.Info().Int64("purchase_id", recorded.ID).Int64("amount", recorded.Amount.Amount).Msg("payments: покупка записана")
	return outcomeCompleted
}

func (w *Worker) bumpAttempt(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[id]++
	return w.attempts[id]
}

func (w *Worker) forget(id string) {
	w.mu.Lock()
	delete(w.attempts, id)
	w.mu.Unlock()
}

func (w *Worker) sleep(ctx context.Context) {
	if w.backoff <= 0 {
		return
	}
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
