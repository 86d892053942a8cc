package domain

import (
	"context"
	"time"
)

// PaymentEvent событие успешной оплаты, полученное ботом.
type PaymentEvent struct {
	ID               string    `json:"event_id"`
	ViewerID         int64     `json:"viewer_id"`
	ChatID           int64     `json:"chat_id"`
	Product          Product   `json:"product"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Payload          string    `json:"payload"`
	TelegramChargeID string    `json:"telegram_charge_id"`
	ProviderChargeID string    `json:"provider_charge_id,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// PaymentQueue описывает очередь событий оплаты.
type PaymentQueue interface {
	Enqueue(ctx context.Context, event PaymentEvent) error
	Receive(ctx context.Context) (PaymentEvent, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки события.
type AckFunc func(success bool) error
