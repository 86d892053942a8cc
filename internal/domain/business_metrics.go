package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует первое появление пользователя.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventDreamInterpreted фиксирует сохранённое толкование.
	BusinessMetricEventDreamInterpreted = "dream_interpreted"
	// BusinessMetricEventReferralApplied фиксирует засчитанное приглашение.
	BusinessMetricEventReferralApplied = "referral_applied"
	// BusinessMetricEventCreditConsumed фиксирует списание бесплатного прочтения.
	BusinessMetricEventCreditConsumed = "credit_consumed"
	// BusinessMetricEventPurchaseRecorded фиксирует оплату Stars.
	BusinessMetricEventPurchaseRecorded = "purchase_recorded"
	// BusinessMetricEventJournalSaved фиксирует запись в дневник снов.
	BusinessMetricEventJournalSaved = "journal_saved"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
