package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// RecordPurchase сохраняет покупку. Повтор с тем же telegram_charge_id возвращает существующую запись и false.
func (p *Postgres) RecordPurchase(ctx context.Context, purchase domain.Purchase) (domain.Purchase, bool, error) {
	if purchase.TelegramChargeID == "" {
		return domain.Purchase{}, false, fmt.Errorf("telegram charge id is required")
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO purchases (tg_user_id, product, amount, currency, payload, telegram_charge_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (telegram_charge_id) DO NOTHING
RETURNING id, created_at
`, purchase.ViewerID, string(purchase.Product), purchase.Amount.Amount, purchase.Amount.Currency, purchase.Payload, purchase.TelegramChargeID, purchase.CreatedAt)
	err := row.Scan(&purchase.ID, &purchase.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "purchases_insert", "purchases", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := p.purchaseByCharge(ctx, purchase.TelegramChargeID)
		return existing, false, getErr
	}
	if err != nil {
		return domain.Purchase{}, false, err
	}

	viewerID := purchase.ViewerID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventPurchaseRecorded,
		UserID: &viewerID,
		Metadata: map[string]any{
			"product":  string(purchase.Product),
			"amount":   purchase.Amount.Amount,
			"currency": purchase.Amount.Currency,
		},
	})
	return purchase, true, nil
}

// HasPurchase сообщает, была ли покупка продукта после since.
func (p *Postgres) HasPurchase(ctx context.Context, tgUserID int64, product domain.Product, since time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM purchases WHERE tg_user_id=$1 AND product=$2 AND created_at >= $3)
`, tgUserID, string(product), since).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "purchases_exists", "purchases", start, err)
	return exists, err
}

func (p *Postgres) purchaseByCharge(ctx context.Context, chargeID string) (domain.Purchase, error) {
	var (
		purchase domain.Purchase
		product  string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tg_user_id, product, amount, currency, payload, telegram_charge_id, created_at
FROM purchases WHERE telegram_charge_id=$1
`, chargeID).Scan(&purchase.ID, &purchase.ViewerID, &product, &purchase.Amount.Amount, &purchase.Amount.Currency, &purchase.Payload, &purchase.TelegramChargeID, &purchase.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "purchases_get_by_charge", "purchases", start, err)
	if err != nil {
		return domain.Purchase{}, err
	}
	purchase.Product = domain.Product(product)
	return purchase, nil
}
