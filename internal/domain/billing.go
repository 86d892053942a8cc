package domain

import (
	"fmt"
	"strings"
	"time"
)

// CurrencyStars валюта Telegram Stars.
const CurrencyStars = "XTR"

// Money описывает сумму в минимальных единицах валюты.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Product платный продукт мини-приложения.
type Product string

const (
	ProductFullReading     Product = "full_reading"
	ProductDreamVisualizer Product = "dream_visualizer"
	ProductSoulReport      Product = "soul_report"
)

// ProductInfo описание продукта для счёта.
type ProductInfo struct {
	Product     Product
	Title       string
	Description string
	Price       Money
}

var products = map[Product]ProductInfo{
	ProductFullReading: {
		Product:     ProductFullReading,
		Title:       "Full Dream Reading",
		Description: "Unlock complete dream interpretation",
		Price:       Money{Amount: 50, Currency: CurrencyStars},
	},
	ProductDreamVisualizer: {
		Product:     ProductDreamVisualizer,
		Title:       "Dream Visualizer",
		Description: "Transform your dream into AI art",
		Price:       Money{Amount: 150, Currency: CurrencyStars},
	},
	ProductSoulReport: {
		Product:     ProductSoulReport,
		Title:       "Soul Message Report",
		Description: "Detailed 7-day spiritual guidance report",
		Price:       Money{Amount: 300, Currency: CurrencyStars},
	},
}

// LookupProduct возвращает описание продукта.
func LookupProduct(raw string) (ProductInfo, error) {
	info, ok := products[Product(strings.TrimSpace(raw))]
	if !ok {
		return ProductInfo{}, fmt.Errorf("%w: %q", ErrUnknownProduct, raw)
	}
	return info, nil
}

const invoicePayloadMax = 128

// InvoicePayload собирает payload счёта вида product_viewer_millis.
func InvoicePayload(product Product, viewerID int64, at time.Time) string {
	payload := fmt.Sprintf("%s_%d_%d", product, viewerID, at.UnixMilli())
	if len(payload) > invoicePayloadMax {
		payload = payload[:invoicePayloadMax]
	}
	return payload
}

// ParseInvoicePayload разбирает payload обратно. Ошибка, если формат чужой.
func ParseInvoicePayload(payload string) (Product, int64, error) {
	for p := range products {
		prefix := string(p) + "_"
		if !strings.HasPrefix(payload, prefix) {
			continue
		}
		rest := strings.TrimPrefix(payload, prefix)
		idPart, _, _ := strings.Cut(rest, "_")
		var viewerID int64
		if _, err := fmt.Sscanf(idPart, "%d", &viewerID); err != nil {
			return "", 0, fmt.Errorf("payload %q: %w", payload, err)
		}
		return p, viewerID, nil
	}
	return "", 0, fmt.Errorf("%w: payload %q", ErrUnknownProduct, payload)
}

// PaymentStatus статус, который возвращает платёжная форма Telegram.
type PaymentStatus string

const (
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentUnknown   PaymentStatus = "unknown"
)

// ParsePaymentStatus нормализует статус, незнакомые значения считаются unknown.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch s := PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case PaymentPaid, PaymentFailed, PaymentCancelled:
		return s
	default:
		return PaymentUnknown
	}
}

// Invoice выставленный счёт.
type Invoice struct {
	ID       string  `json:"id"`
	Product  Product `json:"product"`
	ViewerID int64   `json:"viewer_id"`
	URL      string  `json:"invoice_url"`
	Price    Money   `json:"price"`
}

// Purchase подтверждённая покупка.
type Purchase struct {
	ID               int64     `json:"id"`
	ViewerID         int64     `json:"viewer_id"`
	Product          Product   `json:"product"`
	Amount           Money     `json:"amount"`
	Payload          string    `json:"payload"`
	TelegramChargeID string    `json:"telegram_charge_id"`
	CreatedAt        time.Time `json:"created_at"`
}
