package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"oneiro-bot/internal/adapters/telegram"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

type requester interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type labeledPrice struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// Issuer выпускает ссылки на оплату в Telegram Stars через createInvoiceLink.
type Issuer struct {
	bot requester
	now func() time.Time
}

var _ domain.InvoiceIssuer = (*Issuer)(nil)

// NewIssuer создаёт выпускатель счетов.
func NewIssuer(bot requester) *Issuer {
	return &Issuer{bot: bot, now: time.Now}
}

// CreateInvoice выпускает ссылку. Для Stars provider_token пустой.
func (i *Issuer) CreateInvoice(ctx context.Context, product domain.Product, viewerID int64) (domain.Invoice, error) {
	info, err := domain.LookupProduct(string(product))
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Invoice{}, err
	}

	payload := domain.InvoicePayload(info.Product, viewerID, i.now())
	params := tgbotapi.Params{}
	title := telegram.Fit(info.Title, telegram.InvoiceTitleLimit)
	params["title"] = title
	params["description"] = telegram.Fit(info.Description, telegram.InvoiceDescriptionLimit)
	params["payload"] = payload
	params["provider_token"] = ""
	params["currency"] = info.Price.Currency
	if err := params.AddInterface("prices", []labeledPrice{{Label: title, Amount: info.Price.Amount}}); err != nil {
		return domain.Invoice{}, fmt.Errorf("prices: %w", err)
	}

	start := time.Now()
	resp, err := i.bot.MakeRequest("createInvoiceLink", params)
	metrics.ObserveNetworkRequest("telegram", "create_invoice_link", string(info.Product), start, err)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("%w: createInvoiceLink: %v", domain.ErrCollaboratorFailure, err)
	}
	var link string
	if err := json.Unmarshal(resp.Result, &link); err != nil || link == "" {
		return domain.Invoice{}, fmt.Errorf("%w: createInvoiceLink: пустая ссылка", domain.ErrCollaboratorFailure)
	}
	return domain.Invoice{
		ID:       uuid.NewString(),
		Product:  info.Product,
		ViewerID: viewerID,
		URL:      link,
		Price:    info.Price,
	}, nil
}
