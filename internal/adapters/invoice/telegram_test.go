package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
)

type botStub struct {
	endpoint string
	params   tgbotapi.Params
	result   string
	err      error
}

func (b *botStub) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	b.endpoint = endpoint
	b.params = params
	if b.err != nil {
		return nil, b.err
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(b.result)}, nil
}

func TestCreateInvoice(t *testing.T) {
	bot := &botStub{result: `"https://t.me/$inv"`}
	issuer := NewIssuer(bot)
	issuer.now = func() time.Time { return time.UnixMilli(1_760_000_000_000) }

	inv, err := issuer.CreateInvoice(context.Background(), domain.ProductFullReading, 42)
	require.NoError(t, err)
	assert.Equal(t, "createInvoiceLink", bot.endpoint)
	assert.Equal(t, "https://t.me/$inv", inv.URL)
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, int64(50), inv.Price.Amount)
	assert.Equal(t, "XTR", bot.params["currency"])
	assert.Equal(t, "full_reading_42_1760000000000", bot.params["payload"])
	assert.True(t, strings.Contains(bot.params["prices"], `"amount":50`))
	assert.Equal(t, "Full Dream Reading", bot.params["title"])
	assert.LessOrEqual(t, len([]rune(bot.params["description"])), 255)
}

func TestCreateInvoiceErrors(t *testing.T) {
	issuer := NewIssuer(&botStub{err: errors.New("tg down")})
	_, err := issuer.CreateInvoice(context.Background(), domain.ProductSoulReport, 1)
	assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
	assert.True(t, domain.IsRetryable(err))

	_, err = issuer.CreateInvoice(context.Background(), domain.Product("gift"), 1)
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)
}
