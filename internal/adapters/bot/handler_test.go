package bot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
)

type senderStub struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (s *senderStub) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (s *senderStub) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, c)
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage("true")}, nil
}

type referralStub struct {
	calls []string
	err   error
}

func (r *referralStub) ApplyReferral(_ context.Context, viewerID int64, code string) (domain.ReferralOutcome, error) {
	r.calls = append(r.calls, code)
	if r.err != nil {
		return domain.ReferralOutcome{}, r.err
	}
	return domain.ReferralOutcome{Success: true, ReferralCount: 1}, nil
}

type queueStub struct {
	events []domain.PaymentEvent
}

func (q *queueStub) Enqueue(_ context.Context, e domain.PaymentEvent) error {
	q.events = append(q.events, e)
	return nil
}

func (q *queueStub) Receive(context.Context) (domain.PaymentEvent, domain.AckFunc, error) {
	return domain.PaymentEvent{}, nil, errors.New("not used")
}

func message(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: 500},
		From: &tgbotapi.User{ID: 42},
	}
}

func markupURL(t *testing.T, msg tgbotapi.MessageConfig) string {
	t.Helper()
	kb, ok := msg.ReplyMarkup.(*webAppKeyboard)
	require.True(t, ok, "ожидали кнопку web_app")
	return kb.InlineKeyboard[0][0].WebApp.URL
}

func TestStartWithReferral(t *testing.T) {
	bot := &senderStub{}
	refs := &referralStub{}
	h := NewHandler(bot, zerolog.Nop(), refs, nil, "https://oneiro.app/")

	h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("/start ONEIRO-7")})
	assert.Equal(t, []string{"ONEIRO-7"}, refs.calls)
	require.Len(t, bot.sent, 2)
	assert.Equal(t, referralOKText, bot.sent[0].Text)
	assert.Equal(t, welcomeText, bot.sent[1].Text)
	assert.Equal(t, "https://oneiro.app", markupURL(t, bot.sent[1]))
}

func TestStartAlwaysPresentsLaunchLink(t *testing.T) {
	cases := map[string]struct {
		text string
		err  error
		want int
	}{
		"no code":        {text: "/start", want: 0},
		"foreign code":   {text: "/start promo", want: 0},
		"referral fails": {text: "/start ONEIRO-7", err: errors.New("down"), want: 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			bot := &senderStub{}
			refs := &referralStub{err: tc.err}
			h := NewHandler(bot, zerolog.Nop(), refs, nil, "https://oneiro.app")
			h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message(tc.text)})
			assert.Len(t, refs.calls, tc.want)
			require.Len(t, bot.sent, 1)
			assert.Equal(t, welcomeText, bot.sent[0].Text)
		})
	}
}

func TestDreamCommandLinksToDreamPage(t *testing.T) {
	bot := &senderStub{}
	h := NewHandler(bot, zerolog.Nop(), nil, nil, "https://oneiro.app")
	h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("/dream")})
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "https://oneiro.app/dream", markupURL(t, bot.sent[0]))
}

func TestPreCheckoutIsApproved(t *testing.T) {
	bot := &senderStub{}
	h := NewHandler(bot, zerolog.Nop(), nil, nil, "https://oneiro.app")
	h.HandleUpdate(context.Background(), tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{ID: "q1", Currency: "XTR"}})
	require.Len(t, bot.requests, 1)
	cfg, ok := bot.requests[0].(tgbotapi.PreCheckoutConfig)
	require.True(t, ok)
	assert.Equal(t, "q1", cfg.PreCheckoutQueryID)
	assert.True(t, cfg.OK)
}

func TestSuccessfulPaymentIsQueued(t *testing.T) {
	bot := &senderStub{}
	q := &queueStub{}
	h := NewHandler(bot, zerolog.Nop(), nil, q, "https://oneiro.app")
	h.now = func() time.Time { return time.Unix(1_760_000_000, 0) }

	msg := message("")
	msg.SuccessfulPayment = &tgbotapi.SuccessfulPayment{
		Currency:                "XTR",
		TotalAmount:             150,
		InvoicePayload:          domain.InvoicePayload(domain.ProductDreamVisualizer, 42, time.Unix(1_760_000_000, 0)),
		TelegramPaymentChargeID: "tg-charge-1",
	}
	h.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	require.Len(t, q.events, 1)
	e := q.events[0]
	assert.Equal(t, domain.ProductDreamVisualizer, e.Product)
	assert.Equal(t, int64(42), e.ViewerID)
	assert.Equal(t, int64(150), e.Amount)
	assert.Equal(t, "tg-charge-1", e.TelegramChargeID)
	assert.NotEmpty(t, e.ID)
	require.Len(t, bot.sent, 1)
	assert.Equal(t, paymentOKText, bot.sent[0].Text)
}
