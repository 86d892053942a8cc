package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oneiro-bot/internal/adapters/telegram"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

const (
	welcomeText      = "🌙 Welcome to ONEIRO! Tell us your dream and discover what your soul is trying to say."
	dreamText        = "🌙 Share your dream with ONEIRO"
	referralOKText   = "🎁 Referral code applied! You and your friend both benefit."
	paymentOKText    = "✅ Payment successful! Your content has been unlocked."
	startButtonText  = "✨ Start Dream Interpretation"
	dreamButtonText  = "✨ Interpret My Dream"
	unknownReplyText = "Send /dream to share a new dream with ONEIRO."
)

// Handler обслуживает вебхук бота: запуск мини-приложения, рефералы и платежи Stars.
type Handler struct {
	bot        sender
	log        zerolog.Logger
	referrals  domain.ReferralService
	payments   domain.PaymentQueue
	miniAppURL string
	now        func() time.Time
}

// NewHandler создаёт обработчик. referrals и payments могут быть nil.
func NewHandler(bot sender, log zerolog.Logger, referrals domain.ReferralService, payments domain.PaymentQueue, miniAppURL string) *Handler {
	return &Handler{
		bot:        bot,
		log:        log.With().Str("component", "bot").Logger(),
		referrals:  referrals,
		payments:   payments,
		miniAppURL: strings.TrimSuffix(miniAppURL, "/"),
		now:        time.Now,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.PreCheckoutQuery != nil:
		h.handlePreCheckout(upd.PreCheckoutQuery)
	case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
		h.handleSuccessfulPayment(ctx, upd.Message)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/start")))
	case strings.HasPrefix(text, "/dream"):
		h.reply(msg.Chat.ID, dreamText, webAppMarkup(dreamButtonText, h.miniAppURL+"/dream"))
	default:
		h.reply(msg.Chat.ID, unknownReplyText, nil)
	}
}

// handleStart применяет реферальный код, если он есть. Ссылка на приложение отправляется всегда.
func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message, param string) {
	if code, ok := domain.ParseReferralCode(firstField(param)); ok && msg.From != nil && h.referrals != nil {
		out, err := h.referrals.ApplyReferral(ctx, msg.From.ID, code)
		switch {
		case err == nil && out.Success:
			h.reply(msg.Chat.ID, referralOKText, nil)
		case err != nil && !errors.Is(err, domain.ErrAlreadyReferred):
			h.log.Warn().Err(err).Int64("tg_user_id", msg.From.ID).Str("code", code).Msg("bot: реферальный код не применён")
		}
	}
	h.reply(msg.Chat.ID, welcomeText, webAppMarkup(startButtonText, h.miniAppURL))
}

func (h *Handler) handlePreCheckout(q *tgbotapi.PreCheckoutQuery) {
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true})
	metrics.ObserveNetworkRequest("telegram_bot", "answer_pre_checkout", q.Currency, start, err)
	if err != nil {
		h.log.Error().Err(err).Str("query_id", q.ID).Msg("bot: pre-checkout не подтверждён")
	}
}

func (h *Handler) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	payment := msg.SuccessfulPayment
	event := domain.PaymentEvent{
		ID:               uuid.NewString(),
		ChatID:           msg.Chat.ID,
		Amount:           int64(payment.TotalAmount),
		Currency:         payment.Currency,
		Payload:          payment.InvoicePayload,
		TelegramChargeID: payment.TelegramPaymentChargeID,
		ProviderChargeID: payment.ProviderPaymentChargeID,
		ReceivedAt:       h.now().UTC(),
	}
	if msg.From != nil {
		event.ViewerID = msg.From.ID
	}
	product, payloadViewer, err := domain.ParseInvoicePayload(payment.InvoicePayload)
	if err != nil {
		h.log.Warn().Err(err).Str("payload", payment.InvoicePayload).Msg("bot: неизвестный payload оплаты")
	} else {
		event.Product = product
		if event.ViewerID == 0 {
			event.ViewerID = payloadViewer
		}
	}
	metrics.IncPaymentOutcome("received")

	if h.payments != nil {
		if err := h.payments.Enqueue(ctx, event); err != nil {
			h.log.Error().Err(err).Str("event_id", event.ID).Str("charge_id", event.TelegramChargeID).Msg("bot: событие оплаты не поставлено в очередь")
		}
	}
	h.reply(msg.Chat.ID, paymentOKText, nil)
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type webAppInfo struct {
	URL string `json:"url"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

// webAppMarkup кнопка запуска мини-приложения. В tgbotapi v5.5.1 нет поля web_app, поэтому разметка своя.
func webAppMarkup(text, url string) *webAppKeyboard {
	return &webAppKeyboard{InlineKeyboard: [][]webAppButton{{{Text: text, WebApp: webAppInfo{URL: url}}}}}
}

func (h *Handler) reply(chatID int64, text string, keyboard *webAppKeyboard) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}
