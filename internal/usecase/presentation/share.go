package presentation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/infra/metrics"
)

// ShareMethod способ, которым текст дошёл до пользователя.
type ShareMethod string

const (
	ShareLink      ShareMethod = "link"
	ShareClipboard ShareMethod = "clipboard"
	ShareDisplay   ShareMethod = "display"
)

// ErrUnsupported хост не умеет выполнить действие.
var ErrUnsupported = errors.New("host capability unsupported")

// Host возможности клиента, через которые можно поделиться.
type Host interface {
	OpenLink(ctx context.Context, link string) error
	CopyToClipboard(ctx context.Context, text string) error
}

// CapabilityHost хост, заявивший свои возможности флагами. Само действие выполняет клиент.
type CapabilityHost struct {
	CanOpenLink bool
	CanCopy     bool
}

// OpenLink сообщает, может ли клиент открыть ссылку.
func (h CapabilityHost) OpenLink(context.Context, string) error {
	if !h.CanOpenLink {
		return ErrUnsupported
	}
	return nil
}

// CopyToClipboard сообщает, может ли клиент скопировать текст.
func (h CapabilityHost) CopyToClipboard(context.Context, string) error {
	if !h.CanCopy {
		return ErrUnsupported
	}
	return nil
}

// ShareOutcome итог попытки поделиться. Text заполнен всегда.
type ShareOutcome struct {
	Method ShareMethod `json:"method"`
	URL    string      `json:"url,omitempty"`
	Text   string      `json:"text"`
}

// ShareURL ссылка на окно «поделиться» Telegram.
func ShareURL(text string) string {
	return "https://t.me/share/url?url=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

// Sharer готовит текст и пробует способы по очереди.
type Sharer struct {
	botLink string
	log     zerolog.Logger
}

// NewSharer создаёт сервис для бота botName.
func NewSharer(botName string, logger zerolog.Logger) *Sharer {
	return &Sharer{
		botLink: "https://t.me/" + botName,
		log:     logger.With().Str("component", "share").Logger(),
	}
}

// Text текст для публикации: скрытый смысл, либо суть, если смысла нет.
func (s *Sharer) Text(hiddenMeaning, essence string) string {
	message := hiddenMeaning
	if message == "" {
		message = essence
	}
	return fmt.Sprintf("🔮 My dream holds a secret message... Check your own destiny with AI Dream Guide ONEIRO! 🌙\n\n%s\n\nDiscover what your dreams are telling you: %s", message, s.botLink)
}

// Share пробует открыть ссылку, затем скопировать текст, затем просто показать его.
func (s *Sharer) Share(ctx context.Context, text string, host Host) ShareOutcome {
	link := ShareURL(text)
	if err := host.OpenLink(ctx, link); err == nil {
		metrics.IncShare(string(ShareLink))
		return ShareOutcome{Method: ShareLink, URL: link, Text: text}
	} else if !errors.Is(err, ErrUnsupported) {
		s.log.Debug().Err(err).Msg("share: ссылка не открылась")
	}
	if err := host.CopyToClipboard(ctx, text); err == nil {
		metrics.IncShare(string(ShareClipboard))
		return ShareOutcome{Method: ShareClipboard, Text: text}
	} else if !errors.Is(err, ErrUnsupported) {
		s.log.Debug().Err(err).Msg("share: копирование не удалось")
	}
	metrics.IncShare(string(ShareDisplay))
	return ShareOutcome{Method: ShareDisplay, Text: text}
}
