package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/usecase/presentation"
)

const progressCacheTTL = 7 * 24 * time.Hour

// Intent текст и ссылка, которые клиент должен скопировать или открыть.
type Intent struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// Client клиентская часть реферальной программы.
type Client struct {
	ledger  domain.CreditLedger
	cache   domain.Cache
	botName string
	digits  func() int
	log     zerolog.Logger
}

// NewClient создаёт клиента. ledger и cache могут быть nil.
func NewClient(ledger domain.CreditLedger, cache domain.Cache, botName string, logger zerolog.Logger) *Client {
	return &Client{
		ledger:  ledger,
		cache:   cache,
		botName: botName,
		digits:  func() int { return rand.IntN(1_000_000) },
		log:     logger.With().Str("component", "referral").Logger(),
	}
}

// CodeFor выводит код пользователя. Гость получает случайный шестизначный суффикс,
// стабильность в пределах сессии обеспечивает вызывающий.
func (c *Client) CodeFor(viewer domain.Viewer) string {
	if !viewer.IsGuest() {
		return domain.ReferralCodeFor(viewer.ID)
	}
	return fmt.Sprintf("%s%06d", domain.ReferralCodePrefix, c.digits())
}

// Link ссылка на бота с кодом приглашения.
func (c *Client) Link(code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", c.botName, code)
}

// CopyIntent то, что нужно положить в буфер обмена.
func (c *Client) CopyIntent(code string) Intent {
	return Intent{Text: c.Link(code)}
}

// ShareIntent текст приглашения и ссылка на окно «поделиться».
func (c *Client) ShareIntent(code string) Intent {
	text := "🔮 Discover what your dreams are telling you! Use my referral code to unlock free dream interpretations: " + c.Link(code)
	return Intent{Text: text, URL: presentation.ShareURL(text)}
}

func progressKey(viewerID int64) string {
	return "referral:progress:" + strconv.FormatInt(viewerID, 10)
}

// Progress читает прогресс из реестра. При ошибке отдаёт последнее закэшированное
// значение или ноль. Гость всегда получает ноль.
func (c *Client) Progress(ctx context.Context, viewer domain.Viewer) domain.ReferralProgress {
	if viewer.IsGuest() || c.ledger == nil {
		return domain.ReferralProgress{}
	}
	progress, err := c.ledger.Progress(ctx, viewer.ID)
	if err == nil {
		c.remember(ctx, viewer.ID, progress)
		return progress
	}
	c.log.Warn().Err(err).Int64("viewer", viewer.ID).Msg("referral: прогресс недоступен, берём из кэша")
	return c.cached(ctx, viewer.ID)
}

func (c *Client) remember(ctx context.Context, viewerID int64, p domain.ReferralProgress) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, progressKey(viewerID), data, progressCacheTTL); err != nil {
		c.log.Debug().Err(err).Msg("referral: не удалось обновить кэш")
	}
}

func (c *Client) cached(ctx context.Context, viewerID int64) domain.ReferralProgress {
	if c.cache == nil {
		return domain.ReferralProgress{}
	}
	data, err := c.cache.Get(ctx, progressKey(viewerID))
	if err != nil {
		return domain.ReferralProgress{}
	}
	var p domain.ReferralProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.ReferralProgress{}
	}
	return p
}
