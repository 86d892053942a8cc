package referral

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
)

type ledgerStub struct {
	progress domain.ReferralProgress
	err      error
}

func (l *ledgerStub) Progress(context.Context, int64) (domain.ReferralProgress, error) {
	return l.progress, l.err
}

func (l *ledgerStub) ConsumeCredit(context.Context, int64) (int, error) { return 0, nil }

func TestCodeFor(t *testing.T) {
	c := NewClient(nil, nil, "ONEIROBot", zerolog.Nop())
	assert.Equal(t, "ONEIRO-42", c.CodeFor(domain.Viewer{ID: 42}))

	guest := c.CodeFor(domain.Viewer{})
	assert.Regexp(t, regexp.MustCompile(`^ONEIRO-\d{6}$`), guest)

	c.digits = func() int { return 7 }
	assert.Equal(t, "ONEIRO-000007", c.CodeFor(domain.Viewer{}))
}

func TestIntents(t *testing.T) {
	c := NewClient(nil, nil, "ONEIROBot", zerolog.Nop())
	assert.Equal(t, "https://t.me/ONEIROBot?start=ONEIRO-42", c.Link("ONEIRO-42"))
	assert.Equal(t, c.Link("ONEIRO-42"), c.CopyIntent("ONEIRO-42").Text)

	share := c.ShareIntent("ONEIRO-42")
	assert.Contains(t, share.Text, "https://t.me/ONEIROBot?start=ONEIRO-42")
	u, err := url.Parse(share.URL)
	require.NoError(t, err)
	assert.Equal(t, share.Text, u.Query().Get("url"))
}

func TestProgressFallsBackToCache(t *testing.T) {
	ledger := &ledgerStub{progress: domain.ReferralProgress{ReferralCount: 3, FreeCreditsEarned: 1}}
	c := NewClient(ledger, cache.NewMemory(), "ONEIROBot", zerolog.Nop())
	viewer := domain.Viewer{ID: 42}

	assert.Equal(t, ledger.progress, c.Progress(context.Background(), viewer))

	ledger.err = errors.New("down")
	assert.Equal(t, domain.ReferralProgress{ReferralCount: 3, FreeCreditsEarned: 1}, c.Progress(context.Background(), viewer))

	assert.Equal(t, domain.ReferralProgress{}, c.Progress(context.Background(), domain.Viewer{ID: 7}), "без кэша должен быть ноль")
	assert.Equal(t, domain.ReferralProgress{}, c.Progress(context.Background(), domain.Viewer{}))
}
