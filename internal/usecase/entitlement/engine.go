package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// Phase фаза показа результата.
type Phase string

const (
	PhaseLockedTeaser Phase = "LOCKED_TEASER"
	PhaseUnlocked     Phase = "UNLOCKED"
)

// Reason причина открытия результата.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonFirstReading Reason = "first_reading"
	ReasonPreview      Reason = "preview"
	ReasonCredit       Reason = "credit"
	ReasonPayment      Reason = "payment"
)

// State доступ пользователя к текущему толкованию.
type State struct {
	Unlocked             bool `json:"unlocked"`
	FreeCreditsAvailable int  `json:"free_credits_available"`
	ReferralCount        int  `json:"referral_count"`
}

// OpenOptions условия, при которых результат открыт сразу.
type OpenOptions struct {
	FirstReading bool
	Preview      bool
}

// UnlockOutcome итог запроса на открытие.
type UnlockOutcome struct {
	Unlocked bool
	Via      Reason
	Invoice  *domain.Invoice
}

// Engine создаёт гейты доступа к толкованиям.
type Engine struct {
	ledger domain.CreditLedger
	issuer domain.InvoiceIssuer
	now    func() time.Time
	log    zerolog.Logger
}

// NewEngine создаёт движок. ledger и issuer могут быть nil, тогда кредиты считаются нулевыми,
// а выставление счёта возвращает ErrCollaboratorFailure.
func NewEngine(ledger domain.CreditLedger, issuer domain.InvoiceIssuer, logger zerolog.Logger) *Engine {
	return &Engine{
		ledger: ledger,
		issuer: issuer,
		now:    time.Now,
		log:    logger.With().Str("component", "entitlement").Logger(),
	}
}

// Open создаёт гейт для нового толкования. Кредиты читаются без гарантий:
// ошибка чтения даёт ноль и попадает только в лог.
func (e *Engine) Open(ctx context.Context, viewer domain.Viewer, opts OpenOptions) *Gate {
	g := &Gate{
		engine:  e,
		viewer:  viewer,
		preview: opts.Preview,
		pending: make(map[string]domain.Invoice),
		paid:    make(map[domain.Product]struct{}),
	}
	switch {
	case opts.Preview:
		g.unlock(ReasonPreview)
	case opts.FirstReading:
		g.unlock(ReasonFirstReading)
	}

	if e.ledger != nil && !viewer.IsGuest() {
		progress, err := e.ledger.Progress(ctx, viewer.ID)
		if err != nil {
			e.log.Warn().Err(err).Int64("viewer", viewer.ID).Msg("entitlement: не удалось получить кредиты")
		} else {
			g.state.FreeCreditsAvailable = max(progress.FreeCreditsEarned, 0)
			g.state.ReferralCount = max(progress.ReferralCount, 0)
		}
	}
	return g
}

// Gate доступ к одному толкованию. Открытый гейт больше не закрывается.
type Gate struct {
	engine  *Engine
	viewer  domain.Viewer
	preview bool

	// consume сериализует списание кредита, чтобы не списать дважды.
	consume sync.Mutex

	mu      sync.Mutex
	state   State
	reason  Reason
	pending map[string]domain.Invoice
	paid    map[domain.Product]struct{}
}

// State возвращает снимок состояния.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Phase возвращает фазу показа.
func (g *Gate) Phase() Phase {
	if g.State().Unlocked {
		return PhaseUnlocked
	}
	return PhaseLockedTeaser
}

// Reason возвращает причину открытия.
func (g *Gate) Reason() Reason {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Preview сообщает, что гейт открыт в режиме предпросмотра.
func (g *Gate) Preview() bool {
	return g.preview
}

// Purchased сообщает, что продукт оплачен в рамках этого гейта.
func (g *Gate) Purchased(product domain.Product) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.paid[product]
	return ok
}

// PendingProduct возвращает продукт ожидающего счёта.
func (g *Gate) PendingProduct(invoiceID string) (domain.Product, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inv, ok := g.pending[invoiceID]
	return inv.Product, ok
}

// Pending возвращает число ожидающих счетов.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Gate) unlock(reason Reason) bool {
	if g.state.Unlocked {
		return false
	}
	g.state.Unlocked = true
	g.reason = reason
	metrics.IncUnlock(string(reason))
	return true
}

// ConsumeCredit списывает бесплатное прочтение и открывает результат.
// Локальное состояние меняется только после успешного списания в реестре.
func (g *Gate) ConsumeCredit(ctx context.Context) (bool, error) {
	g.consume.Lock()
	defer g.consume.Unlock()

	st := g.State()
	if st.Unlocked || st.FreeCreditsAvailable <= 0 {
		return false, nil
	}
	if g.engine.ledger == nil {
		return false, fmt.Errorf("%w: реестр кредитов не сконфигурирован", domain.ErrCollaboratorFailure)
	}

	remaining, err := g.engine.ledger.ConsumeCredit(ctx, g.viewer.ID)
	if errors.Is(err, domain.ErrNoCredits) {
		g.mu.Lock()
		g.state.FreeCreditsAvailable = 0
		g.mu.Unlock()
		return false, nil
	}
	if err != nil {
		g.engine.log.Error().Err(err).Int64("viewer", g.viewer.ID).Msg("entitlement: списание кредита не удалось")
		return false, fmt.Errorf("%w: списание кредита: %v", domain.ErrCollaboratorFailure, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.FreeCreditsAvailable = max(min(remaining, g.state.FreeCreditsAvailable-1), 0)
	g.unlock(ReasonCredit)
	return true, nil
}

// RequestPayment выставляет счёт и добавляет его в ожидающие.
func (g *Gate) RequestPayment(ctx context.Context, product domain.Product) (domain.Invoice, error) {
	if g.preview {
		return domain.Invoice{}, domain.ErrNothingToPay
	}
	if product == domain.ProductFullReading && g.State().Unlocked {
		return domain.Invoice{}, domain.ErrNothingToPay
	}
	if g.viewer.IsGuest() {
		return domain.Invoice{}, domain.ErrGuestPayment
	}
	if g.engine.issuer == nil {
		return domain.Invoice{}, fmt.Errorf("%w: сервис счетов не сконфигурирован", domain.ErrCollaboratorFailure)
	}

	inv, err := g.engine.issuer.CreateInvoice(ctx, product, g.viewer.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownProduct) {
			return domain.Invoice{}, err
		}
		g.engine.log.Error().Err(err).Int64("viewer", g.viewer.ID).Str("product", string(product)).Msg("entitlement: счёт не выставлен")
		if errors.Is(err, domain.ErrCollaboratorFailure) {
			return domain.Invoice{}, err
		}
		return domain.Invoice{}, fmt.Errorf("%w: %v", domain.ErrCollaboratorFailure, err)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Product == "" {
		inv.Product = product
	}
	inv.ViewerID = g.viewer.ID

	g.mu.Lock()
	g.pending[inv.ID] = inv
	g.mu.Unlock()
	return inv, nil
}

// ConfirmPayment применяет статус платёжной формы к ожидающему счёту.
func (g *Gate) ConfirmPayment(invoiceID string, status domain.PaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	inv, ok := g.pending[invoiceID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownInvoice, invoiceID)
	}
	delete(g.pending, invoiceID)
	metrics.IncPaymentOutcome(string(status))

	switch status {
	case domain.PaymentPaid:
		g.paid[inv.Product] = struct{}{}
		if inv.Product == domain.ProductFullReading {
			g.unlock(ReasonPayment)
		}
		return nil
	case domain.PaymentFailed, domain.PaymentCancelled:
		return fmt.Errorf("%w: %s", domain.ErrPaymentNotCompleted, status)
	default:
		return nil
	}
}

// Unlock открывает результат кредитом, если он есть, иначе выставляет счёт.
func (g *Gate) Unlock(ctx context.Context, product domain.Product) (UnlockOutcome, error) {
	if product == "" {
		product = domain.ProductFullReading
	}
	if product != domain.ProductFullReading {
		inv, err := g.RequestPayment(ctx, product)
		if err != nil {
			return UnlockOutcome{}, err
		}
		return UnlockOutcome{Unlocked: g.State().Unlocked, Via: g.Reason(), Invoice: &inv}, nil
	}

	if st := g.State(); st.Unlocked {
		return UnlockOutcome{Unlocked: true, Via: g.Reason()}, nil
	} else if st.FreeCreditsAvailable > 0 {
		ok, err := g.ConsumeCredit(ctx)
		if err != nil {
			return UnlockOutcome{}, err
		}
		if ok || g.State().Unlocked {
			return UnlockOutcome{Unlocked: true, Via: g.Reason()}, nil
		}
	}

	inv, err := g.RequestPayment(ctx, product)
	if errors.Is(err, domain.ErrNothingToPay) && g.State().Unlocked {
		return UnlockOutcome{Unlocked: true, Via: g.Reason()}, nil
	}
	if err != nil {
		return UnlockOutcome{}, err
	}
	return UnlockOutcome{Via: ReasonNone, Invoice: &inv}, nil
}
