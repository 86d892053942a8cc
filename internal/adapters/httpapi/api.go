package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	httpinfra "oneiro-bot/internal/infra/http"
	"oneiro-bot/internal/usecase/entitlement"
	"oneiro-bot/internal/usecase/presentation"
	"oneiro-bot/internal/usecase/referral"
	"oneiro-bot/internal/usecase/session"
)

// PreviewHeader заголовок с секретом режима предпросмотра.
const PreviewHeader = "X-Preview-Token"

const limiterIdle = 10 * time.Minute

var (
	errPaymentRequired = errors.New("payment required")
	errBadBody         = errors.New("invalid request body")
	errNoPrincipal     = errors.New("no session principal")
)

// SymbolSource отдаёт символ дня с учётом кэша.
type SymbolSource interface {
	Today(ctx context.Context) domain.DailySymbol
}

// Config параметры HTTP API мини-приложения.
type Config struct {
	BotToken       string
	InitDataMaxAge time.Duration
	PreviewSecret  string
	JournalLimit   int
	RPS            float64
	Burst          int
}

// Deps зависимости API. Readings, Purchases, Journal, Invites, Images и Symbols могут быть nil.
type Deps struct {
	Sessions  *session.Store
	Tokens    *httpinfra.SessionIssuer
	Engine    *entitlement.Engine
	Referrals *referral.Client
	Invites   domain.ReferralService
	Readings  domain.ReadingRepo
	Purchases domain.PurchaseRepo
	Journal   domain.JournalRepo
	Saver     *presentation.Saver
	Sharer    *presentation.Sharer
	Images    domain.ImageGenerator
	Symbols   SymbolSource
}

// API обработчики /api/v1.
type API struct {
	cfg     Config
	deps    Deps
	limiter *httpinfra.RateLimiter
	now     func() time.Time
	log     zerolog.Logger
}

// New создаёт API.
func New(deps Deps, cfg Config, logger zerolog.Logger) *API {
	if cfg.JournalLimit <= 0 {
		cfg.JournalLimit = 50
	}
	if cfg.InitDataMaxAge <= 0 {
		cfg.InitDataMaxAge = 24 * time.Hour
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	log := logger.With().Str("component", "api").Logger()
	return &API{
		cfg:     cfg,
		deps:    deps,
		limiter: httpinfra.NewRateLimiter(cfg.RPS, cfg.Burst, log),
		now:     time.Now,
		log:     log,
	}
}

// Routes регистрирует маршруты на роутере.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", a.createSession)

		r.Group(func(protected chi.Router) {
			protected.Use(a.deps.Tokens.Middleware)
			protected.Use(a.limiter.Handler)

			protected.Post("/dreams", a.submitDream)
			protected.Get("/dreams/current", a.currentDream)
			protected.Post("/unlock", a.unlock)
			protected.Post("/unlock/confirm", a.confirmPayment)
			protected.Post("/journal", a.saveJournal)
			protected.Get("/journal", a.listJournal)
			protected.Post("/share", a.share)
			protected.Get("/referral", a.referralInfo)
			protected.Post("/visualize", a.visualize)
			protected.Get("/daily-symbol", a.dailySymbol)
		})
	})
}

// Run чистит неактивные сессии и лимитеры до отмены контекста.
func (a *API) Run(ctx context.Context) {
	go a.deps.Sessions.Run(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Cleanup(limiterIdle, a.now()); n > 0 {
				a.log.Debug().Int("removed", n).Msg("api: очищены лимитеры")
			}
		}
	}
}

func (a *API) session(r *http.Request) (*session.Session, error) {
	p, ok := httpinfra.PrincipalFrom(r.Context())
	if !ok {
		return nil, errNoPrincipal
	}
	return a.deps.Sessions.Get(p.Key(), p.Viewer), nil
}

func (a *API) previewRequested(r *http.Request) bool {
	if a.cfg.PreviewSecret == "" {
		return false
	}
	got := r.Header.Get(PreviewHeader)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.PreviewSecret)) == 1
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httpinfra.WriteJSON(w, status, v)
}

// writeError отправляет ошибку с HTTP-статусом и машинным кодом по сентинелу.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := httpinfra.ErrorResponse{
		Error:     err.Error(),
		Code:      codeFor(err),
		Retryable: domain.IsRetryable(err),
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout && status != http.StatusServiceUnavailable {
		a.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg("api: внутренняя ошибка")
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnknownProduct),
		errors.Is(err, domain.ErrInvalidReferralCode):
		return http.StatusBadRequest
	case errors.Is(err, errNoPrincipal):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrGuestPayment):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaymentNotCompleted), errors.Is(err, errPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNoResult), errors.Is(err, domain.ErrUnknownInvoice):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateAction),
		errors.Is(err, domain.ErrSuperseded),
		errors.Is(err, domain.ErrNothingToPay),
		errors.Is(err, domain.ErrAlreadyReferred):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotSavable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrCollaboratorFailure):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var apiCodes = []struct {
	code string
	err  error
}{
	{"timeout", domain.ErrTimeout},
	{"superseded", domain.ErrSuperseded},
	{"payment_not_completed", domain.ErrPaymentNotCompleted},
	{"payment_required", errPaymentRequired},
	{"unknown_invoice", domain.ErrUnknownInvoice},
	{"nothing_to_pay", domain.ErrNothingToPay},
	{"no_result", domain.ErrNoResult},
	{"not_savable", domain.ErrNotSavable},
	{"duplicate", domain.ErrDuplicateAction},
	{"collaborator_failure", domain.ErrCollaboratorFailure},
	{"bad_request", errBadBody},
}

func codeFor(err error) string {
	if code := domain.ErrorCode(err); code != "" {
		return code
	}
	for _, c := range apiCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
