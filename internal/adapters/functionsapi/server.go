package functionsapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	httpinfra "oneiro-bot/internal/infra/http"
)

// Ledger правила реферального реестра.
type Ledger interface {
	domain.ReferralService
	domain.CreditLedger
	EnsureUser(ctx context.Context, viewerID int64) (domain.User, error)
}

// Symbols символ дня на произвольную дату.
type Symbols interface {
	For(ctx context.Context, date string) domain.DailySymbol
	Today(ctx context.Context) domain.DailySymbol
}

// Deps зависимости сервиса функций. Interpreter и Images могут быть nil, тогда
// соответствующие функции отвечают not_configured.
type Deps struct {
	Interpreter domain.Interpreter
	Dreams      domain.DreamRepo
	Invoices    domain.InvoiceIssuer
	Ledger      Ledger
	Images      domain.ImageGenerator
	Symbols     Symbols
}

// Server HTTP-обработчики /functions/v1.
type Server struct {
	deps   Deps
	secret string
	now    func() time.Time
	log    zerolog.Logger
}

// New создаёт сервер функций. Пустой secret отключает проверку Authorization.
func New(deps Deps, secret string, logger zerolog.Logger) *Server {
	return &Server{
		deps:   deps,
		secret: secret,
		now:    time.Now,
		log:    logger.With().Str("component", "functions").Logger(),
	}
}

// Routes регистрирует маршруты.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/functions/v1", func(r chi.Router) {
		r.Use(s.authorize)
		r.Post("/interpret-dream", s.interpretDream)
		r.Post("/create-invoice", s.createInvoice)
		r.Post("/handle-referral", s.handleReferral)
		r.Post("/referral-progress", s.referralProgress)
		r.Post("/consume-credit", s.consumeCredit)
		r.Post("/visualize-dream", s.visualizeDream)
		r.Get("/daily-symbol", s.dailySymbol)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
				httpinfra.WriteJSON(w, http.StatusUnauthorized, httpinfra.ErrorResponse{Error: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

var errBadBody = errors.New("invalid request body")

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, errBadBody)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnknownProduct),
		errors.Is(err, domain.ErrInvalidReferralCode),
		errors.Is(err, domain.ErrSelfReferral):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrReferrerNotFound), errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyReferred), errors.Is(err, domain.ErrNoCredits):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает {error, error_code}. Код берётся из таблицы доменных ошибок.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, fn string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("function", fn).Str("request_id", httpinfra.RequestID(r)).Msg("functions: ошибка")
	}
	writeErrorBody(w, status, err)
}

func writeErrorBody(w http.ResponseWriter, status int, err error) {
	httpinfra.WriteJSON(w, status, httpinfra.ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}
