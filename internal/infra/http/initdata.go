package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"oneiro-bot/internal/domain"
)

var (
	// ErrInitDataMissing initData не передан.
	ErrInitDataMissing = errors.New("init_data отсутствует")
	// ErrInitDataSignature подпись initData не совпала.
	ErrInitDataSignature = errors.New("подпись недействительна")
	// ErrInitDataExpired initData старше допустимого.
	ErrInitDataExpired = errors.New("init_data устарел")
)

// InitDataHeader заголовок, в котором мини-приложение передаёт initData.
const InitDataHeader = "X-Telegram-Init-Data"

type viewerCtxKey struct{}

// WithPrincipal кладёт пользователя сессии в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, p)
}

// PrincipalFrom достаёт пользователя сессии из контекста.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(viewerCtxKey{}).(Principal)
	return p, ok
}

// Principal пользователь и ключ его сессии.
type Principal struct {
	Viewer    domain.Viewer
	SessionID string
}

// Key возвращает стабильный ключ сессии: id пользователя или гостевой идентификатор.
func (p Principal) Key() string {
	if !p.Viewer.IsGuest() {
		return strconv.FormatInt(p.Viewer.ID, 10)
	}
	return "guest:" + p.SessionID
}

// WebAppAuthMiddleware проверяет initData по токену бота и кладёт Viewer в контекст.
func WebAppAuthMiddleware(botToken string, maxAge time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get(InitDataHeader)
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			viewer, err := ValidateInitData(initData, botToken, maxAge, time.Now())
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err)
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{Viewer: viewer})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type initDataUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

// ValidateInitData проверяет подпись WebApp initData и возвращает пользователя.
// Ключ подписи: HMAC-SHA256("WebAppData", botToken). Отсутствие user даёт гостя.
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (domain.Viewer, error) {
	if strings.TrimSpace(initData) == "" {
		return domain.Viewer{}, ErrInitDataMissing
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return domain.Viewer{}, fmt.Errorf("разбор init_data: %w", err)
	}
	hash := values.Get("hash")
	if hash == "" {
		return domain.Viewer{}, ErrInitDataSignature
	}
	expected, err := hex.DecodeString(hash)
	if err != nil {
		return domain.Viewer{}, ErrInitDataSignature
	}
	if !hmac.Equal(signInitData(values, botToken), expected) {
		return domain.Viewer{}, ErrInitDataSignature
	}
	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(authDate, 0)) > maxAge {
			return domain.Viewer{}, ErrInitDataExpired
		}
	}
	raw := values.Get("user")
	if raw == "" {
		return domain.Viewer{}, nil
	}
	var u initDataUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return domain.Viewer{}, fmt.Errorf("разбор user: %w", err)
	}
	return domain.Viewer{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LanguageCode: u.LanguageCode}, nil
}

// SignInitData подписывает набор полей так же, как это делает Telegram. Используется в тестах и тулинге.
func SignInitData(values url.Values, botToken string) string {
	return hex.EncodeToString(signInitData(values, botToken))
}

func signInitData(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))
	return h.Sum(nil)
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"error_code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет JSON-ответ.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
