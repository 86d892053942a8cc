package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"oneiro-bot/internal/domain"
)

const sessionIssuer = "oneiro-api"

// ErrSessionInvalid токен сессии не прошёл проверку.
var ErrSessionInvalid = errors.New("сессия недействительна")

type sessionClaims struct {
	jwt.RegisteredClaims
	Username  string `json:"usr,omitempty"`
	FirstName string `json:"fn,omitempty"`
	Lang      string `json:"lang,omitempty"`
}

// SessionIssuer выпускает и проверяет JWT сессии мини-приложения.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer создаёт выпускающего токены.
func NewSessionIssuer(secret string, ttl time.Duration) (*SessionIssuer, error) {
	if secret == "" {
		return nil, errors.New("session secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue выпускает токен для пользователя. Гость получает subject "guest".
func (s *SessionIssuer) Issue(p Principal) (string, Principal, error) {
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	subject := "guest"
	if !p.Viewer.IsGuest() {
		subject = strconv.FormatInt(p.Viewer.ID, 10)
	}
	now := s.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.SessionID,
			Subject:   subject,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username:  p.Viewer.Username,
		FirstName: p.Viewer.FirstName,
		Lang:      p.Viewer.LanguageCode,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Principal{}, fmt.Errorf("sign token: %w", err)
	}
	return token, p, nil
}

// Parse проверяет токен и возвращает пользователя сессии.
func (s *SessionIssuer) Parse(token string) (Principal, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	viewer := domain.Viewer{Username: claims.Username, FirstName: claims.FirstName, LanguageCode: claims.Lang}
	if claims.Subject != "guest" {
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: subject %q", ErrSessionInvalid, claims.Subject)
		}
		viewer.ID = id
	}
	return Principal{Viewer: viewer, SessionID: claims.ID}, nil
}

// Middleware требует заголовок Authorization: Bearer <jwt>.
func (s *SessionIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			WriteError(w, http.StatusUnauthorized, ErrSessionInvalid)
			return
		}
		p, err := s.Parse(token)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, ErrSessionInvalid)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
