package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrTooManyRequests слишком частые запросы одного пользователя.
var ErrTooManyRequests = errors.New("слишком много запросов")

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов на пользователя сессии или IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	log      zerolog.Logger
}

// NewRateLimiter создаёт ограничитель.
func NewRateLimiter(rps float64, burst int, log zerolog.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		log:      log,
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Handler возвращает middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p, ok := PrincipalFrom(r.Context()); ok {
			key = p.Key()
		}
		if !rl.allow(key, time.Now()) {
			rl.log.Warn().Str("key", key).Str("path", r.URL.Path).Msg("ratelimit: запрос отклонён")
			WriteError(w, http.StatusTooManyRequests, ErrTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup удаляет лимитеры, не использованные дольше idle.
func (rl *RateLimiter) Cleanup(idle time.Duration, now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}
