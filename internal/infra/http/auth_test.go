package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:TEST"

func signedInitData(t *testing.T, now time.Time, user string) string {
	t.Helper()
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(now.Unix(), 10))
	values.Set("query_id", "AAE")
	if user != "" {
		values.Set("user", user)
	}
	values.Set("hash", SignInitData(values, testBotToken))
	return values.Encode()
}

func TestValidateInitData(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	raw := signedInitData(t, now, `{"id":42,"first_name":"Ana","username":"ana","language_code":"ko"}`)

	viewer, err := ValidateInitData(raw, testBotToken, time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(42), viewer.ID)
	assert.Equal(t, "ko", viewer.LanguageCode)

	_, err = ValidateInitData(raw, "other:token", time.Hour, now)
	assert.ErrorIs(t, err, ErrInitDataSignature)

	_, err = ValidateInitData(raw, testBotToken, time.Hour, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInitDataExpired)

	_, err = ValidateInitData("", testBotToken, time.Hour, now)
	assert.ErrorIs(t, err, ErrInitDataMissing)
}

func TestValidateInitDataGuest(t *testing.T) {
	now := time.Now()
	viewer, err := ValidateInitData(signedInitData(t, now, ""), testBotToken, 0, now)
	require.NoError(t, err)
	assert.True(t, viewer.IsGuest())
}

func TestSessionIssuerRoundTrip(t *testing.T) {
	issuer, err := NewSessionIssuer("secret", time.Hour)
	require.NoError(t, err)

	token, p, err := issuer.Issue(Principal{})
	require.NoError(t, err)
	assert.NotEmpty(t, p.SessionID)

	parsed, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.True(t, parsed.Viewer.IsGuest())
	assert.Equal(t, "guest:"+p.SessionID, parsed.Key())

	other, err := NewSessionIssuer("other", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionMiddleware(t *testing.T) {
	issuer, err := NewSessionIssuer("secret", time.Hour)
	require.NoError(t, err)
	p := Principal{}
	p.Viewer.ID = 7
	token, _, err := issuer.Issue(p)
	require.NoError(t, err)

	var seen Principal
	h := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), seen.Viewer.ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2, zerolog.Nop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, rl.Cleanup(time.Nanosecond, time.Now().Add(time.Second)))
}
