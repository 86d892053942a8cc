package functionsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
)

const completeBody = `{"essence":"e","hiddenMeaning":"h","deepInsight":"d","symbols":[{"emoji":"🌊","name":"Ocean","meaning":"m"},{"emoji":"🌙","name":"Moon","meaning":"m"},{"emoji":"🦋","name":"Butterfly","meaning":"m"}],"advice":["a"],"emotionalTone":"calm","spiritualMessage":"s"}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/functions/v1", WithSecret("s3cret"))
	require.NoError(t, err)
	return c
}

func TestInterpret(t *testing.T) {
	var got interpretRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/interpret-dream", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completeBody))
	})
	sub := domain.NewDreamSubmission("I was flying over a quiet sea", []string{"vivid"}, true, "ko")
	res, err := c.Interpret(context.Background(), sub, domain.Viewer{ID: 77})
	require.NoError(t, err)
	assert.Equal(t, "e", res.Essence)
	assert.False(t, res.IsFallback)
	assert.Equal(t, int64(77), got.TelegramUserID)
	assert.Equal(t, []string{"vivid"}, got.Mood)
	assert.Equal(t, "ko", got.Language)
	assert.True(t, got.IsRecurring)
}

func TestInterpretRejectsBadBodies(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"error field":    {http.StatusOK, `{"error":"quota"}`},
		"missing fields": {http.StatusOK, `{"essence":"e"}`},
		"not an object":  {http.StatusOK, `[1,2]`},
		"server error":   {http.StatusInternalServerError, `{"error":"boom"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Interpret(context.Background(), domain.NewDreamSubmission("I was flying over a quiet sea", nil, false, "en"), domain.Viewer{})
			assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
		})
	}
}

func TestErrorCodesMapToSentinels(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"error":"Rate limit exceeded.","error_code":"rate_limited"}`, domain.ErrRateLimited},
		{http.StatusTooManyRequests, `slow down`, domain.ErrRateLimited},
		{http.StatusServiceUnavailable, `{"error":"no key","error_code":"not_configured"}`, domain.ErrCollaboratorUnavailable},
		{http.StatusBadRequest, `{"error":"self","error_code":"self_referral"}`, domain.ErrSelfReferral},
		{http.StatusConflict, `{"error":"no","error_code":"no_credits"}`, domain.ErrNoCredits},
		{http.StatusBadGateway, `{"error":"x","error_code":"weird"}`, domain.ErrCollaboratorFailure},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		_, err := c.ConsumeCredit(context.Background(), 1)
		assert.ErrorIs(t, err, tc.want, "тело %s", tc.body)
	}
}

func TestApplyReferralAlreadyReferred(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"User already referred","error_code":"already_referred"}`))
	})
	out, err := c.ApplyReferral(context.Background(), 2, "ONEIRO-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyReferred)
	assert.False(t, out.Success)
}

func TestCreateInvoiceAndSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/functions/v1/create-invoice":
			_, _ = w.Write([]byte(`{"invoice_url":"https://t.me/$abc"}`))
		case "/functions/v1/daily-symbol":
			assert.Equal(t, "2026-10-17", r.URL.Query().Get("date"))
			_, _ = w.Write([]byte(`{"date":"2026-10-17","emoji":"🌙","name":"Moon","meaning":"m"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	inv, err := c.CreateInvoice(context.Background(), domain.ProductSoulReport, 5)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/$abc", inv.URL)
	assert.Equal(t, domain.ProductSoulReport, inv.Product)

	sym, err := c.DailySymbol(context.Background(), "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, "Moon", sym.Name)
}

func TestNetworkFailureIsCollaboratorFailure(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = c.Progress(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
}

func TestLLMTimeoutAppliesToModelCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		if r.URL.Path == "/functions/v1/interpret-dream" {
			_, _ = w.Write([]byte(completeBody))
			return
		}
		_, _ = w.Write([]byte(`{"freeCreditsEarned":0}`))
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/functions/v1", WithTimeout(50*time.Millisecond), WithLLMTimeout(2*time.Second))
	require.NoError(t, err)

	sub := domain.NewDreamSubmission("I was flying over a quiet sea", nil, false, "en")
	res, err := c.Interpret(context.Background(), sub, domain.Viewer{ID: 1})
	require.NoError(t, err, "толкование ждёт модель дольше обычного таймаута")
	assert.Equal(t, "e", res.Essence)

	_, err = c.ConsumeCredit(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
}
