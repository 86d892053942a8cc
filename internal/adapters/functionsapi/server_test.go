package functionsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/adapters/functionsclient"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
	"oneiro-bot/internal/usecase/visualize"
)

const secret = "fn-secret"

type interpreterStub struct{ err error }

func (s interpreterStub) Interpret(context.Context, domain.DreamSubmission, domain.Viewer) (domain.InterpretationResult, error) {
	if s.err != nil {
		return domain.InterpretationResult{}, s.err
	}
	return domain.InterpretationResult{
		Essence:          "e",
		HiddenMeaning:    "h",
		DeepInsight:      "d",
		Symbols:          []domain.Symbol{{Name: "Ocean"}, {Name: "Moon"}, {Name: "Tree"}},
		Advice:           []string{"a"},
		EmotionalTone:    "calm",
		SpiritualMessage: "s",
	}, nil
}

type dreamsStub struct {
	mu      sync.Mutex
	records []domain.DreamRecord
}

func (d *dreamsStub) SaveDream(_ context.Context, rec domain.DreamRecord) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
	return int64(len(d.records)), nil
}

type invoicesStub struct{}

func (invoicesStub) CreateInvoice(_ context.Context, product domain.Product, viewerID int64) (domain.Invoice, error) {
	return domain.Invoice{ID: "inv-1", Product: product, ViewerID: viewerID, URL: "https://t.me/$abc"}, nil
}

type ledgerStub struct {
	mu       sync.Mutex
	ensured  []int64
	credits  int
	referred map[int64]bool
}

func (l *ledgerStub) ApplyReferral(_ context.Context, viewerID int64, code string) (domain.ReferralOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := domain.ParseReferralCode(code); !ok {
		return domain.ReferralOutcome{}, domain.ErrInvalidReferralCode
	}
	if l.referred[viewerID] {
		return domain.ReferralOutcome{Success: false}, domain.ErrAlreadyReferred
	}
	l.referred[viewerID] = true
	return domain.ReferralOutcome{Success: true, ReferralCount: 3, FreeCreditEarned: true}, nil
}

func (l *ledgerStub) Progress(context.Context, int64) (domain.ReferralProgress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.ReferralProgress{ReferralCount: 3, FreeCreditsEarned: l.credits}, nil
}

func (l *ledgerStub) ConsumeCredit(context.Context, int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.credits == 0 {
		return 0, domain.ErrNoCredits
	}
	l.credits--
	return l.credits, nil
}

func (l *ledgerStub) EnsureUser(_ context.Context, id int64) (domain.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensured = append(l.ensured, id)
	return domain.User{TGUserID: id, ReferralCode: domain.ReferralCodeFor(id)}, nil
}

type paintStub struct{}

func (paintStub) Visualize(context.Context, domain.VisualizationRequest) (domain.Visualization, error) {
	return domain.Visualization{ImageURL: "https://img/1", ArtTitle: "Dream Vision"}, nil
}

type symbolsStub struct{}

func (symbolsStub) For(_ context.Context, date string) domain.DailySymbol {
	return domain.PoolSymbolFor(date)
}

func (symbolsStub) Today(context.Context) domain.DailySymbol { return domain.PoolSymbolFor("2025-06-01") }

type env struct {
	client *functionsclient.Client
	srv    *httptest.Server
	dreams *dreamsStub
	ledger *ledgerStub
}

func newEnv(t *testing.T, deps Deps) *env {
	t.Helper()
	e := &env{dreams: &dreamsStub{}, ledger: &ledgerStub{referred: map[int64]bool{}}}
	if deps.Dreams == nil {
		deps.Dreams = e.dreams
	}
	if deps.Ledger == nil {
		deps.Ledger = e.ledger
	}
	r := chi.NewRouter()
	New(deps, secret, zerolog.Nop()).Routes(r)
	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	c, err := functionsclient.New(e.srv.URL+"/functions/v1", functionsclient.WithSecret(secret))
	require.NoError(t, err)
	e.client = c
	return e
}

var sub = domain.NewDreamSubmission("I was walking through a forest of glass", []string{"vivid"}, false, "en")

func TestInterpretDreamSavesForKnownViewer(t *testing.T) {
	e := newEnv(t, Deps{Interpreter: interpreterStub{}})

	res, err := e.client.Interpret(context.Background(), sub, domain.Viewer{ID: 5})
	require.NoError(t, err)
	assert.Equal(t, "e", res.Essence)
	require.Len(t, e.dreams.records, 1)
	assert.Equal(t, int64(5), e.dreams.records[0].ViewerID)
	assert.Equal(t, []string{"vivid"}, e.dreams.records[0].Moods)

	_, err = e.client.Interpret(context.Background(), sub, domain.Viewer{})
	require.NoError(t, err)
	assert.Len(t, e.dreams.records, 1, "гостевые толкования не сохраняются")
}

func TestInterpretDreamNotConfigured(t *testing.T) {
	e := newEnv(t, Deps{})
	_, err := e.client.Interpret(context.Background(), sub, domain.Viewer{ID: 5})
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	e = newEnv(t, Deps{Interpreter: interpreterStub{err: domain.ErrCollaboratorFailure}})
	_, err = e.client.Interpret(context.Background(), sub, domain.Viewer{ID: 5})
	assert.ErrorIs(t, err, domain.ErrCollaboratorFailure)
}

func TestUnauthorized(t *testing.T) {
	e := newEnv(t, Deps{})
	resp, err := http.Post(e.srv.URL+"/functions/v1/consume-credit", "application/json", strings.NewReader(`{"userId":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateInvoice(t *testing.T) {
	e := newEnv(t, Deps{Invoices: invoicesStub{}})

	inv, err := e.client.CreateInvoice(context.Background(), domain.ProductSoulReport, 9)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/$abc", inv.URL)
	assert.Equal(t, "inv-1", inv.ID)

	_, err = e.client.CreateInvoice(context.Background(), "horoscope", 9)
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)
}

func TestReferralFunctions(t *testing.T) {
	e := newEnv(t, Deps{})
	ctx := context.Background()

	out, err := e.client.ApplyReferral(ctx, 2, "ONEIRO-1")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.FreeCreditEarned)

	out, err = e.client.ApplyReferral(ctx, 2, "ONEIRO-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyReferred)
	assert.False(t, out.Success)

	_, err = e.client.ApplyReferral(ctx, 3, "FRIEND-1")
	assert.ErrorIs(t, err, domain.ErrInvalidReferralCode)

	progress, err := e.client.Progress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.ReferralCount)
	assert.Equal(t, []int64{7}, e.ledger.ensured, "прогресс регистрирует пользователя")

	e.ledger.credits = 1
	remaining, err := e.client.ConsumeCredit(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	_, err = e.client.ConsumeCredit(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrNoCredits)
}

func TestVisualizeDreamRateLimit(t *testing.T) {
	svc := visualize.NewService(paintStub{}, cache.NewMemory(), zerolog.Nop())
	e := newEnv(t, Deps{Images: svc})
	req := domain.VisualizationRequest{DreamText: "glass forest", ViewerID: 11}

	for i := 0; i < visualize.DailyLimit; i++ {
		v, err := e.client.Visualize(context.Background(), req)
		require.NoError(t, err, "попытка %d", i+1)
		assert.Equal(t, "Dream Vision", v.ArtTitle)
	}
	_, err := e.client.Visualize(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = e.client.Visualize(context.Background(), domain.VisualizationRequest{ViewerID: 11})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDailySymbol(t *testing.T) {
	e := newEnv(t, Deps{Symbols: symbolsStub{}})

	s, err := e.client.DailySymbol(context.Background(), "2025-03-04")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolSymbolFor("2025-03-04"), s)

	_, err = e.client.DailySymbol(context.Background(), "yesterday")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
