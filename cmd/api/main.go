package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"oneiro-bot/internal/adapters/functionsclient"
	"oneiro-bot/internal/adapters/httpapi"
	"oneiro-bot/internal/adapters/repo"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
	"oneiro-bot/internal/infra/config"
	"oneiro-bot/internal/infra/db"
	httpinfra "oneiro-bot/internal/infra/http"
	applog "oneiro-bot/internal/infra/log"
	"oneiro-bot/internal/infra/metrics"
	"oneiro-bot/internal/usecase/entitlement"
	"oneiro-bot/internal/usecase/interpret"
	"oneiro-bot/internal/usecase/presentation"
	"oneiro-bot/internal/usecase/referral"
	"oneiro-bot/internal/usecase/session"
	"oneiro-bot/internal/usecase/symbol"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("api: не указан PG_DSN")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var kv interface {
		domain.Cache
		domain.RateWindow
	} = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: Redis недоступен")
		}
		defer rdb.Close()
		kv = cache.NewRedis(rdb)
	} else {
		logger.Warn().Msg("api: REDIS_ADDR не задан, кэш в памяти процесса")
	}

	var (
		remote  domain.Interpreter
		ledger  domain.CreditLedger
		issuer  domain.InvoiceIssuer
		invites domain.ReferralService
		images  domain.ImageGenerator
		symbols domain.SymbolSource
	)
	if cfg.Functions.URL != "" {
		fn, err := functionsclient.New(cfg.Functions.URL,
			functionsclient.WithTimeout(cfg.Functions.Timeout),
			functionsclient.WithLLMTimeout(cfg.Functions.LLMTimeout),
			functionsclient.WithSecret(cfg.Functions.Secret),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: неверный FUNCTIONS_URL")
		}
		remote, ledger, issuer, invites, images, symbols = fn, fn, fn, fn, fn, fn
	} else {
		logger.Warn().Msg("api: FUNCTIONS_URL не задан, толкования из шаблонов, оплата недоступна")
	}

	pipeline := interpret.NewPipeline(remote, interpret.NewMockCatalog(), cfg.Interpret.Timeout, cfg.Interpret.MockDelay, logger)
	referrals := referral.NewClient(ledger, kv, cfg.Telegram.BotName, logger)
	tokens, err := httpinfra.NewSessionIssuer(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не задан SESSION_SECRET")
	}

	api := httpapi.New(httpapi.Deps{
		Sessions:  session.NewStore(pipeline, referrals.CodeFor, cfg.Session.IdleTTL, logger),
		Tokens:    tokens,
		Engine:    entitlement.NewEngine(ledger, issuer, logger),
		Referrals: referrals,
		Invites:   invites,
		Readings:  repoAdapter,
		Purchases: repoAdapter,
		Journal:   repoAdapter,
		Saver:     presentation.NewSaver(repoAdapter, kv, cfg.Limits.SaveDebounce, logger),
		Sharer:    presentation.NewSharer(cfg.Telegram.BotName, logger),
		Images:    images,
		Symbols:   symbol.NewService(symbols, kv, cfg.Location(), logger),
	}, httpapi.Config{
		BotToken:       cfg.Telegram.Token,
		InitDataMaxAge: cfg.Session.InitDataMaxAge,
		PreviewSecret:  cfg.PreviewSecret,
		JournalLimit:   cfg.Limits.JournalListMax,
		RPS:            cfg.Limits.APIRPS,
		Burst:          cfg.Limits.APIBurst,
	}, logger)

	requestTimeout := cfg.Interpret.Timeout + 15*time.Second
	srv := httpinfra.NewServer(logger, requestTimeout)
	api.Routes(srv.Router)
	go api.Run(ctx)

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.Start(":"+strconv.Itoa(cfg.Port), requestTimeout+5*time.Second); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
