package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"oneiro-bot/internal/adapters/functionsapi"
	"oneiro-bot/internal/adapters/invoice"
	"oneiro-bot/internal/adapters/llm"
	"oneiro-bot/internal/adapters/repo"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
	"oneiro-bot/internal/infra/config"
	"oneiro-bot/internal/infra/db"
	httpinfra "oneiro-bot/internal/infra/http"
	applog "oneiro-bot/internal/infra/log"
	"oneiro-bot/internal/infra/metrics"
	"oneiro-bot/internal/infra/openai"
	"oneiro-bot/internal/usecase/ledger"
	"oneiro-bot/internal/usecase/symbol"
	"oneiro-bot/internal/usecase/visualize"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("functions: не указан PG_DSN")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, 20)
	if err != nil {
		logger.Fatal().Err(err).Msg("functions: нет подключения к БД")
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
			logger.Fatal().Err(err).Msg("functions: Redis недоступен")
		}
		defer rdb.Close()
		kv = cache.NewRedis(rdb)
	} else {
		logger.Warn().Msg("functions: REDIS_ADDR не задан, лимиты и кэш в памяти процесса")
	}

	deps := functionsapi.Deps{
		Dreams: repoAdapter,
		Ledger: ledger.NewService(repoAdapter, kv, logger),
	}

	oa := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	var generator domain.ImageGenerator
	oracle := llm.NewSymbolOracle(nil, cfg.OpenAI.Model, logger)
	if oa.Configured() {
		deps.Interpreter = llm.NewInterpreter(oa, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
		generator = llm.NewPainter(oa, oa, cfg.OpenAI.ImageModel, cfg.OpenAI.Model, logger)
		oracle = llm.NewSymbolOracle(oa, cfg.OpenAI.Model, logger)
	} else {
		logger.Warn().Msg("functions: OPENAI_API_KEY не задан, interpret-dream и visualize-dream отвечают not_configured")
	}
	deps.Images = visualize.NewService(generator, kv, logger)
	deps.Symbols = symbol.NewService(oracle, kv, cfg.Location(), logger)

	if cfg.Telegram.Token != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("functions: не удалось создать бота")
		}
		deps.Invoices = invoice.NewIssuer(botAPI)
	} else {
		logger.Warn().Msg("functions: TG_BOT_TOKEN не задан, create-invoice недоступен")
	}

	if cfg.Functions.Secret == "" {
		logger.Warn().Msg("functions: FUNCTIONS_SECRET не задан, проверка Authorization отключена")
	}
	server := functionsapi.New(deps, cfg.Functions.Secret, logger)

	requestTimeout := cfg.OpenAI.Timeout + 35*time.Second
	srv := httpinfra.NewServer(logger, requestTimeout)
	server.Routes(srv.Router)

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("functions: старт")
		if err := srv.Start(":"+strconv.Itoa(cfg.Port), requestTimeout+5*time.Second); err != nil {
			logger.Error().Err(err).Msg("functions: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("functions: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
