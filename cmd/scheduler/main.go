package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"oneiro-bot/internal/adapters/functionsclient"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
	"oneiro-bot/internal/infra/config"
	applog "oneiro-bot/internal/infra/log"
	"oneiro-bot/internal/infra/metrics"
	"oneiro-bot/internal/usecase/symbol"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан REDIS_ADDR, прогревать нечего")
	}
	rdb, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: Redis недоступен")
	}
	defer rdb.Close()

	var source domain.SymbolSource
	if cfg.Functions.URL != "" {
		fn, err := functionsclient.New(cfg.Functions.URL,
			functionsclient.WithTimeout(cfg.Functions.Timeout),
			functionsclient.WithLLMTimeout(cfg.Functions.LLMTimeout),
			functionsclient.WithSecret(cfg.Functions.Secret),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: неверный FUNCTIONS_URL")
		}
		source = fn
	}
	symbols := symbol.NewService(source, cache.NewRedis(rdb), cfg.Location(), logger)

	warm := func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := symbols.Warm(runCtx); err != nil {
			logger.Error().Err(err).Msg("scheduler: не удалось подготовить символ дня")
		}
	}

	c := cron.New(cron.WithLocation(cfg.Location()))
	if _, err := c.AddFunc(cfg.Scheduler.SymbolSpec, warm); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Scheduler.SymbolSpec).Msg("scheduler: неверное расписание")
	}
	warm()
	c.Start()
	logger.Info().Str("spec", cfg.Scheduler.SymbolSpec).Str("tz", cfg.Location().String()).Msg("scheduler: старт")

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	<-c.Stop().Done()
}
