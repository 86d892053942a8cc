package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"oneiro-bot/internal/adapters/repo"
	"oneiro-bot/internal/infra/cache"
	"oneiro-bot/internal/infra/config"
	"oneiro-bot/internal/infra/db"
	applog "oneiro-bot/internal/infra/log"
	"oneiro-bot/internal/infra/metrics"
	"oneiro-bot/internal/infra/queue"
	"oneiro-bot/internal/usecase/payments"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("worker: не указан PG_DSN")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, 5)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: Redis недоступен")
		}
		defer rdb.Close()
	}
	paymentQueue, closeQueue, err := queue.Open(cfg.Queue.Backend, rdb, cfg.RabbitURL, cfg.Queue.Payments)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось открыть очередь оплат")
	}
	defer closeQueue()

	worker := payments.NewWorker(paymentQueue, repo.NewPostgres(pool), logger)
	logger.Info().Str("backend", cfg.Queue.Backend).Str("queue", cfg.Queue.Payments).Msg("worker: старт")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановка")
}
