package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"oneiro-bot/internal/adapters/bot"
	"oneiro-bot/internal/adapters/functionsclient"
	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
	"oneiro-bot/internal/infra/config"
	httpinfra "oneiro-bot/internal/infra/http"
	applog "oneiro-bot/internal/infra/log"
	"oneiro-bot/internal/infra/metrics"
	"oneiro-bot/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: Redis недоступен")
		}
		defer rdb.Close()
	}
	payments, closeQueue, err := queue.Open(cfg.Queue.Backend, rdb, cfg.RabbitURL, cfg.Queue.Payments)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось открыть очередь оплат")
	}
	defer closeQueue()

	var referrals domain.ReferralService
	if cfg.Functions.URL != "" {
		fn, err := functionsclient.New(cfg.Functions.URL,
			functionsclient.WithTimeout(cfg.Functions.Timeout),
			functionsclient.WithSecret(cfg.Functions.Secret),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: неверный FUNCTIONS_URL")
		}
		referrals = fn
	} else {
		logger.Warn().Msg("bot-gateway: FUNCTIONS_URL не задан, реферальные коды не засчитываются")
	}

	h := bot.NewHandler(botAPI, logger, referrals, payments, cfg.MiniApp.URL)

	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: неверный TG_WEBHOOK_URL")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: не удалось зарегистрировать вебхук")
		}
	}

	srv := httpinfra.NewServer(logger, 30*time.Second)
	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, err)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("bot-gateway: старт")
		if err := srv.Start(":"+strconv.Itoa(cfg.Port), 35*time.Second); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("bot-gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
