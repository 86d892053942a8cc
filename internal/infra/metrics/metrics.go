package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	InterpretationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "interpretations_total",
		Help: "Толкования по источнику: remote, fallback_unconfigured, fallback_failure",
	}, []string{"source", "language"})

	InterpretationTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "interpretation_watchdog_timeouts_total",
		Help: "Срабатывания сторожевого таймера толкования",
	})

	UnlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unlocks_total",
		Help: "Открытия полного толкования по причине",
	}, []string{"reason"})

	PaymentOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_total",
		Help: "Статусы платёжной формы",
	}, []string{"status"})

	ReferralsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referrals_total",
		Help: "Результаты обработки реферальных кодов",
	}, []string{"result"})

	SharesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shares_total",
		Help: "Способ, которым ушёл шаринг",
	}, []string{"method"})

	ImageRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_rate_limited_total",
		Help: "Отказы генерации изображений по лимиту",
	})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		InterpretationsTotal,
		InterpretationTimeouts,
		UnlocksTotal,
		PaymentOutcomes,
		ReferralsTotal,
		SharesTotal,
		ImageRateLimited,
		BotSendErrors,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncInterpretation учитывает источник толкования.
func IncInterpretation(source, language string) {
	if language == "" {
		language = "unknown"
	}
	InterpretationsTotal.WithLabelValues(source, language).Inc()
}

// IncUnlock учитывает открытие по причине.
func IncUnlock(reason string) {
	UnlocksTotal.WithLabelValues(reason).Inc()
}

// IncPaymentOutcome учитывает статус платёжной формы.
func IncPaymentOutcome(status string) {
	PaymentOutcomes.WithLabelValues(status).Inc()
}

// IncReferral учитывает результат обработки кода.
func IncReferral(result string) {
	ReferralsTotal.WithLabelValues(result).Inc()
}

// IncShare учитывает способ шаринга.
func IncShare(method string) {
	SharesTotal.WithLabelValues(method).Inc()
}
