package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
		BotName    string `envconfig:"TG_BOT_NAME" default:"ONEIROBot"`
	} `envconfig:""`

	MiniApp struct {
		URL string `envconfig:"MINI_APP_URL" default:"https://oneiro.app"`
	} `envconfig:""`

	OpenAI struct {
		APIKey     string        `envconfig:"OPENAI_API_KEY"`
		BaseURL    string        `envconfig:"OPENAI_BASE_URL"`
		Model      string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		ImageModel string        `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`
		Timeout    time.Duration `envconfig:"OPENAI_TIMEOUT" default:"55s"`
	} `envconfig:""`

	// Functions.LLMTimeout больше OPENAI_TIMEOUT и меньше INTERPRET_TIMEOUT, чтобы ответ модели успел дойти до API.
	Functions struct {
		URL        string        `envconfig:"FUNCTIONS_URL"`
		Secret     string        `envconfig:"FUNCTIONS_SECRET"`
		Timeout    time.Duration `envconfig:"FUNCTIONS_TIMEOUT" default:"30s"`
		LLMTimeout time.Duration `envconfig:"FUNCTIONS_LLM_TIMEOUT" default:"58s"`
	} `envconfig:""`

	Interpret struct {
		Timeout   time.Duration `envconfig:"INTERPRET_TIMEOUT" default:"60s"`
		MockDelay time.Duration `envconfig:"INTERPRET_MOCK_DELAY" default:"3s"`
	} `envconfig:""`

	Session struct {
		Secret         string        `envconfig:"SESSION_SECRET"`
		TTL            time.Duration `envconfig:"SESSION_TTL" default:"24h"`
		IdleTTL        time.Duration `envconfig:"SESSION_IDLE_TTL" default:"2h"`
		InitDataMaxAge time.Duration `envconfig:"INIT_DATA_MAX_AGE" default:"24h"`
	} `envconfig:""`

	// PreviewSecret включает режим предпросмотра только при совпадении заголовка X-Preview-Token.
	PreviewSecret string `envconfig:"PREVIEW_SECRET"`

	Limits struct {
		APIRPS         float64       `envconfig:"API_RPS" default:"2"`
		APIBurst       int           `envconfig:"API_BURST" default:"5"`
		SaveDebounce   time.Duration `envconfig:"SAVE_DEBOUNCE" default:"500ms"`
		JournalListMax int           `envconfig:"JOURNAL_LIST_MAX" default:"50"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Queue struct {
		Backend  string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Payments string `envconfig:"PAYMENT_QUEUE_KEY" default:"payment_events"`
	} `envconfig:""`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Scheduler struct {
		SymbolSpec string `envconfig:"SYMBOL_CRON" default:"0 0 * * *"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env подхватывается, если он есть.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Location возвращает часовой пояс из TZ, по умолчанию UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
