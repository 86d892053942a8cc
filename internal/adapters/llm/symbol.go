package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	openai "oneiro-bot/internal/infra/openai"
)

// SymbolOracle выдаёт символ дня: LLM, если доступен, иначе детерминированный пул.
type SymbolOracle struct {
	client  chatClient
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

var _ domain.SymbolSource = (*SymbolOracle)(nil)

// NewSymbolOracle создаёт источник символа дня. client может быть nil.
func NewSymbolOracle(client chatClient, model string, logger zerolog.Logger) *SymbolOracle {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &SymbolOracle{client: client, model: model, timeout: 15 * time.Second, log: logger.With().Str("component", "daily_symbol").Logger()}
}

// DailySymbol никогда не возвращает ошибку: сбой LLM даёт символ из пула.
func (o *SymbolOracle) DailySymbol(ctx context.Context, date string) (domain.DailySymbol, error) {
	fallback := domain.PoolSymbolFor(date)
	if o.client == nil {
		return fallback, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: 100,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: "Generate a dream symbol for today. Return JSON with emoji, name, and meaning (2 sentences)."},
			{Role: openai.RoleUser, Content: "Date: " + date},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil || len(resp.Choices) == 0 {
		o.log.Debug().Err(err).Str("date", date).Msg("daily symbol: LLM недоступен, берём из пула")
		return fallback, nil
	}
	var s domain.Symbol
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &s); err != nil || s.Name == "" || s.Meaning == "" {
		o.log.Debug().Str("date", date).Msg("daily symbol: неполный ответ LLM, берём из пула")
		return fallback, nil
	}
	if s.Emoji == "" {
		s.Emoji = fallback.Emoji
	}
	return domain.DailySymbol{Date: date, Emoji: s.Emoji, Name: s.Name, Meaning: s.Meaning, Enhanced: true}, nil
}
