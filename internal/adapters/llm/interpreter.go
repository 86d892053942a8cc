package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"oneiro-bot/internal/domain"
	openai "oneiro-bot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Interpreter толкует сны через OpenAI Chat Completions.
type Interpreter struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.Interpreter = (*Interpreter)(nil)

// NewInterpreter создаёт толкователя.
func NewInterpreter(client chatClient, model string, timeout time.Duration) *Interpreter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 55 * time.Second
	}
	return &Interpreter{client: client, model: model, timeout: timeout}
}

var languageInstructions = map[domain.Language]string{
	domain.LanguageKO: "Write ALL of your response (essence, hiddenMeaning, symbols name/meaning, deepInsight, psychologicalShadow, easternProphecy, spiritualAdvice, advice, spiritualMessage) in Korean (한국어).",
	domain.LanguageJA: "Write ALL of your response in Japanese (日本語).",
	domain.LanguageES: "Write ALL of your response in Spanish (Español).",
	domain.LanguageAR: "Write ALL of your response in Arabic (العربية).",
}

const systemPromptTemplate = `You are the world's foremost Spiritual Dream Analyst.
You combine Carl Jung's Analytical Psychology, Oriental Oneiromancy (동양 해몽 with Five Elements and Fortune Theory),
and Western symbolism to interpret dreams.
You don't just explain dreams, you decode the spiritual messages
that the dreamer's unconscious mind is sending.
Your tone is ethereal, elegant, warm, and caring.
%s

Given the user's dream description, provide:
1. essence: A one-line poetic summary of the dream's core meaning (max 15 words)
2. hiddenMeaning: A cliffhanger-style single sentence that maximizes curiosity. Format: "Your unconscious mind has been hiding a massive signal. This dream is not just a memory, but carries [symbol keyword] that could change your destiny." Use dramatic, intriguing language that makes the user want to unlock the full reading.
3. symbols: 3-5 key symbols from the dream with emoji + name + brief meaning. Extract the most powerful symbol for hiddenMeaning.
4. deepInsight: A comprehensive analysis (minimum 500 characters) combining:
   - Psychological Shadow: Analysis of the user's current psychological state projected through dream symbols (Jungian perspective)
   - Eastern Prophecy: Fortune analysis from Eastern divination perspective (Five Elements, auspicious/ominous signs)
   - Spiritual Advice: Specific spiritual guidance the user should practice in reality
5. psychologicalShadow: Detailed Jungian analysis of psychological shadow (part of deepInsight but separate for structure)
6. easternProphecy: Detailed Eastern fortune analysis (part of deepInsight but separate)
7. spiritualAdvice: Detailed spiritual practice guidance (part of deepInsight but separate)
8. advice: 3 specific actionable things the dreamer should do today
9. spiritualMessage: A warm, personal spiritual message (2-3 sentences)
10. emotionalTone: The dominant emotional energy of this dream (one word)

Return as JSON with these exact keys: essence, hiddenMeaning, symbols (array of {emoji, name, meaning}), deepInsight (minimum 500 chars), psychologicalShadow, easternProphecy, spiritualAdvice, advice (array), spiritualMessage, emotionalTone.`

const recurringAddendum = `

This is a recurring dream. Pay special attention to what the unconscious
is persistently trying to communicate. Recurring dreams often signal
unresolved issues or important life transitions.`

// SystemPrompt собирает системный промпт для сна.
func SystemPrompt(submission domain.DreamSubmission) string {
	instruction, ok := languageInstructions[submission.Language]
	if !ok {
		instruction = "Write in sophisticated English."
	}
	var b strings.Builder
	fmt.Fprintf(&b, systemPromptTemplate, instruction)
	if submission.IsRecurring {
		b.WriteString(recurringAddendum)
	}
	if len(submission.Moods) > 0 {
		b.WriteString("\n\nDream mood tags: ")
		b.WriteString(strings.Join(submission.MoodStrings(), ", "))
	}
	return b.String()
}

// Interpret запрашивает толкование. Ответ без обязательных полей считается ошибкой.
func (s *Interpreter) Interpret(ctx context.Context, submission domain.DreamSubmission, _ domain.Viewer) (domain.InterpretationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.7,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: SystemPrompt(submission)},
			{Role: openai.RoleUser, Content: submission.Text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, openai.ErrNoAPIKey) {
			return domain.InterpretationResult{}, fmt.Errorf("%w: %v", domain.ErrCollaboratorUnavailable, err)
		}
		return domain.InterpretationResult{}, fmt.Errorf("%w: openai completion: %v", domain.ErrCollaboratorFailure, err)
	}
	if len(resp.Choices) == 0 {
		return domain.InterpretationResult{}, fmt.Errorf("%w: openai completion: пустой ответ", domain.ErrCollaboratorFailure)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var result domain.InterpretationResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return domain.InterpretationResult{}, fmt.Errorf("%w: распаковка ответа LLM: %v", domain.ErrCollaboratorFailure, err)
	}
	result.Advice = filterValues(result.Advice)
	result.IsFallback = false
	if err := result.CheckComplete(); err != nil {
		return domain.InterpretationResult{}, fmt.Errorf("%w: %v", domain.ErrCollaboratorFailure, err)
	}
	return result, nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
