package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	openai "oneiro-bot/internal/infra/openai"
)

// DefaultArtTitle название, если LLM не придумал своё.
const DefaultArtTitle = "Dream Vision"

type imageClient interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// Painter генерирует картину по сну и её название.
type Painter struct {
	images     imageClient
	chat       chatClient
	imageModel string
	chatModel  string
	timeout    time.Duration
	log        zerolog.Logger
}

var _ domain.ImageGenerator = (*Painter)(nil)

// NewPainter создаёт генератор изображений.
func NewPainter(images imageClient, chat chatClient, imageModel, chatModel string, logger zerolog.Logger) *Painter {
	if imageModel == "" {
		imageModel = "dall-e-3"
	}
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	return &Painter{
		images:     images,
		chat:       chat,
		imageModel: imageModel,
		chatModel:  chatModel,
		timeout:    90 * time.Second,
		log:        logger.With().Str("component", "painter").Logger(),
	}
}

// ImagePrompt собирает промпт для DALL·E.
func ImagePrompt(req domain.VisualizationRequest) string {
	names := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		if n := strings.TrimSpace(s.Name); n != "" {
			names = append(names, n)
		}
	}
	symbols := "dream symbols"
	if len(names) > 0 {
		symbols = strings.Join(names, ", ")
	}
	tone := strings.TrimSpace(req.EmotionalTone)
	if tone == "" {
		tone = "mysterious"
	}
	return fmt.Sprintf(`Create a surreal, ethereal digital painting depicting this dream: %s.
Key symbols: %s.
Emotional atmosphere: %s.
Style: Dreamlike, luminous, somewhere between reality and fantasy.
Colors: Deep indigos, soft silvers, and moonlit tones.
Composition: Cinematic, wide format.
Quality: Museum-worthy digital art, highly detailed.`, clipRunes(req.DreamText, 500), symbols, tone)
}

// Visualize рисует сон. Сбой генерации названия не считается ошибкой.
func (p *Painter) Visualize(ctx context.Context, req domain.VisualizationRequest) (domain.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.images.CreateImage(ctx, openai.ImageRequest{
		Model:   p.imageModel,
		Prompt:  ImagePrompt(req),
		Size:    "1024x1024",
		Quality: "standard",
		N:       1,
	})
	if err != nil {
		return domain.Visualization{}, fmt.Errorf("%w: генерация изображения: %v", domain.ErrCollaboratorFailure, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return domain.Visualization{}, fmt.Errorf("%w: генерация изображения: пустой ответ", domain.ErrCollaboratorFailure)
	}
	return domain.Visualization{ImageURL: resp.Data[0].URL, ArtTitle: p.title(ctx, req.DreamText)}, nil
}

func (p *Painter) title(ctx context.Context, dream string) string {
	if p.chat == nil {
		return DefaultArtTitle
	}
	resp, err := p.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.chatModel,
		MaxTokens:   20,
		Temperature: 0.8,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: "Generate a short, poetic title (3-5 words) for this dream artwork."},
			{Role: openai.RoleUser, Content: "Dream: " + clipRunes(dream, 200)},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		p.log.Debug().Err(err).Msg("painter: название не получено")
		return DefaultArtTitle
	}
	title := strings.TrimSpace(strings.ReplaceAll(resp.Choices[0].Message.Content, `"`, ""))
	if title == "" {
		return DefaultArtTitle
	}
	return title
}
