package interpret

import (
	"strings"

	"oneiro-bot/internal/domain"
)

// MockCatalog фиксированные толкования по языку для работы без сервиса интерпретации.
type MockCatalog struct {
	templates map[domain.Language]domain.InterpretationResult
}

// NewMockCatalog создаёт каталог со встроенными шаблонами en и ko.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{templates: map[domain.Language]domain.InterpretationResult{
		domain.LanguageEN: mockEN,
		domain.LanguageKO: mockKO,
	}}
}

// Lookup ищет шаблон по точному коду, затем по базовому языку, затем en.
// Результат всегда помечен как fallback.
func (c *MockCatalog) Lookup(code string) domain.InterpretationResult {
	raw := strings.ToLower(strings.TrimSpace(code))
	candidates := []domain.Language{domain.Language(raw)}
	if i := strings.IndexAny(raw, "-_"); i > 0 {
		candidates = append(candidates, domain.Language(raw[:i]))
	}
	candidates = append(candidates, domain.DefaultLanguage)
	for _, lang := range candidates {
		if tpl, ok := c.templates[lang]; ok {
			return clone(tpl)
		}
	}
	return clone(mockEN)
}

func clone(r domain.InterpretationResult) domain.InterpretationResult {
	r.Symbols = append([]domain.Symbol(nil), r.Symbols...)
	r.Advice = append([]string(nil), r.Advice...)
	r.IsFallback = true
	return r
}

var mockEN = domain.InterpretationResult{
	Essence:       "Your dream reveals hidden emotions seeking expression.",
	HiddenMeaning: "Your unconscious mind has been hiding a massive signal. This dream is not just a memory, but carries the transformative power of the ocean that could change your destiny.",
	Symbols: []domain.Symbol{
		{Emoji: "🌊", Name: "Ocean", Meaning: "Deep emotions and the unconscious"},
		{Emoji: "🦋", Name: "Butterfly", Meaning: "Transformation and change"},
		{Emoji: "🌙", Name: "Moon", Meaning: "Intuition and feminine energy"},
	},
	DeepInsight:         "Your dream is a window into your subconscious mind. The symbols you encountered represent aspects of your inner world that are seeking recognition. The ocean symbolizes the depth of your emotions, while the butterfly suggests you are in a period of transformation. The moon's presence indicates that your intuition is guiding you through this phase of change. Pay attention to the feelings these symbols evoke, as they hold keys to understanding your current life situation.",
	PsychologicalShadow: "From a Jungian perspective, the ocean in your dream represents the vast unconscious realm where repressed emotions and archetypal patterns reside. The depth suggests you are being called to explore aspects of yourself that have been submerged. The butterfly transformation indicates your shadow is ready to integrate, moving from one state of being to another. This is a powerful moment of individuation where your conscious and unconscious minds are seeking balance.",
	EasternProphecy:     "In Eastern divination, water (海) represents wisdom and emotional flow. The appearance of water in your dream during this period suggests favorable changes in your emotional and financial realms. The butterfly (蝴蝶) is an auspicious symbol indicating transformation and new beginnings. Combined with the moon (月), which represents yin energy and intuition, this dream suggests a period of 3-6 months where your inner wisdom will guide you toward significant life changes. The timing is propitious for making important decisions.",
	SpiritualAdvice:     "Your dream is a spiritual call to embrace your emotional depth. Practice daily meditation near water if possible, or visualize yourself floating in a calm ocean. The butterfly teaches you to trust the process of transformation, what feels like endings are actually beginnings. Keep a dream journal for the next 30 days to track patterns. The moon's energy suggests you should pay attention to your intuition, especially during the new and full moon phases. Create a small altar with symbols of water and transformation to honor this spiritual message.",
	Advice: []string{
		"Take time for self-reflection today",
		"Trust your intuition when making decisions",
		"Express your emotions through creative activities",
	},
	EmotionalTone:    "contemplative",
	SpiritualMessage: "Your soul is communicating through these symbols. Trust the messages you receive and allow yourself to grow through this understanding.",
}

var mockKO = domain.InterpretationResult{
	Essence:       "당신의 꿈은 표현을 갈구하는 숨겨진 감정을 드러냅니다.",
	HiddenMeaning: "당신의 무의식이 숨기고 있는 거대한 신호가 발견되었습니다. 이 꿈은 단순한 기억이 아니라 당신의 운명을 바꿀 바다의 변혁적 힘을 품고 있습니다.",
	Symbols: []domain.Symbol{
		{Emoji: "🌊", Name: "바다", Meaning: "깊은 감정과 무의식"},
		{Emoji: "🦋", Name: "나비", Meaning: "변화와 변형"},
		{Emoji: "🌙", Name: "달", Meaning: "직관과 여성적 에너지"},
	},
	DeepInsight:         "당신의 꿈은 무의식의 세계로 열리는 창입니다. 꿈속 상징들은 인정을 갈구하는 내면의 측면을 나타냅니다.",
	PsychologicalShadow: "융의 관점에서, 꿈속 바다는 억압된 감정과 원형이 머무는 무의식의 영역을 상징합니다.",
	EasternProphecy:     "동양 해몽에서 물(海)은 지혜와 감정의 흐름을 나타냅니다.",
	SpiritualAdvice:     "물가에서 명상하거나 고요한 바다를 상상해 보세요. 30일간 꿈 일기를 써 보세요.",
	Advice:              []string{"오늘 하루 자기 성찰 시간을 가지세요", "결정할 때 직관을 믿으세요", "창작 활동으로 감정을 표현해 보세요"},
	EmotionalTone:       "명상적",
	SpiritualMessage:    "영혼이 이 상징들을 통해 말하고 있습니다. 전해지는 메시지를 믿고 성장을 받아들이세요.",
}
